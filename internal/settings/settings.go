package settings

import (
	"bufio"
	"fmt"
	"log"
	"net/url"
	"os"
	"regexp"
	"strings"
)

var Settings *AppSettings

func NewSettings() *AppSettings {
	settings := AppSettings{
		Domain:              getEnvOrDefault("READYCHECK_DOMAIN", "localhost"),
		Port:                getEnvOrDefault("READYCHECK_PORT", ":8080"),
		DBDialect:           getEnvOrDefault("READYCHECK_DB_DIALECT", "sqlite"),
		SQLiteDatabase:      getEnvOrDefault("READYCHECK_DB_PATH", "file:.///db.sqlite"),
		DatabaseURL:         getEnvOrDefault("READYCHECK_DATABASE_URL", ""),
		LogLevel:            getEnvOrDefault("READYCHECK_LOG_LEVEL", "info"),
		GitHubWebhookSecret: getEnvOrDefault("READYCHECK_GITHUB_WEBHOOK_SECRET", ""),
		GitHubToken:         getEnvOrDefault("READYCHECK_GITHUB_TOKEN", ""),
		RepositoriesDir:     getEnvOrDefault("READYCHECK_REPOSITORIES_DIR", "repositories"),
	}
	if !strings.HasPrefix(settings.Port, ":") {
		settings.Port = ":" + settings.Port
	}
	return &settings
}

func getEnvOrDefault(key, defaultValue string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	return value
}

type AppSettings struct {
	Domain              string
	Port                string
	DBDialect           string
	SQLiteDatabase      string
	DatabaseURL         string
	LogLevel            string
	GitHubWebhookSecret string
	GitHubToken         string
	RepositoriesDir     string
}

func (as *AppSettings) BaseURL() string {
	if as.Domain == "localhost" {
		return fmt.Sprintf("http://%s%s", as.Domain, as.Port)
	} else {
		return fmt.Sprintf("https://%s", as.Domain)
	}
}

func (as *AppSettings) SQLiteDbString(readonly bool) string {
	params := make(url.Values)
	params.Add("_journal_mode", "WAL")
	params.Add("_busy_timeout", "5000")
	params.Add("_synchronous", "NORMAL")
	params.Add("_cache_size", "-20000")
	params.Add("_foreign_keys", "ON")
	if readonly {
		params.Add("mode", "ro")
	} else {
		params.Add("_txlock", "IMMEDIATE")
		params.Add("mode", "rwc")
	}

	return as.SQLiteDatabase + "?" + params.Encode()
}

func ReadDotenv(path string) {
	re := regexp.MustCompile(`^[^0-9][A-Z0-9_]+=.+$`)
	f, err := os.Open(path)
	if err != nil {
		log.Fatal("err opening dotenv: ", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) > 0 && line[0] != '#' && re.Match(line) {
			name, value, _ := strings.Cut(string(line), "=")
			name = strings.TrimSpace(name)
			value = strings.TrimSpace(value)
			value = strings.Trim(value, `"`)
			os.Setenv(name, value)
		}
	}
}
