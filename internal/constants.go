package internal

const (
	DotEnvPath     = "./.env"
	ConfigPath     = "config.json"
	APIKeyHeader   = "X-ReadyCheck-API-Key"
	MetricsPath    = "/metrics"
	ServiceName    = "readycheck"
	MaxRunsPerPage = 100
)
