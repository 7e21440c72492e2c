package store

import (
	"database/sql"
	"log"
	"runtime"

	"github.com/haatos/readycheck/internal/settings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// InitDatabase opens a handle for the configured dialect. For sqlite the
// read-only and read-write handles are separate pools, postgres gets one pool
// regardless of readonly.
func InitDatabase(s *settings.AppSettings, readonly bool) *sql.DB {
	if s.DBDialect == DialectPostgres {
		return initPostgres(s)
	}
	return initSQLite(s, readonly)
}

func initSQLite(s *settings.AppSettings, readonly bool) *sql.DB {
	db, err := sql.Open("sqlite", s.SQLiteDbString(readonly))
	if err != nil {
		log.Fatal("fatal error opening sqlite database:", err)
	}

	if readonly {
		db.SetMaxOpenConns(max(4, runtime.NumCPU()))
	} else {
		if _, err := db.Exec("PRAGMA temp_store=memory"); err != nil {
			log.Fatal(err)
		}
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			log.Fatal(err)
		}
		db.SetMaxOpenConns(1)
	}

	return db
}

func initPostgres(s *settings.AppSettings) *sql.DB {
	db, err := sql.Open("pgx", s.DatabaseURL)
	if err != nil {
		log.Fatal("fatal error opening postgres database:", err)
	}
	db.SetMaxOpenConns(max(4, runtime.NumCPU()*2))
	if err := db.Ping(); err != nil {
		log.Fatal("fatal error connecting to postgres:", err)
	}
	return db
}
