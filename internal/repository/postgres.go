package repository

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	_ "github.com/lib/pq"
)

// Pro tier pool defaults, sized for concurrent history reads alongside
// payment writes.
const (
	defaultPostgresMaxOpen     = 25
	defaultPostgresMaxIdle     = 5
	defaultPostgresMaxLifetime = 30 * time.Minute
)

// openPostgres opens the Pro tier database through lib/pq.
func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", postgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	db.SetMaxOpenConns(defaultPostgresMaxOpen)
	db.SetMaxIdleConns(defaultPostgresMaxIdle)
	db.SetConnMaxLifetime(defaultPostgresMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	return db, nil
}

// postgresDSN builds a postgres:// URL so credentials with spaces or quotes
// survive intact.
func postgresDSN(cfg domain.RepositoryConfig) string {
	host := cfg.PostgresHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}
	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = "harrier"
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
		Path:   "/" + dbname,
	}
	if cfg.PostgresUser != "" {
		u.User = url.UserPassword(cfg.PostgresUser, cfg.PostgresPassword)
	}

	q := url.Values{}
	q.Set("sslmode", getSSLMode(cfg.PostgresSSLMode))
	q.Set("application_name", "harrier")
	q.Set("connect_timeout", "10")
	u.RawQuery = q.Encode()
	return u.String()
}

func getSSLMode(mode string) string {
	if mode == "" {
		return "disable"
	}
	return mode
}
