// Package repository persists payment history and operator rules in SQLite
// (Community) or PostgreSQL (Pro) through database/sql.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository for both drivers. Queries are
// written with ? placeholders and rebound for PostgreSQL.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New opens the configured database, applies pool overrides and brings the
// schema up to date.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	open, ok := openers[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	db, err := open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}
	applyPool(db, cfg)

	repo := &SQLRepository{db: db, driver: cfg.Driver}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := repo.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return repo, nil
}

var openers = map[string]func(domain.RepositoryConfig) (*sql.DB, error){
	"sqlite":   openSQLite,
	"postgres": openPostgres,
}

// applyPool lets explicit settings override the per-driver defaults.
func applyPool(db *sql.DB, cfg domain.RepositoryConfig) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
}

func requireTenant(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	return nil
}

func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind numbers ? placeholders as $1, $2, ... for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" || !strings.Contains(query, "?") {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, c := range query {
		if c != '?' {
			b.WriteRune(c)
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}
