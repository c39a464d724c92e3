package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// migration is one forward-only schema step. Statements run one at a time
// so neither driver has to accept multi-statement strings.
type migration struct {
	version    int
	name       string
	statements []string
}

// migrations must stay append-only: applied versions are recorded in
// schema_migrations and never re-run.
var migrations = []migration{
	{
		version: 1,
		name:    "payments",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS payments (
				id          TEXT PRIMARY KEY,
				tenant_id   TEXT NOT NULL,
				payer_id    TEXT NOT NULL,
				upi_id      TEXT NOT NULL DEFAULT '',
				reference   TEXT NOT NULL DEFAULT '',
				amount      REAL NOT NULL,
				occurred_at TIMESTAMP NOT NULL,
				created_at  TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_payments_payer ON payments(tenant_id, payer_id, occurred_at)`,
		},
	},
	{
		version: 2,
		name:    "rule_configs",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS rule_configs (
				id          TEXT NOT NULL,
				tenant_id   TEXT NOT NULL,
				name        TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				version     TEXT NOT NULL,
				expression  TEXT NOT NULL,
				bands       TEXT NOT NULL,
				weight      REAL NOT NULL DEFAULT 1.0,
				enabled     INTEGER NOT NULL DEFAULT 1,
				created_at  TIMESTAMP NOT NULL,
				updated_at  TIMESTAMP NOT NULL,
				PRIMARY KEY (id, tenant_id, version)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(tenant_id, enabled)`,
		},
	},
	{
		// Retention deletes by age across tenants.
		version:    3,
		name:       "payments_retention_index",
		statements: []string{`CREATE INDEX IF NOT EXISTS idx_payments_occurred ON payments(occurred_at)`},
	},
	{
		version:    4,
		name:       "payments_device",
		statements: []string{`ALTER TABLE payments ADD COLUMN device_id TEXT NOT NULL DEFAULT ''`},
	},
}

const schemaMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version    INTEGER PRIMARY KEY,
	name       TEXT NOT NULL,
	applied_at TIMESTAMP NOT NULL
)`

// migrate applies every migration newer than the recorded schema version,
// each inside its own transaction.
func (r *SQLRepository) migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schemaMigrationsTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if int64(m.version) <= current.Int64 {
			continue
		}
		if err := r.apply(ctx, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		slog.Info("schema migration applied", "driver", r.driver, "version", m.version, "name", m.name)
	}
	return nil
}

func (r *SQLRepository) apply(ctx context.Context, m migration) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range m.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		r.rebind(`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`),
		m.version, m.name, time.Now().UTC(),
	); err != nil {
		return err
	}
	return tx.Commit()
}
