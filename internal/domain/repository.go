// Package domain holds the types and ports shared by every Harrier
// package: verdicts, profiles, rules and the storage/bus/cache interfaces.
package domain

import (
	"context"
	"time"
)

// Repository is the durable store. Payment history feeds the amount and
// burst checks; rule configs feed the CEL rule engine. Every tenant-scoped
// call rejects an empty tenantID.
type Repository interface {
	SavePayment(ctx context.Context, tenantID string, p *Payment) error
	// GetPaymentsByPayer returns payments at or after since, newest first.
	GetPaymentsByPayer(ctx context.Context, tenantID string, payerID string, since time.Time) ([]*Payment, error)
	// DeletePaymentsBefore is the retention sweep and spans all tenants.
	DeletePaymentsBefore(ctx context.Context, before time.Time) (int64, error)

	SaveRuleConfig(ctx context.Context, tenantID string, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context, tenantID string) ([]*RuleConfig, error)

	Ping(ctx context.Context) error
	Close() error
}

// RepositoryConfig selects the driver. Zero pool values keep the driver
// defaults (one connection for SQLite, 25/5/30m for PostgreSQL).
type RepositoryConfig struct {
	Driver string

	SQLitePath string

	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
