package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

const ruleColumns = `id, tenant_id, name, description, version, expression, bands, weight, enabled`

// SaveRuleConfig inserts a rule version or updates it in place when the
// (id, tenant, version) triple already exists.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, tenantID string, rule *domain.RuleConfig) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	bands, err := json.Marshal(rule.Bands)
	if err != nil {
		return fmt.Errorf("encode bands: %w", err)
	}

	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO rule_configs (`+ruleColumns+`, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			bands = excluded.bands,
			weight = excluded.weight,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at`),
		rule.ID, tenantID, rule.Name, rule.Description, rule.Version,
		rule.Expression, string(bands), rule.Weight, boolInt(rule.Enabled),
		now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert rule %s: %w", rule.ID, err)
	}
	return nil
}

// GetRuleConfig returns the highest enabled version of a rule.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*domain.RuleConfig, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx, r.rebind(`
		SELECT `+ruleColumns+` FROM rule_configs
		WHERE tenant_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1`),
		tenantID, ruleID,
	)
	cfg, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return cfg, err
}

// ListRuleConfigs returns a tenant's enabled rules ordered by name.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context, tenantID string) ([]*domain.RuleConfig, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT `+ruleColumns+` FROM rule_configs
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name`),
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var out []*domain.RuleConfig
	for rows.Next() {
		cfg, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(s rowScanner) (*domain.RuleConfig, error) {
	var (
		cfg     domain.RuleConfig
		bands   string
		enabled int
	)
	if err := s.Scan(
		&cfg.ID, &cfg.TenantID, &cfg.Name, &cfg.Description, &cfg.Version,
		&cfg.Expression, &bands, &cfg.Weight, &enabled,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(bands), &cfg.Bands); err != nil {
		return nil, fmt.Errorf("decode bands of rule %s: %w", cfg.ID, err)
	}
	cfg.Enabled = enabled == 1
	return &cfg, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
