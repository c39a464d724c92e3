package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
)

// SavePayment records a validated payment for the payer's history. Missing
// ids and timestamps are filled in on p.
func (r *SQLRepository) SavePayment(ctx context.Context, tenantID string, p *domain.Payment) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if p == nil || p.PayerID == "" {
		return fmt.Errorf("%w: payerID is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.OccurredAt.IsZero() {
		p.OccurredAt = now
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.TenantID = tenantID

	_, err := r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO payments (id, tenant_id, payer_id, upi_id, reference, device_id, amount, occurred_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		p.ID, tenantID, p.PayerID, p.UPIID, p.Reference, p.DeviceID, p.Amount,
		p.OccurredAt.UTC(), p.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetPaymentsByPayer lists the payer's payments at or after since, newest
// first.
func (r *SQLRepository) GetPaymentsByPayer(ctx context.Context, tenantID string, payerID string, since time.Time) ([]*domain.Payment, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT id, tenant_id, payer_id, upi_id, reference, device_id, amount, occurred_at, created_at
		FROM payments
		WHERE tenant_id = ? AND payer_id = ? AND occurred_at >= ?
		ORDER BY occurred_at DESC`),
		tenantID, payerID, since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()

	var out []*domain.Payment
	for rows.Next() {
		p := new(domain.Payment)
		if err := rows.Scan(&p.ID, &p.TenantID, &p.PayerID, &p.UPIID, &p.Reference, &p.DeviceID, &p.Amount, &p.OccurredAt, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeletePaymentsBefore prunes history older than before for every tenant.
func (r *SQLRepository) DeletePaymentsBefore(ctx context.Context, before time.Time) (int64, error) {
	if before.IsZero() {
		return 0, fmt.Errorf("%w: cutoff is required", ErrInvalidInput)
	}
	res, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM payments WHERE occurred_at < ?`), before.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete payments: %w", err)
	}
	return res.RowsAffected()
}
