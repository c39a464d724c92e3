// Package history provides payer amount history for the amount validator.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

const (
	// DefaultWindow is how far back payments count towards the average.
	DefaultWindow = 180 * 24 * time.Hour

	statsTTL = time.Minute
)

// Stats summarises a payer's recorded amounts.
type Stats struct {
	Count   int     `json:"count"`
	Average float64 `json:"average"`
}

// Service reads and records payer amount history.
type Service struct {
	repo   domain.Repository
	cache  domain.Cache
	window time.Duration
	now    func() time.Time
}

// NewService creates a new history service. cache may be nil.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{
		repo:   repo,
		cache:  cache,
		window: DefaultWindow,
		now:    time.Now,
	}
}

// AverageAmount returns the number and mean of a payer's payments within the
// lookback window.
func (s *Service) AverageAmount(ctx context.Context, tenantID, payerID string) (Stats, error) {
	if tenantID == "" || payerID == "" {
		return Stats{}, fmt.Errorf("tenantID and payerID are required")
	}
	if s.repo == nil {
		return Stats{}, fmt.Errorf("no data source available")
	}

	key := cacheKey(payerID)
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, tenantID, key); err == nil && raw != nil {
			var st Stats
			if json.Unmarshal(raw, &st) == nil {
				return st, nil
			}
		}
	}

	payments, err := s.repo.GetPaymentsByPayer(ctx, tenantID, payerID, s.now().Add(-s.window))
	if err != nil {
		return Stats{}, fmt.Errorf("failed to get payments: %w", err)
	}

	var st Stats
	var sum float64
	for _, p := range payments {
		sum += p.Amount
	}
	if len(payments) > 0 {
		st = Stats{Count: len(payments), Average: sum / float64(len(payments))}
	}

	if s.cache != nil {
		if raw, err := json.Marshal(st); err == nil {
			if err := s.cache.Set(ctx, tenantID, key, raw, statsTTL); err != nil {
				slog.Debug("history stats not cached", "error", err)
			}
		}
	}
	return st, nil
}

// Record stores a payment and drops the payer's cached stats.
func (s *Service) Record(ctx context.Context, tenantID string, p *domain.Payment) error {
	if s.repo == nil {
		return fmt.Errorf("no data source available")
	}
	if err := s.repo.SavePayment(ctx, tenantID, p); err != nil {
		return fmt.Errorf("failed to save payment: %w", err)
	}
	if s.cache != nil {
		_ = s.cache.Delete(ctx, tenantID, cacheKey(p.PayerID))
	}
	return nil
}

// Prune deletes payments that fell out of the lookback window. Cached stats
// expire on their own within statsTTL.
func (s *Service) Prune(ctx context.Context) (int64, error) {
	if s.repo == nil {
		return 0, fmt.Errorf("no data source available")
	}
	n, err := s.repo.DeletePaymentsBefore(ctx, s.now().Add(-s.window))
	if err != nil {
		return 0, fmt.Errorf("failed to prune payments: %w", err)
	}
	return n, nil
}

// RunRetention prunes expired payments every interval until ctx is done.
func (s *Service) RunRetention(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Prune(ctx)
			if err != nil {
				slog.Warn("payment retention failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("expired payments pruned", "count", n, "window", s.window)
			}
		}
	}
}

func cacheKey(payerID string) string {
	return "history:" + payerID
}
