// Package velocity derives a payer's recent activity from recorded payments
// and scores it: how often the payer pays, how far an amount strays from
// their usual amounts, and whether the paying device has been seen before.
package velocity

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/numeric"
)

// Field names used in TransactionValidation.Fields.
const (
	FieldFrequency     = "velocity"
	FieldAmountPattern = "amount_pattern"
	FieldDevice        = "device"
)

// DefaultWindow bounds how far back amounts and devices are collected.
const DefaultWindow = 180 * 24 * time.Hour

// Frequency cutoffs.
const (
	hourlyLimit     = 5
	dailyLimit      = 20
	rapidGap        = 5 * time.Minute
	hourlyPenalty   = 30
	dailyPenalty    = 25
	rapidGapPenalty = 20
)

// Amount pattern cutoffs.
const (
	minPatternHistory = 5
	zScoreHigh        = 3
	zScoreModerate    = 2
)

// Activity summarises a payer's recorded payments.
type Activity struct {
	LastHour    int
	Last24Hours int

	// MeanGap is the mean time between consecutive payments in the last 24
	// hours; zero with fewer than two.
	MeanGap time.Duration

	Amounts []float64
	Devices []string
}

// Service reads payer activity from the repository. Counts change with
// every payment, so nothing is cached.
type Service struct {
	repo   domain.Repository
	window time.Duration
	now    func() time.Time
}

// NewService creates a new velocity service.
func NewService(repo domain.Repository) *Service {
	return &Service{
		repo:   repo,
		window: DefaultWindow,
		now:    time.Now,
	}
}

// Activity returns the payer's activity within the lookback window.
func (s *Service) Activity(ctx context.Context, tenantID, payerID string) (Activity, error) {
	if tenantID == "" || payerID == "" {
		return Activity{}, fmt.Errorf("tenantID and payerID are required")
	}
	if s.repo == nil {
		return Activity{}, fmt.Errorf("no data source available")
	}

	now := s.now()
	payments, err := s.repo.GetPaymentsByPayer(ctx, tenantID, payerID, now.Add(-s.window))
	if err != nil {
		return Activity{}, fmt.Errorf("failed to get payments: %w", err)
	}
	return summarise(payments, now), nil
}

func summarise(payments []*domain.Payment, now time.Time) Activity {
	var (
		a      Activity
		recent []time.Time
	)
	for _, p := range payments {
		a.Amounts = append(a.Amounts, p.Amount)
		if p.DeviceID != "" && !slices.Contains(a.Devices, p.DeviceID) {
			a.Devices = append(a.Devices, p.DeviceID)
		}
		age := now.Sub(p.OccurredAt)
		if age < 24*time.Hour {
			a.Last24Hours++
			recent = append(recent, p.OccurredAt)
		}
		if age < time.Hour {
			a.LastHour++
		}
	}

	if len(recent) >= 2 {
		slices.SortFunc(recent, func(x, y time.Time) int { return x.Compare(y) })
		a.MeanGap = recent[len(recent)-1].Sub(recent[0]) / time.Duration(len(recent)-1)
	}
	return a
}

// ScoreFrequency flags bursts of payments.
func ScoreFrequency(a Activity) *domain.FieldResult {
	r := &domain.FieldResult{Field: FieldFrequency, Valid: true}
	if a.Last24Hours == 0 && a.LastHour == 0 {
		r.Reason = "No recent transactions"
		return r
	}

	var reasons []string
	if a.LastHour > hourlyLimit {
		r.RiskScore += hourlyPenalty
		reasons = append(reasons, fmt.Sprintf("%d transactions in last hour", a.LastHour))
	}
	if a.Last24Hours > dailyLimit {
		r.RiskScore += dailyPenalty
		reasons = append(reasons, fmt.Sprintf("%d transactions in 24 hours", a.Last24Hours))
	}
	if a.Last24Hours >= 2 && a.MeanGap < rapidGap {
		r.RiskScore += rapidGapPenalty
		reasons = append(reasons, "Transactions too close together")
	}
	return finish(r, reasons, "Normal transaction frequency")
}

// ZScore reports how many standard deviations amount lies from the mean of
// history. ok is false when history is too short to form a pattern. A
// constant history yields an infinite score for any other amount.
func ZScore(amount float64, history []float64) (z float64, ok bool) {
	if len(history) < minPatternHistory {
		return 0, false
	}
	mean, std := numeric.MeanStdDev(history)
	switch {
	case std > 0:
		return math.Abs(amount-mean) / std, true
	case amount == mean:
		return 0, true
	default:
		return math.Inf(1), true
	}
}

// ScoreAmountPattern flags an amount far outside the payer's usual range.
func ScoreAmountPattern(amount float64, history []float64) *domain.FieldResult {
	r := &domain.FieldResult{Field: FieldAmountPattern, Valid: true}
	z, ok := ZScore(amount, history)
	if !ok {
		r.Reason = "Insufficient history for pattern analysis"
		return r
	}

	var reasons []string
	switch {
	case math.IsInf(z, 1):
		r.RiskScore = 40
		reasons = append(reasons, "Amount breaks an otherwise constant payment pattern")
	case z > zScoreHigh:
		r.RiskScore = 40
		reasons = append(reasons, fmt.Sprintf("Amount significantly different from user pattern (%.1fσ)", z))
	case z > zScoreModerate:
		r.RiskScore = 20
		reasons = append(reasons, fmt.Sprintf("Amount moderately different from pattern (%.1fσ)", z))
	}
	return finish(r, reasons, "Amount matches user pattern")
}

// ScoreDevice flags payments from a device the payer has not used before.
func ScoreDevice(deviceID string, known []string) *domain.FieldResult {
	r := &domain.FieldResult{Field: FieldDevice, Valid: true}
	switch {
	case len(known) == 0:
		r.RiskScore = 10
		r.Reason = "New device (first transaction)"
	case !slices.Contains(known, deviceID):
		r.RiskScore = 25
		r.Reason = "Unknown device"
	default:
		r.Reason = "Known device"
	}
	return r
}

func finish(r *domain.FieldResult, reasons []string, clean string) *domain.FieldResult {
	r.RiskScore = min(r.RiskScore, 100)
	r.Valid = r.RiskScore < 50
	if len(reasons) == 0 {
		r.Reason = clean
	} else {
		r.Reason = strings.Join(reasons, "; ")
	}
	return r
}
