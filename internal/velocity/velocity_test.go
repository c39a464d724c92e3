package velocity

import (
	"context"
	"math"
	"os"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/repository"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "harrier-velocity-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestServiceActivity(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"
	now := time.Now().UTC().Truncate(time.Second)

	svc := NewService(repo)
	svc.now = func() time.Time { return now }

	t.Run("NoHistory", func(t *testing.T) {
		a, err := svc.Activity(ctx, tenantID, "payer-quiet")
		if err != nil {
			t.Fatalf("Activity failed: %v", err)
		}
		if a.LastHour != 0 || a.Last24Hours != 0 || a.MeanGap != 0 || len(a.Amounts) != 0 || len(a.Devices) != 0 {
			t.Errorf("expected empty activity, got %+v", a)
		}
	})

	t.Run("Summarises", func(t *testing.T) {
		payments := []*domain.Payment{
			{PayerID: "payer-001", UPIID: "shop@okaxis", Amount: 120, DeviceID: "phone-1", OccurredAt: now.Add(-10 * time.Minute)},
			{PayerID: "payer-001", UPIID: "shop@okaxis", Amount: 80, DeviceID: "phone-1", OccurredAt: now.Add(-20 * time.Minute)},
			{PayerID: "payer-001", UPIID: "shop@okaxis", Amount: 300, DeviceID: "tablet-2", OccurredAt: now.Add(-2 * time.Hour)},
			{PayerID: "payer-001", UPIID: "shop@okaxis", Amount: 50, OccurredAt: now.Add(-30 * 24 * time.Hour)},
			{PayerID: "payer-other", UPIID: "shop@okaxis", Amount: 999, DeviceID: "phone-9", OccurredAt: now.Add(-5 * time.Minute)},
		}
		for _, p := range payments {
			if err := repo.SavePayment(ctx, tenantID, p); err != nil {
				t.Fatalf("SavePayment failed: %v", err)
			}
		}

		a, err := svc.Activity(ctx, tenantID, "payer-001")
		if err != nil {
			t.Fatalf("Activity failed: %v", err)
		}
		if a.LastHour != 2 {
			t.Errorf("expected 2 payments in the last hour, got %d", a.LastHour)
		}
		if a.Last24Hours != 3 {
			t.Errorf("expected 3 payments in 24 hours, got %d", a.Last24Hours)
		}
		// 110 minutes between the oldest and newest recent payment, two gaps.
		if d := a.MeanGap - 55*time.Minute; d < -time.Second || d > time.Second {
			t.Errorf("expected mean gap near 55m, got %s", a.MeanGap)
		}
		if len(a.Amounts) != 4 {
			t.Errorf("expected 4 amounts in window, got %v", a.Amounts)
		}
		if slices.Contains(a.Amounts, 999) {
			t.Error("activity leaked another payer's amount")
		}
		devices := slices.Clone(a.Devices)
		slices.Sort(devices)
		if !slices.Equal(devices, []string{"phone-1", "tablet-2"}) {
			t.Errorf("expected distinct non-empty devices, got %v", a.Devices)
		}
	})

	t.Run("OtherTenantIsolated", func(t *testing.T) {
		a, err := svc.Activity(ctx, "tenant-002", "payer-001")
		if err != nil {
			t.Fatalf("Activity failed: %v", err)
		}
		if a.Last24Hours != 0 || len(a.Amounts) != 0 {
			t.Errorf("expected no activity for other tenant, got %+v", a)
		}
	})

	t.Run("RequiresIDs", func(t *testing.T) {
		if _, err := svc.Activity(ctx, "", "payer-001"); err == nil {
			t.Error("expected error for empty tenantID")
		}
		if _, err := svc.Activity(ctx, tenantID, ""); err == nil {
			t.Error("expected error for empty payerID")
		}
	})

	t.Run("NoRepository", func(t *testing.T) {
		if _, err := (&Service{now: time.Now}).Activity(ctx, tenantID, "payer-001"); err == nil {
			t.Error("expected error without a repository")
		}
	})
}

func TestScoreFrequency(t *testing.T) {
	tests := []struct {
		name      string
		activity  Activity
		wantScore float64
		wantValid bool
		reason    string
	}{
		{"Quiet", Activity{}, 0, true, "No recent transactions"},
		{"Normal", Activity{LastHour: 1, Last24Hours: 3, MeanGap: 2 * time.Hour}, 0, true, "Normal transaction frequency"},
		{"HourlyBurst", Activity{LastHour: 6, Last24Hours: 6, MeanGap: 8 * time.Minute}, 30, true, "6 transactions in last hour"},
		{"DailyBurst", Activity{LastHour: 1, Last24Hours: 21, MeanGap: time.Hour}, 25, true, "21 transactions in 24 hours"},
		{"RapidGap", Activity{LastHour: 2, Last24Hours: 2, MeanGap: time.Minute}, 20, true, "too close together"},
		{"AllSignals", Activity{LastHour: 8, Last24Hours: 25, MeanGap: 30 * time.Second}, 75, false, "8 transactions in last hour"},
		{"SinglePaymentHasNoGap", Activity{LastHour: 1, Last24Hours: 1}, 0, true, "Normal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ScoreFrequency(tt.activity)
			if r.Field != FieldFrequency {
				t.Errorf("expected field %q, got %q", FieldFrequency, r.Field)
			}
			if r.RiskScore != tt.wantScore {
				t.Errorf("expected score %.0f, got %.0f", tt.wantScore, r.RiskScore)
			}
			if r.Valid != tt.wantValid {
				t.Errorf("expected valid=%v, got %v", tt.wantValid, r.Valid)
			}
			if !strings.Contains(r.Reason, tt.reason) {
				t.Errorf("expected reason containing %q, got %q", tt.reason, r.Reason)
			}
		})
	}
}

func TestZScore(t *testing.T) {
	history := []float64{10, 10, 10, 10, 20, 20, 20, 20}

	t.Run("ShortHistory", func(t *testing.T) {
		if _, ok := ZScore(100, []float64{1, 2, 3, 4}); ok {
			t.Error("expected no score with four points")
		}
	})

	t.Run("Spread", func(t *testing.T) {
		z, ok := ZScore(30, history)
		if !ok {
			t.Fatal("expected a score")
		}
		if math.Abs(z-3) > 1e-9 {
			t.Errorf("expected z=3, got %f", z)
		}
	})

	t.Run("ConstantHistory", func(t *testing.T) {
		flat := []float64{50, 50, 50, 50, 50}
		if z, _ := ZScore(50, flat); z != 0 {
			t.Errorf("expected 0 for a matching amount, got %f", z)
		}
		if z, _ := ZScore(51, flat); !math.IsInf(z, 1) {
			t.Errorf("expected +Inf for a differing amount, got %f", z)
		}
	})
}

func TestScoreAmountPattern(t *testing.T) {
	// Mean 15, population standard deviation 5.
	history := []float64{10, 10, 10, 10, 20, 20, 20, 20}

	tests := []struct {
		name      string
		amount    float64
		history   []float64
		wantScore float64
		reason    string
	}{
		{"InsufficientHistory", 5000, history[:4], 0, "Insufficient history"},
		{"WithinPattern", 20, history, 0, "Amount matches user pattern"},
		{"Moderate", 26, history, 20, "moderately different"},
		{"Significant", 31, history, 40, "significantly different"},
		{"BreaksConstantPattern", 51, []float64{50, 50, 50, 50, 50}, 40, "constant payment pattern"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ScoreAmountPattern(tt.amount, tt.history)
			if r.Field != FieldAmountPattern {
				t.Errorf("expected field %q, got %q", FieldAmountPattern, r.Field)
			}
			if r.RiskScore != tt.wantScore {
				t.Errorf("expected score %.0f, got %.0f", tt.wantScore, r.RiskScore)
			}
			if !r.Valid {
				t.Error("amount pattern alone should stay below the invalid cutoff")
			}
			if !strings.Contains(r.Reason, tt.reason) {
				t.Errorf("expected reason containing %q, got %q", tt.reason, r.Reason)
			}
		})
	}
}

func TestScoreDevice(t *testing.T) {
	tests := []struct {
		name      string
		device    string
		known     []string
		wantScore float64
		reason    string
	}{
		{"FirstTransaction", "phone-1", nil, 10, "New device (first transaction)"},
		{"Known", "phone-1", []string{"tablet-2", "phone-1"}, 0, "Known device"},
		{"Unknown", "laptop-3", []string{"phone-1"}, 25, "Unknown device"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ScoreDevice(tt.device, tt.known)
			if r.Field != FieldDevice {
				t.Errorf("expected field %q, got %q", FieldDevice, r.Field)
			}
			if r.RiskScore != tt.wantScore {
				t.Errorf("expected score %.0f, got %.0f", tt.wantScore, r.RiskScore)
			}
			if !r.Valid {
				t.Error("device result should be valid")
			}
			if r.Reason != tt.reason {
				t.Errorf("expected reason %q, got %q", tt.reason, r.Reason)
			}
		})
	}
}
