package transaction

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/history"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/velocity"
)

var fixedNow = time.Date(2026, 3, 14, 15, 30, 0, 0, time.UTC)

func newTestValidator() *Validator {
	return NewValidator(Config{Now: func() time.Time { return fixedNow }})
}

func hasSubstring(list []string, sub string) bool {
	for _, s := range list {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func TestValidateUPI(t *testing.T) {
	tests := []struct {
		id         string
		wantValid  bool
		minRisk    float64
		maxRisk    float64
		definitive bool
	}{
		{"", false, 100, 100, false},
		{"test@paytm", false, 100, 100, true},
		{"  FAKE@UPI ", false, 100, 100, true},
		{"no-at-sign", false, 90, 90, true},
		{"ab@paytm", false, 90, 90, true},
		{"test123@paytm", false, 70, 70, true},
		{"ravi.kumar@okaxis", true, 0, 0, false},
		{"ravi.kumar@unknownbank", true, 10, 10, false},
		{"9876543210@ybl", false, 90, 90, false},
		{"7788@ybl", false, 100, 100, false},
		{"ravi1@ybl", true, 5, 5, false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			r := ValidateUPI(tt.id)
			if r.Valid != tt.wantValid {
				t.Errorf("valid = %v, want %v (%s)", r.Valid, tt.wantValid, r.Reason)
			}
			if r.RiskScore < tt.minRisk || r.RiskScore > tt.maxRisk {
				t.Errorf("risk = %v, want [%v, %v]", r.RiskScore, tt.minRisk, tt.maxRisk)
			}
			if r.Definitive != tt.definitive {
				t.Errorf("definitive = %v, want %v", r.Definitive, tt.definitive)
			}
		})
	}
}

func TestValidateUPIKeyword(t *testing.T) {
	r := ValidateUPI("test123@paytm")
	if r.Reason != "Fake UPI ID detected: contains 'test'" {
		t.Errorf("unexpected reason %q", r.Reason)
	}
}

func TestValidateReference(t *testing.T) {
	tests := []struct {
		ref       string
		wantValid bool
		risk      float64
		reason    string
	}{
		{"", false, 100, "empty"},
		{"412598367021", true, 0, "Valid format"},
		{"111111111111", false, 80, "repeated digits"},
		{"301234567899", false, 80, "sequential pattern"},
		{"987654123412", false, 80, "sequential pattern"},
		{"437437437437", false, 70, "alternating pattern"},
		{"UTR4125983670", true, 40, "Valid format"},
		{"41234", false, 50, "too short"},
		{"41259836702597340815", true, 30, "Valid format"},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			r := ValidateReference(tt.ref)
			if r.Valid != tt.wantValid || r.RiskScore != tt.risk {
				t.Errorf("got valid=%v risk=%v, want valid=%v risk=%v (%s)", r.Valid, r.RiskScore, tt.wantValid, tt.risk, r.Reason)
			}
			if !strings.Contains(r.Reason, tt.reason) {
				t.Errorf("reason %q does not mention %q", r.Reason, tt.reason)
			}
		})
	}
}

func TestLongestRun(t *testing.T) {
	tests := map[string]int{
		"":           0,
		"7":          1,
		"1234":       4,
		"9876501":    5,
		"1212":       2,
		"0123456789": 10,
	}
	for in, want := range tests {
		if got := longestRun(in); got != want {
			t.Errorf("longestRun(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestParseAmount(t *testing.T) {
	tests := map[string]string{
		"50000":        "50000",
		"₹50,000.00":   "50000",
		"Rs. 1,200":    "1200",
		"INR 99.5":     "99.5",
		" rs 7,77,777": "777777",
	}
	for in, want := range tests {
		got, err := ParseAmount(in)
		if err != nil {
			t.Errorf("ParseAmount(%q): %v", in, err)
			continue
		}
		if got.String() != want {
			t.Errorf("ParseAmount(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := ParseAmount("fifty"); err == nil {
		t.Error("expected error for words")
	}
}

func TestValidateAmount(t *testing.T) {
	tests := []struct {
		raw       string
		hist      history.Stats
		wantValid bool
		risk      float64
	}{
		{"abc", history.Stats{}, false, 25},
		{"0", history.Stats{}, false, 100},
		{"-5", history.Stats{}, false, 100},
		{"50037", history.Stats{}, true, 20},
		{"50000", history.Stats{}, true, 35},
		{"60000", history.Stats{}, true, 35},
		{"200000", history.Stats{}, true, 55},
		{"99999", history.Stats{}, true, 50},
		{"100000", history.Stats{}, true, 55},
		{"5000", history.Stats{Count: 4, Average: 500}, true, 45},
		{"5000", history.Stats{Count: 3, Average: 500}, true, 15},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			r := ValidateAmount(tt.raw, tt.hist)
			if r.Valid != tt.wantValid || r.RiskScore != tt.risk {
				t.Errorf("got valid=%v risk=%v, want valid=%v risk=%v", r.Valid, r.RiskScore, tt.wantValid, tt.risk)
			}
		})
	}

	r := ValidateAmount("50000", history.Stats{})
	if !hasSubstring(r.Warnings, "Suspiciously round amount") {
		t.Errorf("expected round amount warning, got %v", r.Warnings)
	}
}

func TestValidateDate(t *testing.T) {
	tests := []struct {
		raw       string
		wantValid bool
		risk      float64
	}{
		{"not a date", false, 50},
		{"14/03/2026", true, 0},
		{"14-03-2026 10:15", true, 0},
		{"2026-03-14 15:29:30", true, 20},
		{"15/03/2026", false, 100},
		{"2026-03-14T15:30:20Z", false, 100},
		{"01/01/2024", true, 30},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			r := ValidateDate(tt.raw, fixedNow)
			if r.Valid != tt.wantValid || r.RiskScore != tt.risk {
				t.Errorf("got valid=%v risk=%v, want valid=%v risk=%v (%v)", r.Valid, r.RiskScore, tt.wantValid, tt.risk, r.Warnings)
			}
		})
	}
}

func TestValidateFakeUPI(t *testing.T) {
	v := newTestValidator()
	out, err := v.Validate(context.Background(), "t1", &domain.TransactionRecord{UPIID: "test123@paytm"})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if out.Fields[domain.FieldUPIID].RiskScore < 70 {
		t.Errorf("expected UPI risk >= 70, got %v", out.Fields[domain.FieldUPIID].RiskScore)
	}
	if !hasSubstring(out.FraudIndicators, "Fake UPI ID detected") {
		t.Errorf("expected fake keyword indicator, got %v", out.FraudIndicators)
	}
	if out.Verdict != domain.TxFraudDetected || !out.FraudDetected {
		t.Errorf("expected FRAUD_DETECTED, got %s", out.Verdict)
	}
	if out.Confidence != 0.95 {
		t.Errorf("expected confidence 0.95, got %v", out.Confidence)
	}
}

func TestValidateRepeatedReference(t *testing.T) {
	v := newTestValidator()
	ctx := context.Background()

	alone, err := v.Validate(ctx, "t1", &domain.TransactionRecord{Reference: "111111111111"})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	ref := alone.Fields[domain.FieldReference]
	if ref.RiskScore < 80 || !strings.Contains(ref.Reason, "repeated digits") {
		t.Errorf("unexpected reference result %+v", ref)
	}
	if !hasSubstring(alone.FraudIndicators, "repeated digits") {
		t.Errorf("expected repeated digits indicator, got %v", alone.FraudIndicators)
	}

	combined, err := v.Validate(ctx, "t1", &domain.TransactionRecord{
		Reference: "111111111111",
		Amount:    "50000",
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if combined.Verdict != domain.TxFraudDetected {
		t.Errorf("expected FRAUD_DETECTED with a weak amount signal, got %s (%.2f)", combined.Verdict, combined.OverallRiskScore)
	}
}

func TestValidateRoundAmount(t *testing.T) {
	v := newTestValidator()
	ctx := context.Background()

	round, _ := v.Validate(ctx, "t1", &domain.TransactionRecord{Amount: "50000"})
	odd, _ := v.Validate(ctx, "t1", &domain.TransactionRecord{Amount: "50037"})

	if !hasSubstring(round.Fields[domain.FieldAmount].Warnings, "Suspiciously round amount") {
		t.Error("expected round amount warning")
	}
	if round.OverallRiskScore <= odd.OverallRiskScore {
		t.Errorf("round amount %.2f should score above %.2f", round.OverallRiskScore, odd.OverallRiskScore)
	}
	if odd.Verdict != domain.TxLegitimate {
		t.Errorf("expected LEGITIMATE for 50037, got %s", odd.Verdict)
	}
}

func TestValidateFutureDate(t *testing.T) {
	v := newTestValidator()
	tomorrow := fixedNow.AddDate(0, 0, 1).Format("02/01/2006")

	out, err := v.Validate(context.Background(), "t1", &domain.TransactionRecord{Date: tomorrow})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	d := out.Fields[domain.FieldDate]
	if d.Valid || d.RiskScore != 100 {
		t.Errorf("expected invalid date with risk 100, got %+v", d)
	}
	if out.Verdict == domain.TxLegitimate {
		t.Error("future date must not be LEGITIMATE")
	}
	if !out.OverallValid {
		t.Error("an invalid date alone must not clear OverallValid")
	}
	if !hasSubstring(out.Warnings, "Date issue") {
		t.Errorf("expected date warning, got %v", out.Warnings)
	}
}

func TestValidateEmpty(t *testing.T) {
	v := newTestValidator()
	_, err := v.Validate(context.Background(), "t1", &domain.TransactionRecord{})
	if !errors.Is(err, domain.ErrInput) {
		t.Errorf("expected input error, got %v", err)
	}
}

type stubHistory struct {
	stats history.Stats
	err   error
}

func (s stubHistory) AverageAmount(context.Context, string, string) (history.Stats, error) {
	return s.stats, s.err
}

func TestValidateHistory(t *testing.T) {
	rec := &domain.TransactionRecord{Amount: "4000", PayerID: "payer-1"}
	ctx := context.Background()

	v := NewValidator(Config{
		History: stubHistory{stats: history.Stats{Count: 10, Average: 300}},
		Now:     func() time.Time { return fixedNow },
	})
	out, _ := v.Validate(ctx, "t1", rec)
	if out.Fields[domain.FieldAmount].RiskScore != 45 {
		t.Errorf("expected deviation penalty, got %v", out.Fields[domain.FieldAmount].RiskScore)
	}

	v = NewValidator(Config{
		History: stubHistory{err: errors.New("db down")},
		Now:     func() time.Time { return fixedNow },
	})
	out, _ = v.Validate(ctx, "t1", rec)
	if out.Fields[domain.FieldAmount].RiskScore != 15 {
		t.Errorf("history failure must skip the deviation check, got %v", out.Fields[domain.FieldAmount].RiskScore)
	}

	inline := &domain.TransactionRecord{Amount: "4000", AmountHistory: []float64{100, 200, 300, 200}}
	out, _ = v.Validate(ctx, "t1", inline)
	if out.Fields[domain.FieldAmount].RiskScore != 45 {
		t.Errorf("expected deviation penalty from inline history, got %v", out.Fields[domain.FieldAmount].RiskScore)
	}
}

type stubActivity struct {
	act velocity.Activity
	err error
}

func (s stubActivity) Activity(context.Context, string, string) (velocity.Activity, error) {
	return s.act, s.err
}

type captureRules struct {
	facts rules.Facts
}

func (c *captureRules) Evaluate(_ context.Context, _ string, f rules.Facts) ([]domain.RuleResult, error) {
	c.facts = f
	return nil, nil
}

func TestValidateActivity(t *testing.T) {
	ctx := context.Background()
	busy := velocity.Activity{
		LastHour:    7,
		Last24Hours: 8,
		MeanGap:     2 * time.Minute,
		Amounts:     []float64{100, 110, 90, 105, 95},
		Devices:     []string{"phone-1"},
	}

	t.Run("BurstFromNewDevice", func(t *testing.T) {
		captured := &captureRules{}
		v := NewValidator(Config{
			Activity: stubActivity{act: busy},
			Rules:    captured,
			Now:      func() time.Time { return fixedNow },
		})
		out, err := v.Validate(ctx, "t1", &domain.TransactionRecord{Amount: "450", PayerID: "payer-1", DeviceID: "phone-2"})
		if err != nil {
			t.Fatalf("Validate failed: %v", err)
		}

		want := map[string]float64{
			velocity.FieldFrequency:     50,
			velocity.FieldDevice:        25,
			velocity.FieldAmountPattern: 40,
		}
		for field, risk := range want {
			r, ok := out.Fields[field]
			if !ok || r.RiskScore != risk {
				t.Errorf("%s: expected risk %v, got %+v", field, risk, r)
			}
		}
		// 0.25*50 + 0.20*25 + 0.25*40
		if out.OverallRiskScore != 27.5 || out.Verdict != domain.TxReviewRequired {
			t.Errorf("expected 27.5/%s, got %v/%s", domain.TxReviewRequired, out.OverallRiskScore, out.Verdict)
		}
		if !out.OverallValid {
			t.Error("activity results must not clear OverallValid")
		}
		if !hasSubstring(out.FraudIndicators, "7 transactions in last hour") || !hasSubstring(out.FraudIndicators, "Unknown device") {
			t.Errorf("missing activity indicators in %v", out.FraudIndicators)
		}

		f := captured.facts
		if f.TxLastHour != 7 || f.TxLast24h != 8 || !f.NewDevice || f.AmountZScore < 40 {
			t.Errorf("unexpected activity facts %+v", f)
		}
	})

	t.Run("KnownDeviceQuietPayer", func(t *testing.T) {
		quiet := velocity.Activity{Amounts: []float64{400, 420, 460, 480, 440}, Devices: []string{"phone-1"}}
		v := NewValidator(Config{Activity: stubActivity{act: quiet}, Now: func() time.Time { return fixedNow }})
		out, _ := v.Validate(ctx, "t1", &domain.TransactionRecord{Amount: "450", PayerID: "payer-1", DeviceID: "phone-1"})
		if out.OverallRiskScore != 0 || out.Verdict != domain.TxLegitimate {
			t.Errorf("expected a clean verdict, got %v/%s", out.OverallRiskScore, out.Verdict)
		}
		if out.Fields[velocity.FieldDevice].Reason != "Known device" {
			t.Errorf("unexpected device result %+v", out.Fields[velocity.FieldDevice])
		}
	})

	t.Run("SourceFailure", func(t *testing.T) {
		v := NewValidator(Config{Activity: stubActivity{err: errors.New("db down")}, Now: func() time.Time { return fixedNow }})
		out, err := v.Validate(ctx, "t1", &domain.TransactionRecord{Amount: "450", PayerID: "payer-1", DeviceID: "phone-2"})
		if err != nil {
			t.Fatalf("activity failure must not fail validation: %v", err)
		}
		for _, field := range []string{velocity.FieldFrequency, velocity.FieldDevice, velocity.FieldAmountPattern} {
			if _, ok := out.Fields[field]; ok {
				t.Errorf("unexpected %s result without activity", field)
			}
		}
	})

	t.Run("DoesNotConfirmDefinitiveReference", func(t *testing.T) {
		v := NewValidator(Config{Activity: stubActivity{}, Now: func() time.Time { return fixedNow }})
		out, _ := v.Validate(ctx, "t1", &domain.TransactionRecord{Reference: "111111111111", PayerID: "payer-1", DeviceID: "phone-1"})
		if out.Fields[velocity.FieldDevice].RiskScore != 10 {
			t.Fatalf("expected first-device risk, got %+v", out.Fields[velocity.FieldDevice])
		}
		if out.FraudDetected {
			t.Error("a device signal alone must not confirm a definitive reference")
		}
	})
}

func TestValidateWithRules(t *testing.T) {
	engine, err := rules.NewEngine(2)
	if err != nil {
		t.Fatal(err)
	}
	defer engine.Close()

	one := 1.0
	zero := 0.0
	engine.LoadRule(&domain.RuleConfig{
		ID:         "no-merchant",
		Expression: `merchant == "" && amount >= 1000.0`,
		Weight:     0.4,
		Enabled:    true,
		Bands: []domain.RuleBand{
			{LowerLimit: &zero, UpperLimit: &one, SubRuleRef: domain.RuleOutcomePass},
			{LowerLimit: &one, SubRuleRef: domain.RuleOutcomeFail, Reason: "Payment without merchant"},
		},
	})

	v := NewValidator(Config{Rules: engine, Now: func() time.Time { return fixedNow }})
	out, err := v.Validate(context.Background(), "t1", &domain.TransactionRecord{Amount: "1250"})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if out.OverallRiskScore != 40 {
		t.Errorf("expected rule risk 40, got %v", out.OverallRiskScore)
	}
	if out.Verdict != domain.TxSuspicious {
		t.Errorf("expected SUSPICIOUS, got %s", out.Verdict)
	}
	if !hasSubstring(out.FraudIndicators, "Payment without merchant") {
		t.Errorf("expected rule reason, got %v", out.FraudIndicators)
	}
	if len(out.RuleResults) != 1 {
		t.Errorf("expected 1 rule result, got %d", len(out.RuleResults))
	}
}

func TestTxConfidence(t *testing.T) {
	tests := []struct {
		overall float64
		fraud   bool
		want    float64
	}{
		{0, false, 1},
		{10, false, 0.9},
		{15, false, 0.55},
		{30, false, 0.72},
		{20, true, 0.95},
	}
	for _, tt := range tests {
		if got := txConfidence(tt.overall, tt.fraud); abs(got-tt.want) > 1e-9 {
			t.Errorf("txConfidence(%v, %v) = %v, want %v", tt.overall, tt.fraud, got, tt.want)
		}
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
