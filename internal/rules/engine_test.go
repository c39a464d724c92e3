package rules

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/opensource-finance/harrier/internal/domain"
)

func ptr(v float64) *float64 { return &v }

func failBands(reason string) []domain.RuleBand {
	return []domain.RuleBand{
		{LowerLimit: ptr(0), UpperLimit: ptr(1), SubRuleRef: domain.RuleOutcomePass, Reason: "ok"},
		{LowerLimit: ptr(1), SubRuleRef: domain.RuleOutcomeFail, Reason: reason},
	}
}

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine(5)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount())
	}
}

func TestLoadRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	rule := &domain.RuleConfig{
		ID:         "big-amount",
		Name:       "Big Amount",
		Expression: "amount > 100.0",
		Weight:     1.0,
		Enabled:    true,
	}
	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}
	if engine.RulesCount() != 1 {
		t.Errorf("expected 1 rule, got %d", engine.RulesCount())
	}
}

func TestLoadInvalidRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	tests := map[string]string{
		"syntax":      "this is not valid CEL !!!",
		"unknown var": "debtor_id == creditor_id",
		"string type": "upi_id + upi_provider",
	}
	for name, expr := range tests {
		t.Run(name, func(t *testing.T) {
			err := engine.ValidateRule(&domain.RuleConfig{ID: "bad", Expression: expr, Enabled: true})
			if err == nil {
				t.Errorf("expected error for %q", expr)
			}
		})
	}
	if engine.RulesCount() != 0 {
		t.Error("ValidateRule must not load rules")
	}
}

func TestEvaluate(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	engine.LoadRules([]*domain.RuleConfig{
		{
			ID:         "unknown-merchant-high-amount",
			Expression: `merchant == "" && amount > 20000.0`,
			Bands:      failBands("High amount without a merchant"),
			Weight:     0.2,
			Enabled:    true,
		},
		{
			ID:         "ybl-first-payment",
			Expression: `upi_provider == "ybl" && history_count == 0 ? 1.0 : 0.0`,
			Bands:      failBands("First payment to a ybl handle"),
			Weight:     0.1,
			Enabled:    true,
		},
		{
			ID:         "disabled",
			Expression: "true",
			Enabled:    false,
		},
	})

	if engine.RulesCount() != 2 {
		t.Fatalf("expected 2 enabled rules, got %d", engine.RulesCount())
	}

	results, err := engine.Evaluate(context.Background(), "tenant-001", Facts{
		UPIID:       "shop@ybl",
		UPIUsername: "shop",
		UPIProvider: "ybl",
		Reference:   "412345678901",
		Amount:      25000,
	})
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		if r.SubRuleRef != domain.RuleOutcomeFail {
			t.Errorf("rule %s: expected fail, got %s (%s)", r.RuleID, r.SubRuleRef, r.Reason)
		}
		if r.TenantID != "tenant-001" || r.SubjectID != "412345678901" {
			t.Errorf("rule %s: unexpected tenant/subject %s/%s", r.RuleID, r.TenantID, r.SubjectID)
		}
	}

	risk, reasons := RiskContribution(results)
	if math.Abs(risk-30) > 1e-9 {
		t.Errorf("expected 30 risk points, got %v", risk)
	}
	if len(reasons) != 2 {
		t.Errorf("expected 2 reasons, got %v", reasons)
	}
}

func TestEvaluateTenantScope(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	engine.LoadRule(&domain.RuleConfig{ID: "global", Expression: "true", Enabled: true})
	engine.LoadRule(&domain.RuleConfig{ID: "star", TenantID: domain.GlobalTenantID, Expression: "true", Enabled: true})
	engine.LoadRule(&domain.RuleConfig{ID: "a-only", TenantID: "tenant-a", Expression: "true", Enabled: true})

	ctx := context.Background()
	a, _ := engine.Evaluate(ctx, "tenant-a", Facts{})
	b, _ := engine.Evaluate(ctx, "tenant-b", Facts{})
	if len(a) != 3 || len(b) != 2 {
		t.Errorf("expected 3 rules for tenant-a and 2 for tenant-b, got %d and %d", len(a), len(b))
	}
}

func TestMatchBand(t *testing.T) {
	bands := []domain.RuleBand{
		{UpperLimit: ptr(0.5), SubRuleRef: domain.RuleOutcomePass, Reason: "low"},
		{LowerLimit: ptr(0.5), UpperLimit: ptr(0.8), SubRuleRef: domain.RuleOutcomeReview, Reason: "mid"},
		{LowerLimit: ptr(0.8), SubRuleRef: domain.RuleOutcomeFail, Reason: "high"},
	}
	tests := []struct {
		score float64
		want  string
	}{
		{0, domain.RuleOutcomePass},
		{0.5, domain.RuleOutcomeReview},
		{0.79, domain.RuleOutcomeReview},
		{0.8, domain.RuleOutcomeFail},
		{5, domain.RuleOutcomeFail},
	}
	for _, tt := range tests {
		if got, _ := matchBand(tt.score, bands); got != tt.want {
			t.Errorf("matchBand(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
	if got, reason := matchBand(-1, bands); got != domain.RuleOutcomePass || reason != "no matching band" {
		t.Errorf("expected default pass, got %s (%s)", got, reason)
	}
}

func TestRiskContribution(t *testing.T) {
	results := []domain.RuleResult{
		{RuleID: "a", SubRuleRef: domain.RuleOutcomeFail, Score: 1, Weight: 0.3, Reason: "fail"},
		{RuleID: "b", SubRuleRef: domain.RuleOutcomeReview, Score: 1, Weight: 0.2, Reason: "review"},
		{RuleID: "c", SubRuleRef: domain.RuleOutcomePass, Score: 1, Weight: 1},
		{RuleID: "d", SubRuleRef: domain.RuleOutcomeError, Weight: 1},
	}
	risk, reasons := RiskContribution(results)
	if math.Abs(risk-40) > 1e-9 {
		t.Errorf("expected 40, got %v", risk)
	}
	if len(reasons) != 2 || reasons[0] != "fail" || reasons[1] != "review" {
		t.Errorf("unexpected reasons %v", reasons)
	}
}

func TestReloadRules(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	engine.LoadRule(&domain.RuleConfig{ID: "old", Expression: "true", Enabled: true})

	var configs []*domain.RuleConfig
	for i := 0; i < 3; i++ {
		configs = append(configs, &domain.RuleConfig{
			ID:         fmt.Sprintf("new-%d", i),
			Expression: fmt.Sprintf("amount > %d.0", i*1000),
			Enabled:    true,
		})
	}
	if err := engine.ReloadRules(configs); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if engine.RulesCount() != 3 {
		t.Errorf("expected 3 rules after reload, got %d", engine.RulesCount())
	}
	for _, cfg := range engine.GetLoadedRules() {
		if cfg.ID == "old" {
			t.Error("reload must drop previous rules")
		}
	}

	bad := append(configs, &domain.RuleConfig{ID: "broken", Expression: "amount >", Enabled: true})
	if err := engine.ReloadRules(bad); err == nil {
		t.Error("expected reload error for broken rule")
	}
	if engine.RulesCount() != 3 {
		t.Error("failed reload must keep the previous rule set")
	}
}

func TestEvaluateCancelled(t *testing.T) {
	engine, _ := NewEngine(1)
	defer engine.Close()

	engine.LoadRule(&domain.RuleConfig{ID: "r", Expression: "true", Enabled: true})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := engine.Evaluate(ctx, "t", Facts{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].SubRuleRef != domain.RuleOutcomeError {
		t.Fatalf("expected one error result, got %+v", results)
	}
}

func TestEvaluateOrderAndReplace(t *testing.T) {
	engine, _ := NewEngine(3)
	defer engine.Close()

	for _, id := range []string{"zeta", "alpha", "mid"} {
		if err := engine.LoadRule(&domain.RuleConfig{ID: id, Expression: "false", Enabled: true}); err != nil {
			t.Fatalf("LoadRule %s failed: %v", id, err)
		}
	}
	// Same ID replaces the loaded rule instead of adding one.
	engine.LoadRule(&domain.RuleConfig{ID: "mid", Expression: "amount >= 100.0", Bands: failBands("big"), Weight: 1, Enabled: true})

	results, err := engine.Evaluate(context.Background(), "tenant-001", Facts{Amount: 150})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	var ids []string
	for _, r := range results {
		ids = append(ids, r.RuleID)
	}
	if fmt.Sprint(ids) != "[alpha mid zeta]" {
		t.Errorf("expected results in rule ID order, got %v", ids)
	}
	if results[1].SubRuleRef != domain.RuleOutcomeFail {
		t.Errorf("expected the replacement rule to fire, got %s", results[1].SubRuleRef)
	}
}

func TestEvaluateActivityFacts(t *testing.T) {
	engine, err := NewEngine(2)
	if err != nil {
		t.Fatal(err)
	}
	defer engine.Close()

	err = engine.LoadRule(&domain.RuleConfig{
		ID:         "burst-new-device",
		Expression: "tx_last_hour > 5 && new_device && amount_zscore > 2.0",
		Bands:      failBands("burst from a new device"),
		Weight:     1,
		Enabled:    true,
	})
	if err != nil {
		t.Fatalf("LoadRule failed: %v", err)
	}

	tests := []struct {
		name  string
		facts Facts
		want  string
	}{
		{"Burst", Facts{TxLastHour: 7, TxLast24h: 9, NewDevice: true, AmountZScore: 3.5}, domain.RuleOutcomeFail},
		{"KnownDevice", Facts{TxLastHour: 7, TxLast24h: 9, AmountZScore: 3.5}, domain.RuleOutcomePass},
		{"Quiet", Facts{NewDevice: true}, domain.RuleOutcomePass},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := engine.Evaluate(context.Background(), "tenant-001", tt.facts)
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if len(results) != 1 || results[0].SubRuleRef != tt.want {
				t.Errorf("expected %s, got %+v", tt.want, results)
			}
		})
	}
}
