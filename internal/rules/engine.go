// Package rules compiles operator-defined CEL expressions over transaction
// facts and evaluates them per tenant.
package rules

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/cel-go/cel"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Evaluation budget for a single rule. Expressions over scalar facts stay
// far below it; the cap stops a pathological expression from stalling a
// validation.
const (
	costLimit      = 10_000
	interruptEvery = 100
)

// Engine holds the compiled rule set. Loads build a new sorted snapshot and
// swap it in, so evaluation never takes a lock.
type Engine struct {
	env        *cel.Env
	maxWorkers int

	writeMu sync.Mutex
	rules   atomic.Pointer[[]*CompiledRule]
}

// CompiledRule pairs a rule config with its CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// Facts are the transaction fields a rule expression can read.
type Facts struct {
	UPIID        string
	UPIUsername  string
	UPIProvider  string
	Reference    string
	Amount       float64
	DateAgeDays  float64
	Merchant     string
	PayerID      string
	HistoryCount int
	HistoryAvg   float64

	// Payer activity; zero when no payer or activity source is known.
	TxLastHour   int
	TxLast24h    int
	AmountZScore float64
	NewDevice    bool
}

// SubjectID identifies the evaluated record in rule results.
func (f Facts) SubjectID() string {
	if f.Reference != "" {
		return f.Reference
	}
	return f.UPIID
}

func (f Facts) activation() map[string]any {
	return map[string]any{
		"upi_id":        f.UPIID,
		"upi_username":  f.UPIUsername,
		"upi_provider":  f.UPIProvider,
		"reference":     f.Reference,
		"amount":        f.Amount,
		"date_age_days": f.DateAgeDays,
		"merchant":      f.Merchant,
		"payer_id":      f.PayerID,
		"history_count": int64(f.HistoryCount),
		"history_avg":   f.HistoryAvg,
		"tx_last_hour":  int64(f.TxLastHour),
		"tx_last_24h":   int64(f.TxLast24h),
		"amount_zscore": f.AmountZScore,
		"new_device":    f.NewDevice,
	}
}

// NewEngine declares the fact variables. maxWorkers bounds how many rules of
// one transaction evaluate concurrently.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(
		cel.Variable("upi_id", cel.StringType),
		cel.Variable("upi_username", cel.StringType),
		cel.Variable("upi_provider", cel.StringType),
		cel.Variable("reference", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("date_age_days", cel.DoubleType),
		cel.Variable("merchant", cel.StringType),
		cel.Variable("payer_id", cel.StringType),
		cel.Variable("history_count", cel.IntType),
		cel.Variable("history_avg", cel.DoubleType),
		cel.Variable("tx_last_hour", cel.IntType),
		cel.Variable("tx_last_24h", cel.IntType),
		cel.Variable("amount_zscore", cel.DoubleType),
		cel.Variable("new_device", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Engine{env: env, maxWorkers: maxWorkers}
	e.rules.Store(&[]*CompiledRule{})
	return e, nil
}

// ValidateRule compiles cfg without loading it.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}
	_, err := e.compile(cfg)
	return err
}

// LoadRule compiles cfg and adds it, replacing a loaded rule with the same ID.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	compiled, err := e.compile(cfg)
	if err != nil {
		return err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	current := e.snapshot()
	next := make([]*CompiledRule, 0, len(current)+1)
	for _, r := range current {
		if r.Config.ID != cfg.ID {
			next = append(next, r)
		}
	}
	e.publish(append(next, compiled))
	return nil
}

// LoadRules loads the enabled configs one by one, stopping at the first
// rule that fails to compile.
func (e *Engine) LoadRules(configs []*domain.RuleConfig) error {
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		if err := e.LoadRule(cfg); err != nil {
			return err
		}
	}
	return nil
}

// ReloadRules replaces the whole rule set. Nothing changes unless every
// enabled config compiles.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	next := make([]*CompiledRule, 0, len(configs))
	seen := make(map[string]int, len(configs))
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compile(cfg)
		if err != nil {
			return err
		}
		if i, dup := seen[cfg.ID]; dup {
			next[i] = compiled
			continue
		}
		seen[cfg.ID] = len(next)
		next = append(next, compiled)
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	e.publish(next)
	return nil
}

// Evaluate runs every rule visible to tenantID: its own rules plus those
// stored without a tenant or under domain.GlobalTenantID. Results come back
// in rule ID order. Rules not started before ctx ends report RuleOutcomeError.
func (e *Engine) Evaluate(ctx context.Context, tenantID string, facts Facts) ([]domain.RuleResult, error) {
	var visible []*CompiledRule
	for _, r := range e.snapshot() {
		switch r.Config.TenantID {
		case "", domain.GlobalTenantID, tenantID:
			visible = append(visible, r)
		}
	}
	if len(visible) == 0 {
		return nil, nil
	}

	input := facts.activation()
	subject := facts.SubjectID()
	results := make([]domain.RuleResult, len(visible))

	var g errgroup.Group
	g.SetLimit(e.maxWorkers)
	for i, r := range visible {
		g.Go(func() error {
			results[i] = evaluate(ctx, r, input, tenantID, subject)
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

func evaluate(ctx context.Context, rule *CompiledRule, input map[string]any, tenantID, subject string) domain.RuleResult {
	start := time.Now()
	res := domain.RuleResult{
		RuleID:    rule.Config.ID,
		TenantID:  tenantID,
		SubjectID: subject,
		Weight:    rule.Config.Weight,
	}

	if err := ctx.Err(); err != nil {
		res.SubRuleRef, res.Reason = domain.RuleOutcomeError, err.Error()
		return res
	}

	out, _, err := rule.Program.ContextEval(ctx, input)
	if err != nil {
		res.SubRuleRef = domain.RuleOutcomeError
		res.Reason = fmt.Sprintf("evaluation error: %v", err)
	} else {
		res.Score = toScore(out)
		res.SubRuleRef, res.Reason = matchBand(res.Score, rule.Config.Bands)
	}
	res.ProcessMs = time.Since(start).Milliseconds()
	return res
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	return len(e.snapshot())
}

// GetLoadedRules returns the loaded configs in rule ID order.
func (e *Engine) GetLoadedRules() []*domain.RuleConfig {
	rules := e.snapshot()
	out := make([]*domain.RuleConfig, len(rules))
	for i, r := range rules {
		out[i] = r.Config
	}
	return out
}

func (e *Engine) Close() error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	e.publish(nil)
	return nil
}

func (e *Engine) snapshot() []*CompiledRule {
	return *e.rules.Load()
}

// publish must be called with writeMu held.
func (e *Engine) publish(rules []*CompiledRule) {
	slices.SortFunc(rules, func(a, b *CompiledRule) int {
		return cmp.Compare(a.Config.ID, b.Config.ID)
	})
	e.rules.Store(&rules)
}

func (e *Engine) compile(cfg *domain.RuleConfig) (*CompiledRule, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	switch out := ast.OutputType(); out {
	case cel.BoolType, cel.DoubleType, cel.IntType:
	default:
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", cfg.ID, out)
	}

	program, err := e.env.Program(ast,
		cel.CostLimit(costLimit),
		cel.InterruptCheckFrequency(interruptEvery),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}
	return &CompiledRule{Config: cfg, Program: program}, nil
}
