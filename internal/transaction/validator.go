// Package transaction validates UPI payment fields (UPI id, reference
// number, amount and date) and combines them into a fraud verdict.
package transaction

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/history"
	"github.com/opensource-finance/harrier/internal/numeric"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/velocity"
)

// Field weights in the overall score.
const (
	weightUPI       = 0.30
	weightReference = 0.25
	weightAmount    = 0.25
	weightDate      = 0.20
)

// Activity weights, added on top of the field score.
const (
	weightFrequency     = 0.25
	weightAmountPattern = 0.25
	weightDevice        = 0.20
)

// RuleEvaluator runs operator rules over transaction facts.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, tenantID string, facts rules.Facts) ([]domain.RuleResult, error)
}

// HistorySource returns a payer's usual amount.
type HistorySource interface {
	AverageAmount(ctx context.Context, tenantID, payerID string) (history.Stats, error)
}

// ActivitySource returns a payer's recent payment activity.
type ActivitySource interface {
	Activity(ctx context.Context, tenantID, payerID string) (velocity.Activity, error)
}

// Config wires optional collaborators into a Validator.
type Config struct {
	Rules    RuleEvaluator
	History  HistorySource
	Activity ActivitySource
	Now      func() time.Time
}

// Validator validates transaction records.
type Validator struct {
	rules    RuleEvaluator
	history  HistorySource
	activity ActivitySource
	now      func() time.Time
}

// NewValidator creates a Validator. Nil collaborators are skipped.
func NewValidator(cfg Config) *Validator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Validator{rules: cfg.Rules, history: cfg.History, activity: cfg.Activity, now: cfg.Now}
}

// Validate scores every present field of rec and combines them. A record with
// no fields is an InputError.
func (v *Validator) Validate(ctx context.Context, tenantID string, rec *domain.TransactionRecord) (*domain.TransactionValidation, error) {
	if rec.IsEmpty() {
		return nil, domain.NewInputError("transaction", "no transaction fields to validate", nil)
	}

	now := v.now()
	out := &domain.TransactionValidation{
		OverallValid:    true,
		Fields:          make(map[string]*domain.FieldResult, 4),
		FraudIndicators: []string{},
	}
	facts := rules.Facts{
		Merchant: strings.TrimSpace(rec.Merchant),
		PayerID:  strings.TrimSpace(rec.PayerID),
	}

	var overall float64
	if strings.TrimSpace(rec.UPIID) != "" {
		r := ValidateUPI(rec.UPIID)
		out.Fields[domain.FieldUPIID] = r
		overall += r.RiskScore * weightUPI
		if !r.Valid {
			out.OverallValid = false
			out.FraudIndicators = append(out.FraudIndicators, "Invalid UPI ID: "+r.Reason)
		}
		facts.UPIID, facts.UPIUsername, facts.UPIProvider = SplitUPI(rec.UPIID)
	}
	if strings.TrimSpace(rec.Reference) != "" {
		r := ValidateReference(rec.Reference)
		out.Fields[domain.FieldReference] = r
		overall += r.RiskScore * weightReference
		if !r.Valid {
			out.OverallValid = false
			out.FraudIndicators = append(out.FraudIndicators, "Invalid Transaction ID: "+r.Reason)
		}
		facts.Reference = strings.TrimSpace(rec.Reference)
	}
	if rec.Amount != "" {
		hist := v.amountHistory(ctx, tenantID, rec)
		facts.HistoryCount, facts.HistoryAvg = hist.Count, hist.Average

		r := ValidateAmount(string(rec.Amount), hist)
		out.Fields[domain.FieldAmount] = r
		overall += r.RiskScore * weightAmount
		if !r.Valid {
			out.OverallValid = false
			out.FraudIndicators = append(out.FraudIndicators, "Suspicious amount: "+r.Reason)
		}
		if amt, err := ParseAmount(string(rec.Amount)); err == nil {
			facts.Amount = amt.InexactFloat64()
		}
	}
	if strings.TrimSpace(rec.Date) != "" {
		r := ValidateDate(rec.Date, now)
		out.Fields[domain.FieldDate] = r
		overall += r.RiskScore * weightDate
		if !r.Valid {
			out.Warnings = append(out.Warnings, "Date issue: "+r.Reason)
		}
		if t, _, err := ParseDate(rec.Date, now.Location()); err == nil {
			facts.DateAgeDays = now.Sub(t).Hours() / 24
		}
	}

	for _, name := range coreFields {
		r, ok := out.Fields[name]
		if !ok || !r.Valid {
			continue
		}
		out.Warnings = append(out.Warnings, r.Warnings...)
	}

	overall += v.scoreActivity(ctx, tenantID, rec, out, &facts)

	if v.rules != nil {
		results, err := v.rules.Evaluate(ctx, tenantID, facts)
		if err != nil {
			slog.Warn("rule evaluation failed", "tenant_id", tenantID, "error", err)
		} else {
			risk, reasons := rules.RiskContribution(results)
			overall += risk
			out.FraudIndicators = append(out.FraudIndicators, reasons...)
			out.RuleResults = results
		}
	}

	overall = min(overall, 100)
	out.OverallRiskScore = numeric.Round2(overall)
	out.FraudDetected = fraudDetected(overall, out)
	out.Verdict, out.Recommendation = txVerdict(overall, out.FraudDetected)
	out.Confidence = numeric.Round2(txConfidence(overall, out.FraudDetected))

	return out, nil
}

var coreFields = []string{domain.FieldUPIID, domain.FieldReference, domain.FieldAmount, domain.FieldDate}

// scoreActivity adds the payer's frequency, amount pattern and device results
// to out and returns their weighted risk. Without a payer or an activity
// source only caller-supplied amounts are checked against their pattern.
func (v *Validator) scoreActivity(ctx context.Context, tenantID string, rec *domain.TransactionRecord, out *domain.TransactionValidation, facts *rules.Facts) float64 {
	var (
		act   velocity.Activity
		known bool
	)
	payerID := strings.TrimSpace(rec.PayerID)
	if v.activity != nil && payerID != "" {
		a, err := v.activity.Activity(ctx, tenantID, payerID)
		if err != nil {
			slog.Warn("payer activity unavailable", "tenant_id", tenantID, "payer_id", payerID, "error", err)
		} else {
			act, known = a, true
		}
	}

	var results []weighted
	if known {
		results = append(results, weighted{velocity.ScoreFrequency(act), weightFrequency})
		facts.TxLastHour, facts.TxLast24h = act.LastHour, act.Last24Hours
		if device := strings.TrimSpace(rec.DeviceID); device != "" {
			r := velocity.ScoreDevice(device, act.Devices)
			results = append(results, weighted{r, weightDevice})
			facts.NewDevice = r.RiskScore > 0
		}
	}

	pattern := act.Amounts
	if len(rec.AmountHistory) > 0 {
		pattern = rec.AmountHistory
	}
	if amt, err := ParseAmount(string(rec.Amount)); err == nil && rec.Amount != "" {
		amount := amt.InexactFloat64()
		if z, ok := velocity.ZScore(amount, pattern); ok {
			results = append(results, weighted{velocity.ScoreAmountPattern(amount, pattern), weightAmountPattern})
			facts.AmountZScore = z
		}
	}

	var risk float64
	for _, w := range results {
		out.Fields[w.result.Field] = w.result
		if w.result.RiskScore > 0 {
			risk += w.result.RiskScore * w.weight
			out.FraudIndicators = append(out.FraudIndicators, "Unusual activity: "+w.result.Reason)
		}
	}
	return risk
}

type weighted struct {
	result *domain.FieldResult
	weight float64
}

// amountHistory prefers caller-supplied amounts over the stored history.
func (v *Validator) amountHistory(ctx context.Context, tenantID string, rec *domain.TransactionRecord) history.Stats {
	if len(rec.AmountHistory) > 0 {
		return history.Stats{Count: len(rec.AmountHistory), Average: numeric.Mean(rec.AmountHistory)}
	}
	if v.history == nil || rec.PayerID == "" {
		return history.Stats{}
	}
	st, err := v.history.AverageAmount(ctx, tenantID, rec.PayerID)
	if err != nil {
		slog.Warn("amount history unavailable", "tenant_id", tenantID, "payer_id", rec.PayerID, "error", err)
		return history.Stats{}
	}
	return st
}

func fraudDetected(overall float64, out *domain.TransactionValidation) bool {
	if overall >= 60 || (!out.OverallValid && overall >= 50) {
		return true
	}
	if upi, ok := out.Fields[domain.FieldUPIID]; ok && (!upi.Valid || upi.RiskScore >= 70) {
		return true
	}
	ref, ok := out.Fields[domain.FieldReference]
	if !ok || !ref.Definitive {
		return false
	}
	for _, name := range coreFields {
		if r, ok := out.Fields[name]; ok && name != domain.FieldReference && r.RiskScore > 0 {
			return true
		}
	}
	return false
}

func txVerdict(overall float64, fraud bool) (verdict, recommendation string) {
	switch {
	case fraud:
		return domain.TxFraudDetected, "BLOCK TRANSACTION - Fraud indicators detected"
	case overall >= 30:
		return domain.TxSuspicious, "REQUIRE ADDITIONAL VERIFICATION - Suspicious patterns detected"
	case overall >= 15:
		return domain.TxReviewRequired, "Review recommended - Some unusual patterns detected"
	default:
		return domain.TxLegitimate, "Transaction appears legitimate"
	}
}

func txConfidence(overall float64, fraud bool) float64 {
	switch {
	case overall >= 60 || fraud:
		return min(0.95, 0.70+max(overall, 60)/200)
	case overall >= 30:
		return min(0.85, 0.60+overall/250)
	case overall >= 15:
		return min(0.70, 0.50+overall/300)
	default:
		return max(0.80, 1-overall/100)
	}
}
