// Package tadp implements the Transaction Aggregated Decision Processor.
// TADP fuses a transaction validation with media evidence into one risk
// verdict. Transaction data is the primary signal; media evidence can only
// raise a verdict to IMAGE_EDITED, never to fraud.
package tadp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/numeric"
)

// Processor fuses transaction and modality evidence into a RiskVerdict.
type Processor struct {
	// SuspiciousRisk is the transaction risk at which a non-fraud record is
	// reported as SUSPICIOUS.
	SuspiciousRisk float64

	// ModalityConfidence is the confidence a flagged modality needs before
	// it alone yields IMAGE_EDITED.
	ModalityConfidence float64

	// TransactionWeight is the share of the display fraud score taken from
	// transaction risk. The rest comes from modality confidence.
	TransactionWeight float64
}

// NewProcessor creates a processor with the default decision thresholds.
func NewProcessor() *Processor {
	return &Processor{
		SuspiciousRisk:     20,
		ModalityConfidence: 0.85,
		TransactionWeight:  0.7,
	}
}

// Evidence is one modality's contribution.
type Evidence struct {
	// Label names the modality in indicators ("Image appears edited").
	Label      string
	Flagged    bool
	Confidence float64
}

// EditEvidence adapts an image edit assessment.
func EditEvidence(ea domain.EditAssessment) Evidence {
	return Evidence{Label: "Image appears edited", Flagged: ea.IsEdited, Confidence: ea.EditConfidence}
}

// DeepfakeEvidence adapts an image or video deepfake assessment.
func DeepfakeEvidence(da domain.DeepfakeAssessment) Evidence {
	return Evidence{Label: "Media appears synthetic", Flagged: da.IsDeepfake, Confidence: da.Confidence}
}

// VoiceEvidence adapts a voice assessment.
func VoiceEvidence(va domain.VoiceAssessment) Evidence {
	return Evidence{Label: "Voice appears synthetic", Flagged: va.Flagged(), Confidence: va.Confidence}
}

// DecisionInput contains all data needed for a decision.
type DecisionInput struct {
	TenantID       string
	Transaction    *domain.TransactionValidation
	Evidence       []Evidence
	ProfileVersion int64
}

// Primary reasons.
const (
	ReasonFraud      = "Transaction data indicates fraud"
	ReasonSuspicious = "Some suspicious transaction patterns detected"
	ReasonEdited     = "Image appears edited but transaction data looks legitimate"
	ReasonLegitimate = "Transaction data and image both appear legitimate"
)

// Process evaluates the inputs in precedence order: transaction fraud, then
// transaction risk, then flagged modality evidence.
func (p *Processor) Process(ctx context.Context, input *DecisionInput) *domain.RiskVerdict {
	var (
		risk, txConf float64
		fraud        bool
		txIndicators []string
	)
	if tx := input.Transaction; tx != nil {
		risk = tx.OverallRiskScore
		txConf = tx.Confidence
		fraud = tx.FraudDetected
		txIndicators = tx.FraudIndicators
	}

	var (
		indicators []string
		flagged    bool
		modConf    float64
	)
	for _, ev := range input.Evidence {
		if !ev.Flagged {
			continue
		}
		flagged = true
		modConf = max(modConf, ev.Confidence)
		indicators = append(indicators, fmt.Sprintf("%s (confidence: %.0f%%)", ev.Label, ev.Confidence*100))
	}
	indicators = append(indicators, txIndicators...)

	v := &domain.RiskVerdict{
		ID:             uuid.New().String(),
		TenantID:       input.TenantID,
		FraudDetected:  fraud,
		Indicators:     indicators,
		ProfileVersion: input.ProfileVersion,
		Timestamp:      time.Now().UTC(),
	}
	if v.Indicators == nil {
		v.Indicators = []string{}
	}

	switch {
	case fraud:
		v.Verdict = domain.VerdictFraudDetected
		v.IsFraud = true
		v.Confidence = txConf
		v.PrimaryReason = ReasonFraud
	case risk >= p.SuspiciousRisk:
		v.Verdict = domain.VerdictTxSuspicious
		v.Confidence = min(0.75, txConf)
		v.PrimaryReason = ReasonSuspicious
	case flagged && modConf > p.ModalityConfidence:
		v.Verdict = domain.VerdictImageEdited
		v.Confidence = 0.60
		v.PrimaryReason = ReasonEdited
	default:
		v.Verdict = domain.VerdictLegitimate
		v.Confidence = max(0.85, txConf)
		v.PrimaryReason = ReasonLegitimate
	}

	score := risk * p.TransactionWeight
	if flagged {
		score += modConf * 100 * (1 - p.TransactionWeight)
	}
	v.FraudScore = numeric.Round2(numeric.Clamp(score, 0, 100))

	slog.Debug("risk verdict",
		"tenant_id", input.TenantID,
		"verdict", v.Verdict,
		"fraud_score", v.FraudScore,
		"transaction_fraud", fraud,
		"modality_flagged", flagged,
	)

	return v
}

// FuseForgery folds transaction risk back into a screenshot's forgery
// assessment. A fraudulent transaction makes the screenshot at least as
// suspicious as its risk; a risky one lifts a clean screenshot to suspicious.
func FuseForgery(fa *domain.ForgeryAssessment, tx *domain.TransactionValidation) {
	if fa == nil || tx == nil {
		return
	}
	switch {
	case tx.FraudDetected:
		fa.ForgeryScore = max(fa.ForgeryScore, tx.OverallRiskScore*0.8)
		fa.Verdict = domain.ForgeryTampered
		fa.Reasons = append(fa.Reasons, "Transaction data indicates fraud")
	case tx.OverallRiskScore >= 30:
		fa.ForgeryScore += 20
		if fa.Verdict == domain.ForgeryClean {
			fa.Verdict = domain.ForgerySuspicious
		}
		fa.Reasons = append(fa.Reasons, "Suspicious transaction details")
	default:
		return
	}
	fa.ForgeryScore = numeric.Round2(numeric.Clamp(fa.ForgeryScore, 0, 100))
}
