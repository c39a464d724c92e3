package domain

import "time"

// Fused verdicts produced by the risk aggregator.
const (
	VerdictFraudDetected = "FRAUD_DETECTED"
	VerdictTxSuspicious  = "SUSPICIOUS"
	VerdictImageEdited   = "IMAGE_EDITED"
	VerdictLegitimate    = "LEGITIMATE"
)

// RiskVerdict fuses one transaction validation with modality evidence.
type RiskVerdict struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenantId,omitempty"`
	IsFraud        bool      `json:"isFraud"`
	FraudDetected  bool      `json:"fraudDetected"`
	Verdict        string    `json:"verdict"`
	Confidence     float64   `json:"confidence"`
	FraudScore     float64   `json:"fraudScore"`
	Indicators     []string  `json:"fraudIndicators"`
	PrimaryReason  string    `json:"primaryReason"`
	ProfileVersion int64     `json:"profileVersion"`
	Timestamp      time.Time `json:"timestamp"`
}

// ImageAnalysis is the complete result of analyzing a payment screenshot.
type ImageAnalysis struct {
	Forgery     ForgeryAssessment      `json:"forgery"`
	Edit        EditAssessment         `json:"edit"`
	Transaction *TransactionValidation `json:"transaction,omitempty"`
	Verdict     RiskVerdict            `json:"verdict"`
	Width       int                    `json:"width"`
	Height      int                    `json:"height"`
	Format      string                 `json:"format"`
}
