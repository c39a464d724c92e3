package domain

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// TransactionRecord holds caller-supplied payment fields. Every field is
// optional; fields may come from an external OCR collaborator or manual entry.
type TransactionRecord struct {
	UPIID     string     `json:"upiId,omitempty"`
	Reference string     `json:"referenceId,omitempty"`
	Amount    FlexAmount `json:"amount,omitempty"`
	Date      string     `json:"date,omitempty"`
	Merchant  string     `json:"merchantName,omitempty"`

	// PayerID keys the amount history used for deviation checks.
	PayerID string `json:"payerId,omitempty"`

	// DeviceID identifies the paying device for the familiar-device check.
	DeviceID string `json:"deviceId,omitempty"`

	// AmountHistory lets callers pass prior amounts directly instead of
	// relying on stored payments.
	AmountHistory []float64 `json:"amountHistory,omitempty"`
}

// IsEmpty reports whether no validatable field is present.
func (r *TransactionRecord) IsEmpty() bool {
	if r == nil {
		return true
	}
	return strings.TrimSpace(r.UPIID) == "" &&
		strings.TrimSpace(r.Reference) == "" &&
		r.Amount == "" &&
		strings.TrimSpace(r.Date) == ""
}

// FlexAmount is an amount that may arrive as a JSON number or a formatted
// string such as "₹50,000.00".
type FlexAmount string

// UnmarshalJSON accepts both numbers and strings.
func (a *FlexAmount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = FlexAmount(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*a = FlexAmount(n.String())
	return nil
}

// Transaction validation verdicts.
const (
	TxLegitimate     = "LEGITIMATE"
	TxReviewRequired = "REVIEW_REQUIRED"
	TxSuspicious     = "SUSPICIOUS"
	TxFraudDetected  = "FRAUD_DETECTED"
)

// Field names used in TransactionValidation.Fields.
const (
	FieldUPIID     = "upi_id"
	FieldReference = "transaction_reference"
	FieldAmount    = "amount"
	FieldDate      = "date"
)

// FieldResult is the outcome of validating one transaction field.
type FieldResult struct {
	Field     string   `json:"field"`
	Valid     bool     `json:"valid"`
	RiskScore float64  `json:"riskScore"`
	Reason    string   `json:"reason"`
	Warnings  []string `json:"warnings,omitempty"`

	// Definitive marks a pattern that is conclusive on its own (blacklisted
	// UPI id, obviously fabricated reference).
	Definitive bool `json:"definitive,omitempty"`
}

// TransactionValidation is the combined outcome of all field validators.
type TransactionValidation struct {
	OverallRiskScore float64                 `json:"overallRiskScore"`
	FraudDetected    bool                    `json:"fraudDetected"`
	OverallValid     bool                    `json:"overallValid"`
	Verdict          string                  `json:"verdict"`
	Confidence       float64                 `json:"confidence"`
	Recommendation   string                  `json:"recommendation"`
	Fields           map[string]*FieldResult `json:"validations"`
	FraudIndicators  []string                `json:"fraudIndicators"`
	Warnings         []string                `json:"warnings,omitempty"`
	RuleResults      []RuleResult            `json:"ruleResults,omitempty"`
}

// Payment is a recorded payment used to build amount history.
type Payment struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenantId"`
	PayerID    string    `json:"payerId"`
	UPIID      string    `json:"upiId"`
	Reference  string    `json:"referenceId"`
	DeviceID   string    `json:"deviceId,omitempty"`
	Amount     float64   `json:"amount"`
	OccurredAt time.Time `json:"occurredAt"`
	CreatedAt  time.Time `json:"createdAt"`
}
