package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Operations named in verdict events.
const (
	OperationImage       = "image"
	OperationTransaction = "transaction"
	OperationDeepfake    = "deepfake"
	OperationVoice       = "voice"
)

// VerdictEvent is published to domain.TopicVerdict for every fused verdict,
// and also to domain.TopicAlert when Alert is set.
type VerdictEvent struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenantId"`
	RequestID      string    `json:"requestId,omitempty"`
	Operation      string    `json:"operation"`
	Verdict        string    `json:"verdict"`
	Score          float64   `json:"score"`
	Confidence     float64   `json:"confidence"`
	Alert          bool      `json:"alert"`
	Indicators     []string  `json:"indicators,omitempty"`
	ProfileVersion int64     `json:"profileVersion"`
	Timestamp      time.Time `json:"timestamp"`
}

// Submission is the payload of domain.TopicTransactionSubmitted.
type Submission struct {
	RequestID string                   `json:"requestId"`
	Record    domain.TransactionRecord `json:"transaction"`
}

// IsAlert reports whether a verdict warrants an alert.
func IsAlert(verdict string) bool {
	switch verdict {
	case domain.VerdictFraudDetected,
		domain.VerdictDeepfake, domain.VerdictSpam, domain.VerdictFaceMaskEdit:
		return true
	}
	return false
}

// Publisher fans verdicts out to the verdict and alert topics.
type Publisher struct {
	bus domain.EventBus
}

// NewPublisher creates a Publisher. A nil bus makes Publish a no-op.
func NewPublisher(b domain.EventBus) *Publisher {
	return &Publisher{bus: b}
}

// Publish sends ev to the verdict topic, and to the alert topic when the
// verdict is an alert.
func (p *Publisher) Publish(ctx context.Context, ev VerdictEvent) error {
	if p == nil || p.bus == nil {
		return nil
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	ev.Alert = ev.Alert || IsAlert(ev.Verdict)

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal verdict event: %w", err)
	}
	if err := p.bus.Publish(ctx, ev.TenantID, domain.TopicVerdict, payload); err != nil {
		return fmt.Errorf("failed to publish verdict: %w", err)
	}
	if ev.Alert {
		if err := p.bus.Publish(ctx, ev.TenantID, domain.TopicAlert, payload); err != nil {
			return fmt.Errorf("failed to publish alert: %w", err)
		}
	}
	return nil
}

// Submit queues a transaction for asynchronous validation.
func Submit(ctx context.Context, b domain.EventBus, tenantID string, rec domain.TransactionRecord) (string, error) {
	s := Submission{RequestID: uuid.New().String(), Record: rec}
	payload, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to marshal submission: %w", err)
	}
	if err := b.Publish(ctx, tenantID, domain.TopicTransactionSubmitted, payload); err != nil {
		return "", err
	}
	return s.RequestID, nil
}
