package bus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// recordingBus captures published payloads per topic.
type recordingBus struct {
	published map[string][][]byte
	fail      bool
}

func (r *recordingBus) Publish(_ context.Context, _ string, topic string, payload []byte) error {
	if r.fail {
		return errors.New("broker down")
	}
	if r.published == nil {
		r.published = make(map[string][][]byte)
	}
	r.published[topic] = append(r.published[topic], payload)
	return nil
}

func (r *recordingBus) Subscribe(context.Context, string, string, domain.MessageHandler) (domain.Subscription, error) {
	return nil, nil
}
func (r *recordingBus) Ping(context.Context) error { return nil }
func (r *recordingBus) Close() error               { return nil }

func TestIsAlert(t *testing.T) {
	tests := map[string]bool{
		domain.VerdictFraudDetected: true,
		domain.VerdictDeepfake:      true,
		domain.VerdictSpam:          true,
		domain.VerdictFaceMaskEdit:  true,
		domain.VerdictTxSuspicious:  false,
		domain.VerdictImageEdited:   false,
		domain.VerdictSuspicious:    false,
		domain.TxReviewRequired:     false,
	}
	for verdict, want := range tests {
		if got := IsAlert(verdict); got != want {
			t.Errorf("IsAlert(%q) = %v, want %v", verdict, got, want)
		}
	}
}

func TestPublisher(t *testing.T) {
	ctx := context.Background()

	t.Run("VerdictOnly", func(t *testing.T) {
		rb := &recordingBus{}
		err := NewPublisher(rb).Publish(ctx, VerdictEvent{
			TenantID:  "t1",
			Operation: OperationTransaction,
			Verdict:   domain.TxLegitimate,
			Score:     4,
		})
		if err != nil {
			t.Fatalf("publish failed: %v", err)
		}
		if len(rb.published[domain.TopicVerdict]) != 1 || len(rb.published[domain.TopicAlert]) != 0 {
			t.Errorf("unexpected topics %v", rb.published)
		}

		var ev VerdictEvent
		if err := json.Unmarshal(rb.published[domain.TopicVerdict][0], &ev); err != nil {
			t.Fatalf("bad payload: %v", err)
		}
		if ev.ID == "" || ev.Timestamp.IsZero() || ev.Alert {
			t.Errorf("unexpected event %+v", ev)
		}
	})

	t.Run("Alert", func(t *testing.T) {
		rb := &recordingBus{}
		err := NewPublisher(rb).Publish(ctx, VerdictEvent{
			TenantID:  "t1",
			Operation: OperationVoice,
			Verdict:   domain.VerdictSpam,
		})
		if err != nil {
			t.Fatalf("publish failed: %v", err)
		}
		if len(rb.published[domain.TopicAlert]) != 1 {
			t.Errorf("expected alert, got %v", rb.published)
		}
	})

	t.Run("Failure", func(t *testing.T) {
		err := NewPublisher(&recordingBus{fail: true}).Publish(ctx, VerdictEvent{TenantID: "t1"})
		if err == nil {
			t.Error("expected publish error")
		}
	})

	t.Run("NilBus", func(t *testing.T) {
		if err := NewPublisher(nil).Publish(ctx, VerdictEvent{TenantID: "t1"}); err != nil {
			t.Errorf("nil bus must be a no-op, got %v", err)
		}
	})
}

func TestSubmitRoundTrip(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	got := make(chan Submission, 1)
	_, err := b.Subscribe(ctx, "t1", domain.TopicTransactionSubmitted, func(_ context.Context, msg *domain.Message) error {
		var s Submission
		if err := json.Unmarshal(msg.Payload, &s); err != nil {
			return err
		}
		got <- s
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	id, err := Submit(ctx, b, "t1", domain.TransactionRecord{UPIID: "shop@ybl", Amount: "1250"})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	select {
	case s := <-got:
		if s.RequestID != id || s.Record.UPIID != "shop@ybl" || s.Record.Amount != "1250" {
			t.Errorf("unexpected submission %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for submission")
	}
}
