package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// collector gathers delivered messages and signals each arrival.
type collector struct {
	mu   sync.Mutex
	msgs []*domain.Message
	ch   chan struct{}
}

func newCollector() *collector {
	return &collector{ch: make(chan struct{}, 1000)}
}

func (c *collector) handle(_ context.Context, msg *domain.Message) error {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
	c.ch <- struct{}{}
	return nil
}

func (c *collector) wait(t *testing.T, n int) []*domain.Message {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout: received %d/%d messages", i, n)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*domain.Message(nil), c.msgs...)
}

// quiet asserts nothing else arrives within a short window.
func (c *collector) quiet(t *testing.T) {
	t.Helper()
	select {
	case <-c.ch:
		t.Error("received an unexpected message")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannelBusVerdicts(t *testing.T) {
	b := NewChannelBus(100)
	defer b.Close()
	ctx := context.Background()

	verdicts, alerts := newCollector(), newCollector()
	if _, err := b.Subscribe(ctx, "tenant-001", domain.TopicVerdict, verdicts.handle); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if _, err := b.Subscribe(ctx, "tenant-001", domain.TopicAlert, alerts.handle); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	pub := NewPublisher(b)

	t.Run("LegitimateVerdictIsNotAnAlert", func(t *testing.T) {
		err := pub.Publish(ctx, VerdictEvent{
			TenantID:  "tenant-001",
			Operation: OperationImage,
			Verdict:   domain.VerdictLegitimate,
			Score:     4,
		})
		if err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		msgs := verdicts.wait(t, 1)
		msg := msgs[len(msgs)-1]
		if msg.TenantID != "tenant-001" || msg.Topic != domain.TopicVerdict || msg.ID == "" {
			t.Errorf("unexpected envelope %+v", msg)
		}
		var ev VerdictEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			t.Fatalf("payload is not a verdict event: %v", err)
		}
		if ev.Operation != OperationImage || ev.Alert || ev.ID == "" {
			t.Errorf("unexpected event %+v", ev)
		}
		alerts.quiet(t)
	})

	t.Run("FraudReachesBothTopics", func(t *testing.T) {
		err := pub.Publish(ctx, VerdictEvent{
			TenantID:  "tenant-001",
			Operation: OperationTransaction,
			Verdict:   domain.VerdictFraudDetected,
			Score:     85,
		})
		if err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
		verdicts.wait(t, 1)
		msgs := alerts.wait(t, 1)

		var ev VerdictEvent
		if err := json.Unmarshal(msgs[0].Payload, &ev); err != nil {
			t.Fatalf("payload is not a verdict event: %v", err)
		}
		if !ev.Alert || ev.Verdict != domain.VerdictFraudDetected {
			t.Errorf("unexpected alert %+v", ev)
		}
	})
}

func TestChannelBusTenants(t *testing.T) {
	ctx := context.Background()

	t.Run("Isolation", func(t *testing.T) {
		b := NewChannelBus(100)
		defer b.Close()

		a, other := newCollector(), newCollector()
		b.Subscribe(ctx, "tenant-a", domain.TopicAlert, a.handle)
		b.Subscribe(ctx, "tenant-b", domain.TopicAlert, other.handle)

		if err := b.Publish(ctx, "tenant-a", domain.TopicAlert, []byte("{}")); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
		a.wait(t, 1)
		other.quiet(t)
	})

	t.Run("GlobalSubscriberSeesEveryTenant", func(t *testing.T) {
		b := NewChannelBus(100)
		defer b.Close()

		global := newCollector()
		if _, err := b.Subscribe(ctx, domain.GlobalTenantID, domain.TopicTransactionSubmitted, global.handle); err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}

		for _, tenant := range []string{"tenant-a", "tenant-b"} {
			if _, err := Submit(ctx, b, tenant, domain.TransactionRecord{UPIID: "shop@okaxis"}); err != nil {
				t.Fatalf("Submit failed: %v", err)
			}
		}

		msgs := global.wait(t, 2)
		seen := map[string]bool{}
		for _, m := range msgs {
			seen[m.TenantID] = true
			var s Submission
			if err := json.Unmarshal(m.Payload, &s); err != nil || s.RequestID == "" {
				t.Errorf("bad submission payload %q: %v", m.Payload, err)
			}
		}
		if !seen["tenant-a"] || !seen["tenant-b"] {
			t.Errorf("expected both tenants, got %v", seen)
		}
	})

	t.Run("GlobalPublishIsNotDuplicated", func(t *testing.T) {
		b := NewChannelBus(100)
		defer b.Close()

		global := newCollector()
		b.Subscribe(ctx, domain.GlobalTenantID, domain.TopicVerdict, global.handle)
		b.Publish(ctx, domain.GlobalTenantID, domain.TopicVerdict, []byte("{}"))

		global.wait(t, 1)
		global.quiet(t)
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		b := NewChannelBus(100)
		defer b.Close()

		if err := b.Publish(ctx, "", domain.TopicVerdict, nil); err == nil {
			t.Error("expected error for empty tenant on publish")
		}
		if _, err := b.Subscribe(ctx, "", domain.TopicVerdict, newCollector().handle); err == nil {
			t.Error("expected error for empty tenant on subscribe")
		}
	})
}

func TestChannelBusUnsubscribe(t *testing.T) {
	b := NewChannelBus(100)
	defer b.Close()
	ctx := context.Background()

	kept, dropped := newCollector(), newCollector()
	b.Subscribe(ctx, "tenant-001", domain.TopicAlert, kept.handle)
	sub, err := b.Subscribe(ctx, "tenant-001", domain.TopicAlert, dropped.handle)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if sub.Topic() != domain.TopicAlert {
		t.Errorf("expected topic %s, got %s", domain.TopicAlert, sub.Topic())
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}

	if remaining := b.subscribers("tenant-001", domain.TopicAlert); remaining != 1 {
		t.Errorf("expected 1 remaining subscription, got %d", remaining)
	}

	b.Publish(ctx, "tenant-001", domain.TopicAlert, []byte("{}"))
	kept.wait(t, 1)
	dropped.quiet(t)
}

func TestChannelBusClose(t *testing.T) {
	b := NewChannelBus(100)
	ctx := context.Background()

	b.Subscribe(ctx, "tenant-001", domain.TopicVerdict, newCollector().handle)

	if err := b.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second close must be a no-op: %v", err)
	}

	if err := b.Publish(ctx, "tenant-001", domain.TopicVerdict, []byte("{}")); err == nil {
		t.Error("expected error after close")
	}
	if _, err := b.Subscribe(ctx, "tenant-001", domain.TopicVerdict, newCollector().handle); err == nil {
		t.Error("expected subscribe error after close")
	}
	if err := b.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer b.Close()

		if _, ok := b.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("EmptyTypeDefaultsToChannel", func(t *testing.T) {
		b, err := New(domain.EventBusConfig{})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer b.Close()

		cb, ok := b.(*ChannelBus)
		if !ok {
			t.Fatal("expected ChannelBus for an empty type")
		}
		if cb.bufferSize != defaultBufferSize {
			t.Errorf("expected default buffer %d, got %d", defaultBufferSize, cb.bufferSize)
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		_, err := New(domain.EventBusConfig{Type: "kafka"})
		if !errors.Is(err, domain.ErrInput) {
			t.Errorf("expected input error for unsupported type, got %v", err)
		}
	})
}

func TestChannelBusSubmissionBurst(t *testing.T) {
	b := NewChannelBus(1000)
	defer b.Close()
	ctx := context.Background()

	var received atomic.Int32
	const submissions = 200

	var wg sync.WaitGroup
	wg.Add(submissions)
	b.Subscribe(ctx, "tenant-load", domain.TopicTransactionSubmitted, func(ctx context.Context, msg *domain.Message) error {
		received.Add(1)
		wg.Done()
		return nil
	})

	var pubs sync.WaitGroup
	for i := 0; i < submissions; i++ {
		pubs.Add(1)
		go func() {
			defer pubs.Done()
			if _, err := Submit(ctx, b, "tenant-load", domain.TransactionRecord{Amount: "499"}); err != nil {
				t.Errorf("Submit failed: %v", err)
			}
		}()
	}
	pubs.Wait()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if received.Load() != submissions {
			t.Errorf("expected %d submissions, got %d", submissions, received.Load())
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout: received %d/%d submissions", received.Load(), submissions)
	}
}

func TestChannelBusFullBufferDrops(t *testing.T) {
	b := NewChannelBus(1)
	defer b.Close()
	ctx := context.Background()

	release := make(chan struct{})
	var handled atomic.Int32
	b.Subscribe(ctx, "tenant-001", domain.TopicVerdict, func(ctx context.Context, msg *domain.Message) error {
		<-release
		handled.Add(1)
		return nil
	})

	// One message blocks in the handler, one fills the buffer, the rest drop.
	for i := 0; i < 10; i++ {
		if err := b.Publish(ctx, "tenant-001", domain.TopicVerdict, []byte("{}")); err != nil {
			t.Fatalf("Publish must not fail on a full buffer: %v", err)
		}
	}
	close(release)

	time.Sleep(100 * time.Millisecond)
	if n := handled.Load(); n < 1 || n > 2 {
		t.Errorf("expected 1 or 2 handled messages, got %d", n)
	}
}

func TestNATSSubjects(t *testing.T) {
	if got := subject(domain.TopicAlert, "tenant-001"); got != "harrier.alert.tenant-001" {
		t.Errorf("unexpected subject %q", got)
	}
	// The global tenant becomes the single-token wildcard.
	if got := subject(domain.TopicTransactionSubmitted, domain.GlobalTenantID); got != "harrier.transaction.submitted.*" {
		t.Errorf("unexpected wildcard subject %q", got)
	}
}
