package domain

import (
	"context"
	"time"
)

// Topics carried by the event bus. Verdicts fan out to every subscriber;
// submissions are work items and go to exactly one consumer where the
// transport supports it.
const (
	TopicTransactionSubmitted = "harrier.transaction.submitted"
	TopicVerdict              = "harrier.verdict"
	TopicAlert                = "harrier.alert"
)

// EventBus moves tenant-scoped messages between the engine, the async
// worker and external listeners. Subscribing under GlobalTenantID receives
// every tenant's traffic on that topic.
type EventBus interface {
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler processes one delivered message. A returned error is
// logged by the bus; delivery is not retried.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the envelope wrapped around every payload on the bus.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription is an active handler registration.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig selects and tunes the bus. "channel" stays in process;
// "nats" spans instances.
type EventBusConfig struct {
	Type string

	ChannelBufferSize int

	NATSUrl   string
	NATSToken string
	// NATSQueueGroup load-balances submissions across instances. Empty
	// makes every instance consume every submission.
	NATSQueueGroup    string
	NATSMaxReconnects int
	NATSReconnectWait time.Duration
}
