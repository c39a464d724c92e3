package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/opensource-finance/harrier/internal/domain"
)

// NATS header names set on every published message so that tooling can
// route on them without decoding the envelope.
const (
	headerTenant = "Harrier-Tenant"
	headerMsgID  = nats.MsgIdHdr
)

// NATSBus spreads bus traffic across Harrier instances. Subjects are
// "<topic>.<tenant>", so a GlobalTenantID subscription maps onto the
// "<topic>.*" wildcard.
type NATSBus struct {
	conn       *nats.Conn
	queueGroup string

	mu   sync.Mutex
	subs map[string]*natsSubscription
}

type natsSubscription struct {
	bus   *NATSBus
	id    string
	topic string
	sub   *nats.Subscription
}

// NewNATSBus connects to the configured server. The client keeps retrying
// in the background, but startup fails if no connection is made within
// MaxReconnects × ReconnectWait.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	url := cfg.NATSUrl
	if url == "" {
		url = nats.DefaultURL
	}
	attempts := cfg.NATSMaxReconnects
	if attempts <= 0 {
		attempts = 10
	}
	wait := cfg.NATSReconnectWait
	if wait <= 0 {
		wait = 5 * time.Second
	}

	connected := make(chan struct{}, 1)
	opts := []nats.Option{
		nats.Name("harrier"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(attempts),
		nats.ReconnectWait(wait),
		nats.ReconnectBufSize(8 << 20),
		nats.ConnectHandler(func(nc *nats.Conn) {
			select {
			case connected <- struct{}{}:
			default:
			}
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err, "will_reconnect", !nc.IsClosed())
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error("nats async error", "subject", subject, "error", err)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	if !conn.IsConnected() {
		slog.Warn("nats not reachable yet, retrying", "url", url, "attempts", attempts, "wait", wait)
		select {
		case <-connected:
		case <-time.After(time.Duration(attempts) * wait):
			conn.Close()
			return nil, fmt.Errorf("nats at %s unreachable after %d attempts", url, attempts)
		}
	}

	slog.Info("nats connected", "url", conn.ConnectedUrl(), "server_id", conn.ConnectedServerId(), "queue_group", cfg.NATSQueueGroup)

	return &NATSBus{
		conn:       conn,
		queueGroup: cfg.NATSQueueGroup,
		subs:       make(map[string]*natsSubscription),
	}, nil
}

// Publish wraps payload in a Message envelope and sends it on the tenant's
// subject. GlobalTenantID is a subscription wildcard and cannot be a sender.
func (b *NATSBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	if tenantID == domain.GlobalTenantID {
		return fmt.Errorf("cannot publish as the wildcard tenant")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := domain.Message{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Timestamp: time.Now().UnixNano(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	out := nats.NewMsg(subject(topic, tenantID))
	out.Data = data
	out.Header.Set(headerTenant, tenantID)
	out.Header.Set(headerMsgID, msg.ID)
	return b.conn.PublishMsg(out)
}

// Subscribe registers handler on the tenant's subject. Submissions join the
// configured queue group so each one is consumed by a single instance.
func (b *NATSBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	subj := subject(topic, tenantID)
	deliver := func(m *nats.Msg) {
		var msg domain.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			slog.Error("dropping undecodable nats message", "subject", m.Subject, "error", err)
			return
		}
		if tenantID != domain.GlobalTenantID && msg.TenantID != tenantID {
			slog.Warn("dropping message for another tenant", "subject", m.Subject, "tenant_id", msg.TenantID)
			return
		}
		if err := handler(ctx, &msg); err != nil {
			slog.Error("bus handler failed", "subject", m.Subject, "message_id", msg.ID, "error", err)
		}
	}

	var (
		ns  *nats.Subscription
		err error
	)
	if topic == domain.TopicTransactionSubmitted && b.queueGroup != "" {
		ns, err = b.conn.QueueSubscribe(subj, b.queueGroup, deliver)
	} else {
		ns, err = b.conn.Subscribe(subj, deliver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subj, err)
	}

	s := &natsSubscription{bus: b, id: uuid.NewString(), topic: topic, sub: ns}
	b.mu.Lock()
	b.subs[s.id] = s
	b.mu.Unlock()
	return s, nil
}

// Ping round-trips to the server.
func (b *NATSBus) Ping(ctx context.Context) error {
	if status := b.conn.Status(); status != nats.CONNECTED {
		return fmt.Errorf("nats connection is %s", status)
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drains the subscriptions so in-flight submissions finish, then
// closes the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	b.subs = make(map[string]*natsSubscription)
	b.mu.Unlock()

	if b.conn.IsClosed() {
		return nil
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("failed to drain nats connection: %w", err)
	}
	return nil
}

func subject(topic, tenantID string) string {
	return topic + "." + tenantID
}

func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	return s.sub.Unsubscribe()
}

func (s *natsSubscription) Topic() string {
	return s.topic
}
