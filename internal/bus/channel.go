package bus

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
)

// route identifies the subscribers of one topic for one tenant.
type route struct {
	tenantID string
	topic    string
}

// ChannelBus is the in-process EventBus. Each subscriber owns a buffered
// channel drained by its own goroutine, so a slow handler only delays its
// own deliveries.
type ChannelBus struct {
	bufferSize int

	mu     sync.RWMutex
	routes map[route][]*channelSubscription
	closed bool
}

type channelSubscription struct {
	bus     *ChannelBus
	id      string
	route   route
	handler domain.MessageHandler
	inbox   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewChannelBus returns a bus whose subscribers buffer up to bufferSize
// messages each.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &ChannelBus{
		bufferSize: bufferSize,
		routes:     make(map[route][]*channelSubscription),
	}
}

// Publish hands the message to the tenant's subscribers plus every
// GlobalTenantID subscriber. A subscriber with a full buffer misses it.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	msg := &domain.Message{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Timestamp: time.Now().UnixNano(),
	}

	// Held across the sends: Close must not close an inbox mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}

	b.deliver(route{tenantID, topic}, msg)
	if tenantID != domain.GlobalTenantID {
		b.deliver(route{domain.GlobalTenantID, topic}, msg)
	}
	return nil
}

func (b *ChannelBus) deliver(r route, msg *domain.Message) {
	for _, sub := range b.routes[r] {
		select {
		case sub.inbox <- msg:
		default:
			slog.Warn("subscriber buffer full, dropping message",
				"topic", msg.Topic,
				"tenant_id", msg.TenantID,
				"subscription_id", sub.id,
			)
		}
	}
}

// Subscribe starts a delivery goroutine for handler. It stops when ctx is
// cancelled, the subscription is dropped or the bus closes.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		bus:     b,
		id:      uuid.NewString(),
		route:   route{tenantID, topic},
		handler: handler,
		inbox:   make(chan *domain.Message, b.bufferSize),
		ctx:     subCtx,
		cancel:  cancel,
	}
	b.routes[sub.route] = append(b.routes[sub.route], sub)

	go sub.run()
	return sub, nil
}

func (s *channelSubscription) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-s.inbox:
			if !ok {
				return
			}
			if err := s.handler(s.ctx, msg); err != nil {
				slog.Warn("event handler failed",
					"topic", msg.Topic,
					"tenant_id", msg.TenantID,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Close stops every subscriber. Calling it twice is harmless.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.routes {
		for _, sub := range subs {
			sub.cancel()
			close(sub.inbox)
		}
	}
	clear(b.routes)
	return nil
}

// subscribers reports how many handlers are attached to a route.
func (b *ChannelBus) subscribers(tenantID, topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.routes[route{tenantID, topic}])
}

func (s *channelSubscription) Unsubscribe() error {
	s.cancel()

	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := slices.DeleteFunc(b.routes[s.route], func(other *channelSubscription) bool {
		return other == s
	})
	if len(subs) == 0 {
		delete(b.routes, s.route)
	} else {
		b.routes[s.route] = subs
	}
	return nil
}

func (s *channelSubscription) Topic() string {
	return s.route.topic
}
