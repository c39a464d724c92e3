// Package bus carries verdict events and queued transaction submissions
// between the scoring engine and its consumers.
package bus

import (
	"fmt"
	"log/slog"

	"github.com/opensource-finance/harrier/internal/domain"
)

const defaultBufferSize = 1000

// New builds the event bus named by cfg.Type. An empty type selects the
// in-process channel bus so a bare config still runs standalone.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "", "channel":
		size := cfg.ChannelBufferSize
		if size <= 0 {
			size = defaultBufferSize
		}
		slog.Debug("event bus ready", "type", "channel", "buffer", size)
		return NewChannelBus(size), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("%w: unsupported event bus type %q", domain.ErrInput, cfg.Type)
	}
}
