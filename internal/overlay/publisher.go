package overlay

import (
	"context"

	"go.uber.org/zap"

	"github.com/pulse-overlay/backend/internal/store"
)

// Broadcaster fans a payload out to connected displays. Publish must not
// block and must not report delivery failures to the caller.
type Broadcaster interface {
	Publish(payload []byte)
}

// Publisher composes a snapshot after each poll mutation and hands it to the
// hub. Broadcast is best-effort: the durable truth is the store, so every
// failure here is logged and swallowed.
type Publisher struct {
	store  store.Store
	hub    Broadcaster
	logger *zap.Logger
}

// NewPublisher creates a snapshot publisher.
func NewPublisher(st store.Store, hub Broadcaster, logger *zap.Logger) *Publisher {
	return &Publisher{store: st, hub: hub, logger: logger}
}

// PollChanged implements poll.Notifier.
func (p *Publisher) PollChanged(ctx context.Context) {
	payload, err := p.Current(ctx)
	if err != nil {
		p.logger.Warn("snapshot compose failed", zap.Error(err))
		return
	}
	p.hub.Publish(payload)
}

// Current returns the marshalled current snapshot. Used both for broadcasting
// and as the initial frame for freshly connected displays.
func (p *Publisher) Current(ctx context.Context) ([]byte, error) {
	snap, err := Compose(ctx, p.store)
	if err != nil {
		return nil, err
	}
	return snap.MarshalJSON()
}
