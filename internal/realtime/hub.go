// Package realtime pushes overlay snapshots to connected displays over
// WebSocket. The hub's connection set is per-process; a Redis pub/sub relay
// lets several server processes fan out each other's publishes.
package realtime

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait (seconds) drive the heartbeat that keeps
	// intermediary proxies from silently timing out a quiet channel.
	PingInterval = 30
	PongWait     = 60
)

// Relay mirrors publishes across server processes. Optional.
type Relay interface {
	Publish(ctx context.Context, payload []byte) error
	Subscribe(handler func(payload []byte)) (cancel func(), err error)
}

// SnapshotSource supplies the current snapshot for freshly connected displays.
type SnapshotSource func(ctx context.Context) ([]byte, error)

// Hub maintains the set of connected displays and broadcasts snapshots.
type Hub struct {
	mu       sync.RWMutex
	displays map[string]*Client
	logger   *zap.Logger
	relay    Relay
	initial  SnapshotSource
	cancel   func()
}

// NewHub creates a broadcast hub. relay may be nil for single-process runs.
func NewHub(logger *zap.Logger, relay Relay) *Hub {
	return &Hub{
		displays: make(map[string]*Client),
		logger:   logger,
		relay:    relay,
	}
}

// SetSnapshotSource sets the provider of the initial frame sent on connect.
func (h *Hub) SetSnapshotSource(src SnapshotSource) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.initial = src
}

// Start subscribes to the relay so publishes from other processes reach this
// process's displays. No-op without a relay. When the subscribe fails the
// relay is dropped entirely: relayed copies are the only route back to local
// displays, so publishing into a relay nobody here listens to would leave
// them silent.
func (h *Hub) Start() error {
	h.mu.RLock()
	relay := h.relay
	h.mu.RUnlock()
	if relay == nil {
		return nil
	}
	cancel, err := relay.Subscribe(func(payload []byte) {
		h.broadcastLocal(payload)
	})
	if err != nil {
		h.mu.Lock()
		h.relay = nil
		h.mu.Unlock()
		return err
	}
	h.cancel = cancel
	return nil
}

// Stop cancels the relay subscription.
func (h *Hub) Stop() {
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// Publish fans a snapshot out to every connected display. Fire-and-forget:
// callers never block on delivery and never see a failure, because the store
// write that triggered the publish is the durable truth. With a relay the
// payload is published once and broadcast by every process's subscriber
// (including this one), so local clients are not delivered twice.
func (h *Hub) Publish(payload []byte) {
	h.mu.RLock()
	relay := h.relay
	h.mu.RUnlock()
	if relay != nil {
		if err := relay.Publish(context.Background(), payload); err != nil {
			h.logger.Warn("relay publish failed, broadcasting locally", zap.Error(err))
			h.broadcastLocal(payload)
		}
		return
	}
	h.broadcastLocal(payload)
}

func (h *Hub) broadcastLocal(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.displays {
		select {
		case c.send <- payload:
		default:
			// buffer full, skip; the next snapshot supersedes this one
		}
	}
}

// DisplayCount returns the number of connected displays in this process.
func (h *Hub) DisplayCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.displays)
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.displays[c.ID] = c
	initial := h.initial
	h.mu.Unlock()
	h.logger.Debug("display connected", zap.String("client_id", c.ID))

	if initial == nil {
		return
	}
	payload, err := initial(context.Background())
	if err != nil {
		h.logger.Warn("initial snapshot failed", zap.String("client_id", c.ID), zap.Error(err))
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	delete(h.displays, c.ID)
	h.mu.Unlock()
	h.logger.Debug("display disconnected", zap.String("client_id", c.ID))
}
