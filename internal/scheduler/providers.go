package scheduler

import (
	"context"
	"fmt"

	"github.com/pulse-overlay/backend/internal/poll"
	"github.com/pulse-overlay/backend/internal/store"
)

// Store keys consumed by the default collaborator implementations. Both keys
// are written by systems outside this engine (chat ingestion, admin tools).
const (
	KeyContentPool = "poll_content_pool"
	KeySessionLive = "session_live"
)

// PoolContentProvider pops pre-built poll content from an operator-seeded
// list in the shared store. It satisfies ContentProvider for deployments
// without a generator service.
type PoolContentProvider struct {
	store store.Store
}

// NewPoolContentProvider creates a store-backed content provider.
func NewPoolContentProvider(st store.Store) *PoolContentProvider {
	return &PoolContentProvider{store: st}
}

// GeneratePollContent pops the next pooled poll, or nil when the pool is empty.
func (p *PoolContentProvider) GeneratePollContent(ctx context.Context) (*poll.QueuedPoll, error) {
	var q poll.QueuedPoll
	found, err := p.store.PopHead(ctx, KeyContentPool, &q)
	if err != nil {
		return nil, fmt.Errorf("pop content pool: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &q, nil
}

// StoreLiveness reads the session_live flag maintained by the ingestion layer.
// Absent key means not live.
func StoreLiveness(st store.Store) LivenessFunc {
	return func(ctx context.Context) (bool, error) {
		var live bool
		found, err := st.Get(ctx, KeySessionLive, &live)
		if err != nil {
			return false, fmt.Errorf("read liveness: %w", err)
		}
		return found && live, nil
	}
}
