// Package overlay composes the combined view pushed to displays: the poll
// state plus whatever sibling overlay fields the rest of the system stores.
package overlay

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/pulse-overlay/backend/internal/poll"
	"github.com/pulse-overlay/backend/internal/store"
)

// KeyFields is the shared store key holding sibling overlay state (leaderboard,
// alerts, theme) merged into every snapshot. Written by collaborators outside
// this engine.
const KeyFields = "overlay_fields"

// MessageType is the envelope type of every pushed snapshot.
const MessageType = "settings_update"

// Snapshot is the combined display view. Fields are kept as raw JSON so an
// explicit null stays distinguishable from an absent key: an omitted field and
// a cleared field mean different things to the renderer.
type Snapshot struct {
	Type   string
	Poll   *poll.State
	Fields map[string]json.RawMessage
}

// MarshalJSON flattens Fields to the top level next to type and pollState,
// matching the wire shape displays consume. Reserved keys in Fields are
// skipped rather than allowed to shadow the envelope.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(s.Fields)+2)
	for k, v := range s.Fields {
		if k == "type" || k == "pollState" {
			continue
		}
		out[k] = v
	}
	typ, err := json.Marshal(s.Type)
	if err != nil {
		return nil, err
	}
	out["type"] = typ
	pollJSON, err := json.Marshal(s.Poll) // null when idle
	if err != nil {
		return nil, err
	}
	out["pollState"] = pollJSON
	return json.Marshal(out)
}

// Hash returns a content hash of the marshalled snapshot. Map keys marshal in
// sorted order, so byte-identical content always hashes identically.
func Hash(payload []byte) string {
	return strconv.FormatUint(xxhash.Sum64(payload), 16)
}

// Compose builds the current snapshot from the shared store.
func Compose(ctx context.Context, st store.Store) (*Snapshot, error) {
	snap := &Snapshot{Type: MessageType}

	var pollState poll.State
	found, err := st.Get(ctx, poll.KeyState, &pollState)
	if err != nil {
		return nil, fmt.Errorf("compose poll state: %w", err)
	}
	if found {
		snap.Poll = &pollState
	}

	fields := make(map[string]json.RawMessage)
	if _, err := st.Get(ctx, KeyFields, &fields); err != nil {
		return nil, fmt.Errorf("compose overlay fields: %w", err)
	}
	snap.Fields = fields
	return snap, nil
}
