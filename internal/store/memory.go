package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Memory implements Store with a mutex-guarded map. Used by tests and
// single-node development; semantics match the Redis implementation, including
// key expiry, so lock behavior is identical under test.
type Memory struct {
	mu     sync.Mutex
	values map[string][]byte
	lists  map[string][][]byte
	expiry map[string]time.Time
	now    func() time.Time
}

// NewMemory creates an in-memory store.
func NewMemory() *Memory {
	return &Memory{
		values: make(map[string][]byte),
		lists:  make(map[string][][]byte),
		expiry: make(map[string]time.Time),
		now:    time.Now,
	}
}

// SetClock overrides the clock used for key expiry. Test hook.
func (s *Memory) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// expired reports whether key has a passed expiry. Caller holds the lock.
func (s *Memory) expired(key string) bool {
	exp, ok := s.expiry[key]
	return ok && s.now().After(exp)
}

func (s *Memory) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired(key) {
		delete(s.values, key)
		delete(s.expiry, key)
	}
	raw, ok := s.values[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (s *Memory) Set(ctx context.Context, key string, val interface{}) error {
	raw, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = raw
	delete(s.expiry, key)
	return nil
}

func (s *Memory) SetNX(ctx context.Context, key string, val interface{}, ttl time.Duration) (bool, error) {
	raw, err := json.Marshal(val)
	if err != nil {
		return false, fmt.Errorf("marshal %s: %w", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired(key) {
		delete(s.values, key)
		delete(s.expiry, key)
	}
	if _, exists := s.values[key]; exists {
		return false, nil
	}
	s.values[key] = raw
	if ttl > 0 {
		s.expiry[key] = s.now().Add(ttl)
	}
	return true, nil
}

func (s *Memory) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	delete(s.expiry, key)
	delete(s.lists, key)
	return nil
}

func (s *Memory) PushTail(ctx context.Context, key string, val interface{}) error {
	raw, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[key] = append(s.lists[key], raw)
	return nil
}

func (s *Memory) PopHead(ctx context.Context, key string, dest interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[key]
	if len(list) == 0 {
		return false, nil
	}
	raw := list[0]
	s.lists[key] = list[1:]
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (s *Memory) ListLen(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.lists[key])), nil
}
