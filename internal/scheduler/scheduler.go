// Package scheduler runs the periodic tick: resolve polls whose timer has
// elapsed, clear expired winner displays, and decide whether to auto-start a
// new poll. Every decision is re-evaluated from the shared store on each tick,
// so any number of scheduler processes can run concurrently.
package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/pulse-overlay/backend/internal/poll"
)

// ContentProvider supplies the next poll's question and options. Returning
// nil content means nothing to start this cycle. Content generation itself
// lives outside the engine.
type ContentProvider interface {
	GeneratePollContent(ctx context.Context) (*poll.QueuedPoll, error)
}

// LivenessFunc reports whether the upstream stream session is live. Polls
// never auto-start against an offline stream.
type LivenessFunc func(ctx context.Context) (bool, error)

// Scheduler drives resolution and auto-start on a fixed interval.
type Scheduler struct {
	engine   *poll.Engine
	content  ContentProvider
	isLive   LivenessFunc
	logger   *zap.Logger
	interval time.Duration
	now      func() time.Time
}

// New creates a scheduler.
func New(engine *poll.Engine, content ContentProvider, isLive LivenessFunc, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Scheduler{
		engine:   engine,
		content:  content,
		isLive:   isLive,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
}

// SetClock overrides the scheduler clock. Test hook.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// Run loops Tick until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick performs one scheduling pass. Errors are logged, never returned: the
// next tick simply retries, and a tick that loses the resolution lock is not
// an error at all.
func (s *Scheduler) Tick(ctx context.Context) {
	if resolved, err := s.engine.ResolveDue(ctx); err != nil {
		s.logger.Error("poll resolution failed", zap.Error(err))
	} else if resolved {
		s.logger.Info("poll resolved by this tick")
	}

	started, err := s.TryAutoStart(ctx)
	if err != nil {
		s.logger.Error("auto-start failed", zap.Error(err))
		return
	}
	if started {
		s.logger.Info("poll auto-started")
	}
}

// TryAutoStart decides whether a new poll should start now. All gates read
// fresh state; the final StartPoll fails closed on AlreadyActive, which makes
// the whole decision idempotent under concurrent execution.
func (s *Scheduler) TryAutoStart(ctx context.Context) (bool, error) {
	settings, err := s.engine.Settings(ctx)
	if err != nil {
		return false, err
	}
	if !settings.Enabled || !settings.AutoStartEnabled {
		return false, nil
	}

	// Never interrupt a running poll or a winner still on display.
	cur, err := s.engine.Current(ctx)
	if err != nil {
		return false, err
	}
	if cur != nil {
		return false, nil
	}

	lastEnded, err := s.engine.LastEndedAt(ctx)
	if err != nil {
		return false, err
	}
	minGap := time.Duration(settings.MinutesSinceLastPoll) * time.Minute
	if !lastEnded.IsZero() && s.now().Sub(lastEnded) < minGap {
		return false, nil
	}

	if s.isLive != nil {
		live, err := s.isLive(ctx)
		if err != nil {
			return false, err
		}
		if !live {
			return false, nil
		}
	}

	if s.content == nil {
		return false, nil
	}
	content, err := s.content.GeneratePollContent(ctx)
	if err != nil {
		return false, err
	}
	if content == nil {
		return false, nil
	}

	duration := content.DurationSeconds
	if duration <= 0 {
		duration = settings.DefaultDurationSeconds
	}
	_, err = s.engine.StartPoll(ctx, content.Question, content.Options, duration)
	if errors.Is(err, poll.ErrAlreadyActive) {
		// a concurrent invocation started one first
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
