package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulse-overlay/backend/internal/lock"
	"github.com/pulse-overlay/backend/internal/store"
)

// Notifier is told after every successful state mutation so the broadcast hub
// can push a fresh snapshot. Implementations must swallow their own failures:
// the store write already succeeded, so state is durable either way.
type Notifier interface {
	PollChanged(ctx context.Context)
}

// Archiver records finished polls. Best-effort: an archive failure never fails
// the resolution that triggered it.
type Archiver interface {
	Archive(ctx context.Context, st *State) error
}

// Options tunes the engine.
type Options struct {
	WinnerDisplay   time.Duration // how long the result stays visible
	DefaultDuration time.Duration // used when a caller passes no duration
}

// Engine is the poll state machine. It holds no poll state itself; every
// operation rehydrates from the shared store, so an Engine value is safe to
// share across request handlers and ticks.
type Engine struct {
	store    store.Store
	lock     *lock.Lock
	logger   *zap.Logger
	opts     Options
	notifier Notifier
	events   EventSink
	archiver Archiver
	now      func() time.Time
}

// NewEngine creates a poll engine.
func NewEngine(st store.Store, lk *lock.Lock, logger *zap.Logger, opts Options) *Engine {
	if opts.WinnerDisplay <= 0 {
		opts.WinnerDisplay = 30 * time.Second
	}
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = 60 * time.Second
	}
	return &Engine{
		store:  st,
		lock:   lk,
		logger: logger,
		opts:   opts,
		now:    time.Now,
	}
}

// SetNotifier sets the broadcast callback invoked after each mutation.
func (e *Engine) SetNotifier(n Notifier) { e.notifier = n }

// SetEventSink sets the lifecycle event receiver (chat relay).
func (e *Engine) SetEventSink(s EventSink) { e.events = s }

// SetArchiver sets the finished-poll archive.
func (e *Engine) SetArchiver(a Archiver) { e.archiver = a }

// SetClock overrides the engine clock. Test hook.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Current returns the stored poll state, or nil when idle. Vote counts are
// recomputed from the voters maps on the way out.
func (e *Engine) Current(ctx context.Context) (*State, error) {
	var st State
	found, err := e.store.Get(ctx, KeyState, &st)
	if err != nil {
		return nil, fmt.Errorf("load poll state: %w", err)
	}
	if !found {
		return nil, nil
	}
	st.normalize()
	return &st, nil
}

// StartPoll creates a new active poll. Fails with ErrAlreadyActive when a poll
// is running or a winner is still on display; an expired winner record is
// cleared first. The create itself is a set-if-absent, so out of any number of
// concurrent starts exactly one wins.
func (e *Engine) StartPoll(ctx context.Context, question string, options []string, durationSeconds int) (*State, error) {
	if err := validateContent(question, options); err != nil {
		return nil, err
	}
	if durationSeconds <= 0 {
		durationSeconds = int(e.opts.DefaultDuration.Seconds())
	}
	now := e.now()

	cur, err := e.Current(ctx)
	if err != nil {
		return nil, err
	}
	if cur != nil {
		if cur.Status == StatusWinner && cur.WinnerExpired(now) {
			if err := e.store.Delete(ctx, KeyState); err != nil {
				return nil, fmt.Errorf("clear stale winner: %w", err)
			}
		} else {
			return nil, ErrAlreadyActive
		}
	}

	st := &State{
		ID:              uuid.New().String(),
		Question:        question,
		Options:         make([]Option, len(options)),
		StartedAt:       now,
		DurationSeconds: durationSeconds,
		Status:          StatusActive,
	}
	for i, label := range options {
		st.Options[i] = Option{Label: label, Voters: make(map[string]int)}
	}

	created, err := e.store.SetNX(ctx, KeyState, st, 0)
	if err != nil {
		return nil, fmt.Errorf("store poll state: %w", err)
	}
	if !created {
		return nil, ErrAlreadyActive
	}
	e.touch(ctx)

	e.logger.Info("poll started",
		zap.String("poll_id", st.ID),
		zap.String("question", st.Question),
		zap.Int("duration_sec", st.DurationSeconds))
	e.emit(Event{Type: EventPollStarted, Question: question, Options: options, DurationSeconds: durationSeconds})
	e.notify(ctx)
	return st, nil
}

// CastVote records or changes a voter's choice. A repeat vote moves the
// voter's single entry; it is never additive. Concurrent votes race
// last-writer-wins on the whole record, which is acceptable because counts
// are derived from the voters maps on every read.
func (e *Engine) CastVote(ctx context.Context, voterID string, optionIndex int) error {
	st, err := e.Current(ctx)
	if err != nil {
		return err
	}
	if st == nil || st.Status != StatusActive {
		return ErrNoActivePoll
	}
	if st.Expired(e.now()) {
		return ErrPollExpired
	}
	if optionIndex < 0 || optionIndex >= len(st.Options) {
		return ErrInvalidOption
	}

	for i := range st.Options {
		delete(st.Options[i].Voters, voterID)
	}
	st.Options[optionIndex].Voters[voterID] = optionIndex
	st.normalize()

	if err := e.store.Set(ctx, KeyState, st); err != nil {
		return fmt.Errorf("store vote: %w", err)
	}
	e.touch(ctx)
	e.notify(ctx)
	return nil
}

// EndPoll transitions active -> winner. Calling it when no poll is active is a
// no-op, not an error, because several invocations may race to resolve the
// same poll.
func (e *Engine) EndPoll(ctx context.Context) error {
	st, err := e.Current(ctx)
	if err != nil {
		return err
	}
	if st == nil || st.Status != StatusActive {
		return nil
	}

	now := e.now()
	winner := st.winnerIndex()
	displayUntil := now.Add(e.opts.WinnerDisplay)
	st.Status = StatusWinner
	st.WinnerIndex = &winner
	st.WinnerDisplayUntil = &displayUntil

	if err := e.store.Set(ctx, KeyState, st); err != nil {
		return fmt.Errorf("store winner: %w", err)
	}
	if err := e.store.Set(ctx, KeyLastEndedAt, now.Unix()); err != nil {
		return fmt.Errorf("store last ended: %w", err)
	}
	e.touch(ctx)

	labels := make([]string, len(st.Options))
	for i := range st.Options {
		labels[i] = st.Options[i].Label
	}
	e.logger.Info("poll ended",
		zap.String("poll_id", st.ID),
		zap.String("winner", st.Options[winner].Label),
		zap.Int("total_votes", st.TotalVotes()))

	if e.archiver != nil {
		if err := e.archiver.Archive(ctx, st); err != nil {
			e.logger.Warn("poll archive failed", zap.String("poll_id", st.ID), zap.Error(err))
		}
	}
	e.emit(Event{Type: EventPollEnded, Question: st.Question, Options: labels, Winner: st.Options[winner].Label})
	e.notify(ctx)
	return nil
}

// ClearIfExpiredWinner transitions winner -> idle by deleting the record once
// the display window has elapsed. Returns whether a record was cleared.
func (e *Engine) ClearIfExpiredWinner(ctx context.Context) (bool, error) {
	st, err := e.Current(ctx)
	if err != nil {
		return false, err
	}
	if st == nil || !st.WinnerExpired(e.now()) {
		return false, nil
	}
	if err := e.store.Delete(ctx, KeyState); err != nil {
		return false, fmt.Errorf("clear winner: %w", err)
	}
	e.touch(ctx)
	e.notify(ctx)
	return true, nil
}

// Enqueue appends a pre-built poll to the FIFO queue for back-to-back runs.
func (e *Engine) Enqueue(ctx context.Context, q QueuedPoll) error {
	if err := validateContent(q.Question, q.Options); err != nil {
		return err
	}
	if err := e.store.PushTail(ctx, KeyQueue, q); err != nil {
		return fmt.Errorf("enqueue poll: %w", err)
	}
	return nil
}

// QueueLen returns how many polls are waiting.
func (e *Engine) QueueLen(ctx context.Context) (int64, error) {
	return e.store.ListLen(ctx, KeyQueue)
}

// ResolveDue drives the timer edges of the state machine. It is called from
// every periodic tick and may be called by any request that notices an elapsed
// timer; the resolution lock guarantees only one caller acts per edge.
//
//   - active poll past its timer: end it (winner display begins)
//   - winner past its display window: clear it, then start the next queued
//     poll if one is waiting
//
// Returns whether this invocation performed a transition. A false return with
// nil error means either nothing was due or another invocation holds the lock.
func (e *Engine) ResolveDue(ctx context.Context) (bool, error) {
	st, err := e.Current(ctx)
	if err != nil {
		return false, err
	}
	if st == nil {
		return false, nil
	}
	now := e.now()

	switch {
	case st.Status == StatusActive && st.Expired(now):
		acquired, err := e.lock.TryAcquire(ctx)
		if err != nil {
			return false, err
		}
		if !acquired {
			return false, nil
		}
		if err := e.EndPoll(ctx); err != nil {
			return false, err
		}
		return true, nil

	case st.WinnerExpired(now):
		acquired, err := e.lock.TryAcquire(ctx)
		if err != nil {
			return false, err
		}
		if !acquired {
			return false, nil
		}
		cleared, err := e.ClearIfExpiredWinner(ctx)
		if err != nil || !cleared {
			return cleared, err
		}
		if err := e.startNextQueued(ctx); err != nil {
			e.logger.Warn("queued poll start failed", zap.Error(err))
		}
		return true, nil
	}
	return false, nil
}

// startNextQueued pops the queue head and starts it. The pop is atomic, so an
// item can never activate twice; the lock held by the caller keeps two
// resolvers from each consuming an item.
func (e *Engine) startNextQueued(ctx context.Context) error {
	var q QueuedPoll
	found, err := e.store.PopHead(ctx, KeyQueue, &q)
	if err != nil {
		return fmt.Errorf("pop queue: %w", err)
	}
	if !found {
		return nil
	}
	_, err = e.StartPoll(ctx, q.Question, q.Options, q.DurationSeconds)
	if errors.Is(err, ErrAlreadyActive) {
		// Someone started a poll between the clear and now; requeue at the
		// head would reorder, so put it back at the tail.
		if pushErr := e.store.PushTail(ctx, KeyQueue, q); pushErr != nil {
			return pushErr
		}
		return nil
	}
	return err
}

// Settings loads operator settings fresh from the store, applying defaults
// when the key is absent. Decoding starts from a zero value so the legacy
// field migration in Settings.UnmarshalJSON can see an unset new field.
func (e *Engine) Settings(ctx context.Context) (Settings, error) {
	var s Settings
	found, err := e.store.Get(ctx, KeySettings, &s)
	if err != nil {
		return defaultSettings(int(e.opts.DefaultDuration.Seconds())), fmt.Errorf("load settings: %w", err)
	}
	if !found {
		return defaultSettings(int(e.opts.DefaultDuration.Seconds())), nil
	}
	if s.DefaultDurationSeconds <= 0 {
		s.DefaultDurationSeconds = int(e.opts.DefaultDuration.Seconds())
	}
	if s.MinutesSinceLastPoll <= 0 {
		s.MinutesSinceLastPoll = defaultSettings(0).MinutesSinceLastPoll
	}
	return s, nil
}

// LastEndedAt returns when the previous poll finished, or zero time if none.
func (e *Engine) LastEndedAt(ctx context.Context) (time.Time, error) {
	var unix int64
	found, err := e.store.Get(ctx, KeyLastEndedAt, &unix)
	if err != nil || !found {
		return time.Time{}, err
	}
	return time.Unix(unix, 0), nil
}

// touch records the mutation time. Failures only get logged: the state write
// already succeeded and modified-at is advisory.
func (e *Engine) touch(ctx context.Context) {
	if err := e.store.Set(ctx, KeyModifiedAt, e.now().Unix()); err != nil {
		e.logger.Warn("store modified-at failed", zap.Error(err))
	}
}

func (e *Engine) notify(ctx context.Context) {
	if e.notifier != nil {
		e.notifier.PollChanged(ctx)
	}
}

func (e *Engine) emit(ev Event) {
	if e.events != nil {
		e.events.Emit(ev)
	}
}
