package poll

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pulse-overlay/backend/internal/lock"
	"github.com/pulse-overlay/backend/internal/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestEngine(t *testing.T) (*Engine, *store.Memory, *fakeClock) {
	t.Helper()
	mem := store.NewMemory()
	clock := newFakeClock()
	mem.SetClock(clock.Now)
	lk := lock.New(mem, 10*time.Second)
	lk.SetClock(clock.Now)
	e := NewEngine(mem, lk, zap.NewNop(), Options{
		WinnerDisplay:   30 * time.Second,
		DefaultDuration: 60 * time.Second,
	})
	e.SetClock(clock.Now)
	return e, mem, clock
}

func TestStartPollValidation(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.StartPoll(ctx, "Best snack?", []string{"Chips"}, 30)
	assert.ErrorIs(t, err, ErrInvalidPoll)

	_, err = e.StartPoll(ctx, "Best snack?", []string{"Chips", "  "}, 30)
	assert.ErrorIs(t, err, ErrInvalidPoll)

	_, err = e.StartPoll(ctx, "  ", []string{"Chips", "Candy"}, 30)
	assert.ErrorIs(t, err, ErrInvalidPoll)

	st, err := e.StartPoll(ctx, "Best snack?", []string{"Chips", "Candy"}, 30)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, st.Status)
	assert.NotEmpty(t, st.ID)
}

func TestStartPollSingleActiveInvariant(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	const attempts = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	started := 0
	alreadyActive := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.StartPoll(ctx, "Best snack?", []string{"Chips", "Candy"}, 30)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				started++
			case err == ErrAlreadyActive:
				alreadyActive++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, started)
	assert.Equal(t, attempts-1, alreadyActive)
}

func TestCastVoteMovesVoterEntry(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.StartPoll(ctx, "Best snack?", []string{"Chips", "Candy"}, 30)
	require.NoError(t, err)

	// [A, A, B] from the same voter counts once, for B only.
	require.NoError(t, e.CastVote(ctx, "v1", 0))
	require.NoError(t, e.CastVote(ctx, "v1", 0))
	require.NoError(t, e.CastVote(ctx, "v1", 1))

	st, err := e.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Options[0].Votes)
	assert.Equal(t, 1, st.Options[1].Votes)
	assert.Equal(t, 1, st.TotalVotes())
}

func TestCastVoteOnExternallyWrittenRecord(t *testing.T) {
	e, mem, _ := newTestEngine(t)
	ctx := context.Background()

	// Other tools write poll_state through the store directly; a record
	// without voters maps must still accept votes.
	require.NoError(t, mem.Set(ctx, KeyState, map[string]interface{}{
		"id":              "ext-1",
		"question":        "Best snack?",
		"options":         []map[string]string{{"label": "Chips"}, {"label": "Candy"}},
		"startedAt":       time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC),
		"durationSeconds": 60,
		"status":          "active",
	}))

	require.NoError(t, e.CastVote(ctx, "v1", 1))

	st, err := e.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Options[1].Votes)
	assert.Equal(t, 0, st.Options[0].Votes)
}

func TestCastVoteErrors(t *testing.T) {
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	assert.ErrorIs(t, e.CastVote(ctx, "v1", 0), ErrNoActivePoll)

	_, err := e.StartPoll(ctx, "Best snack?", []string{"Chips", "Candy"}, 30)
	require.NoError(t, err)

	assert.ErrorIs(t, e.CastVote(ctx, "v1", 5), ErrInvalidOption)
	assert.ErrorIs(t, e.CastVote(ctx, "v1", -1), ErrInvalidOption)

	clock.Advance(31 * time.Second)
	assert.ErrorIs(t, e.CastVote(ctx, "v1", 0), ErrPollExpired)
}

func TestEndPollTieBreakFirstDeclared(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.StartPoll(ctx, "X or Y?", []string{"X", "Y"}, 30)
	require.NoError(t, err)

	for _, v := range []string{"a", "b", "c"} {
		require.NoError(t, e.CastVote(ctx, v, 0))
	}
	for _, v := range []string{"d", "e", "f"} {
		require.NoError(t, e.CastVote(ctx, v, 1))
	}

	require.NoError(t, e.EndPoll(ctx))

	st, err := e.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusWinner, st.Status)
	require.NotNil(t, st.WinnerIndex)
	assert.Equal(t, 0, *st.WinnerIndex)
	assert.Equal(t, "X", st.Options[*st.WinnerIndex].Label)
}

func TestEndPollIdempotent(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	// No active poll: no-op, not an error.
	require.NoError(t, e.EndPoll(ctx))

	_, err := e.StartPoll(ctx, "Best snack?", []string{"Chips", "Candy"}, 30)
	require.NoError(t, err)
	require.NoError(t, e.EndPoll(ctx))

	st, err := e.Current(ctx)
	require.NoError(t, err)
	firstDisplayUntil := *st.WinnerDisplayUntil

	// Racing second resolver finds a winner record and leaves it alone.
	require.NoError(t, e.EndPoll(ctx))
	st, err = e.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, firstDisplayUntil, *st.WinnerDisplayUntil)
}

func TestResolveDueFullLifecycle(t *testing.T) {
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	_, err := e.StartPoll(ctx, "Best snack?", []string{"Chips", "Candy"}, 30)
	require.NoError(t, err)

	require.NoError(t, e.CastVote(ctx, "v1", 0))
	require.NoError(t, e.CastVote(ctx, "v2", 1))
	require.NoError(t, e.CastVote(ctx, "v1", 1)) // v1 changes mind

	// Nothing due yet.
	resolved, err := e.ResolveDue(ctx)
	require.NoError(t, err)
	assert.False(t, resolved)

	clock.Advance(31 * time.Second)
	resolved, err = e.ResolveDue(ctx)
	require.NoError(t, err)
	assert.True(t, resolved)

	st, err := e.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusWinner, st.Status)
	assert.Equal(t, "Candy", st.Options[*st.WinnerIndex].Label)
	assert.Equal(t, 2, st.Options[1].Votes)
	assert.Equal(t, 0, st.Options[0].Votes)

	// Winner stays on display until the window elapses.
	clock.Advance(31 * time.Second)
	resolved, err = e.ResolveDue(ctx)
	require.NoError(t, err)
	assert.True(t, resolved)

	st, err = e.Current(ctx)
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestResolveDueSkipsWhenLockHeld(t *testing.T) {
	e, mem, clock := newTestEngine(t)
	ctx := context.Background()

	_, err := e.StartPoll(ctx, "Best snack?", []string{"Chips", "Candy"}, 30)
	require.NoError(t, err)
	clock.Advance(31 * time.Second)

	// Another invocation already holds the resolution right.
	other := lock.New(mem, 10*time.Second)
	other.SetClock(clock.Now)
	acquired, err := other.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, acquired)

	resolved, err := e.ResolveDue(ctx)
	require.NoError(t, err)
	assert.False(t, resolved)

	st, err := e.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, st.Status)

	// The lock self-heals by expiry; the next tick resolves.
	clock.Advance(11 * time.Second)
	resolved, err = e.ResolveDue(ctx)
	require.NoError(t, err)
	assert.True(t, resolved)
}

func TestQueuedPollStartsAfterWinnerWindow(t *testing.T) {
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Enqueue(ctx, QueuedPoll{Question: "Next game?", Options: []string{"Slots", "Chess"}, DurationSeconds: 45}))
	n, err := e.QueueLen(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = e.StartPoll(ctx, "Best snack?", []string{"Chips", "Candy"}, 30)
	require.NoError(t, err)

	clock.Advance(31 * time.Second)
	resolved, err := e.ResolveDue(ctx)
	require.NoError(t, err)
	require.True(t, resolved)

	// Queue is not consumed while the winner is on display.
	n, err = e.QueueLen(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	clock.Advance(31 * time.Second)
	resolved, err = e.ResolveDue(ctx)
	require.NoError(t, err)
	require.True(t, resolved)

	st, err := e.Current(ctx)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "Next game?", st.Question)
	assert.Equal(t, StatusActive, st.Status)
	assert.Equal(t, 45, st.DurationSeconds)

	n, err = e.QueueLen(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestStartPollClearsExpiredWinner(t *testing.T) {
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	_, err := e.StartPoll(ctx, "Best snack?", []string{"Chips", "Candy"}, 30)
	require.NoError(t, err)
	require.NoError(t, e.EndPoll(ctx))

	// Winner still on display blocks a new start.
	_, err = e.StartPoll(ctx, "Another?", []string{"A", "B"}, 30)
	assert.ErrorIs(t, err, ErrAlreadyActive)

	clock.Advance(31 * time.Second)
	st, err := e.StartPoll(ctx, "Another?", []string{"A", "B"}, 30)
	require.NoError(t, err)
	assert.Equal(t, "Another?", st.Question)
}

func TestLifecycleEventsAndNotifications(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	var mu sync.Mutex
	var events []Event
	e.SetEventSink(EventFunc(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	}))
	notified := 0
	e.SetNotifier(notifierFunc(func(ctx context.Context) { notified++ }))

	_, err := e.StartPoll(ctx, "Best snack?", []string{"Chips", "Candy"}, 30)
	require.NoError(t, err)
	require.NoError(t, e.CastVote(ctx, "v1", 1))
	require.NoError(t, e.EndPoll(ctx))

	require.Len(t, events, 2)
	assert.Equal(t, EventPollStarted, events[0].Type)
	assert.Equal(t, 30, events[0].DurationSeconds)
	assert.Equal(t, EventPollEnded, events[1].Type)
	assert.Equal(t, "Candy", events[1].Winner)
	assert.Equal(t, []string{"Chips", "Candy"}, events[1].Options)

	// start + vote + end each notify the hub
	assert.Equal(t, 3, notified)
}

type notifierFunc func(ctx context.Context)

func (f notifierFunc) PollChanged(ctx context.Context) { f(ctx) }
