package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pulse-overlay/backend/internal/lock"
	"github.com/pulse-overlay/backend/internal/poll"
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

type staticContent struct {
	content *poll.QueuedPoll
}

func (s *staticContent) GeneratePollContent(ctx context.Context) (*poll.QueuedPoll, error) {
	return s.content, nil
}

func liveAlways(ctx context.Context) (bool, error) { return true, nil }
func liveNever(ctx context.Context) (bool, error)  { return false, nil }

type fixture struct {
	sched  *Scheduler
	engine *poll.Engine
	mem    *store.Memory
	clock  *fakeClock
}

func newFixture(t *testing.T, content ContentProvider, isLive LivenessFunc) *fixture {
	t.Helper()
	mem := store.NewMemory()
	clock := newFakeClock()
	mem.SetClock(clock.Now)
	lk := lock.New(mem, 10*time.Second)
	lk.SetClock(clock.Now)
	engine := poll.NewEngine(mem, lk, zap.NewNop(), poll.Options{
		WinnerDisplay:   30 * time.Second,
		DefaultDuration: 60 * time.Second,
	})
	engine.SetClock(clock.Now)
	sched := New(engine, content, isLive, time.Second, zap.NewNop())
	sched.SetClock(clock.Now)
	return &fixture{sched: sched, engine: engine, mem: mem, clock: clock}
}

func writeSettings(t *testing.T, f *fixture, s poll.Settings) {
	t.Helper()
	require.NoError(t, f.mem.Set(context.Background(), poll.KeySettings, s))
}

func enabledSettings() poll.Settings {
	return poll.Settings{Enabled: true, AutoStartEnabled: true, MinutesSinceLastPoll: 5}
}

func defaultContent() *staticContent {
	return &staticContent{content: &poll.QueuedPoll{Question: "Best map?", Options: []string{"Mirage", "Inferno"}}}
}

func TestAutoStartRespectsMinimumGap(t *testing.T) {
	f := newFixture(t, defaultContent(), liveAlways)
	ctx := context.Background()
	writeSettings(t, f, enabledSettings())

	// Last poll ended 3 minutes ago, gap is 5: too soon.
	require.NoError(t, f.mem.Set(ctx, poll.KeyLastEndedAt, f.clock.Now().Add(-3*time.Minute).Unix()))
	started, err := f.sched.TryAutoStart(ctx)
	require.NoError(t, err)
	assert.False(t, started)

	// 6 minutes ago: gate passes and a poll becomes active.
	require.NoError(t, f.mem.Set(ctx, poll.KeyLastEndedAt, f.clock.Now().Add(-6*time.Minute).Unix()))
	started, err = f.sched.TryAutoStart(ctx)
	require.NoError(t, err)
	assert.True(t, started)

	st, err := f.engine.Current(ctx)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, poll.StatusActive, st.Status)
	assert.Equal(t, "Best map?", st.Question)
	// Duration comes from settings defaults when content carries none.
	assert.Equal(t, 60, st.DurationSeconds)
}

func TestAutoStartDisabled(t *testing.T) {
	f := newFixture(t, defaultContent(), liveAlways)
	ctx := context.Background()

	writeSettings(t, f, poll.Settings{Enabled: true, AutoStartEnabled: false})
	started, err := f.sched.TryAutoStart(ctx)
	require.NoError(t, err)
	assert.False(t, started)

	writeSettings(t, f, poll.Settings{Enabled: false, AutoStartEnabled: true})
	started, err = f.sched.TryAutoStart(ctx)
	require.NoError(t, err)
	assert.False(t, started)
}

func TestAutoStartNeverInterruptsPollOrWinner(t *testing.T) {
	f := newFixture(t, defaultContent(), liveAlways)
	ctx := context.Background()
	writeSettings(t, f, enabledSettings())

	_, err := f.engine.StartPoll(ctx, "Running?", []string{"Yes", "No"}, 30)
	require.NoError(t, err)

	started, err := f.sched.TryAutoStart(ctx)
	require.NoError(t, err)
	assert.False(t, started)

	// Winner on display blocks too.
	require.NoError(t, f.engine.EndPoll(ctx))
	started, err = f.sched.TryAutoStart(ctx)
	require.NoError(t, err)
	assert.False(t, started)
}

func TestAutoStartRequiresLiveSession(t *testing.T) {
	f := newFixture(t, defaultContent(), liveNever)
	ctx := context.Background()
	writeSettings(t, f, enabledSettings())

	started, err := f.sched.TryAutoStart(ctx)
	require.NoError(t, err)
	assert.False(t, started)
}

func TestAutoStartWithoutContent(t *testing.T) {
	f := newFixture(t, &staticContent{content: nil}, liveAlways)
	ctx := context.Background()
	writeSettings(t, f, enabledSettings())

	started, err := f.sched.TryAutoStart(ctx)
	require.NoError(t, err)
	assert.False(t, started)
}

func TestPoolContentProvider(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	provider := NewPoolContentProvider(mem)

	content, err := provider.GeneratePollContent(ctx)
	require.NoError(t, err)
	assert.Nil(t, content)

	require.NoError(t, mem.PushTail(ctx, KeyContentPool, poll.QueuedPoll{Question: "Q1", Options: []string{"a", "b"}}))
	require.NoError(t, mem.PushTail(ctx, KeyContentPool, poll.QueuedPoll{Question: "Q2", Options: []string{"c", "d"}}))

	content, err = provider.GeneratePollContent(ctx)
	require.NoError(t, err)
	require.NotNil(t, content)
	assert.Equal(t, "Q1", content.Question)
}

func TestStoreLiveness(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	isLive := StoreLiveness(mem)

	live, err := isLive(ctx)
	require.NoError(t, err)
	assert.False(t, live)

	require.NoError(t, mem.Set(ctx, KeySessionLive, true))
	live, err = isLive(ctx)
	require.NoError(t, err)
	assert.True(t, live)
}

func TestTickResolvesAndAutoStarts(t *testing.T) {
	f := newFixture(t, defaultContent(), liveAlways)
	ctx := context.Background()
	writeSettings(t, f, enabledSettings())

	_, err := f.engine.StartPoll(ctx, "Best snack?", []string{"Chips", "Candy"}, 30)
	require.NoError(t, err)

	// Timer elapsed: tick resolves to winner.
	f.clock.Advance(31 * time.Second)
	f.sched.Tick(ctx)
	st, err := f.engine.Current(ctx)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, poll.StatusWinner, st.Status)

	// Winner window elapsed: tick clears, and the gap gate keeps the next
	// auto-start from firing immediately.
	f.clock.Advance(31 * time.Second)
	f.sched.Tick(ctx)
	st, err = f.engine.Current(ctx)
	require.NoError(t, err)
	assert.Nil(t, st)

	// After the configured gap the next tick starts a fresh poll.
	f.clock.Advance(6 * time.Minute)
	f.sched.Tick(ctx)
	st, err = f.engine.Current(ctx)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "Best map?", st.Question)
}
