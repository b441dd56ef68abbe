// Package fallback is the display-side client: it consumes snapshots over the
// push channel and degrades to periodic pulling whenever the channel is down
// or quiet. A content hash gates rendering, so push and pull delivering the
// same state never causes redundant redraws.
package fallback

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ConnState is the push channel's connection state.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// RenderFunc receives each snapshot whose content actually changed.
type RenderFunc func(payload []byte)

// Options tunes the client.
type Options struct {
	PullInterval     time.Duration // base pull cadence
	FastPullInterval time.Duration // cadence during a poll's final countdown
	FinalCountdown   time.Duration // window before poll end considered "final"
	ReconnectDelay   time.Duration // fixed delay before a reconnect attempt
	StaleAfter       time.Duration // push silence after which pulling resumes
}

func (o *Options) fill() {
	if o.PullInterval <= 0 {
		o.PullInterval = 10 * time.Second
	}
	if o.FastPullInterval <= 0 {
		o.FastPullInterval = 1 * time.Second
	}
	if o.FinalCountdown <= 0 {
		o.FinalCountdown = 10 * time.Second
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 3 * time.Second
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 45 * time.Second
	}
}

// dialFunc matches websocket.Dialer.DialContext. Injectable for tests.
type dialFunc func(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)

// Client maintains the push channel and the pull fallback for one display.
type Client struct {
	wsURL   string
	pullURL string
	render  RenderFunc
	logger  *zap.Logger
	opts    Options
	httpc   *http.Client
	dial    dialFunc

	mu               sync.Mutex
	state            ConnState
	conn             *websocket.Conn
	lastHash         uint64
	hasRendered      bool
	lastPeek         *pollPeek
	lastAliveAt      time.Time
	reconnectPending bool
	now              func() time.Time
}

// New creates a fallback client. render is called on every content change.
func New(wsURL, pullURL string, render RenderFunc, opts Options, logger *zap.Logger) *Client {
	opts.fill()
	dialer := &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	return &Client{
		wsURL:   wsURL,
		pullURL: pullURL,
		render:  render,
		logger:  logger,
		opts:    opts,
		httpc:   &http.Client{Timeout: 10 * time.Second},
		dial:    dialer.DialContext,
		now:     time.Now,
	}
}

// State returns the current push channel state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run connects the push channel and drives the pull loop until ctx is done.
func (c *Client) Run(ctx context.Context) {
	go c.connect(ctx)
	c.pullLoop(ctx)
}

// connect dials the push channel and reads it until an error. Any error, at
// any stage, funnels into scheduleReconnect exactly once.
func (c *Client) connect(ctx context.Context) {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return
	}
	c.state = Connecting
	c.mu.Unlock()

	conn, resp, err := c.dial(ctx, c.wsURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.logger.Warn("push channel dial failed", zap.Error(err))
		c.onChannelError(ctx)
		return
	}

	c.mu.Lock()
	c.state = Connected
	c.conn = conn
	c.lastAliveAt = c.now()
	c.mu.Unlock()
	c.logger.Info("push channel connected")

	c.readLoop(ctx, conn)
}

// readLoop consumes push frames. Heartbeats, initial snapshots, and updates
// all count uniformly as alive signals.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	conn.SetPingHandler(func(appData string) error {
		c.markAlive()
		_ = conn.WriteControl(websocket.PongMessage, []byte(appData), c.now().Add(5*time.Second))
		return nil
	})
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("push channel read failed", zap.Error(err))
			}
			c.onChannelError(ctx)
			return
		}
		c.markAlive()
		c.apply(payload)
	}
}

// onChannelError closes the channel and schedules a single reconnect. Every
// error triggers exactly one scheduled reconnect; overlapping attempts never
// stack, and there is no "already closed" guard that could suppress one.
func (c *Client) onChannelError(ctx context.Context) {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.state = Disconnected
	if c.reconnectPending {
		c.mu.Unlock()
		return
	}
	c.reconnectPending = true
	delay := c.opts.ReconnectDelay
	c.mu.Unlock()

	c.logger.Info("push channel down, reconnect scheduled", zap.Duration("delay", delay))
	time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnectPending = false
		c.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		c.connect(ctx)
	})
}

func (c *Client) markAlive() {
	c.mu.Lock()
	c.lastAliveAt = c.now()
	c.mu.Unlock()
}

// apply renders a snapshot only when its content hash differs from the last
// applied one. The poll timing inside the snapshot is cached either way, so
// the pull cadence can be derived even when a later pull answers 304.
func (c *Client) apply(payload []byte) {
	hash := xxhash.Sum64(payload)
	var peek pollPeek
	peeked := json.Unmarshal(payload, &peek) == nil
	c.mu.Lock()
	if peeked {
		c.lastPeek = &peek
	}
	if c.hasRendered && hash == c.lastHash {
		c.mu.Unlock()
		return
	}
	c.lastHash = hash
	c.hasRendered = true
	c.mu.Unlock()
	c.render(payload)
}

// pullLoop pulls on a dynamic interval whenever the push channel is down or
// has gone quiet.
func (c *Client) pullLoop(ctx context.Context) {
	timer := time.NewTimer(c.opts.PullInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		interval := c.opts.PullInterval
		if c.shouldPull() {
			if err := c.pullOnce(ctx); err != nil {
				c.logger.Warn("snapshot pull failed", zap.Error(err))
			} else {
				interval = c.nextInterval()
			}
		}
		timer.Reset(interval)
	}
}

// shouldPull reports whether the push channel is down or stale.
func (c *Client) shouldPull() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Connected {
		return true
	}
	return c.now().Sub(c.lastAliveAt) > c.opts.StaleAfter
}

func (c *Client) pullOnce(ctx context.Context) error {
	url := c.pullURL
	c.mu.Lock()
	if c.hasRendered {
		// the server answers 304 when our last applied hash still matches
		url = fmt.Sprintf("%s?hash=%s", c.pullURL, strconv.FormatUint(c.lastHash, 16))
	}
	c.mu.Unlock()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotModified {
		// unchanged content: the cached poll timing stays valid
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pull status %d", resp.StatusCode)
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	c.apply(payload)
	return nil
}

// pollPeek is the slice of the snapshot the interval logic needs.
type pollPeek struct {
	PollState *struct {
		Status          string    `json:"status"`
		StartedAt       time.Time `json:"startedAt"`
		DurationSeconds int       `json:"durationSeconds"`
	} `json:"pollState"`
}

// nextInterval returns the fast cadence when the last applied snapshot shows
// an active poll inside its final countdown, so the closing seconds render
// smoothly, and the base cadence otherwise. It works from the cached timing,
// not the last response: votes usually settle before the timer does, so the
// pulls right before poll end tend to answer 304, and the cadence must stay
// fast through them to catch the transition promptly.
func (c *Client) nextInterval() time.Duration {
	c.mu.Lock()
	peek := c.lastPeek
	c.mu.Unlock()
	if peek == nil || peek.PollState == nil {
		return c.opts.PullInterval
	}
	if peek.PollState.Status != "active" {
		return c.opts.PullInterval
	}
	endsAt := peek.PollState.StartedAt.Add(time.Duration(peek.PollState.DurationSeconds) * time.Second)
	remaining := endsAt.Sub(c.now())
	if remaining > 0 && remaining <= c.opts.FinalCountdown {
		return c.opts.FastPullInterval
	}
	return c.opts.PullInterval
}
