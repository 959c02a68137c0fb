// Package resilient manages connections to external services that may be
// down at startup or drop later. Callers ask for a client on every use; a
// lost connection is re-established lazily and an unavailable service is
// reported, never raised.
package resilient

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"docchat/pkg/logger"
)

// State is the connection state of an external service.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Service is implemented by every managed client. Readiness probes and
// shutdown work against it.
type Service interface {
	Name() string
	State() State
	HealthCheck(ctx context.Context) bool
	Close() error
}

// RetryPolicy bounds connection attempts.
type RetryPolicy struct {
	// MaxAttempts per Init call; values below 1 mean one attempt.
	MaxAttempts int
	Delay       time.Duration
	// Multiplier grows the delay between attempts; 1 or less keeps it fixed.
	Multiplier float64
	MaxDelay   time.Duration
	// Cooldown is how long a failed service is left alone before a caller
	// triggers another Init.
	Cooldown time.Duration
}

// DefaultRetryPolicy returns five attempts one second apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		Delay:       time.Second,
		Multiplier:  1,
		MaxDelay:    30 * time.Second,
		Cooldown:    5 * time.Second,
	}
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.Delay
	if p.Multiplier > 1 && attempt > 1 {
		d = time.Duration(float64(p.Delay) * math.Pow(p.Multiplier, float64(attempt-1)))
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Options configures a Connector.
type Options[C any] struct {
	Name string

	// Dial opens a client. Ping verifies it. Close releases it.
	Dial  func(ctx context.Context) (C, error)
	Ping  func(ctx context.Context, client C) error
	Close func(client C) error

	Policy RetryPolicy
	Logger *logger.Logger
}

// Connector owns one client and its state machine:
//
//	Disconnected -> Connecting -> Connected
//	Connecting -> Failed (attempts exhausted)
//	Connected -> Failed (MarkFailed, failed health check)
//	Failed -> Connecting (next use after the cooldown)
//	any -> Disconnected (Close)
type Connector[C any] struct {
	opts  Options[C]
	log   *logger.Logger
	state atomic.Int32

	mu          sync.Mutex
	client      C
	hasClient   bool
	lastFailure time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewConnector creates a connector in the Disconnected state. Nothing is
// dialed until Init or the first Client call.
func NewConnector[C any](opts Options[C]) *Connector[C] {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Connector[C]{
		opts:  opts,
		log:   log.WithComponent(opts.Name),
		now:   time.Now,
		sleep: sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Connector[C]) Name() string { return c.opts.Name }

func (c *Connector[C]) State() State { return State(c.state.Load()) }

func (c *Connector[C]) setState(s State) { c.state.Store(int32(s)) }

// Init connects with bounded retries. It is a no-op when already connected.
func (c *Connector[C]) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initLocked(ctx)
}

func (c *Connector[C]) initLocked(ctx context.Context) error {
	if c.State() == Connected {
		return nil
	}
	c.releaseLocked()
	c.setState(Connecting)

	attempts := c.opts.Policy.attempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		client, err := c.dial(ctx)
		if err == nil {
			c.client, c.hasClient = client, true
			c.setState(Connected)
			c.log.Infow("connection established", "attempt", attempt)
			return nil
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		wait := c.opts.Policy.Backoff(attempt)
		c.log.Warnw("connection attempt failed", "attempt", attempt, "max_attempts", attempts, "retry_in", wait, "error", err)
		if err := c.sleep(ctx, wait); err != nil {
			lastErr = err
			break
		}
	}

	c.setState(Failed)
	c.lastFailure = c.now()
	c.log.Errorw("connection failed", "max_attempts", attempts, "error", lastErr)
	return fmt.Errorf("%s: %w", c.opts.Name, lastErr)
}

func (c *Connector[C]) dial(ctx context.Context) (C, error) {
	var zero C
	client, err := c.opts.Dial(ctx)
	if err != nil {
		return zero, err
	}
	if c.opts.Ping != nil {
		if err := c.opts.Ping(ctx, client); err != nil {
			if c.opts.Close != nil {
				_ = c.opts.Close(client)
			}
			return zero, err
		}
	}
	return client, nil
}

func (c *Connector[C]) releaseLocked() {
	if !c.hasClient {
		return
	}
	if c.opts.Close != nil {
		if err := c.opts.Close(c.client); err != nil {
			c.log.Debugw("close stale client", "error", err)
		}
	}
	var zero C
	c.client, c.hasClient = zero, false
}

// Client returns a connected client, reconnecting when needed. It reports
// false while the service is unreachable.
func (c *Connector[C]) Client(ctx context.Context) (C, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero C
	switch c.State() {
	case Connected:
		return c.client, true
	case Failed:
		if c.now().Sub(c.lastFailure) < c.opts.Policy.Cooldown {
			return zero, false
		}
	}
	if err := c.initLocked(ctx); err != nil {
		return zero, false
	}
	return c.client, true
}

// MarkFailed records that an operation on the client failed at the
// connection level. The next Client call after the cooldown reconnects.
func (c *Connector[C]) MarkFailed(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() == Failed {
		return
	}
	c.setState(Failed)
	c.lastFailure = c.now()
	c.log.Warnw("connection marked failed", "error", err)
}

// HealthCheck pings the service, connecting first if needed.
func (c *Connector[C]) HealthCheck(ctx context.Context) bool {
	client, ok := c.Client(ctx)
	if !ok {
		return false
	}
	if c.opts.Ping == nil {
		return true
	}
	if err := c.opts.Ping(ctx, client); err != nil {
		c.MarkFailed(err)
		return false
	}
	return true
}

// Close releases the client. A later Client call connects again.
func (c *Connector[C]) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.hasClient && c.opts.Close != nil {
		err = c.opts.Close(c.client)
	}
	var zero C
	c.client, c.hasClient = zero, false
	c.setState(Disconnected)
	return err
}
