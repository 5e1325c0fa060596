// Package notify maintains the push connection that delivers UPS event
// notifications and dispatches them to a caller-supplied handler.
package notify

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/otcheredev/ris-ups-client/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Common errors
var (
	ErrNoChannelAddress   = errors.New("notify: no channel address, create a subscription first")
	ErrAlreadyRunning     = errors.New("notify: channel already running")
	ErrReconnectExhausted = errors.New("notify: maximum reconnect attempts reached")
)

// State is the lifecycle state of a Channel
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Handler receives each parsed notification. Returned errors and panics are
// logged and never stop the channel.
type Handler func(ev *models.Event) error

// ReconnectPolicy controls how the channel recovers from dropped connections
type ReconnectPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxAttempts  int
	JoinTimeout  time.Duration
}

// DefaultReconnectPolicy waits 5s, growing by half each attempt up to a
// minute, and gives up after 10 consecutive failures.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		InitialDelay: 5 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   1.5,
		MaxAttempts:  10,
		JoinTimeout:  2 * time.Second,
	}
}

// next returns the delay following d
func (p ReconnectPolicy) next(d time.Duration) time.Duration {
	n := time.Duration(math.Round(float64(d) * p.Multiplier))
	if p.MaxDelay > 0 && n > p.MaxDelay {
		return p.MaxDelay
	}
	return n
}

// Channel owns the background receive loop for one notification channel address
type Channel struct {
	transport PushTransport
	policy    ReconnectPolicy
	logger    zerolog.Logger
	metrics   *channelMetrics

	state   atomic.Int32
	running atomic.Bool

	mu      sync.Mutex
	address string
	cancel  context.CancelFunc
	done    chan struct{}
	conn    Conn
	lastErr error
}

// NewChannel creates an idle channel
func NewChannel(transport PushTransport, policy ReconnectPolicy, logger zerolog.Logger, reg prometheus.Registerer) *Channel {
	return &Channel{
		transport: transport,
		policy:    policy,
		logger:    logger,
		metrics:   newChannelMetrics(reg),
	}
}

// SetAddress replaces the channel address used by the next Connect
func (c *Channel) SetAddress(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.address = address
}

// Address returns the current channel address
func (c *Channel) Address() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.address
}

// State returns the current lifecycle state
func (c *Channel) State() State {
	return State(c.state.Load())
}

// Running reports whether the receive loop is active
func (c *Channel) Running() bool {
	return c.running.Load()
}

// Err returns the reason the last receive loop stopped on its own, if any
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Done is closed when the current receive loop exits. It is nil before the
// first Connect.
func (c *Channel) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Connect starts the background receive loop. It fails without starting
// anything when no address is set or a loop is already running.
func (c *Channel) Connect(handler Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.address == "" {
		c.logger.Error().Msg("No channel address available. Create a subscription first.")
		return ErrNoChannelAddress
	}
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.lastErr = nil
	c.setState(StateConnecting)

	c.logger.Info().Str("address", c.address).Msg("Connecting to notification channel")
	go c.run(ctx, c.address, handler, c.done)
	return nil
}

// Disconnect stops the receive loop and waits up to the join timeout for it
// to exit. It is safe to call when not connected.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	cancel, done, conn := c.cancel, c.done, c.conn
	c.mu.Unlock()

	if cancel == nil {
		return
	}

	c.logger.Info().Msg("Disconnecting from notification channel...")
	cancel()
	if conn != nil {
		_ = conn.Close()
	}

	timeout := c.policy.JoinTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	select {
	case <-done:
		c.mu.Lock()
		if c.done == done {
			c.cancel = nil
		}
		c.mu.Unlock()
		c.logger.Info().Msg("Disconnected from notification channel")
	case <-time.After(timeout):
		c.logger.Warn().Dur("timeout", timeout).Msg("Notification channel didn't terminate gracefully")
	}
}

func (c *Channel) run(ctx context.Context, address string, handler Handler, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		c.setState(StateClosed)
		c.running.Store(false)
		close(done)
		c.logger.Info().Msg("Notification channel stopped")
	}()

	delay := c.policy.InitialDelay
	failures := 0

	for ctx.Err() == nil {
		conn, err := c.transport.Connect(ctx, address)
		if err == nil {
			if !c.attach(ctx, conn) {
				return
			}
			c.logger.Info().Str("address", address).Msg("Notification channel connection established")
			failures = 0
			delay = c.policy.InitialDelay

			err = c.receive(conn, handler)
			c.detach(conn)
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn().Err(err).Msg("Notification channel connection closed")
		} else {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error().Err(err).Msg("Notification channel connection error")
		}

		failures++
		if failures >= c.policy.MaxAttempts {
			c.logger.Error().Int("max_attempts", c.policy.MaxAttempts).Msg("Maximum reconnect attempts reached. Giving up.")
			c.mu.Lock()
			c.lastErr = fmt.Errorf("%w: %v", ErrReconnectExhausted, err)
			c.mu.Unlock()
			return
		}

		c.setState(StateReconnecting)
		c.metrics.reconnects.Inc()
		c.logger.Info().
			Dur("delay", delay).
			Int("attempt", failures).
			Int("max_attempts", c.policy.MaxAttempts).
			Msg("Attempting to reconnect")

		if !wait(ctx, delay) {
			return
		}
		delay = c.policy.next(delay)
	}
}

// attach records conn as the live connection unless a disconnect raced it
func (c *Channel) attach(ctx context.Context, conn Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		_ = conn.Close()
		return false
	}
	c.conn = conn
	c.setState(StateConnected)
	return true
}

func (c *Channel) detach(conn Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Channel) receive(conn Conn, handler Handler) error {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatch(data, handler)
	}
}

// dispatch parses one payload and invokes the handler synchronously, so a
// slow handler holds back the next read.
func (c *Channel) dispatch(data []byte, handler Handler) {
	ev, err := models.ParseEvent(data, time.Now().UTC())
	if err != nil {
		c.metrics.events.WithLabelValues("parse_error").Inc()
		c.logger.Error().Err(err).Str("message", string(data)).Msg("Failed to parse message as JSON")
		return
	}

	c.logger.Info().
		Str("event_type_id", ev.EventTypeID()).
		Str("affected_sop_instance_uid", ev.AffectedSOPInstanceUID()).
		Msg("UPS event received")

	if handler == nil {
		c.metrics.events.WithLabelValues("unhandled").Inc()
		c.logger.Warn().Msg("No event handler assigned")
		return
	}

	if err := invoke(handler, ev); err != nil {
		c.metrics.events.WithLabelValues("handler_error").Inc()
		c.logger.Error().Err(err).Msg("Error processing message")
		return
	}
	c.metrics.events.WithLabelValues("dispatched").Inc()
}

func invoke(handler Handler, ev *models.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event handler panic: %v", r)
		}
	}()
	return handler(ev)
}

func (c *Channel) setState(s State) {
	c.state.Store(int32(s))
	c.metrics.state.Set(float64(s))
}

func wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// ResolveAddress resolves a possibly relative channel address against base
func ResolveAddress(base, address string) string {
	ref, err := url.Parse(address)
	if err != nil || ref.IsAbs() {
		return address
	}
	b, err := url.Parse(base)
	if err != nil {
		return address
	}
	return b.ResolveReference(ref).String()
}
