// Package client maintains one persistent authenticated session to a
// Homeworks QS controller: login, keepalive, reconnect with backoff, and
// fan-out of inbound lines onto the event bus.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/qnetctl/qnetctl/internal/command"
	"github.com/qnetctl/qnetctl/internal/eventbus"
	"github.com/qnetctl/qnetctl/internal/protocol"
)

// State is the session lifecycle position.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateLoggingIn
	StateReady
	StateDisconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateLoggingIn:
		return "logging_in"
	case StateReady:
		return "ready"
	case StateDisconnecting:
		return "disconnecting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Client is the persistent session. Create with New, start with Connect,
// release with Close. All methods are safe for concurrent use.
type Client struct {
	cfg Config
	bus *eventbus.Bus
	log zerolog.Logger

	mu             sync.Mutex
	state          State
	tr             *transport
	loopStop       chan struct{}
	loopWG         *sync.WaitGroup
	reconnectDelay time.Duration
	reconnecting   bool

	// connectMu serializes dial+login so at most one connection attempt
	// is in flight per session.
	connectMu sync.Mutex

	stopped   chan struct{}
	closeOnce sync.Once

	// cmdMu serializes response-bearing commands; without request IDs the
	// only safe correlation is one outstanding command at a time.
	cmdMu sync.Mutex
}

// New validates the config and builds an unconnected client.
func New(cfg Config) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		cfg:            cfg,
		bus:            eventbus.New(),
		log:            log.With().Str("component", "client").Str("addr", cfg.Addr()).Logger(),
		state:          StateDisconnected,
		reconnectDelay: cfg.Backoff.InitialDelay,
		stopped:        make(chan struct{}),
	}, nil
}

// State reports the current lifecycle position.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Config returns the effective configuration after defaults.
func (c *Client) Config() Config { return c.cfg }

// Subscribe registers a callback for a bus topic.
func (c *Client) Subscribe(topic eventbus.Topic, callback eventbus.Callback) eventbus.Token {
	return c.bus.Subscribe(topic, callback)
}

// Unsubscribe removes a prior subscription.
func (c *Client) Unsubscribe(token eventbus.Token) bool {
	return c.bus.Unsubscribe(token)
}

// Connect dials and logs in. Rejected credentials close the client
// permanently; any other failure schedules background reconnects and is
// returned to the caller.
func (c *Client) Connect(ctx context.Context) error {
	err := c.connectOnce(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrClosed) {
		return err
	}
	if errors.Is(err, ErrLoginFailed) {
		c.log.Error().Err(err).Msg("credentials rejected, closing permanently")
		_ = c.Close()
		return err
	}
	c.mu.Lock()
	c.scheduleReconnectLocked()
	c.mu.Unlock()
	return err
}

// ExecuteCommand runs one command against the session. Commands that
// resolve from inbound events hold the command slot exclusively;
// fire-and-forget commands bypass it.
func (c *Client) ExecuteCommand(ctx context.Context, cmd *command.Command) (any, error) {
	if c.State() != StateReady {
		return nil, fmt.Errorf("%w: %s", command.ErrNotReady, cmd.Name())
	}
	if cmd.RequiresResponse() {
		c.cmdMu.Lock()
		defer c.cmdMu.Unlock()
	}
	return cmd.Execute(ctx, c, c.cfg.Exec, c.cfg.CommandTimeout)
}

// SendRaw writes one already-formatted line to the controller.
func (c *Client) SendRaw(ctx context.Context, line string) error {
	c.mu.Lock()
	tr := c.tr
	state := c.state
	c.mu.Unlock()

	if state == StateClosed {
		return ErrClosed
	}
	if tr == nil {
		return fmt.Errorf("%w: not connected", ErrConnectionFailed)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tr.writeLine(line, c.cfg.WriteTimeout)
}

// Close tears the session down permanently. A best-effort LOGOUT is sent
// first; reconnects stop. Close is idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopped)

		c.mu.Lock()
		tr := c.tr
		wasReady := c.state == StateReady
		c.state = StateClosed
		c.mu.Unlock()

		if wasReady && tr != nil {
			_ = tr.writeLine(protocol.LogoutCommand, c.cfg.WriteTimeout)
		}

		c.mu.Lock()
		c.teardownLocked()
		c.mu.Unlock()
		c.log.Info().Msg("client closed")
	})
	return nil
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state != StateClosed {
		c.state = s
	}
	c.mu.Unlock()
}

// connectOnce performs one dial+login attempt and, on success, installs
// the transport and starts the session loops. connectMu covers the whole
// dial→login→install sequence; an attempt that finds the session already
// ready is a no-op.
func (c *Client) connectOnce(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return ErrClosed
	case StateReady:
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Addr())
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("%w: dial %s: %v", ErrConnectionFailed, c.cfg.Addr(), err)
	}
	tr := newTransport(conn)

	c.setState(StateLoggingIn)
	if err := c.login(tr); err != nil {
		_ = tr.close()
		c.setState(StateDisconnected)
		return err
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		_ = tr.close()
		return ErrClosed
	}
	stop := make(chan struct{})
	wg := &sync.WaitGroup{}
	c.tr = tr
	c.loopStop = stop
	c.loopWG = wg
	c.reconnectDelay = c.cfg.Backoff.InitialDelay
	c.state = StateReady
	c.mu.Unlock()

	wg.Add(2)
	go c.readLoop(tr, stop, wg)
	go c.keepaliveLoop(tr, stop, wg)

	c.log.Info().Msg("session ready")
	return nil
}

// login drives the prompt exchange: username at `login: `, password at
// `password: `, success at the ready prompt, hard failure on the
// controller's literal bad-login line.
func (c *Client) login(tr *transport) error {
	deadline := time.Now().Add(c.cfg.LoginTimeout)
	for {
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: no ready prompt within %s", ErrLoginTimeout, c.cfg.LoginTimeout)
		}
		unit, err := tr.readUnit(c.cfg.LoginReadTimeout)
		if err != nil {
			if errors.Is(err, ErrReadTimeout) {
				continue
			}
			return err
		}
		switch {
		case strings.EqualFold(strings.TrimSpace(unit), protocol.BadLoginLine):
			return fmt.Errorf("%w: controller rejected credentials", ErrLoginFailed)
		case unit == protocol.LoginPrompt:
			if err := tr.writeLine(c.cfg.Username, c.cfg.WriteTimeout); err != nil {
				return err
			}
		case unit == protocol.PasswordPrompt:
			if err := tr.writeLine(c.cfg.Password, c.cfg.WriteTimeout); err != nil {
				return err
			}
		case protocol.IsPrompt(unit):
			return c.flushPromptQuirk(tr, deadline)
		}
	}
}

// flushPromptQuirk burns the controller quirk where the first command
// after login is swallowed: an empty line is sacrificed and the stream is
// drained up to the fresh prompt.
func (c *Client) flushPromptQuirk(tr *transport, deadline time.Time) error {
	if err := tr.writeLine("", c.cfg.WriteTimeout); err != nil {
		return err
	}
	for time.Now().Before(deadline) {
		unit, err := tr.readUnit(c.cfg.LoginReadTimeout)
		if err != nil {
			if errors.Is(err, ErrReadTimeout) {
				return nil
			}
			return err
		}
		if protocol.IsPrompt(unit) {
			return nil
		}
	}
	return nil
}

// readLoop turns inbound units into bus events until the connection drops
// or the session stops. Read timeouts are idle, not failure.
func (c *Client) readLoop(tr *transport, stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-stop:
			return
		default:
		}
		unit, err := tr.readUnit(c.cfg.ReadTimeout)
		if err != nil {
			if errors.Is(err, ErrReadTimeout) {
				continue
			}
			select {
			case <-stop:
				return
			default:
			}
			go c.reset(err)
			return
		}
		c.dispatch(unit)
	}
}

// dispatch classifies one inbound unit and emits it on the bus. Parsed
// response lines land on the firehose topic as their sniffed tokens;
// unparsed text lands as the raw line.
func (c *Client) dispatch(unit string) {
	line := strings.TrimSpace(unit)
	if line == "" {
		return
	}
	if protocol.IsPrompt(line) {
		c.bus.Emit(protocol.TopicCommandPrompt, line)
		return
	}
	if ev, ok := protocol.ParseLine(line); ok {
		c.log.Debug().Str("event", ev.Name).Msg("inbound event")
		c.bus.Emit(eventbus.Device(ev.Name), ev.Data)
		c.bus.Emit(protocol.TopicAllEvents, ev.Data)
		return
	}
	c.bus.Emit(protocol.TopicNonResponse, line)
	c.bus.Emit(protocol.TopicAllEvents, line)
}

// keepaliveLoop sends the idle heartbeat, an empty command line, at the
// configured interval.
func (c *Client) keepaliveLoop(tr *transport, stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(c.cfg.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := tr.writeLine("", c.cfg.WriteTimeout); err != nil {
				c.log.Warn().Err(err).Msg("keepalive failed")
				go c.reset(err)
				return
			}
		}
	}
}

// reset tears down a lost session and schedules reconnects. Invoked from
// loop goroutines after they observe a connection failure.
func (c *Client) reset(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return
	}
	c.log.Warn().Err(cause).Msg("session lost, resetting")
	c.state = StateDisconnecting
	c.teardownLocked()
	c.state = StateDisconnected
	c.scheduleReconnectLocked()
}

// teardownLocked closes the transport, stops the loops and waits briefly
// for them to join. Callers hold c.mu.
func (c *Client) teardownLocked() {
	if c.loopStop != nil {
		close(c.loopStop)
		c.loopStop = nil
	}
	if c.tr != nil {
		_ = c.tr.close()
		c.tr = nil
	}
	if c.loopWG != nil {
		wg := c.loopWG
		c.loopWG = nil
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(c.cfg.TeardownJoin):
			c.log.Debug().Msg("session loops did not join in time")
		}
	}
}

func (c *Client) scheduleReconnectLocked() {
	if c.reconnecting || c.state == StateClosed {
		return
	}
	c.reconnecting = true
	go c.reconnectLoop()
}

// reconnectLoop retries connectOnce with a doubling delay until success,
// permanent close, or a credential rejection.
func (c *Client) reconnectLoop() {
	for {
		c.mu.Lock()
		if c.state == StateClosed {
			c.reconnecting = false
			c.mu.Unlock()
			return
		}
		delay := c.reconnectDelay
		next := time.Duration(float64(delay) * c.cfg.Backoff.Multiplier)
		if next > c.cfg.Backoff.MaxDelay {
			next = c.cfg.Backoff.MaxDelay
		}
		c.reconnectDelay = next
		c.mu.Unlock()

		c.log.Info().Dur("delay", delay).Msg("reconnect scheduled")
		select {
		case <-c.stopped:
			return
		case <-time.After(delay):
		}

		err := c.connectOnce(context.Background())
		if err == nil {
			c.mu.Lock()
			c.reconnecting = false
			c.mu.Unlock()
			return
		}
		if errors.Is(err, ErrClosed) {
			return
		}
		if errors.Is(err, ErrLoginFailed) {
			c.log.Error().Err(err).Msg("credentials rejected, closing permanently")
			_ = c.Close()
			return
		}
		c.log.Warn().Err(err).Msg("reconnect attempt failed")
	}
}
