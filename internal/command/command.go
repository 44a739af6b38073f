package command

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/qnetctl/qnetctl/internal/eventbus"
	"github.com/qnetctl/qnetctl/internal/protocol"
)

// Kind selects the outbound prefix. Clients never produce KindResponse.
type Kind int

const (
	KindQuery Kind = iota
	KindExecute
	KindResponse
)

// Session is the slice of the client the engine needs: a guarded raw send
// and bus subscription management. The client treats commands as opaque
// and the engine treats the session the same way.
type Session interface {
	SendRaw(ctx context.Context, line string) error
	Subscribe(topic eventbus.Topic, callback eventbus.Callback) eventbus.Token
	Unsubscribe(token eventbus.Token) bool
}

// ExecConfig carries the engine tunables. The zero value is usable via
// WithDefaults.
type ExecConfig struct {
	// NoResponseGrace replaces the caller timeout for commands the device
	// never acknowledges; silence for this long counts as success.
	NoResponseGrace time.Duration
	// AggregateSettle is the poll interval used by fan-out reads to decide
	// the accumulated result has stopped growing.
	AggregateSettle time.Duration
}

func (c ExecConfig) WithDefaults() ExecConfig {
	if c.NoResponseGrace <= 0 {
		c.NoResponseGrace = 200 * time.Millisecond
	}
	if c.AggregateSettle <= 0 {
		c.AggregateSettle = 250 * time.Millisecond
	}
	return c
}

// ExecuteHook installs the listeners that will resolve one execution.
// The default hook subscribes a matcher on the command's own event name;
// aggregating commands replace it to fan out over a different family.
type ExecuteHook func(ec *ExecContext)

// ExecContext is handed to the execute hook and any custom handler for
// the lifetime of one Execute call.
type ExecContext struct {
	Session Session
	Config  ExecConfig
	Command *Command
	Log     zerolog.Logger

	// Done is closed when the execution ends, however it resolves. Hook
	// goroutines must exit when it closes.
	Done <-chan struct{}

	resolve func(value any, err error)
	track   func(token eventbus.Token)
}

// Resolve completes the execution. The first call wins; later calls are
// ignored.
func (ec *ExecContext) Resolve(value any, err error) { ec.resolve(value, err) }

// Track registers a subscription token for cleanup when the execution ends.
func (ec *ExecContext) Track(token eventbus.Token) { ec.track(token) }

// CustomHandler receives raw bus payloads for commands answered outside
// their own event family (e.g. plain unprefixed lines).
type CustomHandler func(data any, ec *ExecContext)

// Command is one instance of a family action, created per call and
// discarded after resolution.
type Command struct {
	schema *Schema
	action int
	def    Definition
	kind   Kind

	values    map[string]any
	setParams []any

	hook          ExecuteHook
	customTopic   eventbus.Topic
	customHandler CustomHandler
}

// New builds a command instance for a schema action with its positional
// field values keyed by schema field name.
func New(schema *Schema, action int, values map[string]any) (*Command, error) {
	def, ok := schema.Definition(action)
	if !ok {
		return nil, fmt.Errorf("%w: %s action %d", ErrUnknownAction, schema.CommandName(), action)
	}

	kind := KindQuery
	if !def.IsGet {
		kind = KindExecute
	}
	if values == nil {
		values = map[string]any{}
	}
	return &Command{
		schema: schema,
		action: action,
		def:    def,
		kind:   kind,
		values: values,
	}, nil
}

// Set switches the command to execute form and attaches set parameters.
func (c *Command) Set(params ...any) *Command {
	c.kind = KindExecute
	c.setParams = params
	return c
}

// WithHook replaces the default execute hook.
func (c *Command) WithHook(hook ExecuteHook) *Command {
	c.hook = hook
	return c
}

// WithCustomHandler routes payloads from topic into handler for the
// lifetime of an execution.
func (c *Command) WithCustomHandler(topic eventbus.Topic, handler CustomHandler) *Command {
	c.customTopic = topic
	c.customHandler = handler
	return c
}

// Name is the command family name from the schema.
func (c *Command) Name() string { return c.schema.CommandName() }

// NoResponse reports whether the device never acknowledges this action.
func (c *Command) NoResponse() bool { return c.def.NoResponse }

// RequiresResponse reports whether the execution resolves from inbound
// events rather than the silence grace period. Such commands must run one
// at a time since replies carry no request identifiers.
func (c *Command) RequiresResponse() bool { return !c.def.NoResponse || c.hook != nil }

// Formatted renders the outbound line:
// <prefix><NAME>,<field1>,...,<fieldN>[,<set-params>...].
func (c *Command) Formatted() string {
	prefix := protocol.QueryPrefix
	switch c.kind {
	case KindExecute:
		prefix = protocol.ExecutePrefix
	case KindResponse:
		prefix = protocol.ResponsePrefix
	}

	parts := []string{c.schema.CommandName()}
	complete := true
	for _, field := range c.schema.fields {
		value, ok := c.values[field.Name]
		if !ok {
			complete = false
			break
		}
		parts = append(parts, formatValue(value))
	}
	if complete {
		for _, param := range c.setParams {
			parts = append(parts, formatValue(param))
		}
	}

	out := parts[0]
	for _, p := range parts[1:] {
		out += "," + p
	}
	return prefix + out
}

type outcome struct {
	value any
	err   error
}

// Execute formats and sends the command, wires transient bus listeners,
// and blocks until a matching reply, a device error, the timeout, or ctx
// cancellation. No-response commands wait only the configured grace
// period and resolve empty.
func (c *Command) Execute(ctx context.Context, sess Session, cfg ExecConfig, timeout time.Duration) (any, error) {
	cfg = cfg.WithDefaults()
	formatted := c.Formatted()
	logger := log.With().
		Str("exec_id", uuid.NewString()).
		Str("command", formatted).
		Logger()

	done := make(chan outcome, 1)
	var once sync.Once
	resolve := func(value any, err error) {
		once.Do(func() { done <- outcome{value: value, err: err} })
	}

	var tokenMu sync.Mutex
	var tokens []eventbus.Token
	track := func(token eventbus.Token) {
		tokenMu.Lock()
		tokens = append(tokens, token)
		tokenMu.Unlock()
	}
	defer func() {
		tokenMu.Lock()
		defer tokenMu.Unlock()
		for _, token := range tokens {
			sess.Unsubscribe(token)
		}
	}()

	finished := make(chan struct{})
	defer close(finished)

	ec := &ExecContext{
		Session: sess,
		Config:  cfg,
		Command: c,
		Log:     logger,
		Done:    finished,
		resolve: resolve,
		track:   track,
	}

	hook := c.hook
	if hook == nil {
		hook = defaultExecuteHook
	}
	hook(ec)

	track(sess.Subscribe(eventbus.Device("ERROR"), func(data any) {
		code := 0
		if values, ok := data.([]any); ok && len(values) > 0 {
			if n, err := coerceInt(values[0]); err == nil {
				code = int(n)
			}
		}
		logger.Warn().Int("error_code", code).Msg("device reported command error")
		resolve(nil, &CommandError{Code: code, Command: formatted})
	}))

	if c.customHandler != nil {
		handler := c.customHandler
		track(sess.Subscribe(c.customTopic, func(data any) {
			handler(data, ec)
		}))
	}

	logger.Debug().Msg("sending command")
	if err := sess.SendRaw(ctx, formatted); err != nil {
		resolve(nil, err)
	}

	wait := timeout
	graceOnly := c.def.NoResponse && c.hook == nil
	if graceOnly {
		wait = cfg.NoResponseGrace
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.value, out.err
	case <-timer.C:
		if graceOnly {
			logger.Debug().Msg("no-response command settled")
			return nil, nil
		}
		logger.Warn().Dur("timeout", wait).Msg("command timed out")
		return nil, fmt.Errorf("%w: %s after %s", ErrCommandTimeout, formatted, wait)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func defaultExecuteHook(ec *ExecContext) {
	c := ec.Command
	if c.def.NoResponse {
		return
	}
	ec.Track(ec.Session.Subscribe(eventbus.Device(c.schema.CommandName()), func(data any) {
		values, ok := data.([]any)
		if !ok {
			return
		}
		matched, tail := c.matchesResponse(values)
		if !matched {
			ec.Log.Debug().Msg("response does not match pending command")
			return
		}
		ec.Resolve(c.processResponse(tail, ec.Log))
	}))
}

// matchesResponse walks schema fields in declared order against the
// command's own values, string-coerced. The first mismatch rejects the
// event. A field without a value (including a variadic marker) stops the
// walk and the remaining tail is the unmatched payload.
func (c *Command) matchesResponse(data []any) (bool, []any) {
	for idx, field := range c.schema.fields {
		value, ok := c.values[field.Name]
		if field.Variadic || !ok {
			return true, tail(data, idx)
		}
		if idx >= len(data) {
			return false, nil
		}
		if formatValue(value) != formatValue(data[idx]) {
			return false, nil
		}
	}
	return true, tail(data, len(c.schema.fields))
}

// processResponse runs the schema processor over the unmatched payload.
// A processor failure degrades to the raw payload instead of failing the
// call.
func (c *Command) processResponse(data []any, logger zerolog.Logger) (any, error) {
	var arg any = data
	if len(data) == 1 {
		arg = data[0]
	}
	if c.def.Processor == nil {
		return arg, nil
	}
	result, err := c.def.Processor(arg)
	if err != nil {
		logger.Warn().Err(err).Msg("response processor failed, returning raw payload")
		return arg, nil
	}
	return result, nil
}

func tail(data []any, from int) []any {
	if from >= len(data) {
		return nil
	}
	return data[from:]
}

// formatValue renders a field for the wire and for string-coerced
// matching. Floats always carry a decimal point so levels round-trip the
// way the controller prints them.
func formatValue(value any) string {
	switch v := value.(type) {
	case float64:
		if v == math.Trunc(v) {
			return strconv.FormatFloat(v, 'f', 1, 64)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return formatValue(float64(v))
	default:
		return fmt.Sprint(value)
	}
}
