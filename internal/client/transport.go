package client

import (
	"bytes"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/qnetctl/qnetctl/internal/protocol"
)

// transport wraps one TCP connection with unit-oriented reads. The stream
// is unframed: complete CRLF lines and bare prompts (which never carry a
// line end) both count as units, so reads accumulate until either appears.
type transport struct {
	conn net.Conn

	readMu  sync.Mutex
	pending []byte
	scratch []byte

	writeMu sync.Mutex
}

// prompts the controller emits without a trailing line end, in match order.
var barePrompts = []string{
	protocol.LoginPrompt,
	protocol.PasswordPrompt,
	protocol.Prompt,
}

func newTransport(conn net.Conn) *transport {
	return &transport{
		conn:    conn,
		scratch: make([]byte, 4096),
	}
}

// readUnit returns the next line (stripped of its CRLF) or bare prompt.
// A deadline expiry with no complete unit buffered returns ErrReadTimeout;
// any other failure, including EOF, returns ErrConnectionFailed.
func (t *transport) readUnit(timeout time.Duration) (string, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	for {
		if unit, ok := t.takeUnit(); ok {
			return unit, nil
		}
		if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return "", fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
		n, err := t.conn.Read(t.scratch)
		if n > 0 {
			t.pending = append(t.pending, t.scratch[:n]...)
		}
		if err != nil {
			if unit, ok := t.takeUnit(); ok {
				return unit, nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return "", fmt.Errorf("%w: no data within %s", ErrReadTimeout, timeout)
			}
			return "", fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
	}
}

// takeUnit consumes the earliest complete unit from the buffer. Prompts
// are matched at the front first so a prompt glued to a following line is
// not misread as one long line.
func (t *transport) takeUnit() (string, bool) {
	s := string(t.pending)
	for _, prompt := range barePrompts {
		if strings.HasPrefix(s, prompt) {
			t.pending = t.pending[len(prompt):]
			return prompt, true
		}
	}
	if idx := bytes.Index(t.pending, []byte(protocol.LineEnd)); idx >= 0 {
		line := string(t.pending[:idx])
		t.pending = t.pending[idx+len(protocol.LineEnd):]
		return line, true
	}
	return "", false
}

// writeLine sends one line with the protocol line end appended. Writes are
// serialized so interleaved senders cannot shear a line.
func (t *transport) writeLine(line string, timeout time.Duration) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	if _, err := t.conn.Write([]byte(line + protocol.LineEnd)); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return fmt.Errorf("%w: after %s", ErrWriteTimeout, timeout)
		}
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return nil
}

func (t *transport) close() error {
	return t.conn.Close()
}
