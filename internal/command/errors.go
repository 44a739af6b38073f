package command

import (
	"errors"
	"fmt"
)

var (
	// ErrCommandTimeout reports that no matching reply arrived within the
	// command's configured timeout.
	ErrCommandTimeout = errors.New("command: timeout")
	// ErrNotReady reports an execute attempt on a session that is not
	// logged in.
	ErrNotReady = errors.New("command: session not ready")
)

// Error code table from the integration protocol reference. Unknown codes
// get a generic message.
var errorMessages = map[int]string{
	1: "Parameter count mismatch",
	2: "Object does not exist",
	3: "Invalid action number",
	4: "Parameter data out of range",
	5: "Parameter data malformed",
	6: "Unsupported Command",
}

// CommandError is a device-reported failure (`~ERROR,<code>`) attributed
// to the in-flight command.
type CommandError struct {
	Code    int
	Command string
}

func (e *CommandError) Error() string {
	msg, ok := errorMessages[e.Code]
	if !ok {
		msg = fmt.Sprintf("Unknown error: %d", e.Code)
	}
	if e.Command == "" {
		return fmt.Sprintf("command: %s (code %d)", msg, e.Code)
	}
	return fmt.Sprintf("command: %s (code %d, command: %s)", msg, e.Code, e.Command)
}
