// Package protocol holds the wire-level facts of the Homeworks QS
// integration protocol: an unframed ASCII stream of CRLF-terminated lines
// where solicited replies, unsolicited status events and an idle prompt
// all interleave without request identifiers.
package protocol

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/qnetctl/qnetctl/internal/eventbus"
)

const (
	LineEnd = "\r\n"

	// Prompt is the fixed string the controller emits when it is ready
	// for a new command line.
	Prompt = "QNET>"

	LoginPrompt    = "login: "
	PasswordPrompt = "password: "

	QueryPrefix    = "?"
	ExecutePrefix  = "#"
	ResponsePrefix = "~"

	// BadLoginLine is emitted verbatim by the controller on rejected
	// credentials.
	BadLoginLine = "bad login"

	// LogoutCommand is sent best-effort before a permanent close.
	LogoutCommand = "LOGOUT"
)

// Internal bus topics. These never appear on the wire; they carry client
// signals and therefore live in their own topic kind.
var (
	// TopicAllEvents is a firehose copy of every inbound line: the sniffed
	// tokens for parsed response lines, the raw text otherwise.
	TopicAllEvents = eventbus.Internal("::[*]::")
	// TopicNonResponse carries inbound lines without the response prefix.
	TopicNonResponse = eventbus.Internal("::[msg]::")
	// TopicCommandPrompt fires whenever the ready prompt is observed.
	TopicCommandPrompt = eventbus.Internal("::[prompt]::")
)

var (
	reInteger = regexp.MustCompile(`^-?\d+$`)
	reFloat   = regexp.MustCompile(`^-?\d+\.\d+$`)
)

// Event is one parsed response line: `~<NAME>,<field1>,...` with the
// fields type-sniffed into int64, float64 or string.
type Event struct {
	Name string
	Data []any
}

// ParseLine classifies one stripped inbound line. It returns the parsed
// event and true when the line carries the response prefix; (zero, false)
// for prompt lines, empty lines and plain device text.
func ParseLine(line string) (Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, Prompt) {
		return Event{}, false
	}
	if !strings.HasPrefix(line, ResponsePrefix) {
		return Event{}, false
	}

	parts := strings.Split(line, ",")
	name := strings.TrimPrefix(parts[0], ResponsePrefix)
	return Event{Name: name, Data: InferValues(parts[1:])}, true
}

// IsPrompt reports whether the stripped line is the command-ready prompt.
func IsPrompt(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), Prompt)
}

// InferValues sniffs each comma token into int64, float64 or string.
func InferValues(parts []string) []any {
	values := make([]any, 0, len(parts))
	for _, part := range parts {
		values = append(values, inferValue(part))
	}
	return values
}

func inferValue(part string) any {
	if reInteger.MatchString(part) {
		if n, err := strconv.ParseInt(part, 10, 64); err == nil {
			return n
		}
	}
	if reFloat.MatchString(part) {
		if f, err := strconv.ParseFloat(part, 64); err == nil {
			return f
		}
	}
	return part
}
