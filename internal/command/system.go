package command

import (
	"fmt"
	"strings"
	"time"

	"github.com/qnetctl/qnetctl/internal/protocol"
)

// SystemAction enumerates the SYSTEM family actions.
type SystemAction int

const (
	SystemTime     SystemAction = 1
	SystemDate     SystemAction = 2
	SystemLatLong  SystemAction = 4
	SystemTimeZone SystemAction = 5
	SystemSunset   SystemAction = 6
	SystemSunrise  SystemAction = 7
	SystemOSRev    SystemAction = 8
	SystemLoadShed SystemAction = 11
)

// SystemActionFromInt validates a raw action number.
func SystemActionFromInt(raw int) (SystemAction, error) {
	switch a := SystemAction(raw); a {
	case SystemTime, SystemDate, SystemLatLong, SystemTimeZone,
		SystemSunset, SystemSunrise, SystemOSRev, SystemLoadShed:
		return a, nil
	default:
		return 0, fmt.Errorf("%w: SYSTEM action %d", ErrUnknownAction, raw)
	}
}

var systemSchema = MustSchema("SYSTEM,{action}", []Definition{
	GetSet(int(SystemTime), ToTime),
	GetSet(int(SystemDate), ToDate),
	GetSet(int(SystemLatLong), ToLatLong),
	GetSet(int(SystemTimeZone), ToTimezone),
	Get(int(SystemSunset), ToTime),
	Get(int(SystemSunrise), ToTime),
	Get(int(SystemOSRev), PassThrough),
	Set(int(SystemLoadShed), ToInt),
})

// SystemSchema returns the SYSTEM family schema.
func SystemSchema() *Schema { return systemSchema }

// NewSystem builds a SYSTEM command.
func NewSystem(action SystemAction) (*Command, error) {
	if _, err := SystemActionFromInt(int(action)); err != nil {
		return nil, err
	}
	cmd, err := New(systemSchema, int(action), map[string]any{
		"action": int(action),
	})
	if err != nil {
		return nil, err
	}
	// The OS revision reply arrives as a plain unprefixed line, not a
	// ~SYSTEM event, so it is captured off the non-response stream.
	if action == SystemOSRev {
		cmd.WithCustomHandler(protocol.TopicNonResponse, osRevLineHandler)
	}
	return cmd, nil
}

func mustSystem(action SystemAction) *Command {
	cmd, err := NewSystem(action)
	if err != nil {
		panic(err)
	}
	return cmd
}

// SystemGetTime queries the controller clock.
func SystemGetTime() *Command { return mustSystem(SystemTime) }

// SystemSetTime sets the controller clock. Accepts SS.ss, SS, MM:SS or
// HH:MM:SS forms.
func SystemSetTime(value string) *Command {
	return mustSystem(SystemTime).Set(value)
}

// SystemGetDate queries the controller date.
func SystemGetDate() *Command { return mustSystem(SystemDate) }

// SystemSetDate sets the controller date from a MM/DD/YYYY string or a
// time value.
func SystemSetDate(value any) *Command {
	if t, ok := value.(time.Time); ok {
		value = t.Format("01/02/2006")
	}
	return mustSystem(SystemDate).Set(value)
}

// SystemGetLatLong queries the configured latitude/longitude.
func SystemGetLatLong() *Command { return mustSystem(SystemLatLong) }

// SystemSetLatLong sets the configured latitude/longitude.
func SystemSetLatLong(latitude, longitude float64) *Command {
	return mustSystem(SystemLatLong).Set(latitude, longitude)
}

// SystemGetTimeZone queries the controller timezone offset.
func SystemGetTimeZone() *Command { return mustSystem(SystemTimeZone) }

// SystemSetTimeZone sets the controller timezone offset ([+-]HH:MM).
func SystemSetTimeZone(offset string) *Command {
	return mustSystem(SystemTimeZone).Set(offset)
}

// SystemGetSunset queries today's sunset time.
func SystemGetSunset() *Command { return mustSystem(SystemSunset) }

// SystemGetSunrise queries today's sunrise time.
func SystemGetSunrise() *Command { return mustSystem(SystemSunrise) }

// SystemGetOSRev queries the controller OS revision string.
func SystemGetOSRev() *Command { return mustSystem(SystemOSRev) }

// SystemSetLoadShed enables or disables load shedding.
func SystemSetLoadShed(enabled bool) *Command {
	value := "0"
	if enabled {
		value = "1"
	}
	return mustSystem(SystemLoadShed).Set(value)
}

func osRevLineHandler(data any, ec *ExecContext) {
	line, ok := data.(string)
	if !ok {
		return
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	ec.Resolve(line, nil)
}
