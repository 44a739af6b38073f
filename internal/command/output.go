package command

import "fmt"

// OutputAction enumerates the OUTPUT family actions.
type OutputAction int

const (
	OutputZoneLevel      OutputAction = 1
	OutputStartRaise     OutputAction = 2
	OutputStartLower     OutputAction = 3
	OutputStopRaiseLower OutputAction = 4
	OutputPulseTime      OutputAction = 5
)

// OutputActionFromInt validates a raw action number.
func OutputActionFromInt(raw int) (OutputAction, error) {
	switch a := OutputAction(raw); a {
	case OutputZoneLevel, OutputStartRaise, OutputStartLower, OutputStopRaiseLower, OutputPulseTime:
		return a, nil
	default:
		return 0, fmt.Errorf("%w: OUTPUT action %d", ErrUnknownAction, raw)
	}
}

var outputSchema = MustSchema("OUTPUT,{iid},{action}", []Definition{
	GetSet(int(OutputZoneLevel), ToFloat),
	Set(int(OutputStartRaise), ToInt).noResponse(),
	Set(int(OutputStartLower), ToInt).noResponse(),
	Set(int(OutputStopRaiseLower), ToInt).noResponse(),
	Set(int(OutputPulseTime), ToInt).noResponse(),
})

// OutputSchema returns the OUTPUT family schema.
func OutputSchema() *Schema { return outputSchema }

// NewOutput builds an OUTPUT command for one integration ID.
func NewOutput(iid int, action OutputAction) (*Command, error) {
	if _, err := OutputActionFromInt(int(action)); err != nil {
		return nil, err
	}
	return New(outputSchema, int(action), map[string]any{
		"iid":    iid,
		"action": int(action),
	})
}

func mustOutput(iid int, action OutputAction) *Command {
	cmd, err := NewOutput(iid, action)
	if err != nil {
		panic(err)
	}
	return cmd
}

// OutputGetZoneLevel queries the current level of an output (0-100).
func OutputGetZoneLevel(iid int) *Command {
	return mustOutput(iid, OutputZoneLevel)
}

// OutputSetZoneLevel sets the level of an output (0-100).
func OutputSetZoneLevel(iid int, level float64) *Command {
	return mustOutput(iid, OutputZoneLevel).Set(level)
}

// OutputStartRaising starts raising the output.
func OutputStartRaising(iid int) *Command {
	return mustOutput(iid, OutputStartRaise)
}

// OutputStartLowering starts lowering the output.
func OutputStartLowering(iid int) *Command {
	return mustOutput(iid, OutputStartLower)
}

// OutputStopRaisingLowering stops an in-progress raise/lower.
func OutputStopRaisingLowering(iid int) *Command {
	return mustOutput(iid, OutputStopRaiseLower)
}

// OutputSetPulseTime sets the pulse time of a pulsed output, in seconds.
func OutputSetPulseTime(iid int, seconds int) *Command {
	return mustOutput(iid, OutputPulseTime).Set(seconds)
}
