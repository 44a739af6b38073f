package command

import (
	"fmt"
	"sync"
	"time"

	"github.com/qnetctl/qnetctl/internal/eventbus"
)

// AreaAction enumerates the AREA family actions.
type AreaAction int

const (
	AreaZoneLevel      AreaAction = 1
	AreaStartRaise     AreaAction = 2
	AreaStartLower     AreaAction = 3
	AreaStopRaiseLower AreaAction = 4
	AreaScene          AreaAction = 6
)

// AreaActionFromInt validates a raw action number.
func AreaActionFromInt(raw int) (AreaAction, error) {
	switch a := AreaAction(raw); a {
	case AreaZoneLevel, AreaStartRaise, AreaStartLower, AreaStopRaiseLower, AreaScene:
		return a, nil
	default:
		return 0, fmt.Errorf("%w: AREA action %d", ErrUnknownAction, raw)
	}
}

var areaSchema = MustSchema("AREA,{iid},{action}", []Definition{
	GetSet(int(AreaZoneLevel), nil).noResponse(),
	Set(int(AreaStartRaise), nil).noResponse(),
	Set(int(AreaStartLower), nil).noResponse(),
	Set(int(AreaStopRaiseLower), nil).noResponse(),
	GetSet(int(AreaScene), ToIntOrUnknown),
})

// AreaSchema returns the AREA family schema.
func AreaSchema() *Schema { return areaSchema }

// NewArea builds an AREA command for one integration ID.
func NewArea(iid int, action AreaAction) (*Command, error) {
	if _, err := AreaActionFromInt(int(action)); err != nil {
		return nil, err
	}
	return New(areaSchema, int(action), map[string]any{
		"iid":    iid,
		"action": int(action),
	})
}

func mustArea(iid int, action AreaAction) *Command {
	cmd, err := NewArea(iid, action)
	if err != nil {
		panic(err)
	}
	return cmd
}

// OutputLevel is one per-output reading gathered by an area-level read.
type OutputLevel struct {
	IID   int64   `json:"iid"`
	Level float64 `json:"level"`
}

// AreaLevels aggregates the per-output replies provoked by `?AREA,<iid>,1`.
type AreaLevels struct {
	AverageLevel float64       `json:"average_level"`
	Outputs      []OutputLevel `json:"outputs"`
}

// AreaGetZoneLevel queries the level of every output in the area. The
// controller answers with individual ~OUTPUT lines rather than an AREA
// reply, so the command fans out over the OUTPUT event family and settles
// once the accumulated readings stop growing.
func AreaGetZoneLevel(iid int) *Command {
	return mustArea(iid, AreaZoneLevel).WithHook(areaAggregateHook)
}

// AreaSetZoneLevel sets every output in the area to level (0-100).
func AreaSetZoneLevel(iid int, level float64) *Command {
	return mustArea(iid, AreaZoneLevel).Set(level)
}

// AreaStartRaising starts raising the area.
func AreaStartRaising(iid int) *Command {
	return mustArea(iid, AreaStartRaise)
}

// AreaStartLowering starts lowering the area.
func AreaStartLowering(iid int) *Command {
	return mustArea(iid, AreaStartLower)
}

// AreaStopRaisingLowering stops an in-progress raise/lower.
func AreaStopRaisingLowering(iid int) *Command {
	return mustArea(iid, AreaStopRaiseLower)
}

// AreaGetScene queries the active scene.
func AreaGetScene(iid int) *Command {
	return mustArea(iid, AreaScene)
}

// AreaSetScene activates a scene.
func AreaSetScene(iid int, scene int) *Command {
	return mustArea(iid, AreaScene).Set(scene)
}

// emptyAggregatePolls bounds the wait for an area whose outputs never
// reply; after this many settle intervals with no readings the aggregate
// resolves empty instead of burning the command timeout.
const emptyAggregatePolls = 3

// areaAggregateHook accumulates ~OUTPUT,<iid>,1,<level> readings and
// resolves once a settle interval passes without the count growing. The
// device offers no batch-completion signal, so settling is a heuristic
// bounded by the overall command timeout.
func areaAggregateHook(ec *ExecContext) {
	var mu sync.Mutex
	var readings []OutputLevel

	ec.Track(ec.Session.Subscribe(eventbus.Device("OUTPUT"), func(data any) {
		values, ok := data.([]any)
		if !ok || len(values) < 3 {
			return
		}
		action, err := coerceInt(values[1])
		if err != nil || action != int64(AreaZoneLevel) {
			return
		}
		outputIID, iidErr := coerceInt(values[0])
		level, levelErr := coerceFloat(values[2])
		if iidErr != nil || levelErr != nil {
			return
		}
		mu.Lock()
		readings = append(readings, OutputLevel{IID: outputIID, Level: level})
		mu.Unlock()
	}))

	go func() {
		ticker := time.NewTicker(ec.Config.AggregateSettle)
		defer ticker.Stop()
		seen := 0
		emptyPolls := 0
		for settled := false; !settled; {
			select {
			case <-ec.Done:
				return
			case <-ticker.C:
				mu.Lock()
				count := len(readings)
				mu.Unlock()
				if count == 0 {
					emptyPolls++
					settled = emptyPolls >= emptyAggregatePolls
				} else {
					settled = count == seen
				}
				seen = count
			}
		}

		mu.Lock()
		outputs := make([]OutputLevel, len(readings))
		copy(outputs, readings)
		mu.Unlock()

		var sum float64
		for _, o := range outputs {
			sum += o.Level
		}
		result := AreaLevels{Outputs: outputs}
		if len(outputs) > 0 {
			result.AverageLevel = sum / float64(len(outputs))
		}
		ec.Log.Debug().Int("outputs", len(outputs)).Msg("area read settled")
		ec.Resolve(result, nil)
	}()
}
