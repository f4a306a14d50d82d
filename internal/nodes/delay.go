package nodes

import (
	"context"
	"fmt"
	"time"

	"github.com/patali/fluxgraph/internal/engine"
	"github.com/patali/fluxgraph/internal/graph"
)

// shortSleepCeiling is the longest delay a DelayNode will block in-process
// for. Anything longer suspends the execution via the `_await: "sleep"`
// marker instead of occupying a goroutine and a pool permit for hours.
const shortSleepCeiling = 30 * time.Second

// DelayNode computes a wake-up time from either an absolute target or a
// relative duration (SPEC_FULL Part D's generalization of the teacher's
// sleep node). Short delays complete synchronously; anything past
// shortSleepCeiling suspends the execution through the engine's generic
// await/resume contract, to be woken by internal/sleepsched.
type DelayNode struct{}

func NewDelayNode() engine.Node { return &DelayNode{} }

func (n *DelayNode) InputPorts() []graph.Port {
	return []graph.Port{{Name: "input", Type: graph.PortUniversal}}
}

func (n *DelayNode) OutputPorts() []graph.Port {
	return []graph.Port{{Name: "output", Type: graph.PortUniversal}}
}

func (n *DelayNode) Execute(ctx context.Context, in *engine.NodeExecutionInput) (map[string]interface{}, error) {
	wakeAt, err := computeWakeAt(in.Config)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if !wakeAt.After(now) {
		return passthroughWithWake(in.Ports["input"], wakeAt, true), nil
	}

	remaining := wakeAt.Sub(now)
	if remaining <= shortSleepCeiling {
		select {
		case <-time.After(remaining):
			return passthroughWithWake(in.Ports["input"], wakeAt, false), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	out := passthroughWithWake(in.Ports["input"], wakeAt, false)
	out["_await"] = "sleep"
	out["interaction_id"] = in.ExecutionID + ":" + in.NodeID
	out["wake_at"] = wakeAt.Format(time.RFC3339)
	return out, nil
}

// HandleInteraction closes out a suspended sleep (§4.10's machinery,
// generalized beyond human_input per SPEC_FULL Part D): internal/sleepsched
// calls this with action "wake" once wake_at has passed. payload is the map
// Execute returned when it suspended, so the node's eventual output is
// simply the input it was holding onto.
func (n *DelayNode) HandleInteraction(ctx context.Context, action string, form map[string]interface{}, payload map[string]interface{}) (map[string]interface{}, error) {
	if action != "wake" {
		return nil, fmt.Errorf("delay node only supports the %q action, got %q", "wake", action)
	}
	return map[string]interface{}{
		"output":        payload["output"],
		"woke_at":       time.Now().UTC().Format(time.RFC3339),
		"sleep_skipped": false,
	}, nil
}

func passthroughWithWake(input interface{}, wakeAt time.Time, skipped bool) map[string]interface{} {
	out := map[string]interface{}{
		"output":        input,
		"woke_at":       wakeAt.Format(time.RFC3339),
		"sleep_skipped": skipped,
	}
	return out
}

func computeWakeAt(config map[string]interface{}) (time.Time, error) {
	mode, _ := config["mode"].(string)
	switch mode {
	case "absolute":
		return computeAbsoluteWake(config)
	case "relative", "":
		return computeRelativeWake(config)
	default:
		return time.Time{}, fmt.Errorf("invalid mode %q (must be 'absolute' or 'relative')", mode)
	}
}

func computeAbsoluteWake(config map[string]interface{}) (time.Time, error) {
	targetStr, _ := config["target_date"].(string)
	if targetStr == "" {
		return time.Time{}, fmt.Errorf("target_date is required for absolute mode")
	}
	timezone := "UTC"
	if tz, ok := config["timezone"].(string); ok && tz != "" {
		timezone = tz
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}
	formats := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	var target time.Time
	var parseErr error
	for _, f := range formats {
		target, parseErr = time.ParseInLocation(f, targetStr, loc)
		if parseErr == nil {
			return target.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid target_date %q: expected RFC3339 or ISO 8601", targetStr)
}

func computeRelativeWake(config map[string]interface{}) (time.Time, error) {
	value, ok := config["duration_value"].(float64)
	if !ok || value < 0 {
		return time.Time{}, fmt.Errorf("duration_value is required for relative mode (non-negative number)")
	}
	unit, _ := config["duration_unit"].(string)

	var d time.Duration
	switch unit {
	case "seconds":
		d = time.Duration(value) * time.Second
	case "minutes":
		d = time.Duration(value) * time.Minute
	case "hours":
		d = time.Duration(value) * time.Hour
	case "days":
		d = time.Duration(value*24) * time.Hour
	case "weeks":
		d = time.Duration(value*24*7) * time.Hour
	default:
		return time.Time{}, fmt.Errorf("invalid duration_unit %q", unit)
	}
	return time.Now().UTC().Add(d), nil
}
