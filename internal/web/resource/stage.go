package resource

import (
	"errors"
	"fmt"
)

// Stage is a step of the per-request pipeline
type Stage int

const (
	Received Stage = iota
	Validated
	OptionsMerged
	Executed
	Shaped
	Sent
)

// String returns the string representation of the stage
func (s Stage) String() string {
	switch s {
	case Received:
		return "RECEIVED"
	case Validated:
		return "VALIDATED"
	case OptionsMerged:
		return "OPTIONS_MERGED"
	case Executed:
		return "EXECUTED"
	case Shaped:
		return "SHAPED"
	case Sent:
		return "SENT"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// ErrStageOrder is returned when the pipeline attempts an out-of-order
// transition. It indicates a programming error, never a client error.
var ErrStageOrder = errors.New("pipeline stage out of order")

// stageMachine tracks one request through the pipeline. Each stage is entered
// exactly once and in order, so execution cannot be triggered twice.
type stageMachine struct {
	current Stage
	onEnter func(Stage)
}

func newStageMachine(onEnter func(Stage)) *stageMachine {
	return &stageMachine{current: Received, onEnter: onEnter}
}

// Advance moves to the next stage
func (sm *stageMachine) Advance(to Stage) error {
	if to != sm.current+1 {
		return fmt.Errorf("%w: %s -> %s", ErrStageOrder, sm.current, to)
	}
	sm.current = to
	if sm.onEnter != nil {
		sm.onEnter(to)
	}
	return nil
}

// Current returns the stage the request is in
func (sm *stageMachine) Current() Stage {
	return sm.current
}
