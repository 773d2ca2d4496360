// Package fsm defines the lifecycle of a pipe reader worker.
package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle     State = "idle"
	StateFilling  State = "filling"
	StateFull     State = "full"
	StateEOF      State = "eof"
	StateError    State = "error"
	StateCanceled State = "canceled"
)

const (
	EventStart  Event = "start"
	EventFilled Event = "filled"
	EventDrain  Event = "drain"
	EventEOF    Event = "eof"
	EventFail   Event = "fail"
	EventCancel Event = "cancel"
)

// Terminal reports whether no further OS reads happen in state s.
func (s State) Terminal() bool {
	switch s {
	case StateEOF, StateError, StateCanceled:
		return true
	default:
		return false
	}
}

func Transition(current State, event Event) (State, error) {
	if event == EventCancel {
		return StateCanceled, nil
	}

	switch current {
	case StateIdle:
		switch event {
		case EventStart:
			return StateFilling, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateFilling:
		switch event {
		case EventFilled:
			return StateFull, nil
		case EventDrain:
			return StateFilling, nil
		case EventEOF:
			return StateEOF, nil
		case EventFail:
			return StateError, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateFull:
		switch event {
		case EventDrain:
			return StateFilling, nil
		case EventFilled:
			return StateFull, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateEOF, StateError:
		// Latched: draining the buffer does not leave the terminal state.
		switch event {
		case EventDrain:
			return current, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateCanceled:
		return current, invalidTransition(current, event)
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
