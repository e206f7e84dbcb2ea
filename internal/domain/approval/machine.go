package approval

import (
	"fmt"

	"github.com/felixgeelhaar/statekit"
)

// Events that move a decision out of pending.
const (
	EventApprove = "APPROVE"
	EventReject  = "REJECT"
	EventTimeout = "TIMEOUT"
	EventCancel  = "CANCEL"
)

const (
	statePending  = "pending"
	stateApproved = "approved"
	stateRejected = "rejected"
)

type machineContext struct{}

// buildMachine returns an interpreter for a pending decision. Terminal
// states declare no transitions, so every event sent to them is ignored.
func buildMachine() (*statekit.Interpreter[machineContext], error) {
	machine, err := statekit.NewMachine[machineContext]("approval-decision").
		WithInitial(statePending).
		WithContext(machineContext{}).
		State(statePending).
		On(EventApprove).Target(stateApproved).
		On(EventReject).Target(stateRejected).
		On(EventTimeout).Target(stateRejected).
		On(EventCancel).Target(stateRejected).Done().
		State(stateApproved).Done().
		State(stateRejected).Done().
		Build()
	if err != nil {
		return nil, err
	}
	return statekit.NewInterpreter(machine), nil
}

// Transition returns the status reached by sending event from status.
func Transition(from Status, event string) (Status, error) {
	if from.Terminal() {
		return from, fmt.Errorf("%w: %s is final", ErrInvalidTransition, from)
	}
	if from != StatusPending {
		return from, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, from)
	}
	interp, err := buildMachine()
	if err != nil {
		return from, fmt.Errorf("failed to build decision machine: %w", err)
	}
	interp.Start()
	interp.Send(statekit.Event{Type: statekit.EventType(event)})

	to := Status(interp.State().Value)
	if to == from {
		return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, from)
	}
	return to, nil
}

func reasonFor(event string) string {
	switch event {
	case EventTimeout:
		return ReasonTimeout
	case EventCancel:
		return ReasonCancelled
	case EventReject:
		return ReasonRejected
	default:
		return ""
	}
}
