package upload

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a trigger is not permitted in the
// current status.
var ErrInvalidTransition = errors.New("invalid status transition")

// transitions is the fixed transition table for the submission lifecycle.
// There is deliberately no edge out of a terminal status.
var transitions = map[Status]map[Trigger]Status{
	StatusUploading: {
		TriggerUploadDone: StatusProcessing,
		TriggerFail:       StatusError,
	},
	StatusProcessing: {
		TriggerComplete: StatusSuccess,
		TriggerFail:     StatusError,
	},
}

// Machine tracks the current status of one submission and validates
// transitions against the fixed table.
type Machine struct {
	current Status
}

// NewMachine creates a machine in the given initial status.
func NewMachine(initial Status) (*Machine, error) {
	if !initial.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTransition, initial)
	}
	return &Machine{current: initial}, nil
}

// Status returns the current status.
func (m *Machine) Status() Status {
	return m.current
}

// CanFire returns true if the trigger is permitted in the current status.
func (m *Machine) CanFire(trigger Trigger) bool {
	edges, ok := transitions[m.current]
	if !ok {
		return false
	}
	_, ok = edges[trigger]
	return ok
}

// Fire executes the trigger, moving to the new status if the transition is
// permitted.
func (m *Machine) Fire(trigger Trigger) error {
	edges, ok := transitions[m.current]
	if !ok {
		return fmt.Errorf("%w: cannot fire %s from terminal status %s", ErrInvalidTransition, trigger, m.current)
	}
	next, ok := edges[trigger]
	if !ok {
		return fmt.Errorf("%w: cannot fire %s from status %s", ErrInvalidTransition, trigger, m.current)
	}
	m.current = next
	return nil
}

// PermittedTriggers returns the triggers that can be fired in the current status.
func (m *Machine) PermittedTriggers() []Trigger {
	edges, ok := transitions[m.current]
	if !ok {
		return nil
	}
	triggers := make([]Trigger, 0, len(edges))
	for t := range edges {
		triggers = append(triggers, t)
	}
	return triggers
}
