// Package session implements the session orchestrator: the session
// state machine, its persistence, and the coordination of key
// derivation, policy application and stream allocation across a
// session's lifetime.
package session

import (
	"github.com/honeylink/core/api/types"
)

// State is one of the five session lifecycle states.
type State string

const (
	StatePending   State = "Pending"
	StatePaired    State = "Paired"
	StateActive    State = "Active"
	StateSuspended State = "Suspended"
	StateClosed    State = "Closed"
)

// Event is a trigger that may move a session between states.
type Event string

const (
	EventPairingComplete Event = "PairingComplete"
	EventActivate        Event = "Activate"
	EventSuspend         Event = "Suspend"
	EventResume          Event = "Resume"
	EventClose           Event = "Close"
	EventTtlExpired       Event = "TtlExpired"
	EventSuspendTimeout   Event = "SuspendTimeout"
	EventKeyCompromised   Event = "KeyCompromised"
	EventPolicyRejected   Event = "PolicyRejected"
)

// transitions is the exhaustive (state, event) -> state table. Any pair
// absent from this map is an invalid transition.
var transitions = map[State]map[Event]State{
	StatePending: {
		EventPairingComplete: StatePaired,
		EventTtlExpired:      StateClosed,
		EventClose:           StateClosed,
	},
	StatePaired: {
		EventActivate:       StateActive,
		EventTtlExpired:     StateClosed,
		EventClose:          StateClosed,
		EventPolicyRejected: StateClosed,
	},
	StateActive: {
		EventSuspend:       StateSuspended,
		EventClose:         StateClosed,
		EventKeyCompromised: StateClosed,
	},
	StateSuspended: {
		EventResume:         StateActive,
		EventSuspendTimeout: StateClosed,
		EventClose:          StateClosed,
		EventKeyCompromised: StateClosed,
	},
}

// Machine is a single session's state machine.
type Machine struct {
	current State
}

// NewMachine constructs a Machine starting in Pending.
func NewMachine() *Machine {
	return &Machine{current: StatePending}
}

// NewMachineAt constructs a Machine starting in an arbitrary state, for
// rehydrating a persisted session.
func NewMachineAt(s State) *Machine {
	return &Machine{current: s}
}

// Current returns the machine's current state.
func (m *Machine) Current() State {
	return m.current
}

// IsTerminal reports whether the current state accepts no further
// transitions.
func (m *Machine) IsTerminal() bool {
	return m.current == StateClosed
}

// CanTransition reports whether event is valid from the current state,
// without applying it.
func (m *Machine) CanTransition(event Event) bool {
	_, ok := transitions[m.current][event]
	return ok
}

// Transition applies event, returning the new state, or a
// KindInvalidTransition error leaving the machine's state unchanged.
func (m *Machine) Transition(event Event) (State, error) {
	next, ok := transitions[m.current][event]
	if !ok {
		return m.current, types.NewError(types.KindInvalidTransition, nil,
			"invalid transition: "+string(event)+" from "+string(m.current))
	}
	m.current = next
	return next, nil
}
