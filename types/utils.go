package types

import "slices"

// String returns the wire token for the state.
func (s ResourceState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateReleased:
		return "RELEASED"
	case StateWanted:
		return "WANTED"
	case StateHeld:
		return "HELD"
	default:
		return "UNKNOWN"
	}
}

// IsValid checks if the state is one of the known resource states.
func (s ResourceState) IsValid() bool {
	return s >= StateDisconnected && s <= StateHeld
}

// transitions maps the valid state transitions of the permission protocol.
var transitions = map[ResourceState][]ResourceState{
	StateDisconnected: {StateReleased},
	StateReleased:     {StateReleased, StateWanted, StateHeld, StateDisconnected},
	StateWanted:       {StateHeld, StateReleased},
	StateHeld:         {StateReleased},
}

// CanTransitionTo checks if a transition from the current state to the target state is valid.
func (s ResourceState) CanTransitionTo(target ResourceState) bool {
	validTargets, exists := transitions[s]
	if !exists {
		return false
	}

	return slices.Contains(validTargets, target)
}
