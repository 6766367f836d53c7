package models

import "fmt"

// RequestState is a step of the per-request dispatch state machine.
type RequestState string

const (
	StateValidated  RequestState = "validated"
	StateAdmitted   RequestState = "admitted"
	StateQueued     RequestState = "queued"
	StateDispatched RequestState = "dispatched"
	StateRetrying   RequestState = "retrying"
	StateCompleted  RequestState = "completed"
	StateExhausted  RequestState = "exhausted"
	StateExpired    RequestState = "expired"
)

var stateTransitions = map[RequestState][]RequestState{
	StateValidated:  {StateAdmitted},
	StateAdmitted:   {StateDispatched, StateQueued},
	StateQueued:     {StateDispatched, StateExpired},
	StateDispatched: {StateCompleted, StateRetrying, StateExhausted},
	StateRetrying:   {StateDispatched, StateExhausted},
}

// CanTransition reports whether moving from s to next is allowed.
func (s RequestState) CanTransition(next RequestState) bool {
	for _, allowed := range stateTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s RequestState) Terminal() bool {
	return len(stateTransitions[s]) == 0
}

// Transition returns next, or an error naming the illegal move.
func (s RequestState) Transition(next RequestState) (RequestState, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("illegal request state transition %s -> %s", s, next)
	}
	return next, nil
}
