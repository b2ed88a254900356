package session

import "fmt"

// State is the lifecycle phase of a call.
type State int

const (
	StateConnecting State = iota
	StateGreeting
	StateListening
	StateProcessing
	StateSpeaking
	StateError
	StateDisconnecting
	StateDisconnected
)

var stateNames = map[State]string{
	StateConnecting:    "connecting",
	StateGreeting:      "greeting",
	StateListening:     "listening",
	StateProcessing:    "processing",
	StateSpeaking:      "speaking",
	StateError:         "error",
	StateDisconnecting: "disconnecting",
	StateDisconnected:  "disconnected",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool { return s == StateDisconnected }

var allowedTransitions = map[State][]State{
	StateConnecting:    {StateGreeting, StateDisconnecting, StateError},
	StateGreeting:      {StateListening, StateDisconnecting, StateError},
	StateListening:     {StateProcessing, StateDisconnecting, StateError},
	StateProcessing:    {StateSpeaking, StateListening, StateDisconnecting, StateError},
	StateSpeaking:      {StateListening, StateDisconnecting, StateError},
	StateError:         {StateDisconnecting, StateDisconnected},
	StateDisconnecting: {StateDisconnected},
}

func transitionAllowed(from, to State) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError reports a rejected state change.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}
