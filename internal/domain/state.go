package domain

import "fmt"

// State is the conversational phase of a session.
type State int

const (
	StateWaitingWake State = iota
	StateWaitingPermission
	StateAsking
	StateConfirming
	StateEnded
)

var stateNames = map[State]string{
	StateWaitingWake:       "waiting_wake",
	StateWaitingPermission: "waiting_permission",
	StateAsking:            "asking",
	StateConfirming:        "confirming",
	StateEnded:             "ended",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further turns may mutate the session.
func (s State) Terminal() bool {
	return s == StateEnded
}

func (s State) MarshalText() ([]byte, error) {
	name, ok := stateNames[s]
	if !ok {
		return nil, fmt.Errorf("domain: unknown state %d", int(s))
	}
	return []byte(name), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for st, name := range stateNames {
		if name == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("domain: unknown state %q", string(b))
}

// Outcome records why a session ended.
type Outcome string

const (
	OutcomeCompleted    Outcome = "completed"
	OutcomeRefused      Outcome = "refused"
	OutcomeFollowUp     Outcome = "follow_up"
	OutcomeError        Outcome = "error"
	OutcomeDisconnected Outcome = "disconnected"
	OutcomeSuperseded   Outcome = "superseded"
)
