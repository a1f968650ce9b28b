package session

import (
	"fmt"
	"strings"
)

// State is the lifecycle state of a Job. States only move forward.
type State int

const (
	StateNew State = iota
	StateSubmitted
	StateRunning
	StateTerminated
)

var stateNames = [...]string{
	StateNew:        "NEW",
	StateSubmitted:  "SUBMITTED",
	StateRunning:    "RUNNING",
	StateTerminated: "TERMINATED",
}

func (s State) String() string {
	if s < StateNew || s > StateTerminated {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no further transition can occur.
func (s State) Terminal() bool {
	return s == StateTerminated
}

// ParseState parses the String form of a State.
func ParseState(s string) (State, error) {
	for i, name := range stateNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return State(i), nil
		}
	}
	return StateNew, fmt.Errorf("unknown job state %q", s)
}

func (s State) MarshalText() ([]byte, error) {
	if s < StateNew || s > StateTerminated {
		return nil, fmt.Errorf("invalid job state %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	v, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
