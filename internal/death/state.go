// Package death implements the three-state death lifecycle. The authoritative
// machine commits transitions; observer machines replay replicated deltas one
// step at a time so skipped transitions still run their side effects.
package death

import (
	"fmt"
	"strings"
)

// State is ordered: a larger value is further along the lifecycle.
type State uint8

const (
	NotDead State = iota
	DeathStarted
	DeathFinished
)

func (s State) String() string {
	switch s {
	case NotDead:
		return "NotDead"
	case DeathStarted:
		return "DeathStarted"
	case DeathFinished:
		return "DeathFinished"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	return s <= DeathFinished
}

// ParseState accepts the String form, case-insensitively.
func ParseState(raw string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "notdead", "":
		return NotDead, nil
	case "deathstarted":
		return DeathStarted, nil
	case "deathfinished":
		return DeathFinished, nil
	default:
		return NotDead, fmt.Errorf("death: unknown state %q", raw)
	}
}

func (s State) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("death: cannot marshal %s", s)
	}
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
