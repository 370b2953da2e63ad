package session

import "github.com/DoyleJ11/lol-draft-client/internal/wire"

// Phase is the UI phase a Driver serves.
type Phase uint8

const (
	PhaseRoom Phase = iota
	PhaseGame
)

func (p Phase) String() string {
	if p == PhaseGame {
		return "game"
	}
	return "room"
}

// Dialect is how the phase writes message discriminators.
func (p Phase) Dialect() wire.Dialect {
	if p == PhaseGame {
		return wire.Numeric
	}
	return wire.Named
}

// State only ever moves Joining -> Playing within one Driver.
type State uint8

const (
	StateJoining State = iota
	StatePlaying
)

func (s State) String() string {
	if s == StatePlaying {
		return "playing"
	}
	return "joining"
}
