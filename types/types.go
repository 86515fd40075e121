package types

// MaxAlign is the strictest alignment the arena guarantees for a slot.
const MaxAlign = 16

// State enumerates possible slot states.
type State byte

const (
	// StateFree means slot holds no value.
	StateFree State = iota

	// StateConstructing means slot is reserved and its storage is being written.
	StateConstructing

	// StateOccupied means slot holds a fully constructed value.
	StateOccupied
)

// Generation identifies one lifetime of a map's backing storage. It advances
// on clear, after which addresses from the previous generation may be reused.
type Generation uint64
