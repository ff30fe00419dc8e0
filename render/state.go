package render

// MaxDireness bounds [State.Direness].
const MaxDireness = 14

// State is the engine-wide render bookkeeping shared by the
// scheduler and the voice pool.
// It has an explicit lifecycle: [NewState], then [State.Reset] between sessions.
type State struct {
	// Timer counts frames rendered since the last reset.
	// It is the time base for all scheduling.
	Timer uint64
	// Direness is the current CPU pressure level in [0, MaxDireness].
	Direness int
	// DirenessChangedAt is the Timer value of the last direness change.
	DirenessChangedAt uint64
	// SidechainHitPending accumulates sidechain triggers
	// (note-ons of sounds marked as such) until the next window consumes them.
	SidechainHitPending int32

	Passes       uint64
	Drains       uint64
	Culls        uint64
	FastReleases uint64
	LastWindow   int
}

// NewState returns a zeroed [State].
func NewState() *State { return new(State) }

// Reset returns the state to its initial values.
func (s *State) Reset() { *s = State{} }

// HitSidechain records a sidechain trigger of the given strength.
// The strongest hit since the last window wins.
func (s *State) HitSidechain(strength int32) {
	s.SidechainHitPending = max(s.SidechainHitPending, strength)
}
