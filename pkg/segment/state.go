package segment

import "fmt"

// Generation identifies one top-level fetch session. It increases every time a
// session starts; results carrying an older generation are ignored.
type Generation uint64

// Phase is the coarse state of a session.
type Phase int

// Session phases.
const (
	PhaseIdle Phase = iota
	PhaseFetching
	PhaseMerging
	PhaseDone
	PhaseAborted
)

var phaseNames = map[Phase]string{
	PhaseIdle:     "Idle",
	PhaseFetching: "FetchingSegment",
	PhaseMerging:  "Merging",
	PhaseDone:     "Done",
	PhaseAborted:  "Aborted",
}

// String implements fmt.Stringer.
func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}

	return fmt.Sprintf("Phase(%d)", int(p))
}

// State is a phase plus the segment it applies to.
type State struct {
	Phase   Phase
	Segment int
}

// String renders states as FetchingSegment(2), Merging(0), Done.
func (s State) String() string {
	switch s.Phase {
	case PhaseFetching, PhaseMerging:
		return fmt.Sprintf("%s(%d)", s.Phase, s.Segment)
	default:
		return s.Phase.String()
	}
}

// Terminal reports whether no further segments will be merged.
func (s State) Terminal() bool {
	return s.Phase == PhaseDone || s.Phase == PhaseAborted
}

func fetching(n int) State { return State{Phase: PhaseFetching, Segment: n} }

func merging(n int) State { return State{Phase: PhaseMerging, Segment: n} }
