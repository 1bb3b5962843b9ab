package encoder

import "fmt"

// Phase is the lifecycle state of a streaming stack for one utterance.
//
// The chunk lifecycle is modelled as an explicit state machine rather than
// inline special-casing of "the first few chunks" so that the Flushing
// truncated-look-ahead behaviour is auditable and testable in isolation.
type Phase int

const (
	// PhaseEmpty: no chunk has been pushed yet.
	PhaseEmpty Phase = iota

	// PhaseWarming: fewer than win_front chunks of history have been seen.
	PhaseWarming

	// PhaseSteady: the look-back window is fully populated.
	PhaseSteady

	// PhaseFlushing: end-of-stream was signalled; remaining buffered chunks
	// are emitted with whatever look-ahead is still available. Terminal.
	PhaseFlushing
)

// String returns the phase name for logs and errors.
func (p Phase) String() string {
	switch p {
	case PhaseEmpty:
		return "empty"
	case PhaseWarming:
		return "warming"
	case PhaseSteady:
		return "steady"
	case PhaseFlushing:
		return "flushing"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// phaseTransitions is the allowed transition table. Flushing is terminal.
var phaseTransitions = map[Phase][]Phase{
	PhaseEmpty:    {PhaseWarming, PhaseFlushing},
	PhaseWarming:  {PhaseSteady, PhaseFlushing},
	PhaseSteady:   {PhaseFlushing},
	PhaseFlushing: {},
}

// transition moves p to next, returning an error on an illegal transition.
func transition(p *Phase, next Phase) error {
	for _, allowed := range phaseTransitions[*p] {
		if next == allowed {
			*p = next
			return nil
		}
	}
	return fmt.Errorf("encoder: illegal phase transition %s -> %s", *p, next)
}
