package engine

import "fmt"

// Phase is one of the fixed, ordered stages of an operation's execution.
type Phase int

const (
	// PhaseModel applies changes to the resource model.
	PhaseModel Phase = iota

	// PhaseRuntime applies model changes to running services.
	PhaseRuntime

	// PhaseVerify checks the outcome and emits notifications. The model is
	// read-only during this phase.
	PhaseVerify
)

// phaseCount is the number of phases.
const phaseCount = int(PhaseVerify) + 1

// Phases lists every phase in execution order.
func Phases() []Phase {
	return []Phase{PhaseModel, PhaseRuntime, PhaseVerify}
}

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseModel:
		return "MODEL"
	case PhaseRuntime:
		return "RUNTIME"
	case PhaseVerify:
		return "VERIFY"
	default:
		return fmt.Sprintf("PHASE(%d)", int(p))
	}
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	return p >= PhaseModel && p <= PhaseVerify
}

// ParsePhase converts a phase name to a Phase.
func ParsePhase(s string) (Phase, error) {
	switch s {
	case "MODEL", "model":
		return PhaseModel, nil
	case "RUNTIME", "runtime":
		return PhaseRuntime, nil
	case "VERIFY", "verify":
		return PhaseVerify, nil
	default:
		return 0, fmt.Errorf("invalid phase: %s", s)
	}
}
