package enums

import "fmt"

// Phase describes the publication lifecycle of one platform target.
type Phase string

const (
	PhasePending    Phase = "pending"
	PhaseScheduled  Phase = "scheduled"
	PhaseProcessing Phase = "processing"
	PhaseReviewing  Phase = "reviewing"
	PhasePublished  Phase = "published"
	PhaseError      Phase = "error"
)

var validPhases = []Phase{
	PhasePending,
	PhaseScheduled,
	PhaseProcessing,
	PhaseReviewing,
	PhasePublished,
	PhaseError,
}

// String returns the literal string for the phase.
func (p Phase) String() string {
	return string(p)
}

// IsValid reports whether the phase is known.
func (p Phase) IsValid() bool {
	for _, candidate := range validPhases {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further automatic transition occurs.
func (p Phase) IsTerminal() bool {
	return p == PhasePublished || p == PhaseError
}

// ParsePhase converts raw input into a Phase.
func ParsePhase(value string) (Phase, error) {
	for _, candidate := range validPhases {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid phase %q", value)
}
