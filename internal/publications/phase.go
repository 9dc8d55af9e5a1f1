package publications

import "github.com/geniolibre/publisher-backend/pkg/enums"

// AggregatePhase folds the per-platform phases of the selected targets into
// the publication-level phase. Error dominates everything, a fully published
// set reports published, and otherwise the least advanced in-flight phase
// wins. Scheduled only exists at the publication level: it applies while the
// publication waits for its publish time and no platform has started.
func AggregatePhase(phases []enums.Phase, scheduled bool) enums.Phase {
	if len(phases) == 0 {
		if scheduled {
			return enums.PhaseScheduled
		}
		return enums.PhasePending
	}

	allPublished := true
	anyReviewing := false
	anyProcessing := false
	anyStarted := false
	for _, phase := range phases {
		switch phase {
		case enums.PhaseError:
			return enums.PhaseError
		case enums.PhasePublished:
			anyStarted = true
		case enums.PhaseReviewing:
			allPublished = false
			anyReviewing = true
			anyStarted = true
		case enums.PhaseProcessing:
			allPublished = false
			anyProcessing = true
			anyStarted = true
		default:
			allPublished = false
		}
	}

	switch {
	case allPublished:
		return enums.PhasePublished
	case anyReviewing:
		return enums.PhaseReviewing
	case anyProcessing:
		return enums.PhaseProcessing
	case scheduled && !anyStarted:
		return enums.PhaseScheduled
	default:
		return enums.PhasePending
	}
}
