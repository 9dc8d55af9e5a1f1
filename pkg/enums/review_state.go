package enums

import "fmt"

// ReviewState is the content-review state of a publication.
type ReviewState string

const (
	ReviewStateDraft    ReviewState = "draft"
	ReviewStateApproved ReviewState = "approved"
	ReviewStateArchived ReviewState = "archived"
)

var validReviewStates = []ReviewState{
	ReviewStateDraft,
	ReviewStateApproved,
	ReviewStateArchived,
}

// String returns the literal string for the state.
func (s ReviewState) String() string {
	return string(s)
}

// IsValid reports whether the state is known.
func (s ReviewState) IsValid() bool {
	for _, candidate := range validReviewStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseReviewState converts raw input into a ReviewState.
func ParseReviewState(value string) (ReviewState, error) {
	for _, candidate := range validReviewStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid review state %q", value)
}
