package publications

import (
	"time"

	"github.com/google/uuid"

	"github.com/geniolibre/publisher-backend/pkg/db/models"
	"github.com/geniolibre/publisher-backend/pkg/enums"
)

// PlatformStatus is the externally visible state of one platform target.
type PlatformStatus struct {
	Platform  enums.Platform `json:"platform"`
	Phase     enums.Phase    `json:"phase"`
	PostID    string         `json:"post_id,omitempty"`
	PostURL   string         `json:"post_url,omitempty"`
	LastError string         `json:"last_error,omitempty"`
}

// Status is the API projection of a publication.
type Status struct {
	ID          uuid.UUID         `json:"id"`
	GlobalPhase enums.Phase       `json:"global_phase"`
	ReviewState enums.ReviewState `json:"review_state"`
	MediaType   string            `json:"media_type"`
	PublishAt   *time.Time        `json:"publish_at,omitempty"`
	Platforms   []PlatformStatus  `json:"platforms"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// ToStatus projects a publication row into its API shape, selected
// platforms only and in stable order.
func ToStatus(publication *models.Publication) *Status {
	out := &Status{
		ID:          publication.ID,
		GlobalPhase: publication.GlobalPhase,
		ReviewState: publication.ReviewState,
		MediaType:   publication.MediaType.String(),
		PublishAt:   publication.PublishAt,
		Platforms:   make([]PlatformStatus, 0, len(publication.Platforms)),
		UpdatedAt:   publication.UpdatedAt,
	}
	for _, platform := range enums.Platforms() {
		if !publication.Platforms.Contains(platform) {
			continue
		}
		state := publication.StateFor(platform)
		status := PlatformStatus{Platform: platform, Phase: state.Phase}
		if state.PostID != nil {
			status.PostID = *state.PostID
		}
		if state.PostURL != nil {
			status.PostURL = *state.PostURL
		}
		if state.LastError != nil {
			status.LastError = *state.LastError
		}
		out.Platforms = append(out.Platforms, status)
	}
	return out
}
