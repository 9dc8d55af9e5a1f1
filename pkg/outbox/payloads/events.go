package payloads

import (
	"time"

	"github.com/geniolibre/publisher-backend/pkg/enums"
	"github.com/google/uuid"
)

// PlatformOutcome summarizes one platform target inside a publication event.
type PlatformOutcome struct {
	Platform enums.Platform `json:"platform"`
	Phase    enums.Phase    `json:"phase"`
	PostID   string         `json:"post_id,omitempty"`
	PostURL  string         `json:"post_url,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// PublicationFailedEvent is emitted when a publication lands in the error phase.
type PublicationFailedEvent struct {
	PublicationID uuid.UUID         `json:"publication_id"`
	MediaType     string            `json:"media_type"`
	FailedAt      time.Time         `json:"failed_at"`
	Platforms     []PlatformOutcome `json:"platforms"`
}

// PublicationPublishedEvent signals every selected platform reached published.
type PublicationPublishedEvent struct {
	PublicationID uuid.UUID         `json:"publication_id"`
	MediaType     string            `json:"media_type"`
	PublishedAt   time.Time         `json:"published_at"`
	Platforms     []PlatformOutcome `json:"platforms"`
}

// PublicationScheduledEvent reports a deferred publication was queued.
type PublicationScheduledEvent struct {
	PublicationID uuid.UUID `json:"publication_id"`
	PublishAt     time.Time `json:"publish_at"`
}
