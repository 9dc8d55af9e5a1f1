package platforms

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/geniolibre/publisher-backend/pkg/enums"
)

const (
	// InitiateTimeout bounds every outbound call made while starting or
	// finalizing a publish attempt.
	InitiateTimeout = 20 * time.Second
	// StatusTimeout bounds pure status queries during reconciliation.
	StatusTimeout = 10 * time.Second
)

// Content is everything a platform needs to publish one post. Media URLs are
// staged, publicly reachable, and ordered.
type Content struct {
	PublicationID    uuid.UUID
	MediaType        enums.PublicationMediaType
	Title            string
	Caption          string
	MediaURLs        []string
	VideoURL         string
	CoverURL         string
	VideoDurationSec int
}

// PostRef identifies a live post on the platform.
type PostRef struct {
	ID  string
	URL string
}

// Initiation is the result of starting a publish attempt. Synchronous flows
// fill Post directly; asynchronous flows return only the handle.
type Initiation struct {
	Handle string
	Post   *PostRef
}

// Job references an in-flight publish attempt on one platform.
type Job struct {
	Handle  string
	Content Content
}

// Poll reports the platform's view of an in-flight job. Done with a nil Post
// means the job finished processing but still needs Finalize to go live.
type Poll struct {
	Done bool
	Post *PostRef
}

// Client is the per-platform publish surface. Initiate starts a publish,
// PollStatus checks an asynchronous job, and Finalize flips a finished job
// into a live post. Terminal platform failures surface as errors carrying the
// PLATFORM_ERROR code; anything else is treated as retryable.
type Client interface {
	Platform() enums.Platform
	Initiate(ctx context.Context, content Content) (*Initiation, error)
	PollStatus(ctx context.Context, job Job) (*Poll, error)
	Finalize(ctx context.Context, job Job) (*PostRef, error)
}
