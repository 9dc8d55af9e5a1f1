package models

import (
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/geniolibre/publisher-backend/pkg/db/types"
	"github.com/geniolibre/publisher-backend/pkg/enums"
)

// PlatformState tracks the lifecycle of one platform target. The handle is the
// in-flight identifier returned by the platform (container ID, video handle)
// and the post fields are only set once the post is live.
type PlatformState struct {
	Phase     enums.Phase `gorm:"column:phase;type:text;not null;default:'pending'"`
	Handle    *string     `gorm:"column:handle"`
	PostID    *string     `gorm:"column:post_id"`
	PostURL   *string     `gorm:"column:post_url"`
	LastError *string     `gorm:"column:last_error"`
}

// Publication is the root aggregate for a multi-platform social post.
type Publication struct {
	ID               uuid.UUID                  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Title            *string                    `gorm:"column:title"`
	Caption          string                     `gorm:"column:caption;not null;default:''"`
	MediaType        enums.PublicationMediaType `gorm:"column:media_type;type:text;not null"`
	ReviewState      enums.ReviewState          `gorm:"column:review_state;type:text;not null;default:'draft'"`
	Protected        bool                       `gorm:"column:protected;not null;default:false"`
	PublishAt        *time.Time                 `gorm:"column:publish_at"`
	VideoDurationSec *int                       `gorm:"column:video_duration_sec"`
	CoverURL         *string                    `gorm:"column:cover_url"`
	Platforms        dbtypes.PlatformArray      `gorm:"column:platforms;type:text[];not null;default:'{}'"`
	GlobalPhase      enums.Phase                `gorm:"column:global_phase;type:text;not null;default:'pending'"`

	Facebook  PlatformState `gorm:"embedded;embeddedPrefix:facebook_"`
	Instagram PlatformState `gorm:"embedded;embeddedPrefix:instagram_"`
	TikTok    PlatformState `gorm:"embedded;embeddedPrefix:tiktok_"`
	LinkedIn  PlatformState `gorm:"embedded;embeddedPrefix:linkedin_"`

	Attachments []PublicationAttachment `gorm:"foreignKey:PublicationID"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// StateFor returns the mutable per-platform state for the given platform.
// Rows that never touched a platform carry the zero value, so an unset phase
// reads as pending.
func (p *Publication) StateFor(platform enums.Platform) *PlatformState {
	var state *PlatformState
	switch platform {
	case enums.PlatformFacebook:
		state = &p.Facebook
	case enums.PlatformInstagram:
		state = &p.Instagram
	case enums.PlatformTikTok:
		state = &p.TikTok
	case enums.PlatformLinkedIn:
		state = &p.LinkedIn
	default:
		return nil
	}
	if state.Phase == "" {
		state.Phase = enums.PhasePending
	}
	return state
}
