package models

import (
	"time"

	"github.com/google/uuid"
)

// PublicationAttachment is one media file belonging to a publication. The
// staged URL is only populated after the file has been copied to publicly
// reachable storage.
type PublicationAttachment struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PublicationID uuid.UUID `gorm:"column:publication_id;type:uuid;not null"`
	Position      int       `gorm:"column:position;not null;default:0"`
	FileName      string    `gorm:"column:file_name;not null"`
	MimeType      string    `gorm:"column:mime_type;not null"`
	SizeBytes     int64     `gorm:"column:size_bytes;not null"`
	SourceURL     string    `gorm:"column:source_url;not null"`
	StagedURL     *string   `gorm:"column:staged_url"`
	IsVideo       bool      `gorm:"column:is_video;not null;default:false"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}
