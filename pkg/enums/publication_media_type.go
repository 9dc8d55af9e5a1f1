package enums

import "fmt"

// PublicationMediaType routes validation and platform code paths.
type PublicationMediaType string

const (
	PublicationMediaFeed  PublicationMediaType = "feed"
	PublicationMediaStory PublicationMediaType = "story"
	PublicationMediaReel  PublicationMediaType = "reel"
	PublicationMediaOther PublicationMediaType = "other"
)

var validPublicationMediaTypes = []PublicationMediaType{
	PublicationMediaFeed,
	PublicationMediaStory,
	PublicationMediaReel,
	PublicationMediaOther,
}

// String returns the literal string for the media type.
func (m PublicationMediaType) String() string {
	return string(m)
}

// IsValid reports whether the media type is known.
func (m PublicationMediaType) IsValid() bool {
	for _, candidate := range validPublicationMediaTypes {
		if candidate == m {
			return true
		}
	}
	return false
}

// RequiresSingleVideo reports whether the type takes exactly one video attachment.
func (m PublicationMediaType) RequiresSingleVideo() bool {
	return m == PublicationMediaStory || m == PublicationMediaReel
}

// ParsePublicationMediaType converts raw input into a PublicationMediaType.
func ParsePublicationMediaType(value string) (PublicationMediaType, error) {
	for _, candidate := range validPublicationMediaTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid publication media type %q", value)
}
