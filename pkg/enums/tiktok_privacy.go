package enums

import "fmt"

// TikTokPrivacyLevel controls who can see a published TikTok post.
type TikTokPrivacyLevel string

const (
	TikTokPrivacyPublic    TikTokPrivacyLevel = "PUBLIC_TO_EVERYONE"
	TikTokPrivacyFriends   TikTokPrivacyLevel = "MUTUAL_FOLLOW_FRIENDS"
	TikTokPrivacyFollowers TikTokPrivacyLevel = "FOLLOWER_OF_CREATOR"
	TikTokPrivacySelfOnly  TikTokPrivacyLevel = "SELF_ONLY"
)

var validTikTokPrivacyLevels = []TikTokPrivacyLevel{
	TikTokPrivacyPublic,
	TikTokPrivacyFriends,
	TikTokPrivacyFollowers,
	TikTokPrivacySelfOnly,
}

// String returns the literal string for the privacy level.
func (l TikTokPrivacyLevel) String() string {
	return string(l)
}

// IsValid reports whether the privacy level is known.
func (l TikTokPrivacyLevel) IsValid() bool {
	for _, candidate := range validTikTokPrivacyLevels {
		if candidate == l {
			return true
		}
	}
	return false
}

// ParseTikTokPrivacyLevel converts raw input into a TikTokPrivacyLevel.
func ParseTikTokPrivacyLevel(value string) (TikTokPrivacyLevel, error) {
	for _, candidate := range validTikTokPrivacyLevels {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid tiktok privacy level %q", value)
}
