package validation

import (
	"errors"
	"net/url"
	"regexp"
	"strings"

	"github.com/forPelevin/gomoji"
	"github.com/rivo/uniseg"
)

var (
	targetPattern = regexp.MustCompile(`^[a-zA-Z0-9._:@+-]{3,128}$`)
)

// MaxMessageGraphemes bounds outbound message text. Counted in grapheme
// clusters, not bytes, so emoji and combining marks are not overcounted.
const MaxMessageGraphemes = 4096

// ValidateTarget ensures a message target identifier is plausible.
func ValidateTarget(target string) error {
	trimmed := strings.TrimSpace(target)
	if trimmed == "" {
		return errors.New("target is required")
	}
	if !targetPattern.MatchString(trimmed) {
		return errors.New("target contains invalid characters or has invalid length")
	}
	return nil
}

// ValidateMessageText ensures message text is present and within the grapheme budget.
func ValidateMessageText(text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("message text cannot be empty")
	}
	if uniseg.GraphemeClusterCount(text) > MaxMessageGraphemes {
		return errors.New("message text exceeds maximum length")
	}
	return nil
}

// ValidateReactionEmoji ensures a reaction payload is a single emoji, or the
// empty string which removes a previous reaction.
func ValidateReactionEmoji(emoji string) error {
	if emoji == "" {
		return nil
	}
	if uniseg.GraphemeClusterCount(emoji) != 1 {
		return errors.New("reaction must be a single emoji")
	}
	if !gomoji.ContainsEmoji(emoji) {
		return errors.New("reaction must be an emoji")
	}
	return nil
}

// ValidateURL ensures a non-empty valid URL when provided.
func ValidateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("url cannot be empty")
	}
	if _, err := url.ParseRequestURI(raw); err != nil {
		return errors.New("url must be valid")
	}
	return nil
}
