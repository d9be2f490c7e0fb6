package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateTarget(t *testing.T) {
	require.NoError(t, ValidateTarget("acct:alice"))
	require.NoError(t, ValidateTarget("user@example.com"))
	require.NoError(t, ValidateTarget("+15551234567"))
	require.NoError(t, ValidateTarget("  acct:bob  "))

	require.Error(t, ValidateTarget(""))
	require.Error(t, ValidateTarget("   "))
	require.Error(t, ValidateTarget("ab"))
	require.Error(t, ValidateTarget("has spaces"))
	require.Error(t, ValidateTarget("emoji😀target"))
	require.Error(t, ValidateTarget(strings.Repeat("a", 129)))
}

func TestValidateMessageText(t *testing.T) {
	require.NoError(t, ValidateMessageText("hello"))
	require.NoError(t, ValidateMessageText(strings.Repeat("a", MaxMessageGraphemes)))

	// Grapheme budget, not byte budget: multi-byte emoji count once each.
	require.NoError(t, ValidateMessageText(strings.Repeat("👍", MaxMessageGraphemes)))

	require.Error(t, ValidateMessageText(""))
	require.Error(t, ValidateMessageText("   "))
	require.Error(t, ValidateMessageText(strings.Repeat("a", MaxMessageGraphemes+1)))
}

func TestValidateReactionEmoji(t *testing.T) {
	require.NoError(t, ValidateReactionEmoji("👍"))
	require.NoError(t, ValidateReactionEmoji("❤️"))

	// Empty removes a previous reaction.
	require.NoError(t, ValidateReactionEmoji(""))

	require.Error(t, ValidateReactionEmoji("👍👍"))
	require.Error(t, ValidateReactionEmoji("x"))
	require.Error(t, ValidateReactionEmoji("ok"))
}

func TestValidateURL(t *testing.T) {
	require.NoError(t, ValidateURL("https://example.com/hook"))
	require.NoError(t, ValidateURL("http://localhost:8080/x"))

	require.Error(t, ValidateURL(""))
	require.Error(t, ValidateURL("   "))
	require.Error(t, ValidateURL("not a url"))
}
