package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEngine_ShouldDispatch(t *testing.T) {
	e := NewEngine(nil)
	defer e.Shutdown()

	all := WebhookConfig{Events: nil}
	filtered := WebhookConfig{Events: []EventType{EventMessageReceived, EventSessionReady}}

	require.True(t, e.shouldDispatch(all, EventSessionClosed))
	require.True(t, e.shouldDispatch(filtered, EventMessageReceived))
	require.True(t, e.shouldDispatch(filtered, EventSessionReady))
	require.False(t, e.shouldDispatch(filtered, EventSessionClosed))
}

func TestEngine_GenerateSignature(t *testing.T) {
	e := NewEngine(nil)
	defer e.Shutdown()

	payload := []byte(`{"event_type":"message.received"}`)
	secret := "topsecret"

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	require.Equal(t, want, e.generateSignature(payload, secret))

	// Receivers verify with the same construction, so the signature must be
	// stable for identical input and differ per secret.
	require.Equal(t, e.generateSignature(payload, secret), e.generateSignature(payload, secret))
	require.NotEqual(t, e.generateSignature(payload, secret), e.generateSignature(payload, "other"))
}

func TestEngine_ValidateURL(t *testing.T) {
	e := NewEngine(nil)
	defer e.Shutdown()

	require.NoError(t, e.validateURL("https://hooks.example.com/chatpulse"))

	require.Error(t, e.validateURL("http://hooks.example.com/chatpulse"))
	require.Error(t, e.validateURL("https://localhost/hook"))
	require.Error(t, e.validateURL("https://127.0.0.1/hook"))
	require.Error(t, e.validateURL("https://192.168.1.5/hook"))
	require.Error(t, e.validateURL("https://10.0.0.2/hook"))
	require.Error(t, e.validateURL("://bad"))
}
