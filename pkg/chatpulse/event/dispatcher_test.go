package event

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDispatcher_FanOutToAllConsumers(t *testing.T) {
	d := NewDispatcher(nil)

	var first, second []StateChanged
	d.OnStateChanged(func(e StateChanged) { first = append(first, e) })
	d.OnStateChanged(func(e StateChanged) { second = append(second, e) })

	d.Publish(StateChanged{SessionID: "s1", Old: "disconnected", New: "connecting"})

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	require.Equal(t, "connecting", first[0].New)
}

func TestDispatcher_VariantsDoNotCross(t *testing.T) {
	d := NewDispatcher(nil)

	var states []StateChanged
	var messages []MessageReceived
	d.OnStateChanged(func(e StateChanged) { states = append(states, e) })
	d.OnMessageReceived(func(e MessageReceived) { messages = append(messages, e) })

	d.Publish(MessageReceived{SessionID: "s1", MessageID: "m1", Body: "hi"})
	d.Publish(Ready{SessionID: "s1"})
	d.Publish(Disconnected{SessionID: "s1", Reason: "read error"})

	require.Empty(t, states)
	require.Len(t, messages, 1)
	require.Equal(t, "m1", messages[0].MessageID)
}

func TestDispatcher_PublishOrderPreserved(t *testing.T) {
	d := NewDispatcher(nil)

	var got []string
	d.OnMessageAcked(func(e MessageAcked) { got = append(got, e.MessageID) })

	d.Publish(MessageAcked{MessageID: "a"})
	d.Publish(MessageAcked{MessageID: "b"})
	d.Publish(MessageAcked{MessageID: "c"})

	require.Equal(t, []string{"a", "b", "c"}, got)
}

func TestDispatcher_NoConsumersIsHarmless(t *testing.T) {
	d := NewDispatcher(nil)
	d.Publish(SessionError{SessionID: "s1", Kind: "auth_rejected"})
	d.Publish(PairingCode{SessionID: "s1", Payload: "CP1:..."})
}

func TestDispatcher_AllVariantsRoute(t *testing.T) {
	d := NewDispatcher(nil)

	seen := map[string]int{}
	d.OnStateChanged(func(StateChanged) { seen["state"]++ })
	d.OnPairingCode(func(PairingCode) { seen["pairing"]++ })
	d.OnReady(func(Ready) { seen["ready"]++ })
	d.OnMessageReceived(func(MessageReceived) { seen["message"]++ })
	d.OnMessageAcked(func(MessageAcked) { seen["acked"]++ })
	d.OnDisconnected(func(Disconnected) { seen["disconnected"]++ })
	d.OnSessionError(func(SessionError) { seen["error"]++ })

	d.Publish(StateChanged{})
	d.Publish(PairingCode{})
	d.Publish(Ready{})
	d.Publish(MessageReceived{})
	d.Publish(MessageAcked{})
	d.Publish(Disconnected{})
	d.Publish(SessionError{})

	for _, key := range []string{"state", "pairing", "ready", "message", "acked", "disconnected", "error"} {
		require.Equal(t, 1, seen[key], "variant %s", key)
	}
}
