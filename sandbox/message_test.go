package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMessage(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		msg, err := DecodeMessage([]byte(`{"token":"t1","type":"log","payload":"hi"}`))
		require.NoError(t, err)
		assert.Equal(t, Message{Token: "t1", Type: EventLog, Payload: "hi"}, msg)
		assert.Equal(t, LogEvent("hi"), msg.Event())
	})

	t.Run("RoundTrip", func(t *testing.T) {
		msg, err := DecodeMessage(EncodeMessage("t2", EventError, "line1\nline2"))
		require.NoError(t, err)
		assert.Equal(t, ErrorEvent("line1\nline2"), msg.Event())
	})

	invalid := map[string]string{
		"NotJSON":        `hello`,
		"Array":          `["t","log","x"]`,
		"MissingToken":   `{"type":"log","payload":"x"}`,
		"EmptyToken":     `{"token":"","type":"log","payload":"x"}`,
		"MissingType":    `{"token":"t","payload":"x"}`,
		"NoticeType":     `{"token":"t","type":"notice","payload":"x"}`,
		"UnknownType":    `{"token":"t","type":"warn","payload":"x"}`,
		"MissingPayload": `{"token":"t","type":"log"}`,
		"NumberPayload":  `{"token":"t","type":"log","payload":42}`,
	}

	for name, raw := range invalid {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeMessage([]byte(raw))
			require.ErrorIs(t, err, ErrMalformedMessage)
		})
	}
}

func TestRenderTranscript(t *testing.T) {
	events := []OutputEvent{
		LogEvent("a"),
		ErrorEvent("b"),
		NoticeEvent("c"),
	}
	assert.Equal(t, "a\nERROR: b\nc\n", RenderTranscript(events))
	assert.Empty(t, RenderTranscript(nil))
}
