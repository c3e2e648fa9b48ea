package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/abhinav118/avatar-stream-vibe/internal/service/notify"
)

func TestTranscribeBlankResultNeverSpeaks(t *testing.T) {
	h := newHarness(t)
	client := h.start(t)
	h.transcriber.text = "   "

	err := h.controller.Transcribe(context.Background(), strings.NewReader("audio"), "clip.webm")
	require.ErrorIs(t, err, ErrNoSpeech)

	require.Zero(t, client.count("Speak"))
	require.Empty(t, h.transcript(t))
	require.Contains(t, h.events.titles(), "No Speech Detected")
}

func TestTranscribeSpeaksRecognisedText(t *testing.T) {
	h := newHarness(t)
	client := h.start(t)
	h.transcriber.text = "What time is checkout?"

	require.True(t, h.controller.StartRecording(context.Background()))
	state := h.controller.Snapshot()
	require.True(t, state.Recording)
	require.Equal(t, "Recording...", state.RecordingStatus)

	require.NoError(t, h.controller.Transcribe(context.Background(), strings.NewReader("audio"), "clip.webm"))

	h.transcriber.mu.Lock()
	require.Equal(t, []string{"sk-visitor"}, h.transcriber.keys)
	require.Equal(t, []string{"audio"}, h.transcriber.bytes)
	h.transcriber.mu.Unlock()

	require.Equal(t, 1, client.count("Speak"))
	state = h.controller.Snapshot()
	require.False(t, state.Recording)
	require.Empty(t, state.RecordingStatus)

	n, ok := h.events.notification("Voice Message Sent")
	require.True(t, ok)
	require.Equal(t, `Avatar is speaking: "What time is checkout?"`, n.Description)

	require.Eventually(t, func() bool { return len(h.transcript(t)) == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, voiceReplyPlaceholder, h.transcript(t)[1].Content)
}

func TestTranscribeWithoutKey(t *testing.T) {
	h := newHarness(t, withKey(""))
	h.start(t)

	require.False(t, h.controller.StartRecording(context.Background()))
	require.ErrorIs(t, h.controller.Transcribe(context.Background(), strings.NewReader("audio"), "a.webm"), ErrMissingCredential)

	h.transcriber.mu.Lock()
	require.Empty(t, h.transcriber.keys)
	h.transcriber.mu.Unlock()
	require.Contains(t, h.events.titles(), "OpenAI API Key Required")
}

func TestTranscribeFailure(t *testing.T) {
	h := newHarness(t)
	client := h.start(t)
	h.transcriber.err = errBoom

	require.ErrorIs(t, h.controller.Transcribe(context.Background(), strings.NewReader("audio"), "a.webm"), errBoom)

	require.Zero(t, client.count("Speak"))
	require.Equal(t, "Error: boom", h.controller.Snapshot().RecordingStatus)
	require.Contains(t, h.events.titles(), "Transcription Error")
}

func TestCredentialClearedNotifies(t *testing.T) {
	h := newHarness(t)

	h.controller.CredentialCleared()

	n, ok := h.events.notification("API Key Cleared")
	require.True(t, ok)
	require.Equal(t, "OpenAI API key has been removed.", n.Description)
	require.Equal(t, notify.VariantDefault, n.Variant)
}
