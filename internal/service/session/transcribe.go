package session

import (
	"context"
	"io"
	"time"

	"github.com/abhinav118/avatar-stream-vibe/internal/metrics"
	"github.com/abhinav118/avatar-stream-vibe/internal/service/notify"
)

const (
	statusRecording    = "Recording..."
	statusProcessing   = "Processing audio..."
	statusTranscribing = "Transcribing..."
)

// StartRecording marks the visitor as recording. It refuses without a
// transcription credential.
func (c *Controller) StartRecording(ctx context.Context) bool {
	if c.transcriptionKey(ctx) == "" {
		c.notifyMissingKey()
		return false
	}
	c.setRecording(true, statusRecording)
	return true
}

// Transcribe converts a finished recording to text and forwards it to
// SpeakTranscribed.
func (c *Controller) Transcribe(ctx context.Context, audio io.Reader, filename string) error {
	key := c.transcriptionKey(ctx)
	if key == "" {
		c.setRecording(false, "")
		c.notifyMissingKey()
		return ErrMissingCredential
	}
	if c.deps.Transcriber == nil {
		return c.failTranscription(ErrProviderUnavailable)
	}

	c.setRecording(false, statusProcessing)
	c.setRecording(false, statusTranscribing)

	started := time.Now()
	text, err := c.deps.Transcriber.Transcribe(ctx, key, audio, filename)
	metrics.TranscriptionLatency.Observe(time.Since(started).Seconds())
	metrics.Transcriptions.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		return c.failTranscription(err)
	}

	c.setRecording(false, "")
	c.logger.Debug().Int("length", len(text)).Msg("transcription finished")
	return c.SpeakTranscribed(ctx, text)
}

func (c *Controller) failTranscription(err error) error {
	c.setRecording(false, "Error: "+err.Error())
	c.logger.Error().Err(err).Msg("transcription failed")
	c.notify("Transcription Error", "Failed to transcribe audio. Please check your OpenAI API key.", notify.VariantDestructive)
	return err
}

// CredentialCleared tells the visitor their transcription key was removed.
func (c *Controller) CredentialCleared() {
	c.notify("API Key Cleared", "OpenAI API key has been removed.", notify.VariantDefault)
}

func (c *Controller) notifyMissingKey() {
	c.notify("OpenAI API Key Required", "Please add your OpenAI API key in the settings below.", notify.VariantDestructive)
}

func (c *Controller) setRecording(recording bool, status string) {
	c.mu.Lock()
	c.recording = recording
	c.recordingStatus = status
	c.mu.Unlock()
	c.publishState()
}
