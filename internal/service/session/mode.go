package session

import (
	"context"

	"github.com/abhinav118/avatar-stream-vibe/internal/metrics"
	avatarmodel "github.com/abhinav118/avatar-stream-vibe/internal/model/avatar"
	"github.com/abhinav118/avatar-stream-vibe/internal/service/notify"
)

// SwitchMode moves between text and voice interaction. The mode only flips
// after the provider call succeeded; a failure leaves it unchanged.
// Switching to the current mode, without a connected session, or while
// another transition is in flight does nothing.
func (c *Controller) SwitchMode(ctx context.Context, target avatarmodel.Mode) error {
	if target != avatarmodel.ModeText && target != avatarmodel.ModeVoice {
		return avatarmodel.ErrInvalidMode
	}

	c.mu.Lock()
	if target == c.mode || !c.connected || c.client == nil || c.busy {
		c.mu.Unlock()
		return nil
	}
	client := c.client
	voiceActive := c.voiceChatActive
	c.busy = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
		c.publishState()
	}()

	if target == avatarmodel.ModeVoice {
		return c.startVoiceChat(ctx, client)
	}
	return c.closeVoiceChat(ctx, client, voiceActive)
}

func (c *Controller) startVoiceChat(ctx context.Context, client avatarmodel.Client) error {
	err := client.StartVoiceChat(ctx, avatarmodel.VoiceChatRequest{UseSilencePrompt: false})
	metrics.ModeSwitches.WithLabelValues(string(avatarmodel.ModeVoice), metrics.Result(err)).Inc()
	if err != nil {
		c.mu.Lock()
		c.voiceStatus = "Error starting voice chat"
		c.mu.Unlock()
		c.logger.Error().Err(err).Msg("start voice chat")
		c.notify("Voice Chat Error", "Failed to start voice chat mode.", notify.VariantDestructive)
		return err
	}

	c.mu.Lock()
	c.mode = avatarmodel.ModeVoice
	c.voiceChatActive = true
	c.voiceStatus = "Waiting for you to speak..."
	c.mu.Unlock()

	c.notify("Voice Chat Started", "You can now speak directly to the avatar!", notify.VariantDefault)
	return nil
}

func (c *Controller) closeVoiceChat(ctx context.Context, client avatarmodel.Client, voiceActive bool) error {
	if !voiceActive {
		c.mu.Lock()
		c.mode = avatarmodel.ModeText
		c.mu.Unlock()
		metrics.ModeSwitches.WithLabelValues(string(avatarmodel.ModeText), "ok").Inc()
		return nil
	}

	err := client.CloseVoiceChat(ctx)
	metrics.ModeSwitches.WithLabelValues(string(avatarmodel.ModeText), metrics.Result(err)).Inc()
	if err != nil {
		c.mu.Lock()
		c.voiceStatus = "Error closing voice chat"
		c.mu.Unlock()
		c.logger.Error().Err(err).Msg("close voice chat")
		c.notify("Voice Chat Error", "Failed to stop voice chat mode.", notify.VariantDestructive)
		return err
	}

	c.mu.Lock()
	c.mode = avatarmodel.ModeText
	c.voiceChatActive = false
	c.voiceStatus = ""
	c.mu.Unlock()

	c.notify("Voice Chat Ended", "Voice chat mode has been disabled.", notify.VariantDefault)
	return nil
}
