package session

import (
	avatarmodel "github.com/abhinav118/avatar-stream-vibe/internal/model/avatar"
	"github.com/abhinav118/avatar-stream-vibe/internal/service/notify"
)

// subscribe wires provider events of client into the controller. Events from
// a client the controller no longer owns are dropped.
func (c *Controller) subscribe(client avatarmodel.Client) {
	client.On(avatarmodel.EventStreamReady, func(avatarmodel.Event) {
		c.onStreamReady(client)
	})
	client.On(avatarmodel.EventStreamDisconnected, func(avatarmodel.Event) {
		c.onStreamDisconnected(client)
	})
	client.On(avatarmodel.EventUserStart, func(avatarmodel.Event) {
		c.updateVoice(client, "Listening...", nil)
	})
	client.On(avatarmodel.EventUserStop, func(avatarmodel.Event) {
		c.updateVoice(client, "Processing...", nil)
	})
	speaking, idle := true, false
	client.On(avatarmodel.EventAvatarStartTalking, func(avatarmodel.Event) {
		c.updateVoice(client, "Avatar is speaking...", &speaking)
	})
	client.On(avatarmodel.EventAvatarStopTalking, func(avatarmodel.Event) {
		c.updateVoice(client, "Waiting for you to speak...", &idle)
	})
}

func (c *Controller) ownsLocked(client avatarmodel.Client) bool {
	return client != nil && (client == c.client || client == c.pending)
}

func (c *Controller) onStreamReady(client avatarmodel.Client) {
	c.mu.Lock()
	if !c.ownsLocked(client) {
		c.mu.Unlock()
		return
	}
	c.streamReady = true
	c.mu.Unlock()

	c.logger.Info().Msg("avatar stream ready")
	c.notify("Avatar Connected", "Your interactive avatar is ready to chat!", notify.VariantDefault)
	c.publishState()
}

// onStreamDisconnected releases the session handle. The client reference is
// kept so later sends report an inactive session rather than a missing one.
func (c *Controller) onStreamDisconnected(client avatarmodel.Client) {
	c.mu.Lock()
	if !c.ownsLocked(client) {
		c.mu.Unlock()
		return
	}
	c.info = nil
	c.setConnectedLocked(false)
	c.streamReady = false
	c.speaking = false
	c.voiceChatActive = false
	c.mode = avatarmodel.ModeText
	c.voiceStatus = ""
	c.mu.Unlock()

	c.logger.Info().Msg("avatar stream disconnected")
	c.notify("Avatar Disconnected", "The avatar session has ended.", notify.VariantDefault)
	c.publishState()
}

func (c *Controller) updateVoice(client avatarmodel.Client, status string, speaking *bool) {
	c.mu.Lock()
	if !c.ownsLocked(client) {
		c.mu.Unlock()
		return
	}
	c.voiceStatus = status
	if speaking != nil {
		c.speaking = *speaking
	}
	c.mu.Unlock()
	c.publishState()
}
