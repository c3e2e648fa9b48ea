package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/abhinav118/avatar-stream-vibe/internal/metrics"
	avatarmodel "github.com/abhinav118/avatar-stream-vibe/internal/model/avatar"
	chatmodel "github.com/abhinav118/avatar-stream-vibe/internal/model/chat"
	"github.com/abhinav118/avatar-stream-vibe/internal/model/role"
	"github.com/abhinav118/avatar-stream-vibe/internal/service/notify"
)

type speakSource string

const (
	sourceText  speakSource = "text"
	sourceVoice speakSource = "transcription"
)

// Speak sends typed text to the avatar. Only text mode sends; blank text or
// a missing client is ignored.
func (c *Controller) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)

	c.mu.Lock()
	client := c.client
	mode := c.mode
	c.mu.Unlock()

	if client == nil || text == "" || mode != avatarmodel.ModeText {
		return nil
	}
	return c.deliver(ctx, client, text, sourceText)
}

// SpeakTranscribed sends recognised speech to the avatar.
func (c *Controller) SpeakTranscribed(ctx context.Context, text string) error {
	c.mu.Lock()
	client := c.client
	connected := c.connected
	c.mu.Unlock()

	if client == nil {
		c.notify("Avatar Error", "Avatar not connected. Please start a session first.", notify.VariantDestructive)
		return ErrNoClient
	}
	if !connected {
		c.notify("Avatar Error", "Avatar session not active. Please start a session first.", notify.VariantDestructive)
		return ErrNotConnected
	}

	text = strings.TrimSpace(text)
	if text == "" {
		c.notify("No Speech Detected", "No speech was detected in your recording.", notify.VariantDestructive)
		return ErrNoSpeech
	}
	return c.deliver(ctx, client, text, sourceVoice)
}

// deliver appends the user entry, asks the avatar to speak and schedules the
// assistant reply.
func (c *Controller) deliver(ctx context.Context, client avatarmodel.Client, text string, source speakSource) error {
	history := c.history(ctx)
	c.appendMessage(ctx, text, true)

	c.mu.Lock()
	c.speaking = true
	selected := c.role
	c.mu.Unlock()
	c.typingChanged(1)

	err := client.Speak(ctx, avatarmodel.SpeakRequest{Text: text, TaskType: avatarmodel.TaskTalk})
	metrics.SpeakRequests.WithLabelValues(string(source), metrics.Result(err)).Inc()

	c.mu.Lock()
	c.speaking = false
	c.mu.Unlock()

	if err != nil {
		c.typingChanged(-1)
		c.logger.Error().Err(err).Str("source", string(source)).Msg("avatar speak failed")
		if source == sourceVoice {
			c.notify("Speech Error", "Failed to send voice message to avatar.", notify.VariantDestructive)
		} else {
			c.notify("Speech Error", "Failed to send message to avatar.", notify.VariantDestructive)
		}
		return err
	}

	if source == sourceVoice {
		c.scheduleReply(selected, history, text, voiceReplyPlaceholder, c.opts.VoiceReplyDelay)
		c.notify("Voice Message Sent", fmt.Sprintf("Avatar is speaking: %q", text), notify.VariantDefault)
	} else {
		c.scheduleReply(selected, history, text, textReplyPlaceholder, c.opts.TextReplyDelay)
		c.notify("Message Sent", "Avatar is speaking your message.", notify.VariantDefault)
	}
	return nil
}

func (c *Controller) history(ctx context.Context) []chatmodel.Message {
	if c.deps.Chat == nil {
		return nil
	}
	messages, err := c.deps.Chat.Transcript(ctx, c.id)
	if err != nil {
		c.logger.Warn().Err(err).Msg("load chat transcript")
		return nil
	}
	return messages
}

func (c *Controller) appendMessage(ctx context.Context, content string, isUser bool) {
	if c.deps.Chat == nil {
		return
	}
	msg, err := c.deps.Chat.Append(ctx, c.id, content, isUser)
	if err != nil {
		c.logger.Warn().Err(err).Bool("user", isUser).Msg("append chat message")
		return
	}
	c.publish(notify.EventMessage, msg)
}

// scheduleReply appends the assistant entry after delay. With a responder
// configured the text is generated, otherwise fallback is used.
func (c *Controller) scheduleReply(selected role.Role, history []chatmodel.Message, userText, fallback string, delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		_, live := c.timers[timer]
		delete(c.timers, timer)
		c.mu.Unlock()
		if !live {
			return
		}

		reply := fallback
		if c.deps.Responder != nil {
			ctx, cancel := context.WithTimeout(context.Background(), c.opts.ReplyTimeout)
			generated, err := c.deps.Responder.Reply(ctx, selected, history, userText)
			cancel()
			if err != nil {
				c.logger.Warn().Err(err).Msg("generate reply, using placeholder")
			} else {
				reply = generated
			}
		}

		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		c.appendMessage(context.Background(), reply, false)
		c.typingChanged(-1)
	})
	c.timers[timer] = struct{}{}
}

func (c *Controller) typingChanged(delta int) {
	c.mu.Lock()
	before := c.typing > 0
	c.typing += delta
	if c.typing < 0 {
		c.typing = 0
	}
	after := c.typing > 0
	c.mu.Unlock()

	if before != after {
		c.publish(notify.EventTyping, notify.Typing{Active: after})
	}
}
