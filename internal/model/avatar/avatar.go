package avatar

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Mode 交互模式：文本输入或实时语音对话。
type Mode string

const (
	ModeText  Mode = "text"
	ModeVoice Mode = "voice"
)

// ErrInvalidMode 表示未知的交互模式。
var ErrInvalidMode = errors.New("mode must be text or voice")

// ParseMode 规范化并校验模式字符串。
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeText:
		return ModeText, nil
	case ModeVoice:
		return ModeVoice, nil
	default:
		return "", ErrInvalidMode
	}
}

// Quality 数字人视频流清晰度。
type Quality string

const (
	QualityHigh   Quality = "high"
	QualityMedium Quality = "medium"
	QualityLow    Quality = "low"
)

// ParseQuality 解析清晰度配置，未知值返回 false。
func ParseQuality(raw string) (Quality, bool) {
	switch q := Quality(strings.ToLower(strings.TrimSpace(raw))); q {
	case QualityHigh, QualityMedium, QualityLow:
		return q, true
	default:
		return "", false
	}
}

// TaskType 决定数字人是自行回答（talk）还是逐字复述（repeat）。
type TaskType string

const (
	TaskTalk   TaskType = "talk"
	TaskRepeat TaskType = "repeat"
)

// EventType 数字人服务推送的事件类型。
type EventType string

const (
	EventStreamReady        EventType = "stream_ready"
	EventStreamDisconnected EventType = "stream_disconnected"
	EventUserStart          EventType = "user_start"
	EventUserStop           EventType = "user_stop"
	EventAvatarStartTalking EventType = "avatar_start_talking"
	EventAvatarStopTalking  EventType = "avatar_stop_talking"
)

// Event 一条数字人事件，Payload 保留服务端原始数据。
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StartRequest 创建并启动数字人视频流的参数。
type StartRequest struct {
	Quality       Quality `json:"quality"`
	AvatarName    string  `json:"avatarName"`
	Language      string  `json:"language"`
	KnowledgeBase string  `json:"knowledgeBase,omitempty"`
}

// SessionInfo 服务端返回的会话句柄。AccessToken 与 URL 供浏览器接入媒体流。
type SessionInfo struct {
	SessionID     string    `json:"sessionId"`
	AccessToken   string    `json:"accessToken,omitempty"`
	URL           string    `json:"url,omitempty"`
	DurationLimit int       `json:"durationLimit,omitempty"`
	StartedAt     time.Time `json:"startedAt"`
}

// SpeakRequest 让数字人说出一段文本。
type SpeakRequest struct {
	Text     string   `json:"text"`
	TaskType TaskType `json:"taskType,omitempty"`
}

// VoiceChatRequest 开启实时语音对话的参数。
type VoiceChatRequest struct {
	UseSilencePrompt bool `json:"useSilencePrompt"`
}

// Handler 处理一条数字人事件。
type Handler func(Event)

// Client 是一次数字人会话的客户端，由 token 构造。
type Client interface {
	CreateStartAvatar(ctx context.Context, req StartRequest) (SessionInfo, error)
	Speak(ctx context.Context, req SpeakRequest) error
	StartVoiceChat(ctx context.Context, req VoiceChatRequest) error
	CloseVoiceChat(ctx context.Context) error
	StopAvatar(ctx context.Context) error
	On(event EventType, handler Handler)
}
