package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/abhinav118/avatar-stream-vibe/internal/model/chat"
	"github.com/abhinav118/avatar-stream-vibe/internal/model/role"
)

const historyLimit = 10

// Responder generates the assistant reply that is appended to the chat log.
type Responder struct {
	chain   compose.Runnable[map[string]any, *schema.Message]
	prompts *RolePromptManager
	logger  zerolog.Logger
}

// NewResponder compiles the system + history + query chain around chatModel.
func NewResponder(ctx context.Context, chatModel model.BaseChatModel, logger zerolog.Logger) (*Responder, error) {
	if chatModel == nil {
		return nil, errors.New("chat model must not be nil")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Responder{
		chain:   runnable,
		prompts: NewRolePromptManager(),
		logger:  logger,
	}, nil
}

// Reply answers userText as role r. history should not contain userText itself.
func (r *Responder) Reply(ctx context.Context, rl role.Role, history []chat.Message, userText string) (string, error) {
	input := map[string]any{
		"system":  r.prompts.BuildSystemPrompt(rl),
		"history": buildHistoryMessages(history),
		"query":   userText,
	}

	response, err := r.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}

	content := strings.TrimSpace(response.Content)
	r.logger.Debug().Str("role", rl.ID).Int("length", len(content)).Msg("generated reply")
	if content == "" {
		return "", errors.New("model returned an empty reply")
	}
	return content, nil
}

func buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > historyLimit {
		startIdx = len(messages) - historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		if msg.IsUser {
			history = append(history, schema.UserMessage(msg.Content))
		} else {
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}
