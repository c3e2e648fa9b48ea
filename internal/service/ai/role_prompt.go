package ai

import (
	"fmt"
	"strings"

	"github.com/abhinav118/avatar-stream-vibe/internal/model/role"
)

// PromptTemplate holds the per-role additions to the base prompt.
type PromptTemplate struct {
	SystemPrompt string
	ContextRules []string
}

// RolePromptManager builds system prompts for avatar roles.
type RolePromptManager struct {
	templates map[string]*PromptTemplate
}

// NewRolePromptManager creates a prompt manager with the built-in role templates.
func NewRolePromptManager() *RolePromptManager {
	manager := &RolePromptManager{
		templates: make(map[string]*PromptTemplate),
	}
	manager.loadDefaultTemplates()
	return manager
}

// BuildSystemPrompt 组合角色自带的提示词与场景规则。回复会被数字人直接念出，所以要求简短口语化。
func (pm *RolePromptManager) BuildSystemPrompt(r role.Role) string {
	base := strings.TrimSpace(r.Prompt)
	if base == "" {
		base = fmt.Sprintf("You are %s.", r.Label)
	}

	template, ok := pm.templates[r.ID]
	if !ok {
		return fmt.Sprintf(`%s

Role: %s
%s

Your reply is spoken aloud by a video avatar. Answer in two or three short, natural sentences without markdown or lists.`,
			base, r.Label, r.Description)
	}

	return fmt.Sprintf(`%s

%s

Role: %s
Rules:
- %s

Your reply is spoken aloud by a video avatar. Answer in two or three short, natural sentences without markdown or lists.`,
		base,
		template.SystemPrompt,
		r.Label,
		strings.Join(template.ContextRules, "\n- "),
	)
}

func (pm *RolePromptManager) loadDefaultTemplates() {
	pm.templates["customer-service"] = &PromptTemplate{
		SystemPrompt: "You represent the company's support desk and resolve questions on the first contact whenever possible.",
		ContextRules: []string{
			"Acknowledge the customer's issue before proposing a fix",
			"Ask for one missing detail at a time",
			"Offer to escalate when you cannot solve the problem",
		},
	}
	pm.templates["receptionist"] = &PromptTemplate{
		SystemPrompt: "You sit at the front desk and are the first person visitors talk to.",
		ContextRules: []string{
			"Greet the visitor and ask how you can help",
			"Direct visitors to the right person or place",
			"Offer to book or confirm appointments",
		},
	}
	pm.templates["concierge"] = &PromptTemplate{
		SystemPrompt: "You work the concierge desk of a five-star hotel.",
		ContextRules: []string{
			"Tailor every recommendation to the guest's stated preferences",
			"Mention reservations, transport and local experiences when relevant",
			"Keep a warm, discreet and polished tone",
		},
	}
	pm.templates["appointment-setter"] = &PromptTemplate{
		SystemPrompt: "Your only job is getting a meeting on the calendar.",
		ContextRules: []string{
			"Propose concrete dates and times",
			"Confirm the name, purpose and time before closing",
			"Keep the conversation moving toward a booked slot",
		},
	}
	pm.templates["ai-ivr"] = &PromptTemplate{
		SystemPrompt: "You replace a phone menu and route callers without making them press buttons.",
		ContextRules: []string{
			"Identify the caller's intent quickly",
			"Name the department you are routing to",
			"Offer at most three options at a time",
		},
	}
}
