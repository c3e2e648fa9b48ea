package role

// Role 描述一个可选的数字人坐席场景，以及会话启动时传给数字人服务的形象标识。
type Role struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
	AvatarName  string `json:"avatarName"`
	Prompt      string `json:"prompt,omitempty"`
}

// DefaultID 是访客未指定角色时使用的场景。
const DefaultID = "customer-service"

// Seed 返回演示站点内置的五个坐席场景。
func Seed() []Role {
	return []Role{
		{
			ID:          "customer-service",
			Label:       "Customer Service",
			Description: "Talk to an AI that helps customers with questions and support issues",
			AvatarName:  "Katya_Chair_Sitting_public",
			Prompt:      "You are a helpful customer service representative. Assist users with their questions and provide excellent support.",
		},
		{
			ID:          "receptionist",
			Label:       "Receptionist",
			Description: "Speak to an AI receptionist that greets visitors and manages appointments",
			AvatarName:  "Alessandra_Chair_Sitting_public",
			Prompt:      "You are a professional receptionist. Greet visitors warmly and help them with their needs.",
		},
		{
			ID:          "concierge",
			Label:       "Concierge",
			Description: "Talk to a luxury hotel concierge AI for personalized guest services",
			AvatarName:  "Anastasia_Chair_Sitting_public",
			Prompt:      "You are a luxury hotel concierge. Provide personalized recommendations and exceptional service.",
		},
		{
			ID:          "appointment-setter",
			Label:       "Appointment Setter",
			Description: "AI assistant specialized in scheduling and managing appointments efficiently",
			AvatarName:  "Amina_Chair_Sitting_public",
			Prompt:      "You are an appointment setting specialist. Help users schedule appointments efficiently.",
		},
		{
			ID:          "ai-ivr",
			Label:       "AI IVR",
			Description: "Interactive voice response system for call routing and information",
			AvatarName:  "Elenora_IT_Sitting_public",
			Prompt:      "You are an AI IVR system. Help callers navigate options and connect them to the right department.",
		},
	}
}
