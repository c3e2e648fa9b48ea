package chat

import "time"

// Message is one entry of a visitor's chat log. Entries are only ever appended.
type Message struct {
	ID        string    `json:"id"`
	VisitorID string    `json:"visitorId"`
	Content   string    `json:"content"`
	IsUser    bool      `json:"isUser"`
	Timestamp time.Time `json:"timestamp"`
}
