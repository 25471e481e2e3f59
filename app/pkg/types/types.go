package types

import "time"

// ContactInfo identifies the customer behind a conversation.
type ContactInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// IncomingMessage is one customer message entering the pipeline.
type IncomingMessage struct {
	ConversationID string      `json:"conversation_id"`
	UserID         string      `json:"user_id"`
	Contact        ContactInfo `json:"contact"`
	Body           string      `json:"body"`
	ReceivedAt     time.Time   `json:"received_at"`
}

// Turn is one remembered conversation turn for a user.
type Turn struct {
	Role    string  `json:"role"` // "customer" or "support"
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// CatalogueMatch is a resolved-conversation entry matched from the
// global answer catalogue.
type CatalogueMatch struct {
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}
