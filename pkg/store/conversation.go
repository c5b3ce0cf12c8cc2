package store

import (
	"time"

	"research-chat-be/pkg/rag/citation"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one stored turn half. Assistant content is kept in canonical citation form.
type Message struct {
	ID               string    `json:"id"`
	Role             string    `json:"role"`
	Content          string    `json:"content"`
	CitedDocumentIDs []string  `json:"cited_document_ids,omitempty"`
	CitedPassageIDs  []string  `json:"cited_passage_ids,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Conversation is the full per-conversation state owned by the conversation store
type Conversation struct {
	ID           string             `json:"id"`
	UserID       string             `json:"user_id"`
	Messages     []Message          `json:"messages"`
	Citations    *citation.Registry `json:"citations"`
	CreatedAt    time.Time          `json:"created_at"`
	LastAccessed time.Time          `json:"last_accessed"`
}

// NewConversation creates an empty conversation owned by userID
func NewConversation(id, userID string, now time.Time) *Conversation {
	return &Conversation{
		ID:           id,
		UserID:       userID,
		Citations:    citation.NewRegistry(),
		CreatedAt:    now,
		LastAccessed: now,
	}
}

// LastAssistant returns the most recent assistant message, if any
func (c *Conversation) LastAssistant() (Message, bool) {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleAssistant {
			return c.Messages[i], true
		}
	}
	return Message{}, false
}

// Clone returns a deep copy safe to hand out while the original keeps changing
func (c *Conversation) Clone() *Conversation {
	cp := *c
	cp.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		m.CitedDocumentIDs = append([]string(nil), m.CitedDocumentIDs...)
		m.CitedPassageIDs = append([]string(nil), m.CitedPassageIDs...)
		cp.Messages[i] = m
	}
	if c.Citations != nil {
		cp.Citations = c.Citations.Clone()
	}
	return &cp
}
