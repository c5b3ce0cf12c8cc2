package dto

import "time"

type ChatRequest struct {
	UserMessage     string `json:"user_message" validate:"required,max=8000"`
	UserID          string `json:"user_id" validate:"required,max=128"`
	ConversationID  string `json:"conversation_id,omitempty" validate:"omitempty,max=128"`
	UseReranker     *bool  `json:"use_reranker,omitempty"`
	ClientSessionID string `json:"client_session_id,omitempty" validate:"omitempty,max=128"`
}

type CitationDTO struct {
	Number     int      `json:"number"`
	DocumentID string   `json:"document_id"`
	Title      string   `json:"title,omitempty"`
	Journal    string   `json:"journal,omitempty"`
	Year       int      `json:"year,omitempty"`
	Authors    []string `json:"authors,omitempty"`
	URL        string   `json:"url,omitempty"`
}

type ChatResponse struct {
	ConversationID   string        `json:"conversation_id"`
	MessageID        string        `json:"message_id"`
	AssistantMessage string        `json:"assistant_message"`
	Citations        []CitationDTO `json:"citations"`
	AllCitations     []CitationDTO `json:"all_citations"`
	CreatedAt        time.Time     `json:"created_at"`
}

type MessageDTO struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Citations []int     `json:"citations,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type ConversationResponse struct {
	ConversationID string        `json:"conversation_id"`
	Messages       []MessageDTO  `json:"messages"`
	AllCitations   []CitationDTO `json:"all_citations"`
	InFlight       bool          `json:"in_flight"`
	CreatedAt      time.Time     `json:"created_at"`
	LastAccessed   time.Time     `json:"last_accessed"`
}

type SwitchViewRequest struct {
	ConversationID string `json:"conversation_id" validate:"required,max=128"`
}

const (
	StreamEventStart = "start"
	StreamEventToken = "token"
	StreamEventDone  = "done"
	StreamEventError = "error"
)

// StreamEvent is one server-sent or websocket frame of a streamed turn
type StreamEvent struct {
	Type           string        `json:"type"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Content        string        `json:"content,omitempty"`
	Message        *ChatResponse `json:"message,omitempty"`
	Error          *StreamError  `json:"error,omitempty"`
}

type StreamError struct {
	Code          int    `json:"code"`
	Message       string `json:"message"`
	Retryable     bool   `json:"retryable"`
	FailedMessage string `json:"failed_message,omitempty"`
}

const (
	WsMessageChat   = "chat"
	WsMessageSwitch = "switch"
)

// WsInbound is a client frame on the chat websocket; chat fields are validated per type
type WsInbound struct {
	Type        string `json:"type" validate:"required,oneof=chat switch"`
	ChatRequest `validate:"-"`
}
