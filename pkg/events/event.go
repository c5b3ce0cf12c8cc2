package events

import "time"

// Event defines the contract for all system events.
type Event interface {
	// EventType returns the subject suffix, e.g. "chat.turn_completed"
	EventType() string
	Payload() map[string]interface{}
	Timestamp() time.Time
}

const (
	TypeTurnCompleted       = "chat.turn_completed"
	TypeTurnFailed          = "chat.turn_failed"
	TypeConversationEvicted = "chat.conversation_evicted"
)

type BaseEvent struct {
	Type       string                 `json:"type"`
	Data       map[string]interface{} `json:"data"`
	OccurredAt time.Time              `json:"occurred_at"`
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}

func TurnCompleted(conversationID, userID string, citations int, latency time.Duration, at time.Time) BaseEvent {
	return BaseEvent{
		Type: TypeTurnCompleted,
		Data: map[string]interface{}{
			"conversation_id": conversationID,
			"user_id":         userID,
			"citations":       citations,
			"latency_ms":      latency.Milliseconds(),
		},
		OccurredAt: at,
	}
}

func TurnFailed(conversationID, userID, stage string, retryable bool, at time.Time) BaseEvent {
	return BaseEvent{
		Type: TypeTurnFailed,
		Data: map[string]interface{}{
			"conversation_id": conversationID,
			"user_id":         userID,
			"stage":           stage,
			"retryable":       retryable,
		},
		OccurredAt: at,
	}
}

func ConversationEvicted(conversationID, userID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type: TypeConversationEvicted,
		Data: map[string]interface{}{
			"conversation_id": conversationID,
			"user_id":         userID,
		},
		OccurredAt: at,
	}
}
