package memory

import (
	"context"
	"sync"
	"time"

	"research-chat-be/pkg/rag/citation"
	"research-chat-be/pkg/store"

	"github.com/google/uuid"
)

// ConversationHandle is the only way to read or mutate a stored conversation.
// turn serializes whole turns; mu guards state for short reads and writes so
// readers are never blocked by a running generation.
// life orders removal against store writes: once removed is set, nothing
// puts the handle back into the store or the archive.
type ConversationHandle struct {
	turn chan struct{}

	mu       sync.RWMutex
	conv     *store.Conversation
	inflight chan struct{}

	life    sync.Mutex
	removed bool
}

func newHandle(conv *store.Conversation) *ConversationHandle {
	if conv.Citations == nil {
		conv.Citations = citation.NewRegistry()
	}
	return &ConversationHandle{
		turn: make(chan struct{}, 1),
		conv: conv,
	}
}

func (h *ConversationHandle) ID() string {
	return h.conv.ID
}

func (h *ConversationHandle) UserID() string {
	return h.conv.UserID
}

// BeginTurn waits until no other turn runs on this conversation.
// The returned func must be called exactly once to end the turn.
func (h *ConversationHandle) BeginTurn(ctx context.Context) (func(), error) {
	select {
	case h.turn <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	done := make(chan struct{})
	h.mu.Lock()
	h.inflight = done
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			h.inflight = nil
			h.mu.Unlock()
			close(done)
			<-h.turn
		})
	}, nil
}

// Wait blocks until the running turn, if any, has finished
func (h *ConversationHandle) Wait(ctx context.Context) error {
	h.mu.RLock()
	done := h.inflight
	h.mu.RUnlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InFlight reports whether a turn is running
func (h *ConversationHandle) InFlight() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.inflight != nil
}

// History returns a copy of the stored messages
func (h *ConversationHandle) History() []store.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]store.Message(nil), h.conv.Messages...)
}

// Registry returns a copy of the citation registry
func (h *ConversationHandle) Registry() *citation.Registry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conv.Citations.Clone()
}

// Snapshot returns a deep copy of the whole conversation
func (h *ConversationHandle) Snapshot() *store.Conversation {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conv.Clone()
}

// CitedPassageIDs returns passage ids cited by assistant messages, most recent turn first, unique
func (h *ConversationHandle) CitedPassageIDs(limit int) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var ids []string
	seen := make(map[string]bool)
	for i := len(h.conv.Messages) - 1; i >= 0; i-- {
		m := h.conv.Messages[i]
		if m.Role != store.RoleAssistant {
			continue
		}
		for _, id := range m.CitedPassageIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
			if limit > 0 && len(ids) == limit {
				return ids
			}
		}
	}
	return ids
}

// AppendUser records the user half of a turn
func (h *ConversationHandle) AppendUser(content string, now time.Time) store.Message {
	msg := store.Message{
		ID:        uuid.NewString(),
		Role:      store.RoleUser,
		Content:   content,
		CreatedAt: now,
	}
	h.mu.Lock()
	h.conv.Messages = append(h.conv.Messages, msg)
	h.conv.LastAccessed = now
	h.mu.Unlock()
	return msg
}

// RollbackUser removes the message with id if it is still the last one
func (h *ConversationHandle) RollbackUser(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.conv.Messages)
	if n == 0 {
		return false
	}
	last := h.conv.Messages[n-1]
	if last.ID != id || last.Role != store.RoleUser {
		return false
	}
	h.conv.Messages = h.conv.Messages[:n-1]
	return true
}

// CommitAssistant runs build against the live registry and appends the message it returns,
// both under the write lock.
func (h *ConversationHandle) CommitAssistant(now time.Time, build func(reg *citation.Registry) store.Message) store.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	msg := build(h.conv.Citations)
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Role = store.RoleAssistant
	msg.CreatedAt = now
	h.conv.Messages = append(h.conv.Messages, msg)
	h.conv.LastAccessed = now
	return msg
}

func (h *ConversationHandle) touch(now time.Time) {
	h.mu.Lock()
	h.conv.LastAccessed = now
	h.mu.Unlock()
}

// markRemoved reports whether this call removed the handle. It waits for a
// running whileLive callback to return.
func (h *ConversationHandle) markRemoved() bool {
	h.life.Lock()
	defer h.life.Unlock()
	if h.removed {
		return false
	}
	h.removed = true
	return true
}

// whileLive runs fn unless the handle was removed, holding off removal until fn returns
func (h *ConversationHandle) whileLive(fn func()) bool {
	h.life.Lock()
	defer h.life.Unlock()
	if h.removed {
		return false
	}
	fn()
	return true
}

// Removed reports whether the conversation has left the store
func (h *ConversationHandle) Removed() bool {
	h.life.Lock()
	defer h.life.Unlock()
	return h.removed
}
