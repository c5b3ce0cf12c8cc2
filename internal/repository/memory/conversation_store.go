package memory

import (
	"context"
	"time"

	"research-chat-be/internal/pkg/logger"
	"research-chat-be/pkg/rag/chaterr"
	"research-chat-be/pkg/store"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

const storeModule = "ConversationStore"

// ConversationArchive keeps conversation snapshots outside the process
type ConversationArchive interface {
	Save(ctx context.Context, conv *store.Conversation) error
	// Load returns (nil, nil) when nothing is archived under id
	Load(ctx context.Context, id string) (*store.Conversation, error)
	Delete(ctx context.Context, id string) error
}

// ConversationStore owns every live conversation. Entries expire after the idle
// timeout; any access through the store resets the timer.
type ConversationStore struct {
	cache   *cache.Cache
	idle    time.Duration
	archive ConversationArchive
	logger  logger.ILogger
	now     func() time.Time

	onEvict func(conversationID, userID string)
}

type StoreOption func(*ConversationStore)

// WithArchive enables snapshot persistence and lazy restore
func WithArchive(a ConversationArchive) StoreOption {
	return func(s *ConversationStore) {
		s.archive = a
	}
}

// WithEvictionHook is called after a conversation leaves the store
func WithEvictionHook(fn func(conversationID, userID string)) StoreOption {
	return func(s *ConversationStore) {
		s.onEvict = fn
	}
}

// WithClock replaces time.Now; for tests
func WithClock(now func() time.Time) StoreOption {
	return func(s *ConversationStore) {
		s.now = now
	}
}

func NewConversationStore(idle, cleanupInterval time.Duration, log logger.ILogger, opts ...StoreOption) *ConversationStore {
	s := &ConversationStore{
		cache:  cache.New(idle, cleanupInterval),
		idle:   idle,
		logger: log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cache.OnEvicted(s.evicted)
	return s
}

// GetOrCreate resolves the conversation for a turn. An empty or unknown id creates a new
// conversation owned by userID; a known id owned by someone else fails with ErrOwnershipViolation.
func (s *ConversationStore) GetOrCreate(ctx context.Context, id, userID string) (*ConversationHandle, bool, error) {
	if id == "" {
		id = uuid.NewString()
	}

	for {
		if h, ok := s.lookup(ctx, id); ok {
			if h.UserID() != userID {
				return nil, false, chaterr.ErrOwnershipViolation
			}
			s.touch(h)
			return h, false, nil
		}

		h := newHandle(store.NewConversation(id, userID, s.now()))
		if err := s.cache.Add(id, h, cache.DefaultExpiration); err != nil {
			// lost a creation race; the winner's entry is returned on the next pass
			continue
		}
		s.logger.Info(storeModule, "Conversation created", map[string]interface{}{
			"conversation_id": id,
			"user_id":         userID,
		})
		return h, true, nil
	}
}

// Get returns an existing conversation for its owner
func (s *ConversationStore) Get(ctx context.Context, id, userID string) (*ConversationHandle, error) {
	h, ok := s.lookup(ctx, id)
	if !ok {
		return nil, chaterr.ErrNotFound
	}
	if h.UserID() != userID {
		return nil, chaterr.ErrOwnershipViolation
	}
	s.touch(h)
	return h, nil
}

// Delete removes a conversation for its owner
func (s *ConversationStore) Delete(ctx context.Context, id, userID string) error {
	if _, err := s.Get(ctx, id, userID); err != nil {
		return err
	}
	s.cache.Delete(id)
	return nil
}

// Persist refreshes the idle timer and snapshots the conversation when an archive is configured.
// A conversation deleted or evicted while its turn ran is neither re-inserted nor re-archived.
func (s *ConversationStore) Persist(ctx context.Context, h *ConversationHandle) {
	live := h.whileLive(func() {
		s.refresh(h)
		if s.archive == nil {
			return
		}
		if err := s.archive.Save(ctx, h.Snapshot()); err != nil {
			s.logger.Warn(storeModule, "Failed to archive conversation", map[string]interface{}{
				"conversation_id": h.ID(),
				"error":           err.Error(),
			})
		}
	})
	if !live {
		s.logger.Debug(storeModule, "Conversation left the store during its turn, result dropped", map[string]interface{}{
			"conversation_id": h.ID(),
		})
	}
}

// Len returns the number of live conversations
func (s *ConversationStore) Len() int {
	return s.cache.ItemCount()
}

func (s *ConversationStore) lookup(ctx context.Context, id string) (*ConversationHandle, bool) {
	if x, found := s.cache.Get(id); found {
		return x.(*ConversationHandle), true
	}
	// Get hides expired entries the janitor has not collected yet, and a later Add
	// would overwrite them without the eviction callback.
	s.cache.DeleteExpired()
	if s.archive == nil {
		return nil, false
	}

	conv, err := s.archive.Load(ctx, id)
	if err != nil {
		s.logger.Warn(storeModule, "Failed to load archived conversation", map[string]interface{}{
			"conversation_id": id,
			"error":           err.Error(),
		})
		return nil, false
	}
	if conv == nil || s.now().Sub(conv.LastAccessed) > s.idle {
		return nil, false
	}

	h := newHandle(conv)
	if err := s.cache.Add(id, h, cache.DefaultExpiration); err != nil {
		if x, found := s.cache.Get(id); found {
			return x.(*ConversationHandle), true
		}
		return nil, false
	}
	s.logger.Info(storeModule, "Conversation restored from archive", map[string]interface{}{
		"conversation_id": id,
		"messages":        len(conv.Messages),
	})
	return h, true
}

// touch resets the idle timer of a handle that is still in the store
func (s *ConversationStore) touch(h *ConversationHandle) {
	h.whileLive(func() { s.refresh(h) })
}

// refresh must run under whileLive
func (s *ConversationStore) refresh(h *ConversationHandle) {
	h.touch(s.now())
	s.cache.Set(h.ID(), h, cache.DefaultExpiration)
}

func (s *ConversationStore) evicted(id string, value interface{}) {
	h, ok := value.(*ConversationHandle)
	if !ok || !h.markRemoved() {
		return
	}
	userID := h.UserID()

	// a touch may have put h back between the cache removal and markRemoved
	if x, found := s.cache.Get(id); found && x == h {
		s.cache.Delete(id)
	}

	s.logger.Info(storeModule, "Conversation evicted", map[string]interface{}{
		"conversation_id": id,
	})

	if s.archive != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.archive.Delete(ctx, id); err != nil {
			s.logger.Warn(storeModule, "Failed to delete archived conversation", map[string]interface{}{
				"conversation_id": id,
				"error":           err.Error(),
			})
		}
	}

	if s.onEvict != nil {
		s.onEvict(id, userID)
	}
}
