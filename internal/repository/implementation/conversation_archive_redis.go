package implementation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"research-chat-be/pkg/store"

	"github.com/redis/go-redis/v9"
)

const conversationKeyPrefix = "conversation:"

// RedisConversationArchive stores JSON snapshots of conversations with a TTL equal to the idle timeout
type RedisConversationArchive struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisConversationArchive(rdb *redis.Client, ttl time.Duration) *RedisConversationArchive {
	return &RedisConversationArchive{
		rdb: rdb,
		ttl: ttl,
	}
}

func (a *RedisConversationArchive) Save(ctx context.Context, conv *store.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	return a.rdb.Set(ctx, conversationKeyPrefix+conv.ID, data, a.ttl).Err()
}

func (a *RedisConversationArchive) Load(ctx context.Context, id string) (*store.Conversation, error) {
	data, err := a.rdb.Get(ctx, conversationKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var conv store.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("unmarshal conversation: %w", err)
	}
	return &conv, nil
}

func (a *RedisConversationArchive) Delete(ctx context.Context, id string) error {
	return a.rdb.Del(ctx, conversationKeyPrefix+id).Err()
}
