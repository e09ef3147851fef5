package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"codecollab/internal/models"
	"codecollab/pkg/logger"
)

// RedisStore is the multi-process backend. Sessions are JSON values with
// a native EXPIRE, chat history and the document update log are capped
// lists, and public sessions are indexed in a set for listing.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

const publicIndexKey = "sessions:public"

func sessionKey(id string) string { return "session:" + id }
func chatKey(id string) string    { return "chat:" + id }
func docKey(id string) string     { return "doc:" + id }

func NewRedisStore(url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.Info("Connected to redis at %s", opts.Addr)
	return &RedisStore{rdb: rdb, ttl: ttl}, nil
}

func (s *RedisStore) SaveSession(ctx context.Context, session *models.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, sessionKey(session.ID), data, s.ttl)
	if session.IsPublic {
		pipe.SAdd(ctx, publicIndexKey, session.ID)
	} else {
		pipe.SRem(ctx, publicIndexKey, session.ID)
	}
	// Keep the side records on the same clock as the session itself.
	pipe.Expire(ctx, chatKey(session.ID), s.ttl)
	pipe.Expire(ctx, docKey(session.ID), s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	data, err := s.rdb.Get(ctx, sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", id, err)
	}
	return &session, nil
}

func (s *RedisStore) DeleteSession(ctx context.Context, id string) error {
	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, sessionKey(id), chatKey(id), docKey(id))
	pipe.SRem(ctx, publicIndexKey, id)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) ListPublicSessions(ctx context.Context) ([]*models.Session, error) {
	ids, err := s.rdb.SMembers(ctx, publicIndexKey).Result()
	if err != nil {
		return nil, err
	}

	var sessions []*models.Session
	for _, id := range ids {
		session, err := s.GetSession(ctx, id)
		if err == ErrNotFound {
			// Session expired under the index; drop the stale entry.
			s.rdb.SRem(ctx, publicIndexKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (s *RedisStore) AppendChatMessage(ctx context.Context, sessionID string, msg *models.ChatMessage, limit int) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal chat message: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.RPush(ctx, chatKey(sessionID), data)
	if limit > 0 {
		pipe.LTrim(ctx, chatKey(sessionID), int64(-limit), -1)
	}
	pipe.Expire(ctx, chatKey(sessionID), s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) GetChatHistory(ctx context.Context, sessionID string) ([]*models.ChatMessage, error) {
	items, err := s.rdb.LRange(ctx, chatKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	history := make([]*models.ChatMessage, 0, len(items))
	for _, item := range items {
		var msg models.ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			logger.Error("Skipping malformed chat message in %s: %v", sessionID, err)
			continue
		}
		history = append(history, &msg)
	}
	return history, nil
}

func (s *RedisStore) AppendDocUpdate(ctx context.Context, sessionID string, update []byte, limit int) error {
	pipe := s.rdb.Pipeline()
	pipe.RPush(ctx, docKey(sessionID), update)
	if limit > 0 {
		pipe.LTrim(ctx, docKey(sessionID), int64(-limit), -1)
	}
	pipe.Expire(ctx, docKey(sessionID), s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) GetDocUpdates(ctx context.Context, sessionID string) ([][]byte, error) {
	items, err := s.rdb.LRange(ctx, docKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	updates := make([][]byte, len(items))
	for i, item := range items {
		updates[i] = []byte(item)
	}
	return updates, nil
}

func (s *RedisStore) ClearDocUpdates(ctx context.Context, sessionID string) error {
	return s.rdb.Del(ctx, docKey(sessionID)).Err()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
