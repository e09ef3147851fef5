package store

import (
	"context"
	"sync"
	"time"

	"codecollab/internal/models"
)

// MemoryStore keeps all records in process-local maps. It is the
// single-process backend and the one used by tests. A janitor goroutine
// sweeps expired records; reads also check expiry so a record never
// outlives its TTL between sweeps.
type MemoryStore struct {
	mu       sync.RWMutex
	ttl      time.Duration
	sessions map[string]*memRecord[*models.Session]
	chats    map[string]*memRecord[[]*models.ChatMessage]
	docs     map[string]*memRecord[[][]byte]
	done     chan struct{}
	closeOne sync.Once
}

type memRecord[T any] struct {
	value     T
	expiresAt time.Time
}

func (r *memRecord[T]) expired(now time.Time) bool {
	return now.After(r.expiresAt)
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	s := &MemoryStore{
		ttl:      ttl,
		sessions: make(map[string]*memRecord[*models.Session]),
		chats:    make(map[string]*memRecord[[]*models.ChatMessage]),
		docs:     make(map[string]*memRecord[[][]byte]),
		done:     make(chan struct{}),
	}
	go s.janitor()
	return s
}

func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

func (s *MemoryStore) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, rec := range s.sessions {
		if rec.expired(now) {
			delete(s.sessions, id)
		}
	}
	for id, rec := range s.chats {
		if rec.expired(now) {
			delete(s.chats, id)
		}
	}
	for id, rec := range s.docs {
		if rec.expired(now) {
			delete(s.docs, id)
		}
	}
}

// Sessions are cloned on both save and read. The other backends
// serialize through the wire, so nothing they return aliases store
// state; the map must not behave differently.
func (s *MemoryStore) SaveSession(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = &memRecord[*models.Session]{value: session.Clone(), expiresAt: time.Now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[id]
	if !ok || rec.expired(time.Now()) {
		return nil, ErrNotFound
	}
	return rec.value.Clone(), nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	delete(s.chats, id)
	delete(s.docs, id)
	return nil
}

func (s *MemoryStore) ListPublicSessions(_ context.Context) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	var sessions []*models.Session
	for _, rec := range s.sessions {
		if rec.expired(now) || !rec.value.IsPublic {
			continue
		}
		sessions = append(sessions, rec.value.Clone())
	}
	return sessions, nil
}

func (s *MemoryStore) AppendChatMessage(_ context.Context, sessionID string, msg *models.ChatMessage, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	rec, ok := s.chats[sessionID]
	if !ok || rec.expired(now) {
		rec = &memRecord[[]*models.ChatMessage]{}
		s.chats[sessionID] = rec
	}
	rec.value = append(rec.value, msg)
	if limit > 0 && len(rec.value) > limit {
		rec.value = rec.value[len(rec.value)-limit:]
	}
	rec.expiresAt = now.Add(s.ttl)
	return nil
}

func (s *MemoryStore) GetChatHistory(_ context.Context, sessionID string) ([]*models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.chats[sessionID]
	if !ok || rec.expired(time.Now()) {
		return nil, nil
	}
	history := make([]*models.ChatMessage, len(rec.value))
	copy(history, rec.value)
	return history, nil
}

func (s *MemoryStore) AppendDocUpdate(_ context.Context, sessionID string, update []byte, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	rec, ok := s.docs[sessionID]
	if !ok || rec.expired(now) {
		rec = &memRecord[[][]byte]{}
		s.docs[sessionID] = rec
	}
	buf := make([]byte, len(update))
	copy(buf, update)
	rec.value = append(rec.value, buf)
	if limit > 0 && len(rec.value) > limit {
		rec.value = rec.value[len(rec.value)-limit:]
	}
	rec.expiresAt = now.Add(s.ttl)
	return nil
}

func (s *MemoryStore) GetDocUpdates(_ context.Context, sessionID string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.docs[sessionID]
	if !ok || rec.expired(time.Now()) {
		return nil, nil
	}
	updates := make([][]byte, len(rec.value))
	copy(updates, rec.value)
	return updates, nil
}

func (s *MemoryStore) ClearDocUpdates(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, sessionID)
	return nil
}

func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	s.closeOne.Do(func() { close(s.done) })
	return nil
}
