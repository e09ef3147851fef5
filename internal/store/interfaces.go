package store

import (
	"context"
	"errors"

	"codecollab/internal/models"
)

var ErrNotFound = errors.New("record not found")

// SessionStore is the pluggable persistence layer behind the session
// registry. Implementations apply a uniform TTL to session, chat and
// document records; expired records read back as ErrNotFound.
//
// Write ownership: the registry writes sessions, the chat relay appends
// messages, the sync bridge appends document updates. Nothing else
// mutates store state.
type SessionStore interface {
	SaveSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	DeleteSession(ctx context.Context, id string) error
	ListPublicSessions(ctx context.Context) ([]*models.Session, error)

	// AppendChatMessage appends to the session's history, evicting the
	// oldest entries beyond limit.
	AppendChatMessage(ctx context.Context, sessionID string, msg *models.ChatMessage, limit int) error
	GetChatHistory(ctx context.Context, sessionID string) ([]*models.ChatMessage, error)

	// AppendDocUpdate appends an opaque CRDT update to the session's
	// update log, trimming the oldest entries beyond limit.
	AppendDocUpdate(ctx context.Context, sessionID string, update []byte, limit int) error
	GetDocUpdates(ctx context.Context, sessionID string) ([][]byte, error)
	ClearDocUpdates(ctx context.Context, sessionID string) error

	Ping(ctx context.Context) error
	Close() error
}
