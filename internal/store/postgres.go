package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"codecollab/internal/models"
	"codecollab/pkg/logger"
)

// PostgresStore is a durable backend for deployments that already run
// Postgres. Sessions are stored as JSONB documents; TTL is an expires_at
// column filtered on read and swept periodically.
type PostgresStore struct {
	pool *pgxpool.Pool
	ttl  time.Duration
	done chan struct{}
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	is_public  BOOLEAN NOT NULL DEFAULT FALSE,
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS chat_messages (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	data       JSONB NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages (session_id, id);
CREATE TABLE IF NOT EXISTS doc_updates (
	seq        BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL,
	payload    BYTEA NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_doc_updates_session ON doc_updates (session_id, seq);
`

func NewPostgresStore(databaseURL string, ttl time.Duration) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(context.Background(), postgresSchema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Info("Connected to database successfully")
	s := &PostgresStore{pool: pool, ttl: ttl, done: make(chan struct{})}
	go s.sweeper()
	return s, nil
}

func (s *PostgresStore) sweeper() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			for _, table := range []string{"sessions", "chat_messages", "doc_updates"} {
				if _, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE expires_at < NOW()`, table)); err != nil {
					logger.Error("Error sweeping expired %s: %v", table, err)
				}
			}
			cancel()
		}
	}
}

func (s *PostgresStore) SaveSession(ctx context.Context, session *models.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	query := `
		INSERT INTO sessions (id, data, is_public, expires_at)
		VALUES ($1, $2, $3, NOW() + make_interval(secs => $4))
		ON CONFLICT (id) DO UPDATE
		SET data = EXCLUDED.data, is_public = EXCLUDED.is_public, expires_at = EXCLUDED.expires_at`

	_, err = s.pool.Exec(ctx, query, session.ID, data, session.IsPublic, s.ttl.Seconds())
	return err
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT data FROM sessions WHERE id = $1 AND expires_at > NOW()`

	var data []byte
	err := s.pool.QueryRow(ctx, query, id).Scan(&data)
	if err == pgx.ErrNoRows {
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

func (s *PostgresStore) DeleteSession(ctx context.Context, id string) error {
	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM sessions WHERE id = $1`, id)
	batch.Queue(`DELETE FROM chat_messages WHERE session_id = $1`, id)
	batch.Queue(`DELETE FROM doc_updates WHERE session_id = $1`, id)
	return s.pool.SendBatch(ctx, batch).Close()
}

func (s *PostgresStore) ListPublicSessions(ctx context.Context) ([]*models.Session, error) {
	query := `SELECT data FROM sessions WHERE is_public AND expires_at > NOW() ORDER BY data->>'createdAt'`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var session models.Session
		if err := json.Unmarshal(data, &session); err != nil {
			return nil, err
		}
		sessions = append(sessions, &session)
	}
	return sessions, rows.Err()
}

func (s *PostgresStore) AppendChatMessage(ctx context.Context, sessionID string, msg *models.ChatMessage, limit int) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal chat message: %w", err)
	}

	// Message ids are k-sortable, so ordering by id is chronological.
	batch := &pgx.Batch{}
	batch.Queue(`INSERT INTO chat_messages (id, session_id, data, expires_at) VALUES ($1, $2, $3, NOW() + make_interval(secs => $4))`,
		msg.ID, sessionID, data, s.ttl.Seconds())
	if limit > 0 {
		batch.Queue(`
			DELETE FROM chat_messages
			WHERE session_id = $1 AND id NOT IN (
				SELECT id FROM chat_messages WHERE session_id = $1 ORDER BY id DESC LIMIT $2
			)`, sessionID, limit)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

func (s *PostgresStore) GetChatHistory(ctx context.Context, sessionID string) ([]*models.ChatMessage, error) {
	query := `SELECT data FROM chat_messages WHERE session_id = $1 AND expires_at > NOW() ORDER BY id`

	rows, err := s.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []*models.ChatMessage
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var msg models.ChatMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
		history = append(history, &msg)
	}
	return history, rows.Err()
}

func (s *PostgresStore) AppendDocUpdate(ctx context.Context, sessionID string, update []byte, limit int) error {
	batch := &pgx.Batch{}
	batch.Queue(`INSERT INTO doc_updates (session_id, payload, expires_at) VALUES ($1, $2, NOW() + make_interval(secs => $3))`,
		sessionID, update, s.ttl.Seconds())
	if limit > 0 {
		batch.Queue(`
			DELETE FROM doc_updates
			WHERE session_id = $1 AND seq NOT IN (
				SELECT seq FROM doc_updates WHERE session_id = $1 ORDER BY seq DESC LIMIT $2
			)`, sessionID, limit)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

func (s *PostgresStore) GetDocUpdates(ctx context.Context, sessionID string) ([][]byte, error) {
	query := `SELECT payload FROM doc_updates WHERE session_id = $1 AND expires_at > NOW() ORDER BY seq`

	rows, err := s.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var updates [][]byte
	for rows.Next() {
		var update []byte
		if err := rows.Scan(&update); err != nil {
			return nil, err
		}
		updates = append(updates, update)
	}
	return updates, rows.Err()
}

func (s *PostgresStore) ClearDocUpdates(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM doc_updates WHERE session_id = $1`, sessionID)
	return err
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	close(s.done)
	s.pool.Close()
	return nil
}
