package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"

	"codecollab/internal/models"
	"codecollab/internal/store"
	"codecollab/pkg/logger"
)

const maxSessionNameLength = 100

// EmptySessionPolicy decides what happens when the last active user
// leaves a session.
type EmptySessionPolicy string

const (
	// EmptySessionRetain keeps the session until its store TTL expires,
	// allowing late rejoins.
	EmptySessionRetain EmptySessionPolicy = "retain"
	// EmptySessionPurge deletes the session as soon as it empties.
	EmptySessionPurge EmptySessionPolicy = "purge"
)

// SessionService is the session registry: it exclusively owns Session and
// User mutation, and appends chat history and document updates on behalf
// of the relays. Callers are expected to serialize calls per process (the
// hub's event loop does); cross-process writes are last-write-wins at the
// store layer.
type SessionService struct {
	store       store.SessionStore
	chatLimit   int
	docLogLimit int
	emptyPolicy EmptySessionPolicy
}

func NewSessionService(st store.SessionStore, chatLimit, docLogLimit int, emptyPolicy EmptySessionPolicy) *SessionService {
	if emptyPolicy != EmptySessionPurge {
		emptyPolicy = EmptySessionRetain
	}
	return &SessionService{
		store:       st,
		chatLimit:   chatLimit,
		docLogLimit: docLogLimit,
		emptyPolicy: emptyPolicy,
	}
}

type CreateSessionParams struct {
	Name      string
	Code      string
	Language  string
	IsPublic  bool
	MaxUsers  int
	OwnerID   string
	OwnerName string
}

func (s *SessionService) CreateSession(ctx context.Context, params CreateSessionParams) (*models.Session, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" || len(name) > maxSessionNameLength {
		return nil, ErrInvalidSessionName
	}

	language := params.Language
	if language == "" {
		language = "javascript"
	}

	now := time.Now()
	session := &models.Session{
		ID:        uuid.NewString(),
		Name:      name,
		OwnerID:   params.OwnerID,
		Language:  language,
		Code:      params.Code,
		IsPublic:  params.IsPublic,
		MaxUsers:  params.MaxUsers,
		CreatedAt: now,
		UpdatedAt: now,
		Users:     []*models.User{models.NewUser(params.OwnerID, params.OwnerName, models.PermissionAdmin)},
	}

	if err := s.store.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	logger.Info("Session %s created by %s (%q)", session.ID, params.OwnerID, name)
	return session, nil
}

// JoinSession admits a user to a session and returns the full chat
// history so a reconnecting client can replay it. Rejoining reactivates
// the existing user record; a record is never duplicated.
func (s *SessionService) JoinSession(ctx context.Context, sessionID, userID, userName string, permission models.Permission) (*models.Session, *models.User, []*models.ChatMessage, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, nil, nil, err
	}

	user := session.FindUser(userID)
	if user != nil {
		user.IsActive = true
		if userName != "" {
			user.Name = userName
		}
	} else {
		if session.IsFull() {
			return nil, nil, nil, ErrSessionFull
		}
		if !permission.Valid() {
			permission = models.PermissionEdit
		}
		user = models.NewUser(userID, userName, permission)
		session.Users = append(session.Users, user)
	}

	session.UpdatedAt = time.Now()
	if err := s.store.SaveSession(ctx, session); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to save session: %w", err)
	}

	history, err := s.store.GetChatHistory(ctx, sessionID)
	if err != nil {
		// History is a convenience for replay; joining still succeeds.
		logger.Error("Error loading chat history for %s: %v", sessionID, err)
		history = nil
	}
	if history == nil {
		history = []*models.ChatMessage{}
	}

	return session, user, history, nil
}

// LeaveSession marks the user inactive. The record stays so permission
// and identity survive a quick rejoin.
func (s *SessionService) LeaveSession(ctx context.Context, sessionID, userID string) (*models.Session, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	user := session.FindUser(userID)
	if user == nil || !user.IsActive {
		return session, nil
	}
	user.IsActive = false
	session.UpdatedAt = time.Now()

	if s.emptyPolicy == EmptySessionPurge && session.ActiveUserCount() == 0 {
		if err := s.store.DeleteSession(ctx, sessionID); err != nil {
			logger.Error("Error purging empty session %s: %v", sessionID, err)
		}
		return session, nil
	}

	if err := s.store.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return session, nil
}

// EndSession is owner-initiated deletion of the whole room.
func (s *SessionService) EndSession(ctx context.Context, sessionID, actorID string) (*models.Session, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.OwnerID != actorID {
		return nil, ErrPermissionDenied
	}
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("failed to delete session: %w", err)
	}
	logger.Info("Session %s ended by owner %s", sessionID, actorID)
	return session, nil
}

func (s *SessionService) UpdateCode(ctx context.Context, sessionID, userID, code string) (*models.Session, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	user := session.FindUser(userID)
	if user == nil || !user.Permission.CanEdit() {
		return nil, ErrPermissionDenied
	}

	session.Code = code
	session.UpdatedAt = time.Now()
	if err := s.store.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return session, nil
}

func (s *SessionService) UpdateLanguage(ctx context.Context, sessionID, userID, language string) (*models.Session, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	user := session.FindUser(userID)
	if user == nil || !user.Permission.CanAdmin() {
		return nil, ErrPermissionDenied
	}

	session.Language = language
	session.UpdatedAt = time.Now()
	if err := s.store.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return session, nil
}

func (s *SessionService) ChangePermission(ctx context.Context, sessionID, actorID, targetID string, permission models.Permission) (*models.Session, error) {
	if !permission.Valid() {
		return nil, ErrInvalidPermission
	}

	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	actor := session.FindUser(actorID)
	if actor == nil || !actor.Permission.CanAdmin() {
		return nil, ErrPermissionDenied
	}

	target := session.FindUser(targetID)
	if target == nil {
		return nil, ErrUserNotFound
	}

	target.Permission = permission
	session.UpdatedAt = time.Now()
	if err := s.store.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return session, nil
}

// PostChatMessage builds and persists a chat message, evicting the oldest
// history beyond the cap. Voice messages with an empty payload drop the
// audioUrl field entirely.
func (s *SessionService) PostChatMessage(ctx context.Context, sessionID, userID, text string, msgType models.MessageType, audioURL string, audioDuration float64) (*models.ChatMessage, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	user := session.FindUser(userID)
	if user == nil {
		return nil, ErrPermissionDenied
	}

	if msgType != models.MessageTypeVoice {
		msgType = models.MessageTypeText
		audioURL = ""
		audioDuration = 0
	}

	msg := &models.ChatMessage{
		ID:        ksuid.New().String(),
		UserID:    user.ID,
		UserName:  user.Name,
		Message:   text,
		Type:      msgType,
		Timestamp: time.Now(),
	}
	if msgType == models.MessageTypeVoice && audioURL != "" {
		msg.AudioURL = audioURL
		msg.AudioDuration = audioDuration
	}

	if err := s.store.AppendChatMessage(ctx, sessionID, msg, s.chatLimit); err != nil {
		return nil, fmt.Errorf("failed to append chat message: %w", err)
	}
	return msg, nil
}

func (s *SessionService) ChatHistory(ctx context.Context, sessionID string) ([]*models.ChatMessage, error) {
	return s.store.GetChatHistory(ctx, sessionID)
}

// AppendDocUpdate stores an opaque CRDT update in the session's capped
// update log. Callers treat failures as soft: the live relay proceeds,
// only cold-start sync quality degrades.
func (s *SessionService) AppendDocUpdate(ctx context.Context, sessionID string, update []byte) error {
	return s.store.AppendDocUpdate(ctx, sessionID, update, s.docLogLimit)
}

func (s *SessionService) DocUpdates(ctx context.Context, sessionID string) ([][]byte, error) {
	return s.store.GetDocUpdates(ctx, sessionID)
}

func (s *SessionService) ListPublicSessions(ctx context.Context) ([]*models.Session, error) {
	return s.store.ListPublicSessions(ctx)
}

func (s *SessionService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *SessionService) getSession(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	return session, nil
}
