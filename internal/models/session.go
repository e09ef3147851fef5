package models

import (
	"hash/fnv"
	"time"
)

type Permission string

const (
	PermissionView  Permission = "view"
	PermissionEdit  Permission = "edit"
	PermissionAdmin Permission = "admin"
)

func (p Permission) Valid() bool {
	switch p {
	case PermissionView, PermissionEdit, PermissionAdmin:
		return true
	}
	return false
}

func (p Permission) CanEdit() bool {
	return p == PermissionEdit || p == PermissionAdmin
}

func (p Permission) CanAdmin() bool {
	return p == PermissionAdmin
}

// Session is a collaboration room. Code holds the last known plain-text
// snapshot, used only to seed a cold-started document.
type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	Language  string    `json:"language"`
	Code      string    `json:"code"`
	IsPublic  bool      `json:"isPublic"`
	MaxUsers  int       `json:"maxUsers,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Users     []*User   `json:"users"`
}

// FindUser returns the user record for id, or nil. There is at most one
// record per (session, user) pair; rejoining reactivates it.
func (s *Session) FindUser(userID string) *User {
	for _, u := range s.Users {
		if u.ID == userID {
			return u
		}
	}
	return nil
}

func (s *Session) ActiveUserCount() int {
	n := 0
	for _, u := range s.Users {
		if u.IsActive {
			n++
		}
	}
	return n
}

// IsFull reports whether the user list has reached MaxUsers. Inactive
// records count: their permission and history are retained for rejoin.
func (s *Session) IsFull() bool {
	return s.MaxUsers > 0 && len(s.Users) >= s.MaxUsers
}

// Clone returns a deep copy of the session and its user records. Store
// backends that would otherwise share memory with their callers hand out
// clones, so registry mutations never leak outside the event loop.
func (s *Session) Clone() *Session {
	dup := *s
	dup.Users = make([]*User, len(s.Users))
	for i, u := range s.Users {
		uc := *u
		dup.Users[i] = &uc
	}
	return &dup
}

type User struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Email      string     `json:"email,omitempty"`
	Avatar     string     `json:"avatar,omitempty"`
	Color      string     `json:"color"`
	Permission Permission `json:"permission"`
	JoinedAt   time.Time  `json:"joinedAt"`
	IsActive   bool       `json:"isActive"`
}

func NewUser(id, name string, permission Permission) *User {
	return &User{
		ID:         id,
		Name:       name,
		Color:      UserColor(id),
		Permission: permission,
		JoinedAt:   time.Now(),
		IsActive:   true,
	}
}

var userColors = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4", "#FFEAA7", "#DDA0DD",
	"#FF8C42", "#6C5CE7", "#00B894", "#FD79A8", "#74B9FF", "#A29BFE",
}

// UserColor maps a user id to a palette entry. The assignment is
// deterministic so every client renders the same cursor color.
func UserColor(userID string) string {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return userColors[h.Sum32()%uint32(len(userColors))]
}

// CursorPosition is session-level presence, distinct from the finer
// in-document awareness relayed by the sync bridge. Never persisted.
type CursorPosition struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	Line      int    `json:"line"`
	Column    int    `json:"column"`
}

type Selection struct {
	StartLine   int `json:"startLine"`
	StartColumn int `json:"startColumn"`
	EndLine     int `json:"endLine"`
	EndColumn   int `json:"endColumn"`
}

// SelectionUpdate carries a user's selection; a nil Selection clears it.
type SelectionUpdate struct {
	SessionID string     `json:"sessionId"`
	UserID    string     `json:"userId"`
	Selection *Selection `json:"selection"`
}
