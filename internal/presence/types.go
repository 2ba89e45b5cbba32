// Package presence tracks which authenticated connections are joined to which
// rooms and fans room events out to the live members of each room.
//
// The Controller is the only type that mutates the Registry and the Index; the
// transport shell feeds it inbound connection events and supplies a Transport
// for outbound delivery.
package presence

//go:generate mockgen -destination=mocks/collaborators.go -package=mocks . TokenVerifier,RoomLookup,MessageStore,Transport

import (
	"context"
	"time"
)

// ConnectionID identifies a single transport-level connection.
type ConnectionID string

// RoomID is the persisted primary key of a room.
type RoomID uint

// Identity is the result of a successful token verification.
type Identity struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

// Room mirrors the persisted room metadata the core needs.
type Room struct {
	ID          RoomID    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedBy   uint      `json:"created_by"`
	IsPrivate   bool      `json:"is_private"`
	CreatedAt   time.Time `json:"created_at"`
}

// MessageDraft carries the fields handed to the MessageStore before an id and
// timestamp are assigned.
type MessageDraft struct {
	RoomID   RoomID
	UserID   uint
	Username string
	Content  string
	IsFile   bool
	FileURL  string
}

// Message is an immutable persisted chat message.
type Message struct {
	ID        uint      `json:"id"`
	RoomID    RoomID    `json:"room_id"`
	UserID    uint      `json:"user_id"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	IsFile    bool      `json:"is_file"`
	FileURL   string    `json:"file_url,omitempty"`
}

// TokenVerifier resolves a bearer token to an identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// RoomLookup answers room existence queries against the persistence layer.
type RoomLookup interface {
	Exists(ctx context.Context, id RoomID) (bool, error)
	Get(ctx context.Context, id RoomID) (Room, error)
}

// MessageStore persists chat messages and assigns their id and timestamp.
type MessageStore interface {
	Persist(ctx context.Context, draft MessageDraft) (Message, error)
}

// Transport delivers an event to one connection. Implementations must not
// block: the event is either queued for the connection or an error is returned.
type Transport interface {
	Send(ctx context.Context, conn ConnectionID, evt Event) error
}
