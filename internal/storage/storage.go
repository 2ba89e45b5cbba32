package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// DefaultRoomName is the room seeded by Migrate.
const DefaultRoomName = "General"

// User represents a persisted account record.
type User struct {
	ID        uint
	Username  string
	Password  string
	IsAdmin   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Room represents a persisted chat room.
type Room struct {
	ID          uint
	Name        string
	Description string
	CreatedBy   uint
	IsPrivate   bool
	CreatedAt   time.Time
}

// Message represents a persisted chat message.
type Message struct {
	ID        uint
	RoomID    uint
	UserID    uint
	Username  string
	Content   string
	IsFile    bool
	FileURL   string
	CreatedAt time.Time
}

// Store defines persistence operations used by the server.
type Store interface {
	Close() error
	Migrate(ctx context.Context) error

	CreateUser(ctx context.Context, user *User) error
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	CreateRoom(ctx context.Context, room *Room) error
	GetRoom(ctx context.Context, id uint) (*Room, error)
	ListRooms(ctx context.Context) ([]Room, error)
	DeleteRoom(ctx context.Context, id uint) error

	SaveMessage(ctx context.Context, msg *Message) error
	ListMessagesByRoom(ctx context.Context, roomID uint, limit int) ([]Message, error)
}
