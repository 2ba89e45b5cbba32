package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fenggwsx/roomlink/internal/auth"
	"github.com/fenggwsx/roomlink/internal/config"
	"github.com/fenggwsx/roomlink/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func TestMigrate_Seeds_General_Once(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newTestStore(t)

	// When
	req.NoError(store.Migrate(ctx))
	rooms, err := store.ListRooms(ctx)

	// Then
	req.NoError(err)
	req.Len(rooms, 1)
	req.Equal(storage.DefaultRoomName, rooms[0].Name)
}

func TestUsers_Create_And_Lookup(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newTestStore(t)

	// Given
	user := &storage.User{Username: "alice", Password: "hash"}
	req.NoError(store.CreateUser(ctx, user))
	req.NotZero(user.ID)

	// When
	found, err := store.GetUserByUsername(ctx, "alice")

	// Then
	req.NoError(err)
	req.Equal(user.ID, found.ID)
	req.Equal("hash", found.Password)

	_, err = store.GetUserByUsername(ctx, "bob")
	req.ErrorIs(err, storage.ErrNotFound)

	err = store.CreateUser(ctx, &storage.User{Username: "alice", Password: "other"})
	req.ErrorIs(err, storage.ErrConflict)
}

func TestRooms_Create_And_Get(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newTestStore(t)

	room := &storage.Room{Name: "ops", Description: "on call", CreatedBy: 7}
	req.NoError(store.CreateRoom(ctx, room))

	found, err := store.GetRoom(ctx, room.ID)
	req.NoError(err)
	req.Equal("ops", found.Name)
	req.Equal(uint(7), found.CreatedBy)

	_, err = store.GetRoom(ctx, 999)
	req.ErrorIs(err, storage.ErrNotFound)
}

func TestListMessagesByRoom_Returns_Newest_Oldest_First(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newTestStore(t)

	// Given
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, content := range []string{"one", "two", "three", "four"} {
		req.NoError(store.SaveMessage(ctx, &storage.Message{
			RoomID:    1,
			UserID:    1,
			Username:  "alice",
			Content:   content,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	req.NoError(store.SaveMessage(ctx, &storage.Message{RoomID: 2, UserID: 1, Username: "alice", Content: "elsewhere"}))

	// When
	messages, err := store.ListMessagesByRoom(ctx, 1, 3)

	// Then
	req.NoError(err)
	req.Len(messages, 3)
	req.Equal("two", messages[0].Content)
	req.Equal("four", messages[2].Content)
}

func TestMigrate_Seeds_Admin_Owning_General(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store, err := NewStore(config.DatabaseConfig{
		Path:          filepath.Join(t.TempDir(), "admin.db"),
		AdminUsername: "admin",
		AdminPassword: "admin123",
	})
	req.NoError(err)
	t.Cleanup(func() { _ = store.Close() })

	// When migrating twice
	req.NoError(store.Migrate(ctx))
	req.NoError(store.Migrate(ctx))

	// Then one admin exists with a usable password and owns General
	admin, err := store.GetUserByUsername(ctx, "admin")
	req.NoError(err)
	req.True(admin.IsAdmin)
	req.NoError(auth.ComparePassword(admin.Password, "admin123"))
	rooms, err := store.ListRooms(ctx)
	req.NoError(err)
	req.Len(rooms, 1)
	req.Equal(admin.ID, rooms[0].CreatedBy)
}

func TestRooms_Delete_Removes_Messages_And_Never_Reuses_Id(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newTestStore(t)

	// Given a room with a message
	room := &storage.Room{Name: "ops", CreatedBy: 1}
	req.NoError(store.CreateRoom(ctx, room))
	req.NoError(store.SaveMessage(ctx, &storage.Message{RoomID: room.ID, UserID: 1, Username: "alice", Content: "hi"}))

	// When
	req.NoError(store.DeleteRoom(ctx, room.ID))

	// Then
	_, err := store.GetRoom(ctx, room.ID)
	req.ErrorIs(err, storage.ErrNotFound)
	messages, err := store.ListMessagesByRoom(ctx, room.ID, 10)
	req.NoError(err)
	req.Empty(messages)
	req.ErrorIs(store.DeleteRoom(ctx, room.ID), storage.ErrNotFound)

	next := &storage.Room{Name: "ops", CreatedBy: 1}
	req.NoError(store.CreateRoom(ctx, next))
	req.Greater(next.ID, room.ID)
}
