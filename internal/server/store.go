package server

import (
	"context"
	"errors"

	"github.com/fenggwsx/roomlink/internal/presence"
	"github.com/fenggwsx/roomlink/internal/protocol"
	"github.com/fenggwsx/roomlink/internal/storage"
)

// roomDirectory adapts storage.Store to presence.RoomLookup.
type roomDirectory struct {
	store storage.Store
}

func (d roomDirectory) Exists(ctx context.Context, id presence.RoomID) (bool, error) {
	_, err := d.store.GetRoom(ctx, uint(id))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (d roomDirectory) Get(ctx context.Context, id presence.RoomID) (presence.Room, error) {
	room, err := d.store.GetRoom(ctx, uint(id))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return presence.Room{}, presence.ErrRoomNotFound
		}
		return presence.Room{}, err
	}
	return presence.Room{
		ID:          presence.RoomID(room.ID),
		Name:        room.Name,
		Description: room.Description,
		CreatedBy:   room.CreatedBy,
		IsPrivate:   room.IsPrivate,
		CreatedAt:   room.CreatedAt,
	}, nil
}

// messageLog adapts storage.Store to presence.MessageStore.
type messageLog struct {
	store storage.Store
}

func (l messageLog) Persist(ctx context.Context, draft presence.MessageDraft) (presence.Message, error) {
	msg := storage.Message{
		RoomID:   uint(draft.RoomID),
		UserID:   draft.UserID,
		Username: draft.Username,
		Content:  draft.Content,
		IsFile:   draft.IsFile,
		FileURL:  draft.FileURL,
	}
	if err := l.store.SaveMessage(ctx, &msg); err != nil {
		return presence.Message{}, err
	}
	return presence.Message{
		ID:        msg.ID,
		RoomID:    draft.RoomID,
		UserID:    msg.UserID,
		Username:  msg.Username,
		Content:   msg.Content,
		Timestamp: msg.CreatedAt,
		IsFile:    msg.IsFile,
		FileURL:   msg.FileURL,
	}, nil
}

func toProtocolChatMessage(msg storage.Message) protocol.ChatMessage {
	return protocol.ChatMessage{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		UserID:    msg.UserID,
		Username:  msg.Username,
		Content:   msg.Content,
		Timestamp: msg.CreatedAt,
		IsFile:    msg.IsFile,
		FileURL:   msg.FileURL,
	}
}

func toProtocolRoom(room storage.Room) protocol.RoomInfo {
	return protocol.RoomInfo{
		ID:          room.ID,
		Name:        room.Name,
		Description: room.Description,
		CreatedBy:   room.CreatedBy,
		IsPrivate:   room.IsPrivate,
		CreatedAt:   room.CreatedAt,
	}
}

func fromPresenceRoom(room presence.Room) protocol.RoomInfo {
	return protocol.RoomInfo{
		ID:          uint(room.ID),
		Name:        room.Name,
		Description: room.Description,
		CreatedBy:   room.CreatedBy,
		IsPrivate:   room.IsPrivate,
		CreatedAt:   room.CreatedAt,
	}
}
