package server

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"

	"github.com/fenggwsx/roomlink/internal/presence"
	"github.com/fenggwsx/roomlink/internal/protocol"
	"github.com/fenggwsx/roomlink/internal/storage"
)

var errContentTooLong = errors.New("content too long")

func (a *App) handleCommand(ctx context.Context, session *clientSession, env protocol.Envelope) {
	switch metadataAction(env.Metadata) {
	case protocol.ActionJoin:
		a.handleJoin(ctx, session, env)
	case protocol.ActionLeave:
		a.handleLeave(ctx, session, env)
	case protocol.ActionTyping:
		a.handleTyping(ctx, session, env)
	case protocol.ActionOnline:
		a.handleOnline(ctx, session, env)
	case protocol.ActionHistory:
		a.handleHistory(ctx, session, env)
	case protocol.ActionRoomsList:
		a.handleRoomsList(ctx, session, env)
	case protocol.ActionRoomCreate:
		a.handleRoomCreate(ctx, session, env)
	case protocol.ActionRoomGet:
		a.handleRoomGet(ctx, session, env)
	case protocol.ActionRoomDelete:
		a.handleRoomDelete(ctx, session, env)
	default:
		a.sendAck(ctx, session, env.ID, ackStatusError, "unsupported command")
	}
}

func (a *App) handleEvent(ctx context.Context, session *clientSession, env protocol.Envelope) {
	switch metadataAction(env.Metadata) {
	case protocol.ActionChatSend:
		a.handleChatSend(ctx, session, env)
	case protocol.ActionFileShare:
		a.handleFileShare(ctx, session, env)
	default:
		a.sendAck(ctx, session, env.ID, ackStatusError, "unsupported event")
	}
}

func (a *App) handleJoin(ctx context.Context, session *clientSession, env protocol.Envelope) {
	if _, err := a.identify(ctx, session, env); err != nil {
		a.ackError(ctx, session, env.ID, err)
		return
	}
	req, err := decodeRequest[protocol.RoomRequest](a.validate, env.Payload)
	if err != nil {
		a.ackError(ctx, session, env.ID, err)
		return
	}
	if _, err := a.ctrl.JoinRoom(ctx, session.id, presence.RoomID(req.RoomID)); err != nil {
		a.ackError(ctx, session, env.ID, err)
		return
	}
	a.sendAck(ctx, session, env.ID, ackStatusOK, "")
	if err := a.sendHistory(ctx, session, req.RoomID); err != nil {
		a.log.Error("history on join failed", "conn", session.id, "room", req.RoomID, "error", err)
	}
}

func (a *App) handleLeave(ctx context.Context, session *clientSession, env protocol.Envelope) {
	if _, err := a.identify(ctx, session, env); err != nil {
		a.ackError(ctx, session, env.ID, err)
		return
	}
	req, err := decodeRequest[protocol.RoomRequest](a.validate, env.Payload)
	if err != nil {
		a.ackError(ctx, session, env.ID, err)
		return
	}
	if err := a.ctrl.LeaveRoom(ctx, session.id, presence.RoomID(req.RoomID)); err != nil {
		a.ackError(ctx, session, env.ID, err)
		return
	}
	a.sendAck(ctx, session, env.ID, ackStatusOK, "")
}

func (a *App) handleTyping(ctx context.Context, session *clientSession, env protocol.Envelope) {
	if _, err := a.identify(ctx, session, env); err != nil {
		a.ackError(ctx, session, env.ID, err)
		return
	}
	req, err := decodeRequest[protocol.TypingRequest](a.validate, env.Payload)
	if err != nil {
		a.ackError(ctx, session, env.ID, err)
		return
	}
	if err := a.ctrl.SetTyping(ctx, session.id, presence.RoomID(req.RoomID), req.IsTyping); err != nil {
		a.ackError(ctx, session, env.ID, err)
		return
	}
	a.sendAck(ctx, session, env.ID, ackStatusOK, "")
}

func (a *App) handleOnline(ctx context.Context, session *clientSession, env protocol.Envelope) {
	if _, err := a.identify(ctx, session, env); err != nil {
		a.ackError(ctx, session, env.ID, err)
		return
	}
	req, err := decodeRequest[protocol.RoomRequest](a.validate, env.Payload)
	if err != nil {
		a.ackError(ctx, session, env.ID, err)
		return
	}
	room := presence.RoomID(req.RoomID)
	if err := a.requireRoom(ctx, room); err != nil {
		a.ackError(ctx, session, env.ID, err)
		return
	}
	a.sendAck(ctx, session, env.ID, ackStatusOK, "")
	a.sendEvent(ctx, session, string(presence.EventOnlineUsers), req.RoomID, presence.OnlineUsersPayload{
		RoomID: room,
		Users:  a.ctrl.OnlineUsers(room),
	})
}

func (a *App) handleHistory(ctx context.Context, session *clientSession, env protocol.Envelope) {
	if _, err := a.identify(ctx, session, env); err != nil {
		a.ackError(ctx, session, env.ID, err)
		return
	}
	req, err := decodeRequest[protocol.RoomRequest](a.validate, env.Payload)
	if err != nil {
		a.ackError(ctx, session, env.ID, err)
		return
	}
	if err := a.requireRoom(ctx, presence.RoomID(req.RoomID)); err != nil {
		a.ackError(ctx, session, env.ID, err)
		return
	}
	a.sendAck(ctx, session, env.ID, ackStatusOK, "")
	if err := a.sendHistory(ctx, session, req.RoomID); err != nil {
		a.log.Error("history request failed", "conn", session.id, "room", req.RoomID, "error", err)
	}
}

func (a *App) requireRoom(ctx context.Context, room presence.RoomID) error {
	ok, err := a.rooms.Exists(ctx, room)
	switch {
	case err != nil:
		return err
	case !ok:
		return presence.ErrRoomNotFound
	}
	return nil
}

func (a *App) sendHistory(ctx context.Context, session *clientSession, roomID uint) error {
	messages, err := a.store.ListMessagesByRoom(ctx, roomID, a.cfg.HistoryLimit)
	if err != nil {
		return err
	}
	a.sendEvent(ctx, session, protocol.ActionChatHistory, roomID, protocol.ChatHistory{
		RoomID: roomID,
		Messages: lo.Map(messages, func(item storage.Message, _ int) protocol.ChatMessage {
			return toProtocolChatMessage(item)
		}),
	})
	return nil
}

func (a *App) handleRoomsList(ctx context.Context, session *clientSession, env protocol.Envelope) {
	if _, err := a.identify(ctx, session, env); err != nil {
		a.ackError(ctx, session, env.ID, err)
		return
	}
	rooms, err := a.store.ListRooms(ctx)
	if err != nil {
		a.log.Error("list rooms failed", "error", err)
		a.ackError(ctx, session, env.ID, err)
		return
	}
	a.sendAck(ctx, session, env.ID, ackStatusOK, "")
	a.sendEvent(ctx, session, protocol.ActionRooms, 0, protocol.RoomList{Rooms: lo.Map(rooms, func(item storage.Room, _ int) protocol.RoomInfo {
		return toProtocolRoom(item)
	})})
}

func (a *App) handleRoomCreate(ctx context.Context, session *clientSession, env protocol.Envelope) {
	s, err := a.identify(ctx, session, env)
	if err != nil {
		a.ackError(ctx, session, env.ID, err)
		return
	}
	req, err := decodeRequest[protocol.RoomCreateRequest](a.validate, env.Payload)
	if err != nil {
		a.ackError(ctx, session, env.ID, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		a.ackError(ctx, session, env.ID, errInvalidPayload)
		return
	}
	room := storage.Room{
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		CreatedBy:   s.Identity.UserID,
		IsPrivate:   req.IsPrivate,
	}
	if err := a.store.CreateRoom(ctx, &room); err != nil {
		a.log.Error("create room failed", "name", name, "error", err)
		a.ackError(ctx, session, env.ID, err)
		return
	}
	a.log.Info("room created", "room", room.ID, "name", room.Name, "user_id", s.Identity.UserID)
	a.sendAck(ctx, session, env.ID, ackStatusOK, "")
	a.sendEvent(ctx, session, protocol.ActionRooms, 0, protocol.RoomList{Rooms: []protocol.RoomInfo{toProtocolRoom(room)}})
}

func (a *App) handleRoomGet(ctx context.Context, session *clientSession, env protocol.Envelope) {
	if _, err := a.identify(ctx, session, env); err != nil {
		a.ackError(ctx, session, env.ID, err)
		return
	}
	req, err := decodeRequest[protocol.RoomRequest](a.validate, env.Payload)
	if err != nil {
		a.ackError(ctx, session, env.ID, err)
		return
	}
	room, err := a.ctrl.RoomInfo(ctx, session.id, presence.RoomID(req.RoomID))
	if err != nil {
		a.ackError(ctx, session, env.ID, err)
		return
	}
	a.sendAck(ctx, session, env.ID, ackStatusOK, "")
	a.sendEvent(ctx, session, protocol.ActionRoomInfo, req.RoomID, protocol.RoomDetail{
		RoomInfo: fromPresenceRoom(room),
		Online:   len(a.ctrl.OnlineUsers(room.ID)),
	})
}

// handleRoomDelete closes the room in the presence core first so no one can
// join it while it is removed from storage.
func (a *App) handleRoomDelete(ctx context.Context, session *clientSession, env protocol.Envelope) {
	s, err := a.identify(ctx, session, env)
	if err != nil {
		a.ackError(ctx, session, env.ID, err)
		return
	}
	req, err := decodeRequest[protocol.RoomRequest](a.validate, env.Payload)
	if err != nil {
		a.ackError(ctx, session, env.ID, err)
		return
	}
	roomID := presence.RoomID(req.RoomID)
	room, evicted, err := a.ctrl.CloseRoom(ctx, session.id, roomID)
	if err != nil {
		a.ackError(ctx, session, env.ID, err)
		return
	}
	if err := a.store.DeleteRoom(ctx, req.RoomID); err != nil {
		a.ctrl.ReopenRoom(roomID)
		if errors.Is(err, storage.ErrNotFound) {
			err = presence.ErrRoomNotFound
		}
		a.log.Error("delete room failed", "room", req.RoomID, "error", err)
		a.ackError(ctx, session, env.ID, err)
		return
	}
	a.log.Info("room deleted", "room", req.RoomID, "name", room.Name, "user_id", s.Identity.UserID, "evicted", len(evicted))
	a.sendAck(ctx, session, env.ID, ackStatusOK, "")
}

func (a *App) handleChatSend(ctx context.Context, session *clientSession, env protocol.Envelope) {
	if _, err := a.identify(ctx, session, env); err != nil {
		a.ackError(ctx, session, env.ID, err)
		return
	}
	req, err := decodeRequest[protocol.ChatSendRequest](a.validate, env.Payload)
	if err != nil {
		a.ackError(ctx, session, env.ID, err)
		return
	}
	if a.cfg.MaxContentLength > 0 && utf8.RuneCountInString(req.Content) > a.cfg.MaxContentLength {
		a.sendAck(ctx, session, env.ID, ackStatusError, errContentTooLong.Error())
		return
	}
	msg, err := a.ctrl.PostMessage(ctx, session.id, presence.RoomID(req.RoomID), req.Content)
	if err != nil {
		a.ackError(ctx, session, env.ID, err)
		return
	}
	a.log.Debug("chat message stored", "id", msg.ID, "room", msg.RoomID, "user_id", msg.UserID, "len", len(msg.Content))
	a.sendAck(ctx, session, env.ID, ackStatusOK, "")
}

func (a *App) handleFileShare(ctx context.Context, session *clientSession, env protocol.Envelope) {
	if _, err := a.identify(ctx, session, env); err != nil {
		a.ackError(ctx, session, env.ID, err)
		return
	}
	req, err := decodeRequest[protocol.FileShareRequest](a.validate, env.Payload)
	if err != nil {
		a.ackError(ctx, session, env.ID, err)
		return
	}
	msg, err := a.ctrl.ShareFile(ctx, session.id, presence.RoomID(req.RoomID), req.Filename, req.FileURL)
	if err != nil {
		a.ackError(ctx, session, env.ID, err)
		return
	}
	a.log.Debug("file message stored", "id", msg.ID, "room", msg.RoomID, "url", msg.FileURL)
	a.sendAck(ctx, session, env.ID, ackStatusOK, "")
}
