package presence

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
)

// Controller drives each connection through
// Anonymous -> Authenticated -> joined rooms -> Disconnected and keeps the
// Registry and the Index consistent with each other.
//
// Lock order is room lock, then session lock. Collaborator calls (token
// verification, room lookup, persistence) are made without holding either.
type Controller struct {
	registry   *Registry
	index      *Index
	dispatcher *Dispatcher
	verifier   TokenVerifier
	rooms      RoomLookup
	messages   MessageStore
	log        *slog.Logger

	mu        sync.Mutex
	anonymous map[ConnectionID]struct{}
}

// NewController wires a controller with fresh registry, index and dispatcher.
func NewController(log *slog.Logger, transport Transport, verifier TokenVerifier, rooms RoomLookup, messages MessageStore) *Controller {
	index := NewIndex()
	return &Controller{
		registry:   NewRegistry(),
		index:      index,
		dispatcher: NewDispatcher(index, transport, log),
		verifier:   verifier,
		rooms:      rooms,
		messages:   messages,
		log:        log,
		anonymous:  make(map[ConnectionID]struct{}),
	}
}

// MembersOf returns the connections joined to room, in join order, as of the
// call.
func (c *Controller) MembersOf(room RoomID) iter.Seq[ConnectionID] {
	return c.index.MembersOf(room)
}

// Connections reports how many authenticated sessions are live.
func (c *Controller) Connections() int {
	return c.registry.Len()
}

// DispatchStats reports delivery outcomes so far.
func (c *Controller) DispatchStats() DispatchStats {
	return c.dispatcher.Stats()
}

// Connect records a new anonymous connection and greets it.
func (c *Controller) Connect(ctx context.Context, conn ConnectionID) error {
	c.mu.Lock()
	_, anon := c.anonymous[conn]
	_, authed := c.registry.get(conn)
	if anon || authed {
		c.mu.Unlock()
		return c.reject(ctx, conn, ErrDuplicateConnection)
	}
	c.anonymous[conn] = struct{}{}
	c.mu.Unlock()

	c.log.Debug("connection opened", "conn", conn)
	_ = c.dispatcher.Send(ctx, conn, Event{
		Name:    EventConnected,
		Payload: ConnectedPayload{ConnectionID: conn, Message: "Connected to chat service"},
	})
	return nil
}

// Authenticate verifies token and binds the resulting identity to conn. On
// failure the connection stays anonymous and receives an auth_error event.
func (c *Controller) Authenticate(ctx context.Context, conn ConnectionID, token string) (Identity, error) {
	c.mu.Lock()
	_, anon := c.anonymous[conn]
	_, authed := c.registry.get(conn)
	c.mu.Unlock()
	switch {
	case authed:
		return Identity{}, c.reject(ctx, conn, ErrDuplicateConnection)
	case !anon:
		return Identity{}, ErrNotFound
	}

	who, err := c.verifier.Verify(ctx, token)
	if err != nil {
		c.log.Info("token rejected", "conn", conn, "error", err)
		return Identity{}, c.reject(ctx, conn, fmt.Errorf("%w: %v", ErrAuthFailed, err))
	}

	// The connection may have been dropped while the token was being verified.
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.anonymous[conn]; !ok {
		return Identity{}, ErrNotFound
	}
	if _, err := c.registry.register(conn, who); err != nil {
		return Identity{}, c.reject(ctx, conn, err)
	}
	delete(c.anonymous, conn)

	c.log.Info("connection authenticated", "conn", conn, "user_id", who.UserID, "username", who.Username)
	return who, nil
}

// IsAuthenticated reports whether conn has a live session.
func (c *Controller) IsAuthenticated(conn ConnectionID) bool {
	_, ok := c.registry.get(conn)
	return ok
}

// Session returns a snapshot of the session bound to conn.
func (c *Controller) Session(conn ConnectionID) (Session, error) {
	return c.registry.Lookup(conn)
}

// Require is Session for request handling: a connection without a session is
// told so with an error event.
func (c *Controller) Require(ctx context.Context, conn ConnectionID) (Session, error) {
	s, err := c.sessionFor(conn)
	if err != nil {
		return Session{}, c.reject(ctx, conn, err)
	}
	return s.snapshot(), nil
}

// JoinRoom adds conn to room, announces it with user_joined and sends the
// caller the room's online_users snapshot. Joining a room twice only re-sends
// the snapshot.
func (c *Controller) JoinRoom(ctx context.Context, conn ConnectionID, room RoomID) ([]OnlineUser, error) {
	s, err := c.sessionFor(conn)
	if err != nil {
		return nil, c.reject(ctx, conn, err)
	}

	exists, err := c.rooms.Exists(ctx, room)
	if err != nil {
		return nil, c.reject(ctx, conn, fmt.Errorf("room lookup: %w", err))
	}
	if !exists {
		return nil, c.reject(ctx, conn, ErrRoomNotFound)
	}

	m := c.index.room(room)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, c.reject(ctx, conn, ErrRoomNotFound)
	}

	added, err := s.addRoom(room)
	if err != nil {
		return nil, c.reject(ctx, conn, err)
	}
	m.join(conn)

	if added {
		c.log.Debug("room joined", "conn", conn, "room", room, "username", s.who.Username)
		c.dispatcher.broadcastLocked(ctx, m, room, userJoinedEvent(room, s.who), "")
	}
	users := c.onlineLocked(m)
	_ = c.dispatcher.Send(ctx, conn, Event{
		Name:    EventOnlineUsers,
		Room:    room,
		Payload: OnlineUsersPayload{RoomID: room, Users: users},
	})
	return users, nil
}

// LeaveRoom removes conn from room and announces user_left. Leaving a room
// the connection is not in, or leaving after disconnect, does nothing.
func (c *Controller) LeaveRoom(ctx context.Context, conn ConnectionID, room RoomID) error {
	s, ok := c.registry.get(conn)
	if !ok {
		return nil
	}
	m, ok := c.index.lookup(room)
	if !ok {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s.isClosed() || !s.dropRoom(room) {
		return nil
	}
	m.leave(conn)

	c.log.Debug("room left", "conn", conn, "room", room, "username", s.who.Username)
	c.dispatcher.broadcastLocked(ctx, m, room, userLeftEvent(room, conn, s.who, ReasonLeft), "")
	return nil
}

// PostMessage persists content as a message from conn and broadcasts it as
// new_message to every member of room, the sender included.
func (c *Controller) PostMessage(ctx context.Context, conn ConnectionID, room RoomID, content string) (Message, error) {
	return c.post(ctx, conn, room, MessageDraft{RoomID: room, Content: content})
}

// ShareFile broadcasts a file message whose content is the file name.
func (c *Controller) ShareFile(ctx context.Context, conn ConnectionID, room RoomID, filename, fileURL string) (Message, error) {
	if strings.TrimSpace(fileURL) == "" {
		return Message{}, c.reject(ctx, conn, ErrEmptyContent)
	}
	return c.post(ctx, conn, room, MessageDraft{RoomID: room, Content: filename, IsFile: true, FileURL: fileURL})
}

func (c *Controller) post(ctx context.Context, conn ConnectionID, room RoomID, draft MessageDraft) (Message, error) {
	s, err := c.sessionFor(conn)
	if err != nil {
		return Message{}, c.reject(ctx, conn, err)
	}
	if !s.inRoom(room) {
		return Message{}, c.reject(ctx, conn, ErrNotAMember)
	}
	draft.Content = strings.TrimSpace(draft.Content)
	if draft.Content == "" {
		return Message{}, c.reject(ctx, conn, ErrEmptyContent)
	}
	draft.UserID = s.who.UserID
	draft.Username = s.who.Username

	msg, err := c.messages.Persist(ctx, draft)
	if err != nil {
		return Message{}, c.reject(ctx, conn, fmt.Errorf("persist message: %w", err))
	}

	m := c.index.room(room)
	m.mu.Lock()
	defer m.mu.Unlock()
	// Reconcile with any leave or disconnect that completed during persistence.
	if s.isClosed() {
		c.log.Info("message dropped after disconnect", "conn", conn, "room", room, "message_id", msg.ID)
		return Message{}, ErrNotFound
	}
	if !m.contains(conn) {
		return Message{}, c.reject(ctx, conn, ErrNotAMember)
	}

	n := c.dispatcher.broadcastLocked(ctx, m, room, Event{Name: EventNewMessage, Room: room, Payload: msg}, "")
	c.log.Debug("message broadcast", "conn", conn, "room", room, "message_id", msg.ID, "recipients", n)
	return msg, nil
}

// SetTyping broadcasts a typing indicator to every member of room except conn.
func (c *Controller) SetTyping(ctx context.Context, conn ConnectionID, room RoomID, isTyping bool) error {
	s, err := c.sessionFor(conn)
	if err != nil {
		return c.reject(ctx, conn, err)
	}
	m, ok := c.index.lookup(room)
	if !ok {
		return c.reject(ctx, conn, ErrNotAMember)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !s.inRoom(room) {
		return c.reject(ctx, conn, ErrNotAMember)
	}
	c.dispatcher.broadcastLocked(ctx, m, room, Event{
		Name: EventUserTyping,
		Room: room,
		Payload: UserTypingPayload{
			RoomID:   room,
			UserID:   s.who.UserID,
			Username: s.who.Username,
			IsTyping: isTyping,
		},
	}, conn)
	return nil
}

// RoomInfo returns the stored metadata of room.
func (c *Controller) RoomInfo(ctx context.Context, conn ConnectionID, room RoomID) (Room, error) {
	if _, err := c.sessionFor(conn); err != nil {
		return Room{}, c.reject(ctx, conn, err)
	}
	r, err := c.lookupRoom(ctx, room)
	if err != nil {
		return Room{}, c.reject(ctx, conn, err)
	}
	return r, nil
}

// CloseRoom shuts room down on behalf of conn, which must be the room's
// creator or an admin. Every member receives room_closed and is then dropped
// without a user_left. The room stays closed to joins until ReopenRoom; the
// caller deletes it from storage. It returns the room and the evicted
// connections.
func (c *Controller) CloseRoom(ctx context.Context, conn ConnectionID, room RoomID) (Room, []ConnectionID, error) {
	s, err := c.sessionFor(conn)
	if err != nil {
		return Room{}, nil, c.reject(ctx, conn, err)
	}
	r, err := c.lookupRoom(ctx, room)
	if err != nil {
		return Room{}, nil, c.reject(ctx, conn, err)
	}
	if r.CreatedBy != s.who.UserID && !s.who.IsAdmin {
		return Room{}, nil, c.reject(ctx, conn, ErrForbidden)
	}

	m := c.index.room(room)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Room{}, nil, c.reject(ctx, conn, ErrRoomNotFound)
	}
	m.closed = true

	c.dispatcher.broadcastLocked(ctx, m, room, roomClosedEvent(room, r.Name, s.who), "")
	evicted := m.list()
	for _, member := range evicted {
		m.leave(member)
		if ms, ok := c.registry.get(member); ok {
			ms.dropRoom(room)
		}
	}
	c.log.Info("room closed", "room", room, "name", r.Name, "by", s.who.Username, "admin", s.who.IsAdmin, "evicted", len(evicted))
	return r, evicted, nil
}

// ReopenRoom lifts a CloseRoom whose storage delete did not go through.
// Evicted members have to join again.
func (c *Controller) ReopenRoom(room RoomID) {
	m, ok := c.index.lookup(room)
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = false
	c.log.Warn("room reopened", "room", room)
}

func (c *Controller) lookupRoom(ctx context.Context, room RoomID) (Room, error) {
	r, err := c.rooms.Get(ctx, room)
	switch {
	case err == nil:
		return r, nil
	case errors.Is(err, ErrRoomNotFound):
		return Room{}, err
	default:
		return Room{}, fmt.Errorf("room lookup: %w", err)
	}
}

// Disconnect tears down conn: its session is removed and every room it had
// joined drops it and receives one user_left. It returns the rooms cleaned up
// and is a no-op for unknown or already disconnected connections.
func (c *Controller) Disconnect(ctx context.Context, conn ConnectionID) []RoomID {
	c.mu.Lock()
	delete(c.anonymous, conn)
	s, rooms, err := c.registry.remove(conn)
	c.mu.Unlock()
	if err != nil {
		c.log.Debug("connection closed without session", "conn", conn)
		return nil
	}

	for _, room := range rooms {
		c.evict(ctx, s, room)
	}
	c.log.Info("connection closed", "conn", conn, "username", s.who.Username, "rooms", len(rooms))
	return rooms
}

// evict removes a closed session from one room. A failed broadcast here must
// not stop the caller from evicting the remaining rooms.
func (c *Controller) evict(ctx context.Context, s *session, room RoomID) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("room cleanup panicked", "conn", s.conn, "room", room, "panic", r)
		}
	}()

	m, ok := c.index.lookup(room)
	if !ok {
		s.dropRoom(room)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := m.leave(s.conn)
	s.dropRoom(room)
	if removed {
		c.dispatcher.broadcastLocked(ctx, m, room, userLeftEvent(room, s.conn, s.who, ReasonDisconnected), "")
	}
}

// OnlineUsers lists the live members of room in join order.
func (c *Controller) OnlineUsers(room RoomID) []OnlineUser {
	m, ok := c.index.lookup(room)
	if !ok {
		return []OnlineUser{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return c.onlineLocked(m)
}

func (c *Controller) onlineLocked(m *roomMembers) []OnlineUser {
	users := make([]OnlineUser, 0, m.order.Len())
	for _, conn := range m.list() {
		s, ok := c.registry.get(conn)
		if !ok {
			continue
		}
		users = append(users, OnlineUser{ConnectionID: conn, UserID: s.who.UserID, Username: s.who.Username})
	}
	return users
}

func (c *Controller) sessionFor(conn ConnectionID) (*session, error) {
	if s, ok := c.registry.get(conn); ok {
		return s, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.anonymous[conn]; ok {
		return nil, ErrUnauthenticated
	}
	return nil, ErrNotFound
}

// reject reports err to conn as an error event and returns it.
func (c *Controller) reject(ctx context.Context, conn ConnectionID, err error) error {
	_ = c.dispatcher.Send(ctx, conn, errorEvent(err))
	return err
}
