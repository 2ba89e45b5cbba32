package presence

import "fmt"

// EventName identifies an outbound event.
type EventName string

const (
	EventConnected   EventName = "connected"
	EventUserJoined  EventName = "user_joined"
	EventOnlineUsers EventName = "online_users"
	EventUserLeft    EventName = "user_left"
	EventNewMessage  EventName = "new_message"
	EventUserTyping  EventName = "user_typing"
	EventRoomClosed  EventName = "room_closed"
	EventError       EventName = "error"
)

// Event is one outbound notification. Room is zero for connection-scoped
// events such as connected and error.
type Event struct {
	Name    EventName
	Room    RoomID
	Payload interface{}
}

// LeaveReason distinguishes an explicit leave from a dropped connection.
type LeaveReason string

const (
	ReasonLeft         LeaveReason = "left"
	ReasonDisconnected LeaveReason = "disconnected"
)

type ConnectedPayload struct {
	ConnectionID ConnectionID `json:"connection_id"`
	Message      string       `json:"message"`
}

type UserJoinedPayload struct {
	RoomID   RoomID `json:"room_id"`
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

// OnlineUser is one entry of an online_users snapshot.
type OnlineUser struct {
	ConnectionID ConnectionID `json:"connection_id"`
	UserID       uint         `json:"user_id"`
	Username     string       `json:"username"`
}

type OnlineUsersPayload struct {
	RoomID RoomID       `json:"room_id"`
	Users  []OnlineUser `json:"users"`
}

type UserLeftPayload struct {
	RoomID       RoomID       `json:"room_id"`
	ConnectionID ConnectionID `json:"connection_id"`
	UserID       uint         `json:"user_id"`
	Username     string       `json:"username"`
	Reason       LeaveReason  `json:"reason"`
	Message      string       `json:"message"`
}

type UserTypingPayload struct {
	RoomID   RoomID `json:"room_id"`
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

// RoomClosedPayload is the last event a room delivers before its members are
// dropped.
type RoomClosedPayload struct {
	RoomID   RoomID `json:"room_id"`
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func userJoinedEvent(room RoomID, who Identity) Event {
	return Event{
		Name: EventUserJoined,
		Room: room,
		Payload: UserJoinedPayload{
			RoomID:   room,
			UserID:   who.UserID,
			Username: who.Username,
			Message:  fmt.Sprintf("%s joined the room", who.Username),
		},
	}
}

func userLeftEvent(room RoomID, conn ConnectionID, who Identity, reason LeaveReason) Event {
	text := fmt.Sprintf("%s left the room", who.Username)
	if reason == ReasonDisconnected {
		text = fmt.Sprintf("%s disconnected", who.Username)
	}
	return Event{
		Name: EventUserLeft,
		Room: room,
		Payload: UserLeftPayload{
			RoomID:       room,
			ConnectionID: conn,
			UserID:       who.UserID,
			Username:     who.Username,
			Reason:       reason,
			Message:      text,
		},
	}
}

func roomClosedEvent(room RoomID, name string, by Identity) Event {
	return Event{
		Name: EventRoomClosed,
		Room: room,
		Payload: RoomClosedPayload{
			RoomID:   room,
			UserID:   by.UserID,
			Username: by.Username,
			Message:  fmt.Sprintf("%s deleted room %s", by.Username, name),
		},
	}
}

func errorEvent(err error) Event {
	return Event{
		Name:    EventError,
		Payload: ErrorPayload{Kind: Kind(err), Message: err.Error()},
	}
}
