package protocol

import "time"

// MessageType enumerates high-level protocol intents.
type MessageType string

const (
	MessageTypeAuthRequest  MessageType = "auth_request"
	MessageTypeAuthResponse MessageType = "auth_response"
	MessageTypeEvent        MessageType = "event"
	MessageTypeCommand      MessageType = "command"
	MessageTypeAck          MessageType = "ack"
)

// Actions carried in Envelope.Metadata["action"].
const (
	ActionJoin       = "join"
	ActionLeave      = "leave"
	ActionTyping     = "typing"
	ActionOnline     = "online"
	ActionHistory    = "history"
	ActionRoomsList  = "rooms_list"
	ActionRoomCreate = "room_create"
	ActionRoomGet    = "room_get"
	ActionRoomDelete = "room_delete"
	ActionChatSend   = "chat_send"
	ActionFileShare  = "file_share"

	// Server-originated only.
	ActionChatHistory = "chat_history"
	ActionRooms       = "rooms"
	ActionRoomInfo    = "room_info"
)

// Envelope wraps every payload sent over the wire.
type Envelope struct {
	ID        string                 `json:"id"`
	Type      MessageType            `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Token     string                 `json:"token,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Payload   interface{}            `json:"payload,omitempty"`
}

// AckPayload represents acknowledgement semantics.
type AckPayload struct {
	ReferenceID string `json:"reference_id"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
}

// AuthRequest carries login or registration data.
type AuthRequest struct {
	Action   string `json:"action" validate:"required,oneof=login register"`
	Username string `json:"username" validate:"required,max=80"`
	Password string `json:"password" validate:"required,max=72"`
}

// AuthResponse returns token and status details to client.
type AuthResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
	UserID    uint   `json:"user_id"`
	Username  string `json:"username"`
}

// RoomRequest addresses a single room: join, leave, online, history, room_get
// and room_delete.
type RoomRequest struct {
	RoomID uint `json:"room_id" validate:"required"`
}

// TypingRequest toggles the typing indicator in a room.
type TypingRequest struct {
	RoomID   uint `json:"room_id" validate:"required"`
	IsTyping bool `json:"is_typing"`
}

// ChatSendRequest posts a text message.
type ChatSendRequest struct {
	RoomID  uint   `json:"room_id" validate:"required"`
	Content string `json:"content"`
}

// FileShareRequest posts a file message pointing at already stored content.
type FileShareRequest struct {
	RoomID   uint   `json:"room_id" validate:"required"`
	Filename string `json:"filename" validate:"required,max=255"`
	FileURL  string `json:"file_url" validate:"required,max=200"`
}

// RoomCreateRequest creates a new room.
type RoomCreateRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description"`
	IsPrivate   bool   `json:"is_private"`
}

// RoomInfo describes a persisted room.
type RoomInfo struct {
	ID          uint      `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedBy   uint      `json:"created_by"`
	IsPrivate   bool      `json:"is_private"`
	CreatedAt   time.Time `json:"created_at"`
}

// RoomDetail is the payload of a room_info event.
type RoomDetail struct {
	RoomInfo
	Online int `json:"online"`
}

// RoomList is the payload of a rooms event.
type RoomList struct {
	Rooms []RoomInfo `json:"rooms"`
}

// ChatMessage is the wire form of a persisted message.
type ChatMessage struct {
	ID        uint      `json:"id"`
	RoomID    uint      `json:"room_id"`
	UserID    uint      `json:"user_id"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	IsFile    bool      `json:"is_file"`
	FileURL   string    `json:"file_url,omitempty"`
}

// ChatHistory carries the most recent messages of a room, oldest first.
type ChatHistory struct {
	RoomID   uint          `json:"room_id"`
	Messages []ChatMessage `json:"messages"`
}
