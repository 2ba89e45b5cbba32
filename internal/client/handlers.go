package client

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/samber/lo"

	"github.com/fenggwsx/roomlink/internal/presence"
	"github.com/fenggwsx/roomlink/internal/protocol"
)

func (a *App) handleSessionEnvelope(env protocol.Envelope) tea.Cmd {
	a.appendPipeEntry(pipeDirectionIn, env)
	switch env.Type {
	case protocol.MessageTypeAck:
		a.handleAckEnvelope(env)
	case protocol.MessageTypeAuthResponse:
		a.handleAuthResponse(env)
	case protocol.MessageTypeEvent:
		a.handleEventEnvelope(env)
	default:
		a.logErrorf("Received %s message", string(env.Type))
	}
	a.updateViewportContent()
	return nil
}

func (a *App) handleAckEnvelope(env protocol.Envelope) {
	ack, err := protocol.DecodePayload[protocol.AckPayload](env.Payload)
	if err != nil {
		a.logErrorf("Failed to decode ack: %v", err)
		return
	}
	pending, ok := a.pendingRequests[ack.ReferenceID]
	if !ok {
		return
	}
	delete(a.pendingRequests, ack.ReferenceID)

	if !strings.EqualFold(ack.Status, "ok") {
		reason := strings.TrimSpace(ack.Reason)
		if reason == "" {
			reason = "unknown error"
		}
		switch pending.action {
		case protocol.ActionTyping:
			return
		case protocol.ActionJoin:
			a.joining = 0
		}
		a.logErrorf("%s failed: %s", pending.action, reason)
		return
	}

	switch pending.action {
	case "register", "login":
		a.username = pending.username
		a.logf("%s accepted for %s", pending.action, pending.username)
	case protocol.ActionJoin:
		a.isActiveRoom(pending.room)
		a.view = viewChat
		a.logf("Joined %s", a.roomLabel())
	case protocol.ActionLeave:
		if a.room == pending.room {
			a.logf("Left %s", a.roomLabel())
			a.room = 0
			a.online = nil
			a.chatHistory = nil
		}
	case protocol.ActionRoomDelete:
		delete(a.rooms, pending.room)
		a.logf("Deleted room #%d", pending.room)
	case protocol.ActionChatSend, protocol.ActionTyping, protocol.ActionOnline, protocol.ActionHistory, protocol.ActionRoomsList, protocol.ActionRoomGet:
	default:
		a.logf("%s acknowledged", pending.action)
	}
}

func (a *App) handleAuthResponse(env protocol.Envelope) {
	resp, err := protocol.DecodePayload[protocol.AuthResponse](env.Payload)
	if err != nil {
		a.logErrorf("Failed to decode auth response: %v", err)
		return
	}
	a.authToken = resp.Token
	if resp.Username != "" {
		a.username = resp.Username
	}
	message := fmt.Sprintf("Authenticated as %s", a.username)
	if resp.ExpiresAt != 0 {
		message = fmt.Sprintf("%s (token expires %s)", message, time.Unix(resp.ExpiresAt, 0).UTC().Format(time.RFC3339))
	}
	a.logf("%s", message)
}

func (a *App) handleEventEnvelope(env protocol.Envelope) {
	action := metadataAction(env.Metadata)
	switch action {
	case string(presence.EventConnected):
		payload, err := protocol.DecodePayload[presence.ConnectedPayload](env.Payload)
		if err == nil {
			a.logf("%s", payload.Message)
		}
	case protocol.ActionChatHistory:
		a.handleChatHistory(env)
	case string(presence.EventNewMessage):
		a.handleNewMessage(env)
	case string(presence.EventUserJoined):
		payload, err := protocol.DecodePayload[presence.UserJoinedPayload](env.Payload)
		if err != nil || !a.isActiveRoom(uint(payload.RoomID)) {
			return
		}
		a.appendSystemLine(payload.Message)
	case string(presence.EventUserLeft):
		payload, err := protocol.DecodePayload[presence.UserLeftPayload](env.Payload)
		if err != nil || !a.isActiveRoom(uint(payload.RoomID)) {
			return
		}
		a.online = lo.Without(a.online, payload.Username)
		a.appendSystemLine(payload.Message)
	case string(presence.EventOnlineUsers):
		payload, err := protocol.DecodePayload[presence.OnlineUsersPayload](env.Payload)
		if err != nil || !a.isActiveRoom(uint(payload.RoomID)) {
			return
		}
		a.online = lo.Uniq(lo.Map(payload.Users, func(u presence.OnlineUser, _ int) string { return u.Username }))
		a.logf("Online in %s: %s", a.roomLabel(), strings.Join(a.online, ", "))
	case string(presence.EventUserTyping):
		payload, err := protocol.DecodePayload[presence.UserTypingPayload](env.Payload)
		if err != nil || !a.isActiveRoom(uint(payload.RoomID)) {
			return
		}
		if payload.IsTyping {
			a.logf("%s is typing ...", payload.Username)
		}
	case protocol.ActionRooms:
		a.handleRooms(env)
	case protocol.ActionRoomInfo:
		detail, err := protocol.DecodePayload[protocol.RoomDetail](env.Payload)
		if err != nil {
			a.logErrorf("Failed to decode room info: %v", err)
			return
		}
		a.rooms[detail.ID] = detail.RoomInfo
		a.logf("#%d %s (%d online): %s", detail.ID, detail.Name, detail.Online, detail.Description)
	case string(presence.EventRoomClosed):
		payload, err := protocol.DecodePayload[presence.RoomClosedPayload](env.Payload)
		if err != nil {
			return
		}
		room := uint(payload.RoomID)
		delete(a.rooms, room)
		if room == a.room {
			a.room = 0
			a.online = nil
			a.chatHistory = nil
		}
		a.logf("%s", payload.Message)
	case string(presence.EventError):
		payload, err := protocol.DecodePayload[presence.ErrorPayload](env.Payload)
		if err == nil {
			a.logErrorf("Server error (%s): %s", payload.Kind, payload.Message)
		}
	default:
		a.logErrorf("Unhandled event action: %s", action)
	}
}

// isActiveRoom reports whether room is the current room. Events for a room
// that is being joined switch the current room, since the server announces
// the join before it acknowledges the request.
func (a *App) isActiveRoom(room uint) bool {
	if room != 0 && room == a.joining {
		a.room = room
		a.joining = 0
		a.online = nil
		a.chatHistory = nil
	}
	return room != 0 && room == a.room
}

func (a *App) handleChatHistory(env protocol.Envelope) {
	history, err := protocol.DecodePayload[protocol.ChatHistory](env.Payload)
	if err != nil {
		a.logErrorf("Failed to decode chat history: %v", err)
		return
	}
	if !a.isActiveRoom(history.RoomID) {
		return
	}
	a.chatHistory = lo.Map(history.Messages, func(msg protocol.ChatMessage, _ int) string {
		return formatChatMessage(msg)
	})
	a.logf("Loaded %d messages for %s", len(history.Messages), a.roomLabel())
}

func (a *App) handleNewMessage(env protocol.Envelope) {
	msg, err := protocol.DecodePayload[protocol.ChatMessage](env.Payload)
	if err != nil {
		a.logErrorf("Failed to decode chat message: %v", err)
		return
	}
	if !a.isActiveRoom(msg.RoomID) {
		return
	}
	a.appendChatLine(formatChatMessage(msg))
}

func (a *App) handleRooms(env protocol.Envelope) {
	list, err := protocol.DecodePayload[protocol.RoomList](env.Payload)
	if err != nil {
		a.logErrorf("Failed to decode room list: %v", err)
		return
	}
	for _, room := range list.Rooms {
		a.rooms[room.ID] = room
	}
	a.logf("%d rooms known", len(a.rooms))
}

func (a *App) appendChatLine(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	a.chatHistory = append(a.chatHistory, line)
	if len(a.chatHistory) > chatHistoryLimit {
		a.chatHistory = slices.Clone(a.chatHistory[len(a.chatHistory)-chatHistoryLimit:])
	}
}

func (a *App) appendSystemLine(line string) {
	a.appendChatLine(a.styles.system.Render("* " + line))
}

func (a *App) appendPipeEntry(direction pipeDirection, env protocol.Envelope) {
	body, err := json.MarshalIndent(env, "", "  ")
	entry := pipeEntry{
		direction:   direction,
		messageType: string(env.Type),
		timestamp:   time.Now(),
		body:        string(body),
	}
	if err != nil {
		entry.body = fmt.Sprintf(`{"marshal_error":%q}`, err.Error())
	}
	a.pipeHistory = append(a.pipeHistory, entry)
	if len(a.pipeHistory) > pipeHistoryLimit {
		a.pipeHistory = a.pipeHistory[len(a.pipeHistory)-pipeHistoryLimit:]
	}
}

func formatChatMessage(msg protocol.ChatMessage) string {
	username := strings.TrimSpace(msg.Username)
	if username == "" {
		username = "unknown"
	}
	body := strings.TrimSpace(msg.Content)
	if msg.IsFile {
		body = fmt.Sprintf("shared file %s <%s>", body, msg.FileURL)
	}
	if msg.Timestamp.IsZero() {
		return fmt.Sprintf("[#%d] %s: %s", msg.ID, username, body)
	}
	return fmt.Sprintf("[#%d] [%s] %s: %s", msg.ID, msg.Timestamp.Local().Format("15:04:05"), username, body)
}

func metadataAction(metadata map[string]interface{}) string {
	if value, ok := metadata["action"].(string); ok {
		return strings.ToLower(strings.TrimSpace(value))
	}
	return ""
}

func (a *App) logf(format string, args ...interface{}) {
	a.logLine = logEntry{level: logLevelInfo, label: "INFO", body: fmt.Sprintf(format, args...)}
}

func (a *App) logErrorf(format string, args ...interface{}) {
	a.logLine = logEntry{level: logLevelError, label: "ERROR", body: fmt.Sprintf(format, args...)}
}
