package client

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/fenggwsx/roomlink/internal/protocol"
)

func (a *App) handleSubmit(value string) tea.Cmd {
	if strings.HasPrefix(value, string(a.cfg.CommandPrefix)) {
		return a.executeCommand(value)
	}
	return a.sendChatMessage(value)
}

func (a *App) executeCommand(raw string) tea.Cmd {
	fields := strings.Fields(strings.TrimPrefix(raw, string(a.cfg.CommandPrefix)))
	if len(fields) == 0 {
		return nil
	}

	name := strings.ToLower(fields[0])
	args := fields[1:]
	var cmds []tea.Cmd

	switch name {
	case "chat":
		a.view = viewChat
		a.logf("Switched to CHAT view")
	case "help":
		a.view = viewHelp
		a.logf("Switched to HELP view")
	case "pipe":
		if len(args) > 0 && strings.EqualFold(args[0], "clear") {
			a.pipeHistory = nil
			a.logf("Cleared pipe history")
			break
		}
		a.view = viewPipe
		a.logf("Switched to PIPE view")
	case "connect":
		target := a.serverAddr
		if len(args) > 0 {
			target = args[0]
		}
		if target == "" {
			a.logErrorf("Provide a server address to connect")
			break
		}
		cmds = append(cmds, a.connectToServer(target))
	case "register", "login":
		if len(args) < 2 {
			a.logErrorf("Usage: %s%s <username> <password>", string(a.cfg.CommandPrefix), name)
			break
		}
		if !a.requireConnection() {
			break
		}
		password := strings.Join(args[1:], " ")
		a.logf("Sending %s for %s ...", name, args[0])
		cmds = append(cmds, a.sendAuthCommand(name, args[0], password))
	case "rooms":
		if !a.requireConnection() {
			break
		}
		a.view = viewRooms
		cmds = append(cmds, a.sendCommand(protocol.ActionRoomsList, 0, nil))
	case "create":
		if len(args) < 1 {
			a.logErrorf("Usage: %screate <name> [description]", string(a.cfg.CommandPrefix))
			break
		}
		if !a.requireConnection() {
			break
		}
		cmds = append(cmds, a.sendCommand(protocol.ActionRoomCreate, 0, protocol.RoomCreateRequest{
			Name:        args[0],
			Description: strings.Join(args[1:], " "),
		}))
	case "info":
		room, ok := a.parseRoomArg(args, true)
		if !ok || !a.requireConnection() {
			break
		}
		cmds = append(cmds, a.sendCommand(protocol.ActionRoomGet, room, protocol.RoomRequest{RoomID: room}))
	case "delete":
		room, ok := a.parseRoomArg(args, false)
		if !ok || !a.requireConnection() {
			break
		}
		a.logf("Deleting room #%d ...", room)
		cmds = append(cmds, a.sendCommand(protocol.ActionRoomDelete, room, protocol.RoomRequest{RoomID: room}))
	case "join":
		room, ok := a.parseRoomArg(args, false)
		if !ok || !a.requireConnection() {
			break
		}
		if room == a.room {
			a.logf("Already in %s", a.roomLabel())
			break
		}
		a.joining = room
		a.logf("Joining room #%d ...", room)
		cmds = append(cmds, a.sendCommand(protocol.ActionJoin, room, protocol.RoomRequest{RoomID: room}))
	case "leave":
		room, ok := a.parseRoomArg(args, true)
		if !ok || !a.requireConnection() {
			break
		}
		a.logf("Leaving room #%d ...", room)
		cmds = append(cmds, a.sendCommand(protocol.ActionLeave, room, protocol.RoomRequest{RoomID: room}))
	case "online":
		room, ok := a.parseRoomArg(args, true)
		if !ok || !a.requireConnection() {
			break
		}
		cmds = append(cmds, a.sendCommand(protocol.ActionOnline, room, protocol.RoomRequest{RoomID: room}))
	case "history":
		room, ok := a.parseRoomArg(args, true)
		if !ok || !a.requireConnection() {
			break
		}
		cmds = append(cmds, a.sendCommand(protocol.ActionHistory, room, protocol.RoomRequest{RoomID: room}))
	case "share":
		if len(args) < 2 {
			a.logErrorf("Usage: %sshare <filename> <url>", string(a.cfg.CommandPrefix))
			break
		}
		if !a.requireConnection() {
			break
		}
		if a.room == 0 {
			a.logErrorf("Join a room before sharing files")
			break
		}
		cmds = append(cmds, a.sendEvent(protocol.ActionFileShare, a.room, protocol.FileShareRequest{
			RoomID:   a.room,
			Filename: args[0],
			FileURL:  args[1],
		}))
	case "quit":
		a.logf("Exiting client")
		if a.session != nil {
			_ = a.session.Close()
		}
		a.resetSession()
		cmds = append(cmds, tea.Quit)
	default:
		a.logErrorf("Unknown command %s", fields[0])
	}

	a.updateViewportContent()
	return tea.Batch(cmds...)
}

// parseRoomArg reads a room id argument. When optional is set the current
// room is used if no argument is given.
func (a *App) parseRoomArg(args []string, optional bool) (uint, bool) {
	if len(args) == 0 {
		if optional && a.room != 0 {
			return a.room, true
		}
		a.logErrorf("Provide a room id (see %srooms)", string(a.cfg.CommandPrefix))
		return 0, false
	}
	value, err := strconv.ParseUint(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil || value == 0 {
		a.logErrorf("Invalid room id: %s", args[0])
		return 0, false
	}
	return uint(value), true
}

func (a *App) requireConnection() bool {
	if !a.isConnected() {
		a.logErrorf("Not connected. Use %sconnect first.", string(a.cfg.CommandPrefix))
		return false
	}
	return true
}

func (a *App) isConnected() bool {
	return a.session != nil && a.statusOnline
}

func (a *App) connectToServer(target string) tea.Cmd {
	if a.session != nil {
		_ = a.session.Close()
	}
	a.resetSession()

	cfg := a.cfg
	cfg.ServerAddr = target
	session := NewSession(cfg)
	a.session = session
	a.serverAddr = target
	a.logf("Connecting to %s ...", target)

	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return connectResultMsg{session: session, address: target, err: session.Connect(ctx)}
	}
}

func (a *App) listenForSession() tea.Cmd {
	session := a.session
	if session == nil {
		return nil
	}
	return func() tea.Msg {
		env, ok := <-session.Messages()
		if !ok {
			return sessionClosedMsg{session: session}
		}
		return sessionEnvelopeMsg{session: session, envelope: env}
	}
}

func (a *App) sendAuthCommand(action, username, password string) tea.Cmd {
	env := protocol.Envelope{
		ID:   uuid.NewString(),
		Type: protocol.MessageTypeAuthRequest,
		Payload: protocol.AuthRequest{
			Action:   action,
			Username: username,
			Password: password,
		},
	}
	a.pendingRequests[env.ID] = pendingRequest{action: action, username: username}
	return a.sendEnvelope(env, action+" request")
}

func (a *App) sendCommand(action string, room uint, payload interface{}) tea.Cmd {
	return a.sendRequest(protocol.MessageTypeCommand, action, room, payload)
}

func (a *App) sendEvent(action string, room uint, payload interface{}) tea.Cmd {
	return a.sendRequest(protocol.MessageTypeEvent, action, room, payload)
}

func (a *App) sendRequest(msgType protocol.MessageType, action string, room uint, payload interface{}) tea.Cmd {
	env := protocol.Envelope{
		ID:       uuid.NewString(),
		Type:     msgType,
		Metadata: map[string]interface{}{"action": action},
		Payload:  payload,
	}
	a.pendingRequests[env.ID] = pendingRequest{action: action, room: room}
	return a.sendEnvelope(env, action)
}

func (a *App) sendChatMessage(content string) tea.Cmd {
	if !a.requireConnection() {
		return nil
	}
	if a.authToken == "" {
		a.logErrorf("Authenticate before chatting (use %slogin or %sregister)", string(a.cfg.CommandPrefix), string(a.cfg.CommandPrefix))
		return nil
	}
	if a.room == 0 {
		a.logErrorf("Join a room before chatting (use %sjoin <room id>)", string(a.cfg.CommandPrefix))
		return nil
	}
	if a.view != viewChat {
		a.view = viewChat
		a.updateViewportContent()
	}
	a.typingSent = false
	return tea.Batch(
		a.sendEvent(protocol.ActionChatSend, a.room, protocol.ChatSendRequest{RoomID: a.room, Content: content}),
		a.sendCommand(protocol.ActionTyping, a.room, protocol.TypingRequest{RoomID: a.room, IsTyping: false}),
	)
}

// maybeSendTyping announces typing once per message while free text is being
// entered in a room.
func (a *App) maybeSendTyping() tea.Cmd {
	value := a.input.Value()
	if a.typingSent || a.room == 0 || a.authToken == "" || !a.isConnected() {
		return nil
	}
	if value == "" || strings.HasPrefix(value, string(a.cfg.CommandPrefix)) {
		return nil
	}
	a.typingSent = true
	return a.sendCommand(protocol.ActionTyping, a.room, protocol.TypingRequest{RoomID: a.room, IsTyping: true})
}

func (a *App) sendEnvelope(env protocol.Envelope, description string) tea.Cmd {
	session := a.session
	if session == nil {
		return nil
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	if env.Type != protocol.MessageTypeAuthRequest && env.Token == "" {
		env.Token = a.authToken
	}
	a.appendPipeEntry(pipeDirectionOut, env)
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return sendResultMsg{session: session, id: env.ID, description: description, err: session.Send(ctx, env)}
	}
}

func defaultCommands(prefix string) []commandSpec {
	specs := []commandSpec{
		{trigger: "connect", usage: "connect [addr]", description: "Connect to the server"},
		{trigger: "register", usage: "register <username> <password>", description: "Register a new account"},
		{trigger: "login", usage: "login <username> <password>", description: "Authenticate with existing credentials"},
		{trigger: "rooms", usage: "rooms", description: "List rooms"},
		{trigger: "create", usage: "create <name> [description]", description: "Create a room"},
		{trigger: "info", usage: "info [room id]", description: "Show room details"},
		{trigger: "delete", usage: "delete <room id>", description: "Delete a room you created"},
		{trigger: "join", usage: "join <room id>", description: "Join a room and load its history"},
		{trigger: "leave", usage: "leave [room id]", description: "Leave the current room"},
		{trigger: "online", usage: "online [room id]", description: "Show who is in a room"},
		{trigger: "history", usage: "history [room id]", description: "Reload recent messages"},
		{trigger: "share", usage: "share <filename> <url>", description: "Share a file link in the current room"},
		{trigger: "chat", usage: "chat", description: "Switch to chat view"},
		{trigger: "pipe", usage: "pipe [clear]", description: "Inspect transport JSON frames"},
		{trigger: "help", usage: "help", description: "Show command help"},
		{trigger: "quit", usage: "quit", description: "Exit the client"},
	}
	for i := range specs {
		specs[i].trigger = prefix + specs[i].trigger
		specs[i].usage = prefix + specs[i].usage
	}
	return specs
}

func uintString(v uint) string {
	return fmt.Sprintf("%d", v)
}
