package client

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fenggwsx/roomlink/internal/config"
	"github.com/fenggwsx/roomlink/internal/protocol"
)

const (
	pipeHistoryLimit  = 50
	inputRecallLimit  = 100
	chatHistoryLimit  = 500
	requestTimeout    = 5 * time.Second
	noRoomPlaceholder = "-"
)

type viewMode int

const (
	viewChat viewMode = iota
	viewRooms
	viewHelp
	viewPipe
)

func (v viewMode) String() string {
	switch v {
	case viewRooms:
		return "rooms"
	case viewHelp:
		return "help"
	case viewPipe:
		return "pipe"
	default:
		return "chat"
	}
}

type logLevel int

const (
	logLevelInfo logLevel = iota
	logLevelError
)

type logEntry struct {
	level logLevel
	label string
	body  string
}

type pipeDirection string

const (
	pipeDirectionIn  pipeDirection = "IN"
	pipeDirectionOut pipeDirection = "OUT"
)

type pipeEntry struct {
	direction   pipeDirection
	messageType string
	timestamp   time.Time
	body        string
}

type pendingRequest struct {
	action   string
	username string
	room     uint
}

type commandSpec struct {
	trigger     string
	usage       string
	description string
}

type styleSet struct {
	title         lipgloss.Style
	view          lipgloss.Style
	statusOnline  lipgloss.Style
	statusOffline lipgloss.Style
	label         lipgloss.Style
	value         lipgloss.Style
	system        lipgloss.Style
	logLabel      lipgloss.Style
	logBody       lipgloss.Style
	logLabelError lipgloss.Style
	logBodyError  lipgloss.Style
	help          lipgloss.Style
}

type keyMap struct {
	submit   key.Binding
	complete key.Binding
	recallUp key.Binding
	recallDn key.Binding
	quit     key.Binding
}

// App implements the bubbletea tea.Model interface for the terminal client.
type App struct {
	cfg        config.ClientConfig
	session    *Session
	serverAddr string

	statusOnline bool
	authToken    string
	username     string

	room        uint
	joining     uint
	rooms       map[uint]protocol.RoomInfo
	online      []string
	chatHistory []string
	typingSent  bool

	pendingRequests map[string]pendingRequest
	pipeHistory     []pipeEntry
	recall          []string
	recallPos       int

	view       viewMode
	viewport   viewport.Model
	input      textinput.Model
	helper     help.Model
	keys       keyMap
	styles     styleSet
	commands   []commandSpec
	showHelp   bool
	helpView   string
	helpHeight int
	width      int
	height     int
	logLine    logEntry
}

type connectResultMsg struct {
	session *Session
	address string
	err     error
}

type sessionEnvelopeMsg struct {
	session  *Session
	envelope protocol.Envelope
}

type sessionClosedMsg struct {
	session *Session
}

type sendResultMsg struct {
	session     *Session
	id          string
	description string
	err         error
}

// NewApp returns a Bubble Tea model pre-populated with defaults.
func NewApp(cfg config.ClientConfig) *App {
	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "Type a message or " + string(cfg.CommandPrefix) + "help"
	input.CharLimit = 4000
	input.Focus()

	a := &App{
		cfg:             cfg,
		serverAddr:      cfg.ServerAddr,
		rooms:           make(map[uint]protocol.RoomInfo),
		pendingRequests: make(map[string]pendingRequest),
		view:            viewChat,
		viewport:        viewport.New(60, 10),
		input:           input,
		helper:          help.New(),
		styles:          buildStyles(),
		commands:        defaultCommands(string(cfg.CommandPrefix)),
		keys: keyMap{
			submit:   key.NewBinding(key.WithKeys("enter")),
			complete: key.NewBinding(key.WithKeys("tab")),
			recallUp: key.NewBinding(key.WithKeys("up")),
			recallDn: key.NewBinding(key.WithKeys("down")),
			quit:     key.NewBinding(key.WithKeys("ctrl+c")),
		},
		logLine: logEntry{label: "INFO", body: "Welcome. Use " + string(cfg.CommandPrefix) + "connect to reach the server."},
	}
	a.updateInputWidth()
	a.updateViewportContent()
	return a
}

// Init is part of the tea.Model interface.
func (a *App) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles user input and session events.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = m.Width
		a.height = m.Height
		a.updateInputWidth()
		a.updateViewportSize()
		a.updateViewportContent()
		return a, nil
	case tea.KeyMsg:
		return a.handleKey(m)
	case connectResultMsg:
		return a, a.handleConnectResult(m)
	case sessionEnvelopeMsg:
		if m.session != a.session {
			return a, nil
		}
		cmd := a.handleSessionEnvelope(m.envelope)
		return a, tea.Batch(cmd, a.listenForSession())
	case sessionClosedMsg:
		if m.session == a.session {
			a.resetSession()
			a.logErrorf("Connection closed")
		}
		return a, nil
	case sendResultMsg:
		if m.err != nil && m.session == a.session {
			delete(a.pendingRequests, m.id)
			a.logErrorf("Failed to send %s: %v", m.description, m.err)
		}
		return a, nil
	}

	var cmd tea.Cmd
	a.viewport, cmd = a.viewport.Update(msg)
	return a, cmd
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, a.keys.quit):
		if a.session != nil {
			_ = a.session.Close()
		}
		return a, tea.Quit
	case key.Matches(msg, a.keys.submit):
		value := strings.TrimSpace(a.input.Value())
		a.input.SetValue("")
		a.updateHelp()
		if value == "" {
			return a, nil
		}
		a.remember(value)
		return a, a.handleSubmit(value)
	case key.Matches(msg, a.keys.complete):
		a.handleTabCompletion()
		a.updateHelp()
		return a, nil
	case key.Matches(msg, a.keys.recallUp):
		a.recallPrevious()
		return a, nil
	case key.Matches(msg, a.keys.recallDn):
		a.recallNext()
		return a, nil
	case msg.Type == tea.KeyPgUp || msg.Type == tea.KeyPgDown:
		var cmd tea.Cmd
		a.viewport, cmd = a.viewport.Update(msg)
		return a, cmd
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	a.updateHelp()
	return a, tea.Batch(cmd, a.maybeSendTyping())
}

func (a *App) handleConnectResult(msg connectResultMsg) tea.Cmd {
	if msg.session != a.session {
		return nil
	}
	if msg.err != nil {
		a.session = nil
		a.statusOnline = false
		a.logErrorf("Connection to %s failed: %v", msg.address, msg.err)
		return nil
	}
	a.statusOnline = true
	a.logf("Connected to %s", msg.address)
	return a.listenForSession()
}

func (a *App) resetSession() {
	a.session = nil
	a.statusOnline = false
	a.authToken = ""
	a.room = 0
	a.joining = 0
	a.online = nil
	a.typingSent = false
	a.pendingRequests = make(map[string]pendingRequest)
	a.updateViewportContent()
}

func (a *App) roomLabel() string {
	if a.room == 0 {
		return noRoomPlaceholder
	}
	if info, ok := a.rooms[a.room]; ok && info.Name != "" {
		return info.Name
	}
	return "#" + uintString(a.room)
}
