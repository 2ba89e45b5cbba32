package client

import (
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"
	figure "github.com/common-nighthawk/go-figure"
	"github.com/mattn/go-runewidth"
)

var homeContent = buildHomeContent()

// View renders the terminal UI.
func (a *App) View() string {
	var b strings.Builder

	b.WriteString(a.viewport.View())
	b.WriteString("\n")

	if a.showHelp && a.helpView != "" {
		b.WriteString(a.styles.help.Render(a.helpView))
		b.WriteString("\n")
	}

	b.WriteString(a.input.View())
	b.WriteString("\n")
	b.WriteString(a.logLineView())
	b.WriteString("\n")
	b.WriteString(a.statusLine())

	return b.String()
}

func (a *App) updateViewportContent() {
	width := a.viewport.Width
	if width <= 0 {
		width = a.width
	}
	switch a.view {
	case viewChat:
		switch {
		case a.room == 0:
			a.viewport.SetContent(homeContent)
		case len(a.chatHistory) == 0:
			a.viewport.SetContent("No chat messages yet. Type and press Enter to send.")
		default:
			a.viewport.SetContent(strings.Join(wrapLines(a.chatHistory, width), "\n"))
		}
		a.viewport.GotoBottom()
	case viewRooms:
		a.viewport.SetContent(a.renderRoomsView())
	case viewPipe:
		if len(a.pipeHistory) == 0 {
			a.viewport.SetContent("No transport frames captured yet. Send commands to populate this view.")
		} else {
			a.viewport.SetContent(a.renderPipeView())
		}
		a.viewport.GotoBottom()
	case viewHelp:
		a.viewport.SetContent(a.renderHelpView())
	}
}

func (a *App) updateViewportSize() {
	if a.height == 0 {
		return
	}
	const fixed = 3
	height := a.height - fixed - a.helpHeight
	if height < 3 {
		height = 3
	}
	a.viewport.Height = height
	a.viewport.Width = a.width
}

func (a *App) updateInputWidth() {
	width := a.width
	if width <= 0 {
		width = 60
	}
	usable := width - lipgloss.Width(a.input.Prompt) - 1
	if usable < 10 {
		usable = 10
	}
	a.input.Width = usable
}

func (a *App) updateHelp() {
	value := a.input.Value()
	hide := func() {
		a.showHelp = false
		a.helpView = ""
		a.helpHeight = 0
		a.updateViewportSize()
	}
	if value == "" || !strings.HasPrefix(value, string(a.cfg.CommandPrefix)) {
		hide()
		return
	}

	token := value
	if idx := strings.IndexAny(value, " \t"); idx >= 0 {
		token = value[:idx]
	}
	bindings := a.matchingBindings(token)
	if len(bindings) == 0 {
		hide()
		return
	}

	a.showHelp = true
	a.helper.Width = a.width
	view := strings.TrimRight(a.helper.View(dynamicKeyMap{keys: bindings}), "\n")
	a.helpView = view
	a.helpHeight = countLines(view)
	a.updateViewportSize()
}

func (a *App) matchingBindings(prefix string) []key.Binding {
	prefix = strings.ToLower(prefix)
	var bindings []key.Binding
	for _, c := range a.commands {
		if strings.HasPrefix(c.trigger, prefix) {
			bindings = append(bindings, key.NewBinding(
				key.WithKeys(c.usage),
				key.WithHelp(c.usage, c.description),
			))
		}
	}
	return bindings
}

func (a *App) statusLine() string {
	status := "OFFLINE"
	statusStyle := a.styles.statusOffline
	if a.statusOnline {
		status = "ONLINE"
		statusStyle = a.styles.statusOnline
	}
	user := a.username
	if user == "" {
		user = "-"
	}
	server := a.serverAddr
	if server == "" {
		server = "-"
	}

	parts := []string{
		a.styles.title.Render("RoomLink"),
		a.styles.view.Render(strings.ToUpper(a.view.String())),
		statusStyle.Render(status),
		a.styles.label.Render("Server") + ": " + a.styles.value.Render(server),
		a.styles.label.Render("User") + ": " + a.styles.value.Render(user),
		a.styles.label.Render("Room") + ": " + a.styles.value.Render(a.roomLabel()),
		a.styles.label.Render("Online") + ": " + a.styles.value.Render(fmt.Sprintf("%d", len(a.online))),
	}
	return strings.Join(parts, " | ")
}

func (a *App) logLineView() string {
	labelStyle := a.styles.logLabel
	bodyStyle := a.styles.logBody
	if a.logLine.level == logLevelError {
		labelStyle = a.styles.logLabelError
		bodyStyle = a.styles.logBodyError
	}
	return labelStyle.Render(a.logLine.label) + " " + bodyStyle.Render(a.logLine.body)
}

func buildStyles() styleSet {
	base := lipgloss.NewStyle()
	return styleSet{
		title:         base.Foreground(lipgloss.Color("13")).Bold(true),
		view:          base.Foreground(lipgloss.Color("14")).Bold(true),
		statusOnline:  base.Foreground(lipgloss.Color("10")).Bold(true),
		statusOffline: base.Foreground(lipgloss.Color("9")).Bold(true),
		label:         base.Foreground(lipgloss.Color("8")),
		value:         base.Foreground(lipgloss.Color("15")),
		system:        base.Foreground(lipgloss.Color("8")).Italic(true),
		logLabel:      base.Foreground(lipgloss.Color("11")).Bold(true),
		logBody:       base.Foreground(lipgloss.Color("7")),
		logLabelError: base.Foreground(lipgloss.Color("9")).Bold(true),
		logBodyError:  base.Foreground(lipgloss.Color("9")),
		help:          base.Foreground(lipgloss.Color("12")),
	}
}

func (a *App) renderHelpView() string {
	var b strings.Builder
	b.WriteString("RoomLink Commands\n\n")
	for _, c := range a.commands {
		b.WriteString(fmt.Sprintf("%-32s %s\n", c.usage, c.description))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *App) renderRoomsView() string {
	if len(a.rooms) == 0 {
		return "No rooms loaded yet."
	}
	ids := make([]uint, 0, len(a.rooms))
	for id := range a.rooms {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var b strings.Builder
	b.WriteString("Rooms\n\n")
	for _, id := range ids {
		room := a.rooms[id]
		marker := " "
		if id == a.room {
			marker = "*"
		}
		line := fmt.Sprintf("%s #%-4d %s", marker, id, room.Name)
		if room.Description != "" {
			line += a.styles.label.Render("  " + room.Description)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *App) renderPipeView() string {
	var b strings.Builder
	for i, entry := range a.pipeHistory {
		kind := strings.ToUpper(entry.messageType)
		if kind == "" {
			kind = "UNKNOWN"
		}
		header := fmt.Sprintf("[%s %s %s]", entry.timestamp.Format("15:04:05.000"), entry.direction, kind)
		b.WriteString(a.styles.label.Render(header))
		b.WriteString("\n")
		b.WriteString(entry.body)
		if i < len(a.pipeHistory)-1 {
			b.WriteString("\n\n")
		}
	}
	return b.String()
}

func buildHomeContent() string {
	fig := figure.NewColorFigure("ROOMLINK", "3-d", "green", true)
	art := strings.TrimRight(fig.String(), "\n")
	info := []string{
		"Use /connect to reach the server.",
		"Use /register or /login after connecting.",
		"Use /rooms to list rooms and /join <room id> to enter one.",
		"Use /online to see who is in the current room.",
		"Use /pipe to inspect raw transport frames.",
		"Use /help to browse all commands.",
	}
	return art + "\n\n" + strings.Join(info, "\n")
}

func wrapLines(lines []string, width int) []string {
	if width <= 0 {
		return lines
	}
	const minWidth = 10
	if width < minWidth {
		width = minWidth
	}

	wrapped := make([]string, 0, len(lines))
	for _, line := range lines {
		segment := line
		if segment == "" {
			wrapped = append(wrapped, "")
			continue
		}
		for len(segment) > 0 {
			if runewidth.StringWidth(segment) <= width {
				wrapped = append(wrapped, segment)
				break
			}
			cut := wrapCutIndex(segment, width)
			part := strings.TrimRight(segment[:cut], " ")
			if part == "" {
				part = segment[:cut]
			}
			wrapped = append(wrapped, part)
			segment = strings.TrimLeft(segment[cut:], " ")
		}
	}
	return wrapped
}

func wrapCutIndex(s string, limit int) int {
	var width int
	lastSpace := -1
	for i, r := range s {
		rw := runewidth.RuneWidth(r)
		if width+rw > limit {
			if lastSpace >= 0 {
				return lastSpace + 1
			}
			if width == 0 {
				return i + len(string(r))
			}
			return i
		}
		width += rw
		if unicode.IsSpace(r) {
			lastSpace = i
		}
	}
	return len(s)
}

type dynamicKeyMap struct {
	keys []key.Binding
}

func (d dynamicKeyMap) ShortHelp() []key.Binding {
	return d.keys
}

func (d dynamicKeyMap) FullHelp() [][]key.Binding {
	if len(d.keys) == 0 {
		return [][]key.Binding{}
	}
	return [][]key.Binding{d.keys}
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}
