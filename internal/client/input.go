package client

import (
	"strings"

	"github.com/samber/lo"
)

// handleTabCompletion extends a partially typed command to the longest prefix
// shared by the matching commands.
func (a *App) handleTabCompletion() {
	value := a.input.Value()
	if value == "" || a.input.Position() != len([]rune(value)) {
		return
	}
	if !strings.HasPrefix(value, string(a.cfg.CommandPrefix)) || strings.ContainsAny(value, " \t") {
		return
	}

	matches := lo.FilterMap(a.commands, func(c commandSpec, _ int) (string, bool) {
		return c.trigger, strings.HasPrefix(c.trigger, value)
	})
	if len(matches) == 0 {
		return
	}
	completed := longestCommonPrefix(matches)
	if len(matches) == 1 {
		completed += " "
	}
	if len(completed) <= len(value) {
		return
	}
	a.input.SetValue(completed)
	a.input.CursorEnd()
}

func longestCommonPrefix(values []string) string {
	if len(values) == 0 {
		return ""
	}
	prefix := values[0]
	for _, s := range values[1:] {
		for !strings.HasPrefix(s, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}
	return prefix
}

// remember records a submitted line for up/down recall.
func (a *App) remember(value string) {
	if n := len(a.recall); n == 0 || a.recall[n-1] != value {
		a.recall = append(a.recall, value)
	}
	if len(a.recall) > inputRecallLimit {
		a.recall = a.recall[len(a.recall)-inputRecallLimit:]
	}
	a.recallPos = len(a.recall)
}

func (a *App) recallPrevious() {
	if a.recallPos == 0 {
		return
	}
	a.recallPos--
	a.input.SetValue(a.recall[a.recallPos])
	a.input.CursorEnd()
	a.updateHelp()
}

func (a *App) recallNext() {
	if a.recallPos >= len(a.recall) {
		return
	}
	a.recallPos++
	if a.recallPos == len(a.recall) {
		a.input.SetValue("")
	} else {
		a.input.SetValue(a.recall[a.recallPos])
		a.input.CursorEnd()
	}
	a.updateHelp()
}
