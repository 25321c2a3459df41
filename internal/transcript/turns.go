package transcript

import (
	"strings"
	"time"

	"github.com/xiaot623/agentmux/internal/extract"
)

// LatestTurnID returns the uuid of the last user turn, or "".
func LatestTurnID(entries []Entry) string {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].IsUserTurn() {
			return entries[i].UUID
		}
	}
	return ""
}

// FindTurn locates the first user turn written after the baseline whose text matches
// expected and whose timestamp is not before minTs. It returns -1 when absent.
func FindTurn(entries []Entry, afterID, expected string, minTs time.Time) int {
	start := 0
	if afterID != "" {
		for i := range entries {
			if entries[i].UUID == afterID {
				start = i + 1
				break
			}
		}
	}

	want := extract.Normalize(expected)
	for i := start; i < len(entries); i++ {
		e := &entries[i]
		if !e.IsUserTurn() {
			continue
		}
		if !minTs.IsZero() {
			if ts := e.Time(); !ts.IsZero() && ts.Before(minTs) {
				continue
			}
		}
		got := extract.Normalize(e.Message.Content.Text())
		if want == "" || got == want || strings.Contains(got, want) {
			return i
		}
	}
	return -1
}

// Chain returns, in file order, every entry that descends from the user turn at index
// through parent links without passing through another user turn.
func Chain(entries []Entry, index int) []Entry {
	if index < 0 || index >= len(entries) {
		return nil
	}
	linked := map[string]bool{entries[index].UUID: true}
	member := make([]bool, len(entries))

	// Writers may flush children before parents, so iterate to a fixed point.
	for changed := true; changed; {
		changed = false
		for i := range entries {
			e := &entries[i]
			if member[i] || i == index || e.UUID == "" || e.ParentUUID == "" {
				continue
			}
			if e.IsUserTurn() || !linked[e.ParentUUID] {
				continue
			}
			member[i] = true
			linked[e.UUID] = true
			changed = true
		}
	}

	var chain []Entry
	for i := range entries {
		if member[i] {
			chain = append(chain, entries[i])
		}
	}
	return chain
}

// ResponseText concatenates the text of the assistant entries in chain.
func ResponseText(chain []Entry) string {
	var parts []string
	for i := range chain {
		if !chain[i].IsAssistant() {
			continue
		}
		if t := strings.TrimSpace(chain[i].Message.Content.Text()); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

// AwaitingTool reports whether the chain ends on a tool call whose result has not arrived.
func AwaitingTool(chain []Entry) bool {
	for i := len(chain) - 1; i >= 0; i-- {
		e := &chain[i]
		if e.Message == nil {
			continue
		}
		if e.IsAssistant() {
			return e.Message.Content.HasToolUse()
		}
		if e.Message.Content.HasToolResult() {
			return false
		}
	}
	return false
}
