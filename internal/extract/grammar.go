package extract

import (
	"strings"

	"github.com/xiaot623/agentmux/internal/adapter/tmux"
	"github.com/xiaot623/agentmux/internal/domain"
)

// MatchMode controls how an echoed prompt line is compared with the text that was sent.
type MatchMode int

const (
	// MatchContains accepts an echo that contains the first line of the sent text.
	MatchContains MatchMode = iota
	// MatchPrefix compares only the leading runes, for agents that truncate long echoes.
	MatchPrefix
)

const prefixRunes = 24

// Grammar describes how one agent kind draws a conversation in its pane.
type Grammar struct {
	Kind           domain.AgentKind
	UserPrompts    []string
	ResponseGlyphs []string
	Match          MatchMode
	CaptureOrder   []tmux.CaptureMode
	InterruptKey   string
	StructuredLog  bool
}

var grammars = map[domain.AgentKind]Grammar{
	domain.AgentKindClaude: {
		Kind:           domain.AgentKindClaude,
		UserPrompts:    []string{">", "❯"},
		ResponseGlyphs: []string{"⏺", "●"},
		Match:          MatchContains,
		CaptureOrder:   []tmux.CaptureMode{tmux.CaptureHistory, tmux.CaptureAlternate},
		InterruptKey:   "Escape",
		StructuredLog:  true,
	},
	domain.AgentKindGemini: {
		Kind:           domain.AgentKindGemini,
		UserPrompts:    []string{">"},
		ResponseGlyphs: []string{"✦"},
		Match:          MatchPrefix,
		CaptureOrder:   []tmux.CaptureMode{tmux.CaptureHistory, tmux.CaptureAlternate},
		InterruptKey:   "Escape",
	},
	domain.AgentKindCodex: {
		Kind:           domain.AgentKindCodex,
		UserPrompts:    []string{"›", ">"},
		ResponseGlyphs: []string{"•"},
		Match:          MatchPrefix,
		CaptureOrder:   []tmux.CaptureMode{tmux.CaptureAlternate, tmux.CaptureHistory},
		InterruptKey:   "Escape",
	},
	domain.AgentKindGeneric: {
		Kind:         domain.AgentKindGeneric,
		UserPrompts:  []string{">", "$", "#"},
		Match:        MatchPrefix,
		CaptureOrder: []tmux.CaptureMode{tmux.CaptureHistory, tmux.CaptureAlternate},
		InterruptKey: "C-c",
	},
}

// GrammarFor returns the grammar for kind, falling back to the generic one.
func GrammarFor(kind domain.AgentKind) Grammar {
	if g, ok := grammars[kind]; ok {
		return g
	}
	return grammars[domain.AgentKindGeneric]
}

// userPromptRemainder returns the text after a user prompt glyph, and whether line is a prompt line.
func (g Grammar) userPromptRemainder(line string) (string, bool) {
	trimmed := strings.TrimLeft(line, " \t")
	for _, p := range g.UserPrompts {
		if strings.HasPrefix(trimmed, p) {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, p)), true
		}
	}
	return "", false
}

// isPromptAtColumnZero reports whether line is an unindented user prompt, empty or not.
func (g Grammar) isPromptAtColumnZero(line string) bool {
	for _, p := range g.UserPrompts {
		if strings.HasPrefix(line, p) {
			rest := strings.TrimPrefix(line, p)
			if rest == "" || strings.HasPrefix(rest, " ") || strings.HasPrefix(rest, "\u00a0") {
				return true
			}
		}
	}
	return false
}

func (g Grammar) responseGlyph(line string) (string, bool) {
	trimmed := strings.TrimLeft(line, " \t")
	for _, glyph := range g.ResponseGlyphs {
		if strings.HasPrefix(trimmed, glyph) {
			return glyph, true
		}
	}
	return "", false
}

// matchesEcho compares a prompt echo against what was sent.
func (g Grammar) matchesEcho(echo, expected string) bool {
	echo = Normalize(echo)
	key := firstLine(expected)
	if key == "" {
		return echo != ""
	}
	if echo == "" {
		return false
	}
	switch g.Match {
	case MatchPrefix:
		return strings.HasPrefix(echo, runePrefix(key, prefixRunes)) ||
			strings.HasPrefix(key, runePrefix(echo, prefixRunes))
	default:
		if strings.Contains(echo, key) {
			return true
		}
		return len([]rune(echo)) >= prefixRunes && strings.Contains(key, echo)
	}
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if n := Normalize(line); n != "" {
			return n
		}
	}
	return ""
}

func runePrefix(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
