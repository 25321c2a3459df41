package extract

import (
	"regexp"
	"strings"
)

// metadataPhrases are status-bar and footer texts agents draw below a reply.
var metadataPhrases = []string{
	"esc to interrupt",
	"esc to cancel",
	"? for shortcuts",
	"accept edits on",
	"auto-accept edits",
	"bypass permissions on",
	"plan mode on",
	"ctrl+c to exit",
	"ctrl+t to show",
	"press up to edit queued",
	"context left",
	"tokens used",
	"no sandbox",
	"yolo mode",
	"type your message",
	"⏎ send",
}

func isMetadata(line string) bool {
	lower := strings.ToLower(strings.TrimSpace(line))
	if lower == "" {
		return false
	}
	for _, p := range metadataPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// ExtractResponse recovers the agent reply to expected from a raw pane capture.
// It returns "" when the echo of expected cannot be found.
func ExtractResponse(raw string, g Grammar, expected string) string {
	lines := SplitLines(raw)

	user := -1
	for i := len(lines) - 1; i >= 0; i-- {
		if IsBoxDrawing(lines[i]) {
			continue
		}
		rest, ok := g.userPromptRemainder(lines[i])
		if ok && g.matchesEcho(rest, expected) {
			user = i
			break
		}
	}
	if user < 0 {
		return ""
	}

	start := user + 1
	if len(g.ResponseGlyphs) > 0 {
		start = -1
		for i := user + 1; i < len(lines); i++ {
			if isBoundary(lines[i], g) {
				return ""
			}
			if _, ok := g.responseGlyph(lines[i]); ok {
				start = i
				break
			}
		}
		if start < 0 {
			return ""
		}
	}

	var out []string
	for i := start; i < len(lines); i++ {
		line := lines[i]
		if isBoundary(line, g) {
			break
		}
		if glyph, ok := g.responseGlyph(line); ok {
			line = strings.TrimLeft(line, " \t")
			line = strings.TrimPrefix(line, glyph)
			line = strings.TrimPrefix(line, " ")
		} else {
			line = strings.TrimPrefix(line, "  ")
		}
		out = append(out, line)
	}

	for len(out) > 0 && strings.TrimSpace(out[0]) == "" {
		out = out[1:]
	}
	for len(out) > 0 && strings.TrimSpace(out[len(out)-1]) == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}

func isBoundary(line string, g Grammar) bool {
	return IsBoxDrawing(line) || g.isPromptAtColumnZero(line) || isMetadata(line)
}

// thinkingLine matches status lines agents show before they start answering.
var thinkingLine = regexp.MustCompile(`(?i)^(thinking|reasoning|working|processing|generating|pondering|cogitating|analyzing|analysing|loading|connecting|waiting|planning)(…|\.\.\.)?(\s*\(.*\))?$`)

// spinnerLead matches a line led by a spinner glyph.
var spinnerLead = regexp.MustCompile(`^[\p{Braille}✻✽✢✳✶∗◐◓◑◒]`)

// IsThinkingLine reports whether line is a progress indicator rather than reply text.
func IsThinkingLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	if spinnerLead.MatchString(trimmed) {
		return true
	}
	return thinkingLine.MatchString(trimmed)
}

// StripThinking removes progress indicator lines from extracted text.
func StripThinking(text string) string {
	if text == "" {
		return text
	}
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if !IsThinkingLine(line) {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// LooksLikeResponse reports whether text contains actual reply content.
func LooksLikeResponse(text string) bool {
	return StripThinking(text) != ""
}
