// Package extract recovers a single agent turn from raw terminal scrollback.
package extract

import (
	"regexp"
	"strings"
)

// ansiRegex matches CSI sequences, OSC sequences terminated by BEL or ST, and two-byte escapes.
var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\a\x1b]*(?:\a|\x1b\\)|\x1b[()][A-Za-z0-9]|\x1b[=>78MDEc]`)

// StripANSI removes escape sequences and stray control bytes. Blank lines are preserved.
func StripANSI(s string) string {
	if s == "" {
		return s
	}
	s = ansiRegex.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case r < 0x20 || r == 0x7f:
			return -1
		}
		return r
	}, s)
}

// SplitLines strips escapes and splits into lines, dropping trailing padding rows.
func SplitLines(raw string) []string {
	clean := StripANSI(raw)
	if clean == "" {
		return nil
	}
	lines := strings.Split(clean, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t")
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// LastLines returns at most n trailing lines.
func LastLines(lines []string, n int) []string {
	if n <= 0 || len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}

var boxDrawing = "│├└─┌┐┘┤┬┴┼╭╰╮╯═║╔╗╚╝▔▁━┃"

// IsBoxDrawing reports whether the line begins with a box-drawing rune after indentation.
func IsBoxDrawing(line string) bool {
	trimmed := strings.TrimLeft(line, " \t")
	if trimmed == "" {
		return false
	}
	for _, r := range trimmed {
		return strings.ContainsRune(boxDrawing, r)
	}
	return false
}

// IsDecorative reports whether a line carries no text beyond box-drawing and separators.
func IsDecorative(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return true
	}
	for _, r := range trimmed {
		if !strings.ContainsRune(boxDrawing, r) && r != ' ' && r != '-' && r != '=' && r != '·' {
			return false
		}
	}
	return true
}

var spaceRun = regexp.MustCompile(`\s+`)

// Normalize collapses whitespace runs so echoes can be compared with what was sent.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}
