// Package choice recognises numbered menus an agent is blocked on.
package choice

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xiaot623/agentmux/internal/domain"
	"github.com/xiaot623/agentmux/internal/extract"
)

const (
	hintRadius   = 6
	contextLines = 3
)

var optionLine = regexp.MustCompile(`^(?:[❯›>▶→●○◉◯*]\s*)?(\d{1,2})[.)]\s+(\S.*)$`)

var hintPhrases = []string{
	"press enter",
	"enter to confirm",
	"enter to select",
	"enter to continue",
	"use arrow",
	"arrow keys",
	"↑/↓",
	"↑↓",
	"esc to exit",
	"esc to cancel",
	"esc to go back",
	"to navigate",
	"select an option",
	"choose an option",
}

// stripFrame removes box borders so menus drawn inside a frame parse like bare ones.
func stripFrame(line string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(line), "│┃║|"))
}

func isHint(line string) bool {
	lower := strings.ToLower(line)
	for _, p := range hintPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func parseOption(line string) (domain.ChoiceOption, bool) {
	m := optionLine.FindStringSubmatch(stripFrame(line))
	if m == nil {
		return domain.ChoiceOption{}, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return domain.ChoiceOption{}, false
	}
	return domain.ChoiceOption{Number: n, Label: strings.TrimSpace(m[2])}, true
}

// Detect inspects the last tailLines of a pane capture and returns the menu the agent is
// waiting on, or nil.
func Detect(raw string, tailLines int) *domain.InteractiveChoicePrompt {
	lines := extract.LastLines(extract.SplitLines(raw), tailLines)

	last := -1
	for i := len(lines) - 1; i >= 0; i-- {
		if _, ok := parseOption(lines[i]); ok {
			last = i
			break
		}
	}
	if last < 0 {
		return nil
	}

	// Output below the menu means it was already answered.
	for _, l := range lines[last+1:] {
		if extract.IsDecorative(l) || isHint(stripFrame(l)) {
			continue
		}
		return nil
	}

	var options []domain.ChoiceOption
	first := last
	for i := last; i >= 0; i-- {
		if extract.IsDecorative(lines[i]) || stripFrame(lines[i]) == "" {
			continue
		}
		opt, ok := parseOption(lines[i])
		if !ok {
			break
		}
		options = append(options, opt)
		first = i
	}
	if len(options) < 2 {
		return nil
	}
	for i, j := 0, len(options)-1; i < j; i, j = i+1, j-1 {
		options[i], options[j] = options[j], options[i]
	}
	seen := make(map[int]bool, len(options))
	for _, o := range options {
		if seen[o.Number] {
			return nil
		}
		seen[o.Number] = true
	}

	hint := findHint(lines, first, last)
	if hint == "" {
		return nil
	}

	var ctx []string
	for i := first - 1; i >= 0 && len(ctx) < contextLines; i-- {
		l := stripFrame(lines[i])
		if extract.IsDecorative(lines[i]) || l == "" || isHint(l) {
			continue
		}
		ctx = append(ctx, l)
	}

	p := &domain.InteractiveChoicePrompt{
		Hint:       hint,
		Options:    options,
		DetectedAt: time.Now(),
	}
	if len(ctx) > 0 {
		p.Title = ctx[0]
		var body []string
		for i := len(ctx) - 1; i >= 1; i-- {
			body = append(body, ctx[i])
		}
		p.Body = strings.Join(body, "\n")
	} else {
		p.Title = "Choose an option"
	}
	return p
}

// findHint returns the hint line nearest the option block, searching hintRadius lines
// above and below it.
func findHint(lines []string, first, last int) string {
	for d := 1; d <= hintRadius; d++ {
		if i := last + d; i < len(lines) {
			if l := stripFrame(lines[i]); isHint(l) {
				return l
			}
		}
		if i := first - d; i >= 0 {
			if l := stripFrame(lines[i]); isHint(l) {
				return l
			}
		}
	}
	return ""
}
