package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xiaot623/agentmux/internal/domain"
)

func TestStripANSIPreservesBlankLines(t *testing.T) {
	raw := "\x1b[1;32mgreen\x1b[0m\r\n\r\n\x1b]0;title\x07plain\x1b[?25l"
	assert.Equal(t, "green\n\nplain", StripANSI(raw))
}

func TestExtractResponse(t *testing.T) {
	cases := []struct {
		name     string
		kind     domain.AgentKind
		lines    []string
		expected string
		want     string
	}{
		{
			name:     "gemini blank line kept",
			kind:     domain.AgentKindGemini,
			lines:    []string{"> hello", "✦ Hi there", "", "✦ how can I help?", "───"},
			expected: "hello",
			want:     "Hi there\n\nhow can I help?",
		},
		{
			name: "claude picks the matching echo not the latest",
			kind: domain.AgentKindClaude,
			lines: []string{
				"> first question",
				"⏺ first answer",
				"",
				"> second question",
				"⏺ second answer",
				"  continues here",
				"",
				"╭──────────────╮",
				"│ >            │",
				"╰──────────────╯",
				"  ? for shortcuts",
			},
			expected: "first question",
			want:     "first answer",
		},
		{
			name: "claude hanging indent removed",
			kind: domain.AgentKindClaude,
			lines: []string{
				"❯ explain the bug",
				"⏺ The bug is in the loop.",
				"  It never terminates.",
				"",
				"> ",
			},
			expected: "explain the bug",
			want:     "The bug is in the loop.\nIt never terminates.",
		},
		{
			name:     "codex stops at metadata",
			kind:     domain.AgentKindCodex,
			lines:    []string{"› run tests", "• All 12 tests pass.", "", "  ⏎ send   ⌃J newline   ⌃C quit"},
			expected: "run tests",
			want:     "All 12 tests pass.",
		},
		{
			name:     "echo not found",
			kind:     domain.AgentKindGemini,
			lines:    []string{"> something else", "✦ reply"},
			expected: "hello",
			want:     "",
		},
		{
			name:     "no reply yet",
			kind:     domain.AgentKindGemini,
			lines:    []string{"> hello", "", "⠋ Thinking..."},
			expected: "hello",
			want:     "",
		},
		{
			name:     "new prompt before reply",
			kind:     domain.AgentKindGemini,
			lines:    []string{"> hello", "> next", "✦ reply to next"},
			expected: "hello",
			want:     "",
		},
		{
			name:     "generic takes lines after echo",
			kind:     domain.AgentKindGeneric,
			lines:    []string{"$ echo hi", "hi", "$"},
			expected: "echo hi",
			want:     "hi",
		},
		{
			name:     "prefix match on long prompts",
			kind:     domain.AgentKindGemini,
			lines:    []string{"> please summarise the following document in three bullet points", "✦ Sure."},
			expected: "please summarise the following document in three bullet points and be brief",
			want:     "Sure.",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtractResponse(strings.Join(tc.lines, "\n"), GrammarFor(tc.kind), tc.expected)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestExtractResponseMultiLineExpectedUsesFirstLine(t *testing.T) {
	raw := "> review this\n⏺ Looks fine."
	got := ExtractResponse(raw, GrammarFor(domain.AgentKindClaude), "review this\nfunc main() {}\n")
	assert.Equal(t, "Looks fine.", got)
}

func TestThinkingLines(t *testing.T) {
	assert.True(t, IsThinkingLine("✻ Cogitating… (12s · esc to interrupt)"))
	assert.True(t, IsThinkingLine("⠙ Generating response"))
	assert.True(t, IsThinkingLine("Thinking..."))
	assert.False(t, IsThinkingLine("Working as intended."))
	assert.False(t, IsThinkingLine("The answer is 42"))

	assert.Equal(t, "Done.", StripThinking("Thinking...\nDone."))
	assert.False(t, LooksLikeResponse("⠋ Thinking..."))
	assert.True(t, LooksLikeResponse("Done."))
}

func TestGrammarForUnknownKindIsGeneric(t *testing.T) {
	g := GrammarFor("aider")
	assert.Equal(t, domain.AgentKindGeneric, g.Kind)
	assert.Equal(t, "C-c", g.InterruptKey)
	assert.True(t, GrammarFor(domain.AgentKindClaude).StructuredLog)
}
