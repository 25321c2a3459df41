package discussion

import (
	"fmt"
	"strings"
)

// peerText is one other participant's contribution quoted into a prompt.
type peerText struct {
	Name string
	Text string
}

func clip(text string, limit int) string {
	r := []rune(strings.TrimSpace(text))
	if limit <= 0 || len(r) <= limit {
		return string(r)
	}
	return string(r[:limit]) + "…"
}

func evaluationPrompt(question string, peers []peerText, clipChars int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Other participants answered this question: %s\n\n", question)
	for _, p := range peers {
		fmt.Fprintf(&b, "[%s]\n%s\n\n", p.Name, clip(p.Text, clipChars))
	}
	b.WriteString("Critique each answer and score it on its own line in the form \"Name: X/10\":\n")
	for _, p := range peers {
		fmt.Fprintf(&b, "%s: X/10\n", p.Name)
	}
	return strings.TrimRight(b.String(), "\n")
}

func revisionPrompt(question string, critiques []peerText, clipChars int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nOther participants reviewed your answer:\n\n", question)
	for _, c := range critiques {
		fmt.Fprintf(&b, "[%s]\n%s\n\n", c.Name, clip(c.Text, clipChars))
	}
	b.WriteString("Taking this feedback into account, give your revised final answer.")
	return b.String()
}
