// Package transcript reads the JSONL conversation logs agents persist and links
// a sent message to the assistant entries that answer it.
package transcript

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Entry is one line of a JSONL transcript.
type Entry struct {
	Type        string   `json:"type"`
	UUID        string   `json:"uuid"`
	ParentUUID  string   `json:"parentUuid"`
	Timestamp   string   `json:"timestamp"`
	IsSidechain bool     `json:"isSidechain"`
	IsMeta      bool     `json:"isMeta"`
	Message     *Message `json:"message"`
}

// Message is the role and content carried by an entry.
type Message struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// Time parses the entry timestamp; the zero time is returned when absent or malformed.
func (e *Entry) Time() time.Time {
	if e.Timestamp == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, e.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// IsUserTurn reports whether the entry is a message typed by the user. Tool results are
// delivered as user entries but only link the chain.
func (e *Entry) IsUserTurn() bool {
	if e.Type != "user" || e.Message == nil || e.IsMeta || e.IsSidechain {
		return false
	}
	if e.Message.Content.HasToolResult() {
		return false
	}
	return strings.TrimSpace(e.Message.Content.Text()) != ""
}

// IsAssistant reports whether the entry was written by the agent.
func (e *Entry) IsAssistant() bool {
	return e.Type == "assistant" && e.Message != nil && !e.IsSidechain
}

// Segment is one block of message content.
type Segment interface {
	Kind() string
}

// TextSegment is plain text.
type TextSegment struct {
	Text string `json:"text"`
}

// ToolUseSegment is a tool invocation by the agent.
type ToolUseSegment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ToolResultSegment carries a tool's output back to the agent.
type ToolResultSegment struct {
	ToolUseID string `json:"tool_use_id"`
}

// ThinkingSegment is hidden reasoning.
type ThinkingSegment struct {
	Thinking string `json:"thinking"`
}

func (TextSegment) Kind() string       { return "text" }
func (ToolUseSegment) Kind() string    { return "tool_use" }
func (ToolResultSegment) Kind() string { return "tool_result" }
func (ThinkingSegment) Kind() string   { return "thinking" }

// Content is either a bare string or a list of typed segments.
type Content []Segment

// UnmarshalJSON decodes both content shapes. Segment types it does not know are dropped.
func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Content{TextSegment{Text: s}}
		return nil
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return fmt.Errorf("content: %w", err)
	}
	out := make(Content, 0, len(raws))
	for _, raw := range raws {
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			continue
		}
		var seg Segment
		switch head.Type {
		case "text":
			var s TextSegment
			if json.Unmarshal(raw, &s) == nil {
				seg = s
			}
		case "tool_use":
			var s ToolUseSegment
			if json.Unmarshal(raw, &s) == nil {
				seg = s
			}
		case "tool_result":
			var s ToolResultSegment
			if json.Unmarshal(raw, &s) == nil {
				seg = s
			}
		case "thinking":
			var s ThinkingSegment
			if json.Unmarshal(raw, &s) == nil {
				seg = s
			}
		}
		if seg != nil {
			out = append(out, seg)
		}
	}
	*c = out
	return nil
}

// Text joins the text segments.
func (c Content) Text() string {
	var parts []string
	for _, seg := range c {
		if t, ok := seg.(TextSegment); ok && t.Text != "" {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// HasToolResult reports whether any segment is a tool result.
func (c Content) HasToolResult() bool {
	for _, seg := range c {
		if _, ok := seg.(ToolResultSegment); ok {
			return true
		}
	}
	return false
}

// HasToolUse reports whether any segment is a tool invocation.
func (c Content) HasToolUse() bool {
	for _, seg := range c {
		if _, ok := seg.(ToolUseSegment); ok {
			return true
		}
	}
	return false
}

// ParseFile reads every decodable entry of a transcript in file order.
func ParseFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads entries from r, skipping blank and malformed lines.
func Parse(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256*1024), 32*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			// A partially flushed trailing line parses on the next poll.
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("failed to scan transcript: %w", err)
	}
	return entries, nil
}
