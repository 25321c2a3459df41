package transcript

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func line(t *testing.T, v map[string]interface{}) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func user(t *testing.T, id, parent, ts, text string) string {
	return line(t, map[string]interface{}{
		"type": "user", "uuid": id, "parentUuid": parent, "timestamp": ts,
		"message": map[string]interface{}{"role": "user", "content": text},
	})
}

func assistant(t *testing.T, id, parent, text string) string {
	return line(t, map[string]interface{}{
		"type": "assistant", "uuid": id, "parentUuid": parent, "timestamp": "2026-01-01T00:00:10Z",
		"message": map[string]interface{}{"role": "assistant", "content": []interface{}{
			map[string]interface{}{"type": "text", "text": text},
		}},
	})
}

func toolUse(t *testing.T, id, parent string) string {
	return line(t, map[string]interface{}{
		"type": "assistant", "uuid": id, "parentUuid": parent,
		"message": map[string]interface{}{"role": "assistant", "content": []interface{}{
			map[string]interface{}{"type": "tool_use", "id": "tu1", "name": "Bash", "input": map[string]interface{}{}},
		}},
	})
}

func toolResult(t *testing.T, id, parent string) string {
	return line(t, map[string]interface{}{
		"type": "user", "uuid": id, "parentUuid": parent,
		"message": map[string]interface{}{"role": "user", "content": []interface{}{
			map[string]interface{}{"type": "tool_result", "tool_use_id": "tu1", "content": "ok"},
		}},
	})
}

func parse(t *testing.T, lines ...string) []Entry {
	t.Helper()
	entries, err := Parse(strings.NewReader(strings.Join(lines, "\n")))
	require.NoError(t, err)
	return entries
}

func TestContentDecodesBothShapes(t *testing.T) {
	entries := parse(t,
		user(t, "u1", "", "2026-01-01T00:00:00Z", "plain string"),
		`{"type":"assistant","uuid":"a1","parentUuid":"u1","message":{"role":"assistant","content":[{"type":"thinking","thinking":"hmm"},{"type":"server_widget","x":1},{"type":"text","text":"hello"}]}}`,
		`not json at all`,
		"",
	)
	require.Len(t, entries, 2)
	assert.Equal(t, "plain string", entries[0].Message.Content.Text())
	require.Len(t, entries[1].Message.Content, 2)
	assert.Equal(t, "thinking", entries[1].Message.Content[0].Kind())
	assert.Equal(t, "hello", entries[1].Message.Content.Text())
}

func TestToolResultIsNotUserTurn(t *testing.T) {
	entries := parse(t,
		user(t, "u1", "", "2026-01-01T00:00:00Z", "run it"),
		toolUse(t, "a1", "u1"),
		toolResult(t, "r1", "a1"),
	)
	assert.True(t, entries[0].IsUserTurn())
	assert.False(t, entries[2].IsUserTurn())
	assert.Equal(t, "u1", LatestTurnID(entries))
}

func TestFindTurnUsesBaselineAndFloor(t *testing.T) {
	entries := parse(t,
		user(t, "u1", "", "2026-01-01T00:00:00Z", "hello"),
		assistant(t, "a1", "u1", "old reply"),
		user(t, "u2", "a1", "2026-01-01T00:01:00Z", "hello"),
		assistant(t, "a2", "u2", "new reply"),
	)

	assert.Equal(t, 2, FindTurn(entries, "u1", "hello", time.Time{}))
	assert.Equal(t, 0, FindTurn(entries, "", "  hello\r\n", time.Time{}))
	floor, _ := time.Parse(time.RFC3339, "2026-01-01T00:00:30Z")
	assert.Equal(t, 2, FindTurn(entries, "", "hello", floor))
	assert.Equal(t, -1, FindTurn(entries, "u2", "hello", time.Time{}))
}

func TestChainLinksOutOfOrderAndSkipsUnrelated(t *testing.T) {
	entries := parse(t,
		user(t, "u1", "", "2026-01-01T00:00:00Z", "first"),
		assistant(t, "a3", "r1", "done after tool"),
		toolUse(t, "a1", "u1"),
		toolResult(t, "r1", "a1"),
		user(t, "u2", "a3", "2026-01-01T00:02:00Z", "second"),
		assistant(t, "b1", "u2", "unrelated"),
	)

	chain := Chain(entries, 0)
	var ids []string
	for _, e := range chain {
		ids = append(ids, e.UUID)
	}
	assert.Equal(t, []string{"a3", "a1", "r1"}, ids)
	assert.Equal(t, "done after tool", ResponseText(chain))
	assert.False(t, AwaitingTool(chain))

	pending := Chain(parse(t, user(t, "u1", "", "", "x"), toolUse(t, "a1", "u1")), 0)
	assert.True(t, AwaitingTool(pending))
}

func TestLocatorPicksNewestLog(t *testing.T) {
	root := t.TempDir()
	workDir := "/home/dev/my.project"
	dir := filepath.Join(root, EncodeProjectDir(workDir))
	assert.Equal(t, "-home-dev-my-project", EncodeProjectDir(workDir))
	require.NoError(t, os.MkdirAll(dir, 0o755))

	older := filepath.Join(dir, "a.jsonl")
	newer := filepath.Join(dir, "b.jsonl")
	require.NoError(t, os.WriteFile(older, []byte("{}\n"), 0o644))
	require.NoError(t, os.WriteFile(newer, []byte("{}\n"), 0o644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(older, past, past))

	got, err := Locator{ProjectsDir: root}.LogPath(workDir)
	require.NoError(t, err)
	assert.Equal(t, newer, got)

	_, err = Locator{ProjectsDir: root}.LogPath("/elsewhere")
	assert.ErrorIs(t, err, ErrNoLog)
}

func TestStreamWaitsForTargetThenCompletes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join([]string{
		user(t, "u1", "", "2026-01-01T00:00:00Z", "hello"),
		assistant(t, "a1", "u1", "old reply"),
	}, "\n")+"\n"), 0o644))

	turn := user(t, "u2", "a1", "2026-01-01T00:01:00Z", "hello") + "\n"
	reply := assistant(t, "a2", "u2", "fresh reply") + "\n"
	go func() {
		time.Sleep(40 * time.Millisecond)
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return
		}
		defer f.Close()
		f.WriteString(turn + reply)
	}()

	r := NewReader("")
	var updates []string
	res, err := r.Stream(context.Background(), Request{
		Path:         path,
		AfterTurnID:  "u1",
		ExpectedText: "hello",
		StableFor:    50 * time.Millisecond,
		MaxWait:      3 * time.Second,
		PollInterval: 10 * time.Millisecond,
	}, func(text string) { updates = append(updates, text) })

	require.NoError(t, err)
	assert.True(t, res.Complete)
	assert.Equal(t, "fresh reply", res.Text)
	assert.Equal(t, "u2", res.TurnID)
	assert.Equal(t, []string{"fresh reply"}, updates)
}

func TestStreamFollowsNewSessionFile(t *testing.T) {
	root := t.TempDir()
	workDir := t.TempDir()
	dir := filepath.Join(root, EncodeProjectDir(workDir))
	require.NoError(t, os.MkdirAll(dir, 0o755))

	old := filepath.Join(dir, "old.jsonl")
	require.NoError(t, os.WriteFile(old, []byte(strings.Join([]string{
		user(t, "u1", "", "2026-01-01T00:00:00Z", "hello"),
		assistant(t, "a1", "u1", "old reply"),
	}, "\n")+"\n"), 0o644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	fresh := filepath.Join(dir, "fresh.jsonl")
	content := strings.Join([]string{
		user(t, "n1", "", "2026-01-01T00:01:00Z", "hello"),
		assistant(t, "n2", "n1", "new reply"),
	}, "\n") + "\n"
	go func() {
		time.Sleep(40 * time.Millisecond)
		_ = os.WriteFile(fresh, []byte(content), 0o644)
	}()

	res, err := NewReader(root).Stream(context.Background(), Request{
		Path:         old,
		WorkDir:      workDir,
		AfterTurnID:  "u1",
		ExpectedText: "hello",
		MinTimestamp: time.Date(2026, 1, 1, 0, 0, 30, 0, time.UTC),
		StableFor:    50 * time.Millisecond,
		MaxWait:      3 * time.Second,
		PollInterval: 10 * time.Millisecond,
	}, nil)

	require.NoError(t, err)
	assert.True(t, res.Complete)
	assert.Equal(t, "new reply", res.Text)
	assert.Equal(t, "n1", res.TurnID)
	assert.Equal(t, fresh, res.Path)
}

func TestStreamTimesOutWithPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(user(t, "u1", "", "", "hi")+"\n"), 0o644))

	res, err := NewReader("").Stream(context.Background(), Request{
		Path:         path,
		ExpectedText: "hi",
		StableFor:    10 * time.Millisecond,
		MaxWait:      60 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	assert.False(t, res.Complete)
	assert.Equal(t, "", res.Text)
}

func TestLatestIsBestEffort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join([]string{
		user(t, "u1", "", "", "one"),
		assistant(t, "a1", "u1", "reply one"),
		user(t, "u2", "a1", "", "two"),
		assistant(t, "a2", "u2", "reply two"),
	}, "\n")), 0o644))

	res, err := NewReader("").Latest(path)
	require.NoError(t, err)
	assert.True(t, res.BestEffort)
	assert.True(t, res.Complete)
	assert.Equal(t, "reply two", res.Text)
}

func TestBaselineWithoutLog(t *testing.T) {
	path, id, err := NewReader(t.TempDir()).Baseline("/nowhere")
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Empty(t, id)
}
