package contextwatcher

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_ReturnsSingleton(t *testing.T) {
	w1 := Get()
	w2 := Get()
	assert.Same(t, w1, w2)
}

func TestContextWatcher_StartAndStopWatching(t *testing.T) {
	w := &ContextWatcher{sessions: map[string]*SessionMonitor{}}

	id := w.StartWatching(t.TempDir(), func(HandoffSignal) {}, false)
	assert.Equal(t, 1, w.SessionCount())

	w.StopWatching(id)
	assert.Equal(t, 0, w.SessionCount())
}

func TestContextWatcher_StopAll(t *testing.T) {
	w := &ContextWatcher{sessions: map[string]*SessionMonitor{}}

	w.StartWatching(t.TempDir(), func(HandoffSignal) {}, false)
	w.StartWatching(t.TempDir(), func(HandoffSignal) {}, false)
	assert.Equal(t, 2, w.SessionCount())

	w.StopAll()
	assert.Equal(t, 0, w.SessionCount())
}

func TestFindTranscriptDir_MissingDirReturnsFalse(t *testing.T) {
	t.Setenv("CLAUDE_PROJECTS_DIR", t.TempDir())
	_, ok := FindTranscriptDir("/does/not/exist/workspace")
	assert.False(t, ok)
}

func TestIsPModeSession_SingleUserTurn(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/session.jsonl"
	content := `{"type":"user","message":{}}
{"type":"assistant","message":{"usage":{}}}
`
	writeFile(t, path, content)
	assert.True(t, IsPModeSession(path))
}

func TestIsPModeSession_MultipleUserTurnsIsInteractive(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/session.jsonl"
	content := `{"type":"user","message":{}}
{"type":"assistant","message":{"usage":{}}}
{"type":"user","message":{}}
`
	writeFile(t, path, content)
	assert.False(t, IsPModeSession(path))
}

func TestContextWatcher_CleanupStaleRemovesIdleSessions(t *testing.T) {
	w := &ContextWatcher{sessions: map[string]*SessionMonitor{}}
	id := w.StartWatching(t.TempDir(), func(HandoffSignal) {}, false)

	removed := w.CleanupStale(-1 * time.Second)
	assert.Contains(t, removed, id)
	assert.Equal(t, 0, w.SessionCount())
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
