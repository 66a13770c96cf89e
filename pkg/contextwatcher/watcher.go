package contextwatcher

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Process-wide configuration, overridable from MissionConfig before the
// first call to Get.
var (
	ContextWatcherEnabled      = true
	TimeBasedHandoffEnabled    = true
	TimeBasedHandoffMinutes    = float64(DefaultTimeBasedHandoffMinutes)
	StaleSessionTimeoutMinutes = float64(DefaultStaleSessionTimeout)
)

// ClaudeProjectsDir returns the root directory under which per-project
// transcript directories live, honoring CLAUDE_PROJECTS_DIR if set.
func ClaudeProjectsDir() string {
	if dir := os.Getenv("CLAUDE_PROJECTS_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".claude", "projects")
}

// FindTranscriptDir locates the transcript directory for workspacePath
// under ClaudeProjectsDir, using the same path-encoding convention the
// owning CLI uses to name a project's directory (path separators replaced
// with hyphens).
func FindTranscriptDir(workspacePath string) (string, bool) {
	abs, err := filepath.Abs(workspacePath)
	if err != nil {
		return "", false
	}

	encoded := strings.ReplaceAll(abs, string(filepath.Separator), "-")
	candidate := filepath.Join(ClaudeProjectsDir(), encoded)

	info, err := os.Stat(candidate)
	if err != nil || !info.IsDir() {
		return "", false
	}
	return candidate, true
}

// IsPModeSession reports whether the transcript at jsonlPath looks like a
// single-shot, non-interactive invocation rather than a multi-turn
// interactive session: exactly one top-level user-authored record.
func IsPModeSession(jsonlPath string) bool {
	data, err := os.ReadFile(jsonlPath)
	if err != nil {
		return false
	}

	userTurns := 0
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			continue
		}
		if record["type"] == "user" {
			userTurns++
		}
	}
	return userTurns == 1
}

// ContextWatcher is a process-wide registry of SessionMonitors. It
// exclusively owns the session table and each session's file cursor.
type ContextWatcher struct {
	mu       sync.Mutex
	sessions map[string]*SessionMonitor
}

var (
	instance     *ContextWatcher
	instanceOnce sync.Once
)

// Get returns the process-wide ContextWatcher, creating it on first call.
func Get() *ContextWatcher {
	instanceOnce.Do(func() {
		instance = &ContextWatcher{sessions: map[string]*SessionMonitor{}}
	})
	return instance
}

// StartWatching registers a new session tailing workspacePath's transcript
// directory and returns its session id. If no transcript directory can be
// found yet, the session starts anyway and picks one up as soon as it
// appears on the next scan.
func (w *ContextWatcher) StartWatching(workspacePath string, callback Callback, enableTimeHandoff bool) string {
	sessionID := uuid.NewString()
	transcriptDir, _ := FindTranscriptDir(workspacePath)

	monitor := newSessionMonitor(sessionID, workspacePath, transcriptDir, callback, enableTimeHandoff)

	w.mu.Lock()
	w.sessions[sessionID] = monitor
	w.mu.Unlock()

	monitor.start()
	if enableTimeHandoff {
		monitor.startTimeHandoffMonitor(TimeBasedHandoffMinutes, w.isLive)
	}

	return sessionID
}

// StopWatching tears down the session's tailer and timer, and removes it
// from the registry.
func (w *ContextWatcher) StopWatching(sessionID string) {
	w.mu.Lock()
	monitor, ok := w.sessions[sessionID]
	delete(w.sessions, sessionID)
	w.mu.Unlock()

	if ok {
		monitor.stop()
	}
}

// StopAll tears down every registered session. Intended for process
// shutdown.
func (w *ContextWatcher) StopAll() {
	w.mu.Lock()
	ids := make([]string, 0, len(w.sessions))
	for id := range w.sessions {
		ids = append(ids, id)
	}
	w.mu.Unlock()

	for _, id := range ids {
		w.StopWatching(id)
	}
}

func (w *ContextWatcher) isLive(sessionID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.sessions[sessionID]
	return ok
}

// CleanupStale removes sessions whose tailer has seen no new transcript
// activity for longer than timeout, returning the ids removed.
func (w *ContextWatcher) CleanupStale(timeout time.Duration) []string {
	w.mu.Lock()
	var stale []string
	now := time.Now()
	for id, mon := range w.sessions {
		if now.Sub(mon.idleSince()) > timeout {
			stale = append(stale, id)
		}
	}
	w.mu.Unlock()

	for _, id := range stale {
		w.StopWatching(id)
	}
	return stale
}

// Stats returns a snapshot of every active session, keyed by session id.
func (w *ContextWatcher) Stats() map[string]map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make(map[string]map[string]any, len(w.sessions))
	for id, mon := range w.sessions {
		out[id] = mon.Stats()
	}
	return out
}

// SessionCount reports how many sessions are currently registered.
func (w *ContextWatcher) SessionCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sessions)
}
