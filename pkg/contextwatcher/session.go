package contextwatcher

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const pollInterval = 500 * time.Millisecond

// SessionMonitor owns one workspace's transcript tail: a file position
// cursor, a last-activity timestamp, the highest TokenState observed so
// far, and an optional time-based handoff timer. It fires its callback at
// most once per handoff level of either kind — further records after a
// token-based fire are scored but never re-signal.
type SessionMonitor struct {
	sessionID     string
	workspacePath string
	transcriptDir string
	callback      Callback

	mu            sync.Mutex
	currentFile   string
	position      int64
	lastActivity  time.Time
	highest       TokenState
	tokenFired    bool
	timeHandoffOn bool
	timeMonitor   *TimeBasedHandoffMonitor

	stopCh chan struct{}
	doneCh chan struct{}
}

func newSessionMonitor(sessionID, workspacePath, transcriptDir string, callback Callback, enableTimeHandoff bool) *SessionMonitor {
	return &SessionMonitor{
		sessionID:     sessionID,
		workspacePath: workspacePath,
		transcriptDir: transcriptDir,
		callback:      callback,
		timeHandoffOn: enableTimeHandoff,
		lastActivity:  time.Now(),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Start begins tailing the transcript directory on a background goroutine.
// fsnotify drives the fast path; a ticker covers filesystems or events the
// watcher misses, so the loop meets its target cadence either way.
func (m *SessionMonitor) start() {
	go m.loop()
}

func (m *SessionMonitor) loop() {
	defer close(m.doneCh)

	var watcher *fsnotify.Watcher
	if m.transcriptDir != "" {
		if w, err := fsnotify.NewWatcher(); err == nil {
			if err := w.Add(m.transcriptDir); err == nil {
				watcher = w
				defer watcher.Close()
			} else {
				w.Close()
			}
		}
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if watcher != nil {
		events = watcher.Events
		errs = watcher.Errors
	}

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.scan()
		case _, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			m.scan()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("context watcher: fsnotify error", "session", m.sessionID, "error", err)
		}
	}
}

func (m *SessionMonitor) scan() {
	if m.transcriptDir == "" {
		dir, ok := FindTranscriptDir(m.workspacePath)
		if !ok {
			return
		}
		m.transcriptDir = dir
	}

	file, ok := latestJSONL(m.transcriptDir)
	if !ok {
		return
	}

	m.mu.Lock()
	if file != m.currentFile {
		m.currentFile = file
		m.position = 0
	}
	pos := m.position
	m.mu.Unlock()

	f, err := os.Open(file)
	if err != nil {
		slog.Warn("context watcher: transcript open failed", "session", m.sessionID, "path", file, "error", err)
		return
	}
	defer f.Close()

	if _, err := f.Seek(pos, io.SeekStart); err != nil {
		return
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var read int64
	for scanner.Scan() {
		line := scanner.Bytes()
		read += int64(len(line)) + 1
		m.processLine(line)
	}

	m.mu.Lock()
	m.position += read
	if read > 0 {
		m.lastActivity = time.Now()
	}
	m.mu.Unlock()
}

func (m *SessionMonitor) processLine(line []byte) {
	if len(line) == 0 {
		return
	}

	var record map[string]any
	if err := json.Unmarshal(line, &record); err != nil {
		return
	}

	if record["type"] != "assistant" {
		return
	}

	message, _ := record["message"].(map[string]any)
	usage, _ := message["usage"].(map[string]any)
	if usage == nil {
		return
	}

	requestID, _ := record["requestId"].(string)
	tokens := TokenStateFromUsage(usage, requestID)

	m.mu.Lock()
	if tokens.TotalContext() > m.highest.TotalContext() {
		m.highest = tokens
	}
	alreadyFired := m.tokenFired
	m.mu.Unlock()

	if alreadyFired {
		return
	}

	level, fires := DetectExhaustion(tokens.CacheCreationInputTokens, tokens.CacheReadInputTokens)
	if !fires {
		return
	}

	m.mu.Lock()
	m.tokenFired = true
	m.mu.Unlock()

	m.stopTimeHandoffMonitor()

	if m.callback != nil {
		m.callback(HandoffSignal{
			Level:         level,
			SessionID:     m.sessionID,
			WorkspacePath: m.workspacePath,
			TokensUsed:    tokens.TotalContext(),
			CacheRead:     tokens.CacheReadInputTokens,
			CacheCreation: tokens.CacheCreationInputTokens,
			Timestamp:     time.Now(),
		})
	}
}

// startTimeHandoffMonitor arms the time-based timer if enabled, both on the
// session and the process-wide TIME_BASED_HANDOFF_ENABLED flag.
func (m *SessionMonitor) startTimeHandoffMonitor(minutes float64, isLive LiveCheck) {
	if !TimeBasedHandoffEnabled || !m.timeHandoffOn {
		return
	}

	m.mu.Lock()
	if m.timeMonitor != nil {
		m.mu.Unlock()
		return
	}
	mon := NewTimeBasedHandoffMonitor(m.sessionID, m.workspacePath, m.onTimeHandoff, minutes, isLive)
	m.timeMonitor = mon
	m.mu.Unlock()

	mon.Start()
}

func (m *SessionMonitor) onTimeHandoff(signal HandoffSignal) {
	m.mu.Lock()
	alreadyFired := m.tokenFired
	m.mu.Unlock()
	if alreadyFired {
		return
	}
	if m.callback != nil {
		m.callback(signal)
	}
}

func (m *SessionMonitor) stopTimeHandoffMonitor() {
	m.mu.Lock()
	mon := m.timeMonitor
	m.timeMonitor = nil
	m.mu.Unlock()
	if mon != nil {
		mon.Cancel()
	}
}

func (m *SessionMonitor) stop() {
	close(m.stopCh)
	<-m.doneCh
	m.stopTimeHandoffMonitor()
}

// Stats renders a session's current observation for a status report.
func (m *SessionMonitor) Stats() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := map[string]any{
		"session_id":      m.sessionID,
		"workspace_path":  m.workspacePath,
		"last_activity":   m.lastActivity,
		"highest_context": m.highest.TotalContext(),
		"token_fired":     m.tokenFired,
	}
	if m.timeMonitor != nil {
		stats["time_handoff"] = m.timeMonitor.GetStats()
	}
	return stats
}

func (m *SessionMonitor) idleSince() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}

func latestJSONL(dir string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}

	var candidates []os.DirEntry
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".jsonl" {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}

	sort.Slice(candidates, func(i, j int) bool {
		iInfo, _ := candidates[i].Info()
		jInfo, _ := candidates[j].Info()
		if iInfo == nil || jInfo == nil {
			return false
		}
		return iInfo.ModTime().After(jInfo.ModTime())
	})

	return filepath.Join(dir, candidates[0].Name()), true
}
