package contextwatcher

import (
	"sync"
	"time"
)

// LiveCheck reports whether sessionID is still registered with the owning
// watcher. TimeBasedHandoffMonitor consults it immediately before firing so
// a timer that outlives its session's cleanup never signals a zombie
// handoff.
type LiveCheck func(sessionID string) bool

// TimeBasedHandoffMonitor fires a time_based HandoffSignal once, after
// timeoutMinutes have elapsed, unless cancelled first. It owns no reference
// back to its session: it looks the session up by id through isLive.
type TimeBasedHandoffMonitor struct {
	sessionID     string
	workspacePath string
	callback      Callback
	timeout       time.Duration
	isLive        LiveCheck

	mu        sync.Mutex
	timer     *time.Timer
	startedAt time.Time
	fired     bool
	cancelled bool
}

// NewTimeBasedHandoffMonitor builds a monitor that has not yet started.
// isLive may be nil, in which case the zombie check is skipped.
func NewTimeBasedHandoffMonitor(sessionID, workspacePath string, callback Callback, timeoutMinutes float64, isLive LiveCheck) *TimeBasedHandoffMonitor {
	return &TimeBasedHandoffMonitor{
		sessionID:     sessionID,
		workspacePath: workspacePath,
		callback:      callback,
		timeout:       time.Duration(timeoutMinutes * float64(time.Minute)),
		isLive:        isLive,
	}
}

// Start arms the timer. A second call is ignored — the timer fires at most
// once regardless of how many times Start is called.
func (m *TimeBasedHandoffMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		return
	}
	m.startedAt = time.Now()
	m.timer = time.AfterFunc(m.timeout, m.fire)
}

func (m *TimeBasedHandoffMonitor) fire() {
	m.mu.Lock()
	if m.cancelled || m.fired {
		m.mu.Unlock()
		return
	}
	if m.isLive != nil && !m.isLive(m.sessionID) {
		m.mu.Unlock()
		return
	}
	m.fired = true
	elapsed := time.Since(m.startedAt).Minutes()
	cb := m.callback
	sessionID := m.sessionID
	workspacePath := m.workspacePath
	m.mu.Unlock()

	if cb == nil {
		return
	}
	cb(HandoffSignal{
		Level:          HandoffTimeBased,
		SessionID:      sessionID,
		WorkspacePath:  workspacePath,
		ElapsedMinutes: &elapsed,
		Timestamp:      time.Now(),
	})
}

// Cancel stops the timer before it fires. Safe to call multiple times and
// after the timer has already fired.
func (m *TimeBasedHandoffMonitor) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = true
	if m.timer != nil {
		m.timer.Stop()
	}
}

// Stop is an alias for Cancel.
func (m *TimeBasedHandoffMonitor) Stop() { m.Cancel() }

// HasFired reports whether the timer has already fired.
func (m *TimeBasedHandoffMonitor) HasFired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fired
}

// IsCancelled reports whether the timer was cancelled.
func (m *TimeBasedHandoffMonitor) IsCancelled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled
}

// ElapsedSeconds returns how long the timer has been running.
func (m *TimeBasedHandoffMonitor) ElapsedSeconds() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startedAt.IsZero() {
		return 0
	}
	return time.Since(m.startedAt).Seconds()
}

// RemainingSeconds returns how long until the timer fires, never negative.
func (m *TimeBasedHandoffMonitor) RemainingSeconds() float64 {
	remaining := m.timeout.Seconds() - m.ElapsedSeconds()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// GetStats returns a snapshot suitable for a session's status report.
func (m *TimeBasedHandoffMonitor) GetStats() map[string]any {
	m.mu.Lock()
	startedAt := m.startedAt
	fired := m.fired
	cancelled := m.cancelled
	m.mu.Unlock()

	return map[string]any{
		"session_id":      m.sessionID,
		"timeout_minutes": m.timeout.Minutes(),
		"fired":           fired,
		"cancelled":       cancelled,
		"started_at":      startedAt,
		"elapsed_seconds": m.ElapsedSeconds(),
	}
}
