package mission

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store owns the mission record on disk. It loads on first access, caches in
// memory, and persists every mutation atomically (temp file, fsync, rename).
// Reads never fail the caller: a missing, unreadable or corrupt file degrades
// to a fresh default record; the unreadable and corrupt cases also log a
// warning. Writes return the first error they hit.
type Store struct {
	path     string
	autoSave bool

	mu      sync.Mutex
	mission *Mission
	loaded  bool
}

// NewStore creates a Store backed by the JSON file at path. autoSave mirrors
// the source system's auto_save flag: when false, mutations only touch the
// in-memory copy until Flush is called explicitly.
func NewStore(path string, autoSave bool) *Store {
	return &Store{path: path, autoSave: autoSave}
}

// Mission returns the cached mission record, loading it from disk first if
// this is the first access.
func (s *Store) Mission() *Mission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsafeMission()
}

func (s *Store) unsafeMission() *Mission {
	if !s.loaded {
		s.unsafeLoad()
	}
	return s.mission
}

// Load reads the mission record from disk, replacing the in-memory copy.
func (s *Store) Load() *Mission {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsafeLoad()
	return s.mission
}

func (s *Store) unsafeLoad() {
	def := defaultMission(time.Now())

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("failed to load mission", "path", s.path, "error", err)
		}
		s.mission = def
		s.loaded = true
		return
	}

	var m Mission
	if err := json.Unmarshal(data, &m); err != nil {
		slog.Warn("failed to parse mission file, using default", "path", s.path, "error", err)
		s.mission = def
		s.loaded = true
		return
	}

	s.mission = &m
	s.loaded = true
	slog.Debug("loaded mission", "path", s.path)
}

// Save persists the in-memory mission record atomically.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsafeSave()
}

func (s *Store) unsafeSave() error {
	m := s.unsafeMission()
	m.LastUpdated = time.Now()

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal mission: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create mission directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".mission-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write mission: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to fsync mission: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to rename mission into place: %w", err)
	}

	slog.Debug("saved mission", "path", s.path)
	return nil
}

func (s *Store) maybeSave() error {
	if s.autoSave {
		return s.unsafeSave()
	}
	return nil
}

// Flush persists the mission record regardless of the autoSave setting.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsafeSave()
}

// NewMissionID returns a fresh mission identifier.
func NewMissionID() string {
	return uuid.NewString()
}

// MissionID returns the current mission's id.
func (s *Store) MissionID() string {
	return s.Mission().MissionID
}

// CurrentStage returns the current stage.
func (s *Store) CurrentStage() Stage {
	return s.Mission().CurrentStage
}

// Iteration returns the current iteration counter.
func (s *Store) Iteration() int {
	return s.Mission().Iteration
}

// CycleNumber returns the current cycle number.
func (s *Store) CycleNumber() int {
	return s.Mission().CurrentCycle
}

// CycleBudget returns the total number of cycles budgeted for this mission.
func (s *Store) CycleBudget() int {
	return s.Mission().CycleBudget
}

// History returns the mission's history entries.
func (s *Store) History() []HistoryEntry {
	return s.Mission().History
}

// CycleHistory returns the completed-cycle summaries. The Store is the sole
// owner of this slice; callers (including the cycle manager) never keep or
// mutate their own copy.
func (s *Store) CycleHistory() []CycleRecord {
	return s.Mission().CycleHistory
}

// LogHistory appends a history entry and persists it (subject to autoSave).
func (s *Store) LogHistory(event string, details map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.unsafeMission()
	entry := HistoryEntry{
		Timestamp: time.Now(),
		Stage:     m.CurrentStage,
		Event:     event,
		Details:   details,
	}
	m.History = append(m.History, entry)
	return s.maybeSave()
}

// IncrementIteration bumps the iteration counter and returns its new value.
func (s *Store) IncrementIteration() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.unsafeMission()
	m.Iteration++
	if err := s.maybeSave(); err != nil {
		return m.Iteration, err
	}
	return m.Iteration, nil
}

// AdvanceCycle records a summary of the completed cycle, advances to the next
// cycle, and resets the iteration counter (invariant I2). Returns the new
// cycle number.
func (s *Store) AdvanceCycle(continuationPrompt string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.unsafeMission()
	m.CycleHistory = append(m.CycleHistory, CycleRecord{
		Cycle:              m.CurrentCycle,
		CompletedAt:        time.Now(),
		IterationCount:     m.Iteration,
		ContinuationPrompt: continuationPrompt,
	})

	m.CurrentCycle++
	m.Iteration = 0

	if err := s.maybeSave(); err != nil {
		return m.CurrentCycle, err
	}
	slog.Info("advanced to next cycle", "cycle", m.CurrentCycle)
	return m.CurrentCycle, nil
}

// UpdateStage transitions to newStage, logs the transition in history, and
// returns the stage being left.
func (s *Store) UpdateStage(newStage Stage) (Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.unsafeMission()
	old := m.CurrentStage
	m.CurrentStage = newStage
	m.LastUpdated = time.Now()

	m.History = append(m.History, HistoryEntry{
		Timestamp: time.Now(),
		Stage:     old,
		Event:     fmt.Sprintf("stage transition: %s -> %s", old, newStage),
	})

	if err := s.maybeSave(); err != nil {
		return old, err
	}
	return old, nil
}

// GetField reads an arbitrary field from preferences for callers that need
// dynamic lookup; key lookups that miss return ok=false.
func (s *Store) GetField(key string) (any, bool) {
	m := s.Mission()
	v, ok := m.Preferences[key]
	return v, ok
}

// SetField sets an arbitrary preference field and persists it.
func (s *Store) SetField(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.unsafeMission()
	if m.Preferences == nil {
		m.Preferences = map[string]any{}
	}
	m.Preferences[key] = value
	return s.maybeSave()
}

// WorkspaceDir returns the mission's workspace directory, falling back to
// "./workspace" when none is configured.
func (s *Store) WorkspaceDir() string {
	m := s.Mission()
	if m.MissionWorkspace != "" {
		return m.MissionWorkspace
	}
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return filepath.Join(cwd, "workspace")
}

// ArtifactsDir returns the workspace's artifacts subdirectory.
func (s *Store) ArtifactsDir() string { return filepath.Join(s.WorkspaceDir(), "artifacts") }

// ResearchDir returns the workspace's research subdirectory.
func (s *Store) ResearchDir() string { return filepath.Join(s.WorkspaceDir(), "research") }

// TestsDir returns the workspace's tests subdirectory.
func (s *Store) TestsDir() string { return filepath.Join(s.WorkspaceDir(), "tests") }
