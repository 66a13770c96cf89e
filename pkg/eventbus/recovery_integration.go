package eventbus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// RecoveryIntegration writes JSON checkpoint files at stage boundaries so a
// crashed run can resume. It runs at HIGH priority so its checkpoint lands
// before lower-priority integrations observe the same event.
type RecoveryIntegration struct {
	BaseHandler

	mu             sync.Mutex
	checkpointRoot string
	checkpointDir  string
	lastCheckpoint string
}

// NewRecoveryIntegration creates a recovery handler rooted at checkpointRoot;
// the mission-specific subdirectory is created on MISSION_STARTED.
func NewRecoveryIntegration(checkpointRoot string) *RecoveryIntegration {
	r := &RecoveryIntegration{checkpointRoot: checkpointRoot}
	r.InitBase("recovery", PriorityHigh, []EventType{
		StageStarted, StageCompleted, MissionStarted, ResponseReceived,
	}, nil)
	return r
}

func (r *RecoveryIntegration) HandleEvent(event Event) error {
	switch event.Type {
	case MissionStarted:
		r.mu.Lock()
		r.checkpointDir = filepath.Join(r.checkpointRoot, event.MissionID)
		err := os.MkdirAll(r.checkpointDir, 0o755)
		r.mu.Unlock()
		return err
	case StageStarted:
		return r.checkpoint(event, "stage_start")
	case StageCompleted:
		return r.checkpoint(event, "stage_complete")
	case ResponseReceived:
		return r.checkpoint(event, "response")
	}
	return nil
}

func (r *RecoveryIntegration) checkpoint(event Event, kind string) error {
	r.mu.Lock()
	dir := r.checkpointDir
	r.mu.Unlock()
	if dir == "" {
		return nil
	}

	payload := map[string]any{
		"type":       kind,
		"stage":      event.Stage,
		"mission_id": event.MissionID,
		"timestamp":  event.Timestamp,
		"data":       event.Data,
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("checkpoint_%s_%s.json", event.Stage, kind))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}

	r.mu.Lock()
	r.lastCheckpoint = path
	r.mu.Unlock()
	slog.Debug("recovery checkpoint written", "path", path)
	return nil
}

// LastCheckpoint returns the path of the most recently written checkpoint.
func (r *RecoveryIntegration) LastCheckpoint() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastCheckpoint
}

// RecoverFromCheckpoint reads back a checkpoint file for crash-recovery
// prompt injection (consumed by the prompt factory).
func RecoverFromCheckpoint(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", path, err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint %s: %w", path, err)
	}
	return out, nil
}

var _ Handler = (*RecoveryIntegration)(nil)
