package eventbus

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// SnapshotIntegration writes a point-in-time copy of the mission record
// whenever a cycle or the whole mission completes. It takes its content from
// snapshotSource rather than depending on the mission package directly, so
// the event bus stays decoupled from mission storage.
type SnapshotIntegration struct {
	BaseHandler

	dir            string
	snapshotSource func() ([]byte, error)
}

// NewSnapshotIntegration writes snapshots under dir, reading the mission
// record via source (typically mission.Store's marshaled record).
func NewSnapshotIntegration(dir string, source func() ([]byte, error)) *SnapshotIntegration {
	s := &SnapshotIntegration{dir: dir, snapshotSource: source}
	s.InitBase("snapshot", PriorityLow, []EventType{
		CycleCompleted, MissionCompleted,
	}, nil)
	return s
}

func (s *SnapshotIntegration) HandleEvent(event Event) error {
	data, err := s.snapshotSource()
	if err != nil {
		return fmt.Errorf("failed to read mission for snapshot: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	name := fmt.Sprintf("snapshot_%s_%s.json", event.MissionID, time.Now().Format("20060102T150405"))
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	slog.Debug("mission snapshot written", "path", path)
	return nil
}

var _ Handler = (*SnapshotIntegration)(nil)
