package eventbus

import (
	"log/slog"
	"strings"
	"sync"
)

// DriftValidationIntegration flags when a cycle's reported achievements
// diverge from the mission's original key objectives beyond a configurable
// threshold.
type DriftValidationIntegration struct {
	BaseHandler

	Threshold float64

	mu             sync.Mutex
	keyObjectives  []string
	driftScore     float64
}

// NewDriftValidationIntegration creates a drift detector with the given
// alignment threshold (0 = perfectly aligned, 1 = fully drifted).
func NewDriftValidationIntegration(threshold float64) *DriftValidationIntegration {
	d := &DriftValidationIntegration{Threshold: threshold}
	d.InitBase("drift_validation", PriorityNormal, []EventType{
		MissionStarted, StageCompleted, CycleCompleted,
	}, nil)
	return d
}

func (d *DriftValidationIntegration) HandleEvent(event Event) error {
	switch event.Type {
	case MissionStarted:
		d.mu.Lock()
		d.keyObjectives = stringSlice(event.Data["objectives"])
		d.driftScore = 0
		d.mu.Unlock()
	case StageCompleted:
		if event.Stage == "ANALYZING" {
			d.checkDrift(event)
		}
	case CycleCompleted:
		d.checkDrift(event)
	}
	return nil
}

func (d *DriftValidationIntegration) checkDrift(event Event) {
	achievements := stringSlice(event.Data["achievements"])

	d.mu.Lock()
	objectives := append([]string(nil), d.keyObjectives...)
	d.mu.Unlock()

	if len(objectives) == 0 {
		return
	}

	addressed := 0
	for _, obj := range objectives {
		objLower := strings.ToLower(obj)
		for _, a := range achievements {
			if strings.Contains(strings.ToLower(a), objLower) {
				addressed++
				break
			}
		}
	}

	alignment := float64(addressed) / float64(len(objectives))
	score := 1.0 - alignment

	d.mu.Lock()
	d.driftScore = score
	d.mu.Unlock()

	if score > d.Threshold {
		slog.Warn("mission drift detected", "drift_score", score, "objectives_addressed", addressed, "objectives_total", len(objectives))
	}
}

// DriftScore returns the most recently computed drift score.
func (d *DriftValidationIntegration) DriftScore() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.driftScore
}

// IsDrifting reports whether the current drift score exceeds the threshold.
func (d *DriftValidationIntegration) IsDrifting() bool {
	return d.DriftScore() > d.Threshold
}

func stringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		if s, ok := v.([]string); ok {
			return s
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

var _ Handler = (*DriftValidationIntegration)(nil)
