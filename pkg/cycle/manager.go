// Package cycle manages multi-cycle mission iteration: budget tracking,
// continuation-prompt synthesis, and cycle-history reporting. All
// cycle-history mutation is delegated to pkg/mission.Store, which is the
// sole owner of the history list.
package cycle

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/forgepath/missionctl/pkg/eventbus"
	"github.com/forgepath/missionctl/pkg/mission"
)

// Manager coordinates cycle advancement on top of a mission store. It keeps
// no state of its own: every read and write passes through to the store.
type Manager struct {
	store *mission.Store
}

// NewManager builds a Manager bound to store.
func NewManager(store *mission.Store) *Manager {
	return &Manager{store: store}
}

// CurrentCycle returns the mission's current cycle number.
func (m *Manager) CurrentCycle() int { return m.store.CycleNumber() }

// CycleBudget returns the mission's total cycle budget.
func (m *Manager) CycleBudget() int { return m.store.CycleBudget() }

// CyclesRemaining returns how many cycles remain, never negative.
func (m *Manager) CyclesRemaining() int {
	remaining := m.CycleBudget() - m.CurrentCycle()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsLastCycle reports whether the mission has reached its final cycle.
func (m *Manager) IsLastCycle() bool { return m.CurrentCycle() >= m.CycleBudget() }

// ShouldContinue reports whether another cycle can be started.
func (m *Manager) ShouldContinue() bool { return m.CurrentCycle() < m.CycleBudget() }

// CycleHistory returns the mission's recorded cycle history.
func (m *Manager) CycleHistory() []mission.CycleRecord { return m.store.CycleHistory() }

// AdvanceResult describes the outcome of advancing to a new cycle.
type AdvanceResult struct {
	OldCycle           int
	NewCycle           int
	CyclesRemaining    int
	ContinuationPrompt string
}

// AdvanceCycle moves the mission to its next cycle, resetting iteration to
// zero and appending a CycleRecord — entirely through the store, which is
// the single source of truth for cycle history.
func (m *Manager) AdvanceCycle(continuationPrompt string) (AdvanceResult, error) {
	oldCycle := m.CurrentCycle()

	newCycle, err := m.store.AdvanceCycle(continuationPrompt)
	if err != nil {
		return AdvanceResult{}, fmt.Errorf("advance cycle: %w", err)
	}

	return AdvanceResult{
		OldCycle:           oldCycle,
		NewCycle:           newCycle,
		CyclesRemaining:    m.CyclesRemaining(),
		ContinuationPrompt: continuationPrompt,
	}, nil
}

// GenerateContinuationPrompt builds a continuation prompt for the next
// cycle, falling back from the original problem statement to the current
// one if the former is unset.
func (m *Manager) GenerateContinuationPrompt(cycleSummary string, findings, nextObjectives []string) string {
	mis := m.store.Mission()
	originalMission := mis.OriginalProblemStatement
	if originalMission == "" {
		originalMission = mis.ProblemStatement
	}
	if originalMission == "" {
		originalMission = "No mission defined"
	}

	findingsText := "None documented"
	if len(findings) > 0 {
		findingsText = bulletList(findings)
	}

	objectivesText := "Continue from previous cycle"
	if len(nextObjectives) > 0 {
		objectivesText = bulletList(nextObjectives)
	}

	return fmt.Sprintf(`=== CONTINUATION: Cycle %d of %d ===

ORIGINAL MISSION:
%s

PREVIOUS CYCLE SUMMARY:
%s

KEY FINDINGS FROM CYCLE %d:
%s

OBJECTIVES FOR THIS CYCLE:
%s

Continue the mission, building on the work from the previous cycle.
Focus on the objectives above and address any outstanding issues.
`, m.CurrentCycle()+1, m.CycleBudget(), originalMission, cycleSummary, m.CurrentCycle(), findingsText, objectivesText)
}

func bulletList(items []string) string {
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = "- " + item
	}
	return strings.Join(lines, "\n")
}

// Context is a snapshot of cycle state suitable for event data or logging.
type Context struct {
	CurrentCycle    int
	CycleBudget     int
	CyclesRemaining int
	IsLastCycle     bool
	Iteration       int
	CycleHistory    []mission.CycleRecord
}

// GetCycleContext returns a snapshot of the manager's current view of cycle
// state.
func (m *Manager) GetCycleContext() Context {
	return Context{
		CurrentCycle:    m.CurrentCycle(),
		CycleBudget:     m.CycleBudget(),
		CyclesRemaining: m.CyclesRemaining(),
		IsLastCycle:     m.IsLastCycle(),
		Iteration:       m.store.Iteration(),
		CycleHistory:    m.CycleHistory(),
	}
}

// CycleStartedEvent builds a CYCLE_STARTED event carrying the current cycle
// context.
func (m *Manager) CycleStartedEvent() eventbus.Event {
	ctx := m.GetCycleContext()
	return eventbus.NewEvent(eventbus.CycleStarted, string(mission.StagePlanning), m.store.MissionID(), "cycle_manager", map[string]any{
		"current_cycle":    ctx.CurrentCycle,
		"cycle_budget":     ctx.CycleBudget,
		"cycles_remaining": ctx.CyclesRemaining,
		"is_last_cycle":    ctx.IsLastCycle,
		"iteration":        ctx.Iteration,
	})
}

// CycleCompletedEvent builds a CYCLE_COMPLETED event for the transition to
// nextStage.
func (m *Manager) CycleCompletedEvent(summary string, nextStage mission.Stage) eventbus.Event {
	ctx := m.GetCycleContext()
	return eventbus.NewEvent(eventbus.CycleCompleted, string(nextStage), m.store.MissionID(), "cycle_manager", map[string]any{
		"current_cycle":    ctx.CurrentCycle,
		"cycle_budget":     ctx.CycleBudget,
		"cycles_remaining": ctx.CyclesRemaining,
		"is_last_cycle":    ctx.IsLastCycle,
		"iteration":        ctx.Iteration,
		"summary":          summary,
		"next_stage":       string(nextStage),
	})
}

// GetCycleReport renders a short human-readable progress report.
func (m *Manager) GetCycleReport() string {
	lines := []string{
		"=== Cycle Progress Report ===",
		fmt.Sprintf("Current Cycle: %d of %d", m.CurrentCycle(), m.CycleBudget()),
		fmt.Sprintf("Iterations in Cycle: %d", m.store.Iteration()),
		fmt.Sprintf("Cycles Remaining: %d", m.CyclesRemaining()),
		"",
	}

	history := m.CycleHistory()
	if len(history) == 0 {
		lines = append(lines, "No previous cycles.")
		return strings.Join(lines, "\n")
	}

	lines = append(lines, "Previous Cycles:")
	for _, c := range history {
		summary := truncate(c.ContinuationPrompt, 100)
		lines = append(lines, fmt.Sprintf("  Cycle %d: %s...", c.Cycle, summary))
	}
	return strings.Join(lines, "\n")
}

// FormatCycleHistoryForPrompt renders at most maxCycles recent cycle
// records for inclusion in a stage prompt.
func (m *Manager) FormatCycleHistoryForPrompt(maxCycles int) string {
	history := m.CycleHistory()
	if len(history) == 0 {
		return "No previous cycles completed."
	}

	recent := history
	if len(recent) > maxCycles {
		recent = recent[len(recent)-maxCycles:]
	}

	var lines []string
	for _, c := range recent {
		lines = append(lines, fmt.Sprintf("Cycle %d (%d iterations):", c.Cycle, c.IterationCount))
		lines = append(lines, "  "+c.ContinuationPrompt)
	}
	return strings.Join(lines, "\n")
}

// Deliverable is an expected artifact pattern validated against a
// directory's contents at cycle end.
type Deliverable struct {
	Pattern string
}

// DeliverableReport is the result of checking expected deliverables against
// an artifacts directory.
type DeliverableReport struct {
	Valid   bool
	Found   []string
	Missing []string
	Cycle   int
}

// ValidateCycleProgress checks that each of expectedDeliverables (glob
// patterns relative to artifactsDir) matched at least one file.
func (m *Manager) ValidateCycleProgress(expectedDeliverables []string, artifactsDir string) DeliverableReport {
	var found, missing []string

	for _, pattern := range expectedDeliverables {
		matches, err := filepath.Glob(filepath.Join(artifactsDir, pattern))
		if err != nil || len(matches) == 0 {
			missing = append(missing, pattern)
			continue
		}
		found = append(found, matches...)
	}

	return DeliverableReport{
		Valid:   len(missing) == 0,
		Found:   found,
		Missing: missing,
		Cycle:   m.CurrentCycle(),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
