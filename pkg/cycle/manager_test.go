package cycle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgepath/missionctl/pkg/mission"
)

func newTestStore(t *testing.T) *mission.Store {
	t.Helper()
	store := mission.NewStore(filepath.Join(t.TempDir(), "mission.json"), false)
	store.Load()
	return store
}

func TestManager_ShouldContinueAndIsLastCycle(t *testing.T) {
	store := newTestStore(t)
	mis := store.Mission()
	mis.CycleBudget = 3
	mis.CurrentCycle = 1

	m := NewManager(store)
	assert.True(t, m.ShouldContinue())
	assert.False(t, m.IsLastCycle())
	assert.Equal(t, 2, m.CyclesRemaining())

	mis.CurrentCycle = 3
	assert.False(t, m.ShouldContinue())
	assert.True(t, m.IsLastCycle())
	assert.Equal(t, 0, m.CyclesRemaining())
}

func TestManager_AdvanceCycleDelegatesToStore(t *testing.T) {
	store := newTestStore(t)
	mis := store.Mission()
	mis.CycleBudget = 2
	require.NoError(t, store.Save())
	_, err := store.IncrementIteration()
	require.NoError(t, err)

	m := NewManager(store)
	result, err := m.AdvanceCycle("keep going")
	require.NoError(t, err)

	assert.Equal(t, 1, result.OldCycle)
	assert.Equal(t, 2, result.NewCycle)
	assert.Equal(t, 0, store.Iteration())
	assert.Len(t, store.CycleHistory(), 1)
}

func TestManager_GenerateContinuationPromptFallsBackToProblemStatement(t *testing.T) {
	store := newTestStore(t)
	mis := store.Mission()
	mis.ProblemStatement = "build a widget"
	mis.OriginalProblemStatement = ""
	mis.CycleBudget = 2

	m := NewManager(store)
	prompt := m.GenerateContinuationPrompt("did some stuff", []string{"finding one"}, nil)

	assert.Contains(t, prompt, "build a widget")
	assert.Contains(t, prompt, "finding one")
	assert.Contains(t, prompt, "Continue from previous cycle")
}

func TestManager_FormatCycleHistoryForPrompt_EmptyHistory(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store)
	assert.Equal(t, "No previous cycles completed.", m.FormatCycleHistoryForPrompt(5))
}

func TestManager_ValidateCycleProgress(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.md"), []byte("hi"), 0o644))

	store := newTestStore(t)
	m := NewManager(store)

	report := m.ValidateCycleProgress([]string{"report.md", "missing.md"}, dir)
	assert.False(t, report.Valid)
	assert.Contains(t, report.Missing, "missing.md")
	assert.Len(t, report.Found, 1)
}
