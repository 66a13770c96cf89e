package mission

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_DefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "mission.json"), true)

	m := store.Mission()
	assert.Equal(t, StagePlanning, m.CurrentStage)
	assert.Equal(t, 1, m.CurrentCycle)
	assert.Equal(t, 1, m.CycleBudget)
	assert.Equal(t, 0, m.Iteration)
}

func TestStore_SaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mission.json")

	store := NewStore(path, true)
	m := store.Mission()
	m.MissionID = NewMissionID()
	m.ProblemStatement = "teach the fleet to land"
	require.NoError(t, store.Save())

	reloaded := NewStore(path, true)
	got := reloaded.Mission()
	assert.Equal(t, m.MissionID, got.MissionID)
	assert.Equal(t, "teach the fleet to land", got.ProblemStatement)
}

func TestStore_CorruptFileDegradesToDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mission.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store := NewStore(path, true)
	m := store.Mission()
	assert.Equal(t, "default", m.MissionID)
}

func TestStore_IncrementIteration(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "mission.json"), true)

	n, err := store.IncrementIteration()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.IncrementIteration()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStore_AdvanceCycleResetsIteration(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "mission.json"), true)

	_, err := store.IncrementIteration()
	require.NoError(t, err)
	_, err = store.IncrementIteration()
	require.NoError(t, err)

	next, err := store.AdvanceCycle("continue with phase two")
	require.NoError(t, err)
	assert.Equal(t, 2, next)
	assert.Equal(t, 0, store.Iteration())

	history := store.CycleHistory()
	require.Len(t, history, 1)
	assert.Equal(t, 1, history[0].Cycle)
	assert.Equal(t, 2, history[0].IterationCount)
	assert.Equal(t, "continue with phase two", history[0].ContinuationPrompt)
}

func TestStore_UpdateStageLogsTransition(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "mission.json"), true)

	old, err := store.UpdateStage(StageBuilding)
	require.NoError(t, err)
	assert.Equal(t, StagePlanning, old)
	assert.Equal(t, StageBuilding, store.CurrentStage())

	history := store.History()
	require.Len(t, history, 1)
	assert.Contains(t, history[0].Event, "PLANNING -> BUILDING")
}

func TestStore_WorkspaceDirDefaultsToCwdWorkspace(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "mission.json"), true)
	assert.Equal(t, "workspace", filepath.Base(store.WorkspaceDir()))
	assert.Equal(t, "artifacts", filepath.Base(store.ArtifactsDir()))
}
