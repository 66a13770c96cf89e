package orchestrator

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgepath/missionctl/pkg/cycle"
	"github.com/forgepath/missionctl/pkg/eventbus"
	"github.com/forgepath/missionctl/pkg/mission"
	"github.com/forgepath/missionctl/pkg/promptfactory"
	"github.com/forgepath/missionctl/pkg/stage"
)

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	store := mission.NewStore(filepath.Join(t.TempDir(), "mission.json"), false)
	store.Load()
	mis := store.Mission()
	mis.ProblemStatement = "build a widget"
	mis.CycleBudget = 1
	mis.CurrentStage = mission.StagePlanning

	registry := stage.NewRegistry()
	bus := eventbus.NewBus()
	cycles := cycle.NewManager(store)
	prompts := promptfactory.NewFactory("")

	return New(store, registry, bus, cycles, prompts, nil, nil, nil, "anthropic")
}

func TestOrchestrator_FullHappyPathSingleCycle(t *testing.T) {
	o := newTestOrchestrator(t)

	next, err := o.ProcessResponse(map[string]any{"status": "plan_complete"})
	require.NoError(t, err)
	assert.Equal(t, mission.StageBuilding, next)
	require.NoError(t, o.UpdateStage(next))

	next, err = o.ProcessResponse(map[string]any{"status": "build_complete", "ready_for_testing": true})
	require.NoError(t, err)
	assert.Equal(t, mission.StageTesting, next)
	require.NoError(t, o.UpdateStage(next))

	next, err = o.ProcessResponse(map[string]any{"status": "tests_passed"})
	require.NoError(t, err)
	assert.Equal(t, mission.StageAnalyzing, next)
	require.NoError(t, o.UpdateStage(next))

	next, err = o.ProcessResponse(map[string]any{"status": "success", "recommendation": "COMPLETE"})
	require.NoError(t, err)
	assert.Equal(t, mission.StageCycleEnd, next)
	assert.Equal(t, 0, o.store.Iteration())
	require.NoError(t, o.UpdateStage(next))

	next, err = o.ProcessResponse(map[string]any{"status": "mission_complete", "final_summary": "done"})
	require.NoError(t, err)
	assert.Equal(t, mission.StageComplete, next)
	require.NoError(t, o.UpdateStage(next))

	assert.Equal(t, mission.StageComplete, o.CurrentStage())
}

func TestOrchestrator_IterationIncrementsOnlyOnBackEdge(t *testing.T) {
	o := newTestOrchestrator(t)
	require.NoError(t, o.UpdateStage(mission.StageAnalyzing))

	_, err := o.ProcessResponse(map[string]any{"status": "needs_revision"})
	require.NoError(t, err)
	assert.Equal(t, 1, o.store.Iteration())

	_, err = o.ProcessResponse(map[string]any{"status": "success"})
	require.NoError(t, err)
	assert.Equal(t, 1, o.store.Iteration())
}

func TestOrchestrator_UpdateStageRejectsUnknownStage(t *testing.T) {
	o := newTestOrchestrator(t)
	err := o.UpdateStage(mission.Stage("NOT_A_STAGE"))
	assert.Error(t, err)
}

func TestOrchestrator_IsToolAllowed(t *testing.T) {
	o := newTestOrchestrator(t)
	require.NoError(t, o.UpdateStage(mission.StageComplete))

	assert.False(t, o.IsToolAllowed("Write", mission.StageComplete))
	assert.True(t, o.IsToolAllowed("Read", mission.StageComplete))
}

func TestOrchestrator_AdvanceToNextCycleResetsIterationAndStage(t *testing.T) {
	o := newTestOrchestrator(t)
	_, err := o.store.IncrementIteration()
	require.NoError(t, err)

	result, err := o.AdvanceToNextCycle("keep going", "")
	require.NoError(t, err)

	assert.Equal(t, 2, result.NewCycle)
	assert.Equal(t, 0, o.store.Iteration())
	assert.Equal(t, mission.StagePlanning, o.CurrentStage())
}

func TestOrchestrator_AdvanceToNextCycleSynthesizesDefaultPrompt(t *testing.T) {
	o := newTestOrchestrator(t)
	mis := o.store.Mission()
	mis.OriginalProblemStatement = "build a widget"

	result, err := o.AdvanceToNextCycle("", "did some stuff")
	require.NoError(t, err)

	assert.Contains(t, result.ContinuationPrompt, "build a widget")
	assert.Contains(t, result.ContinuationPrompt, "did some stuff")
	assert.Contains(t, result.ContinuationPrompt, fmt.Sprintf("Cycle %d", result.NewCycle))
}

func TestOrchestrator_GetStatus(t *testing.T) {
	o := newTestOrchestrator(t)
	status := o.GetStatus()
	assert.Equal(t, mission.StagePlanning, status.CurrentStage)
	assert.Equal(t, 1, status.CycleBudget)
}
