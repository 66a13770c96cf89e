package stage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgepath/missionctl/pkg/mission"
)

func baseCtx() Context {
	return Context{
		MissionID:    "m1",
		WorkspaceDir: "/workspace",
		ArtifactsDir: "/workspace/artifacts",
		ResearchDir:  "/workspace/research",
		TestsDir:     "/workspace/tests",
		CycleNumber:  1,
		CycleBudget:  2,
	}
}

func TestPlanning_PlanCompleteMovesToBuilding(t *testing.T) {
	p := Planning{}
	result := p.ProcessResponse(map[string]any{"status": "plan_complete", "message_to_human": "ok"}, baseCtx())
	assert.True(t, result.Success)
	assert.Equal(t, mission.StageBuilding, result.NextStage)
	assert.Len(t, result.EventsToEmit, 1)
}

func TestPlanning_OtherStatusStays(t *testing.T) {
	p := Planning{}
	result := p.ProcessResponse(map[string]any{"status": "thinking"}, baseCtx())
	assert.False(t, result.Success)
	assert.Equal(t, mission.StagePlanning, result.NextStage)
}

func TestBuilding_CompleteAndReadyMovesToTesting(t *testing.T) {
	b := Building{}
	result := b.ProcessResponse(map[string]any{"status": "build_complete", "ready_for_testing": true}, baseCtx())
	assert.True(t, result.Success)
	assert.Equal(t, mission.StageTesting, result.NextStage)
}

func TestBuilding_CompleteWithoutReadyStays(t *testing.T) {
	b := Building{}
	result := b.ProcessResponse(map[string]any{"status": "build_complete"}, baseCtx())
	assert.Equal(t, mission.StageBuilding, result.NextStage)
}

func TestBuilding_InProgressStaysSuccessTrue(t *testing.T) {
	b := Building{}
	result := b.ProcessResponse(map[string]any{"status": "build_in_progress"}, baseCtx())
	assert.True(t, result.Success)
	assert.Equal(t, mission.StageBuilding, result.NextStage)
}

func TestBuilding_BlockedStaysSuccessFalse(t *testing.T) {
	b := Building{}
	result := b.ProcessResponse(map[string]any{"status": "build_blocked", "blockers": []any{"missing dep"}}, baseCtx())
	assert.False(t, result.Success)
	assert.Equal(t, mission.StageBuilding, result.NextStage)
}

func TestTesting_TerminalStatusesAlwaysAdvance(t *testing.T) {
	tt := Testing{}
	for _, status := range []string{"tests_passed", "tests_failed", "tests_error"} {
		result := tt.ProcessResponse(map[string]any{"status": status}, baseCtx())
		assert.Equal(t, mission.StageAnalyzing, result.NextStage, "status=%s", status)
	}
}

func TestTesting_NonTerminalStaysInTesting(t *testing.T) {
	tt := Testing{}
	result := tt.ProcessResponse(map[string]any{"status": "running"}, baseCtx())
	assert.Equal(t, mission.StageTesting, result.NextStage)
	assert.False(t, result.Success)
}

func TestAnalyzing_DecisionTable(t *testing.T) {
	a := Analyzing{}

	cases := []struct {
		name           string
		status         string
		recommendation string
		wantStage      mission.Stage
		wantIncrement  bool
	}{
		{"success wins regardless of recommendation", "success", "BUILDING", mission.StageCycleEnd, false},
		{"recommendation COMPLETE wins over unrelated status", "needs_revision", "COMPLETE", mission.StageCycleEnd, false},
		{"needs_revision routes to building", "needs_revision", "", mission.StageBuilding, true},
		{"recommendation BUILDING routes to building", "unknown", "BUILDING", mission.StageBuilding, true},
		{"needs_replanning routes to planning", "needs_replanning", "", mission.StagePlanning, true},
		{"recommendation PLANNING routes to planning", "unknown", "PLANNING", mission.StagePlanning, true},
		{"no match falls back to cycle_end with warning", "unknown", "", mission.StageCycleEnd, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			result := a.ProcessResponse(map[string]any{"status": c.status, "recommendation": c.recommendation}, baseCtx())
			assert.Equal(t, c.wantStage, result.NextStage)
			assert.Equal(t, c.wantIncrement, result.WantsIterationIncrement())
		})
	}
}

func TestCycleEnd_MidCycleAdvancesToPlanning(t *testing.T) {
	c := CycleEnd{}
	ctx := baseCtx()
	ctx.CycleNumber = 1
	ctx.CycleBudget = 3

	result := c.ProcessResponse(map[string]any{"status": "cycle_complete", "continuation_prompt": "keep going"}, ctx)
	assert.True(t, result.Success)
	assert.Equal(t, mission.StagePlanning, result.NextStage)
	assert.Len(t, result.EventsToEmit, 1)
}

func TestCycleEnd_MissingContinuationPromptStillAdvances(t *testing.T) {
	c := CycleEnd{}
	ctx := baseCtx()
	ctx.CycleNumber = 1
	ctx.CycleBudget = 3

	result := c.ProcessResponse(map[string]any{"status": "cycle_complete"}, ctx)
	assert.True(t, result.Success)
	assert.Equal(t, mission.StagePlanning, result.NextStage)
}

func TestCycleEnd_FinalCycleCompletesMission(t *testing.T) {
	c := CycleEnd{}
	ctx := baseCtx()
	ctx.CycleNumber = 3
	ctx.CycleBudget = 3

	result := c.ProcessResponse(map[string]any{"status": "mission_complete", "final_summary": "done"}, ctx)
	assert.True(t, result.Success)
	assert.Equal(t, mission.StageComplete, result.NextStage)
	assert.Len(t, result.EventsToEmit, 2)
}

func TestCycleEnd_FinalCycleIncompleteStays(t *testing.T) {
	c := CycleEnd{}
	ctx := baseCtx()
	ctx.CycleNumber = 3
	ctx.CycleBudget = 3

	result := c.ProcessResponse(map[string]any{"status": "still_writing"}, ctx)
	assert.False(t, result.Success)
	assert.Equal(t, mission.StageCycleEnd, result.NextStage)
}

func TestComplete_SelfLoops(t *testing.T) {
	c := Complete{}
	result := c.ProcessResponse(map[string]any{}, baseCtx())
	assert.Equal(t, mission.StageComplete, result.NextStage)
	assert.True(t, c.GetRestrictions().ReadOnly)
}

func TestRegistry_DefaultHandlersRegistered(t *testing.T) {
	r := NewRegistry()
	for _, s := range []mission.Stage{
		mission.StagePlanning, mission.StageBuilding, mission.StageTesting,
		mission.StageAnalyzing, mission.StageCycleEnd, mission.StageComplete,
	} {
		h := r.Get(s)
		require.NotNil(t, h)
		assert.Equal(t, s, h.StageName())
	}
}

func TestRegistry_UnknownStageFallsBackToPlanning(t *testing.T) {
	r := NewRegistry()
	h := r.Get(mission.Stage("BOGUS"))
	assert.Equal(t, mission.StagePlanning, h.StageName())
}

func TestRegistry_OverrideTakesPrecedence(t *testing.T) {
	r := NewRegistry()
	custom := Restrictions{AllowBash: true, ReadOnly: false}
	r.SetOverride(mission.StageComplete, custom)

	assert.Equal(t, custom, r.Restrictions(mission.StageComplete))
}
