package stage

import (
	"fmt"
	"log/slog"

	"github.com/forgepath/missionctl/pkg/eventbus"
	"github.com/forgepath/missionctl/pkg/mission"
)

// Analyzing interprets test output and decides whether the cycle is done,
// needs another build pass, or needs replanning. Its decision table is the
// sole source of back-edges and the sole place the iteration counter bumps.
type Analyzing struct{}

func (Analyzing) StageName() mission.Stage { return mission.StageAnalyzing }

func (Analyzing) GetPrompt(ctx Context) string {
	return fmt.Sprintf(`%s
=== ANALYZING STAGE ===
Your goal: Analyze the test results and decide what happens next.

IMPORTANT: You are AUTONOMOUS. Do NOT ask clarifying questions. Make reasonable assumptions and proceed.

Review the test output and red-team findings from the TESTING stage.

Tasks (in order):
1. Determine whether the implementation satisfies the success criteria
2. If tests failed or red-team issues were raised, decide whether the fix
   belongs in BUILDING (implementation bug) or PLANNING (approach is wrong)
3. Summarize what was learned this iteration in %s/analysis_report.md

Respond with JSON:
{
    "status": "success" | "needs_revision" | "needs_replanning",
    "recommendation": "COMPLETE" | "BUILDING" | "PLANNING",
    "analysis": "Summary of the analysis",
    "learnings": ["what was learned, for future missions"],
    "message_to_human": "Summary of the analysis outcome"
}`, ctx.KBContext, ctx.ArtifactsDir)
}

func (a Analyzing) ProcessResponse(reply map[string]any, ctx Context) Result {
	status := stringField(reply, "status")
	recommendation := stringField(reply, "recommendation")

	var nextStage mission.Stage
	var increment bool
	success := true

	switch {
	case status == "success":
		nextStage, increment = mission.StageCycleEnd, false
	case recommendation == "COMPLETE":
		nextStage, increment = mission.StageCycleEnd, false
	case status == "needs_revision":
		nextStage, increment = mission.StageBuilding, true
	case recommendation == "BUILDING":
		nextStage, increment = mission.StageBuilding, true
	case status == "needs_replanning":
		nextStage, increment = mission.StagePlanning, true
	case recommendation == "PLANNING":
		nextStage, increment = mission.StagePlanning, true
	default:
		slog.Warn("ANALYZING: no row matched, defaulting to CYCLE_END", "status", status, "recommendation", recommendation)
		nextStage, increment, success = mission.StageCycleEnd, false, false
	}

	output := reply
	if increment {
		output = withIncrementIteration(reply)
	}

	events := []eventbus.Event{eventbus.NewEvent(eventbus.StageCompleted, string(a.StageName()), ctx.MissionID, "stage:analyzing", map[string]any{
		"status":         status,
		"recommendation": recommendation,
		"next_stage":     string(nextStage),
	})}

	return Result{
		Success:      success,
		NextStage:    nextStage,
		Status:       status,
		OutputData:   output,
		EventsToEmit: events,
		Message:      defaultString(stringField(reply, "message_to_human"), "Analysis complete"),
	}
}

func (Analyzing) GetRestrictions() Restrictions {
	return Restrictions{
		AllowedTools:        []string{"Read", "Glob", "Grep", "Write", "Edit", "Task"},
		AllowedWritePaths:   []string{"*/artifacts/*", "*/research/*", "*analysis*.md", "*report*.md", "*test-results*.md"},
		ForbiddenWritePaths: []string{"*.go", "*.py", "*.js", "*.ts"},
		AllowBash:           false,
	}
}

func (Analyzing) ValidateTransition(from mission.Stage, _ Context) bool {
	return from == mission.StageTesting || from == mission.StageAnalyzing
}
