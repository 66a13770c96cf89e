package stage

import (
	"fmt"
	"log/slog"

	"github.com/forgepath/missionctl/pkg/eventbus"
	"github.com/forgepath/missionctl/pkg/mission"
)

// CycleEnd closes out a cycle. With budget remaining it collects a
// continuation prompt and hands back to PLANNING for the next cycle; on the
// final cycle it collects a final report and completes the mission.
type CycleEnd struct{}

func (CycleEnd) StageName() mission.Stage { return mission.StageCycleEnd }

func (CycleEnd) GetPrompt(ctx Context) string {
	if ctx.CycleNumber < ctx.CycleBudget {
		return fmt.Sprintf(`%s
=== CYCLE_END STAGE (cycle %d of %d) ===
Your goal: Close out this cycle and set up the next one.

IMPORTANT: You are AUTONOMOUS. Do NOT ask clarifying questions.

Tasks (in order):
1. Write a cycle report to %s/cycle_%d_report.md summarizing what was
   accomplished this cycle
2. Write a continuation prompt for the next cycle: what should the agent
   focus on next, given what was learned this cycle?

Respond with JSON:
{
    "status": "cycle_complete",
    "cycle_summary": "What was accomplished this cycle",
    "continuation_prompt": "Prompt to drive the next cycle's PLANNING stage",
    "message_to_human": "Cycle complete, summary"
}`, ctx.KBContext, ctx.CycleNumber, ctx.CycleBudget, ctx.ArtifactsDir, ctx.CycleNumber)
	}

	return fmt.Sprintf(`%s
=== CYCLE_END STAGE (final cycle %d of %d) ===
Your goal: Write the final mission report. This is the last cycle.

IMPORTANT: You are AUTONOMOUS. Do NOT ask clarifying questions.

Tasks (in order):
1. Write a final report to %s/final_report.md covering the whole mission
2. Recommend a follow-on mission if there is obvious unfinished work worth
   pursuing as its own mission

Respond with JSON:
{
    "status": "mission_complete",
    "final_summary": "Summary of the entire mission",
    "success_criteria_met": ["criterion1", "criterion2"],
    "next_mission_recommendation": {
        "title": "Short title for a follow-on mission, or empty if none",
        "description": "What the follow-on mission should accomplish",
        "suggested_cycles": 0,
        "rationale": "Why this follow-on is worth pursuing"
    },
    "message_to_human": "Mission complete, final summary"
}`, ctx.KBContext, ctx.CycleNumber, ctx.CycleBudget, ctx.ArtifactsDir)
}

func (c CycleEnd) ProcessResponse(reply map[string]any, ctx Context) Result {
	status := stringField(reply, "status")
	finalCycle := ctx.CycleNumber >= ctx.CycleBudget

	if !finalCycle {
		if status != "cycle_complete" {
			return Result{
				Success:    false,
				NextStage:  mission.StageCycleEnd,
				Status:     status,
				OutputData: reply,
				Message:    "Cycle report incomplete, remaining in CYCLE_END",
			}
		}

		continuationPrompt := stringField(reply, "continuation_prompt")
		if continuationPrompt == "" {
			slog.Warn("CYCLE_END: continuation_prompt missing, orchestrator will synthesize a default", "cycle", ctx.CycleNumber)
		}

		events := []eventbus.Event{eventbus.NewEvent(eventbus.CycleCompleted, string(c.StageName()), ctx.MissionID, "stage:cycle_end", map[string]any{
			"cycle":               ctx.CycleNumber,
			"continuation_prompt": continuationPrompt,
		})}

		return Result{
			Success:      true,
			NextStage:    mission.StagePlanning,
			Status:       status,
			OutputData:   reply,
			EventsToEmit: events,
			Message:      defaultString(stringField(reply, "message_to_human"), "Cycle complete, advancing to next cycle"),
		}
	}

	if status != "mission_complete" {
		return Result{
			Success:    false,
			NextStage:  mission.StageCycleEnd,
			Status:     status,
			OutputData: reply,
			Message:    "Final report incomplete, remaining in CYCLE_END",
		}
	}

	events := []eventbus.Event{
		eventbus.NewEvent(eventbus.CycleCompleted, string(c.StageName()), ctx.MissionID, "stage:cycle_end", map[string]any{
			"cycle": ctx.CycleNumber,
		}),
		eventbus.NewEvent(eventbus.MissionCompleted, string(c.StageName()), ctx.MissionID, "stage:cycle_end", map[string]any{
			"final_summary":               reply["final_summary"],
			"success_criteria_met":        reply["success_criteria_met"],
			"next_mission_recommendation": reply["next_mission_recommendation"],
		}),
	}

	return Result{
		Success:      true,
		NextStage:    mission.StageComplete,
		Status:       status,
		OutputData:   reply,
		EventsToEmit: events,
		Message:      defaultString(stringField(reply, "message_to_human"), "Mission complete"),
	}
}

func (CycleEnd) GetRestrictions() Restrictions {
	return Restrictions{
		AllowedTools:        []string{"Read", "Glob", "Grep", "Write", "Edit"},
		AllowedWritePaths:   []string{"*/artifacts/*", "*/research/*", "report*", "*/mission_logs/*"},
		ForbiddenWritePaths: []string{"*.go", "*.py", "*.js", "*.ts"},
		AllowBash:           false,
	}
}

func (CycleEnd) ValidateTransition(from mission.Stage, _ Context) bool {
	return from == mission.StageAnalyzing || from == mission.StageCycleEnd
}
