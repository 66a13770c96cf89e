package stage

import (
	"fmt"
	"log/slog"

	"github.com/forgepath/missionctl/pkg/eventbus"
	"github.com/forgepath/missionctl/pkg/mission"
)

// Building drives implementation work against the plan produced in
// PLANNING. It allows full read/write/bash access and transitions to
// TESTING once the agent reports ready_for_testing.
type Building struct{}

func (Building) StageName() mission.Stage { return mission.StageBuilding }

func (Building) GetPrompt(ctx Context) string {
	return fmt.Sprintf(`%s
=== BUILDING STAGE ===
Your goal: Implement the plan created in the PLANNING stage.

IMPORTANT: You are AUTONOMOUS. Do NOT ask clarifying questions. Make reasonable assumptions and proceed.

Refer to %s/implementation_plan.md for your plan.

Tasks (in order):
1. Read your implementation plan
2. Implement each planned step
3. Write clean, well-structured code following existing patterns in the codebase
4. Add inline documentation where it clarifies non-obvious decisions
5. Update %s/implementation_plan.md with any deviations from the original plan and why

Respond with JSON:
{
    "status": "build_complete" | "build_in_progress" | "build_blocked",
    "ready_for_testing": true,
    "files_created": ["file1.go", "file2.go"],
    "files_modified": ["file3.go"],
    "deviations_from_plan": ["any changes from the original plan, or empty"],
    "blockers": ["if status is build_blocked, describe what's blocking progress"],
    "message_to_human": "Summary of what was built"
}`, ctx.KBContext, ctx.WorkspaceDir, ctx.WorkspaceDir)
}

func (b Building) ProcessResponse(reply map[string]any, ctx Context) Result {
	status := stringField(reply, "status")
	readyForTesting := boolField(reply, "ready_for_testing")

	if status == "build_complete" && readyForTesting {
		filesCreated, _ := reply["files_created"].([]any)
		filesModified, _ := reply["files_modified"].([]any)
		events := []eventbus.Event{eventbus.NewEvent(eventbus.StageCompleted, string(b.StageName()), ctx.MissionID, "stage:building", map[string]any{
			"status":         status,
			"files_created":  len(filesCreated),
			"files_modified": len(filesModified),
		})}
		return Result{
			Success:      true,
			NextStage:    mission.StageTesting,
			Status:       status,
			OutputData:   reply,
			EventsToEmit: events,
			Message:      defaultString(stringField(reply, "message_to_human"), "Build complete, moving to testing"),
		}
	}

	if status == "build_blocked" {
		slog.Warn("BUILDING: blocked", "blockers", reply["blockers"])
		return Result{
			Success:    false,
			NextStage:  mission.StageBuilding,
			Status:     status,
			OutputData: reply,
			Message:    "Build blocked, remaining in BUILDING for retry",
		}
	}

	return Result{
		Success:    status == "build_in_progress",
		NextStage:  mission.StageBuilding,
		Status:     status,
		OutputData: reply,
		Message:    "Build in progress, remaining in BUILDING",
	}
}

func (Building) GetRestrictions() Restrictions {
	return Restrictions{
		AllowedTools: []string{"Read", "Glob", "Grep", "Write", "Edit", "Bash", "WebFetch", "WebSearch", "Task", "NotebookEdit"},
		AllowBash:    true,
	}
}

func (Building) ValidateTransition(from mission.Stage, _ Context) bool {
	return from == mission.StagePlanning || from == mission.StageBuilding
}
