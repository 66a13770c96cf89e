package stage

import (
	"fmt"

	"github.com/forgepath/missionctl/pkg/mission"
)

// Complete is the terminal stage. It is read-only and self-loops: once a
// mission reaches COMPLETE it stays there.
type Complete struct{}

func (Complete) StageName() mission.Stage { return mission.StageComplete }

func (Complete) GetPrompt(ctx Context) string {
	return fmt.Sprintf(`%s
=== COMPLETE ===
This mission has finished. Provide a brief final summary for the record.

Respond with JSON:
{
    "summary": "One or two sentence recap of what the mission accomplished",
    "message_to_human": "Mission already complete"
}`, ctx.KBContext)
}

func (Complete) ProcessResponse(reply map[string]any, ctx Context) Result {
	return Result{
		Success:    true,
		NextStage:  mission.StageComplete,
		Status:     "complete",
		OutputData: reply,
		Message:    defaultString(stringField(reply, "message_to_human"), "Mission already complete"),
	}
}

func (Complete) GetRestrictions() Restrictions {
	return Restrictions{
		AllowedTools: []string{"Read", "Glob", "Grep"},
		BlockedTools: []string{"Write", "Edit", "Bash", "NotebookEdit"},
		AllowBash:    false,
		ReadOnly:     true,
	}
}

func (Complete) ValidateTransition(from mission.Stage, _ Context) bool {
	return from == mission.StageCycleEnd || from == mission.StageComplete
}
