package stage

import (
	"fmt"
	"log/slog"

	"github.com/forgepath/missionctl/pkg/eventbus"
	"github.com/forgepath/missionctl/pkg/mission"
)

// Planning combines mission understanding with plan creation. It injects
// knowledge-base and code-memory context, restricts writes to artifacts/ and
// research/, and transitions to BUILDING once a plan is complete.
type Planning struct{}

var planningValidFrom = []mission.Stage{mission.StageCycleEnd, mission.StageAnalyzing, mission.StagePlanning}

func (Planning) StageName() mission.Stage { return mission.StagePlanning }

func (Planning) GetPrompt(ctx Context) string {
	kb := ctx.KBContext
	afterimage := ctx.AfterimageContext

	return fmt.Sprintf(`%s
%s
=== PLANNING STAGE ===
Your goal: Understand the mission AND create a detailed implementation plan.

IMPORTANT: You are AUTONOMOUS. Do NOT ask clarifying questions. Make reasonable assumptions and proceed.

In PLANNING stage, you may ONLY write to artifacts/ or research/ directories.
Do NOT write actual code yet. Save implementation for BUILDING stage.

=== RESEARCH PHASE (BEFORE Implementation Planning) ===
Your implementation plan should be EVIDENCE-BASED, not just based on training data.

MANDATORY: Knowledge Base Consultation
The Knowledge Base context above (if present) contains SEMANTIC SEARCH RESULTS from past missions.
- PAY ATTENTION to "Gotchas to Avoid" - these are past failures to prevent
- Apply "Relevant Techniques" if they match your current problem

Research Tasks:
1. Review any Knowledge Base context above and incorporate relevant learnings
2. Search for current best practices and prior art for this problem
3. Look for common pitfalls and "what NOT to do" guidance
4. Document research findings in %s/research_findings.md

=== IMPLEMENTATION PLANNING ===

Tasks (in order):
1. Read and understand the problem statement above
2. Explore the codebase to understand existing patterns
3. Identify key requirements and constraints
4. Break down the problem into concrete steps
5. Identify files to create/modify in %s/
6. Define clear success criteria
7. Write your plan to %s/implementation_plan.md

Respond with JSON:
{
    "status": "plan_complete",
    "understanding": "Your summary of what needs to be built",
    "kb_learnings_applied": ["list any KB learnings you incorporated, or empty if none"],
    "key_requirements": ["requirement1", "requirement2"],
    "approach": "Brief description of chosen approach",
    "steps": [{"step": 1, "description": "...", "files": ["file1.go"]}],
    "success_criteria": ["criterion1", "criterion2"],
    "estimated_files": ["list of files to create"],
    "message_to_human": "Planning complete. Ready to build."
}`, kb, afterimage, ctx.ResearchDir, ctx.WorkspaceDir, ctx.ArtifactsDir)
}

func (p Planning) ProcessResponse(reply map[string]any, ctx Context) Result {
	status := stringField(reply, "status")

	if status == "plan_complete" {
		steps, _ := reply["steps"].([]any)
		events := []eventbus.Event{eventbus.NewEvent(eventbus.StageCompleted, string(p.StageName()), ctx.MissionID, "stage:planning", map[string]any{
			"status":        status,
			"kb_learnings":  reply["kb_learnings_applied"],
			"steps_planned": len(steps),
		})}

		return Result{
			Success:      true,
			NextStage:    mission.StageBuilding,
			Status:       status,
			OutputData:   reply,
			EventsToEmit: events,
			Message:      defaultString(stringField(reply, "message_to_human"), "Plan complete, moving to building"),
		}
	}

	slog.Warn("PLANNING: unexpected status, staying in PLANNING", "status", status)
	return Result{
		Success:    false,
		NextStage:  mission.StagePlanning,
		Status:     status,
		OutputData: reply,
		Message:    fmt.Sprintf("Unexpected status: %s", status),
	}
}

func (Planning) GetRestrictions() Restrictions {
	return Restrictions{
		AllowedTools:        []string{"Read", "Glob", "Grep", "Write", "Edit", "Bash", "WebFetch", "WebSearch", "Task"},
		BlockedTools:        []string{"NotebookEdit"},
		AllowedWritePaths:   []string{"*/artifacts/*", "*/research/*", "*implementation_plan.md"},
		ForbiddenWritePaths: []string{"*.go", "*.py", "*.js", "*.ts"},
		AllowBash:           true,
	}
}

func (Planning) ValidateTransition(from mission.Stage, _ Context) bool {
	return containsStage(planningValidFrom, from) || from == ""
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func containsStage(stages []mission.Stage, s mission.Stage) bool {
	for _, v := range stages {
		if v == s {
			return true
		}
	}
	return false
}
