// Package orchestrator wires the mission store, stage registry, event bus,
// cycle manager, and prompt factory into the single coordinator that drives
// a mission through its finite-state workflow.
package orchestrator

import (
	"fmt"
	"log/slog"

	"github.com/forgepath/missionctl/pkg/cycle"
	"github.com/forgepath/missionctl/pkg/eventbus"
	"github.com/forgepath/missionctl/pkg/mission"
	"github.com/forgepath/missionctl/pkg/promptfactory"
	"github.com/forgepath/missionctl/pkg/stage"
)

var validStages = map[mission.Stage]bool{
	mission.StagePlanning:  true,
	mission.StageBuilding:  true,
	mission.StageTesting:   true,
	mission.StageAnalyzing: true,
	mission.StageCycleEnd:  true,
	mission.StageComplete:  true,
}

// RecoverySource returns the last crash-recovery checkpoint, if any. The
// command wires it to read the newest checkpoint file in the mission's
// checkpoint directory with RecoverFromCheckpoint; nil means no recovery
// information is available.
type RecoverySource func() *promptfactory.RecoveryInfo

// KBSource looks up knowledge-base learnings relevant to query. The mission
// engine only ever reaches the KB through this narrow interface — no
// ranking or embedding algorithm lives in this module.
type KBSource func(query string) []promptfactory.Learning

// CodeMemorySource looks up episodic code-memory snippets relevant to
// query, through the same kind of narrow external interface as KBSource.
type CodeMemorySource func(query string) []promptfactory.CodeMemory

// Orchestrator is the central coordinator: it owns no state of its own
// beyond the components it wires together.
type Orchestrator struct {
	store       *mission.Store
	registry    *stage.Registry
	bus         *eventbus.Bus
	cycles      *cycle.Manager
	prompts     *promptfactory.Factory
	recovery    RecoverySource
	kb          KBSource
	codeMemory  CodeMemorySource
	llmProvider string
}

// New builds an Orchestrator from its components. recovery, kb, and
// codeMemory may all be nil, in which case their injections are skipped.
func New(store *mission.Store, registry *stage.Registry, bus *eventbus.Bus, cycles *cycle.Manager, prompts *promptfactory.Factory, recovery RecoverySource, kb KBSource, codeMemory CodeMemorySource, llmProvider string) *Orchestrator {
	return &Orchestrator{
		store:       store,
		registry:    registry,
		bus:         bus,
		cycles:      cycles,
		prompts:     prompts,
		recovery:    recovery,
		kb:          kb,
		codeMemory:  codeMemory,
		llmProvider: llmProvider,
	}
}

// Mission returns the live mission record.
func (o *Orchestrator) Mission() *mission.Mission { return o.store.Mission() }

// CurrentStage returns the mission's current stage.
func (o *Orchestrator) CurrentStage() mission.Stage { return o.store.CurrentStage() }

// MissionID returns the mission's id.
func (o *Orchestrator) MissionID() string { return o.store.MissionID() }

// WorkspaceDir returns the mission's workspace directory.
func (o *Orchestrator) WorkspaceDir() string { return o.store.WorkspaceDir() }

// UpdateStage transitions the mission to newStage, emitting STAGE_COMPLETED
// for the old stage, updating state, emitting STAGE_STARTED for the new
// stage, and — on transition into COMPLETE — MISSION_COMPLETED.
func (o *Orchestrator) UpdateStage(newStage mission.Stage) error {
	if !validStages[newStage] {
		return fmt.Errorf("invalid stage: %s", newStage)
	}

	oldStage := o.CurrentStage()
	iteration := o.store.Iteration()
	missionID := o.MissionID()

	if oldStage != "" && oldStage != mission.StageComplete {
		o.bus.Emit(eventbus.NewEvent(eventbus.StageCompleted, string(oldStage), missionID, "orchestrator", map[string]any{
			"old_stage": string(oldStage),
			"new_stage": string(newStage),
			"iteration": iteration,
		}))
	}

	old, err := o.store.UpdateStage(newStage)
	if err != nil {
		return fmt.Errorf("update stage: %w", err)
	}
	slog.Info("stage transition", "old", old, "new", newStage)

	if newStage != mission.StageComplete {
		o.bus.Emit(eventbus.NewEvent(eventbus.StageStarted, string(newStage), missionID, "orchestrator", map[string]any{
			"old_stage": string(old),
			"new_stage": string(newStage),
			"iteration": iteration,
		}))
	} else {
		o.bus.Emit(eventbus.NewEvent(eventbus.MissionCompleted, string(newStage), missionID, "orchestrator", map[string]any{
			"final_stage":      string(old),
			"total_iterations": iteration,
			"cycle_count":      o.cycles.CurrentCycle(),
		}))
	}

	return nil
}

// BuildPrompt builds the complete prompt for the current stage, injecting
// KB context (PLANNING), code-memory context (BUILDING), and crash-recovery
// context (any stage), then appending extraContext if non-empty.
func (o *Orchestrator) BuildPrompt(extraContext string) string {
	currentStage := o.CurrentStage()
	handler := o.registry.Get(currentStage)
	stageCtx := o.buildStageContext()

	stagePrompt := handler.GetPrompt(stageCtx)

	fullPrompt := o.prompts.Assemble(stagePrompt, promptfactory.AssembleContext{
		ProblemStatement: stageCtx.ProblemStatement,
		CurrentStage:     string(currentStage),
		Iteration:        stageCtx.Iteration,
		WorkspaceDir:     stageCtx.WorkspaceDir,
		LLMProvider:      o.llmProvider,
		History:          stageCtx.History,
		Preferences:      stageCtx.Preferences,
		SuccessCriteria:  stageCtx.SuccessCriteria,
	})

	if currentStage == mission.StagePlanning && o.kb != nil {
		fullPrompt = o.prompts.InjectKB(fullPrompt, o.kb(stageCtx.ProblemStatement))
	}

	if currentStage == mission.StageBuilding && o.codeMemory != nil {
		fullPrompt = o.prompts.InjectCodeMemory(fullPrompt, o.codeMemory(stageCtx.ProblemStatement))
	}

	if o.recovery != nil {
		if info := o.recovery(); info != nil {
			fullPrompt = o.prompts.InjectRecovery(fullPrompt, info)
		}
	}

	if extraContext != "" {
		fullPrompt = fullPrompt + "\n\n" + extraContext
	}

	return fullPrompt
}

// ProcessResponse runs the current stage handler's ProcessResponse, emits
// any resulting events, conditionally bumps the iteration counter per the
// handler's sentinel, and returns the next stage.
func (o *Orchestrator) ProcessResponse(reply map[string]any) (mission.Stage, error) {
	if reply == nil {
		reply = map[string]any{}
	}

	currentStage := o.CurrentStage()
	handler := o.registry.Get(currentStage)
	stageCtx := o.buildStageContext()

	result := handler.ProcessResponse(reply, stageCtx)

	for _, event := range result.EventsToEmit {
		o.bus.Emit(event)
	}

	slog.Info("stage response processed", "stage", currentStage, "status", result.Status, "next_stage", result.NextStage, "success", result.Success)
	if result.Message != "" {
		slog.Info("handler message", "message", result.Message)
	}

	if result.WantsIterationIncrement() {
		if _, err := o.store.IncrementIteration(); err != nil {
			return result.NextStage, fmt.Errorf("increment iteration: %w", err)
		}
	}

	return result.NextStage, nil
}

func (o *Orchestrator) buildStageContext() stage.Context {
	mis := o.store.Mission()
	return stage.Context{
		Mission:          mis,
		MissionID:        o.MissionID(),
		OriginalMission:  mis.OriginalProblemStatement,
		ProblemStatement: mis.ProblemStatement,
		WorkspaceDir:     o.store.WorkspaceDir(),
		ArtifactsDir:     o.store.ArtifactsDir(),
		ResearchDir:      o.store.ResearchDir(),
		TestsDir:         o.store.TestsDir(),
		CycleNumber:      o.cycles.CurrentCycle(),
		CycleBudget:      o.cycles.CycleBudget(),
		Iteration:        o.store.Iteration(),
		MaxIterations:    mis.MaxIterations,
		History:          o.store.History(),
		CycleHistory:     o.cycles.CycleHistory(),
		Preferences:      mis.Preferences,
		SuccessCriteria:  mis.SuccessCriteria,
	}
}

// ShouldContinueCycle reports whether another cycle can be started.
func (o *Orchestrator) ShouldContinueCycle() bool { return o.cycles.ShouldContinue() }

// AdvanceToNextCycle emits CYCLE_COMPLETED, advances the cycle via the cycle
// manager, transitions back to PLANNING, and emits CYCLE_STARTED. When
// continuationPrompt is empty (the agent closed out the cycle without
// supplying one), a default is synthesized from the mission's original
// problem statement and cycleSummary, naming the next cycle index.
func (o *Orchestrator) AdvanceToNextCycle(continuationPrompt, cycleSummary string) (cycle.AdvanceResult, error) {
	if continuationPrompt == "" {
		continuationPrompt = o.cycles.GenerateContinuationPrompt(cycleSummary, nil, nil)
	}

	o.bus.Emit(o.cycles.CycleCompletedEvent(truncate(continuationPrompt, 200), mission.StagePlanning))

	result, err := o.cycles.AdvanceCycle(continuationPrompt)
	if err != nil {
		return cycle.AdvanceResult{}, err
	}

	if err := o.UpdateStage(mission.StagePlanning); err != nil {
		return result, err
	}

	o.bus.Emit(o.cycles.CycleStartedEvent())
	return result, nil
}

// GetCycleStatus returns the cycle manager's current context snapshot.
func (o *Orchestrator) GetCycleStatus() cycle.Context { return o.cycles.GetCycleContext() }

// GetStageRestrictions returns the effective restrictions for s (defaulting
// to the current stage when s is empty), honoring any configured override.
func (o *Orchestrator) GetStageRestrictions(s mission.Stage) stage.Restrictions {
	if s == "" {
		s = o.CurrentStage()
	}
	return o.registry.Restrictions(s)
}

// IsToolAllowed checks tool against the restrictions for s (current stage
// if empty): blocked tools always lose, a non-empty allow-list is
// exclusive, otherwise the tool is permitted.
func (o *Orchestrator) IsToolAllowed(tool string, s mission.Stage) bool {
	restrictions := o.GetStageRestrictions(s)

	for _, blocked := range restrictions.BlockedTools {
		if blocked == tool {
			return false
		}
	}

	if len(restrictions.AllowedTools) > 0 {
		for _, allowed := range restrictions.AllowedTools {
			if allowed == tool {
				return true
			}
		}
		return false
	}

	return true
}

// LogHistory appends a history entry to the mission record.
func (o *Orchestrator) LogHistory(event string, details map[string]any) error {
	return o.store.LogHistory(event, details)
}

// ReloadMission reloads the mission record from disk.
func (o *Orchestrator) ReloadMission() *mission.Mission { return o.store.Load() }

// SaveMission persists the mission record to disk.
func (o *Orchestrator) SaveMission() error { return o.store.Save() }

// Status is a snapshot of orchestrator state suitable for the `status` CLI
// command.
type Status struct {
	MissionID       string
	CurrentStage    mission.Stage
	Iteration       int
	Cycle           int
	CycleBudget     int
	CyclesRemaining int
	Integrations    eventbus.Stats
}

// GetStatus returns a snapshot of the mission and integration state.
func (o *Orchestrator) GetStatus() Status {
	return Status{
		MissionID:       o.MissionID(),
		CurrentStage:    o.CurrentStage(),
		Iteration:       o.store.Iteration(),
		Cycle:           o.cycles.CurrentCycle(),
		CycleBudget:     o.cycles.CycleBudget(),
		CyclesRemaining: o.cycles.CyclesRemaining(),
		Integrations:    o.bus.StatsSnapshot(),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
