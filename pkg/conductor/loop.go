package conductor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/forgepath/missionctl/pkg/contextwatcher"
	"github.com/forgepath/missionctl/pkg/llmclient"
	"github.com/forgepath/missionctl/pkg/mission"
	"github.com/forgepath/missionctl/pkg/orchestrator"
)

// DefaultRestartBudget is the number of retriable failures tolerated
// before a mission halts.
const DefaultRestartBudget = 3

// Config configures one Run of the outer loop.
type Config struct {
	Timeout           time.Duration
	RestartBudget     int
	EnableTimeHandoff bool
}

// Watcher is the subset of *contextwatcher.ContextWatcher the outer loop
// depends on, narrowed to an interface so tests can inject a fake that
// fires a signal synchronously instead of racing a real transcript tailer.
type Watcher interface {
	StartWatching(workspacePath string, callback contextwatcher.Callback, enableTimeHandoff bool) string
	StopWatching(sessionID string)
}

func (c Config) budget() int {
	if c.RestartBudget <= 0 {
		return DefaultRestartBudget
	}
	return c.RestartBudget
}

// Run drives orch through its finite-state workflow, invoking the LLM once
// per turn via invoker, watching its transcript via watcher, until the
// mission reaches COMPLETE or the restart budget is exhausted. A signal
// observed during the call is authoritative over a well-formed reply
// arriving at the same time.
func Run(ctx context.Context, orch *orchestrator.Orchestrator, invoker llmclient.Invoker, watcher Watcher, cfg Config) error {
	restartBudget := cfg.budget()
	attempt := 0

	for orch.CurrentStage() != mission.StageComplete && restartBudget > 0 {
		prompt := orch.BuildPrompt("")

		callCtx, cancel := context.WithCancel(ctx)

		var mu sync.Mutex
		var observed *contextwatcher.HandoffSignal
		sessionID := watcher.StartWatching(orch.WorkspaceDir(), func(signal contextwatcher.HandoffSignal) {
			mu.Lock()
			defer mu.Unlock()
			if observed == nil {
				observed = &signal
			}
			if signal.Level == contextwatcher.HandoffEmergency {
				cancel()
			}
		}, cfg.EnableTimeHandoff)

		reply, errInfo, invokeErr := invoker.Invoke(callCtx, prompt, cfg.Timeout)
		cancel()

		watcher.StopWatching(sessionID)

		mu.Lock()
		signal := observed
		mu.Unlock()

		if signal != nil {
			handleHandoffSignal(orch, *signal)
			continue
		}

		if invokeErr != nil || errInfo != "" {
			reason, explanation := ClassifyError(errInfo, reply)

			if IsGraceful(reason) {
				slog.Info(FormatRestartMessage(reason, explanation))
				continue
			}

			if IsBlocking(reason) {
				msg := FormatFatalMessage(reason, explanation, cfg.budget())
				slog.Error(msg)
				return fmt.Errorf("%s", msg)
			}

			slog.Warn(FormatErrorMessage(reason, explanation, attempt, cfg.budget()))
			attempt++
			restartBudget--
			if restartBudget == 0 {
				msg := FormatFatalMessage(reason, explanation, cfg.budget())
				slog.Error(msg)
				return fmt.Errorf("%s", msg)
			}
			continue
		}

		parsed, err := parseReply(reply)
		if err != nil {
			slog.Warn("conductor: malformed reply, treating as retriable", "error", err)
			slog.Warn(FormatErrorMessage(ReasonUnknown, "malformed stage reply", attempt, cfg.budget()))
			attempt++
			restartBudget--
			if restartBudget == 0 {
				msg := FormatFatalMessage(ReasonUnknown, "malformed stage reply", cfg.budget())
				slog.Error(msg)
				return fmt.Errorf("%s", msg)
			}
			continue
		}

		currentStage := orch.CurrentStage()
		nextStage, err := orch.ProcessResponse(parsed)
		if err != nil {
			return fmt.Errorf("process response: %w", err)
		}

		if nextStage != currentStage {
			if err := orch.UpdateStage(nextStage); err != nil {
				return fmt.Errorf("update stage: %w", err)
			}
		}

		if currentStage == mission.StageCycleEnd && nextStage == mission.StagePlanning {
			continuationPrompt, _ := parsed["continuation_prompt"].(string)
			cycleSummary, _ := parsed["cycle_summary"].(string)
			if _, err := orch.AdvanceToNextCycle(continuationPrompt, cycleSummary); err != nil {
				return fmt.Errorf("advance to next cycle: %w", err)
			}
		}
	}

	if orch.CurrentStage() == mission.StageComplete {
		return nil
	}
	return fmt.Errorf("restart budget exhausted")
}

func handleHandoffSignal(orch *orchestrator.Orchestrator, signal contextwatcher.HandoffSignal) {
	reason := ReasonContextExhaustion
	extra := strconv.Itoa(signal.TokensUsed) + " tokens"
	if signal.Level == contextwatcher.HandoffTimeBased {
		reason = ReasonTimeBasedHandoff
		if signal.ElapsedMinutes != nil {
			extra = fmt.Sprintf("%.1f min", *signal.ElapsedMinutes)
		}
	}

	if signal.Level == contextwatcher.HandoffEmergency {
		slog.Warn("context watcher: emergency handoff, killing in-flight LLM call")
	}

	slog.Info(FormatRestartMessage(reason, extra))
	contextwatcher.WriteHandoffState(orch.WorkspaceDir(), orch.MissionID(), string(orch.CurrentStage()), "handoff: "+extra)
}

func parseReply(reply string) (map[string]any, error) {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(reply), &parsed); err != nil {
		return nil, err
	}
	return parsed, nil
}
