// Command missionctl drives a single autonomous mission through its
// PLANNING -> BUILDING -> TESTING -> ANALYZING -> CYCLE_END -> COMPLETE
// workflow, invoking an external LLM once per turn.
//
// Usage:
//
//	missionctl run --config mission.yaml --llm-command ./agent "build a rate limiter"
//	missionctl status --config mission.yaml
//	missionctl validate --config mission.yaml
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/forgepath/missionctl/pkg/config"
	"github.com/forgepath/missionctl/pkg/config/provider"
	"github.com/forgepath/missionctl/pkg/conductor"
	"github.com/forgepath/missionctl/pkg/contextwatcher"
	"github.com/forgepath/missionctl/pkg/cycle"
	"github.com/forgepath/missionctl/pkg/eventbus"
	"github.com/forgepath/missionctl/pkg/llmclient"
	"github.com/forgepath/missionctl/pkg/mission"
	"github.com/forgepath/missionctl/pkg/orchestrator"
	"github.com/forgepath/missionctl/pkg/promptfactory"
	"github.com/forgepath/missionctl/pkg/stage"
)

// CLI defines the command-line interface.
type CLI struct {
	Run      RunCmd      `cmd:"" help:"Run the conductor loop for a mission."`
	Status   StatusCmd   `cmd:"" help:"Show mission status."`
	Validate ValidateCmd `cmd:"" help:"Validate a mission config file."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config   string `short:"c" help:"Path to mission config file." type:"path" default:"mission.yaml"`
	Provider string `help:"Config provider (file, consul, etcd, zookeeper)." default:"file"`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, or custom)." default:"simple"`
}

func (c *CLI) loadConfig(ctx context.Context) (*config.MissionConfig, error) {
	providerType, err := provider.ParseType(c.Provider)
	if err != nil {
		return nil, err
	}
	return config.LoadMissionConfig(ctx, c.Config, providerType)
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("missionctl version %s\n", version)
	return nil
}

// ValidateCmd loads a mission config and reports whether it is well-formed,
// without starting a mission.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig(context.Background())
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	fmt.Printf("config valid: workspace=%s cycle_budget=%d max_iterations=%d restart_budget=%d\n",
		cfg.Workspace, cfg.CycleBudget, cfg.MaxIterations, cfg.RestartBudget)
	return nil
}

// StatusCmd prints the current stage, iteration, and cycle of the mission at
// the configured workspace.
type StatusCmd struct{}

func (c *StatusCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig(context.Background())
	if err != nil {
		return err
	}

	store := mission.NewStore(missionFilePath(cfg.Workspace), false)
	store.Load()

	registry := stage.NewRegistry()
	bus := eventbus.NewBus()
	cycles := cycle.NewManager(store)
	prompts := promptfactory.NewFactory(cfg.GroundRulesFile)

	orch := orchestrator.New(store, registry, bus, cycles, prompts, nil, nil, nil, cfg.LLMProvider)
	status := orch.GetStatus()

	fmt.Printf("mission:    %s\n", status.MissionID)
	fmt.Printf("stage:      %s\n", status.CurrentStage)
	fmt.Printf("iteration:  %d / %d\n", status.Iteration, store.Mission().MaxIterations)
	fmt.Printf("cycle:      %d / %d (remaining %d)\n", status.Cycle, status.CycleBudget, status.CyclesRemaining)
	return nil
}

// RunCmd starts (or resumes) a mission and drives it to completion or a halt.
type RunCmd struct {
	Problem string        `arg:"" optional:"" help:"Problem statement for a new mission. Ignored if a mission is already in progress."`
	Timeout time.Duration `help:"Per-turn LLM invocation timeout." default:"30m"`

	LLMCommand string   `name:"llm-command" help:"Executable to invoke once per turn; the prompt is written to its stdin." required:""`
	LLMArgs    []string `name:"llm-args" help:"Arguments passed to --llm-command."`
}

func (c *RunCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	cfg, err := cli.loadConfig(ctx)
	if err != nil {
		return err
	}

	contextwatcher.GracefulThreshold = cfg.GracefulThreshold
	contextwatcher.EmergencyThreshold = cfg.EmergencyThreshold
	contextwatcher.TimeBasedHandoffEnabled = cfg.EnableTimeHandoff
	contextwatcher.TimeBasedHandoffMinutes = cfg.TimeBasedHandoffMinutes
	contextwatcher.StaleSessionTimeoutMinutes = cfg.StaleSessionTimeoutMinutes

	store := mission.NewStore(missionFilePath(cfg.Workspace), true)
	mis := store.Load()
	if mis.MissionID == "default" && c.Problem != "" {
		mis.MissionID = mission.NewMissionID()
		mis.ProblemStatement = c.Problem
		mis.OriginalProblemStatement = c.Problem
		mis.MaxIterations = cfg.MaxIterations
		mis.CycleBudget = cfg.CycleBudget
		mis.MissionWorkspace = cfg.Workspace
		if err := store.Save(); err != nil {
			return fmt.Errorf("save new mission: %w", err)
		}
	}

	registry := stage.NewRegistry()
	bus := eventbus.NewBus()
	cycles := cycle.NewManager(store)
	prompts := promptfactory.NewFactory(cfg.GroundRulesFile)

	var recovery orchestrator.RecoverySource
	if cfg.EnableEventBus {
		recovery = wireEventBusIntegrations(bus, cfg, store)
	}

	orch := orchestrator.New(store, registry, bus, cycles, prompts, recovery, nil, nil, cfg.LLMProvider)

	if cfg.EnableEventBus {
		bus.Emit(eventbus.NewEvent(eventbus.MissionStarted, string(orch.CurrentStage()), orch.MissionID(), "missionctl", map[string]any{
			"objectives": mis.SuccessCriteria,
		}))
	}

	invoker := llmclient.ExecInvoker{Command: c.LLMCommand, Args: c.LLMArgs}
	watcher := contextwatcher.Get()

	runErr := conductor.Run(ctx, orch, invoker, watcher, conductor.Config{
		Timeout:           c.Timeout,
		RestartBudget:     cfg.RestartBudget,
		EnableTimeHandoff: cfg.EnableTimeHandoff,
	})

	if err := store.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to flush mission record: %v\n", err)
	}

	return runErr
}

// Drift threshold for the drift-validation integration. It is not exposed
// through MissionConfig; the analytics integration is registered with zero
// per-token costs.
const (
	defaultDriftThreshold = 0.5
)

// wireEventBusIntegrations registers the checkpointing, git-commit,
// analytics, drift-validation, and snapshot integrations against bus, and
// returns a RecoverySource backed by the recovery integration's checkpoint
// directory.
func wireEventBusIntegrations(bus *eventbus.Bus, cfg *config.MissionConfig, store *mission.Store) orchestrator.RecoverySource {
	bus.Register(eventbus.NewGitIntegration(cfg.Workspace))

	checkpointRoot := filepath.Join(cfg.Workspace, ".missionctl", "checkpoints")
	recoveryIntegration := eventbus.NewRecoveryIntegration(checkpointRoot)
	bus.Register(recoveryIntegration)

	bus.Register(eventbus.NewAnalyticsIntegration(prometheus.DefaultRegisterer, 0, 0))
	bus.Register(eventbus.NewDriftValidationIntegration(defaultDriftThreshold))

	snapshotDir := filepath.Join(cfg.Workspace, ".missionctl", "snapshots")
	bus.Register(eventbus.NewSnapshotIntegration(snapshotDir, func() ([]byte, error) {
		return json.Marshal(store.Mission())
	}))

	return recoverySource(checkpointRoot, store.MissionID())
}

// recoverySource looks up the most recent checkpoint file left by a prior
// run of this mission and adapts it into a promptfactory.RecoveryInfo.
func recoverySource(checkpointRoot, missionID string) orchestrator.RecoverySource {
	return func() *promptfactory.RecoveryInfo {
		path := latestCheckpoint(filepath.Join(checkpointRoot, missionID))
		if path == "" {
			return nil
		}

		checkpoint, err := eventbus.RecoverFromCheckpoint(path)
		if err != nil {
			slog.Warn("failed to read recovery checkpoint", "path", path, "error", err)
			return nil
		}

		info := &promptfactory.RecoveryInfo{
			Stage:     stringFieldOf(checkpoint, "stage"),
			MissionID: stringFieldOf(checkpoint, "mission_id"),
		}
		if data, ok := checkpoint["data"].(map[string]any); ok {
			if it, ok := data["iteration"].(float64); ok {
				info.Iteration = int(it)
			}
			if cyc, ok := data["cycle"].(float64); ok {
				info.Cycle = int(cyc)
			}
		}
		return info
	}
}

func stringFieldOf(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func latestCheckpoint(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}

	var newest string
	var newestMod time.Time
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = entry.Name()
			newestMod = info.ModTime()
		}
	}
	if newest == "" {
		return ""
	}
	return filepath.Join(dir, newest)
}

func missionFilePath(workspace string) string {
	return filepath.Join(workspace, "mission.json")
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("missionctl"),
		kong.Description("missionctl - autonomous research-and-development mission engine"),
		kong.UsageOnError(),
	)

	cleanup, err := initLoggerFromCLI(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
