package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// GitIntegration commits build/cycle/mission checkpoints to the workspace's
// git repository so work survives even if the agent never pushes.
type GitIntegration struct {
	BaseHandler
	WorkspaceDir string
}

// NewGitIntegration probes for a usable git binary before registering.
func NewGitIntegration(workspaceDir string) *GitIntegration {
	g := &GitIntegration{WorkspaceDir: workspaceDir}
	g.InitBase("git", PriorityNormal, []EventType{
		StageCompleted, MissionCompleted, CycleCompleted,
	}, g.checkAvailability)
	return g
}

func (g *GitIntegration) checkAvailability() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, "git", "--version").Run() == nil
}

func (g *GitIntegration) HandleEvent(event Event) error {
	switch event.Type {
	case StageCompleted:
		if event.Stage == "BUILDING" {
			return g.checkpoint(fmt.Sprintf("[missionctl] build checkpoint - %s", event.MissionID))
		}
	case CycleCompleted:
		cycle, ok := event.Data["cycle"].(int)
		if !ok {
			cycle, _ = event.Data["current_cycle"].(int)
		}
		return g.checkpoint(fmt.Sprintf("[missionctl] cycle %d complete - %s", cycle, event.MissionID))
	case MissionCompleted:
		return g.checkpoint(fmt.Sprintf("[missionctl] mission complete - %s", event.MissionID))
	}
	return nil
}

func (g *GitIntegration) checkpoint(message string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	add := exec.CommandContext(ctx, "git", "add", "-A")
	add.Dir = g.WorkspaceDir
	if err := add.Run(); err != nil {
		return fmt.Errorf("git add failed: %w", err)
	}

	status := exec.CommandContext(ctx, "git", "status", "--porcelain")
	status.Dir = g.WorkspaceDir
	out, err := status.Output()
	if err != nil {
		return fmt.Errorf("git status failed: %w", err)
	}
	if len(out) == 0 {
		slog.Debug("git integration: no changes to commit")
		return nil
	}

	commit := exec.CommandContext(ctx, "git", "commit", "-m", message)
	commit.Dir = g.WorkspaceDir
	if err := commit.Run(); err != nil {
		return fmt.Errorf("git commit failed: %w", err)
	}
	slog.Info("git checkpoint committed", "message", message)
	return nil
}

var _ Handler = (*GitIntegration)(nil)
