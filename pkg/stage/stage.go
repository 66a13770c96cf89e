// Package stage implements the six stage handlers that drive the mission
// finite-state machine, plus the registry that wires them to their names.
package stage

import (
	"time"

	"github.com/forgepath/missionctl/pkg/eventbus"
	"github.com/forgepath/missionctl/pkg/mission"
)

// Context carries everything a handler needs to build a prompt or interpret
// a reply: the mission's current state, its workspace paths, and any
// optional context injected by integrations.
type Context struct {
	Mission          *mission.Mission
	MissionID        string
	OriginalMission  string
	ProblemStatement string

	WorkspaceDir string
	ArtifactsDir string
	ResearchDir  string
	TestsDir     string

	CycleNumber   int
	CycleBudget   int
	Iteration     int
	MaxIterations int

	History      []mission.HistoryEntry
	CycleHistory []mission.CycleRecord

	Preferences     map[string]any
	SuccessCriteria []string

	KBContext          string
	AfterimageContext  string
	RecoveryContext    string
	ResumptionFile     string

	StageData map[string]any
}

// Restrictions is the per-stage policy enforced on the agent's tool use.
// Paths are glob patterns.
type Restrictions struct {
	AllowedTools        []string
	BlockedTools        []string
	AllowedWritePaths   []string
	ForbiddenWritePaths []string
	AllowBash           bool
	ReadOnly            bool
}

// IncrementIterationKey is the sentinel key in Result.OutputData that signals
// the orchestrator to bump the mission's iteration counter.
const IncrementIterationKey = "_increment_iteration"

// Result is what a handler returns after interpreting the agent's reply.
type Result struct {
	Success      bool
	NextStage    mission.Stage
	Status       string
	OutputData   map[string]any
	EventsToEmit []eventbus.Event
	Message      string
	Timestamp    time.Time
}

// WantsIterationIncrement reports whether OutputData carries the sentinel
// that tells the orchestrator to bump the iteration counter.
func (r Result) WantsIterationIncrement() bool {
	v, ok := r.OutputData[IncrementIterationKey]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler is the contract every stage implements.
type Handler interface {
	StageName() mission.Stage
	GetPrompt(ctx Context) string
	ProcessResponse(reply map[string]any, ctx Context) Result
	GetRestrictions() Restrictions
	ValidateTransition(from mission.Stage, ctx Context) bool
}
