// Package mission holds the mission record and its closed stage enum.
package mission

import "time"

// Stage is one of the six states the mission moves through.
type Stage string

const (
	StagePlanning  Stage = "PLANNING"
	StageBuilding  Stage = "BUILDING"
	StageTesting   Stage = "TESTING"
	StageAnalyzing Stage = "ANALYZING"
	StageCycleEnd  Stage = "CYCLE_END"
	StageComplete  Stage = "COMPLETE"
)

// HistoryEntry is one append-only record in the mission's history.
type HistoryEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Stage     Stage          `json:"stage"`
	Event     string         `json:"event"`
	Details   map[string]any `json:"details,omitempty"`
}

// CycleRecord summarizes one completed cycle.
type CycleRecord struct {
	Cycle              int       `json:"cycle"`
	CompletedAt        time.Time `json:"completed_at"`
	IterationCount     int       `json:"iteration_count"`
	ContinuationPrompt string    `json:"continuation_prompt"`
}

// Artifacts tracks the paths the agent has produced for the current mission.
type Artifacts struct {
	Plan  string   `json:"plan,omitempty"`
	Code  []string `json:"code,omitempty"`
	Tests []string `json:"tests,omitempty"`
}

// Mission is the single source of truth for a run: stage, iteration, cycle,
// history, and everything surfaced to the agent in every prompt.
type Mission struct {
	MissionID                string         `json:"mission_id"`
	ProblemStatement         string         `json:"problem_statement"`
	OriginalProblemStatement string         `json:"original_problem_statement,omitempty"`
	CurrentStage             Stage          `json:"current_stage"`
	Iteration                int            `json:"iteration"`
	MaxIterations             int           `json:"max_iterations"`
	CurrentCycle              int           `json:"current_cycle"`
	CycleBudget                int          `json:"cycle_budget"`
	History                     []HistoryEntry `json:"history"`
	CycleHistory                []CycleRecord  `json:"cycle_history"`
	Preferences                 map[string]any `json:"preferences"`
	SuccessCriteria              []string      `json:"success_criteria"`
	Artifacts                    Artifacts     `json:"artifacts"`
	CreatedAt                    time.Time     `json:"created_at"`
	LastUpdated                  time.Time     `json:"last_updated,omitempty"`
	MissionWorkspace              string       `json:"mission_workspace,omitempty"`
	MissionDir                    string       `json:"mission_dir,omitempty"`
}

// defaultMission is materialized whenever the backing file is missing or
// unreadable. It deliberately mirrors the zero-config starting point a fresh
// mission would have.
func defaultMission(now time.Time) *Mission {
	return &Mission{
		MissionID:        "default",
		ProblemStatement: "No mission defined. Please set a mission.",
		CurrentStage:     StagePlanning,
		Iteration:        0,
		MaxIterations:    10,
		CurrentCycle:     1,
		CycleBudget:      1,
		History:          []HistoryEntry{},
		CycleHistory:     []CycleRecord{},
		Preferences:      map[string]any{},
		SuccessCriteria:  []string{},
		Artifacts:        Artifacts{Code: []string{}, Tests: []string{}},
		CreatedAt:        now,
	}
}
