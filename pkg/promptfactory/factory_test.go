package promptfactory

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgepath/missionctl/pkg/mission"
)

func TestGroundRules_MissingFileReturnsEmptyAndCaches(t *testing.T) {
	f := NewFactory(filepath.Join(t.TempDir(), "GROUND_RULES.md"))

	assert.Equal(t, "", f.GroundRules("anthropic"))
	assert.Equal(t, "", f.GroundRules("anthropic"))
}

func TestGroundRules_LoadsAndCachesPerProvider(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "GROUND_RULES.md")
	require.NoError(t, os.WriteFile(path, []byte("be careful"), 0o644))

	f := NewFactory(path)
	assert.Equal(t, "be careful", f.GroundRules("anthropic"))
	assert.Equal(t, "be careful", f.GroundRules("openai"))
}

func TestInjectKB_SplicesBeforeMarker(t *testing.T) {
	f := NewFactory("")
	prompt := "preamble\n=== CURRENT MISSION ===\nbody"

	out := f.InjectKB(prompt, []Learning{{Title: "Gotcha", Content: "watch out", MissionID: "m0"}})

	assert.Contains(t, out, "LEARNINGS FROM PAST MISSIONS")
	assert.True(t, indexOf(out, "LEARNINGS") < indexOf(out, "=== CURRENT MISSION ==="))
}

func TestInjectKB_AppendsWithoutMarker(t *testing.T) {
	f := NewFactory("")
	out := f.InjectKB("no marker here", []Learning{{Title: "X", Content: "y"}})
	assert.True(t, indexOf(out, "no marker here") < indexOf(out, "LEARNINGS"))
}

func TestInjectKB_EmptyLearningsNoOp(t *testing.T) {
	f := NewFactory("")
	assert.Equal(t, "original", f.InjectKB("original", nil))
}

func TestInjectCodeMemory_AlwaysAppends(t *testing.T) {
	f := NewFactory("")
	prompt := "=== CURRENT MISSION ===\nbody"
	out := f.InjectCodeMemory(prompt, []CodeMemory{{FilePath: "a.go", Snippet: "func a(){}"}})

	assert.True(t, indexOf(out, "=== CURRENT MISSION ===") < indexOf(out, "CODE MEMORY"))
}

func TestInjectRecovery_SplicesBeforeMarker(t *testing.T) {
	f := NewFactory("")
	prompt := "preamble\n=== CURRENT MISSION ===\nbody"
	out := f.InjectRecovery(prompt, &RecoveryInfo{Stage: "BUILDING", MissionID: "m1", Iteration: 2, Cycle: 1})

	assert.True(t, indexOf(out, "CRASH RECOVERY") < indexOf(out, "=== CURRENT MISSION ==="))
}

func TestInjectRecovery_PrependsWithoutMarker(t *testing.T) {
	f := NewFactory("")
	out := f.InjectRecovery("no marker", &RecoveryInfo{Stage: "TESTING"})
	assert.True(t, indexOf(out, "CRASH RECOVERY") < indexOf(out, "no marker"))
}

func TestInjectRecovery_NilIsNoOp(t *testing.T) {
	f := NewFactory("")
	assert.Equal(t, "original", f.InjectRecovery("original", nil))
}

func TestFormatPreferences_Empty(t *testing.T) {
	assert.Equal(t, "", FormatPreferences(nil))
}

func TestFormatPreferences_RendersKeys(t *testing.T) {
	out := FormatPreferences(map[string]any{"code_style": "concise"})
	assert.Contains(t, out, "Code Style: concise")
}

func TestFormatSuccessCriteria(t *testing.T) {
	out := FormatSuccessCriteria([]string{"works", "is tested"})
	assert.Contains(t, out, "1. works")
	assert.Contains(t, out, "2. is tested")
}

func TestFormatHistory_TruncatesLongEvents(t *testing.T) {
	longEvent := ""
	for i := 0; i < 150; i++ {
		longEvent += "x"
	}

	history := []mission.HistoryEntry{
		{Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Stage: mission.StageBuilding, Event: longEvent},
	}

	out := FormatHistory(history, 10)
	assert.Contains(t, out, "...")
}

func TestFormatHistory_LimitsToMaxEntries(t *testing.T) {
	var history []mission.HistoryEntry
	for i := 0; i < 5; i++ {
		history = append(history, mission.HistoryEntry{Timestamp: time.Now(), Stage: mission.StagePlanning, Event: "e"})
	}

	out := FormatHistory(history, 2)
	assert.Equal(t, 3, len(splitLines(out))) // header + 2 entries
}

func TestAssemble_FixedOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "GROUND_RULES.md")
	require.NoError(t, os.WriteFile(path, []byte("rules"), 0o644))

	f := NewFactory(path)
	out := f.Assemble("STAGE BODY", AssembleContext{
		ProblemStatement: "build a thing",
		CurrentStage:     "PLANNING",
		Iteration:        0,
		WorkspaceDir:     "/workspace",
		LLMProvider:      "anthropic",
		History:          []mission.HistoryEntry{{Timestamp: time.Now(), Stage: mission.StagePlanning, Event: "started"}},
		Preferences:      map[string]any{"tone": "terse"},
		SuccessCriteria:  []string{"done"},
	})

	groundIdx := indexOf(out, "GROUND RULES")
	missionIdx := indexOf(out, "CURRENT MISSION: build a thing")
	historyIdx := indexOf(out, "RECENT HISTORY")
	bodyIdx := indexOf(out, "STAGE BODY")
	prefIdx := indexOf(out, "User Preferences")
	criteriaIdx := indexOf(out, "Success Criteria")

	assert.True(t, groundIdx < missionIdx)
	assert.True(t, missionIdx < historyIdx)
	assert.True(t, historyIdx < bodyIdx)
	assert.True(t, bodyIdx < prefIdx)
	assert.True(t, prefIdx < criteriaIdx)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	lines = append(lines, s[start:])
	return lines
}
