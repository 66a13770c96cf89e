// Package promptfactory assembles stage prompts in a fixed order and injects
// optional context (knowledge-base learnings, code-memory snippets, crash
// recovery) without ever letting a missing or unreadable source break the
// mission loop: every injection here is best-effort.
package promptfactory

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/forgepath/missionctl/pkg/mission"
)

// currentMissionMarker is the splice point injections look for: present it
// goes right before it, absent it falls back to append/prepend.
const currentMissionMarker = "=== CURRENT MISSION ==="

// Learning is a past-mission takeaway surfaced to PLANNING.
type Learning struct {
	Title     string
	Content   string
	MissionID string
	Category  string
}

// CodeMemory is an episodic code snippet surfaced to BUILDING.
type CodeMemory struct {
	FilePath string
	Snippet  string
	Context  string
}

// RecoveryInfo describes a prior crash, recovered from the recovery
// integration's last checkpoint.
type RecoveryInfo struct {
	Stage     string
	MissionID string
	Iteration int
	Cycle     int
	Progress  string
	Hint      string
}

// AssembleContext carries the mission-header fields needed by Assemble,
// independent of the stage package to avoid a promptfactory->stage import.
type AssembleContext struct {
	ProblemStatement string
	CurrentStage     string
	Iteration        int
	WorkspaceDir     string
	LLMProvider      string
	History          []mission.HistoryEntry
	Preferences      map[string]any
	SuccessCriteria  []string
}

// Factory loads and caches ground rules per LLM provider, and assembles
// prompts from a stage body plus the mission's current state.
type Factory struct {
	groundRulesPath string

	mu    sync.Mutex
	cache map[string]string
}

// NewFactory builds a Factory that loads ground rules from groundRulesPath
// (typically GROUND_RULES.md at the workspace root).
func NewFactory(groundRulesPath string) *Factory {
	return &Factory{
		groundRulesPath: groundRulesPath,
		cache:           make(map[string]string),
	}
}

// GroundRules returns the cached ground-rules text for provider, loading and
// caching it on first use. A missing file or read error yields "" and is
// logged, never propagated.
func (f *Factory) GroundRules(provider string) string {
	if provider == "" {
		provider = "default"
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[provider]; ok {
		return cached
	}

	rules := f.loadGroundRules()
	f.cache[provider] = rules
	return rules
}

func (f *Factory) loadGroundRules() string {
	if f.groundRulesPath == "" {
		return ""
	}

	if _, err := os.Stat(f.groundRulesPath); err != nil {
		if os.IsNotExist(err) {
			slog.Warn("ground rules not found", "path", f.groundRulesPath)
		} else {
			slog.Error("failed to stat ground rules", "path", f.groundRulesPath, "error", err)
		}
		return ""
	}

	content, err := os.ReadFile(f.groundRulesPath)
	if err != nil {
		slog.Error("failed to load ground rules", "path", f.groundRulesPath, "error", err)
		return ""
	}

	slog.Debug("loaded ground rules", "path", f.groundRulesPath)
	return string(content)
}

// InjectKB splices formatted learnings before the mission marker if present,
// else appends them. top-K truncation is the caller's responsibility; this
// truncates each learning's content to 500 characters.
func (f *Factory) InjectKB(prompt string, learnings []Learning) string {
	if len(learnings) == 0 {
		return prompt
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Warn("failed to inject knowledge-base context", "panic", r)
		}
	}()

	section := formatLearnings(learnings)
	return spliceBeforeMarkerOrAppend(prompt, section)
}

func formatLearnings(learnings []Learning) string {
	var b strings.Builder
	b.WriteString("=== LEARNINGS FROM PAST MISSIONS ===\n\n")
	b.WriteString("The following learnings from previous missions may be relevant:\n\n")

	for _, l := range learnings {
		title := defaultStr(l.Title, "Untitled")
		category := defaultStr(l.Category, "general")
		missionID := defaultStr(l.MissionID, "unknown")

		fmt.Fprintf(&b, "**%s** [%s] (from %s)\n", title, category, missionID)
		b.WriteString(truncate(l.Content, 500))
		b.WriteString("\n\n")
	}

	b.WriteString("Consider these learnings when planning your approach.\n")
	return b.String()
}

// InjectCodeMemory always appends formatted code-memory snippets to the end
// of the prompt, truncating each snippet to 1000 characters.
func (f *Factory) InjectCodeMemory(prompt string, memories []CodeMemory) string {
	if len(memories) == 0 {
		return prompt
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Warn("failed to inject code-memory context", "panic", r)
		}
	}()

	section := formatCodeMemories(memories)
	return prompt + "\n\n" + section
}

func formatCodeMemories(memories []CodeMemory) string {
	var b strings.Builder
	b.WriteString("=== CODE MEMORY ===\n\n")
	b.WriteString("Relevant code patterns from recent work:\n\n")

	for _, m := range memories {
		fmt.Fprintf(&b, "**%s**\n", defaultStr(m.FilePath, "unknown"))
		if m.Context != "" {
			fmt.Fprintf(&b, "Context: %s\n", m.Context)
		}
		b.WriteString("```\n")
		b.WriteString(truncate(m.Snippet, 1000))
		b.WriteString("\n```\n\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

// InjectRecovery splices a crash-recovery block before the mission marker if
// present, else prepends it to the front of the prompt. A nil info is a
// no-op, matching the common case of no prior crash.
func (f *Factory) InjectRecovery(prompt string, info *RecoveryInfo) string {
	if info == nil {
		return prompt
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Warn("failed to inject recovery context", "panic", r)
		}
	}()

	section := formatRecovery(*info)
	if strings.Contains(prompt, currentMissionMarker) {
		parts := strings.SplitN(prompt, currentMissionMarker, 2)
		return parts[0] + "\n" + section + "\n" + currentMissionMarker + parts[1]
	}
	return section + "\n\n" + prompt
}

func formatRecovery(info RecoveryInfo) string {
	var b strings.Builder
	b.WriteString("=== CRASH RECOVERY ===\n")
	fmt.Fprintf(&b, "Your previous session crashed during the **%s** stage.\n\n", defaultStr(info.Stage, "UNKNOWN"))
	fmt.Fprintf(&b, "**Mission:** %s\n", defaultStr(info.MissionID, "unknown"))
	fmt.Fprintf(&b, "**Iteration:** %d\n", info.Iteration)
	fmt.Fprintf(&b, "**Cycle:** %d\n\n", info.Cycle)

	if info.Progress != "" {
		b.WriteString("**Progress at crash:**\n")
		b.WriteString(info.Progress)
		b.WriteString("\n\n")
	}

	if info.Hint != "" {
		fmt.Fprintf(&b, "**Recovery hint:** %s\n\n", info.Hint)
	}

	b.WriteString("IMPORTANT: Resume from where you left off. Do NOT restart from scratch.\n")
	b.WriteString("=== END CRASH RECOVERY ===\n")
	return b.String()
}

func spliceBeforeMarkerOrAppend(prompt, section string) string {
	if strings.Contains(prompt, currentMissionMarker) {
		parts := strings.SplitN(prompt, currentMissionMarker, 2)
		return parts[0] + "\n" + section + "\n" + currentMissionMarker + parts[1]
	}
	return prompt + "\n\n" + section
}

// FormatPreferences renders a preferences map as a bulleted block, or "" if
// empty.
func FormatPreferences(preferences map[string]any) string {
	if len(preferences) == 0 {
		return ""
	}

	lines := []string{"User Preferences:"}
	for key, value := range preferences {
		lines = append(lines, fmt.Sprintf("  - %s: %v", titleCase(key), value))
	}
	return strings.Join(lines, "\n")
}

// FormatSuccessCriteria renders a numbered success-criteria list, or "" if
// empty.
func FormatSuccessCriteria(criteria []string) string {
	if len(criteria) == 0 {
		return ""
	}

	lines := []string{"Success Criteria:"}
	for i, c := range criteria {
		lines = append(lines, fmt.Sprintf("  %d. %s", i+1, c))
	}
	return strings.Join(lines, "\n")
}

// FormatHistory renders the tail of history (at most maxEntries), each line
// truncated to 100 characters of event text and 19 characters of timestamp.
func FormatHistory(history []mission.HistoryEntry, maxEntries int) string {
	if len(history) == 0 {
		return "No history yet."
	}

	recent := history
	if len(recent) > maxEntries {
		recent = recent[len(recent)-maxEntries:]
	}

	lines := []string{"Recent History:"}
	for _, entry := range recent {
		ts := entry.Timestamp.Format("2006-01-02T15:04:05")
		event := truncateWithEllipsis(entry.Event, 100)
		lines = append(lines, fmt.Sprintf("  [%s] %s: %s", truncate(ts, 19), entry.Stage, event))
	}
	return strings.Join(lines, "\n")
}

// Assemble builds the complete prompt in fixed order: ground rules, mission
// header, recent history, the stage-specific body, then preferences and
// success criteria.
func (f *Factory) Assemble(stagePrompt string, ctx AssembleContext) string {
	var parts []string

	if rules := f.GroundRules(ctx.LLMProvider); rules != "" {
		parts = append(parts, "=== GROUND RULES (READ CAREFULLY) ===", rules, "=== END GROUND RULES ===", "")
	}

	parts = append(parts,
		fmt.Sprintf("CURRENT MISSION: %s", ctx.ProblemStatement),
		fmt.Sprintf("CURRENT STAGE: %s", ctx.CurrentStage),
		fmt.Sprintf("ITERATION: %d", ctx.Iteration),
		fmt.Sprintf("WORKSPACE: %s", ctx.WorkspaceDir),
		"",
	)

	if len(ctx.History) > 0 {
		parts = append(parts, "=== RECENT HISTORY ===", FormatHistory(ctx.History, 10), "")
	}

	parts = append(parts, stagePrompt)

	if prefs := FormatPreferences(ctx.Preferences); prefs != "" {
		parts = append(parts, "", prefs)
	}

	if criteria := FormatSuccessCriteria(ctx.SuccessCriteria); criteria != "" {
		parts = append(parts, "", criteria)
	}

	return strings.Join(parts, "\n")
}

func defaultStr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func truncateWithEllipsis(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func titleCase(key string) string {
	words := strings.Split(strings.ReplaceAll(key, "_", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
