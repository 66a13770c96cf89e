// Package conductor drives a single mission's outer loop: build a prompt,
// invoke the external LLM under a context watcher, classify any failure,
// and feed a successful reply to the orchestrator.
package conductor

import (
	"regexp"
	"strconv"
	"strings"
)

// RestartReason categorizes why a turn didn't advance the mission.
type RestartReason string

const (
	// Graceful — do not consume restart budget.
	ReasonContextExhaustion RestartReason = "context_exhaustion"
	ReasonTimeBasedHandoff  RestartReason = "time_based_handoff"
	ReasonContextOverflow   RestartReason = "context_overflow"

	// Retriable — consume one of N restarts.
	ReasonCLITimeout    RestartReason = "cli_timeout"
	ReasonAPIError500   RestartReason = "api_error_500"
	ReasonToolCallBug   RestartReason = "tool_call_bug"
	ReasonOutputTooLong RestartReason = "output_too_long"
	ReasonCLICrash      RestartReason = "cli_crash"
	ReasonNetworkError  RestartReason = "network_error"
	ReasonOverloaded    RestartReason = "overloaded"

	// Blocking — halt immediately, no retry.
	ReasonRateLimited    RestartReason = "rate_limited"
	ReasonAuthFailed     RestartReason = "auth_failed"
	ReasonInvalidRequest RestartReason = "invalid_request"

	ReasonUnknown RestartReason = "unknown"
)

var gracefulReasons = map[RestartReason]bool{
	ReasonContextExhaustion: true,
	ReasonTimeBasedHandoff:  true,
	ReasonContextOverflow:   true,
}

var blockingReasons = map[RestartReason]bool{
	ReasonRateLimited:    true,
	ReasonAuthFailed:     true,
	ReasonInvalidRequest: true,
}

// IsGraceful reports whether reason should not consume restart budget.
func IsGraceful(reason RestartReason) bool { return gracefulReasons[reason] }

// IsBlocking reports whether reason should halt the mission immediately.
func IsBlocking(reason RestartReason) bool { return blockingReasons[reason] }

var resetTimePattern = regexp.MustCompile(`resets?\s+(?:at\s+)?(\d+[ap]m|\d+:\d+)`)
var api500Pattern = regexp.MustCompile(`(error|status|code)[:\s]*500`)

// ClassifyError maps a raw errInfo string and optional reply text to a
// RestartReason and a human-readable explanation. Patterns are applied in
// order; the first match wins — this mirrors the source classifier
// field-for-field, including its deliberately partial "500" match (only
// counted when anchored by error/status/code or "http 500", so an
// incidental "500" elsewhere in a reply does not misclassify a turn).
func ClassifyError(errInfo, replyText string) (RestartReason, string) {
	errLower := strings.ToLower(errInfo)
	replyLower := strings.ToLower(replyText)
	combined := errLower + " " + replyLower

	if strings.HasPrefix(errInfo, "timeout:") {
		return ReasonCLITimeout, "Claude CLI did not respond within timeout period (" + errInfo + ")"
	}

	rateLimitPatterns := []string{"rate_limit", "rate limit", "ratelimit", "hit your limit", "too many requests", "429", "quota exceeded"}
	if containsAny(combined, rateLimitPatterns) {
		resetTime := "later"
		if m := resetTimePattern.FindStringSubmatch(combined); m != nil {
			resetTime = m[1]
		}
		return ReasonRateLimited, "API rate limit reached. Resets at " + resetTime
	}

	authPatterns := [][2]string{
		{"authentication", "fail"},
		{"authentication", "error"},
		{"auth", "fail"},
		{"unauthorized", ""},
		{"401", ""},
		{"api key", "invalid"},
		{"api_key", "invalid"},
		{"session", "expired"},
	}
	for _, p := range authPatterns {
		if strings.Contains(combined, p[0]) && (p[1] == "" || strings.Contains(combined, p[1])) {
			return ReasonAuthFailed, "Authentication failed. Check API key or run /login"
		}
	}

	invalidRequestPatterns := []string{"invalid_request", "invalid request", "malformed", "bad request", "400"}
	if containsAny(combined, invalidRequestPatterns) {
		return ReasonInvalidRequest, "Invalid request. Check prompt format. Error: " + truncate(errInfo, 100)
	}

	if strings.Contains(combined, "tool_use") && strings.Contains(combined, "ids must be unique") {
		return ReasonToolCallBug, "Claude Code bug: duplicate tool_use IDs. Consider updating claude CLI"
	}

	toolCallErrorPatterns := []string{"tool_use_block", "invalid tool_use", "tool call", "function call"}
	if containsAny(combined, toolCallErrorPatterns) && strings.Contains(combined, "error") {
		return ReasonToolCallBug, "Tool call error detected. Error: " + truncate(errInfo, 100)
	}

	api500Patterns := []string{"api error: 500", "api_error: 500", "internal server error", "500", "server error"}
	for _, pattern := range api500Patterns {
		if pattern == "500" {
			if api500Pattern.MatchString(combined) || strings.Contains(combined, "http 500") {
				return ReasonAPIError500, "Anthropic API server error (500). Transient issue."
			}
			continue
		}
		if strings.Contains(combined, pattern) {
			return ReasonAPIError500, "Anthropic API server error (500). Transient issue."
		}
	}

	if strings.Contains(combined, "overloaded") || strings.Contains(combined, "503") {
		return ReasonOverloaded, "Anthropic API is overloaded. Will retry after brief pause."
	}

	outputLimitPatterns := [][2]string{
		{"output token", "exceeded"},
		{"output token", "maximum"},
		{"max_tokens", "exceeded"},
		{"response", "too long"},
	}
	for _, p := range outputLimitPatterns {
		if strings.Contains(combined, p[0]) && strings.Contains(combined, p[1]) {
			return ReasonOutputTooLong, "Claude response exceeded output token limit"
		}
	}

	contextOverflowPatterns := [][2]string{
		{"maximum context length", "tokens"},
		{"context length", "exceeded"},
		{"context window", "exceeded"},
		{"too many tokens", ""},
		{"prompt is too long", ""},
	}
	for _, p := range contextOverflowPatterns {
		if strings.Contains(combined, p[0]) && (p[1] == "" || strings.Contains(combined, p[1])) {
			return ReasonContextOverflow, "Context window exceeded for this model"
		}
	}

	networkPatterns := []string{"connection refused", "connection error", "network error", "socket error", "timeout error", "connect timeout", "read timeout", "econnrefused", "dns"}
	if containsAny(combined, networkPatterns) {
		return ReasonNetworkError, "Network error communicating with API. Error: " + truncate(errInfo, 100)
	}

	if strings.HasPrefix(errInfo, "cli_error:") {
		snippet := errInfo[len("cli_error:"):]
		return ReasonCLICrash, "Claude CLI error: " + truncate(snippet, 100)
	}

	if strings.HasPrefix(errInfo, "exception:") {
		msg := errInfo[len("exception:"):]
		return ReasonUnknown, "Exception: " + truncate(msg, 100)
	}

	snippet := "No error information available"
	if errInfo != "" {
		snippet = truncate(errInfo, 100)
	}
	return ReasonUnknown, "Unknown error: " + snippet
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// FormatErrorMessage formats an Activity Log line for a retriable or
// blocking error. Blocking errors omit the attempt counter.
func FormatErrorMessage(reason RestartReason, explanation string, attempt, maxAttempts int) string {
	prefix := "[ERROR:" + strings.ToUpper(string(reason)) + "]"
	if IsBlocking(reason) {
		return prefix + " " + explanation
	}
	return prefix + " " + explanation + attemptSuffix(attempt, maxAttempts)
}

func attemptSuffix(attempt, maxAttempts int) string {
	return " (attempt " + strconv.Itoa(attempt+1) + "/" + strconv.Itoa(maxAttempts) + ")"
}

// FormatFatalMessage formats the Activity Log line written when a mission
// halts.
func FormatFatalMessage(reason RestartReason, explanation string, maxAttempts int) string {
	if IsBlocking(reason) {
		return "[FATAL] Mission halted due to blocking error: " + strings.ToUpper(string(reason)) + " - " + explanation
	}
	return "[FATAL] Mission halted after " + strconv.Itoa(maxAttempts) + " errors. Last error: " + strings.ToUpper(string(reason)) + " - " + explanation
}

// FormatRestartMessage formats the Activity Log line written on a graceful
// handoff.
func FormatRestartMessage(reason RestartReason, extraInfo string) string {
	prefix := "[RESTART:" + strings.ToUpper(string(reason)) + "]"
	info := ""
	if extraInfo != "" {
		info = " (" + extraInfo + ")"
	}

	switch reason {
	case ReasonContextExhaustion:
		return prefix + " Context limit reached" + info + ". Fresh instance starting..."
	case ReasonTimeBasedHandoff:
		return prefix + " Time limit reached" + info + ". Fresh instance starting..."
	case ReasonContextOverflow:
		return prefix + " Context overflow detected" + info + ". Fresh instance starting..."
	default:
		return prefix + " Graceful handoff" + info + ". Fresh instance starting..."
	}
}
