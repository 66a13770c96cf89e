package conductor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyError_Timeout(t *testing.T) {
	reason, explanation := ClassifyError("timeout:3600s", "")
	assert.Equal(t, ReasonCLITimeout, reason)
	assert.Contains(t, explanation, "timeout:3600s")
}

func TestClassifyError_RateLimitedFromCLIError(t *testing.T) {
	reason, explanation := ClassifyError("cli_error:rate_limit_exceeded", "")
	assert.Equal(t, ReasonRateLimited, reason)
	assert.Contains(t, explanation, "Resets at later")
}

func TestClassifyError_RateLimitedFromReplyText(t *testing.T) {
	reason, explanation := ClassifyError("", "You've hit your limit. Resets at 11am.")
	assert.Equal(t, ReasonRateLimited, reason)
	assert.Contains(t, explanation, "Resets at 11am")
}

func TestClassifyError_AuthFailed(t *testing.T) {
	reason, _ := ClassifyError("", "Authentication failed, please check your credentials")
	assert.Equal(t, ReasonAuthFailed, reason)
}

func TestClassifyError_ToolCallBug(t *testing.T) {
	reason, _ := ClassifyError("cli_error:tool_use ids must be unique across the request", "")
	assert.Equal(t, ReasonToolCallBug, reason)
}

func TestClassifyError_API500_AnchoredMatch(t *testing.T) {
	reason, _ := ClassifyError("", "request failed with status 500")
	assert.Equal(t, ReasonAPIError500, reason)
}

func TestClassifyError_API500_BareNumberDoesNotMatch(t *testing.T) {
	reason, _ := ClassifyError("", "the mission produced 500 lines of output")
	assert.NotEqual(t, ReasonAPIError500, reason)
}

func TestClassifyError_API500_ExplicitPhrase(t *testing.T) {
	reason, _ := ClassifyError("", "Internal Server Error occurred")
	assert.Equal(t, ReasonAPIError500, reason)
}

func TestClassifyError_Overloaded(t *testing.T) {
	reason, _ := ClassifyError("", "the API is currently overloaded")
	assert.Equal(t, ReasonOverloaded, reason)
}

func TestClassifyError_OutputTooLong(t *testing.T) {
	reason, _ := ClassifyError("", "output token limit exceeded")
	assert.Equal(t, ReasonOutputTooLong, reason)
}

func TestClassifyError_ContextOverflow(t *testing.T) {
	reason, _ := ClassifyError("", "maximum context length is 200000 tokens")
	assert.Equal(t, ReasonContextOverflow, reason)
}

func TestClassifyError_NetworkError(t *testing.T) {
	reason, _ := ClassifyError("", "connection refused by remote host")
	assert.Equal(t, ReasonNetworkError, reason)
}

func TestClassifyError_CLICrash(t *testing.T) {
	reason, explanation := ClassifyError("cli_error:segmentation fault", "")
	assert.Equal(t, ReasonCLICrash, reason)
	assert.Contains(t, explanation, "segmentation fault")
}

func TestClassifyError_ExceptionIsUnknown(t *testing.T) {
	reason, explanation := ClassifyError("exception:something broke", "")
	assert.Equal(t, ReasonUnknown, reason)
	assert.Contains(t, explanation, "something broke")
}

func TestClassifyError_EmptyIsUnknown(t *testing.T) {
	reason, explanation := ClassifyError("", "")
	assert.Equal(t, ReasonUnknown, reason)
	assert.Contains(t, explanation, "No error information available")
}

func TestIsGraceful(t *testing.T) {
	assert.True(t, IsGraceful(ReasonContextExhaustion))
	assert.True(t, IsGraceful(ReasonTimeBasedHandoff))
	assert.False(t, IsGraceful(ReasonCLITimeout))
}

func TestIsBlocking(t *testing.T) {
	assert.True(t, IsBlocking(ReasonRateLimited))
	assert.True(t, IsBlocking(ReasonAuthFailed))
	assert.False(t, IsBlocking(ReasonCLITimeout))
}

func TestFormatErrorMessage_RetriableIncludesAttempt(t *testing.T) {
	msg := FormatErrorMessage(ReasonCLITimeout, "60s timeout", 1, 3)
	assert.Equal(t, "[ERROR:CLI_TIMEOUT] 60s timeout (attempt 2/3)", msg)
}

func TestFormatErrorMessage_BlockingOmitsAttempt(t *testing.T) {
	msg := FormatErrorMessage(ReasonRateLimited, "Resets at 11am", 0, 3)
	assert.Equal(t, "[ERROR:RATE_LIMITED] Resets at 11am", msg)
}

func TestFormatFatalMessage_Blocking(t *testing.T) {
	msg := FormatFatalMessage(ReasonAuthFailed, "bad key", 3)
	assert.Contains(t, msg, "blocking error")
	assert.Contains(t, msg, "AUTH_FAILED")
}

func TestFormatFatalMessage_Retriable(t *testing.T) {
	msg := FormatFatalMessage(ReasonCLITimeout, "60s timeout", 3)
	assert.Equal(t, "[FATAL] Mission halted after 3 errors. Last error: CLI_TIMEOUT - 60s timeout", msg)
}

func TestFormatRestartMessage_ContextExhaustion(t *testing.T) {
	msg := FormatRestartMessage(ReasonContextExhaustion, "125K tokens")
	assert.Equal(t, "[RESTART:CONTEXT_EXHAUSTION] Context limit reached (125K tokens). Fresh instance starting...", msg)
}

func TestFormatRestartMessage_TimeBasedHandoff(t *testing.T) {
	msg := FormatRestartMessage(ReasonTimeBasedHandoff, "55.2 min")
	assert.Equal(t, "[RESTART:TIME_BASED_HANDOFF] Time limit reached (55.2 min). Fresh instance starting...", msg)
}
