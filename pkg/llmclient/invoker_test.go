package llmclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseErrorInfo_Empty(t *testing.T) {
	parsed := ParseErrorInfo("")
	assert.Equal(t, ErrorInfoNone, parsed.Kind)
}

func TestParseErrorInfo_Timeout(t *testing.T) {
	parsed := ParseErrorInfo("timeout:3600s")
	assert.Equal(t, ErrorInfoTimeout, parsed.Kind)
	assert.Equal(t, 3600*time.Second, parsed.Timeout)
}

func TestParseErrorInfo_CLIError(t *testing.T) {
	parsed := ParseErrorInfo("cli_error:segfault")
	assert.Equal(t, ErrorInfoCLIError, parsed.Kind)
	assert.Equal(t, "segfault", parsed.Detail)
}

func TestParseErrorInfo_Exception(t *testing.T) {
	parsed := ParseErrorInfo("exception:boom")
	assert.Equal(t, ErrorInfoException, parsed.Kind)
	assert.Equal(t, "boom", parsed.Detail)
}

func TestParseErrorInfo_Other(t *testing.T) {
	parsed := ParseErrorInfo("something else")
	assert.Equal(t, ErrorInfoOther, parsed.Kind)
}
