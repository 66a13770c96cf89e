// Package llmclient defines the boundary between the mission engine and
// whatever drives the external LLM process. The only concrete driver here is
// ExecInvoker, which runs a configured command generically; parsing any
// particular CLI's transcript is out of scope for this module.
package llmclient

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Invoker sends a prompt to an external LLM and returns its reply. A
// non-empty errInfo means the call failed; reply is only meaningful when
// errInfo is empty. Invoker implementations must never panic: a failed call
// is reported through errInfo's grammar, and err is non-nil only when the
// call could not be made at all (for example, ExecInvoker with no Command).
type Invoker interface {
	Invoke(ctx context.Context, prompt string, timeout time.Duration) (reply string, errInfo string, err error)
}

// ErrorInfoKind is the closed set of error_info grammar productions.
type ErrorInfoKind string

const (
	ErrorInfoNone      ErrorInfoKind = "none"
	ErrorInfoTimeout   ErrorInfoKind = "timeout"
	ErrorInfoCLIError  ErrorInfoKind = "cli_error"
	ErrorInfoException ErrorInfoKind = "exception"
	ErrorInfoOther     ErrorInfoKind = "other"
)

// ParsedErrorInfo is the structured form of an errInfo string.
type ParsedErrorInfo struct {
	Kind    ErrorInfoKind
	Raw     string
	Timeout time.Duration // only set when Kind == ErrorInfoTimeout
	Detail  string        // the snippet/message after the prefix
}

// ParseErrorInfo parses errInfo per the grammar: "timeout:<seconds>s",
// "cli_error:<stderr-snippet>", "exception:<message>", or empty for
// success. Anything else is ErrorInfoOther, carried through verbatim.
func ParseErrorInfo(errInfo string) ParsedErrorInfo {
	if errInfo == "" {
		return ParsedErrorInfo{Kind: ErrorInfoNone, Raw: errInfo}
	}

	if rest, ok := strings.CutPrefix(errInfo, "timeout:"); ok {
		seconds := strings.TrimSuffix(rest, "s")
		if n, err := strconv.Atoi(seconds); err == nil {
			return ParsedErrorInfo{Kind: ErrorInfoTimeout, Raw: errInfo, Timeout: time.Duration(n) * time.Second, Detail: rest}
		}
		return ParsedErrorInfo{Kind: ErrorInfoTimeout, Raw: errInfo, Detail: rest}
	}

	if rest, ok := strings.CutPrefix(errInfo, "cli_error:"); ok {
		return ParsedErrorInfo{Kind: ErrorInfoCLIError, Raw: errInfo, Detail: rest}
	}

	if rest, ok := strings.CutPrefix(errInfo, "exception:"); ok {
		return ParsedErrorInfo{Kind: ErrorInfoException, Raw: errInfo, Detail: rest}
	}

	return ParsedErrorInfo{Kind: ErrorInfoOther, Raw: errInfo, Detail: errInfo}
}
