package llmclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ExecInvoker is a generic, command-agnostic Invoker: it shells out to a
// configured command with prompt on stdin and returns stdout as the reply.
// It knows nothing about any particular LLM CLI's flags or transcript
// format — wiring an actual coding-agent CLI's argument and output
// conventions stays out of scope.
type ExecInvoker struct {
	// Command is the executable to run (e.g. "llm-cli"). Args are passed
	// through unchanged; prompt always arrives on stdin.
	Command string
	Args    []string
}

// Invoke runs the configured command, writing prompt to stdin and waiting
// up to timeout. A context deadline or process error becomes an errInfo
// string other callers parse with ParseErrorInfo.
func (e ExecInvoker) Invoke(ctx context.Context, prompt string, timeout time.Duration) (string, string, error) {
	if e.Command == "" {
		return "", "", errors.New("llmclient: ExecInvoker has no Command configured")
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, e.Command, e.Args...)
	cmd.Stdin = strings.NewReader(prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if runCtx.Err() == context.DeadlineExceeded {
		return stdout.String(), fmt.Sprintf("timeout:%ds", int(timeout.Seconds())), nil
	}

	if err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return stdout.String(), "cli_error:" + detail, nil
	}

	return stdout.String(), "", nil
}
