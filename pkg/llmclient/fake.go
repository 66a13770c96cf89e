package llmclient

import (
	"context"
	"time"
)

// FakeInvoker is a scripted Invoker for tests: each call pops the next
// response off Responses, looping the last one once exhausted.
type FakeInvoker struct {
	Responses []FakeResponse
	Calls     int
}

// FakeResponse is one scripted (reply, errInfo, err) triple.
type FakeResponse struct {
	Reply   string
	ErrInfo string
	Err     error
}

// Invoke returns the next scripted response.
func (f *FakeInvoker) Invoke(ctx context.Context, prompt string, timeout time.Duration) (string, string, error) {
	if len(f.Responses) == 0 {
		return "", "", nil
	}

	idx := f.Calls
	if idx >= len(f.Responses) {
		idx = len(f.Responses) - 1
	}
	f.Calls++

	resp := f.Responses[idx]
	return resp.Reply, resp.ErrInfo, resp.Err
}
