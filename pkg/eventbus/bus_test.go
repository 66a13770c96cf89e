package eventbus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	BaseHandler
	calls   *[]string
	fail    error
	doPanic bool
}

func (h *recordingHandler) HandleEvent(event Event) error {
	if h.doPanic {
		panic("boom")
	}
	*h.calls = append(*h.calls, h.HandlerName)
	return h.fail
}

func newRecordingHandler(name string, priority Priority, calls *[]string) *recordingHandler {
	h := &recordingHandler{calls: calls}
	h.InitBase(name, priority, []EventType{StageCompleted}, nil)
	return h
}

func TestBus_DispatchesInPriorityOrder(t *testing.T) {
	bus := NewBus()
	var calls []string

	bus.Register(newRecordingHandler("low", PriorityLow, &calls))
	bus.Register(newRecordingHandler("critical", PriorityCritical, &calls))
	bus.Register(newRecordingHandler("normal", PriorityNormal, &calls))

	bus.Emit(NewEvent(StageCompleted, "BUILDING", "m1", "test", nil))

	assert.Equal(t, []string{"critical", "normal", "low"}, calls)
}

func TestBus_StableTieBreakIsRegistrationOrder(t *testing.T) {
	bus := NewBus()
	var calls []string

	bus.Register(newRecordingHandler("first", PriorityNormal, &calls))
	bus.Register(newRecordingHandler("second", PriorityNormal, &calls))
	bus.Register(newRecordingHandler("third", PriorityNormal, &calls))

	bus.Emit(NewEvent(StageCompleted, "BUILDING", "m1", "test", nil))

	assert.Equal(t, []string{"first", "second", "third"}, calls)
}

func TestBus_HandlerErrorDoesNotBlockOthers(t *testing.T) {
	bus := NewBus()
	var calls []string

	failing := newRecordingHandler("failing", PriorityCritical, &calls)
	failing.fail = errors.New("boom")
	bus.Register(failing)
	bus.Register(newRecordingHandler("healthy", PriorityNormal, &calls))

	bus.Emit(NewEvent(StageCompleted, "BUILDING", "m1", "test", nil))

	assert.Equal(t, []string{"healthy"}, calls)
	stats := bus.StatsSnapshot()
	assert.Equal(t, 1, stats.ErrorsHandled)
	assert.Equal(t, 1, stats.HandlersInvoked)
}

func TestBus_HandlerPanicIsIsolated(t *testing.T) {
	bus := NewBus()
	var calls []string

	panicker := &recordingHandler{calls: &calls, doPanic: true}
	panicker.InitBase("panicker", PriorityCritical, []EventType{StageCompleted}, nil)
	bus.Register(panicker)
	bus.Register(newRecordingHandler("healthy", PriorityNormal, &calls))

	assert.NotPanics(t, func() {
		bus.Emit(NewEvent(StageCompleted, "BUILDING", "m1", "test", nil))
	})
	assert.Equal(t, []string{"healthy"}, calls)
	assert.Equal(t, 1, bus.StatsSnapshot().PanicsRecovered)
}

func TestBus_UnavailableHandlerIsSkipped(t *testing.T) {
	bus := NewBus()
	var calls []string

	h := newRecordingHandler("offline", PriorityCritical, &calls)
	h.Disable()
	bus.Register(h)
	bus.Register(newRecordingHandler("healthy", PriorityNormal, &calls))

	bus.Emit(NewEvent(StageCompleted, "BUILDING", "m1", "test", nil))
	assert.Equal(t, []string{"healthy"}, calls)
}

func TestBus_Unregister(t *testing.T) {
	bus := NewBus()
	var calls []string

	h := newRecordingHandler("temp", PriorityNormal, &calls)
	bus.Register(h)
	bus.Unregister("temp")

	bus.Emit(NewEvent(StageCompleted, "BUILDING", "m1", "test", nil))
	assert.Empty(t, calls)

	_, ok := bus.Handler("temp")
	assert.False(t, ok)
}

func TestGitIntegration_NameAndPriority(t *testing.T) {
	dir := t.TempDir()
	g := NewGitIntegration(dir)
	require.NotNil(t, g)
	assert.Equal(t, "git", g.Name())
	assert.Equal(t, PriorityNormal, g.Priority())
}
