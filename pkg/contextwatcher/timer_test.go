package contextwatcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeBasedHandoffMonitor_FiresAtConfiguredTime(t *testing.T) {
	received := make(chan HandoffSignal, 1)

	monitor := NewTimeBasedHandoffMonitor("test_session", "/test/workspace", func(s HandoffSignal) {
		received <- s
	}, 1.0/60, nil)

	monitor.Start()

	select {
	case signal := <-received:
		assert.Equal(t, HandoffTimeBased, signal.Level)
		assert.Equal(t, "test_session", signal.SessionID)
		assert.True(t, monitor.HasFired())
	case <-time.After(3 * time.Second):
		t.Fatal("callback should have been called")
	}
}

func TestTimeBasedHandoffMonitor_CanBeCancelled(t *testing.T) {
	received := make(chan HandoffSignal, 1)

	monitor := NewTimeBasedHandoffMonitor("test_session", "/test/workspace", func(s HandoffSignal) {
		received <- s
	}, 1, nil)

	monitor.Start()
	time.Sleep(50 * time.Millisecond)
	monitor.Cancel()

	select {
	case <-received:
		t.Fatal("callback should not have been called")
	case <-time.After(200 * time.Millisecond):
	}

	assert.True(t, monitor.IsCancelled())
	assert.False(t, monitor.HasFired())
}

func TestTimeBasedHandoffMonitor_ZombieCheckSkipsStaleSession(t *testing.T) {
	received := make(chan HandoffSignal, 1)

	monitor := NewTimeBasedHandoffMonitor("gone", "/test/workspace", func(s HandoffSignal) {
		received <- s
	}, 1.0/60, func(string) bool { return false })

	monitor.Start()

	select {
	case <-received:
		t.Fatal("callback should not fire for a session no longer registered")
	case <-time.After(500 * time.Millisecond):
	}
}

func TestTimeBasedHandoffMonitor_MultipleStartCallsIgnored(t *testing.T) {
	count := 0
	done := make(chan struct{}, 1)

	monitor := NewTimeBasedHandoffMonitor("multi_start", "/test", func(s HandoffSignal) {
		count++
		done <- struct{}{}
	}, 1.0/60, nil)

	monitor.Start()
	monitor.Start()
	monitor.Start()

	<-done
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, count)
}

func TestTimeBasedHandoffMonitor_StopIsAliasForCancel(t *testing.T) {
	monitor := NewTimeBasedHandoffMonitor("stop_test", "/test", func(HandoffSignal) {}, 1, nil)
	monitor.Start()
	monitor.Stop()
	assert.True(t, monitor.IsCancelled())
}

func TestTimeBasedHandoffMonitor_GetStats(t *testing.T) {
	monitor := NewTimeBasedHandoffMonitor("stats_test", "/test", func(HandoffSignal) {}, 5, nil)
	monitor.Start()
	time.Sleep(50 * time.Millisecond)

	stats := monitor.GetStats()
	assert.Equal(t, "stats_test", stats["session_id"])
	assert.Equal(t, false, stats["fired"])
	assert.Equal(t, false, stats["cancelled"])

	monitor.Cancel()
}
