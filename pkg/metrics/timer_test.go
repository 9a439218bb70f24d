package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TestNewTimer tests timer creation
func TestNewTimer(t *testing.T) {
	timer := NewTimer()

	if timer == nil {
		t.Fatal("NewTimer() returned nil")
	}

	if timer.start.IsZero() {
		t.Error("NewTimer() start time is zero")
	}

	// Verify start time is recent (within last second)
	if time.Since(timer.start) > time.Second {
		t.Error("NewTimer() start time is not recent")
	}
}

// TestTimerDuration tests duration measurement
func TestTimerDuration(t *testing.T) {
	timer := NewTimer()

	sleepDuration := 100 * time.Millisecond
	time.Sleep(sleepDuration)

	duration := timer.Duration()

	if duration < sleepDuration {
		t.Errorf("Timer.Duration() = %v, want >= %v", duration, sleepDuration)
	}

	if duration > 2*sleepDuration {
		t.Errorf("Timer.Duration() = %v, want < %v", duration, 2*sleepDuration)
	}
}

// TestTimerObserveDuration exercises the real PublishLatency histogram that
// agent.Base.Publish times a router fan-out against.
func TestTimerObserveDuration(t *testing.T) {
	timer := NewTimer()
	time.Sleep(50 * time.Millisecond)

	// This should not panic.
	timer.ObserveDuration(PublishLatency)

	duration := timer.Duration()
	if duration == 0 {
		t.Error("Timer.ObserveDuration() recorded zero duration")
	}
}

// TestTimerObserveDurationEventStoreAppend exercises EventStoreAppendDuration,
// the histogram eventstore.AppendEvents times itself against.
func TestTimerObserveDurationEventStoreAppend(t *testing.T) {
	timer := NewTimer()
	time.Sleep(50 * time.Millisecond)

	timer.ObserveDuration(EventStoreAppendDuration)

	duration := timer.Duration()
	if duration == 0 {
		t.Error("Timer.ObserveDuration() recorded zero duration")
	}
}

// TestTimerObserveDurationVec exercises ObserveDurationVec against a
// per-agent-type handler latency vec, the shape HandleEvent dispatch timing
// would use if broken out by agent_type.
func TestTimerObserveDurationVec(t *testing.T) {
	handlerLatency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nexus_test_handler_latency_seconds",
			Help:    "Test-only per-agent-type handler latency histogram",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"agent_type"},
	)

	timer := NewTimer()
	time.Sleep(50 * time.Millisecond)

	timer.ObserveDurationVec(handlerLatency, "counter")

	duration := timer.Duration()
	if duration == 0 {
		t.Error("Timer.ObserveDurationVec() recorded zero duration")
	}
}

// TestTimerMultipleCalls tests that Duration can be called multiple times
func TestTimerMultipleCalls(t *testing.T) {
	timer := NewTimer()

	time.Sleep(50 * time.Millisecond)
	duration1 := timer.Duration()

	time.Sleep(50 * time.Millisecond)
	duration2 := timer.Duration()

	if duration2 <= duration1 {
		t.Errorf("Second Duration() call should be longer: first=%v, second=%v", duration1, duration2)
	}

	if duration1 == 0 || duration2 == 0 {
		t.Error("Duration() should return non-zero values")
	}
}

// TestTimerZeroDuration tests timer with minimal duration
func TestTimerZeroDuration(t *testing.T) {
	timer := NewTimer()

	duration := timer.Duration()

	if duration < 0 {
		t.Errorf("Timer.Duration() = %v, want >= 0", duration)
	}

	if duration > time.Millisecond {
		t.Errorf("Timer.Duration() = %v, want < 1ms for immediate call", duration)
	}
}

// TestMultipleTimers tests that multiple timers work independently
func TestMultipleTimers(t *testing.T) {
	timer1 := NewTimer()
	time.Sleep(50 * time.Millisecond)

	timer2 := NewTimer()
	time.Sleep(50 * time.Millisecond)

	duration1 := timer1.Duration()
	duration2 := timer2.Duration()

	if duration1 <= duration2 {
		t.Errorf("timer1 should be running longer: timer1=%v, timer2=%v", duration1, duration2)
	}

	if duration1 == 0 || duration2 == 0 {
		t.Error("Both timers should have non-zero durations")
	}
}

// TestTimerConsistency tests that Duration returns consistent increasing values
func TestTimerConsistency(t *testing.T) {
	timer := NewTimer()

	var lastDuration time.Duration
	for i := 0; i < 5; i++ {
		time.Sleep(10 * time.Millisecond)
		duration := timer.Duration()

		if duration <= lastDuration {
			t.Errorf("Duration should be monotonically increasing: iteration %d, last=%v, current=%v", i, lastDuration, duration)
		}

		lastDuration = duration
	}
}
