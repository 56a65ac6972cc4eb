package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if consolePollsTotal == nil || consoleBackendCallsTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObservePoll(t *testing.T) {
	before := testutil.ToFloat64(consolePollsCounter("PRODUCT_CLEANUP", PollError))
	ObservePoll("PRODUCT_CLEANUP", PollError, 20*time.Millisecond)
	if val := testutil.ToFloat64(consolePollsCounter("PRODUCT_CLEANUP", PollError)); val != before+1 {
		t.Errorf("Expected poll counter to be %f, got %f", before+1, val)
	}

	ObservePoll("", PollOK, time.Millisecond)
	if val := testutil.ToFloat64(consolePollsCounter("unknown", PollOK)); val < 1 {
		t.Errorf("Expected empty job type to be labeled unknown, got %f", val)
	}
}

func TestObserveBackendCall(t *testing.T) {
	ObserveBackendCall("update_config", errors.New("boom"))
	ObserveBackendCall("update_config", nil)
	if val := testutil.ToFloat64(consoleBackendCallsTotal.WithLabelValues("update_config", "error")); val < 1 {
		t.Errorf("Expected error outcome to be recorded, got %f", val)
	}
	if val := testutil.ToFloat64(consoleBackendCallsTotal.WithLabelValues("update_config", "ok")); val < 1 {
		t.Errorf("Expected ok outcome to be recorded, got %f", val)
	}
}

func TestMonitorsOpenGauge(t *testing.T) {
	Init()
	before := testutil.ToFloat64(consoleMonitorsOpen)
	IncMonitorsOpen()
	IncMonitorsOpen()
	DecMonitorsOpen()
	if val := testutil.ToFloat64(consoleMonitorsOpen); val != before+1 {
		t.Errorf("Expected gauge to be %f, got %f", before+1, val)
	}
	DecMonitorsOpen()
}

func consolePollsCounter(jobType, outcome string) prometheus.Counter {
	Init()
	return consolePollsTotal.WithLabelValues(jobType, outcome)
}
