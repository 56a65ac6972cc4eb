package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-console/internal/backend/memory"
	"github.com/JakeFAU/crawl-console/internal/jobs"
	"github.com/JakeFAU/crawl-console/internal/monitor"
)

func TestMonitorTestRunActivationFlow(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOpts{autoAdvance: true})
	rec := f.do(t, http.MethodPost, "/v1/monitors", map[string]any{"config_code": "shop-tv", "test_run": true})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeMonitor(t, rec)
	require.Equal(t, monitor.PhaseMonitoring, created.Monitor.Phase)
	require.True(t, created.Monitor.TestRun)
	id := created.Monitor.MonitorID

	require.Eventually(t, func() bool {
		body := decodeMonitor(t, f.do(t, http.MethodGet, "/v1/monitors/"+id, nil))
		return body.Monitor.CanActivate
	}, time.Second, testPoll)

	rec = f.do(t, http.MethodPost, "/v1/monitors/"+id+"/activate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, bodyOf(t, rec), "activation")

	cfg, err := f.backend.GetConfig(context.Background(), "shop-tv")
	require.NoError(t, err)
	require.True(t, cfg.Active)
	require.Equal(t, 1, f.backend.Updates())

	after := decodeMonitor(t, f.do(t, http.MethodGet, "/v1/monitors/"+id, nil))
	require.Equal(t, monitor.PhaseIdle, after.Monitor.Phase, "activation closes the monitor")
}

func TestMonitorFullRunIsNotActivatable(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOpts{autoAdvance: true})
	rec := f.do(t, http.MethodPost, "/v1/monitors", map[string]any{"config_code": "shop-tv", "test_run": false})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeMonitor(t, rec).Monitor.MonitorID

	require.Eventually(t, func() bool {
		body := decodeMonitor(t, f.do(t, http.MethodGet, "/v1/monitors/"+id, nil))
		return body.Monitor.View.State == monitor.StateFinished
	}, time.Second, testPoll)

	rec = f.do(t, http.MethodPost, "/v1/monitors/"+id+"/activate", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Zero(t, f.backend.Updates())
}

func TestMonitorActivationFailureIsBadGateway(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOpts{
		autoAdvance: true,
		storeFor:    func(b *memory.Backend) jobs.ConfigStore { return rejectingStore{Backend: b} },
	})

	id := decodeMonitor(t, f.do(t, http.MethodPost, "/v1/monitors", map[string]any{"config_code": "shop-tv"})).Monitor.MonitorID
	require.Eventually(t, func() bool {
		return decodeMonitor(t, f.do(t, http.MethodGet, "/v1/monitors/"+id, nil)).Monitor.CanActivate
	}, time.Second, testPoll)

	rec := f.do(t, http.MethodPost, "/v1/monitors/"+id+"/activate", nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	body := decodeMonitor(t, rec)
	require.Equal(t, monitor.PhaseMonitoring, body.Monitor.Phase, "the session stays open")
	require.Equal(t, "Failed to activate config.", body.Monitor.Notice)
}

func TestMonitorCloseNeedsConfirmationWhileInFlight(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOpts{})
	id := decodeMonitor(t, f.do(t, http.MethodPost, "/v1/monitors", map[string]any{"config_code": "shop-tv"})).Monitor.MonitorID

	rec := f.do(t, http.MethodPost, "/v1/monitors/"+id+"/close", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeMonitor(t, rec)
	require.Equal(t, string(monitor.CloseDeclined), body.Outcome)
	require.Equal(t, monitor.ConfirmClosePrompt, body.Prompt)
	require.Equal(t, monitor.PhaseMonitoring, body.Monitor.Phase)

	rec = f.do(t, http.MethodPost, "/v1/monitors/"+id+"/close", map[string]bool{"confirm": true})
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeMonitor(t, rec)
	require.Equal(t, string(monitor.CloseCompleted), body.Outcome)
	require.Equal(t, monitor.PhaseIdle, body.Monitor.Phase)
}

func TestMonitorOpenReplacesSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOpts{})
	rec := f.do(t, http.MethodPost, "/v1/monitors", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	idle := decodeMonitor(t, rec).Monitor
	require.Equal(t, monitor.PhaseIdle, idle.Phase)

	first := decodeMonitor(t, f.do(t, http.MethodPost, "/v1/monitors/"+idle.MonitorID+"/open", map[string]any{"config_code": "shop-tv"}))
	second := decodeMonitor(t, f.do(t, http.MethodPost, "/v1/monitors/"+idle.MonitorID+"/open", map[string]any{"config_code": "shop-tv"}))
	require.NotEqual(t, first.Monitor.SessionID, second.Monitor.SessionID)
	require.NotEqual(t, first.Monitor.Job.ID, second.Monitor.Job.ID)
}

func TestMonitorOpenValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOpts{})
	id := decodeMonitor(t, f.do(t, http.MethodPost, "/v1/monitors", nil)).Monitor.MonitorID

	tests := []struct {
		name string
		body any
		want int
	}{
		{name: "missing config", body: map[string]any{}, want: http.StatusBadRequest},
		{name: "unknown config", body: map[string]any{"config_code": "nope"}, want: http.StatusNotFound},
		{name: "bad job type", body: map[string]any{"config_code": "shop-tv", "job_type": "REINDEX"}, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := f.do(t, http.MethodPost, "/v1/monitors/"+id+"/open", tt.body)
		require.Equal(t, tt.want, rec.Code, tt.name)
	}

	rec := f.do(t, http.MethodGet, "/v1/monitors/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMonitorProductCleanupJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOpts{})
	rec := f.do(t, http.MethodPost, "/v1/monitors", map[string]any{
		"job_type":   jobs.JobTypeProductCleanup,
		"parameters": "dryRun=true",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	snap := decodeMonitor(t, rec).Monitor
	require.Equal(t, jobs.JobTypeProductCleanup, snap.JobType)
	require.Equal(t, "dryRun=true", snap.Job.Parameters)
	require.False(t, snap.CanActivate)
}

func TestMonitorRemove(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOpts{})
	id := decodeMonitor(t, f.do(t, http.MethodPost, "/v1/monitors", map[string]any{"config_code": "shop-tv"})).Monitor.MonitorID

	rec := f.do(t, http.MethodDelete, "/v1/monitors/"+id, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodDelete, "/v1/monitors/"+id, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	list := bodyOf(t, f.do(t, http.MethodGet, "/v1/monitors", nil))
	require.Empty(t, list["monitors"])
}
