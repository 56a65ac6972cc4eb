package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-console/internal/jobs"
)

func TestRegistryLifecycle(t *testing.T) {
	t.Parallel()

	h := newHarness(status(jobs.StatusRunning))
	reg := NewRegistry(h.gateway, h.gate, Options{PollInterval: testInterval, Events: h.emitter})

	a, err := reg.Create()
	require.NoError(t, err)
	b, err := reg.Create()
	require.NoError(t, err)
	require.NotEqual(t, a.ID(), b.ID())

	got, err := reg.Get(a.ID())
	require.NoError(t, err)
	require.Same(t, a, got)

	_, err = reg.Get("missing")
	require.ErrorIs(t, err, ErrMonitorNotFound)

	_, err = a.Open(context.Background(), sampleConfig(), true)
	require.NoError(t, err)
	list := reg.List()
	require.Len(t, list, 2)
	require.LessOrEqual(t, list[0].MonitorID, list[1].MonitorID)

	require.NoError(t, reg.Remove(context.Background(), a.ID()))
	require.ErrorIs(t, reg.Remove(context.Background(), a.ID()), ErrMonitorNotFound)
	require.False(t, a.poller.Active())
	require.Len(t, reg.List(), 1)
}

func TestRegistryShutdownStopsEveryLoop(t *testing.T) {
	t.Parallel()

	h := newHarness(status(jobs.StatusRunning))
	reg := NewRegistry(h.gateway, h.gate, Options{PollInterval: testInterval})

	var monitors []*Monitor
	for range 3 {
		m, err := reg.Create()
		require.NoError(t, err)
		_, err = m.Open(context.Background(), sampleConfig(), true)
		require.NoError(t, err)
		monitors = append(monitors, m)
	}
	require.Eventually(t, func() bool { return h.gateway.Gets() >= 3 }, time.Second, testInterval)

	require.NoError(t, reg.Shutdown(context.Background()))
	require.Empty(t, reg.List())
	for _, m := range monitors {
		require.False(t, m.poller.Active())
		require.Equal(t, PhaseIdle, m.Phase())
	}
	require.Zero(t, h.notifier.Len())

	stopped := h.gateway.Gets()
	time.Sleep(5 * testInterval)
	require.Equal(t, stopped, h.gateway.Gets())
}
