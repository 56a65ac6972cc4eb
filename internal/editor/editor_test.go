package editor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-console/internal/backend/memory"
	"github.com/JakeFAU/crawl-console/internal/jobs"
	"github.com/JakeFAU/crawl-console/internal/monitor"
)

func seeded() *memory.Backend {
	backend := memory.New(memory.WithAutoAdvance(true))
	backend.PutConfig(jobs.Configuration{
		Code:     "shop-tv",
		Website:  "shop",
		StartURL: "https://shop.example/tv",
		TitleSel: "h2.title",
		MaxPages: 3,
	})
	return backend
}

func TestEditorReflectsActivationWithoutLosingEdits(t *testing.T) {
	t.Parallel()

	backend := seeded()
	notifier := monitor.NewNotifier(nil)
	gate := monitor.NewGate(backend, notifier, nil, nil)

	ed, err := Open(context.Background(), backend, notifier, "shop-tv", nil)
	require.NoError(t, err)
	defer ed.Close()

	require.NoError(t, ed.Edit(func(c *jobs.Configuration) { c.PriceSel = "span.price" }))

	cfg, err := backend.GetConfig(context.Background(), "shop-tv")
	require.NoError(t, err)
	m := monitor.New(backend, gate, monitor.Options{PollInterval: 5 * time.Millisecond})
	defer func() { require.NoError(t, m.Dispose(context.Background())) }()

	_, err = m.Open(context.Background(), cfg, true)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return m.Snapshot().CanActivate }, time.Second, 5*time.Millisecond)
	_, err = m.Activate(context.Background())
	require.NoError(t, err)

	got := ed.Config()
	require.True(t, got.Active)
	require.Equal(t, "span.price", got.PriceSel)
	require.True(t, ed.Dirty())

	saved, err := ed.Save(context.Background())
	require.NoError(t, err)
	require.True(t, saved.Active, "saving after activation keeps the config active")
	require.Equal(t, "span.price", saved.PriceSel)
	require.False(t, ed.Dirty())
}

func TestEditorIgnoresOtherConfigurations(t *testing.T) {
	t.Parallel()

	backend := seeded()
	notifier := monitor.NewNotifier(nil)
	ed, err := Open(context.Background(), backend, notifier, "shop-tv", nil)
	require.NoError(t, err)
	defer ed.Close()

	notifier.Publish(monitor.Activation{ConfigCode: "other"})
	require.False(t, ed.Config().Active)
}

func TestEditorCannotActivateDirectly(t *testing.T) {
	t.Parallel()

	backend := seeded()
	ed, err := Open(context.Background(), backend, monitor.NewNotifier(nil), "shop-tv", nil)
	require.NoError(t, err)
	defer ed.Close()

	err = ed.Edit(func(c *jobs.Configuration) { c.Active = true })
	require.ErrorIs(t, err, ErrActivationRequiresTestRun)
	require.False(t, ed.Dirty())

	err = ed.Edit(func(c *jobs.Configuration) { c.Code = "renamed" })
	require.Error(t, err)
}

func TestEditorCanDeactivate(t *testing.T) {
	t.Parallel()

	backend := seeded()
	cfg, err := backend.GetConfig(context.Background(), "shop-tv")
	require.NoError(t, err)
	cfg.Active = true
	backend.PutConfig(cfg)

	ed, err := Open(context.Background(), backend, monitor.NewNotifier(nil), "shop-tv", nil)
	require.NoError(t, err)
	defer ed.Close()

	require.NoError(t, ed.Edit(func(c *jobs.Configuration) { c.Active = false }))
	saved, err := ed.Save(context.Background())
	require.NoError(t, err)
	require.False(t, saved.Active)
}

func TestEditorAutoScheduleDefaults(t *testing.T) {
	t.Parallel()

	ed, err := Open(context.Background(), seeded(), monitor.NewNotifier(nil), "shop-tv", nil)
	require.NoError(t, err)
	defer ed.Close()

	require.NoError(t, ed.Edit(func(c *jobs.Configuration) { c.AutoSchedule = true }))
	require.Equal(t, 24, ed.Config().AutoScheduleEvery)
	require.NoError(t, ed.Edit(func(c *jobs.Configuration) { c.AutoSchedule = false }))
	require.Zero(t, ed.Config().AutoScheduleEvery)
}

func TestEditorCloseUnsubscribes(t *testing.T) {
	t.Parallel()

	notifier := monitor.NewNotifier(nil)
	ed, err := Open(context.Background(), seeded(), notifier, "shop-tv", nil)
	require.NoError(t, err)
	require.Equal(t, 1, notifier.Len())

	ed.Close()
	ed.Close()
	require.Zero(t, notifier.Len())
	require.ErrorIs(t, ed.Edit(func(*jobs.Configuration) {}), ErrClosed)
	_, err = ed.Save(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestOpenMissingConfiguration(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), seeded(), monitor.NewNotifier(nil), "missing", nil)
	require.True(t, errors.Is(err, jobs.ErrNotFound))
}
