package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-console/internal/backend/memory"
	"github.com/JakeFAU/crawl-console/internal/config"
	"github.com/JakeFAU/crawl-console/internal/jobs"
	"github.com/JakeFAU/crawl-console/internal/monitor"
)

const testPoll = 5 * time.Millisecond

type fixture struct {
	backend  *memory.Backend
	notifier *monitor.Notifier
	registry *monitor.Registry
	server   *Server
}

type fixtureOpts struct {
	autoAdvance bool
	storeFor    func(*memory.Backend) jobs.ConfigStore
	cfg         config.Config
	options     []Option
}

func newFixture(t *testing.T, o fixtureOpts) *fixture {
	t.Helper()
	backend := memory.New(memory.WithAutoAdvance(o.autoAdvance))
	backend.PutConfig(jobs.Configuration{Code: "shop-tv", Website: "shop", StartURL: "https://shop.example/tv"})
	var store jobs.ConfigStore = backend
	if o.storeFor != nil {
		store = o.storeFor(backend)
	}
	notifier := monitor.NewNotifier(nil)
	gate := monitor.NewGate(store, notifier, nil, nil)
	registry := monitor.NewRegistry(backend, gate, monitor.Options{PollInterval: testPoll})
	t.Cleanup(func() { _ = registry.Shutdown(context.Background()) })
	return &fixture{
		backend:  backend,
		notifier: notifier,
		registry: registry,
		server:   NewServer(registry, store, notifier, o.cfg, nil, o.options...),
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

type monitorBody struct {
	Monitor monitor.Snapshot `json:"monitor"`
	Error   string           `json:"error"`
	Outcome string           `json:"outcome"`
	Prompt  string           `json:"prompt"`
}

func decodeMonitor(t *testing.T, rec *httptest.ResponseRecorder) monitorBody {
	t.Helper()
	var body monitorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

// rejectingStore serves reads but fails every update.
type rejectingStore struct {
	*memory.Backend
}

func (rejectingStore) UpdateConfig(context.Context, string, jobs.Configuration) (jobs.Configuration, error) {
	return jobs.Configuration{}, errors.New("backend rejected update")
}

func bodyOf(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

var _ http.Handler = (*ActivationStream)(nil)
