package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-console/internal/config"
)

func TestServerHealthAndReadiness(t *testing.T) {
	t.Parallel()

	healthy := true
	f := newFixture(t, fixtureOpts{options: []Option{
		WithReadinessCheck("postgres", func(context.Context) error {
			if healthy {
				return nil
			}
			return errors.New("connection refused")
		}),
	}})

	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", nil).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/readyz", nil).Code)

	healthy = false
	rec := f.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "postgres", bodyOf(t, rec)["check"])
}

func TestServerMetricsEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOpts{})
	f.do(t, http.MethodGet, "/healthz", nil)
	rec := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOpts{cfg: config.Config{
		Auth: config.AuthConfig{Enabled: true, APIKey: "secret"},
	}})

	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", nil).Code, "liveness stays open")
	require.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/v1/monitors", nil).Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/monitors", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/monitors?api_key=secret", nil).Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOpts{})
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
	require.Equal(t, http.StatusSwitchingProtocols, rw.status)
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
