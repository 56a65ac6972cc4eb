package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/monitors/{monitor_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "409"))
	for _, id := range []string{"m-1", "m-2"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/monitors/"+id, nil))
		require.Equal(t, http.StatusConflict, rec.Code)
	}

	require.InDelta(t, before+2, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "409")), 0)
	require.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMiddlewareHijackRequiresSupport(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	_, _, err := rw.Hijack()
	require.Error(t, err)
	require.Equal(t, http.StatusOK, rw.status)
}
