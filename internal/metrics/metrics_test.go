package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrumentHandlerUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(InstrumentHandler)
	r.Get("/api/threads/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/threads/{id}", "418"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/threads/abc", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/threads/{id}", "418"))
	assert.Equal(t, before+1, after)
}

func TestTaskRunCounters(t *testing.T) {
	before := testutil.ToFloat64(taskRuns.WithLabelValues("heartbeat", "failure"))
	RecordTaskRun("heartbeat", 5*time.Millisecond, false)
	assert.Equal(t, before+1, testutil.ToFloat64(taskRuns.WithLabelValues("heartbeat", "failure")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	RecordTick()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "agentnet_scheduler_ticks_total"))
}
