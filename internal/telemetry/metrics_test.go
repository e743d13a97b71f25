package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/v1/rules/{ruleId}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	before := testutil.ToFloat64(httpReqs.WithLabelValues("/api/v1/rules/{ruleId}", "GET", "404"))
	for _, id := range []string{"a", "b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/v1/rules/"+id, nil))
	}
	after := testutil.ToFloat64(httpReqs.WithLabelValues("/api/v1/rules/{ruleId}", "GET", "404"))

	assert.Equal(t, before+2, after)
}

func TestEngineCounters(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(ruleExecutions.WithLabelValues("manual", "applied"))
	RecordExecution("manual", "applied")
	assert.Equal(t, before+1, testutil.ToFloat64(ruleExecutions.WithLabelValues("manual", "applied")))

	before = testutil.ToFloat64(pendingConfirmations.WithLabelValues("feedback-negativo"))
	RecordPending("feedback-negativo")
	assert.Equal(t, before+1, testutil.ToFloat64(pendingConfirmations.WithLabelValues("feedback-negativo")))

	before = testutil.ToFloat64(batchErrors.WithLabelValues("sweep"))
	RecordBatchError("sweep")
	assert.Equal(t, before+1, testutil.ToFloat64(batchErrors.WithLabelValues("sweep")))

	before = testutil.ToFloat64(notifyErrors)
	RecordNotifyError()
	assert.Equal(t, before+1, testutil.ToFloat64(notifyErrors))

	ObserveSweep(150 * time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(sweepDur))
}
