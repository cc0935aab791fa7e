package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claimer/internal/orchestrator"
	"claimer/internal/step"
	"claimer/internal/workflow"
)

func claim(status workflow.Status, steps ...step.Outcome) orchestrator.ClaimResult {
	return orchestrator.ClaimResult{
		Status: status,
		Result: workflow.Result{Status: status, Steps: steps, Duration: 42 * time.Second},
	}
}

func TestObserveClaim(t *testing.T) {
	r := NewRecorder()

	r.ObserveClaim(claim(workflow.StatusSuccess,
		step.Outcome{Step: workflow.StepInitiatePurchase, Result: step.Resolved, Targets: []step.TargetOutcome{{Fallback: true}}},
		step.Outcome{Step: workflow.StepBillingCity, Result: step.NotFound},
	))
	r.ObserveClaim(claim(workflow.StatusFailure,
		step.Outcome{Step: workflow.StepInitiatePurchase, Result: step.NotFound},
	))
	r.ObserveClaim(claim(workflow.StatusSuccess))

	assert.Equal(t, 2.0, testutil.ToFloat64(r.claims.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.claims.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.steps.WithLabelValues(workflow.StepInitiatePurchase, "resolved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.steps.WithLabelValues(workflow.StepInitiatePurchase, "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.steps.WithLabelValues(workflow.StepBillingCity, "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.fallbacks.WithLabelValues(workflow.StepInitiatePurchase)))
	assert.Equal(t, 2, testutil.CollectAndCount(r.runDurations))
}

func TestHandlerServesRegistry(t *testing.T) {
	r := NewRecorder()
	r.ObserveClaim(claim(workflow.StatusError))

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `claimer_claims_total{status="error"} 1`), body)
	assert.Contains(t, body, "claimer_run_duration_seconds_bucket")
}
