package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	r.TaskResult("x", "ok")
	r.PrivacyScore(10)
	r.AnyoneConnect("ok")
	r.HTTPRequest("/", 200)
	assert.NotNil(t, r.Handler())
}

func TestCountersAccumulate(t *testing.T) {
	r := New()
	r.TaskResult("upsert_user", "error")
	r.TaskResult("upsert_user", "error")
	r.PrivacyScore(87)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.tasks.WithLabelValues("upsert_user", "error")))
	assert.Equal(t, 87.0, testutil.ToFloat64(r.privacyScore))

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "phenix_privacy_overall_score 87")
}
