package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kadsuke/assistant-axelis/pkg/orchestrator"
)

func TestNewMetrics_NilConfigReturnsNil(t *testing.T) {
	assert.Nil(t, NewMetrics(nil))
	assert.Nil(t, NewMetrics(&MetricsConfig{Enabled: false}))
}

func TestNilMetrics_RecordersAreNoOps(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordTurn("coris_money", orchestrator.TierFull, false, 0.2)
		m.RecordEscalation("coris_money", "high")
		m.RecordPackResolution("coris_money", "premium")
		m.RecordHTTPRequest("GET", "/api/v1/chat", 200, time.Millisecond)
	})
}

func TestNilMetrics_HandlerReturnsServiceUnavailable(t *testing.T) {
	var m *Metrics
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	m.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNewMetrics_RecordsAndExposesScrapeEndpoint(t *testing.T) {
	m := NewMetrics(&MetricsConfig{Enabled: true})
	require.NotNil(t, m)

	m.RecordTurn("coris_money", orchestrator.TierFull, true, 0.42)
	m.RecordEscalation("coris_money", "high")
	m.RecordPackResolution("coris_money", "premium")
	m.RecordHTTPRequest("POST", "/api/v1/chat", 200, 15*time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "bankassist_agent_turns_total")
	assert.Contains(t, body, "bankassist_escalation_total")
	assert.Contains(t, body, "bankassist_pack_resolutions_total")
	assert.Contains(t, body, "bankassist_http_requests_total")
}

func TestStatusCodeLabel(t *testing.T) {
	cases := map[int]string{200: "2xx", 301: "3xx", 404: "4xx", 500: "5xx", 0: "unknown"}
	for code, want := range cases {
		assert.Equal(t, want, statusCodeLabel(code))
	}
}

func TestBoolLabel(t *testing.T) {
	assert.Equal(t, "true", boolLabel(true))
	assert.Equal(t, "false", boolLabel(false))
}
