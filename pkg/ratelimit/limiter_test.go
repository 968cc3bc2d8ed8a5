package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kadsuke/assistant-axelis/pkg/config"
	"github.com/Kadsuke/assistant-axelis/pkg/pack"
)

func newLimiterWithLimit(perMinute int64) *Limiter {
	cfg := config.SeedMinimalConfig()
	cfg.Tenants["t1"] = &config.TenantConfig{
		ID: "t1",
		Applications: map[string]*config.ApplicationSubscription{
			"coris_money": {Active: true, PackSouscrit: "basic"},
		},
	}
	cfg.AppPacks["coris_money"]["basic"].Limits[requestsPerMinuteResource] = perMinute
	return New(pack.New(cfg), "coris_money", config.RateLimitConfig{Enabled: true, RequestsPerSecond: 1, Burst: 3})
}

func TestAllow_ExhaustsBurstThenRefusesUntilRefill(t *testing.T) {
	l := newLimiterWithLimit(60)

	for i := 0; i < l.cfg.Burst; i++ {
		require.True(t, l.Allow("t1"), "burst token %d should be allowed", i)
	}
	assert.False(t, l.Allow("t1"))
}

func TestAllow_PerTenantBucketsAreIndependent(t *testing.T) {
	l := newLimiterWithLimit(60)

	for i := 0; i < l.cfg.Burst; i++ {
		require.True(t, l.Allow("t1"))
	}
	assert.False(t, l.Allow("t1"))
	assert.True(t, l.Allow("t2"))
}

func TestAllow_DisabledAlwaysAllows(t *testing.T) {
	l := New(nil, "coris_money", config.RateLimitConfig{Enabled: false})
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("t1"))
	}
}

func TestMiddleware_BlocksWithRetryHeaderWhenExhausted(t *testing.T) {
	l := newLimiterWithLimit(60)
	for i := 0; i < l.cfg.Burst; i++ {
		l.Allow("t1")
	}

	handler := Middleware(l, func(r *http.Request) string { return "t1" })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestMiddleware_PassesThroughWithoutTenantIdentifier(t *testing.T) {
	l := newLimiterWithLimit(60)

	handler := Middleware(l, func(r *http.Request) string { return "" })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
