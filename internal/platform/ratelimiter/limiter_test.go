package ratelimiter

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNilLimiterAllowsEverything(t *testing.T) {
	var l *KeyLimiter
	assert.True(t, l.Allow("k", time.Now()))
	assert.Nil(t, New(0, 1, 0))
	assert.Nil(t, New(1, 0, 0))
}

func TestAllowExhaustsBurstPerKey(t *testing.T) {
	l := New(1, 2, time.Minute)
	now := time.Now()
	assert.True(t, l.Allow("a", now))
	assert.True(t, l.Allow("a", now))
	assert.False(t, l.Allow("a", now))
	assert.True(t, l.Allow("b", now), "buckets are independent per key")
	assert.True(t, l.Allow("a", now.Add(2*time.Second)), "tokens refill over time")
}

func TestEvictsIdleKeys(t *testing.T) {
	l := New(100, 10, time.Second)
	start := time.Now()
	l.Allow("stale", start)
	later := start.Add(time.Minute)
	for i := 0; i < 255; i++ {
		l.Allow("fresh", later)
	}
	assert.Equal(t, 1, l.Len())
}

func TestMiddlewareReturns429(t *testing.T) {
	l := New(0.001, 1, time.Minute)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	first := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/anyone/connect", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	h.ServeHTTP(first, req)
	assert.Equal(t, http.StatusNoContent, first.Code)

	second := httptest.NewRecorder()
	req.RemoteAddr = "10.0.0.1:6666"
	h.ServeHTTP(second, req)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.JSONEq(t, `{"ok":false,"error":"rate limited"}`, second.Body.String())
}
