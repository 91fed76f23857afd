package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/skillforge/pkg/logger"
)

func TestRateLimiter_PerClient(t *testing.T) {
	l := NewRateLimiter(60, 2)
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "buckets are per client")

	clock = clock.Add(time.Second)
	assert.True(t, l.Allow("a"), "one token per second refills")
}

func TestRateLimiter_DropsIdleClients(t *testing.T) {
	l := NewRateLimiter(60, 1)
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }

	l.Allow("a")
	require.Len(t, l.clients, 1)

	clock = clock.Add(limiterIdleTTL + time.Second)
	l.Allow("b")
	assert.Len(t, l.clients, 1)
	_, ok := l.clients["a"]
	assert.False(t, ok)
}

func TestNewRateLimiter_DefaultBurst(t *testing.T) {
	assert.Equal(t, 30, NewRateLimiter(60, 0).burst)
	assert.Equal(t, 1, NewRateLimiter(0, 0).burst)
}

func TestMiddlewareChain(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Recovery(logger.Nop()), RequestID(logger.Nop()), AccessLog(logger.Nop()))

	var seen string
	r.GET("/ok", func(c *gin.Context) {
		seen = GetRequestID(c)
		assert.NotNil(t, logger.FromContext(c.Request.Context()))
		c.Status(http.StatusNoContent)
	})
	r.GET("/boom", func(*gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/ok", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get(RequestIDHeader))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal_server_error")
}

func TestCORS_Preflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS([]string{"https://app.example"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest("OPTIONS", "/x", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCompositeHealthChecker(t *testing.T) {
	c := NewCompositeHealthChecker("1.0.0")
	status := c.Check(context.Background())
	assert.True(t, status.Healthy)
	assert.Equal(t, "No health checks registered", status.Message)

	c.AddCheck("db", func(context.Context) error { return nil })
	c.AddCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	c.AddInfo("bus", func() any { return 7 })

	status = c.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.False(t, status.Ready)
	assert.Equal(t, "Some checks failed: redis", status.Message)
	assert.True(t, status.Checks["db"].Healthy)
	assert.Equal(t, "connection refused", status.Checks["redis"].Message)
	assert.Equal(t, 7, status.Info["bus"])
	assert.Equal(t, "1.0.0", status.Version)
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestNewPingCheck(t *testing.T) {
	assert.NoError(t, NewPingCheck(pinger{})(context.Background()))
	assert.Error(t, NewPingCheck(pinger{err: errors.New("down")})(context.Background()))
}
