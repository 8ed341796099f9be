package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"chinamap/internal/logger"
)

func serve(h http.Handler) int {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/geojson/china.geojson", nil))
	return rec.Code
}

func TestLimitRefillsEachSecond(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tb := NewTokenBucket(2)
	tb.now = func() time.Time { return now }
	tb.lastSec = now.Unix()
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := Limit(tb, ok)

	assert.Equal(t, http.StatusNoContent, serve(h))
	assert.Equal(t, http.StatusNoContent, serve(h))
	assert.Equal(t, http.StatusTooManyRequests, serve(h))

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusNoContent, serve(h))
}

func TestWrapDisabledByDefault(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "")
	t.Setenv("ORIGIN_DEFENSE_ENABLE", "")
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	h := Wrap(ok)
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, serve(h))
	}
}

func TestWrapEnabled(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "true")
	t.Setenv("ORIGIN_DEFENSE_ENABLE", "")
	t.Setenv("RATE_LIMIT_QPS", "1")
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	h := Wrap(ok)
	codes := []int{serve(h), serve(h)}
	// 两次请求跨秒边界时都会放行
	assert.Contains(t, codes, http.StatusOK)
}

func TestChainLogsRejectedRequests(t *testing.T) {
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("LOG_LEVEL", "info")
	t.Setenv("RATE_LIMIT_ENABLED", "true")
	t.Setenv("RATE_LIMIT_QPS", "1")
	t.Setenv("ORIGIN_DEFENSE_ENABLE", "true")
	t.Setenv("ORIGIN_ALLOW_IPS", "10.0.0.1")
	t.Setenv("ORIGIN_ALLOW_CIDRS", "")
	t.Setenv("ORIGIN_ALLOW_LOCAL", "")
	t.Setenv("ORIGIN_REAL_IP_HEADER", "")
	var buf bytes.Buffer
	l := logger.SetupWriter(&buf)
	t.Cleanup(func() { logger.Setup() })

	h := Chain(l, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	assert.Equal(t, http.StatusForbidden, request(h, "8.8.8.8:53", nil))
	out := buf.String()
	assert.Contains(t, out, "msg=http_access")
	assert.Contains(t, out, "status=403")
	assert.Contains(t, out, "ip=8.8.8.8:53")

	buf.Reset()
	codes := []int{request(h, "10.0.0.1:1", nil), request(h, "10.0.0.1:1", nil), request(h, "10.0.0.1:1", nil)}
	// 三次请求至多跨一次秒边界，至少有一次被限流
	assert.Contains(t, codes, http.StatusTooManyRequests)
	assert.Contains(t, buf.String(), "status=429")
}
