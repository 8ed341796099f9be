package middleware

import (
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"chinamap/internal/logger"
)

// 文档注释：令牌桶限流中间件（每秒）
// 背景：地图文件体积较大（全国区县文件数十 MB），对入口限速避免磁盘与带宽被单一客户端占满。
// 约束：不做排队，超限直接返回 429。
type TokenBucket struct {
	capacity int
	tokens   int
	lastSec  int64
	now      func() time.Time
	mu       sync.Mutex
}

func NewTokenBucket(qps int) *TokenBucket {
	return &TokenBucket{capacity: qps, tokens: qps, lastSec: time.Now().Unix(), now: time.Now}
}

func (tb *TokenBucket) allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	nowSec := tb.now().Unix()
	if tb.lastSec != nowSec {
		tb.lastSec = nowSec
		tb.tokens = tb.capacity
	}
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// Limit：使用给定令牌桶包装处理器
func Limit(tb *TokenBucket, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !tb.allow() {
			logger.L().Debug("rate_limited", "path", r.URL.Path, "ip", r.RemoteAddr)
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Wrap：入口中间件链，限流在外、源站白名单在内
// 约束：RATE_LIMIT_ENABLED=true 时启用限流，RATE_LIMIT_QPS 默认 200；白名单见 AllowlistFromEnv
func Wrap(next http.Handler) http.Handler {
	if a := AllowlistFromEnv(); a != nil {
		next = a.Wrap(next)
	}
	if os.Getenv("RATE_LIMIT_ENABLED") != "true" {
		return next
	}
	qps := 200
	if s := os.Getenv("RATE_LIMIT_QPS"); s != "" {
		if n, e := strconv.Atoi(s); e == nil && n > 0 {
			qps = n
		}
	}
	logger.L().Info("rate_limit_enabled", "qps", qps)
	return Limit(NewTokenBucket(qps), next)
}

// Chain：服务入口处理器，访问日志在最外层
// 约束：限流与白名单拒绝的 429/403 也进入 http_access 日志
func Chain(l *slog.Logger, next http.Handler) http.Handler {
	return logger.AccessMiddleware(l)(Wrap(next))
}
