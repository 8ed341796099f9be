package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"os"
	"strings"

	"chinamap/internal/logger"
)

// 文档注释：源站访问白名单（单 IP + CIDR）
// 背景：地图服务部署在 CDN 之后时，只允许回源网段与调试 IP 直连源站，其余请求返回 403。
// 约束：来源 IP 以 RemoteAddr 为准；配置 ORIGIN_REAL_IP_HEADER 时取该头中首个有效 IP。
type Allowlist struct {
	prefixes     []netip.Prefix
	realIPHeader string
}

// NewAllowlist：entries 可混合单 IP 与 CIDR，无法解析的项忽略
func NewAllowlist(entries []string, realIPHeader string) *Allowlist {
	a := &Allowlist{realIPHeader: strings.TrimSpace(realIPHeader)}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if p, err := netip.ParsePrefix(e); err == nil {
			a.prefixes = append(a.prefixes, p.Masked())
			continue
		}
		if ip, err := netip.ParseAddr(e); err == nil {
			a.prefixes = append(a.prefixes, netip.PrefixFrom(ip.Unmap(), ip.Unmap().BitLen()))
			continue
		}
		logger.L().Warn("origin_allow_entry_invalid", "entry", e)
	}
	return a
}

// AllowlistFromEnv：ORIGIN_DEFENSE_ENABLE=true 时返回非空；
// ORIGIN_ALLOW_IPS / ORIGIN_ALLOW_CIDRS 逗号分隔，ORIGIN_ALLOW_LOCAL=true 追加回环地址
func AllowlistFromEnv() *Allowlist {
	if os.Getenv("ORIGIN_DEFENSE_ENABLE") != "true" {
		return nil
	}
	var entries []string
	for _, k := range []string{"ORIGIN_ALLOW_IPS", "ORIGIN_ALLOW_CIDRS"} {
		if s := os.Getenv(k); s != "" {
			entries = append(entries, strings.Split(s, ",")...)
		}
	}
	if os.Getenv("ORIGIN_ALLOW_LOCAL") == "true" {
		entries = append(entries, "127.0.0.1", "::1")
	}
	a := NewAllowlist(entries, os.Getenv("ORIGIN_REAL_IP_HEADER"))
	logger.L().Info("origin_defense_enabled", "entries", len(a.prefixes))
	return a
}

func (a *Allowlist) allowed(ip netip.Addr) bool {
	ip = ip.Unmap()
	for _, p := range a.prefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

func (a *Allowlist) clientIP(r *http.Request) (netip.Addr, bool) {
	if a.realIPHeader != "" {
		if raw := r.Header.Get(a.realIPHeader); raw != "" {
			first, _, _ := strings.Cut(raw, ",")
			if ip, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
				return ip, true
			}
		}
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	ip, err := netip.ParseAddr(host)
	return ip, err == nil
}

func (a *Allowlist) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, ok := a.clientIP(r)
		if !ok || !a.allowed(ip) {
			logger.L().Debug("origin_defense_block", "remote", r.RemoteAddr)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
