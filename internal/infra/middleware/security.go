package middleware

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SecurityHeaders adds security headers suited to a JSON and event-stream API.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Referrer-Policy", "no-referrer")
		if r.TLS != nil {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimitConfig holds configuration for the rate limiter.
type RateLimitConfig struct {
	RequestsPerMin int      // zero disables limiting
	BurstSize      int      // maximum burst of requests allowed
	TrustedProxies []string // proxy IPs or CIDRs whose forwarding headers are trusted
}

// RateLimitWithConfig applies a token bucket per client IP. Forwarding headers are
// only honored when the TCP peer is a trusted proxy, so clients cannot spoof their
// address. Stale buckets are swept every minute until ctx is done.
func RateLimitWithConfig(ctx context.Context, cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.RequestsPerMin <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	trusted := parsePrefixes(cfg.TrustedProxies)

	type client struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}
	clients := make(map[string]*client)
	var mu sync.Mutex

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				mu.Lock()
				for ip, c := range clients {
					if time.Since(c.lastSeen) > 3*time.Minute {
						delete(clients, ip)
					}
				}
				mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()

	perSecond := rate.Limit(float64(cfg.RequestsPerMin) / 60.0)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r, trusted)

			mu.Lock()
			c, ok := clients[ip]
			if !ok {
				c = &client{limiter: rate.NewLimiter(perSecond, cfg.BurstSize)}
				clients[ip] = c
			}
			c.lastSeen = time.Now()
			res := c.limiter.Reserve()
			mu.Unlock()

			if delay := res.Delay(); delay > 0 {
				res.Cancel()
				retryAfter := int(math.Ceil(delay.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"code":    "RATE_LIMITED",
					"success": false,
					"error":   "rate limit exceeded",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parsePrefixes(entries []string) []netip.Prefix {
	var out []netip.Prefix
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if p, err := netip.ParsePrefix(e); err == nil {
			out = append(out, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(e); err == nil {
			out = append(out, netip.PrefixFrom(a, a.BitLen()))
		}
	}
	return out
}

// clientIP returns the address used for rate limiting. X-Forwarded-For (first hop)
// and X-Real-IP are consulted only when the direct peer is trusted.
func clientIP(r *http.Request, trusted []netip.Prefix) string {
	direct := r.RemoteAddr
	if host, _, err := net.SplitHostPort(direct); err == nil {
		direct = host
	}
	if len(trusted) == 0 {
		return direct
	}

	addr, err := netip.ParseAddr(direct)
	if err != nil {
		return direct
	}
	addr = addr.Unmap()
	isTrusted := false
	for _, p := range trusted {
		if p.Contains(addr) {
			isTrusted = true
			break
		}
	}
	if !isTrusted {
		return direct
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	return direct
}
