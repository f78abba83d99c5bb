package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/time/rate"
)

// idleEviction is how long a client's limiter may sit unused before the
// sweep drops it.
const idleEviction = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// RateLimit returns middleware that applies a token bucket per client IP.
// A non-positive perSec disables limiting.
func RateLimit(perSec float64, burst int) func(http.Handler) http.Handler {
	if perSec <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}
	visitors := xsync.NewMap[string, *visitor]()
	var lastSweep atomic.Int64

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			ip := extractClientIP(r)

			v, _ := visitors.LoadOrCompute(ip, func() (*visitor, bool) {
				return &visitor{limiter: rate.NewLimiter(rate.Limit(perSec), burst)}, false
			})
			v.lastSeen.Store(now.UnixNano())
			allowed := v.limiter.AllowN(now, 1)

			if last := lastSweep.Load(); now.UnixNano()-last > int64(idleEviction) &&
				lastSweep.CompareAndSwap(last, now.UnixNano()) {
				cutoff := now.Add(-idleEviction).UnixNano()
				visitors.Range(func(k string, v *visitor) bool {
					if v.lastSeen.Load() < cutoff {
						visitors.Delete(k)
					}
					return true
				})
			}

			if !allowed {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractClientIP attempts to determine the real client IP from standard
// proxy headers, falling back to the direct remote address.
func extractClientIP(r *http.Request) string {
	// Check X-Forwarded-For first (may contain multiple IPs).
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		ip := strings.TrimSpace(parts[0])
		if ip != "" {
			return ip
		}
	}

	// Check X-Real-IP.
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// Fall back to RemoteAddr.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
