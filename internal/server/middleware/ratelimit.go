package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimit returns middleware that limits each client IP to `limit` requests
// per `window`, using an in-process token bucket per client. Stale client
// entries are pruned opportunistically on each new-client admission.
func RateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	perSec := rate.Limit(float64(limit) / window.Seconds())
	var (
		mu      sync.Mutex
		clients = make(map[string]*clientLimiter)
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := extractClientIP(r)

			mu.Lock()
			cl, ok := clients[ip]
			if !ok {
				if len(clients) > 1024 {
					for k, v := range clients {
						if time.Since(v.lastSeen) > 10*time.Minute {
							delete(clients, k)
						}
					}
				}
				cl = &clientLimiter{limiter: rate.NewLimiter(perSec, limit)}
				clients[ip] = cl
			}
			cl.lastSeen = time.Now()
			allowed := cl.limiter.Allow()
			mu.Unlock()

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

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// extractClientIP determines the client IP from proxy headers, falling back
// to the direct remote address.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	return r.RemoteAddr
}
