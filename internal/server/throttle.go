package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Throttle is a per-client transport limiter sitting in front of
// authentication. It bounds what any single address can put on the
// listener; the admission controller behind it meters authenticated
// identities. Intended for single-instance deployments and basic abuse
// protection.
type Throttle struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      float64
	burst    int
	now      func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewThrottle creates a throttle refilling at rps tokens/second up to
// burst per client key.
func NewThrottle(rps float64, burst int) *Throttle {
	if rps <= 0 {
		rps = 50
	}
	if burst <= 0 {
		burst = 100
	}
	return &Throttle{
		visitors: make(map[string]*visitor),
		rps:      rps,
		burst:    burst,
		now:      time.Now,
	}
}

// Allow reports whether one more request from key may pass right now.
func (t *Throttle) Allow(key string) bool {
	if key == "" {
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(t.rps), t.burst)}
		t.visitors[key] = v
	}
	v.lastSeen = t.now()
	return v.limiter.Allow()
}

// Sweep drops clients idle longer than olderThan. Returns the number
// removed. Wired to the janitor.
func (t *Throttle) Sweep(olderThan time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-olderThan)
	removed := 0
	for key, v := range t.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(t.visitors, key)
			removed++
		}
	}
	if removed > 0 {
		log.Debug().Int("removed", removed).Msg("throttle_sweep")
	}
	return removed
}

// Len reports how many client keys hold a live limiter.
func (t *Throttle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.visitors)
}

// ThrottleMiddleware rejects over-limit clients with 429 before
// authentication runs. A nil throttle disables it.
func ThrottleMiddleware(t *Throttle) func(http.Handler) http.Handler {
	if t == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !t.Allow(clientIP(r)) {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "throttled", "too many requests from this address")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP returns the remote address without the port.
// middleware.RealIP has already folded X-Forwarded-For into RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
