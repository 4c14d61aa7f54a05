package httpapi

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long an idle client's bucket survives before pruning.
const limiterIdleTTL = 10 * time.Minute

// ipLimiter hands out one token bucket per source IP.
type ipLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// newIPLimiter allows perMinute requests per IP with a burst of the same
// size.
func newIPLimiter(perMinute int) *ipLimiter {
	return &ipLimiter{
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   perMinute,
		buckets: make(map[string]*bucket),
	}
}

// Allow reports whether ip may proceed, pruning idle buckets as it goes.
func (l *ipLimiter) Allow(ip string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[ip] = b
	}
	b.lastSeen = now

	if len(l.buckets) > 1024 {
		for key, old := range l.buckets {
			if now.Sub(old.lastSeen) > limiterIdleTTL {
				delete(l.buckets, key)
			}
		}
	}
	return b.lim.Allow()
}

// retryAfter is the Retry-After hint in whole seconds for a tripped bucket.
func (l *ipLimiter) retryAfter() string {
	secs := int(1.0 / float64(l.limit))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// wrap rejects over-limit requests with 429 before invoking next.
func (l *ipLimiter) wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", l.retryAfter())
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// clientIP extracts the caller's IP: the rightmost X-Forwarded-For entry when
// a reverse proxy fronts us (the rightmost hop is the one the proxy itself
// observed, so clients cannot spoof it), otherwise the socket peer.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[len(parts)-1]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
