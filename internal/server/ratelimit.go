package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultRateLimit is the sustained requests per second allowed per IP.
	DefaultRateLimit = 10
	// DefaultRateBurst is the burst allowed per IP.
	DefaultRateBurst = 20

	limiterCleanupInterval = 5 * time.Minute
	limiterIdleTimeout     = 10 * time.Minute
)

// RateLimiter implements a token bucket rate limiter per IP address.
type RateLimiter struct {
	mu         sync.RWMutex
	limiters   map[string]*bucket
	rate       float64
	burst      float64
	trustProxy bool
	now        func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastUpdate time.Time
}

// NewRateLimiter creates a limiter allowing rate requests per second with
// the given burst. Proxy headers are only consulted when trustProxy is set.
func NewRateLimiter(rate, burst int, trustProxy bool) *RateLimiter {
	rl := &RateLimiter{
		limiters:   make(map[string]*bucket),
		rate:       float64(rate),
		burst:      float64(burst),
		trustProxy: trustProxy,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Allow reports whether a request from ip may proceed and takes a token if so.
func (rl *RateLimiter) Allow(ip string) bool {
	now := rl.now()

	rl.mu.RLock()
	b, ok := rl.limiters[ip]
	rl.mu.RUnlock()
	if !ok {
		rl.mu.Lock()
		if b, ok = rl.limiters[ip]; !ok {
			b = &bucket{tokens: rl.burst, lastUpdate: now}
			rl.limiters[ip] = b
		}
		rl.mu.Unlock()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens = min(rl.burst, b.tokens+now.Sub(b.lastUpdate).Seconds()*rl.rate)
	b.lastUpdate = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Middleware rejects requests over the limit with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(ClientIP(r, rl.trustProxy)) {
			w.Header().Set("Retry-After", "1")
			writeJSONError(w, http.StatusTooManyRequests, "Too many requests. Please try again shortly.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Stop ends the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

func (rl *RateLimiter) cleanup() {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, b := range rl.limiters {
		b.mu.Lock()
		idle := now.Sub(b.lastUpdate) > limiterIdleTimeout
		b.mu.Unlock()
		if idle {
			delete(rl.limiters, ip)
		}
	}
}

// ClientIP extracts the client address. X-Forwarded-For and X-Real-IP are
// only honored when trustProxy is set.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
