package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimiterConfig holds rate limiter configuration.
type RateLimiterConfig struct {
	RequestsPerMinute int
	BurstSize         int
}

// tokenBucket is a token bucket refilled continuously at refillRate tokens
// per second up to capacity. It serves both per-IP HTTP limits and
// per-connection WebSocket message limits.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64
	last       time.Time
	now        func() time.Time
}

func newTokenBucket(capacity, refillRate float64) *tokenBucket {
	return newTokenBucketClock(capacity, refillRate, time.Now)
}

func newTokenBucketClock(capacity, refillRate float64, now func() time.Time) *tokenBucket {
	return &tokenBucket{
		tokens:     capacity,
		capacity:   capacity,
		refillRate: refillRate,
		last:       now(),
		now:        now,
	}
}

// refill must be called with mu held.
func (tb *tokenBucket) refill() time.Time {
	now := tb.now()
	tb.tokens = min(tb.capacity, tb.tokens+now.Sub(tb.last).Seconds()*tb.refillRate)
	tb.last = now
	return now
}

// take consumes one token if available and reports the state afterwards.
func (tb *tokenBucket) take() (ok bool, remaining int, full time.Time) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.refill()
	if tb.tokens >= 1 {
		tb.tokens--
		ok = true
	}
	full = now
	if tb.tokens < tb.capacity && tb.refillRate > 0 {
		secs := (tb.capacity - tb.tokens) / tb.refillRate
		full = now.Add(time.Duration(secs * float64(time.Second)))
	}
	return ok, int(tb.tokens), full
}

func (tb *tokenBucket) allow() bool {
	ok, _, _ := tb.take()
	return ok
}

func (tb *tokenBucket) idleSince() time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.last
}

// RateLimiter manages per-IP rate limiting.
type RateLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*tokenBucket
	config     RateLimiterConfig
	cleanupTTL time.Duration
	now        func() time.Time
	done       chan struct{}
	stopOnce   sync.Once
}

// NewRateLimiter creates a rate limiter and starts its idle-bucket sweeper.
// Call Stop to release it.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.BurstSize <= 0 {
		config.BurstSize = 10
	}
	rl := &RateLimiter{
		buckets:    make(map[string]*tokenBucket),
		config:     config,
		cleanupTTL: 5 * time.Minute,
		now:        time.Now,
		done:       make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop ends the sweeper goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}

func (rl *RateLimiter) bucket(ip string) *tokenBucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[ip]
	if !ok {
		b = newTokenBucketClock(float64(rl.config.BurstSize), float64(rl.config.RequestsPerMinute)/60.0, rl.now)
		rl.buckets[ip] = b
	}
	return b
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

// sweep drops buckets idle for longer than cleanupTTL.
func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for ip, b := range rl.buckets {
		if now.Sub(b.idleSince()) > rl.cleanupTTL {
			delete(rl.buckets, ip)
		}
	}
}

// Allow reports whether a request from ip may proceed, consuming a token.
func (rl *RateLimiter) Allow(ip string) bool {
	return rl.bucket(ip).allow()
}

// Middleware returns an HTTP middleware that applies rate limiting.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, remaining, full := rl.bucket(getClientIP(r)).take()

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.config.RequestsPerMinute))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(full.Unix(), 10))

		if !ok {
			retryAfter := int(full.Sub(rl.now()).Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			respondError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED",
				"Rate limit exceeded. Try again in "+strconv.Itoa(retryAfter)+" seconds.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// getClientIP extracts the client IP address from the request.
// The leftmost valid X-Forwarded-For entry wins, then X-Real-IP, then RemoteAddr.
func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
		return ip
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	if net.ParseIP(ip) != nil {
		return ip
	}
	return "unknown"
}
