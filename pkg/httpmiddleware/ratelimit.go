package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the sliding window limiter.
type RateLimitConfig struct {
	Max    int
	Window time.Duration
	// KeyFunc picks the bucket of a request. Defaults to the client IP.
	KeyFunc func(*http.Request) string
}

// window approximates a sliding window from two fixed ones: the previous
// window's count is weighted by how much of it still overlaps.
type window struct {
	start      time.Time
	count      float64
	prevCount  float64
	lastActive time.Time
}

func (w *window) take(now time.Time, size time.Duration, limit int) (remaining int, reset time.Time, ok bool) {
	w.lastActive = now
	switch elapsed := now.Sub(w.start); {
	case elapsed >= 2*size:
		w.start, w.prevCount, w.count = now.Truncate(size), 0, 0
	case elapsed >= size:
		w.start, w.prevCount, w.count = w.start.Add(size), w.count, 0
	}

	weight := 1 - now.Sub(w.start).Seconds()/size.Seconds()
	used := w.prevCount*math.Max(weight, 0) + w.count
	reset = w.start.Add(size)
	if used >= float64(limit) {
		return 0, reset, false
	}
	w.count++
	return max(limit-int(math.Ceil(used+1)), 0), reset, true
}

type limiter struct {
	cfg     RateLimitConfig
	now     func() time.Time
	mu      sync.Mutex
	windows map[string]*window
}

func newLimiter(cfg RateLimitConfig) *limiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	return &limiter{cfg: cfg, now: time.Now, windows: make(map[string]*window)}
}

func (l *limiter) take(key string) (int, time.Time, bool) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[key]
	if !ok {
		w = &window{start: now}
		l.windows[key] = w
	}
	return w.take(now, l.cfg.Window, l.cfg.Max)
}

// sweep forgets buckets idle for two windows.
func (l *limiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.windows {
		if now.Sub(w.lastActive) >= 2*l.cfg.Window {
			delete(l.windows, key)
		}
	}
}

// RateLimit rejects requests over the limit with 429 and reports the budget
// in X-RateLimit-* headers. Idle buckets are swept until ctx is done.
func RateLimit(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := newLimiter(cfg)
	go func() {
		ticker := time.NewTicker(2 * cfg.Window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				l.sweep(now)
			}
		}
	}()
	return l.middleware
}

func (l *limiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remaining, reset, ok := l.take(l.cfg.KeyFunc(r))

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Max))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		if !ok {
			wait := max(reset.Sub(l.now()), 0)
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// remote address host.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
