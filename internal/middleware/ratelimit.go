package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/secscorehq/secscore/pkg/logger"
)

// RateLimitConfig holds configuration for the rate limiter middleware.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active.
	Enabled bool
	// Window is the sliding window length.
	Window time.Duration
	// MaxRequests is the allowed requests per window per client IP.
	MaxRequests int
	// CleanupInterval is how often stale IP buckets are dropped.
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig returns the service defaults: 120 requests per
// sliding hour per IP.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:         true,
		Window:          time.Hour,
		MaxRequests:     120,
		CleanupInterval: 5 * time.Minute,
	}
}

// Limiter implements a sliding-window rate limit per client IP. Stale
// timestamps are pruned opportunistically on each request and by a
// background sweep.
type Limiter struct {
	mu       sync.Mutex
	visitors map[string][]time.Time

	window time.Duration
	max    int
	log    *logger.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	now      func() time.Time
}

// NewLimiter creates a rate limiter and starts its cleanup sweep.
func NewLimiter(cfg RateLimitConfig, log *logger.Logger) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 120
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}

	l := &Limiter{
		visitors: make(map[string][]time.Time),
		window:   cfg.Window,
		max:      cfg.MaxRequests,
		log:      log.WithComponent("rate-limiter"),
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
	go l.cleanup(cfg.CleanupInterval)
	return l
}

// Allow records a request from the given IP and reports whether it is
// within the window budget.
func (l *Limiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	stamps := l.visitors[ip]
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= l.max {
		l.visitors[ip] = kept
		return false
	}

	l.visitors[ip] = append(kept, now)
	return true
}

// cleanup drops IPs whose every timestamp has aged out of the window.
func (l *Limiter) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			cutoff := l.now().Add(-l.window)
			for ip, stamps := range l.visitors {
				live := false
				for _, ts := range stamps {
					if ts.After(cutoff) {
						live = true
						break
					}
				}
				if !live {
					delete(l.visitors, ip)
				}
			}
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

// Stop halts the cleanup sweep.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
}

// Middleware returns the HTTP middleware enforcing the limit.
func (l *Limiter) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)

			if !l.Allow(ip) {
				l.log.Warn("rate limit exceeded", "ip", ip, "path", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate_limit_exceeded","message":"too many requests"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit wires a limiter into the middleware chain, returning a
// pass-through when disabled. The limiter is returned so the caller can
// stop its cleanup sweep on shutdown; it is nil when disabled.
func RateLimit(cfg RateLimitConfig, log *logger.Logger) (func(next http.Handler) http.Handler, *Limiter) {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }, nil
	}
	l := NewLimiter(cfg, log)
	return l.Middleware(), l
}

// ClientIP extracts the client IP from proxy headers, falling back to
// the connection address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx >= 0 {
		return ip[:idx]
	}
	return ip
}
