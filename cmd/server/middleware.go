package main

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/goccy/go-json"
)

// clientRateLimiter applies a per-client token bucket keyed by remote IP.
// Buckets for idle clients are dropped after cleanupTTL.
type clientRateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
	lastAccess map[string]time.Time
	limit      rate.Limit
	burst      int
	cleanupTTL time.Duration
	logger     *slog.Logger
}

func newClientRateLimiter(rpm, burst int, logger *slog.Logger) *clientRateLimiter {
	if rpm <= 0 {
		rpm = 60
	}
	if burst <= 0 {
		burst = 10
	}
	if logger == nil {
		logger = slog.Default()
	}

	l := &clientRateLimiter{
		limiters:   make(map[string]*rate.Limiter),
		lastAccess: make(map[string]time.Time),
		limit:      rate.Limit(float64(rpm) / 60.0),
		burst:      burst,
		cleanupTTL: 10 * time.Minute,
		logger:     logger,
	}
	go l.cleanupLoop()
	return l
}

func (l *clientRateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = lim
	}
	l.lastAccess[key] = time.Now()
	return lim.Allow()
}

func (l *clientRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanupTTL)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-l.cleanupTTL)
		l.mu.Lock()
		for key, at := range l.lastAccess {
			if at.Before(cutoff) {
				delete(l.limiters, key)
				delete(l.lastAccess, key)
			}
		}
		l.mu.Unlock()
	}
}

func (l *clientRateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if !l.allow(key) {
			l.logger.Warn("client rate limited", "client", key, "path", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
