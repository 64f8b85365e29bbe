package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimiter interface for different rate limiting strategies
type RateLimiter interface {
	Allow(key string) bool
	Reset(key string)
}

// TokenBucketLimiter keeps one token bucket per client key. Idle buckets
// are dropped by a background sweep so the map cannot grow without bound.
type TokenBucketLimiter struct {
	mu              sync.Mutex
	clients         map[string]*clientLimiter
	rate            rate.Limit
	burst           int
	cleanupInterval time.Duration
	logger          *zap.Logger
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewTokenBucketLimiter creates a new token bucket rate limiter
func NewTokenBucketLimiter(requestsPerSecond, burst int, logger *zap.Logger) *TokenBucketLimiter {
	limiter := &TokenBucketLimiter{
		clients:         make(map[string]*clientLimiter),
		rate:            rate.Limit(requestsPerSecond),
		burst:           burst,
		cleanupInterval: 5 * time.Minute,
		logger:          logger,
	}

	go limiter.cleanup()

	return limiter
}

// Allow checks if a request is allowed for the given key
func (tbl *TokenBucketLimiter) Allow(key string) bool {
	tbl.mu.Lock()
	client, exists := tbl.clients[key]
	if !exists {
		client = &clientLimiter{
			limiter: rate.NewLimiter(tbl.rate, tbl.burst),
		}
		tbl.clients[key] = client
	}
	client.lastSeen = time.Now()
	tbl.mu.Unlock()

	return client.limiter.Allow()
}

// Reset removes the bucket for the given key
func (tbl *TokenBucketLimiter) Reset(key string) {
	tbl.mu.Lock()
	delete(tbl.clients, key)
	tbl.mu.Unlock()
}

// cleanup removes idle buckets periodically
func (tbl *TokenBucketLimiter) cleanup() {
	ticker := time.NewTicker(tbl.cleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		tbl.mu.Lock()
		now := time.Now()
		for key, client := range tbl.clients {
			if now.Sub(client.lastSeen) > tbl.cleanupInterval {
				delete(tbl.clients, key)
			}
		}
		tbl.mu.Unlock()
	}
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond int
	BurstSize         int
	Logger            *zap.Logger
}

// RateLimit middleware implements per-client-IP rate limiting
func RateLimit(config RateLimitConfig) func(http.Handler) http.Handler {
	limiter := NewTokenBucketLimiter(config.RequestsPerSecond, config.BurstSize, config.Logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := getClientIP(r)

			if !limiter.Allow(clientIP) {
				config.Logger.Warn("Rate limit exceeded",
					zap.String("client_ip", clientIP),
					zap.String("path", r.URL.Path),
					zap.String("method", r.Method))

				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.RequestsPerSecond))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Second).Unix(), 10))

				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.RequestsPerSecond))

			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP extracts the client IP address from the request
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header first (for proxies)
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		// Take the first IP in the list
		ips := parseXForwardedFor(xff)
		if len(ips) > 0 {
			return ips[0]
		}
	}

	// Check X-Real-IP header
	xri := r.Header.Get("X-Real-IP")
	if xri != "" {
		return xri
	}

	// Fall back to RemoteAddr
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// parseXForwardedFor parses the X-Forwarded-For header
func parseXForwardedFor(xff string) []string {
	var ips []string
	for _, part := range strings.Split(xff, ",") {
		ip := strings.TrimSpace(part)
		if net.ParseIP(ip) != nil {
			ips = append(ips, ip)
		}
	}
	return ips
}
