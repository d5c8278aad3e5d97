// Package api implements the REST API: server status and history for
// monitors, connection and command control, and configuration, behind
// bearer tokens with three permission tiers.
package api

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconsole/internal/config"
	"github.com/energizer-project/rconsole/internal/db"
)

// Context keys set by RequireAuth.
const (
	ctxTokenName  = "token_name"
	ctxPermission = "token_permission"
)

// AuthMiddleware verifies API tokens and enforces permissions.
type AuthMiddleware struct {
	store Store
	cfg   *config.Config
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(store Store, cfg *config.Config) *AuthMiddleware {
	return &AuthMiddleware{
		store: store,
		cfg:   cfg,
	}
}

// RequireAuth verifies the bearer token. When auth_disabled is set every
// request is treated as a local administrator.
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if am.cfg.GetApplicationData().Security.AuthDisabled {
			c.Set(ctxTokenName, "local")
			c.Set(ctxPermission, db.PermConfigure)
			c.Next()
			return
		}

		token := extractBearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing or invalid authorization header",
			})
			return
		}
		if am.store == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "token database is not available",
			})
			return
		}

		t, err := am.store.VerifyToken(token)
		if err != nil {
			if !errors.Is(err, db.ErrInvalidToken) && !errors.Is(err, db.ErrTokenNotFound) {
				log.Error().Err(err).Msg("token verification failed")
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token",
			})
			return
		}

		c.Set(ctxTokenName, t.Name)
		c.Set(ctxPermission, t.Permission)
		c.Next()
	}
}

// RequirePermission rejects tokens below the required tier.
func (am *AuthMiddleware) RequirePermission(required db.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, exists := c.Get(ctxPermission)
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
			})
			return
		}

		if perm, _ := v.(db.Permission); !perm.Allows(required) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":    "insufficient permissions",
				"required": required,
			})
			return
		}
		c.Next()
	}
}

// RateLimiter implements a simple token bucket rate limiter per client IP.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientBucket
	rate    int
	burst   int
}

type clientBucket struct {
	tokens    float64
	lastCheck time.Time
}

// NewRateLimiter creates a rate limiter with the specified requests per
// second. Zero disables limiting.
func NewRateLimiter(rps int) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*clientBucket),
		rate:    rps,
		burst:   rps * 2,
	}
}

// Allow takes a token from the bucket of key.
func (rl *RateLimiter) Allow(key string, now time.Time) bool {
	if rl.rate <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	bucket, exists := rl.clients[key]
	if !exists {
		bucket = &clientBucket{tokens: float64(rl.burst), lastCheck: now}
		rl.clients[key] = bucket
	}

	elapsed := now.Sub(bucket.lastCheck).Seconds()
	bucket.tokens += elapsed * float64(rl.rate)
	if bucket.tokens > float64(rl.burst) {
		bucket.tokens = float64(rl.burst)
	}
	bucket.lastCheck = now

	if bucket.tokens < 1 {
		return false
	}
	bucket.tokens--
	return true
}

// Middleware returns a Gin middleware that rate limits by client IP.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP(), time.Now()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// SecurityHeaders adds security-related HTTP headers.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Header("Cache-Control", "no-store")
		c.Header("Server", "rconsole")
		c.Next()
	}
}

// RequestLogger logs incoming HTTP requests.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		tokenName, _ := c.Get(ctxTokenName)
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Interface("token", tokenName).
			Msg("api request")
	}
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
