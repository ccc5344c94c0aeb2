package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"mlm-platform/internal/config"
	"mlm-platform/internal/pkg/auth"
	"mlm-platform/internal/pkg/lock"
	"mlm-platform/internal/pkg/metrics"
)

// Context keys set by Authenticate.
const (
	ctxUserID = "userID"
	ctxClaims = "claims"
)

// RequestLogger logs each request and records it in the HTTP metrics.
func RequestLogger(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		m.ObserveHTTP(c.Request.Method, path, strconv.Itoa(status), elapsed)

		event := log.Info()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", elapsed).
			Str("user_id", c.GetString(ctxUserID)).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}

// Recovery turns a handler panic into a 500.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, rec any) {
		log.Error().
			Interface("panic", rec).
			Str("path", c.Request.URL.Path).
			Msg("Recovered from panic in handler")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": reasonInternal})
	})
}

// Authenticate requires a valid bearer token.
func Authenticate(m *auth.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			abort(c, http.StatusUnauthorized, reasonUnauthenticated)
			return
		}
		claims, err := m.ParseAccess(token)
		if err != nil {
			log.Debug().Err(err).Msg("Rejected bearer token")
			abort(c, http.StatusUnauthorized, reasonUnauthenticated)
			return
		}
		c.Set(ctxUserID, claims.Subject)
		c.Set(ctxClaims, claims)
		c.Next()
	}
}

// RequireAdmin allows tokens with the admin claim or configured admin user ids.
func RequireAdmin(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := claimsOf(c)
		if claims == nil || (!claims.Admin && !cfg.IsAdminUser(claims.Subject)) {
			log.Warn().
				Str("user_id", c.GetString(ctxUserID)).
				Str("path", c.FullPath()).
				Msg("Non-admin attempted admin call")
			abort(c, http.StatusForbidden, reasonForbidden)
			return
		}
		c.Next()
	}
}

// MemberLock runs a member's mutating requests one at a time.
func MemberLock(kl *lock.KeyedLock, timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.GetString(ctxUserID)
		err := kl.WithLockContext(c.Request.Context(), uid, timeout, func() error {
			c.Next()
			return nil
		})
		if errors.Is(err, lock.ErrLockTimeout) {
			abort(c, http.StatusTooManyRequests, reasonBusy)
		} else if err != nil {
			c.Abort()
		}
	}
}

func claimsOf(c *gin.Context) *auth.Claims {
	v, ok := c.Get(ctxClaims)
	if !ok {
		return nil
	}
	claims, _ := v.(*auth.Claims)
	return claims
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per member, or per client IP for
// unauthenticated calls.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
}

// NewRateLimiter creates a limiter allowing rps requests per second with the
// given burst. A non-positive rps disables limiting.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// Allow reports whether key may make another request now.
func (rl *RateLimiter) Allow(key string) bool {
	if rl.rps <= 0 {
		return true
	}
	return rl.limiter(key).Allow()
}

// Middleware rejects requests over the limit with 429.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetString(ctxUserID)
		if key == "" {
			key = "ip:" + c.ClientIP()
		}
		if !rl.Allow(key) {
			abort(c, http.StatusTooManyRequests, reasonRateLimited)
			return
		}
		c.Next()
	}
}

// Cleanup drops visitors idle for longer than idle, every interval, until
// ctx is done.
func (rl *RateLimiter) Cleanup(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.evict(time.Now().Add(-idle))
		}
	}
}

func (rl *RateLimiter) evict(before time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	n := 0
	for key, v := range rl.visitors {
		if v.lastSeen.Before(before) {
			delete(rl.visitors, key)
			n++
		}
	}
	return n
}
