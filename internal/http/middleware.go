package http

import (
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/pollbox/pollbox/internal/auth"
)

const (
	// SessionCookie is the fallback token carrier for browser clients;
	// API clients send Authorization: Bearer.
	SessionCookie = "pollbox_session"

	ctxUserIDKey = "userID"
	ctxUserKey   = "user"
)

// sessionToken pulls the token from the Authorization header or the
// session cookie.
func sessionToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if cookie, err := c.Cookie(SessionCookie); err == nil {
		return cookie
	}
	return ""
}

// RequireAuth resolves the session to a user and stores the identity in the
// request context. Handlers downstream receive it explicitly via
// currentUserID, never from ambient globals.
func RequireAuth(authSvc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := authSvc.UserForToken(c.Request.Context(), sessionToken(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "You must be logged in."})
			return
		}
		c.Set(ctxUserIDKey, user.ID)
		c.Set(ctxUserKey, user)
		c.Next()
	}
}

// OptionalAuth resolves the session if one is present but lets anonymous
// requests through with an empty identity. The response-submission path
// uses it so the service's own authentication gate runs first and produces
// the user-facing message.
func OptionalAuth(authSvc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if user, err := authSvc.UserForToken(c.Request.Context(), sessionToken(c)); err == nil {
			c.Set(ctxUserIDKey, user.ID)
			c.Set(ctxUserKey, user)
		}
		c.Next()
	}
}

func currentUserID(c *gin.Context) string {
	return c.GetString(ctxUserIDKey)
}

// SecurityHeadersMiddleware adds basic security headers.
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Next()
	}
}

// IPRateLimiter keeps a token bucket per client IP.
type IPRateLimiter struct {
	visitors map[string]*rate.Limiter
	mu       sync.Mutex
	rps      rate.Limit
	burst    int
}

func NewIPRateLimiter(r rate.Limit, b int) *IPRateLimiter {
	return &IPRateLimiter{
		visitors: make(map[string]*rate.Limiter),
		rps:      r,
		burst:    b,
	}
}

func (rl *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	limiter, exists := rl.visitors[ip]
	if !exists {
		limiter = rate.NewLimiter(rl.rps, rl.burst)
		rl.visitors[ip] = limiter
	}
	return limiter
}

func RateLimitMiddleware(limiter *IPRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.GetLimiter(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests. Please wait."})
			return
		}
		c.Next()
	}
}
