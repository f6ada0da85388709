package middleware

import (
    "errors"
    "net/http"
    "strings"
    "sync"
    "time"

    basichttp "h2all/internal/http"
    "h2all/internal/model"

    "github.com/gin-gonic/gin"
    "github.com/golang-jwt/jwt/v5"
    "go.uber.org/zap"
    "golang.org/x/time/rate"
    "gorm.io/gorm"
)

func RequestLogger() gin.HandlerFunc {
    return func(c *gin.Context) {
        start := time.Now()
        tid := basichttp.TraceID(c)
        c.Next()
        zap.L().Info("http",
            zap.String("method", c.Request.Method),
            zap.String("path", c.Request.URL.Path),
            zap.Int("status", c.Writer.Status()),
            zap.Duration("dur", time.Since(start)),
            zap.String("ip", c.ClientIP()),
            zap.String("trace_id", tid),
        )
    }
}

// Recovery turns panics into a 500 envelope and logs the stack through zap.
func Recovery() gin.HandlerFunc {
    return gin.CustomRecovery(func(c *gin.Context, recovered any) {
        zap.L().Error("panic recovered",
            zap.Any("panic", recovered),
            zap.String("path", c.Request.URL.Path),
            zap.String("trace_id", basichttp.TraceID(c)),
            zap.Stack("stack"),
        )
        basichttp.Fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
        c.Abort()
    })
}

type AdminClaims struct {
    Sub     string `json:"sub"`
    IsAdmin bool   `json:"is_admin"`
    jwt.RegisteredClaims
}

const CtxUserID = "user_id"
const CtxIsAdmin = "is_admin"

func bearerToken(c *gin.Context) string {
    hdr := c.GetHeader("Authorization")
    if strings.HasPrefix(strings.ToLower(hdr), "bearer ") {
        return strings.TrimSpace(hdr[7:])
    }
    return ""
}

// RequireAuth accepts HS256 bearer tokens signed with secret.
func RequireAuth(secret string) gin.HandlerFunc {
    return func(c *gin.Context) {
        tokenStr := bearerToken(c)
        if tokenStr == "" {
            basichttp.Fail(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing token")
            c.Abort()
            return
        }
        token, err := jwt.ParseWithClaims(tokenStr, &AdminClaims{}, func(t *jwt.Token) (interface{}, error) {
            return []byte(secret), nil
        }, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
        if err != nil || !token.Valid {
            basichttp.Fail(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token")
            c.Abort()
            return
        }
        claims := token.Claims.(*AdminClaims)
        c.Set(CtxUserID, claims.Sub)
        c.Set(CtxIsAdmin, claims.IsAdmin)
        c.Next()
    }
}

func IsAdmin(c *gin.Context) bool {
    v, ok := c.Get(CtxIsAdmin)
    if !ok {
        return false
    }
    b, _ := v.(bool)
    return b
}

func UserID(c *gin.Context) string {
    v, _ := c.Get(CtxUserID)
    s, _ := v.(string)
    return s
}

// RequireAdmin lets through tokens carrying the is_admin claim, or whose
// subject is a user row flagged as admin. db may be nil to trust the claim
// only.
func RequireAdmin(db *gorm.DB) gin.HandlerFunc {
    return func(c *gin.Context) {
        if IsAdmin(c) {
            c.Next()
            return
        }
        uid := UserID(c)
        if uid == "" {
            basichttp.Fail(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user")
            c.Abort()
            return
        }
        if db != nil {
            var user model.User
            err := db.WithContext(c.Request.Context()).
                Select("id", "is_admin", "is_active").
                First(&user, "id = ?", uid).Error
            if err == nil && user.IsAdmin && user.IsActive {
                c.Set(CtxIsAdmin, true)
                c.Next()
                return
            }
            if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
                zap.L().Warn("admin lookup failed", zap.String("user_id", uid), zap.Error(err))
            }
        }
        basichttp.Fail(c, http.StatusForbidden, "FORBIDDEN", "admin access required")
        c.Abort()
    }
}

func CORS() gin.HandlerFunc {
    return func(c *gin.Context) {
        c.Header("Access-Control-Allow-Origin", "*")
        c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Requested-With, Accept, Origin, X-Trace-ID")
        c.Header("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS,HEAD")
        c.Header("Access-Control-Expose-Headers", "Content-Length, Content-Type, X-Trace-ID")
        c.Header("Access-Control-Max-Age", "86400")

        if c.Request.Method == http.MethodOptions {
            c.AbortWithStatus(http.StatusNoContent)
            return
        }
        c.Next()
    }
}

// Rate limiting
type visitor struct {
    limiter  *rate.Limiter
    lastSeen time.Time
}

const (
    visitorSweepInterval = time.Minute
    visitorIdleTTL       = 3 * time.Minute
)

// rateLimitStore evicts idle visitors inline from addVisitor at most once per
// visitorSweepInterval, so no background goroutine outlives the handler.
type rateLimitStore struct {
    visitors  map[string]*visitor
    mu        sync.Mutex
    lastSweep time.Time
    now       func() time.Time
}

func newRateLimitStore() *rateLimitStore {
    return &rateLimitStore{visitors: make(map[string]*visitor), now: time.Now}
}

func (s *rateLimitStore) addVisitor(ip string, r rate.Limit, b int) *rate.Limiter {
    s.mu.Lock()
    defer s.mu.Unlock()

    now := s.now()
    if s.lastSweep.IsZero() {
        s.lastSweep = now
    } else if now.Sub(s.lastSweep) >= visitorSweepInterval {
        s.sweepLocked(now, visitorIdleTTL)
        s.lastSweep = now
    }

    v, exists := s.visitors[ip]
    if !exists {
        limiter := rate.NewLimiter(r, b)
        s.visitors[ip] = &visitor{limiter, now}
        return limiter
    }

    v.lastSeen = now
    return v.limiter
}

func (s *rateLimitStore) sweepLocked(now time.Time, idle time.Duration) {
    for ip, v := range s.visitors {
        if now.Sub(v.lastSeen) > idle {
            delete(s.visitors, ip)
        }
    }
}

// RateLimit applies a per-IP token bucket. Each call owns its visitor table,
// so separate route groups get separate budgets.
func RateLimit(rps int, burst int) gin.HandlerFunc {
    store := newRateLimitStore()
    return func(c *gin.Context) {
        limiter := store.addVisitor(c.ClientIP(), rate.Limit(rps), burst)
        if !limiter.Allow() {
            basichttp.Fail(c, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
            c.Abort()
            return
        }
        c.Next()
    }
}
