package middleware

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"runtime"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"h2all/internal/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, path, token string) int {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimit(t *testing.T) {
	r := gin.New()
	r.Use(RateLimit(1, 2))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := []int{serve(r, "/", ""), serve(r, "/", ""), serve(r, "/", "")}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("burst requests = %v, expected 200s", codes[:2])
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("third request = %d, expected 429", codes[2])
	}
}

func TestRateLimitStoreEvictsIdleVisitors(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	store := newRateLimitStore()
	store.now = func() time.Time { return now }

	store.addVisitor("10.0.0.1", rate.Limit(1), 1)
	store.addVisitor("10.0.0.2", rate.Limit(1), 1)

	now = base.Add(2 * time.Minute)
	store.addVisitor("10.0.0.2", rate.Limit(1), 1)
	if len(store.visitors) != 2 {
		t.Fatalf("visitors = %d after 2m, expected 2", len(store.visitors))
	}

	now = base.Add(4 * time.Minute)
	store.addVisitor("10.0.0.3", rate.Limit(1), 1)
	if _, ok := store.visitors["10.0.0.1"]; ok {
		t.Error("visitor idle for 4m should be evicted")
	}
	if _, ok := store.visitors["10.0.0.2"]; !ok {
		t.Error("visitor seen 2m ago should be kept")
	}
	if _, ok := store.visitors["10.0.0.3"]; !ok {
		t.Error("new visitor should be tracked")
	}
}

func TestRateLimitStartsNoGoroutines(t *testing.T) {
	before := runtime.NumGoroutine()
	for i := 0; i < 50; i++ {
		_ = RateLimit(10, 10)
	}
	if after := runtime.NumGoroutine(); after > before+2 {
		t.Errorf("goroutines grew from %d to %d after building 50 limiters", before, after)
	}
}

func TestRequireAuthClaims(t *testing.T) {
	r := gin.New()
	r.Use(RequireAuth("s3cret"), RequireAdmin(nil))
	r.GET("/", func(c *gin.Context) {
		if UserID(c) != "admin-key" || !IsAdmin(c) {
			c.Status(http.StatusTeapot)
			return
		}
		c.Status(http.StatusOK)
	})

	admin, _ := auth.Sign("s3cret", "admin-key", true, 60)
	user, _ := auth.Sign("s3cret", "user-key", false, 60)
	forged, _ := auth.Sign("other", "admin-key", true, 60)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong secret", forged, http.StatusUnauthorized},
		{"not admin", user, http.StatusForbidden},
		{"admin", admin, http.StatusOK},
	}
	for _, tt := range tests {
		if got := serve(r, "/", tt.token); got != tt.want {
			t.Errorf("%s: status = %d, expected %d", tt.name, got, tt.want)
		}
	}
}

func TestParamValidation(t *testing.T) {
	r := gin.New()
	r.GET("/codes/:id", ValidateUUIDParam("id"), func(c *gin.Context) {
		c.String(http.StatusOK, c.Param("id"))
	})
	r.GET("/campaigns/:id", ValidatePatternParam("id", regexp.MustCompile(`^[a-z-]+$`)), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/codes/8F14E45F-CEEA-467F-A0E6-1E2B3C4D5E6F", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "8f14e45f-ceea-467f-a0e6-1e2b3c4d5e6f" {
		t.Errorf("uuid param = %d %q, expected normalized id", w.Code, w.Body.String())
	}
	if got := serve(r, "/codes/nope", ""); got != http.StatusBadRequest {
		t.Errorf("bad uuid = %d", got)
	}
	if got := serve(r, "/campaigns/spring-sale", ""); got != http.StatusOK {
		t.Errorf("valid campaign id = %d", got)
	}
	if got := serve(r, "/campaigns/Spring_Sale", ""); got != http.StatusBadRequest {
		t.Errorf("invalid campaign id = %d", got)
	}
}
