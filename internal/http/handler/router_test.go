package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"h2all/internal/auth"
	"h2all/internal/config"
	dbpkg "h2all/internal/db"
	basichttp "h2all/internal/http"
	"h2all/internal/model"
	"h2all/internal/service"
	"h2all/internal/utils"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	db     *gorm.DB
	router *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatal("Failed to connect to test database:", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := dbpkg.AutoMigrate(db); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		JWTSecret:             testSecret,
		RateLimitRPS:          1000,
		RateLimitBurst:        1000,
		CampaignCacheTTL:      time.Minute,
		CookieExpirationHours: 24,
		PublicBaseURL:         "https://h2all.example.com/redeem",
	}
	cache := service.NewMemoryCache(64)
	return &testServer{db: db, router: NewRouter(db, cfg, cache)}
}

func (s *testServer) seedCampaign(t *testing.T, id string, value int64) {
	t.Helper()
	c := &model.Campaign{BaseModel: model.BaseModel{ID: id}, Name: "Campaign " + id, RedemptionValue: decimal.NewFromInt(value), IsActive: true}
	if err := s.db.Create(c).Error; err != nil {
		t.Fatal(err)
	}
}

func (s *testServer) seedCode(t *testing.T, campaignID, code string) *model.RedemptionCode {
	t.Helper()
	rc := &model.RedemptionCode{CampaignID: campaignID, UniqueCode: code}
	if err := s.db.Create(rc).Error; err != nil {
		t.Fatal(err)
	}
	return rc
}

func adminToken(t *testing.T) string {
	t.Helper()
	tok, err := auth.Sign(testSecret, utils.UserKeyFromEmail("admin@example.com"), true, 3600)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (s *testServer) do(t *testing.T, method, path string, body any, token string, cookies ...*http.Cookie) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("response is not JSON: %s", w.Body.String())
		}
	}
	return w, out
}

func campaignCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, ck := range w.Result().Cookies() {
		if ck.Name == basichttp.CampaignCookieName {
			return ck
		}
	}
	return nil
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w, body := s.do(t, http.MethodGet, "/health", nil, "")
	if w.Code != http.StatusOK || body["status"] != "ok" || body["cache"] != "memory" {
		t.Fatalf("health = %d %v", w.Code, body)
	}
	if w.Header().Get(basichttp.TraceHeader) == "" {
		t.Error("responses should carry a trace id")
	}
	w, _ = s.do(t, http.MethodGet, "/health/db", nil, "")
	if w.Code != http.StatusOK {
		t.Errorf("health/db = %d", w.Code)
	}
}

func TestRedeemEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.seedCampaign(t, "camp-1", 25)
	s.seedCode(t, "camp-1", "OVXQYE0I")

	req := map[string]any{"campaignId": "camp-1", "code": "OVXQYE0I", "userEmail": "user@example.com"}
	w, body := s.do(t, http.MethodPost, "/api/redeem", req, "")
	if w.Code != http.StatusOK {
		t.Fatalf("redeem = %d %v", w.Code, body)
	}
	if body["message"] != "Code redeemed successfully" {
		t.Errorf("message = %v", body["message"])
	}
	redemption, _ := body["redemption"].(map[string]any)
	if redemption["newBalance"] != float64(25) {
		t.Errorf("newBalance = %v", redemption["newBalance"])
	}

	w, body = s.do(t, http.MethodPost, "/api/redeem", req, "")
	if w.Code != http.StatusBadRequest || body["code"] != "CODE_ALREADY_REDEEMED" {
		t.Fatalf("second redeem = %d %v", w.Code, body)
	}
	if msg, _ := body["error"].(string); !strings.Contains(msg, "already been redeemed") {
		t.Errorf("error = %q", msg)
	}

	w, body = s.do(t, http.MethodPost, "/api/redeem", map[string]any{"campaignId": "camp-1", "code": "NOPE2345", "userEmail": "user@example.com"}, "")
	if w.Code != http.StatusNotFound || body["code"] != "CODE_NOT_FOUND" {
		t.Errorf("unknown code = %d %v", w.Code, body)
	}

	w, body = s.do(t, http.MethodPost, "/api/redeem", map[string]any{"userEmail": "user@example.com"}, "")
	if w.Code != http.StatusBadRequest || body["code"] != "MISSING_FIELDS" {
		t.Errorf("missing fields = %d %v", w.Code, body)
	}
}

func TestLandingSetsCookieForRedeem(t *testing.T) {
	s := newTestServer(t)
	s.seedCampaign(t, "camp-1", 10)
	s.seedCode(t, "camp-1", "ABCD2345")

	w, body := s.do(t, http.MethodGet, "/redeem?campaign_id=camp-1&code=ABCD2345&utm_source=flyer", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("landing = %d %v", w.Code, body)
	}
	data, _ := body["data"].(map[string]any)
	if data["cookieSet"] != true {
		t.Errorf("cookieSet = %v", data["cookieSet"])
	}
	ck := campaignCookie(w)
	if ck == nil {
		t.Fatal("landing should set the campaign cookie")
	}

	w, body = s.do(t, http.MethodGet, "/api/campaign-cookie", nil, "", ck)
	cookie, _ := body["data"].(map[string]any)["cookie"].(map[string]any)
	if w.Code != http.StatusOK || cookie["isValid"] != true {
		t.Fatalf("cookie read = %d %v", w.Code, body)
	}

	w, body = s.do(t, http.MethodPost, "/api/redeem", map[string]any{"userEmail": "fan@example.com"}, "", ck)
	if w.Code != http.StatusOK {
		t.Fatalf("redeem from cookie = %d %v", w.Code, body)
	}
	tracking, _ := body["redemption"].(map[string]any)["tracking"].(map[string]any)
	if tracking["source"] != "flyer" {
		t.Errorf("tracking source = %v, expected utm_source from the cookie", tracking["source"])
	}
	if cleared := campaignCookie(w); cleared == nil || cleared.MaxAge >= 0 {
		t.Error("successful redemption should clear the campaign cookie")
	}
}

func TestLandingRejectsBadLinks(t *testing.T) {
	s := newTestServer(t)
	w, body := s.do(t, http.MethodGet, "/redeem?campaign_id=camp-1", nil, "")
	if w.Code != http.StatusBadRequest || body["code"] != "INVALID_REDEMPTION_URL" {
		t.Errorf("landing = %d %v", w.Code, body)
	}
	w, body = s.do(t, http.MethodGet, "/redeem?campaign_id=ghost&code=ABCD2345", nil, "")
	if w.Code != http.StatusNotFound || body["code"] != "CAMPAIGN_NOT_FOUND" {
		t.Errorf("landing = %d %v", w.Code, body)
	}
	if campaignCookie(w) != nil {
		t.Error("failed landing must not set a cookie")
	}
}

func TestUpdateCookieUTMWithoutCookie(t *testing.T) {
	s := newTestServer(t)
	w, body := s.do(t, http.MethodPatch, "/api/campaign-cookie/utm", map[string]any{"source": "x"}, "")
	if w.Code != http.StatusNotFound || body["code"] != "COOKIE_NOT_FOUND" {
		t.Errorf("update = %d %v", w.Code, body)
	}
	if campaignCookie(w) != nil {
		t.Error("update must not create a cookie")
	}
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(t, http.MethodGet, "/api/campaigns", nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, expected 401", w.Code)
	}

	w, _ = s.do(t, http.MethodGet, "/api/campaigns", nil, "garbage")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad token = %d, expected 401", w.Code)
	}

	userKey := utils.UserKeyFromEmail("plain@example.com")
	plain, err := auth.Sign(testSecret, userKey, false, 3600)
	if err != nil {
		t.Fatal(err)
	}
	w, _ = s.do(t, http.MethodGet, "/api/campaigns", nil, plain)
	if w.Code != http.StatusForbidden {
		t.Errorf("non-admin = %d, expected 403", w.Code)
	}

	if err := s.db.Create(&model.User{ID: userKey, Email: "plain@example.com", IsAdmin: true, IsActive: true}).Error; err != nil {
		t.Fatal(err)
	}
	w, _ = s.do(t, http.MethodGet, "/api/campaigns", nil, plain)
	if w.Code != http.StatusOK {
		t.Errorf("admin user row = %d, expected 200", w.Code)
	}

	w, _ = s.do(t, http.MethodGet, "/api/campaigns", nil, adminToken(t))
	if w.Code != http.StatusOK {
		t.Errorf("admin claim = %d, expected 200", w.Code)
	}
}

func TestAdminCampaignAndCodesFlow(t *testing.T) {
	s := newTestServer(t)
	tok := adminToken(t)

	w, body := s.do(t, http.MethodPost, "/api/campaigns", map[string]any{"id": "spring", "name": "Spring", "redemptionValue": "12.5"}, tok)
	if w.Code != http.StatusCreated {
		t.Fatalf("create campaign = %d %v", w.Code, body)
	}
	w, body = s.do(t, http.MethodPost, "/api/campaigns", map[string]any{"id": "spring", "name": "Spring", "redemptionValue": "1"}, tok)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate campaign = %d %v", w.Code, body)
	}

	w, body = s.do(t, http.MethodPost, "/api/redemption-codes", map[string]any{"campaignId": "spring", "quantity": 3, "preset": "campaign"}, tok)
	if w.Code != http.StatusCreated {
		t.Fatalf("generate = %d %v", w.Code, body)
	}
	codes, _ := body["codes"].([]any)
	if len(codes) != 3 {
		t.Fatalf("expected 3 codes, got %v", body["codes"])
	}
	first, _ := codes[0].(map[string]any)
	code, _ := first["uniqueCode"].(string)
	codeID, _ := first["id"].(string)

	w, body = s.do(t, http.MethodPost, "/api/redemption-codes", map[string]any{"campaignId": "spring", "quantity": 5, "options": map[string]any{"alphabet": "AB", "length": 1}}, tok)
	if w.Code != http.StatusMultiStatus {
		t.Errorf("partial generate = %d %v", w.Code, body)
	}

	w, body = s.do(t, http.MethodPost, "/api/redemption-codes", map[string]any{"campaignId": "spring", "quantity": 500}, tok)
	if w.Code != http.StatusBadRequest || body["code"] != "INVALID_QUANTITY" {
		t.Errorf("oversized generate = %d %v", w.Code, body)
	}

	w, body = s.do(t, http.MethodPost, "/api/redemption-codes?action=redeem", map[string]any{"uniqueCode": code, "userEmail": "buyer@example.com"}, tok)
	if w.Code != http.StatusOK {
		t.Fatalf("admin redeem = %d %v", w.Code, body)
	}

	w, body = s.do(t, http.MethodDelete, "/api/redemption-codes/"+codeID, nil, tok)
	if w.Code != http.StatusConflict || body["code"] != "CODE_ALREADY_REDEEMED" {
		t.Errorf("delete redeemed = %d %v", w.Code, body)
	}
	w, _ = s.do(t, http.MethodDelete, "/api/redemption-codes/not-a-uuid", nil, tok)
	if w.Code != http.StatusBadRequest {
		t.Errorf("delete with bad id = %d", w.Code)
	}

	w, body = s.do(t, http.MethodPost, "/api/campaigns/spring/codes", map[string]any{"count": 50, "preset": "short"}, tok)
	if w.Code != http.StatusCreated {
		t.Errorf("bulk = %d %v", w.Code, body)
	}

	w, body = s.do(t, http.MethodGet, "/api/campaigns/spring/share-links?utm_source=sms&limit=2", nil, tok)
	data, _ := body["data"].(map[string]any)
	items, _ := data["items"].([]any)
	if w.Code != http.StatusOK || len(items) != 2 {
		t.Fatalf("share links = %d %v", w.Code, body)
	}
	link, _ := items[0].(map[string]any)["url"].(string)
	if !strings.HasPrefix(link, "https://h2all.example.com/redeem?campaign_id=spring&code=") || !strings.HasSuffix(link, "&utm_source=sms") {
		t.Errorf("unexpected share link %q", link)
	}

	w, body = s.do(t, http.MethodGet, "/api/users/by-email?email=buyer@example.com", nil, tok)
	if w.Code != http.StatusOK {
		t.Errorf("user lookup = %d %v", w.Code, body)
	}

	w, body = s.do(t, http.MethodGet, "/api/admin/logs/operations?action="+service.OpCampaignCreate, nil, tok)
	data, _ = body["data"].(map[string]any)
	if w.Code != http.StatusOK || data["total"] != float64(1) {
		t.Errorf("operation logs = %d %v", w.Code, body)
	}
}

func TestValidateCodeEndpoint(t *testing.T) {
	s := newTestServer(t)
	w, body := s.do(t, http.MethodPost, "/api/codes/validate", map[string]any{
		"code":  "ABC123@#$",
		"codes": []string{"AAAA", "BBBB", "AAAA"},
	}, adminToken(t))
	if w.Code != http.StatusOK {
		t.Fatalf("validate = %d %v", w.Code, body)
	}
	data, _ := body["data"].(map[string]any)
	validation, _ := data["validation"].(map[string]any)
	if validation["isValid"] != false {
		t.Errorf("validation = %v", validation)
	}
	uniqueness, _ := data["uniqueness"].(map[string]any)
	if uniqueness["isUnique"] != false {
		t.Errorf("uniqueness = %v", uniqueness)
	}

	w, _ = s.do(t, http.MethodPost, "/api/codes/validate", map[string]any{"code": "X", "preset": "nope"}, adminToken(t))
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown preset = %d", w.Code)
	}
}
