package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"h2all/internal/metrics"
	"h2all/internal/utils"
)

const (
	CampaignCookieName           = "h2all_campaign_data"
	DefaultCookieExpirationHours = 24
	MaxCookieExpirationHours     = 48
	MaxCookieBytes               = 4000
)

var (
	ErrCookieNotFound = errors.New("campaign cookie not found")
	ErrCookieNotSaved = errors.New("campaign cookie was not stored")
)

// nowFunc is swapped in tests.
var nowFunc = time.Now

// CookieStore is the cookie jar a request sees: incoming cookies plus any
// written while handling it.
type CookieStore interface {
	Get(name string) (string, bool)
	Set(cookie *http.Cookie)
	// IsSecure reports whether the client connection is HTTPS.
	IsSecure() bool
}

type ginCookieStore struct {
	c       *gin.Context
	pending map[string]*http.Cookie
}

// NewGinCookieStore adapts a gin request. Cookies set through it are visible
// to later Get calls within the same request.
func NewGinCookieStore(c *gin.Context) CookieStore {
	return &ginCookieStore{c: c, pending: map[string]*http.Cookie{}}
}

func (s *ginCookieStore) Get(name string) (string, bool) {
	if ck, ok := s.pending[name]; ok {
		if ck.MaxAge < 0 || (!ck.Expires.IsZero() && !ck.Expires.After(nowFunc())) {
			return "", false
		}
		return ck.Value, true
	}
	ck, err := s.c.Request.Cookie(name)
	if err != nil {
		return "", false
	}
	return ck.Value, true
}

func (s *ginCookieStore) Set(cookie *http.Cookie) {
	// http.SetCookie silently drops invalid cookies; skip them here too so
	// the read-back check fails.
	if v := cookie.String(); v == "" {
		return
	}
	http.SetCookie(s.c.Writer, cookie)
	s.pending[cookie.Name] = cookie
}

func (s *ginCookieStore) IsSecure() bool {
	if s.c.Request.TLS != nil {
		return true
	}
	return strings.EqualFold(s.c.GetHeader("X-Forwarded-Proto"), "https")
}

type CampaignCookieData struct {
	CampaignID string `json:"campaignId"`
	UniqueCode string `json:"uniqueCode"`
	// Timestamp is the write time in milliseconds since the epoch.
	Timestamp       int64            `json:"timestamp"`
	UTMParams       *utils.UTMParams `json:"utmParams,omitempty"`
	ExpirationHours int              `json:"expirationHours,omitempty"`
}

func (d *CampaignCookieData) lifetimeHours() int {
	if d.ExpirationHours > 0 {
		return d.ExpirationHours
	}
	return DefaultCookieExpirationHours
}

// ExpiresAt is the instant after which the cookie is no longer honoured.
func (d *CampaignCookieData) ExpiresAt() time.Time {
	return time.UnixMilli(d.Timestamp).Add(time.Duration(d.lifetimeHours()) * time.Hour)
}

type CookieOptions struct {
	// ExpirationHours nil means the 24 hour default; any explicit value must
	// be within 1..48.
	ExpirationHours *int
	Path            string
	Domain          string
	// Secure forces the flag; nil derives it from the connection.
	Secure   *bool
	SameSite http.SameSite
}

type CookieResult struct {
	IsValid bool                `json:"isValid"`
	Data    *CampaignCookieData `json:"data,omitempty"`
	Errors  []string            `json:"errors,omitempty"`
}

func validateCookieShape(d *CampaignCookieData) []string {
	var errs []string
	if strings.TrimSpace(d.CampaignID) == "" {
		errs = append(errs, "campaignId is required")
	}
	if strings.TrimSpace(d.UniqueCode) == "" {
		errs = append(errs, "uniqueCode is required")
	}
	if d.Timestamp <= 0 {
		errs = append(errs, "timestamp is required")
	}
	if d.ExpirationHours < 0 || d.ExpirationHours > MaxCookieExpirationHours {
		errs = append(errs, fmt.Sprintf("expirationHours must be between 1 and %d", MaxCookieExpirationHours))
	}
	return errs
}

func (o CookieOptions) withDefaults() CookieOptions {
	if o.Path == "" {
		o.Path = "/"
	}
	if o.SameSite == 0 {
		o.SameSite = http.SameSiteLaxMode
	}
	return o
}

// writeCookie stores data as-is; it does not touch the timestamp.
func writeCookie(store CookieStore, data CampaignCookieData, opts CookieOptions) error {
	opts = opts.withDefaults()
	if errs := validateCookieShape(&data); len(errs) > 0 {
		return fmt.Errorf("invalid campaign cookie data: %s", strings.Join(errs, "; "))
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode campaign cookie: %w", err)
	}
	if len(raw) > MaxCookieBytes {
		return fmt.Errorf("campaign cookie too large: %d bytes exceeds %d", len(raw), MaxCookieBytes)
	}

	secure := store.IsSecure()
	if opts.Secure != nil {
		secure = *opts.Secure
	}
	value := url.QueryEscape(string(raw))
	store.Set(&http.Cookie{
		Name:     CampaignCookieName,
		Value:    value,
		Path:     opts.Path,
		Domain:   opts.Domain,
		Expires:  data.ExpiresAt(),
		Secure:   secure,
		SameSite: opts.SameSite,
	})

	if got, ok := store.Get(CampaignCookieName); !ok || got != value {
		return ErrCookieNotSaved
	}
	return nil
}

// ExpirationHoursOf wraps a lifetime for CookieOptions.
func ExpirationHoursOf(hours int) *int {
	return &hours
}

// SetCampaignCookie stamps data with the current time and stores it. The
// lifetime comes from opts.ExpirationHours (default 24, at most 48) and is
// kept inside the payload so reads honour it.
func SetCampaignCookie(store CookieStore, data CampaignCookieData, opts CookieOptions) error {
	hours := DefaultCookieExpirationHours
	if opts.ExpirationHours != nil {
		hours = *opts.ExpirationHours
	}
	if hours <= 0 || hours > MaxCookieExpirationHours {
		metrics.RecordCookieWrite(false)
		return fmt.Errorf("expirationHours must be between 1 and %d, got %d", MaxCookieExpirationHours, hours)
	}
	data.Timestamp = nowFunc().UnixMilli()
	data.ExpirationHours = hours
	if data.UTMParams != nil && data.UTMParams.IsZero() {
		data.UTMParams = nil
	}

	err := writeCookie(store, data, opts)
	metrics.RecordCookieWrite(err == nil)
	if err != nil {
		zap.L().Warn("campaign cookie not set", zap.String("campaign_id", data.CampaignID), zap.Error(err))
	}
	return err
}

// GetCampaignCookie decodes and checks the campaign cookie. With
// validateExpiration an expired cookie is reported invalid and cleared using
// opts, which must carry the path and domain it was set with.
func GetCampaignCookie(store CookieStore, validateExpiration bool, opts CookieOptions) CookieResult {
	value, ok := store.Get(CampaignCookieName)
	if !ok || value == "" {
		return CookieResult{Errors: []string{ErrCookieNotFound.Error()}}
	}
	decoded, err := url.QueryUnescape(value)
	if err != nil {
		return CookieResult{Errors: []string{"failed to decode campaign cookie: " + err.Error()}}
	}
	var data CampaignCookieData
	if err := json.Unmarshal([]byte(decoded), &data); err != nil {
		return CookieResult{Errors: []string{"failed to parse campaign cookie: " + err.Error()}}
	}
	if errs := validateCookieShape(&data); len(errs) > 0 {
		return CookieResult{Errors: errs}
	}
	if validateExpiration && nowFunc().After(data.ExpiresAt()) {
		ClearCampaignCookie(store, opts)
		return CookieResult{Errors: []string{"campaign cookie has expired"}}
	}
	return CookieResult{IsValid: true, Data: &data}
}

func ClearCampaignCookie(store CookieStore, opts CookieOptions) {
	opts = opts.withDefaults()
	store.Set(&http.Cookie{
		Name:     CampaignCookieName,
		Value:    "",
		Path:     opts.Path,
		Domain:   opts.Domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		SameSite: opts.SameSite,
	})
}

func HasCampaignCookie(store CookieStore, opts CookieOptions) bool {
	return GetCampaignCookie(store, true, opts).IsValid
}

// GetCampaignCookieExpiration returns when the current cookie expires.
func GetCampaignCookieExpiration(store CookieStore, opts CookieOptions) (time.Time, bool) {
	res := GetCampaignCookie(store, true, opts)
	if !res.IsValid {
		return time.Time{}, false
	}
	return res.Data.ExpiresAt(), true
}

// UpdateCampaignCookieUTM replaces the UTM parameters of an existing valid
// cookie. It never creates a cookie, and it keeps the original timestamp
// and lifetime.
func UpdateCampaignCookieUTM(store CookieStore, utm utils.UTMParams, opts CookieOptions) error {
	res := GetCampaignCookie(store, true, opts)
	if !res.IsValid {
		return ErrCookieNotFound
	}
	data := *res.Data
	if utm.IsZero() {
		data.UTMParams = nil
	} else {
		data.UTMParams = &utm
	}
	err := writeCookie(store, data, opts)
	metrics.RecordCookieWrite(err == nil)
	return err
}
