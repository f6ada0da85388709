package handler

import (
    "errors"
    "net/http"

    "github.com/gin-gonic/gin"
    "go.uber.org/zap"
    "gorm.io/gorm"

    "h2all/internal/config"
    basichttp "h2all/internal/http"
    "h2all/internal/service"
    "h2all/internal/utils"
)

// RedeemHandler serves the public redemption flow: landing links, the
// campaign cookie and the redeem call itself.
type RedeemHandler struct {
    cfg         *config.Config
    redemptions *service.RedemptionService
    campaigns   *service.CampaignService
}

func NewRedeemHandler(db *gorm.DB, cfg *config.Config, cache service.Cache) *RedeemHandler {
    return &RedeemHandler{
        cfg:         cfg,
        redemptions: service.NewRedemptionService(db),
        campaigns:   service.NewCampaignService(db, cache, cfg.CampaignCacheTTL),
    }
}

func (h *RedeemHandler) cookieOptions() basichttp.CookieOptions {
    return basichttp.CookieOptions{
        ExpirationHours: basichttp.ExpirationHoursOf(h.cfg.CookieExpirationHours),
        Domain:          h.cfg.CookieDomain,
    }
}

// POST /api/redeem
// campaignId and code fall back to the campaign cookie when both are absent
// from the body.
func (h *RedeemHandler) Redeem(c *gin.Context) {
    var req service.RedeemRequest
    if err := c.ShouldBindJSON(&req); err != nil {
        basichttp.Fail(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
        return
    }
    req.UserAgent = c.Request.UserAgent()

    store := basichttp.NewGinCookieStore(c)
    if req.CampaignID == "" && req.Code == "" {
        if ck := basichttp.GetCampaignCookie(store, true, h.cookieOptions()); ck.IsValid {
            req.CampaignID = ck.Data.CampaignID
            req.Code = ck.Data.UniqueCode
            if ck.Data.UTMParams != nil && ck.Data.UTMParams.Source != "" {
                if req.Metadata == nil {
                    req.Metadata = map[string]any{}
                }
                if _, ok := req.Metadata["source"]; !ok {
                    req.Metadata["source"] = ck.Data.UTMParams.Source
                }
            }
        }
    }

    res, err := h.redemptions.Redeem(c.Request.Context(), req)
    if err != nil {
        basichttp.FailWithError(c, err)
        return
    }
    basichttp.ClearCampaignCookie(store, h.cookieOptions())
    basichttp.Respond(c, http.StatusOK, gin.H{
        "message":    "Code redeemed successfully",
        "redemption": res,
    })
}

// GET /redeem?campaign_id=...&code=...
func (h *RedeemHandler) Landing(c *gin.Context) {
    parsed := utils.ParseCampaignURL(c.Request.URL.RequestURI())
    if !parsed.IsValid {
        basichttp.FailWithDetails(c, http.StatusBadRequest, "INVALID_REDEMPTION_URL", "invalid redemption link",
            map[string]any{"errors": parsed.Errors})
        return
    }

    summary, err := h.campaigns.Summary(c.Request.Context(), parsed.CampaignID)
    if err != nil {
        basichttp.FailWithError(c, err)
        return
    }

    data := basichttp.CampaignCookieData{
        CampaignID: parsed.CampaignID,
        UniqueCode: parsed.UniqueCode,
    }
    if !parsed.UTMParams.IsZero() {
        utm := parsed.UTMParams
        data.UTMParams = &utm
    }
    cookieSet := true
    if err := basichttp.SetCampaignCookie(basichttp.NewGinCookieStore(c), data, h.cookieOptions()); err != nil {
        cookieSet = false
        zap.L().Warn("landing cookie not set", zap.String("trace_id", basichttp.TraceID(c)), zap.Error(err))
    }

    basichttp.OK(c, gin.H{
        "campaign":    summary,
        "uniqueCode":  parsed.UniqueCode,
        "utmParams":   parsed.UTMParams,
        "extraParams": parsed.ExtraParams,
        "cookieSet":   cookieSet,
    })
}

type parseURLRequest struct {
    URL string `json:"url"`
}

// POST /api/redeem/parse
func (h *RedeemHandler) ParseURL(c *gin.Context) {
    var req parseURLRequest
    if err := c.ShouldBindJSON(&req); err != nil || req.URL == "" {
        basichttp.Fail(c, http.StatusBadRequest, "INVALID_REQUEST", "url is required")
        return
    }
    basichttp.OK(c, utils.ParseCampaignURL(req.URL))
}

// GET /api/campaign-cookie
func (h *RedeemHandler) GetCookie(c *gin.Context) {
    store := basichttp.NewGinCookieStore(c)
    res := basichttp.GetCampaignCookie(store, true, h.cookieOptions())
    payload := gin.H{"cookie": res}
    if res.IsValid {
        payload["expiresAt"] = res.Data.ExpiresAt()
    }
    basichttp.OK(c, payload)
}

// DELETE /api/campaign-cookie
func (h *RedeemHandler) ClearCookie(c *gin.Context) {
    basichttp.ClearCampaignCookie(basichttp.NewGinCookieStore(c), h.cookieOptions())
    basichttp.OK(c, gin.H{"cleared": true})
}

// PATCH /api/campaign-cookie/utm
func (h *RedeemHandler) UpdateCookieUTM(c *gin.Context) {
    var utm utils.UTMParams
    if err := c.ShouldBindJSON(&utm); err != nil {
        basichttp.Fail(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
        return
    }
    store := basichttp.NewGinCookieStore(c)
    if err := basichttp.UpdateCampaignCookieUTM(store, utm, h.cookieOptions()); err != nil {
        if errors.Is(err, basichttp.ErrCookieNotFound) {
            basichttp.Fail(c, http.StatusNotFound, "COOKIE_NOT_FOUND", "no valid campaign cookie")
            return
        }
        basichttp.Fail(c, http.StatusBadRequest, "COOKIE_UPDATE_FAILED", err.Error())
        return
    }
    basichttp.OK(c, basichttp.GetCampaignCookie(store, true, h.cookieOptions()))
}
