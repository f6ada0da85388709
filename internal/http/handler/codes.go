package handler

import (
    "net/http"
    "strings"
    "time"

    "github.com/gin-gonic/gin"
    "gorm.io/gorm"

    "h2all/internal/config"
    basichttp "h2all/internal/http"
    mw "h2all/internal/http/middleware"
    "h2all/internal/service"
)

type CodeHandler struct {
    db          *gorm.DB
    cfg         *config.Config
    codes       *service.CodeService
    redemptions *service.RedemptionService
}

func NewCodeHandler(db *gorm.DB, cfg *config.Config) *CodeHandler {
    return &CodeHandler{
        db:          db,
        cfg:         cfg,
        codes:       service.NewCodeService(db),
        redemptions: service.NewRedemptionService(db),
    }
}

// GET /api/redemption-codes
func (h *CodeHandler) ListCodes(c *gin.Context) {
    page := queryInt(c, "page", 1)
    size := queryInt(c, "page_size", 20)
    f := service.CodeFilter{
        ID:         c.Query("id"),
        CampaignID: c.Query("campaignId"),
        Code:       c.Query("code"),
        BatchID:    c.Query("batchId"),
        IsUsed:     queryBool(c, "isUsed"),
        Page:       page,
        PageSize:   size,
    }
    // A bare id lookup must be scoped to its campaign.
    if f.ID != "" && f.CampaignID == "" {
        basichttp.Fail(c, http.StatusBadRequest, "MISSING_FIELDS", "campaignId is required when filtering by id")
        return
    }
    items, total, err := h.codes.List(c.Request.Context(), f)
    if err != nil {
        basichttp.FailWithError(c, err)
        return
    }
    basichttp.OK(c, gin.H{"total": total, "items": items, "page": page, "page_size": size})
}

type redeemByCodeRequest struct {
    UniqueCode string `json:"uniqueCode"`
    UserID     string `json:"userId"`
    UserEmail  string `json:"userEmail"`
}

type generateCodesRequest struct {
    CampaignID string               `json:"campaignId"`
    Quantity   int                  `json:"quantity"`
    Preset     string               `json:"preset"`
    Options    *service.CodeOptions `json:"options"`
    ExpiresAt  *time.Time           `json:"expiresAt"`
}

// POST /api/redemption-codes
// With ?action=redeem the body is a redemption; otherwise it generates codes
// and answers 201 when every code was stored, 207 when only some were.
func (h *CodeHandler) PostCodes(c *gin.Context) {
    if c.Query("action") == "redeem" {
        h.redeem(c)
        return
    }

    var req generateCodesRequest
    if err := c.ShouldBindJSON(&req); err != nil {
        basichttp.Fail(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
        return
    }
    opts, err := resolveCodeOptions(req.Preset, req.Options)
    if err != nil {
        basichttp.Fail(c, http.StatusBadRequest, "INVALID_OPTIONS", err.Error())
        return
    }

    res, err := h.codes.Generate(c.Request.Context(), req.CampaignID, req.Quantity, opts, req.ExpiresAt)
    if err != nil {
        basichttp.FailWithError(c, err)
        return
    }

    payload := gin.H{
        "campaignId": res.CampaignID,
        "batchId":    res.BatchID,
        "requested":  res.Requested,
        "generated":  len(res.Codes),
        "codes":      res.Codes,
    }
    switch {
    case len(res.Codes) == 0:
        basichttp.FailWithDetails(c, http.StatusBadRequest, "GENERATION_FAILED", "no codes could be generated",
            map[string]any{"errors": res.Errors})
        return
    case len(res.Errors) > 0:
        payload["errors"] = res.Errors
        basichttp.Respond(c, http.StatusMultiStatus, payload)
    default:
        basichttp.Respond(c, http.StatusCreated, payload)
    }
    service.LogOperation(c.Request.Context(), h.db, mw.UserID(c), service.OpCodesGenerate, "campaign", res.CampaignID,
        map[string]any{"batch_id": res.BatchID, "generated": len(res.Codes), "requested": res.Requested})
}

func (h *CodeHandler) redeem(c *gin.Context) {
    var req redeemByCodeRequest
    if err := c.ShouldBindJSON(&req); err != nil {
        basichttp.Fail(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
        return
    }
    res, err := h.redemptions.RedeemByCode(c.Request.Context(), req.UniqueCode, req.UserID, req.UserEmail)
    if err != nil {
        basichttp.FailWithError(c, err)
        return
    }
    service.LogOperation(c.Request.Context(), h.db, mw.UserID(c), service.OpCodeRedeem, "redemption_code", res.CodeID,
        map[string]any{"user_id": res.UserID, "campaign_id": res.CampaignID})
    basichttp.Respond(c, http.StatusOK, gin.H{
        "message":    "Code redeemed successfully",
        "redemption": res,
    })
}

// DELETE /api/redemption-codes/:id
func (h *CodeHandler) DeleteCode(c *gin.Context) {
    id := c.Param("id")
    code, err := h.codes.Delete(c.Request.Context(), id)
    if err != nil {
        basichttp.FailWithError(c, err)
        return
    }
    service.LogOperation(c.Request.Context(), h.db, mw.UserID(c), service.OpCodeDelete, "redemption_code", id,
        map[string]any{"campaign_id": code.CampaignID, "unique_code": code.UniqueCode})
    basichttp.OK(c, gin.H{"deleted": true, "id": id})
}

type bulkGenerateRequest struct {
    Count     int                  `json:"count"`
    Preset    string               `json:"preset"`
    Options   *service.CodeOptions `json:"options"`
    ExpiresAt *time.Time           `json:"expiresAt"`
}

// POST /api/campaigns/:id/codes
func (h *CodeHandler) BulkGenerate(c *gin.Context) {
    var req bulkGenerateRequest
    if err := c.ShouldBindJSON(&req); err != nil {
        basichttp.Fail(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
        return
    }
    opts, err := resolveCodeOptions(req.Preset, req.Options)
    if err != nil {
        basichttp.Fail(c, http.StatusBadRequest, "INVALID_OPTIONS", err.Error())
        return
    }
    campaignID := c.Param("id")
    res, err := h.codes.BulkGenerate(c.Request.Context(), campaignID, req.Count, opts, req.ExpiresAt)
    if err != nil {
        basichttp.FailWithError(c, err)
        return
    }
    service.LogOperation(c.Request.Context(), h.db, mw.UserID(c), service.OpCodesBulkGenerate, "campaign", campaignID,
        map[string]any{"batch_id": res.BatchID, "requested": res.Requested, "inserted": res.Inserted})
    status := http.StatusCreated
    if res.Partial {
        status = http.StatusMultiStatus
    }
    basichttp.JSON(c, status, res)
}

// GET /api/campaigns/:id/share-links
func (h *CodeHandler) ShareLinks(c *gin.Context) {
    base := c.DefaultQuery("base_url", h.cfg.PublicBaseURL)
    extra := map[string]string{}
    for _, key := range []string{"utm_source", "utm_medium", "utm_content", "ref"} {
        if v := strings.TrimSpace(c.Query(key)); v != "" {
            extra[key] = v
        }
    }
    links, err := h.codes.ShareLinks(c.Request.Context(), c.Param("id"), base, extra, queryInt(c, "limit", 100))
    if err != nil {
        basichttp.FailWithError(c, err)
        return
    }
    basichttp.OK(c, gin.H{"total": len(links), "items": links})
}

type validateCodeRequest struct {
    Code    string               `json:"code"`
    Codes   []string             `json:"codes"`
    Preset  string               `json:"preset"`
    Options *service.CodeOptions `json:"options"`
}

// POST /api/codes/validate
// Checks a single code's format; when codes is given, also reports
// duplicates within that list.
func (h *CodeHandler) ValidateCode(c *gin.Context) {
    var req validateCodeRequest
    if err := c.ShouldBindJSON(&req); err != nil {
        basichttp.Fail(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
        return
    }
    opts, err := resolveCodeOptions(req.Preset, req.Options)
    if err != nil {
        basichttp.Fail(c, http.StatusBadRequest, "INVALID_OPTIONS", err.Error())
        return
    }
    payload := gin.H{"validation": service.ValidateCodeFormat(req.Code, opts)}
    if len(req.Codes) > 0 {
        payload["uniqueness"] = service.VerifyUniqueness(req.Codes)
    }
    basichttp.OK(c, payload)
}
