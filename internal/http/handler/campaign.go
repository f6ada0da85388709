package handler

import (
    "net/http"

    "github.com/gin-gonic/gin"
    "gorm.io/gorm"

    "h2all/internal/config"
    basichttp "h2all/internal/http"
    mw "h2all/internal/http/middleware"
    "h2all/internal/service"
)

type CampaignHandler struct {
    db        *gorm.DB
    cfg       *config.Config
    campaigns *service.CampaignService
}

func NewCampaignHandler(db *gorm.DB, cfg *config.Config, cache service.Cache) *CampaignHandler {
    return &CampaignHandler{
        db:        db,
        cfg:       cfg,
        campaigns: service.NewCampaignService(db, cache, cfg.CampaignCacheTTL),
    }
}

// POST /api/campaigns
func (h *CampaignHandler) Create(c *gin.Context) {
    var in service.CampaignInput
    if err := c.ShouldBindJSON(&in); err != nil {
        basichttp.Fail(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
        return
    }
    campaign, err := h.campaigns.Create(c.Request.Context(), in)
    if err != nil {
        basichttp.FailWithError(c, err)
        return
    }
    service.LogOperation(c.Request.Context(), h.db, mw.UserID(c), service.OpCampaignCreate, "campaign", campaign.ID,
        map[string]any{"name": campaign.Name, "redemption_value": campaign.RedemptionValue.String()})
    basichttp.JSON(c, http.StatusCreated, campaign)
}

// GET /api/campaigns
func (h *CampaignHandler) List(c *gin.Context) {
    page := queryInt(c, "page", 1)
    size := queryInt(c, "page_size", 20)
    items, total, err := h.campaigns.List(c.Request.Context(), service.CampaignFilter{
        Status:   c.Query("status"),
        Search:   c.Query("q"),
        Page:     page,
        PageSize: size,
    })
    if err != nil {
        basichttp.FailWithError(c, err)
        return
    }
    basichttp.OK(c, gin.H{"total": total, "items": items, "page": page, "page_size": size})
}

// GET /api/campaigns/:id
func (h *CampaignHandler) Get(c *gin.Context) {
    campaign, err := h.campaigns.Get(c.Request.Context(), c.Param("id"))
    if err != nil {
        basichttp.FailWithError(c, err)
        return
    }
    basichttp.OK(c, campaign)
}

// PUT /api/campaigns/:id
func (h *CampaignHandler) Update(c *gin.Context) {
    var p service.CampaignPatch
    if err := c.ShouldBindJSON(&p); err != nil {
        basichttp.Fail(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
        return
    }
    id := c.Param("id")
    campaign, err := h.campaigns.Update(c.Request.Context(), id, p)
    if err != nil {
        basichttp.FailWithError(c, err)
        return
    }
    service.LogOperation(c.Request.Context(), h.db, mw.UserID(c), service.OpCampaignUpdate, "campaign", id, nil)
    basichttp.OK(c, campaign)
}

// DELETE /api/campaigns/:id
func (h *CampaignHandler) Delete(c *gin.Context) {
    id := c.Param("id")
    if err := h.campaigns.Delete(c.Request.Context(), id); err != nil {
        basichttp.FailWithError(c, err)
        return
    }
    service.LogOperation(c.Request.Context(), h.db, mw.UserID(c), service.OpCampaignDelete, "campaign", id, nil)
    basichttp.OK(c, gin.H{"deleted": true, "id": id})
}

// POST /api/campaigns/:id/reconcile
func (h *CampaignHandler) Reconcile(c *gin.Context) {
    id := c.Param("id")
    res, err := h.campaigns.Reconcile(c.Request.Context(), id)
    if err != nil {
        basichttp.FailWithError(c, err)
        return
    }
    if res.Changed {
        service.LogOperation(c.Request.Context(), h.db, mw.UserID(c), service.OpCampaignReconcile, "campaign", id,
            map[string]any{
                "redemptions_before": res.Before.TotalRedemptions,
                "redemptions_after":  res.After.TotalRedemptions,
                "codes_before":       res.Before.TotalCodes,
                "codes_after":        res.After.TotalCodes,
            })
    }
    basichttp.OK(c, res)
}
