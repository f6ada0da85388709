package handler

import (
    "github.com/gin-gonic/gin"
    "github.com/prometheus/client_golang/prometheus/promhttp"
    "gorm.io/gorm"

    "h2all/internal/config"
    mw "h2all/internal/http/middleware"
    "h2all/internal/service"
    "h2all/internal/utils"
)

// NewRouter registers every route on a fresh engine.
func NewRouter(database *gorm.DB, cfg *config.Config, cache service.Cache) *gin.Engine {
    r := gin.New()
    r.Use(mw.Recovery())
    r.Use(mw.RequestLogger())
    r.Use(mw.CORS())
    // Security headers (lightweight)
    r.Use(func(c *gin.Context) {
        c.Writer.Header().Set("X-Content-Type-Options", "nosniff")
        c.Writer.Header().Set("X-Frame-Options", "DENY")
        c.Next()
    })

    healthH := NewHealthHandler(database, cache)
    redeemH := NewRedeemHandler(database, cfg, cache)
    codeH := NewCodeHandler(database, cfg)
    campaignH := NewCampaignHandler(database, cfg, cache)
    userH := NewUserHandler(database)
    logH := NewLogHandler(database)

    r.GET("/health", healthH.Health)
    r.GET("/health/db", healthH.HealthDB)
    r.GET("/metrics", gin.WrapH(promhttp.Handler()))

    public := r.Group("")
    public.Use(mw.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
    public.GET("/redeem", redeemH.Landing)

    api := r.Group("/api")
    api.Use(mw.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
    api.POST("/redeem", redeemH.Redeem)
    api.POST("/redeem/parse", redeemH.ParseURL)
    api.GET("/campaign-cookie", redeemH.GetCookie)
    api.DELETE("/campaign-cookie", redeemH.ClearCookie)
    api.PATCH("/campaign-cookie/utm", redeemH.UpdateCookieUTM)

    admin := api.Group("")
    admin.Use(mw.RequireAuth(cfg.JWTSecret))
    admin.Use(mw.RequireAdmin(database))

    admin.GET("/redemption-codes", codeH.ListCodes)
    admin.POST("/redemption-codes", codeH.PostCodes)
    admin.DELETE("/redemption-codes/:id", mw.ValidateUUIDParam("id"), codeH.DeleteCode)
    admin.POST("/codes/validate", codeH.ValidateCode)

    campaignID := mw.ValidatePatternParam("id", utils.DefaultCampaignIDPattern)
    admin.GET("/campaigns", campaignH.List)
    admin.POST("/campaigns", campaignH.Create)
    admin.GET("/campaigns/:id", campaignID, campaignH.Get)
    admin.PUT("/campaigns/:id", campaignID, campaignH.Update)
    admin.DELETE("/campaigns/:id", campaignID, campaignH.Delete)
    admin.POST("/campaigns/:id/codes", campaignID, codeH.BulkGenerate)
    admin.GET("/campaigns/:id/share-links", campaignID, codeH.ShareLinks)
    admin.POST("/campaigns/:id/reconcile", campaignID, campaignH.Reconcile)

    admin.GET("/users", userH.List)
    admin.GET("/users/by-email", userH.GetByEmail)
    admin.GET("/users/:id", userH.Get)

    admin.GET("/admin/logs/operations", logH.ListOperationLogs)

    return r
}
