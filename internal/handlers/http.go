package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"lucky-wheel/internal/auth"
	"lucky-wheel/internal/cache"
	"lucky-wheel/internal/catalog"
	"lucky-wheel/internal/config"
	"lucky-wheel/internal/database"
	"lucky-wheel/internal/metrics"
	"lucky-wheel/internal/middleware"
	"lucky-wheel/internal/models"
	"lucky-wheel/internal/pending"
	"lucky-wheel/internal/quota"
	adminsvc "lucky-wheel/internal/services/admin"
	"lucky-wheel/internal/services/wheel"
)

type Handler struct {
	cfg      *config.Config
	store    *database.Store
	wheel    *wheel.Service
	ledger   *quota.DailyLedger
	tracker  *pending.Tracker
	catalogs *cache.CatalogCache
	env      *adminsvc.EnvService
	jwt      *auth.Manager
	logger   *slog.Logger
}

type Deps struct {
	Config   *config.Config
	Store    *database.Store
	Wheel    *wheel.Service
	Ledger   *quota.DailyLedger
	Tracker  *pending.Tracker
	Catalogs *cache.CatalogCache
	Env      *adminsvc.EnvService
	JWT      *auth.Manager
	Logger   *slog.Logger
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		cfg:      d.Config,
		store:    d.Store,
		wheel:    d.Wheel,
		ledger:   d.Ledger,
		tracker:  d.Tracker,
		catalogs: d.Catalogs,
		env:      d.Env,
		jwt:      d.JWT,
		logger:   d.Logger,
	}
}

func RegisterRoutes(r *gin.Engine, h *Handler, jwt *auth.Manager, adminIPs []string) {
	r.Use(metrics.Middleware())

	r.GET("/api/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	w := r.Group("/wheel")
	w.GET("/catalog", h.Catalog)
	w.POST("/limit", h.Limit)
	w.POST("/spin", h.Spin)
	w.POST("/complete", h.Complete)
	w.POST("/reward/:kind", h.Reward)

	admin := r.Group("/api/admin")
	admin.Use(middleware.AdminIPWhitelist(adminIPs, h.logger))
	admin.POST("/login", h.AdminLogin)

	adminProtected := admin.Group("/")
	adminProtected.Use(middleware.JWT(jwt), middleware.RequireRole(auth.RoleAdmin))
	adminProtected.GET("/quota", h.GetQuota)
	adminProtected.PUT("/quota", h.UpdateQuota)
	adminProtected.POST("/quota/schedule", h.ScheduleQuota)
	adminProtected.GET("/catalog", h.GetCatalog)
	adminProtected.PUT("/catalog", h.UpdateCatalog)
	adminProtected.GET("/spins", h.AdminListSpins)
	adminProtected.GET("/pending/:wallet", h.AdminGetPending)
	adminProtected.POST("/pending/:wallet/clear", h.AdminClearPending)
	adminProtected.GET("/env", h.EnvList)
	adminProtected.PUT("/env", h.EnvUpdate)
}

func (h *Handler) Health(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		h.logger.Error("health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "timestamp": time.Now().UTC()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
}

// writeError maps service errors onto status codes.
func (h *Handler) writeError(c *gin.Context, err error) {
	var qe *wheel.QuotaExceededError
	switch {
	case errors.Is(err, pending.ErrInvalidWallet):
		c.JSON(http.StatusBadRequest, gin.H{"error": "wallet is required"})
	case errors.Is(err, catalog.ErrUnknownVariant):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown wheel variant"})
	case errors.Is(err, wheel.ErrPaymentRequired):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "payment required", "reason": err.Error()})
	case errors.Is(err, wheel.ErrAlreadyPending):
		c.JSON(http.StatusConflict, gin.H{"error": "a spin is already pending for this wallet"})
	case errors.As(err, &qe):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":                "daily spin quota exceeded",
			"globalSpinsUsed":      qe.Snapshot.Used,
			"globalSpinsRemaining": qe.Snapshot.Remaining,
			"globalDailyLimit":     qe.Snapshot.Limit,
		})
	case errors.Is(err, wheel.ErrNoClaimableReward):
		c.JSON(http.StatusConflict, gin.H{"error": "no claimable reward"})
	case errors.Is(err, wheel.ErrRewardMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case wheel.IsTransient(err):
		h.logger.Error("store unavailable", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable, retry"})
	default:
		h.logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *Handler) Catalog(c *gin.Context) {
	cat, err := h.wheel.Catalog(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cat)
}

type limitRequest struct {
	Wallet  string           `json:"wallet" binding:"required"`
	Variant models.VariantID `json:"variant"`
}

func (h *Handler) Limit(c *gin.Context) {
	var req limitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	res, err := h.wheel.Limit(c.Request.Context(), req.Wallet, req.Variant)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type spinRequest struct {
	Wallet         string           `json:"wallet" binding:"required"`
	Variant        models.VariantID `json:"variant" binding:"required"`
	PricePaid      decimal.Decimal  `json:"pricePaid"`
	ProofOfPayment string           `json:"proofOfPayment"`
}

func (h *Handler) Spin(c *gin.Context) {
	var req spinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	res, err := h.wheel.Spin(c.Request.Context(), wheel.SpinRequest{
		Wallet:    req.Wallet,
		Variant:   req.Variant,
		PricePaid: req.PricePaid,
		Proof:     req.ProofOfPayment,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type completeRequest struct {
	Wallet    string `json:"wallet" binding:"required"`
	Fulfilled *bool  `json:"fulfilled"`
	Detail    string `json:"detail"`
}

func (h *Handler) Complete(c *gin.Context) {
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	var report *wheel.CompletionReport
	if req.Fulfilled != nil || req.Detail != "" {
		report = &wheel.CompletionReport{Fulfilled: req.Fulfilled, Detail: req.Detail}
	}
	res, err := h.wheel.Complete(c.Request.Context(), req.Wallet, report)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type rewardRequest struct {
	Wallet           string                   `json:"wallet" binding:"required"`
	RewardDescriptor *models.RewardDescriptor `json:"rewardDescriptor"`
}

var rewardKinds = map[string]models.RewardType{
	"tickets": models.RewardTickets,
	"card":    models.RewardCard,
	"pass":    models.RewardPass,
	"deal":    models.RewardDeal,
}

func (h *Handler) Reward(c *gin.Context) {
	kind, ok := rewardKinds[c.Param("kind")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown reward kind"})
		return
	}
	var req rewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	res, err := h.wheel.Fulfill(c.Request.Context(), req.Wallet, kind, req.RewardDescriptor)
	if err != nil {
		h.writeError(c, err)
		return
	}
	body := gin.H{
		"success":       res.Success,
		"grantedDetail": res.Detail,
		"spinId":        res.SpinID,
		"reward":        res.Reward,
	}
	if !res.Success {
		body["warning"] = res.Message
	}
	c.JSON(http.StatusOK, body)
}
