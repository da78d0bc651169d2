package handlers

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"

	"lucky-wheel/internal/auth"
	"lucky-wheel/internal/catalog"
	"lucky-wheel/internal/database"
	"lucky-wheel/internal/middleware"
	"lucky-wheel/internal/pending"
	"lucky-wheel/internal/quota"
	adminsvc "lucky-wheel/internal/services/admin"
)

type adminLoginRequest struct {
	Password string `json:"password"`
	Code     string `json:"code"`
}

func (h *Handler) AdminLogin(c *gin.Context) {
	var req adminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.cfg.AdminPassword)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if ok := totp.Validate(req.Code, h.cfg.AdminTOTPSecret); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid totp"})
		return
	}
	token, err := h.jwt.IssueToken("admin", auth.RoleAdmin, 4*time.Hour)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token failed"})
		return
	}
	h.logger.Info("admin login", "ip", c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (h *Handler) GetQuota(c *gin.Context) {
	ctx := c.Request.Context()
	snap, err := h.ledger.Peek(ctx)
	if err != nil {
		h.logger.Error("peek quota failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "quota unavailable"})
		return
	}
	schedule, err := h.store.LoadQuotaSchedule(ctx)
	if err != nil {
		h.logger.Warn("load quota schedule failed", "error", err)
	}
	c.JSON(http.StatusOK, gin.H{"quota": snap, "schedule": schedule})
}

type quotaUpdateRequest struct {
	Value *int `json:"value" binding:"required"`
}

func (h *Handler) UpdateQuota(c *gin.Context) {
	var req quotaUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil || *req.Value < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "daily limit must be a non-negative integer"})
		return
	}
	snap, err := h.ledger.SetLimit(c.Request.Context(), *req.Value)
	if err != nil {
		if errors.Is(err, quota.ErrInvalidLimit) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("update quota failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "quota update failed"})
		return
	}
	h.logger.Info("daily limit updated", "limit", snap.Limit, "author", author(c))
	c.JSON(http.StatusOK, gin.H{"quota": snap})
}

type quotaScheduleRequest struct {
	Target       int       `json:"target"`
	ApplyAt      time.Time `json:"applyAt"`
	DelayMinutes int       `json:"delayMinutes"`
	Message      string    `json:"message"`
}

func (h *Handler) ScheduleQuota(c *gin.Context) {
	var req quotaScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Target < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	var applyAt time.Time
	if !req.ApplyAt.IsZero() {
		applyAt = req.ApplyAt
	} else if req.DelayMinutes > 0 {
		applyAt = time.Now().Add(time.Duration(req.DelayMinutes) * time.Minute)
	} else {
		c.JSON(http.StatusBadRequest, gin.H{"error": "applyAt or delayMinutes is required"})
		return
	}
	schedule := database.QuotaSchedule{
		Target:    req.Target,
		ApplyAt:   applyAt.UTC(),
		Author:    author(c),
		Message:   req.Message,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.SaveQuotaSchedule(c.Request.Context(), schedule); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "schedule save failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scheduled": schedule})
}

func author(c *gin.Context) string {
	if claims := middleware.ClaimsFromContext(c); claims != nil && claims.Subject != "" {
		return claims.Subject
	}
	return "admin"
}

func (h *Handler) GetCatalog(c *gin.Context) {
	cat, err := h.catalogs.Get(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "catalog read failed"})
		return
	}
	c.JSON(http.StatusOK, cat)
}

// UpdateCatalog stores a validated override. The version must change so
// cached selection tables are rebuilt.
func (h *Handler) UpdateCatalog(c *gin.Context) {
	var payload catalog.Catalog
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid catalog payload"})
		return
	}
	if err := payload.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	if current, err := h.catalogs.Get(ctx); err == nil && current.Version == payload.Version {
		c.JSON(http.StatusBadRequest, gin.H{"error": "catalog version must change"})
		return
	}
	if err := h.store.SaveCatalog(ctx, &payload); err != nil {
		h.logger.Error("save catalog failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
		return
	}
	h.catalogs.Invalidate()
	h.logger.Info("catalog updated", "version", payload.Version, "author", author(c))
	c.JSON(http.StatusOK, gin.H{"version": payload.Version})
}

func (h *Handler) AdminListSpins(c *gin.Context) {
	limit, offset := parsePagination(c, 50, 0)
	wallet := c.Query("wallet")
	if wallet != "" {
		w, err := pending.NormalizeWallet(wallet)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wallet"})
			return
		}
		wallet = w
	}
	records, total, err := h.store.ListSpinRecords(c.Request.Context(), wallet, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read spin records"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"total":   total,
	})
}

func (h *Handler) AdminGetPending(c *gin.Context) {
	rec, err := h.tracker.Get(c.Request.Context(), c.Param("wallet"))
	if err != nil {
		if errors.Is(err, pending.ErrInvalidWallet) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wallet"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read pending state"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": rec, "leaseExpired": h.tracker.LeaseExpired(rec)})
}

func (h *Handler) AdminClearPending(c *gin.Context) {
	res, err := h.wheel.Complete(c.Request.Context(), c.Param("wallet"), nil)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.logger.Info("pending spin cleared by admin", "wallet", c.Param("wallet"), "author", author(c))
	c.JSON(http.StatusOK, res)
}

func (h *Handler) EnvList(c *gin.Context) {
	values, err := h.env.Editable()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "env read failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"env": values})
}

func (h *Handler) EnvUpdate(c *gin.Context) {
	payload := map[string]string{}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	written, err := h.env.Update(payload)
	if err != nil {
		if errors.Is(err, adminsvc.ErrNoEditableKeys) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no valid keys"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	h.logger.Info("env updated", "keys", written, "author", author(c))
	c.JSON(http.StatusOK, gin.H{"updated": written})
}

func parsePagination(c *gin.Context, defaultLimit, defaultOffset int) (int, int) {
	limit := defaultLimit
	offset := defaultOffset
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}
