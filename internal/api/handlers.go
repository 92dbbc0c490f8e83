package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/t77yq/market-watch/internal/model"
	"github.com/t77yq/market-watch/internal/storage"
)

// Handlers serves the alert CRUD surface
type Handlers struct {
	alerts storage.AlertStore
	prefs  storage.PreferenceStore
	logger *zap.Logger
}

// NewHandlers creates new API handlers
func NewHandlers(alerts storage.AlertStore, prefs storage.PreferenceStore, logger *zap.Logger) *Handlers {
	return &Handlers{
		alerts: alerts,
		prefs:  prefs,
		logger: logger.Named("api"),
	}
}

// HealthCheck reports liveness
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// CreateAlert handles POST /alerts
func (h *Handlers) CreateAlert(c *gin.Context) {
	var req CreateAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	alertType, err := model.ParseAlertType(req.Type)
	if err != nil {
		badRequest(c, err)
		return
	}
	rule, err := decodeRule(alertType, req.Rule)
	if err != nil {
		badRequest(c, err)
		return
	}

	alert := &model.Alert{
		OwnerID:     c.Param("owner"),
		Name:        req.Name,
		Description: req.Description,
		Rule:        rule,
	}
	if req.Priority != "" {
		if alert.Priority, err = model.ParsePriority(req.Priority); err != nil {
			badRequest(c, err)
			return
		}
	}

	created, err := h.alerts.Create(c.Request.Context(), alert)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.logger.Info("Alert created",
		zap.String("alert_id", created.ID),
		zap.String("owner_id", created.OwnerID),
		zap.String("type", string(created.Type())))
	c.JSON(http.StatusCreated, newAlertResponse(created))
}

// ListAlerts handles GET /alerts
func (h *Handlers) ListAlerts(c *gin.Context) {
	var filter storage.AlertFilter
	if s := c.Query("status"); s != "" {
		status, err := model.ParseAlertStatus(s)
		if err != nil {
			badRequest(c, err)
			return
		}
		filter.Status = status
	}
	if s := c.Query("type"); s != "" {
		t, err := model.ParseAlertType(s)
		if err != nil {
			badRequest(c, err)
			return
		}
		filter.Type = t
	}
	if s := c.Query("enabled"); s != "" {
		enabled, err := strconv.ParseBool(s)
		if err != nil {
			badRequest(c, err)
			return
		}
		filter.Enabled = &enabled
	}
	filter.AssetSymbol = c.Query("asset_symbol")

	sort := storage.AlertSort{Field: c.Query("sort"), Desc: c.Query("order") == "desc"}

	alerts, err := h.alerts.Query(c.Request.Context(), c.Param("owner"), filter, sort)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": newAlertResponses(alerts)})
}

// GetAlert handles GET /alerts/:id
func (h *Handlers) GetAlert(c *gin.Context) {
	alert, err := h.alerts.Get(c.Request.Context(), c.Param("id"), c.Param("owner"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newAlertResponse(alert))
}

// UpdateAlert handles PATCH /alerts/:id
func (h *Handlers) UpdateAlert(c *gin.Context) {
	var req UpdateAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	id, owner := c.Param("id"), c.Param("owner")
	patch := storage.AlertPatch{
		Name:        req.Name,
		Description: req.Description,
		IsEnabled:   req.IsEnabled,
	}
	if req.Priority != nil {
		p, err := model.ParsePriority(*req.Priority)
		if err != nil {
			badRequest(c, err)
			return
		}
		patch.Priority = &p
	}
	if req.Status != nil {
		s, err := model.ParseAlertStatus(*req.Status)
		if err != nil {
			badRequest(c, err)
			return
		}
		patch.Status = &s
	}
	if len(req.Rule) > 0 {
		current, err := h.alerts.Get(ctx, id, owner)
		if err != nil {
			h.fail(c, err)
			return
		}
		rule, err := decodeRule(current.Type(), req.Rule)
		if err != nil {
			badRequest(c, err)
			return
		}
		patch.Rule = rule
	}

	updated, err := h.alerts.Update(ctx, id, owner, patch)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newAlertResponse(updated))
}

// DeleteAlert handles DELETE /alerts/:id
func (h *Handlers) DeleteAlert(c *gin.Context) {
	if err := h.alerts.Delete(c.Request.Context(), c.Param("id"), c.Param("owner")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListAlertTriggers handles GET /alerts/:id/triggers
func (h *Handlers) ListAlertTriggers(c *gin.Context) {
	ctx := c.Request.Context()
	if _, err := h.alerts.Get(ctx, c.Param("id"), c.Param("owner")); err != nil {
		h.fail(c, err)
		return
	}
	h.listTriggers(c, c.Param("id"))
}

// ListTriggers handles GET /triggers
func (h *Handlers) ListTriggers(c *gin.Context) {
	h.listTriggers(c, c.Query("alert_id"))
}

func (h *Handlers) listTriggers(c *gin.Context, alertID string) {
	filter := storage.TriggerFilter{AlertID: alertID}
	if s := c.Query("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			badRequest(c, err)
			return
		}
		filter.Since = since
	}
	if s := c.Query("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			badRequest(c, errors.New("limit must be a non-negative integer"))
			return
		}
		filter.Limit = limit
	}

	triggers, err := h.alerts.ListTriggers(c.Request.Context(), c.Param("owner"), filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": triggers})
}

// GetStats handles GET /stats
func (h *Handlers) GetStats(c *gin.Context) {
	stats, err := h.alerts.Stats(c.Request.Context(), c.Param("owner"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetPreferences handles GET /preferences
func (h *Handlers) GetPreferences(c *gin.Context) {
	pref, err := h.prefs.Get(c.Request.Context(), c.Param("owner"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pref)
}

// PutPreferences handles PUT /preferences
func (h *Handlers) PutPreferences(c *gin.Context) {
	var pref model.NotificationPreference
	if err := c.ShouldBindJSON(&pref); err != nil {
		badRequest(c, err)
		return
	}
	pref.OwnerID = c.Param("owner")

	if err := h.prefs.Put(c.Request.Context(), pref); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pref)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// fail maps store errors to status codes
func (h *Handlers) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
	case errors.Is(err, storage.ErrInvalidAlert), errors.Is(err, storage.ErrInvalidQuery):
		badRequest(c, err)
	default:
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
