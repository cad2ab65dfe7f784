package handler

import (
	"context"

	apprecon "github.com/finflow/reconciler/internal/application/recon"
	"github.com/finflow/reconciler/internal/domain/recon"
	"github.com/finflow/reconciler/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const defaultAuditLimit = 20

// ReconciliationTrigger runs reconciliation attempts on demand
type ReconciliationTrigger interface {
	OnEventReady(ctx context.Context, eventID uuid.UUID) error
	RunSweep(ctx context.Context) (apprecon.SweepResult, error)
}

// ReconciliationHandler exposes the reconciliation trigger and read surface
type ReconciliationHandler struct {
	BaseHandler
	trigger ReconciliationTrigger
	events  recon.EventRepository
	audits  recon.AuditLogRepository
}

// NewReconciliationHandler creates a new ReconciliationHandler
func NewReconciliationHandler(trigger ReconciliationTrigger, events recon.EventRepository, audits recon.AuditLogRepository) *ReconciliationHandler {
	return &ReconciliationHandler{
		trigger: trigger,
		events:  events,
		audits:  audits,
	}
}

// RegisterRoutes registers reconciliation routes
func (h *ReconciliationHandler) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group("/reconciliation")
	{
		group.POST("/events/:id/trigger", h.TriggerEvent)
		group.POST("/sweep", h.TriggerSweep)
		group.GET("/events/:id", h.GetEvent)
		group.GET("/events/:id/audit", h.GetEventAudit)
		group.GET("/audit", h.ListAuditByAction)
	}
}

// TriggerEvent runs one reconciliation attempt for a single event and
// returns the event's resulting state. A row lock held elsewhere is not an
// error; the response then simply shows the event as it currently stands.
func (h *ReconciliationHandler) TriggerEvent(c *gin.Context) {
	eventID, ok := h.parseEventID(c)
	if !ok {
		return
	}

	if err := h.trigger.OnEventReady(c.Request.Context(), eventID); err != nil {
		h.HandleError(c, err)
		return
	}

	event, err := h.events.FindByID(c.Request.Context(), eventID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if event == nil {
		h.NotFound(c, "Event not found")
		return
	}
	h.Success(c, event)
}

// TriggerSweep runs one sweep cycle over unreconciled events
func (h *ReconciliationHandler) TriggerSweep(c *gin.Context) {
	result, err := h.trigger.RunSweep(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// GetEvent returns a single business event
func (h *ReconciliationHandler) GetEvent(c *gin.Context) {
	eventID, ok := h.parseEventID(c)
	if !ok {
		return
	}

	event, err := h.events.FindByID(c.Request.Context(), eventID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if event == nil {
		h.NotFound(c, "Event not found")
		return
	}
	h.Success(c, event)
}

// GetEventAudit returns the audit trail for one business event
func (h *ReconciliationHandler) GetEventAudit(c *gin.Context) {
	eventID, ok := h.parseEventID(c)
	if !ok {
		return
	}

	limit := h.parseLimit(c)
	entries, err := h.audits.FindByEntityID(c.Request.Context(), eventID, limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, entries)
}

// ListAuditByAction returns recent audit entries for one action
func (h *ReconciliationHandler) ListAuditByAction(c *gin.Context) {
	action := recon.AuditAction(c.Query("action"))
	switch action {
	case recon.AuditActionReconcileSuccess, recon.AuditActionReconcilePartial, recon.AuditActionReconcileNoMatch:
	default:
		h.BadRequest(c, "Unknown audit action")
		return
	}

	limit := h.parseLimit(c)
	entries, err := h.audits.FindByAction(c.Request.Context(), action, limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, entries)
}

// parseEventID binds and parses the :id path parameter
func (h *ReconciliationHandler) parseEventID(c *gin.Context) (uuid.UUID, bool) {
	var req dto.IDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		h.BadRequest(c, "Invalid event ID")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(req.ID)
	if err != nil {
		h.BadRequest(c, "Invalid event ID")
		return uuid.Nil, false
	}
	return id, true
}

// parseLimit binds the optional limit query parameter
func (h *ReconciliationHandler) parseLimit(c *gin.Context) int {
	var req dto.LimitRequest
	if err := c.ShouldBindQuery(&req); err != nil || req.Limit == 0 {
		return defaultAuditLimit
	}
	return req.Limit
}
