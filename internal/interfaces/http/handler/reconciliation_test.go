package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apprecon "github.com/finflow/reconciler/internal/application/recon"
	"github.com/finflow/reconciler/internal/domain/recon"
	"github.com/finflow/reconciler/internal/domain/shared"
	"github.com/finflow/reconciler/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubTrigger implements ReconciliationTrigger for handler tests
type stubTrigger struct {
	onEventReadyErr error
	sweepResult     apprecon.SweepResult
	sweepErr        error
	triggeredID     uuid.UUID
}

func (s *stubTrigger) OnEventReady(ctx context.Context, eventID uuid.UUID) error {
	s.triggeredID = eventID
	return s.onEventReadyErr
}

func (s *stubTrigger) RunSweep(ctx context.Context) (apprecon.SweepResult, error) {
	return s.sweepResult, s.sweepErr
}

// stubEventReader implements the read side of recon.EventRepository
type stubEventReader struct {
	recon.EventRepository
	event *recon.BusinessEvent
	err   error
}

func (s *stubEventReader) FindByID(ctx context.Context, id uuid.UUID) (*recon.BusinessEvent, error) {
	return s.event, s.err
}

// stubAuditReader implements the read side of recon.AuditLogRepository
type stubAuditReader struct {
	recon.AuditLogRepository
	entries []recon.AuditLogEntry
	err     error
}

func (s *stubAuditReader) FindByEntityID(ctx context.Context, entityID uuid.UUID, limit int) ([]recon.AuditLogEntry, error) {
	return s.entries, s.err
}

func (s *stubAuditReader) FindByAction(ctx context.Context, action recon.AuditAction, limit int) ([]recon.AuditLogEntry, error) {
	return s.entries, s.err
}

func reconciledEvent() *recon.BusinessEvent {
	matchID := uuid.New()
	now := time.Now()
	return &recon.BusinessEvent{
		ID:                        uuid.New(),
		Kind:                      recon.EventKindInvoiceReceived,
		AmountMinor:               100000,
		Currency:                  "USD",
		State:                     recon.StateReconciled,
		ReconciliationMatchID:     &matchID,
		ReconciliationAttemptedAt: &now,
		Metadata:                  recon.EventMetadata{InvoiceNumber: "INV-001"},
	}
}

func setupRouter(h *ReconciliationHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	h.RegisterRoutes(engine.Group("/api/v1"))
	return engine
}

func TestReconciliationHandler_TriggerEvent(t *testing.T) {
	t.Run("returns the event after a successful attempt", func(t *testing.T) {
		event := reconciledEvent()
		trigger := &stubTrigger{}
		h := NewReconciliationHandler(trigger, &stubEventReader{event: event}, &stubAuditReader{})
		router := setupRouter(h)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/reconciliation/events/"+event.ID.String()+"/trigger", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, event.ID, trigger.triggeredID)

		var resp dto.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
	})

	t.Run("rejects malformed event IDs", func(t *testing.T) {
		h := NewReconciliationHandler(&stubTrigger{}, &stubEventReader{}, &stubAuditReader{})
		router := setupRouter(h)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/reconciliation/events/not-a-uuid/trigger", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("returns 404 for unknown events", func(t *testing.T) {
		trigger := &stubTrigger{onEventReadyErr: shared.ErrNotFound}
		h := NewReconciliationHandler(trigger, &stubEventReader{}, &stubAuditReader{})
		router := setupRouter(h)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/reconciliation/events/"+uuid.NewString()+"/trigger", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("returns 422 for ineligible events", func(t *testing.T) {
		trigger := &stubTrigger{onEventReadyErr: recon.ErrNotEligible}
		h := NewReconciliationHandler(trigger, &stubEventReader{}, &stubAuditReader{})
		router := setupRouter(h)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/reconciliation/events/"+uuid.NewString()+"/trigger", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

		var resp dto.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.NotNil(t, resp.Error)
		assert.Equal(t, dto.ErrCodeInvalidState, resp.Error.Code)
	})

	t.Run("returns 500 for store failures", func(t *testing.T) {
		trigger := &stubTrigger{onEventReadyErr: errors.New("connection reset")}
		h := NewReconciliationHandler(trigger, &stubEventReader{}, &stubAuditReader{})
		router := setupRouter(h)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/reconciliation/events/"+uuid.NewString()+"/trigger", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestReconciliationHandler_TriggerSweep(t *testing.T) {
	trigger := &stubTrigger{sweepResult: apprecon.SweepResult{Scanned: 3, Reconciled: 2, Unmatched: 1}}
	h := NewReconciliationHandler(trigger, &stubEventReader{}, &stubAuditReader{})
	router := setupRouter(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reconciliation/sweep", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool                 `json:"success"`
		Data    apprecon.SweepResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Data.Scanned)
	assert.Equal(t, 2, resp.Data.Reconciled)
}

func TestReconciliationHandler_GetEvent(t *testing.T) {
	t.Run("returns an existing event", func(t *testing.T) {
		event := reconciledEvent()
		h := NewReconciliationHandler(&stubTrigger{}, &stubEventReader{event: event}, &stubAuditReader{})
		router := setupRouter(h)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/reconciliation/events/"+event.ID.String(), nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("returns 404 for a missing event", func(t *testing.T) {
		h := NewReconciliationHandler(&stubTrigger{}, &stubEventReader{}, &stubAuditReader{})
		router := setupRouter(h)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/reconciliation/events/"+uuid.NewString(), nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestReconciliationHandler_GetEventAudit(t *testing.T) {
	entries := []recon.AuditLogEntry{
		*recon.NewAuditEntry(recon.AuditActionReconcileSuccess, uuid.New(), recon.MatchResult{Type: recon.MatchTypePrimary}),
	}
	h := NewReconciliationHandler(&stubTrigger{}, &stubEventReader{}, &stubAuditReader{entries: entries})
	router := setupRouter(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/reconciliation/events/"+uuid.NewString()+"/audit", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReconciliationHandler_ListAuditByAction(t *testing.T) {
	t.Run("returns entries for a known action", func(t *testing.T) {
		entries := []recon.AuditLogEntry{
			*recon.NewAuditEntry(recon.AuditActionReconcileNoMatch, uuid.New(), recon.MatchResult{Type: recon.MatchTypeNone}),
		}
		h := NewReconciliationHandler(&stubTrigger{}, &stubEventReader{}, &stubAuditReader{entries: entries})
		router := setupRouter(h)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/reconciliation/audit?action=RECONCILE_NO_MATCH", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("rejects unknown actions", func(t *testing.T) {
		h := NewReconciliationHandler(&stubTrigger{}, &stubEventReader{}, &stubAuditReader{})
		router := setupRouter(h)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/reconciliation/audit?action=DROP_TABLES", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
