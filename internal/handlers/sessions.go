package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/sokoyetu/payments/internal/session"
)

// recordSessionRequest represents the POST /sessions body, sent by the
// client after a confirmed payment.
type recordSessionRequest struct {
	ServiceType   string `json:"serviceType" validate:"required"`
	ActionType    string `json:"actionType" validate:"required"`
	PhoneNumber   string `json:"phoneNumber"`
	TransactionID string `json:"transactionId"`
}

// ActiveSession handles GET /sessions/active?serviceType=&actionType=.
// It answers purely from the paid_services cookie, no database read.
func (h *Handler) ActiveSession(w http.ResponseWriter, r *http.Request) {
	serviceType := r.URL.Query().Get("serviceType")
	actionType := r.URL.Query().Get("actionType")

	if serviceType == "" || actionType == "" {
		respondFailure(w, http.StatusBadRequest, "serviceType and actionType are required")
		return
	}

	active := h.sessions.HasActivePaidSession(r, serviceType, actionType)
	respondSuccess(w, http.StatusOK, map[string]bool{"active": active})
}

// RecordSession handles POST /sessions.
func (h *Handler) RecordSession(w http.ResponseWriter, r *http.Request) {
	var req recordSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondFailure(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if err := h.validator.Struct(req); err != nil {
		respondFailure(w, http.StatusBadRequest, "validation failed: "+err.Error())
		return
	}

	err := h.sessions.RecordPaymentSession(w, r, session.Entry{
		ServiceType:   req.ServiceType,
		ActionType:    req.ActionType,
		PhoneNumber:   req.PhoneNumber,
		TransactionID: req.TransactionID,
	})
	if err != nil {
		h.log.Errorw("failed to record paid session", "error", err)
		respondFailure(w, http.StatusInternalServerError, "failed to record session")
		return
	}

	respondSuccess(w, http.StatusCreated, map[string]bool{"recorded": true})
}

// ClearSessions handles DELETE /sessions.
func (h *Handler) ClearSessions(w http.ResponseWriter, r *http.Request) {
	h.sessions.ClearPaymentSessions(w)
	respondSuccess(w, http.StatusOK, map[string]bool{"cleared": true})
}
