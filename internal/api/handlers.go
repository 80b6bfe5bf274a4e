/**
 * @description
 * HTTP handlers for the checkout API. Each checkout session is driven through
 * start, submit, retry and the manual fallback; failures are reported with the
 * classified error code so the front-end can render the countdown or the manual
 * payment option.
 */
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/directory/payment-service/internal/app"
	"github.com/directory/payment-service/internal/domain"
	"github.com/directory/payment-service/internal/store"
	"github.com/go-chi/chi/v5"
)

// QueueStatusReader exposes the payment queue depth.
type QueueStatusReader interface {
	Status() app.QueueStatus
}

// SubmitLimiter caps submissions per payer across instances.
type SubmitLimiter interface {
	Allow(ctx context.Context, userID string) (app.SubmitDecision, error)
}

// Handler holds the checkout services the handlers interact with.
type Handler struct {
	sessions *app.SessionManager
	queue    QueueStatusReader
	limiter  SubmitLimiter
}

// NewHandler creates a new Handler. limiter may be nil.
func NewHandler(sessions *app.SessionManager, queue QueueStatusReader, limiter SubmitLimiter) *Handler {
	return &Handler{
		sessions: sessions,
		queue:    queue,
		limiter:  limiter,
	}
}

type startSessionRequest struct {
	Package domain.PackageInput `json:"package"`
	Name    string              `json:"name"`
	Email   string              `json:"email"`
	Phone   string              `json:"phone"`
}

type sessionResponse struct {
	app.ControllerView
	Package domain.Package `json:"package"`
	Amounts domain.Amounts `json:"amounts"`
}

type manualResponse struct {
	Record         *domain.ManualPaymentRecord `json:"record"`
	SupportContact *app.SupportContact         `json:"support_contact"`
}

var snapshotKeys = map[string]bool{
	domain.SnapshotKeyPaymentDetails: true,
	domain.SnapshotKeyPaymentError:   true,
	domain.SnapshotKeyManualPayment:  true,
}

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	payer, ok := PayerFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
		return
	}

	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	pkg, err := domain.NewPackage(req.Package)
	if err != nil {
		respondWithAppError(w, err, nil)
		return
	}

	user, err := domain.NewUser(payer.ID, firstNonEmpty(req.Name, payer.Name), firstNonEmpty(payer.Email, req.Email), firstNonEmpty(req.Phone, payer.Phone))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_USER", err.Error())
		return
	}

	ctrl, err := h.sessions.Start(pkg, user)
	if err != nil {
		respondWithAppError(w, err, nil)
		return
	}

	respondWithJSON(w, http.StatusCreated, h.sessionResponse(ctrl))
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.sessionForRequest(w, r)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, h.sessionResponse(ctrl))
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.sessionForRequest(w, r)
	if !ok {
		return
	}

	if h.limiter != nil {
		decision, err := h.limiter.Allow(r.Context(), ctrl.User().ID)
		if err != nil {
			log.Printf("level=warn component=api op=submit msg=\"submit limiter unavailable; allowing request\" session_id=%s err=%v", ctrl.SessionID(), err)
		} else if !decision.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfterSeconds()))
			respondWithError(w, http.StatusTooManyRequests, "SUBMIT_RATE_LIMITED", "Too many payment attempts. Please wait before trying again.")
			return
		}
	}

	form, err := ctrl.Submit(r.Context())
	if err != nil {
		view := ctrl.View()
		log.Printf("level=warn component=api op=submit session_id=%s state=%s err=%v", ctrl.SessionID(), view.State, err)
		respondWithAppError(w, err, &view)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": ctrl.SessionID(),
		"redirect":   form,
	})
}

func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.sessionForRequest(w, r)
	if !ok {
		return
	}
	if err := ctrl.Retry(); err != nil {
		view := ctrl.View()
		respondWithAppError(w, err, &view)
		return
	}
	respondWithJSON(w, http.StatusOK, h.sessionResponse(ctrl))
}

func (h *Handler) handleManualRequest(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.sessionForRequest(w, r)
	if !ok {
		return
	}
	record, contact, err := ctrl.RequestManual(r.Context())
	if err != nil {
		log.Printf("level=error component=api op=manual session_id=%s err=%v", ctrl.SessionID(), err)
		respondWithAppError(w, err, nil)
		return
	}
	respondWithJSON(w, http.StatusCreated, manualResponse{Record: record, SupportContact: contact})
}

func (h *Handler) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.sessionForRequest(w, r)
	if !ok {
		return
	}

	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		key = domain.SnapshotKeyPaymentDetails
	}
	if !snapshotKeys[key] {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Unknown snapshot key")
		return
	}

	raw, err := h.sessions.Snapshot(r.Context(), ctrl.SessionID(), key)
	if err != nil {
		if errors.Is(err, store.ErrSnapshotNotFound) {
			respondWithError(w, http.StatusNotFound, "NOT_FOUND", "Snapshot not found")
			return
		}
		log.Printf("level=error component=api op=snapshot session_id=%s key=%s err=%v", ctrl.SessionID(), key, err)
		respondWithError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load snapshot")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

func (h *Handler) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.queue.Status())
}

func (h *Handler) handleRedirectPage(w http.ResponseWriter, r *http.Request) {
	ctrl, err := h.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Checkout session not found", http.StatusNotFound)
		return
	}
	view := ctrl.View()
	if view.Redirect == nil {
		http.Error(w, "Payment is not ready for redirect", http.StatusConflict)
		return
	}
	renderRedirectPage(w, view.Redirect)
}

func (h *Handler) sessionForRequest(w http.ResponseWriter, r *http.Request) (*app.Controller, bool) {
	payer, ok := PayerFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
		return nil, false
	}
	ctrl, err := h.sessions.GetForUser(chi.URLParam(r, "id"), payer.ID)
	if err != nil {
		respondWithAppError(w, err, nil)
		return nil, false
	}
	return ctrl, true
}

func (h *Handler) sessionResponse(ctrl *app.Controller) sessionResponse {
	amounts, _ := app.ComputeAmounts(ctrl.Package())
	return sessionResponse{
		ControllerView: ctrl.View(),
		Package:        ctrl.Package(),
		Amounts:        amounts,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
