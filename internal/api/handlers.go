/**
 * @description
 * This file contains the HTTP handlers for the lockbox-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as
 * the bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, errors, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/lockvault/lockbox-service/internal/app"
	"github.com/lockvault/lockbox-service/internal/domain"
	"github.com/lockvault/lockbox-service/internal/store"
)

// LockBoxHandlers holds the application service that handlers will use.
type LockBoxHandlers struct {
	service *app.Service
}

// NewLockBoxHandlers creates a new instance of LockBoxHandlers.
func NewLockBoxHandlers(service *app.Service) *LockBoxHandlers {
	return &LockBoxHandlers{service: service}
}

// InitializeHandler handles requests to create a new lockbox.
func (h *LockBoxHandlers) InitializeHandler(w http.ResponseWriter, r *http.Request) {
	ownerAddress, ok := GetOwnerAddress(r.Context())
	if !ok {
		http.Error(w, "Could not get owner address from context", http.StatusInternalServerError)
		return
	}

	var req domain.InitializeLockBoxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=initialize outcome=reject reason=invalid_json err=%v", err)
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	lb, err := h.service.Initialize(r.Context(), ownerAddress, req.TargetAmount)
	if err != nil {
		log.Printf("level=warn component=api endpoint=initialize outcome=failed owner=%s err=%v", ownerAddress, err)
		h.writeServiceError(w, err)
		return
	}

	log.Printf("level=info component=api endpoint=initialize outcome=created owner=%s lockbox_id=%s target=%d", ownerAddress, lb.ID, lb.TargetAmount)
	h.writeJSON(w, http.StatusCreated, lb)
}

// StatusHandler returns the caller's lockbox record with the live vault balance.
func (h *LockBoxHandlers) StatusHandler(w http.ResponseWriter, r *http.Request) {
	ownerAddress, ok := GetOwnerAddress(r.Context())
	if !ok {
		http.Error(w, "Could not get owner address from context", http.StatusInternalServerError)
		return
	}

	status, err := h.service.Status(r.Context(), ownerAddress)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

// DepositHandler handles requests to deposit value into the vault.
func (h *LockBoxHandlers) DepositHandler(w http.ResponseWriter, r *http.Request) {
	ownerAddress, ok := GetOwnerAddress(r.Context())
	if !ok {
		http.Error(w, "Could not get owner address from context", http.StatusInternalServerError)
		return
	}

	var req domain.DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=deposit outcome=reject reason=invalid_json err=%v", err)
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	lb, err := h.service.Deposit(r.Context(), ownerAddress, req.Amount)
	if err != nil {
		log.Printf("level=warn component=api endpoint=deposit outcome=failed owner=%s amount=%d err=%v", ownerAddress, req.Amount, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, lb)
}

// WithdrawHandler handles requests to withdraw value once the target is reached.
func (h *LockBoxHandlers) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	ownerAddress, ok := GetOwnerAddress(r.Context())
	if !ok {
		http.Error(w, "Could not get owner address from context", http.StatusInternalServerError)
		return
	}

	var req domain.WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=withdraw outcome=reject reason=invalid_json err=%v", err)
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	result, err := h.service.Withdraw(r.Context(), ownerAddress, req.Amount)
	if err != nil {
		log.Printf("level=warn component=api endpoint=withdraw outcome=failed owner=%s amount=%d err=%v", ownerAddress, req.Amount, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// EmergencyWithdrawHandler handles requests to drain the vault and permanently
// deactivate the lockbox.
func (h *LockBoxHandlers) EmergencyWithdrawHandler(w http.ResponseWriter, r *http.Request) {
	ownerAddress, ok := GetOwnerAddress(r.Context())
	if !ok {
		http.Error(w, "Could not get owner address from context", http.StatusInternalServerError)
		return
	}

	result, err := h.service.EmergencyWithdraw(r.Context(), ownerAddress)
	if err != nil {
		log.Printf("level=warn component=api endpoint=emergency_withdraw outcome=failed owner=%s err=%v", ownerAddress, err)
		h.writeServiceError(w, err)
		return
	}

	log.Printf("level=info component=api endpoint=emergency_withdraw outcome=completed owner=%s amount=%d", ownerAddress, result.AmountWithdrawn)
	h.writeJSON(w, http.StatusOK, result)
}

// CloseHandler handles requests to destroy an empty lockbox and reclaim rent.
func (h *LockBoxHandlers) CloseHandler(w http.ResponseWriter, r *http.Request) {
	ownerAddress, ok := GetOwnerAddress(r.Context())
	if !ok {
		http.Error(w, "Could not get owner address from context", http.StatusInternalServerError)
		return
	}

	result, err := h.service.Close(r.Context(), ownerAddress)
	if err != nil {
		log.Printf("level=warn component=api endpoint=close outcome=failed owner=%s err=%v", ownerAddress, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// writeServiceError maps service-layer sentinel errors onto HTTP statuses. The
// caller always receives the specific failure kind.
func (h *LockBoxHandlers) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidTarget), errors.Is(err, app.ErrInvalidAmount):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrLockBoxNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrAlreadyInitialized):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrLockBoxInactive):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrTargetNotReached):
		h.writeError(w, http.StatusPreconditionFailed, err.Error())
	case errors.Is(err, app.ErrInsufficientBalance):
		h.writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, store.ErrBookkeepingOverflow):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, app.ErrUnauthorized), errors.Is(err, app.ErrVaultMismatch):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrRateLimited):
		h.writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *LockBoxHandlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("level=error component=api msg=\"failed to encode response\" err=%v", err)
	}
}

func (h *LockBoxHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
