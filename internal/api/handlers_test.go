package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lockvault/lockbox-service/internal/app"
	"github.com/lockvault/lockbox-service/internal/domain"
	"github.com/lockvault/lockbox-service/internal/store"
)

const testOwner = "acct_handler_owner"

// memRepo is a minimal in-memory store.Repository for handler tests.
type memRepo struct {
	byID    map[uuid.UUID]*domain.LockBox
	byOwner map[string]uuid.UUID
}

func newMemRepo() *memRepo {
	return &memRepo{byID: map[uuid.UUID]*domain.LockBox{}, byOwner: map[string]uuid.UUID{}}
}

func (r *memRepo) CreateLockBox(ctx context.Context, lb *domain.LockBox) error {
	if _, exists := r.byOwner[lb.OwnerAddress]; exists {
		return store.ErrAlreadyInitialized
	}
	now := time.Now().UTC()
	lb.CreatedAt = now
	lb.UpdatedAt = now
	stored := *lb
	r.byID[lb.ID] = &stored
	r.byOwner[lb.OwnerAddress] = lb.ID
	return nil
}

func (r *memRepo) FindLockBoxByOwner(ctx context.Context, ownerAddress string) (*domain.LockBox, error) {
	id, ok := r.byOwner[ownerAddress]
	if !ok {
		return nil, store.ErrLockBoxNotFound
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *memRepo) RecordDeposit(ctx context.Context, lockboxID uuid.UUID, amount int64) (*domain.LockBox, error) {
	lb, ok := r.byID[lockboxID]
	if !ok {
		return nil, store.ErrLockBoxNotFound
	}
	if !lb.Active {
		return nil, store.ErrLockBoxInactive
	}
	lb.DepositedAmount += amount
	cp := *lb
	return &cp, nil
}

func (r *memRepo) TouchLockBox(ctx context.Context, lockboxID uuid.UUID) error { return nil }

func (r *memRepo) DeactivateLockBox(ctx context.Context, lockboxID uuid.UUID) (*domain.LockBox, error) {
	lb, ok := r.byID[lockboxID]
	if !ok || !lb.Active {
		return nil, store.ErrLockBoxInactive
	}
	lb.Active = false
	lb.DepositedAmount = 0
	cp := *lb
	return &cp, nil
}

func (r *memRepo) DeleteLockBox(ctx context.Context, lockboxID uuid.UUID) error {
	lb, ok := r.byID[lockboxID]
	if !ok {
		return store.ErrLockBoxNotFound
	}
	delete(r.byOwner, lb.OwnerAddress)
	delete(r.byID, lockboxID)
	return nil
}

// memLedger is a minimal in-memory app.Ledger for handler tests.
type memLedger struct {
	balances map[string]int64
}

func newMemLedger() *memLedger {
	return &memLedger{balances: map[string]int64{testOwner: 1_000_000}}
}

func (l *memLedger) GetBalance(ctx context.Context, address string) (int64, error) {
	return l.balances[address], nil
}

func (l *memLedger) Transfer(ctx context.Context, from, to string, amount int64, reason string) error {
	if l.balances[from] < amount {
		return fmt.Errorf("insufficient ledger balance on %s", from)
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	return nil
}

func (l *memLedger) CreateAccount(ctx context.Context, address string) error { return nil }

func newTestHandlers(t *testing.T) (*LockBoxHandlers, *app.Service) {
	t.Helper()
	svc := app.NewService(newMemRepo(), newMemLedger(), nil, 2400)
	return NewLockBoxHandlers(svc), svc
}

func doRequest(t *testing.T, handler http.HandlerFunc, method, body string, withOwner bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, "/", reader)
	if withOwner {
		req = req.WithContext(ContextWithOwnerAddress(req.Context(), testOwner))
	}
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestInitializeHandlerCreatesLockBox(t *testing.T) {
	h, _ := newTestHandlers(t)

	rec := doRequest(t, h.InitializeHandler, http.MethodPost, `{"target_amount":1000}`, true)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var lb domain.LockBox
	if err := json.NewDecoder(rec.Body).Decode(&lb); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if lb.OwnerAddress != testOwner || lb.TargetAmount != 1000 || !lb.Active {
		t.Fatalf("unexpected lockbox in response: %+v", lb)
	}
}

func TestInitializeHandlerRejectsMissingAuthContext(t *testing.T) {
	h, _ := newTestHandlers(t)

	rec := doRequest(t, h.InitializeHandler, http.MethodPost, `{"target_amount":1000}`, false)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestInitializeHandlerRejectsInvalidJSON(t *testing.T) {
	h, _ := newTestHandlers(t)

	rec := doRequest(t, h.InitializeHandler, http.MethodPost, `{"target_amount":`, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestInitializeHandlerMapsZeroTargetToBadRequest(t *testing.T) {
	h, _ := newTestHandlers(t)

	rec := doRequest(t, h.InitializeHandler, http.MethodPost, `{"target_amount":0}`, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestInitializeHandlerMapsDuplicateToConflict(t *testing.T) {
	h, _ := newTestHandlers(t)

	if rec := doRequest(t, h.InitializeHandler, http.MethodPost, `{"target_amount":1000}`, true); rec.Code != http.StatusCreated {
		t.Fatalf("first initialize failed: %d", rec.Code)
	}
	rec := doRequest(t, h.InitializeHandler, http.MethodPost, `{"target_amount":1000}`, true)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestStatusHandlerMapsMissingLockBoxToNotFound(t *testing.T) {
	h, _ := newTestHandlers(t)

	rec := doRequest(t, h.StatusHandler, http.MethodGet, "", true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestWithdrawHandlerMapsTargetNotReachedToPreconditionFailed(t *testing.T) {
	h, _ := newTestHandlers(t)

	doRequest(t, h.InitializeHandler, http.MethodPost, `{"target_amount":1000}`, true)
	doRequest(t, h.DepositHandler, http.MethodPost, `{"amount":400}`, true)

	rec := doRequest(t, h.WithdrawHandler, http.MethodPost, `{"amount":100}`, true)
	if rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("expected 412, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDepositHandlerMapsInactiveLockBoxToConflict(t *testing.T) {
	h, _ := newTestHandlers(t)

	doRequest(t, h.InitializeHandler, http.MethodPost, `{"target_amount":1000}`, true)
	if rec := doRequest(t, h.EmergencyWithdrawHandler, http.MethodPost, "", true); rec.Code != http.StatusOK {
		t.Fatalf("emergency withdraw failed: %d: %s", rec.Code, rec.Body.String())
	}

	rec := doRequest(t, h.DepositHandler, http.MethodPost, `{"amount":100}`, true)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestCloseHandlerMapsFundedVaultToPaymentRequired(t *testing.T) {
	h, _ := newTestHandlers(t)

	doRequest(t, h.InitializeHandler, http.MethodPost, `{"target_amount":1000}`, true)
	doRequest(t, h.DepositHandler, http.MethodPost, `{"amount":100}`, true)

	rec := doRequest(t, h.CloseHandler, http.MethodDelete, "", true)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCloseHandlerSucceedsOnEmptyVault(t *testing.T) {
	h, _ := newTestHandlers(t)

	doRequest(t, h.InitializeHandler, http.MethodPost, `{"target_amount":1000}`, true)

	rec := doRequest(t, h.CloseHandler, http.MethodDelete, "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result domain.CloseResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.RentReturned != 2400 {
		t.Fatalf("expected rent 2400 returned, got %d", result.RentReturned)
	}
}
