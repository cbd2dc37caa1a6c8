package app

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/lockvault/lockbox-service/internal/store"
)

func TestDepositMovesFundsAndUpdatesBookkeepingInLockstep(t *testing.T) {
	svc, _, ledger, publisher := newTestService(t)
	ctx := context.Background()

	lb := mustInitialize(t, svc, testOwner, 1000)

	var total int64
	for _, amount := range []int64{400, 600, 250} {
		updated, err := svc.Deposit(ctx, testOwner, amount)
		if err != nil {
			t.Fatalf("Deposit(%d) failed: %v", amount, err)
		}
		total += amount
		if updated.DepositedAmount != total {
			t.Fatalf("expected deposited_amount %d, got %d", total, updated.DepositedAmount)
		}
		if got := ledger.balances[lb.VaultAddress]; got != total {
			t.Fatalf("expected vault balance %d, got %d", total, got)
		}
	}

	// Vault balance and bookkeeping never diverge across the sequence, and
	// deposits past the target are accepted.
	if total <= 1000 {
		t.Fatalf("test sequence should exceed target, total %d", total)
	}
	// initialized + three deposits
	if len(publisher.events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(publisher.events))
	}
}

func TestDepositRejectsNonPositiveAmount(t *testing.T) {
	svc, _, ledger, _ := newTestService(t)
	ctx := context.Background()

	lb := mustInitialize(t, svc, testOwner, 1000)

	for _, amount := range []int64{0, -10} {
		if _, err := svc.Deposit(ctx, testOwner, amount); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("amount=%d: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
	if got := ledger.balances[lb.VaultAddress]; got != 0 {
		t.Fatalf("expected untouched vault, got %d", got)
	}
}

func TestDepositRejectsInactiveLockBox(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	mustInitialize(t, svc, testOwner, 1000)
	if _, err := svc.EmergencyWithdraw(ctx, testOwner); err != nil {
		t.Fatalf("EmergencyWithdraw failed: %v", err)
	}

	if _, err := svc.Deposit(ctx, testOwner, 100); !errors.Is(err, store.ErrLockBoxInactive) {
		t.Fatalf("expected ErrLockBoxInactive, got %v", err)
	}
}

func TestDepositRejectsBookkeepingOverflow(t *testing.T) {
	svc, repo, ledger, _ := newTestService(t)
	ctx := context.Background()

	lb := mustInitialize(t, svc, testOwner, 1000)
	repo.setDeposited(t, testOwner, math.MaxInt64-5)

	if _, err := svc.Deposit(ctx, testOwner, 10); !errors.Is(err, store.ErrBookkeepingOverflow) {
		t.Fatalf("expected ErrBookkeepingOverflow, got %v", err)
	}
	// The overflow is detected before any value moves.
	if got := ledger.balances[lb.VaultAddress]; got != 0 {
		t.Fatalf("expected untouched vault, got %d", got)
	}
}

func TestDepositReversedWhenBookkeepingFails(t *testing.T) {
	svc, repo, ledger, _ := newTestService(t)
	ctx := context.Background()

	lb := mustInitialize(t, svc, testOwner, 1000)
	ownerBefore := ledger.balances[testOwner]
	repo.failRecordDeposit = true

	if _, err := svc.Deposit(ctx, testOwner, 500); err == nil {
		t.Fatal("expected deposit to fail")
	}
	if got := ledger.balances[lb.VaultAddress]; got != 0 {
		t.Fatalf("expected compensating reversal to empty vault, got %d", got)
	}
	if got := ledger.balances[testOwner]; got != ownerBefore {
		t.Fatalf("expected owner balance restored to %d, got %d", ownerBefore, got)
	}
}

// stubLimiter drives the rate limit branch deterministically.
type stubLimiter struct {
	count int
	err   error
}

func (s *stubLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	return s.count, 1, s.err
}

func TestDepositRateLimited(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	mustInitialize(t, svc, testOwner, 1000)
	svc.ConfigureRateLimits(2, 0)
	svc.SetRateLimiter(&stubLimiter{count: 3})

	if _, err := svc.Deposit(ctx, testOwner, 100); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestDepositAllowedWhenLimiterUnavailable(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	mustInitialize(t, svc, testOwner, 1000)
	svc.ConfigureRateLimits(2, 0)
	svc.SetRateLimiter(&stubLimiter{err: errors.New("redis down")})

	if _, err := svc.Deposit(ctx, testOwner, 100); err != nil {
		t.Fatalf("expected limiter failure to be non-blocking, got %v", err)
	}
}
