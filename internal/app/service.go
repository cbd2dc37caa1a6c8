/**
 * @description
 * This file contains the core business logic for the lockbox-service. The `Service`
 * struct implements the five-operation lockbox state machine (initialize, deposit,
 * withdraw, emergency withdraw, close), coordinating between the database repository,
 * the ledger host client, and the message broker.
 *
 * Key rules enforced here:
 * - Every mutating operation verifies the caller identity against the record owner.
 * - The record and vault addresses are re-derived from the caller identity on
 *   every operation; a row whose stored addresses do not match the canonical
 *   derivation chain is rejected.
 * - All preconditions are checked before the first ledger transfer. If bookkeeping
 *   fails after a transfer, a compensating reverse transfer is attempted.
 * - The vault's live balance on the ledger host is authoritative; deposited_amount
 *   records the historical total ever deposited and never decreases on withdrawal.
 *
 * @dependencies
 * - context, errors, fmt, log, math, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/derive, pkg/rabbitmq: For address derivation and event publishing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/lockvault/lockbox-service/internal/domain"
	"github.com/lockvault/lockbox-service/internal/store"
	"github.com/lockvault/lockbox-service/pkg/derive"
	"github.com/lockvault/lockbox-service/pkg/rabbitmq"
)

var (
	ErrUnauthorized        = errors.New("caller is not the lockbox owner")
	ErrInvalidTarget       = errors.New("target amount must be greater than zero")
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrTargetNotReached    = errors.New("savings target has not been reached")
	ErrInsufficientBalance = errors.New("requested amount exceeds vault balance")
	ErrVaultMismatch       = errors.New("stored address does not match canonical derivation")
	ErrRateLimited         = errors.New("rate limit exceeded")
)

// Ledger is the subset of ledger host operations the service depends on. The
// concrete implementation lives in pkg/ledgerclient.
type Ledger interface {
	GetBalance(ctx context.Context, address string) (int64, error)
	Transfer(ctx context.Context, from, to string, amount int64, reason string) error
	CreateAccount(ctx context.Context, address string) error
}

// Service provides the core business logic for lockbox operations.
type Service struct {
	repo             store.Repository
	ledger           Ledger
	eventProducer    rabbitmq.Publisher
	recordRentAmount int64

	rateLimiter                RateLimiter
	depositRateLimitPerMinute  int
	withdrawRateLimitPerMinute int
}

// NewService creates a new lockbox service instance.
func NewService(repo store.Repository, ledger Ledger, producer rabbitmq.Publisher, recordRentAmount int64) *Service {
	return &Service{
		repo:             repo,
		ledger:           ledger,
		eventProducer:    producer,
		recordRentAmount: recordRentAmount,
	}
}

// ConfigureRateLimits sets the per-owner fixed-window limits applied to the
// mutating endpoints. A zero limit disables the corresponding check.
func (s *Service) ConfigureRateLimits(depositPerMinute, withdrawPerMinute int) {
	s.depositRateLimitPerMinute = depositPerMinute
	s.withdrawRateLimitPerMinute = withdrawPerMinute
}

// SetRateLimiter installs a distributed rate limiter. When none is installed,
// rate limiting is skipped entirely.
func (s *Service) SetRateLimiter(limiter RateLimiter) {
	s.rateLimiter = limiter
}

// Initialize creates a new lockbox and its vault for a caller who does not yet
// own one. The record rent allowance is moved from the owner to the derived
// record account so closure can return it later.
func (s *Service) Initialize(ctx context.Context, ownerAddress string, targetAmount int64) (*domain.LockBox, error) {
	if targetAmount <= 0 {
		return nil, ErrInvalidTarget
	}

	// A caller can hold at most one lockbox at the address derived from their
	// identity. The unique constraint on owner_address backstops this check.
	_, err := s.repo.FindLockBoxByOwner(ctx, ownerAddress)
	if err == nil {
		return nil, store.ErrAlreadyInitialized
	}
	if !errors.Is(err, store.ErrLockBoxNotFound) {
		return nil, fmt.Errorf("failed to check for existing lockbox: %w", err)
	}

	recordAddress, _, err := derive.Derive(derive.LockBoxTag, ownerAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to derive record address: %w", err)
	}
	vaultAddress, vaultBump, err := derive.Derive(derive.VaultTag, recordAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to derive vault address: %w", err)
	}

	if err := s.ledger.CreateAccount(ctx, recordAddress); err != nil {
		return nil, fmt.Errorf("failed to provision record account: %w", err)
	}
	if err := s.ledger.CreateAccount(ctx, vaultAddress); err != nil {
		return nil, fmt.Errorf("failed to provision vault account: %w", err)
	}

	// Collect the storage allowance before the record exists so an unfunded
	// record can never be created.
	if err := s.ledger.Transfer(ctx, ownerAddress, recordAddress, s.recordRentAmount, "lockbox record rent"); err != nil {
		return nil, fmt.Errorf("failed to collect record rent: %w", err)
	}

	lb := &domain.LockBox{
		ID:              uuid.New(),
		OwnerAddress:    ownerAddress,
		RecordAddress:   recordAddress,
		VaultAddress:    vaultAddress,
		VaultBump:       vaultBump,
		TargetAmount:    targetAmount,
		DepositedAmount: 0,
		Active:          true,
	}
	if err := s.repo.CreateLockBox(ctx, lb); err != nil {
		// Return the collected rent since the record was never created.
		if refundErr := s.ledger.Transfer(ctx, recordAddress, ownerAddress, s.recordRentAmount, "lockbox rent refund"); refundErr != nil {
			log.Printf("level=error component=app msg=\"CRITICAL: failed to refund record rent after create failure\" owner=%s err=%v", ownerAddress, refundErr)
		}
		if errors.Is(err, store.ErrAlreadyInitialized) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create lockbox record: %w", err)
	}

	log.Printf("level=info component=app op=initialize lockbox_id=%s owner=%s target=%d", lb.ID, ownerAddress, targetAmount)
	s.publishEvent(ctx, rabbitmq.RoutingKeyInitialized, lb, targetAmount)
	return lb, nil
}

// Deposit moves value from the owner into the vault and updates bookkeeping.
// Deposits may exceed the target.
func (s *Service) Deposit(ctx context.Context, callerAddress string, amount int64) (*domain.LockBox, error) {
	// Reject malformed requests before they consume a rate-limit token.
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := s.consumeRateLimit(ctx, "deposit", callerAddress, s.depositRateLimitPerMinute); err != nil {
		return nil, err
	}

	lb, err := s.loadOwnedLockBox(ctx, callerAddress)
	if err != nil {
		return nil, err
	}
	if !lb.Active {
		return nil, store.ErrLockBoxInactive
	}
	if lb.DepositedAmount > math.MaxInt64-amount {
		return nil, store.ErrBookkeepingOverflow
	}

	if err := s.ledger.Transfer(ctx, callerAddress, lb.VaultAddress, amount, "lockbox deposit"); err != nil {
		return nil, fmt.Errorf("failed to transfer deposit to vault: %w", err)
	}

	updated, err := s.repo.RecordDeposit(ctx, lb.ID, amount)
	if err != nil {
		// Send the funds back so vault balance and bookkeeping stay consistent.
		if refundErr := s.ledger.Transfer(ctx, lb.VaultAddress, callerAddress, amount, "lockbox deposit reversal"); refundErr != nil {
			log.Printf("level=error component=app msg=\"CRITICAL: failed to reverse deposit after bookkeeping failure\" lockbox_id=%s amount=%d err=%v", lb.ID, amount, refundErr)
		}
		return nil, fmt.Errorf("failed to record deposit: %w", err)
	}

	log.Printf("level=info component=app op=deposit lockbox_id=%s amount=%d deposited_total=%d", lb.ID, amount, updated.DepositedAmount)
	s.publishEvent(ctx, rabbitmq.RoutingKeyDeposited, updated, amount)
	return updated, nil
}

// Withdraw lets the owner retrieve value from the vault once the goal has been
// met. The gate is checked once per call against current bookkeeping; the live
// vault balance bounds the amount.
func (s *Service) Withdraw(ctx context.Context, callerAddress string, amount int64) (*domain.WithdrawalResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := s.consumeRateLimit(ctx, "withdraw", callerAddress, s.withdrawRateLimitPerMinute); err != nil {
		return nil, err
	}

	lb, err := s.loadOwnedLockBox(ctx, callerAddress)
	if err != nil {
		return nil, err
	}
	if !lb.Active {
		return nil, store.ErrLockBoxInactive
	}
	if !lb.TargetReached() {
		return nil, ErrTargetNotReached
	}

	vaultBalance, err := s.ledger.GetBalance(ctx, lb.VaultAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to read vault balance: %w", err)
	}
	if amount > vaultBalance {
		return nil, ErrInsufficientBalance
	}

	if err := s.ledger.Transfer(ctx, lb.VaultAddress, callerAddress, amount, "lockbox withdrawal"); err != nil {
		return nil, fmt.Errorf("failed to transfer withdrawal to owner: %w", err)
	}

	// deposited_amount is the historical total, so a reached target stays
	// reached across partial withdrawals.
	if err := s.repo.TouchLockBox(ctx, lb.ID); err != nil {
		log.Printf("level=warn component=app msg=\"failed to touch lockbox after withdrawal\" lockbox_id=%s err=%v", lb.ID, err)
	}

	log.Printf("level=info component=app op=withdraw lockbox_id=%s amount=%d remaining=%d", lb.ID, amount, vaultBalance-amount)
	s.publishEvent(ctx, rabbitmq.RoutingKeyWithdrawn, lb, amount)
	return &domain.WithdrawalResult{
		LockBox:          lb,
		AmountWithdrawn:  amount,
		RemainingBalance: vaultBalance - amount,
	}, nil
}

// EmergencyWithdraw is a one-shot escape valve: it transfers the entire vault
// balance to the owner regardless of the target, then permanently deactivates
// the lockbox. A second invocation fails rather than silently no-opping.
func (s *Service) EmergencyWithdraw(ctx context.Context, callerAddress string) (*domain.EmergencyWithdrawalResult, error) {
	lb, err := s.loadOwnedLockBox(ctx, callerAddress)
	if err != nil {
		return nil, err
	}
	if !lb.Active {
		return nil, store.ErrLockBoxInactive
	}

	vaultBalance, err := s.ledger.GetBalance(ctx, lb.VaultAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to read vault balance: %w", err)
	}

	if vaultBalance > 0 {
		if err := s.ledger.Transfer(ctx, lb.VaultAddress, callerAddress, vaultBalance, "lockbox emergency withdrawal"); err != nil {
			return nil, fmt.Errorf("failed to transfer vault balance to owner: %w", err)
		}
	}

	deactivated, err := s.repo.DeactivateLockBox(ctx, lb.ID)
	if err != nil {
		// Funds already moved; the record must still be deactivated.
		log.Printf("level=error component=app msg=\"CRITICAL: failed to deactivate lockbox after emergency withdrawal\" lockbox_id=%s amount=%d err=%v", lb.ID, vaultBalance, err)
		return nil, fmt.Errorf("failed to deactivate lockbox: %w", err)
	}

	log.Printf("level=info component=app op=emergency_withdraw lockbox_id=%s amount=%d", lb.ID, vaultBalance)
	s.publishEvent(ctx, rabbitmq.RoutingKeyEmergencyWithdrawn, deactivated, vaultBalance)
	return &domain.EmergencyWithdrawalResult{
		LockBox:         deactivated,
		AmountWithdrawn: vaultBalance,
	}, nil
}

// Close reclaims the record's rent allowance back to the owner once the vault
// is provably empty. Closure is orthogonal to the active flag: a deactivated
// lockbox may still be closed.
func (s *Service) Close(ctx context.Context, callerAddress string) (*domain.CloseResult, error) {
	lb, err := s.loadOwnedLockBox(ctx, callerAddress)
	if err != nil {
		return nil, err
	}

	// The live vault balance is checked at closure time, not bookkeeping:
	// bookkeeping may be stale after withdrawals.
	vaultBalance, err := s.ledger.GetBalance(ctx, lb.VaultAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to read vault balance: %w", err)
	}
	if vaultBalance != 0 {
		return nil, ErrInsufficientBalance
	}

	rentBalance, err := s.ledger.GetBalance(ctx, lb.RecordAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to read record rent balance: %w", err)
	}
	if rentBalance > 0 {
		if err := s.ledger.Transfer(ctx, lb.RecordAddress, callerAddress, rentBalance, "lockbox rent reclaim"); err != nil {
			return nil, fmt.Errorf("failed to return record rent to owner: %w", err)
		}
	}

	if err := s.repo.DeleteLockBox(ctx, lb.ID); err != nil {
		log.Printf("level=error component=app msg=\"CRITICAL: failed to delete lockbox record after rent reclaim\" lockbox_id=%s rent=%d err=%v", lb.ID, rentBalance, err)
		return nil, fmt.Errorf("failed to delete lockbox record: %w", err)
	}

	log.Printf("level=info component=app op=close lockbox_id=%s msg=\"lockbox closed successfully; record rent returned to owner\" rent=%d", lb.ID, rentBalance)
	s.publishEvent(ctx, rabbitmq.RoutingKeyClosed, lb, rentBalance)
	return &domain.CloseResult{LockBoxID: lb.ID, RentReturned: rentBalance}, nil
}

// Status returns the lockbox record together with the live vault balance.
func (s *Service) Status(ctx context.Context, callerAddress string) (*domain.LockBoxStatus, error) {
	lb, err := s.loadOwnedLockBox(ctx, callerAddress)
	if err != nil {
		return nil, err
	}

	vaultBalance, err := s.ledger.GetBalance(ctx, lb.VaultAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to read vault balance: %w", err)
	}

	return &domain.LockBoxStatus{
		LockBox:       lb,
		VaultBalance:  vaultBalance,
		TargetReached: lb.TargetReached(),
	}, nil
}

// loadOwnedLockBox loads the caller's lockbox and enforces the invariants
// shared by every operation: the verified caller identity must equal the record
// owner, and both stored addresses must match their canonical derivations. The
// full chain is re-derived from the caller identity; neither stored address is
// ever trusted on its own, so a row pointed at a foreign ledger account fails
// here before any balance is read or moved.
func (s *Service) loadOwnedLockBox(ctx context.Context, callerAddress string) (*domain.LockBox, error) {
	lb, err := s.repo.FindLockBoxByOwner(ctx, callerAddress)
	if err != nil {
		if errors.Is(err, store.ErrLockBoxNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load lockbox: %w", err)
	}

	if lb.OwnerAddress != callerAddress {
		return nil, ErrUnauthorized
	}
	recordAddress, _, err := derive.Derive(derive.LockBoxTag, callerAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to derive record address: %w", err)
	}
	if lb.RecordAddress != recordAddress {
		log.Printf("level=error component=app msg=\"stored record fails canonical derivation check\" lockbox_id=%s record=%s", lb.ID, lb.RecordAddress)
		return nil, ErrVaultMismatch
	}
	if !derive.Verify(derive.VaultTag, recordAddress, lb.VaultAddress, lb.VaultBump) {
		log.Printf("level=error component=app msg=\"stored vault fails canonical derivation check\" lockbox_id=%s vault=%s", lb.ID, lb.VaultAddress)
		return nil, ErrVaultMismatch
	}
	return lb, nil
}

func (s *Service) consumeRateLimit(ctx context.Context, scope, subject string, limitPerMinute int) error {
	if s.rateLimiter == nil || limitPerMinute <= 0 {
		return nil
	}
	count, _, err := s.rateLimiter.ConsumeRateLimit(ctx, scope, subject, limitPerMinute, time.Minute)
	if err != nil {
		// The limiter is protective, not load-bearing; an unavailable limiter
		// must not block fund operations.
		log.Printf("level=warn component=app msg=\"rate limiter unavailable; allowing request\" scope=%s err=%v", scope, err)
		return nil
	}
	if count > limitPerMinute {
		return ErrRateLimited
	}
	return nil
}

func (s *Service) publishEvent(ctx context.Context, routingKey string, lb *domain.LockBox, amount int64) {
	if s.eventProducer == nil {
		return
	}
	event := rabbitmq.LockBoxEvent{
		LockBoxID:    lb.ID,
		OwnerAddress: lb.OwnerAddress,
		VaultAddress: lb.VaultAddress,
		Amount:       amount,
	}
	if err := s.eventProducer.PublishLockBoxEvent(ctx, routingKey, event); err != nil {
		log.Printf("level=warn component=app msg=\"failed to publish lockbox event\" routing_key=%s lockbox_id=%s err=%v", routingKey, lb.ID, err)
	}
}
