/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the lockbox-service. By defining an interface,
 * we decouple the application's business logic from the specific database
 * implementation (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/lockvault/lockbox-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// CreateLockBox inserts a new lockbox record. Returns ErrAlreadyInitialized
	// when the owner already has a record at the derived address.
	CreateLockBox(ctx context.Context, lb *domain.LockBox) error

	// FindLockBoxByOwner loads the lockbox record bound to the given owner
	// address. Returns ErrLockBoxNotFound when no record exists.
	FindLockBoxByOwner(ctx context.Context, ownerAddress string) (*domain.LockBox, error)

	// RecordDeposit atomically increments the bookkeeping counter for a deposit.
	// The row is locked and the active flag and overflow bound are re-checked
	// under the lock, so a concurrent deactivation cannot interleave.
	RecordDeposit(ctx context.Context, lockboxID uuid.UUID, amount int64) (*domain.LockBox, error)

	// TouchLockBox bumps updated_at after a withdrawal. Bookkeeping is not
	// changed: deposited_amount records the historical total ever deposited.
	TouchLockBox(ctx context.Context, lockboxID uuid.UUID) error

	// DeactivateLockBox permanently disables a lockbox after an emergency
	// withdrawal, resetting the bookkeeping counter. Returns ErrLockBoxInactive
	// when the record is already deactivated.
	DeactivateLockBox(ctx context.Context, lockboxID uuid.UUID) (*domain.LockBox, error)

	// DeleteLockBox destroys the record during closure.
	DeleteLockBox(ctx context.Context, lockboxID uuid.UUID) error
}
