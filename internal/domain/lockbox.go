/**
 * @description
 * This file defines the core domain models for the lockbox-service. These structs
 * represent the main entities and data transfer objects (DTOs) used throughout the
 * service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit of the ledger host,
 *   which avoids floating-point inaccuracies with financial data.
 * - The LockBox row is bookkeeping only. The authoritative balance is always the
 *   live balance of the vault account on the ledger host.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// LockBox is the persistent custody record for one saving goal. It tracks the
// owner, the declared target, and the running total of deposits made toward it.
// This struct maps directly to the `lockboxes` table in the database.
type LockBox struct {
	ID              uuid.UUID `json:"id"`
	OwnerAddress    string    `json:"owner_address"`
	RecordAddress   string    `json:"record_address"`
	VaultAddress    string    `json:"vault_address"`
	VaultBump       uint8     `json:"vault_bump"`
	TargetAmount    int64     `json:"target_amount"`
	DepositedAmount int64     `json:"deposited_amount"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TargetReached reports whether cumulative deposits have met the declared goal.
// Ordinary withdrawals are gated on this condition.
func (lb *LockBox) TargetReached() bool {
	return lb.DepositedAmount >= lb.TargetAmount
}

// InitializeLockBoxRequest is the DTO for incoming lockbox creation API requests.
type InitializeLockBoxRequest struct {
	TargetAmount int64 `json:"target_amount"`
}

// DepositRequest is the DTO for incoming deposit API requests.
type DepositRequest struct {
	Amount int64 `json:"amount"`
}

// WithdrawRequest is the DTO for incoming withdrawal API requests.
type WithdrawRequest struct {
	Amount int64 `json:"amount"`
}

// LockBoxStatus combines the bookkeeping record with the live vault balance from
// the ledger host. Returned by the status endpoint.
type LockBoxStatus struct {
	LockBox       *LockBox `json:"lockbox"`
	VaultBalance  int64    `json:"vault_balance"`
	TargetReached bool     `json:"target_reached"`
}

// WithdrawalResult summarizes a completed withdrawal for the API response.
type WithdrawalResult struct {
	LockBox          *LockBox `json:"lockbox"`
	AmountWithdrawn  int64    `json:"amount_withdrawn"`
	RemainingBalance int64    `json:"remaining_balance"`
}

// EmergencyWithdrawalResult summarizes a completed emergency withdrawal. The
// lockbox it references is permanently deactivated.
type EmergencyWithdrawalResult struct {
	LockBox         *LockBox `json:"lockbox"`
	AmountWithdrawn int64    `json:"amount_withdrawn"`
}

// CloseResult summarizes a completed closure, including the record rent
// allowance returned to the owner.
type CloseResult struct {
	LockBoxID    uuid.UUID `json:"lockbox_id"`
	RentReturned int64     `json:"rent_returned"`
}
