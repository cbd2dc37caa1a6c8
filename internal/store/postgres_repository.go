/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the `lockboxes` table.
 *
 * Expected schema:
 *
 *   CREATE TABLE lockboxes (
 *       id               UUID PRIMARY KEY,
 *       owner_address    TEXT NOT NULL UNIQUE,
 *       record_address   TEXT NOT NULL UNIQUE,
 *       vault_address    TEXT NOT NULL UNIQUE,
 *       vault_bump       SMALLINT NOT NULL,
 *       target_amount    BIGINT NOT NULL CHECK (target_amount > 0),
 *       deposited_amount BIGINT NOT NULL DEFAULT 0,
 *       active           BOOLEAN NOT NULL DEFAULT TRUE,
 *       created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
 *       updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
 *   );
 *
 * @dependencies
 * - context, errors, fmt, math: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lockvault/lockbox-service/internal/domain"
)

var (
	ErrLockBoxNotFound     = errors.New("lockbox not found")
	ErrAlreadyInitialized  = errors.New("lockbox already initialized for owner")
	ErrLockBoxInactive     = errors.New("lockbox is not active")
	ErrBookkeepingOverflow = errors.New("deposit would overflow bookkeeping counter")
)

// lockboxColumns is the canonical select list for scanning a lockbox row.
const lockboxColumns = `id, owner_address, record_address, vault_address, vault_bump, target_amount, deposited_amount, active, created_at, updated_at`

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLockBox(row rowScanner) (*domain.LockBox, error) {
	var lb domain.LockBox
	var bump int16
	err := row.Scan(
		&lb.ID,
		&lb.OwnerAddress,
		&lb.RecordAddress,
		&lb.VaultAddress,
		&bump,
		&lb.TargetAmount,
		&lb.DepositedAmount,
		&lb.Active,
		&lb.CreatedAt,
		&lb.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	lb.VaultBump = uint8(bump)
	return &lb, nil
}

// isUniqueViolation reports whether the error is a PostgreSQL unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// CreateLockBox inserts a new lockbox record for an owner.
func (r *PostgresRepository) CreateLockBox(ctx context.Context, lb *domain.LockBox) error {
	query := `
		INSERT INTO lockboxes (id, owner_address, record_address, vault_address, vault_bump, target_amount, deposited_amount, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		lb.ID,
		lb.OwnerAddress,
		lb.RecordAddress,
		lb.VaultAddress,
		int16(lb.VaultBump),
		lb.TargetAmount,
		lb.DepositedAmount,
		lb.Active,
	).Scan(&lb.CreatedAt, &lb.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyInitialized
		}
		return fmt.Errorf("failed to insert lockbox: %w", err)
	}
	return nil
}

// FindLockBoxByOwner retrieves the lockbox record bound to an owner address.
func (r *PostgresRepository) FindLockBoxByOwner(ctx context.Context, ownerAddress string) (*domain.LockBox, error) {
	query := fmt.Sprintf(`SELECT %s FROM lockboxes WHERE owner_address = $1`, lockboxColumns)
	lb, err := scanLockBox(r.db.QueryRow(ctx, query, ownerAddress))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLockBoxNotFound
		}
		return nil, fmt.Errorf("failed to query lockbox: %w", err)
	}
	return lb, nil
}

// RecordDeposit atomically increments the deposited_amount bookkeeping counter.
// The row lock guarantees a concurrent emergency withdrawal cannot interleave
// between the active check and the increment.
func (r *PostgresRepository) RecordDeposit(ctx context.Context, lockboxID uuid.UUID, amount int64) (*domain.LockBox, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var active bool
	var deposited int64
	lockQuery := `SELECT active, deposited_amount FROM lockboxes WHERE id = $1 FOR UPDATE`
	err = tx.QueryRow(ctx, lockQuery, lockboxID).Scan(&active, &deposited)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLockBoxNotFound
		}
		return nil, fmt.Errorf("failed to lock lockbox row: %w", err)
	}

	if !active {
		return nil, ErrLockBoxInactive
	}
	if deposited > math.MaxInt64-amount {
		return nil, ErrBookkeepingOverflow
	}

	updateQuery := fmt.Sprintf(`
		UPDATE lockboxes
		SET deposited_amount = deposited_amount + $2, updated_at = now()
		WHERE id = $1
		RETURNING %s
	`, lockboxColumns)
	lb, err := scanLockBox(tx.QueryRow(ctx, updateQuery, lockboxID, amount))
	if err != nil {
		return nil, fmt.Errorf("failed to record deposit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit deposit bookkeeping: %w", err)
	}
	return lb, nil
}

// TouchLockBox bumps updated_at after a withdrawal.
func (r *PostgresRepository) TouchLockBox(ctx context.Context, lockboxID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE lockboxes SET updated_at = now() WHERE id = $1`, lockboxID)
	if err != nil {
		return fmt.Errorf("failed to touch lockbox: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLockBoxNotFound
	}
	return nil
}

// DeactivateLockBox permanently disables the lockbox and resets its bookkeeping.
// Deactivation is terminal: the WHERE clause refuses rows that are already
// inactive so a replayed emergency withdrawal surfaces as an error.
func (r *PostgresRepository) DeactivateLockBox(ctx context.Context, lockboxID uuid.UUID) (*domain.LockBox, error) {
	query := fmt.Sprintf(`
		UPDATE lockboxes
		SET active = FALSE, deposited_amount = 0, updated_at = now()
		WHERE id = $1 AND active = TRUE
		RETURNING %s
	`, lockboxColumns)
	lb, err := scanLockBox(r.db.QueryRow(ctx, query, lockboxID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLockBoxInactive
		}
		return nil, fmt.Errorf("failed to deactivate lockbox: %w", err)
	}
	return lb, nil
}

// DeleteLockBox destroys the lockbox record during closure.
func (r *PostgresRepository) DeleteLockBox(ctx context.Context, lockboxID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM lockboxes WHERE id = $1`, lockboxID)
	if err != nil {
		return fmt.Errorf("failed to delete lockbox: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLockBoxNotFound
	}
	return nil
}
