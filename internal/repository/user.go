package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inkforge/inkforge/internal/model"
)

// Common errors for user repository operations.
var (
	ErrUserNotFound        = errors.New("user not found")
	ErrEmailExists         = errors.New("email already exists")
	ErrInsufficientCredits = errors.New("insufficient credits")
)

const userColumns = `id, email, name, image, credits, plan, created_at, updated_at`

// CreateUser inserts a new user into the database.
func (r *Repository) CreateUser(ctx context.Context, user *model.User) error {
	query := `
		INSERT INTO users (id, email, name, image, credits, plan, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	if user.Plan == "" {
		user.Plan = model.PlanFree
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = user.CreatedAt
	}

	_, err := r.pool.Exec(ctx, query,
		user.ID,
		user.Email,
		user.Name,
		user.Image,
		user.Credits,
		user.Plan,
		user.CreatedAt,
		user.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetUserByID retrieves a user by their ID.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}

	return user, nil
}

// GetUserByEmail retrieves a user by their email address.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	return user, nil
}

// GetOrCreateUser gets a user by email or creates one if not found.
// New users start with user.Credits (model.DefaultStartingCredits when zero).
func (r *Repository) GetOrCreateUser(ctx context.Context, user *model.User) (*model.User, error) {
	existing, err := r.GetUserByEmail(ctx, user.Email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	// Create new user
	if user.Credits == 0 {
		user.Credits = model.DefaultStartingCredits
	}
	user.CreatedAt = time.Now().UTC()
	user.UpdatedAt = user.CreatedAt
	if err := r.CreateUser(ctx, user); err != nil {
		// Handle race condition - another request may have created it
		if errors.Is(err, ErrEmailExists) {
			return r.GetUserByEmail(ctx, user.Email)
		}
		return nil, err
	}

	return user, nil
}

// DebitCredits atomically subtracts amount from the user's balance and
// journals the change. The balance never goes below zero: the conditional
// update matches no row when funds are short, and concurrent debits
// serialize on the row lock.
func (r *Repository) DebitCredits(ctx context.Context, userID string, amount int, reason, referenceID string) (int, error) {
	var balance int

	err := r.withTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE users
			SET credits = credits - $2
			WHERE id = $1 AND credits >= $2
			RETURNING credits
		`, userID, amount).Scan(&balance)

		if errors.Is(err, pgx.ErrNoRows) {
			exists, probeErr := userExists(ctx, tx, userID)
			if probeErr != nil {
				return probeErr
			}
			if !exists {
				return ErrUserNotFound
			}
			return ErrInsufficientCredits
		}
		if err != nil {
			return fmt.Errorf("failed to debit credits: %w", err)
		}

		return insertCreditTransaction(ctx, tx, &model.CreditTransaction{
			UserID:       userID,
			Kind:         model.CreditKindDebit,
			Amount:       amount,
			BalanceAfter: balance,
			Reason:       reason,
			ReferenceID:  referenceID,
		})
	})
	if err != nil {
		return 0, err
	}

	return balance, nil
}

// CreditCredits atomically adds amount to the user's balance and journals
// the change.
func (r *Repository) CreditCredits(ctx context.Context, userID string, amount int, reason, referenceID string) (int, error) {
	var balance int

	err := r.withTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE users
			SET credits = credits + $2
			WHERE id = $1
			RETURNING credits
		`, userID, amount).Scan(&balance)

		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to credit credits: %w", err)
		}

		return insertCreditTransaction(ctx, tx, &model.CreditTransaction{
			UserID:       userID,
			Kind:         model.CreditKindCredit,
			Amount:       amount,
			BalanceAfter: balance,
			Reason:       reason,
			ReferenceID:  referenceID,
		})
	})
	if err != nil {
		return 0, err
	}

	return balance, nil
}

// ListCreditTransactions returns a user's most recent journal entries.
func (r *Repository) ListCreditTransactions(ctx context.Context, userID string, limit int) ([]*model.CreditTransaction, error) {
	query := `
		SELECT id, user_id, kind, amount, balance_after, reason, reference_id, created_at
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list credit transactions: %w", err)
	}
	defer rows.Close()

	var txs []*model.CreditTransaction
	for rows.Next() {
		var ct model.CreditTransaction
		if err := rows.Scan(
			&ct.ID,
			&ct.UserID,
			&ct.Kind,
			&ct.Amount,
			&ct.BalanceAfter,
			&ct.Reason,
			&ct.ReferenceID,
			&ct.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan credit transaction: %w", err)
		}
		txs = append(txs, &ct)
	}

	return txs, rows.Err()
}

func userExists(ctx context.Context, tx pgx.Tx, userID string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}
	return exists, nil
}

func insertCreditTransaction(ctx context.Context, tx pgx.Tx, ct *model.CreditTransaction) error {
	if ct.ID == "" {
		ct.ID = uuid.NewString()
	}
	if ct.CreatedAt.IsZero() {
		ct.CreatedAt = time.Now().UTC()
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO credit_transactions (id, user_id, kind, amount, balance_after, reason, reference_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		ct.ID,
		ct.UserID,
		ct.Kind,
		ct.Amount,
		ct.BalanceAfter,
		ct.Reason,
		ct.ReferenceID,
		ct.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to journal credit transaction: %w", err)
	}
	return nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.Image,
		&user.Credits,
		&user.Plan,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}
