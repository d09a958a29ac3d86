package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals that the account does not exist.
	ErrNotFound = errors.New("account: not found")
	// ErrDuplicateEmail signals that the email is already registered.
	ErrDuplicateEmail = errors.New("account: email already exists")
)

// Repository handles data access for accounts.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (Account, error)
	GetByEmail(ctx context.Context, email string) (Account, error)
	GetByID(ctx context.Context, id string) (Account, error)
	SetTradeEligible(ctx context.Context, id string, eligible bool) error
}

// CreateParams contains write parameters for creating accounts.
type CreateParams struct {
	Email        string
	FullName     string
	PasswordHash string
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed account repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const accountColumns = `id, email, full_name, password_hash, trade_eligible, created_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Email, &a.FullName, &a.PasswordHash, &a.TradeEligible, &a.CreatedAt)
	if err != nil {
		return Account{}, err
	}
	return a, nil
}

// Create inserts a new account with a hashed password.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (Account, error) {
	const insertSQL = `
		INSERT INTO accounts (email, full_name, password_hash)
		VALUES ($1, $2, $3)
		RETURNING ` + accountColumns

	a, err := scanAccount(r.pool.QueryRow(ctx, insertSQL, params.Email, params.FullName, params.PasswordHash))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Account{}, ErrDuplicateEmail
		}
		return Account{}, fmt.Errorf("account: create: %w", err)
	}
	return a, nil
}

// GetByEmail retrieves an account by email address.
func (r *PGRepository) GetByEmail(ctx context.Context, email string) (Account, error) {
	const selectSQL = `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`

	a, err := scanAccount(r.pool.QueryRow(ctx, selectSQL, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("account: get by email: %w", err)
	}
	return a, nil
}

// GetByID retrieves an account by ID.
func (r *PGRepository) GetByID(ctx context.Context, id string) (Account, error) {
	const selectSQL = `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	a, err := scanAccount(r.pool.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("account: get by id: %w", err)
	}
	return a, nil
}

// SetTradeEligible flips the externally decided eligibility flag.
func (r *PGRepository) SetTradeEligible(ctx context.Context, id string, eligible bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE accounts SET trade_eligible = $1 WHERE id = $2`, eligible, id)
	if err != nil {
		return fmt.Errorf("account: set trade eligible: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
