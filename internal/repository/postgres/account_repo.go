package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/fbrt/internal/errs"
	"github.com/and161185/fbrt/internal/model"
)

// AccountRepo implements AccountRepository using PostgreSQL.
type AccountRepo struct{ db *DB }

// NewAccountRepo constructs an account repository.
func NewAccountRepo(db *DB) *AccountRepo { return &AccountRepo{db: db} }

// Create inserts a new account row.
func (r *AccountRepo) Create(ctx context.Context, a *model.Account) error {
	const q = `
INSERT INTO accounts (name, user_id, kdf_salt, wrapped_key, sealed)
VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.Pool.Exec(ctx, q, a.Name, a.UserID, a.KDFSalt, a.WrappedKey, a.Sealed)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// Get selects an account by name.
func (r *AccountRepo) Get(ctx context.Context, name string) (*model.Account, error) {
	const q = `
SELECT name, user_id, kdf_salt, wrapped_key, sealed, last_seq_id, updated_at
FROM accounts WHERE name=$1`
	var a model.Account
	err := r.db.Pool.QueryRow(ctx, q, name).
		Scan(&a.Name, &a.UserID, &a.KDFSalt, &a.WrappedKey, &a.Sealed, &a.LastSeqID, &a.Updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// List selects all accounts without their key material.
func (r *AccountRepo) List(ctx context.Context) ([]model.Account, error) {
	const q = `
SELECT name, user_id, last_seq_id, updated_at
FROM accounts ORDER BY name`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		var a model.Account
		if err := rows.Scan(&a.Name, &a.UserID, &a.LastSeqID, &a.Updated); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Replace overwrites the sealed app-state. The stored cursor belongs to the old login and is reset.
func (r *AccountRepo) Replace(ctx context.Context, a *model.Account) error {
	const q = `
UPDATE accounts
SET user_id = $2, kdf_salt = $3, wrapped_key = $4, sealed = $5, last_seq_id = 0, updated_at = now()
WHERE name = $1`
	tag, err := r.db.Pool.Exec(ctx, q, a.Name, a.UserID, a.KDFSalt, a.WrappedKey, a.Sealed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// SaveCursor moves the stored cursor forward; an older seq leaves the row unchanged.
func (r *AccountRepo) SaveCursor(ctx context.Context, name string, seq int64) error {
	const q = `
UPDATE accounts
SET last_seq_id = $2, updated_at = now()
WHERE name = $1 AND last_seq_id < $2`
	_, err := r.db.Pool.Exec(ctx, q, name, seq)
	return err
}

// Delete removes the account row.
func (r *AccountRepo) Delete(ctx context.Context, name string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM accounts WHERE name = $1`, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
