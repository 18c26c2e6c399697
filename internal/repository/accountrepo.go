// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/fbrt/internal/model"
)

// AccountRepository stores sealed app-state per named account.
type AccountRepository interface {
	// Create inserts a new account. A taken name yields errs.ErrAlreadyExists.
	Create(ctx context.Context, a *model.Account) error
	// Get loads an account by name.
	Get(ctx context.Context, name string) (*model.Account, error)
	// List returns all accounts ordered by name, without their sealed payloads.
	List(ctx context.Context) ([]model.Account, error)
	// Replace overwrites the sealed app-state of an existing account and resets its cursor.
	Replace(ctx context.Context, a *model.Account) error
	// SaveCursor stores seq if it is greater than the stored cursor.
	SaveCursor(ctx context.Context, name string, seq int64) error
	// Delete removes an account.
	Delete(ctx context.Context, name string) error
}
