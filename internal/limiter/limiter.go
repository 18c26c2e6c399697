// Package limiter throttles passphrase attempts against stored accounts.
package limiter

import (
	"context"
	"time"
)

// Limiter controls unlock attempts and temporary lockouts per account.
type Limiter interface {
	// Allow reports whether an unlock is currently allowed and optional retry-after.
	Allow(ctx context.Context, account string) (bool, time.Duration, error)
	// Success resets counters after a successful unlock.
	Success(ctx context.Context, account string) error
	// Failure records a failed attempt; may place a temporary block.
	Failure(ctx context.Context, account string) (bool, time.Duration, error)
}
