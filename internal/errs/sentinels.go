// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across listener, web API and storage layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., account name taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotConnected indicates a side-channel publish without a live, synced connection.
	ErrNotConnected = errors.New("not connected")

	// ErrStopped indicates an operation on a listener that has already been stopped.
	ErrStopped = errors.New("listener stopped")

	// ErrHandshakeTimeout indicates the transport did not complete its handshake in time.
	ErrHandshakeTimeout = errors.New("handshake timeout")

	// ErrSeqIDFetch indicates the cold-start sequence cursor could not be obtained.
	// The most common cause is an expired or invalid app-state.
	ErrSeqIDFetch = errors.New("failed to get sequence id, app-state may be stale: generate a new one")

	// ErrMissingCredential indicates the login context lacks a required token or cookie.
	ErrMissingCredential = errors.New("missing credential")

	// ErrNotLoggedIn indicates the web endpoints rejected the session cookies.
	ErrNotLoggedIn = errors.New("not logged in")

	// ErrBadPassphrase indicates sealed app-state could not be opened with the given passphrase.
	ErrBadPassphrase = errors.New("bad passphrase")

	// ErrTooManyAttempts indicates an account is locked after repeated bad passphrases.
	ErrTooManyAttempts = errors.New("too many attempts")
)
