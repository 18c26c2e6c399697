// Package model defines the session context, listener options, normalized events and stored accounts.
package model

import "time"

// Account is a named, stored login whose app-state cookies are sealed at rest.
type Account struct {
	Name       string    // unique account label
	UserID     string    // c_user of the sealed app-state, for display
	KDFSalt    []byte    // per-account Argon2id salt
	WrappedKey []byte    // data key wrapped by the passphrase-derived key
	Sealed     []byte    // XChaCha20-Poly1305 sealed app-state JSON
	LastSeqID  int64     // cursor saved when a listener stops, 0 when unknown
	Updated    time.Time // maintained by the repository
}

// Options are the listener behavior flags supplied by the caller.
type Options struct {
	AutoReconnect  bool   // reconnect on fatal transport errors instead of stopping
	AutoMarkRead   bool   // mark threads read after message/message_reply events
	UpdatePresence bool   // publish presence on a randomized interval
	Online         bool   // presence visibility announced in the connection identity
	SelfListen     bool   // emit messages sent by this account
	ListenEvents   bool   // emit thread administrative events
	Proxy          string // HTTP(S) proxy URL for the WebSocket and web API
	BypassRegion   string // region code substituted into the endpoint
	UserAgent      string

	// HandshakeTimeout bounds a single connect attempt. Zero means DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration
}

// DefaultHandshakeTimeout bounds the transport handshake when Options leave it unset.
const DefaultHandshakeTimeout = 60 * time.Second

// DefaultUserAgent mimics a desktop Chrome browser.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// DefaultOptions returns the option set used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		AutoReconnect:    true,
		AutoMarkRead:     true,
		Online:           true,
		ListenEvents:     true,
		UserAgent:        DefaultUserAgent,
		HandshakeTimeout: DefaultHandshakeTimeout,
	}
}
