package model

import (
	"context"
	"sync/atomic"
)

// Conn is a live duplex connection handle installed on a Session.
type Conn interface {
	// Publish sends payload on topic and waits for the transport to accept it.
	Publish(ctx context.Context, topic string, payload []byte) error
	// Connected reports whether the handshake completed and the link is still open.
	Connected() bool
	// Close tears the connection down. It is safe to call more than once.
	Close()
}

// Session is the shared context of one logged-in account.
//
// Login fields are populated by the bootstrap collaborator before listening starts.
// Cursor fields are mutated only by the delta normalizer, the handle only by the
// listener run that owns the session.
type Session struct {
	UserID    string
	ClientID  string
	DTSG      string
	Region    string
	MQTTAppID string
	UserAgent string
	Endpoint  string

	// CookieHeader returns the Cookie header sent on the WebSocket handshake.
	CookieHeader func() string

	LastSeqID int64  // 0 when unknown
	SyncToken string // set by a create-queue reply

	FirstConnection bool

	conn atomic.Pointer[connBox]
}

type connBox struct{ c Conn }

// NewSession returns a session ready for its first connection.
func NewSession(userID, clientID string) *Session {
	return &Session{UserID: userID, ClientID: clientID, FirstConnection: true}
}

// Conn returns the live connection handle or nil.
func (s *Session) Conn() Conn {
	if b := s.conn.Load(); b != nil {
		return b.c
	}
	return nil
}

// SetConn replaces the connection handle. The previous one must already be torn down.
func (s *Session) SetConn(c Conn) {
	if c == nil {
		s.conn.Store(nil)
		return
	}
	s.conn.Store(&connBox{c: c})
}

// AdvanceSeqID moves the cursor forward. Lower or equal values are ignored.
func (s *Session) AdvanceSeqID(seq int64) bool {
	if seq <= s.LastSeqID {
		return false
	}
	s.LastSeqID = seq
	return true
}

// ResetCursor re-establishes the cursor from a fresh queue bootstrap.
func (s *Session) ResetCursor(seq int64, token string) {
	s.LastSeqID = seq
	s.SyncToken = token
}

// Cookies returns the Cookie header value, or "" when no jar is attached.
func (s *Session) Cookies() string {
	if s.CookieHeader == nil {
		return ""
	}
	return s.CookieHeader()
}
