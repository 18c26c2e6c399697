// Package listener runs the real-time session: it connects, resumes the delta
// stream, survives transport failures and rotations, and delivers normalized events.
package listener

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/fbrt/internal/errs"
	"github.com/and161185/fbrt/internal/model"
	"github.com/and161185/fbrt/internal/transport"
)

// SeqIDFetcher obtains the initial sequence cursor before the first connect.
type SeqIDFetcher interface {
	FetchSeqID(ctx context.Context, sess *model.Session) (int64, error)
}

// ThreadReader marks a thread as read.
type ThreadReader interface {
	MarkAsRead(ctx context.Context, threadID string) error
}

// UserLookup resolves a user's display name.
type UserLookup interface {
	UserName(ctx context.Context, userID string) (string, error)
}

// Interval bounds of the randomized timers.
const (
	defaultRotateMin   = 26 * time.Minute
	defaultRotateMax   = 60 * time.Minute
	defaultPresenceMin = 45 * time.Second
	defaultPresenceMax = 75 * time.Second

	sideEffectTimeout = 15 * time.Second
)

// Listener holds the dependencies of a session's listening runs.
type Listener struct {
	sess   *model.Session
	dialer transport.Dialer
	opts   model.Options
	log    *zap.Logger

	seqIDs  SeqIDFetcher
	reader  ThreadReader
	users   UserLookup
	metrics *Metrics
	onState func(State)

	rotateMin, rotateMax     time.Duration
	presenceMin, presenceMax time.Duration
	backoff                  backoff

	newClientID func() (string, error)
	rotateNow   chan struct{} // forces a rotation; nil outside tests
}

// Option configures a Listener.
type Option func(*Listener)

// WithOptions replaces the default behavior flags.
func WithOptions(o model.Options) Option { return func(l *Listener) { l.opts = o } }

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option { return func(l *Listener) { l.log = log } }

// WithSeqIDFetcher sets the cold-start cursor source.
func WithSeqIDFetcher(f SeqIDFetcher) Option { return func(l *Listener) { l.seqIDs = f } }

// WithThreadReader sets the collaborator used by AutoMarkRead.
func WithThreadReader(r ThreadReader) Option { return func(l *Listener) { l.reader = r } }

// WithUserLookup sets the collaborator used to log the account name after the first connect.
func WithUserLookup(u UserLookup) Option { return func(l *Listener) { l.users = u } }

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option { return func(l *Listener) { l.metrics = m } }

// WithStateHook registers fn to observe every state transition. It is called from
// the run's loop and must not block.
func WithStateHook(fn func(State)) Option { return func(l *Listener) { l.onState = fn } }

// WithRotation overrides the rotation interval bounds.
func WithRotation(minD, maxD time.Duration) Option {
	return func(l *Listener) { l.rotateMin, l.rotateMax = minD, maxD }
}

// WithPresenceInterval overrides the presence heartbeat interval bounds.
func WithPresenceInterval(minD, maxD time.Duration) Option {
	return func(l *Listener) { l.presenceMin, l.presenceMax = minD, maxD }
}

// WithReconnectBackoff overrides the initial and maximum delay between reconnect attempts.
func WithReconnectBackoff(initial, maxD time.Duration) Option {
	return func(l *Listener) { l.backoff = backoff{initial: initial, max: maxD} }
}

// New constructs a listener for sess. The session must already carry its login fields.
func New(sess *model.Session, dialer transport.Dialer, opts ...Option) *Listener {
	l := &Listener{
		sess:        sess,
		dialer:      dialer,
		opts:        model.DefaultOptions(),
		rotateMin:   defaultRotateMin,
		rotateMax:   defaultRotateMax,
		presenceMin: defaultPresenceMin,
		presenceMax: defaultPresenceMax,
		backoff:     backoff{initial: defaultBackoffInitial, max: defaultBackoffMax},
		newClientID: newClientID,
	}
	for _, o := range opts {
		o(l)
	}
	if l.log == nil {
		l.log = zap.NewNop()
	}
	if l.opts.HandshakeTimeout <= 0 {
		l.opts.HandshakeTimeout = model.DefaultHandshakeTimeout
	}
	return l
}

// Start fetches the cold-start cursor when none is known and begins the run.
// The run ends when ctx is cancelled, Stop is called, or a fatal error occurs
// with AutoReconnect disabled.
func (l *Listener) Start(ctx context.Context) (*Handle, error) {
	if l.sess.LastSeqID == 0 && l.seqIDs != nil {
		seq, err := l.seqIDs.FetchSeqID(ctx, l.sess)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errs.ErrSeqIDFetch, err)
		}
		l.sess.AdvanceSeqID(seq)
		l.log.Debug("fetched sequence id", zap.Int64("seq_id", seq))
	}
	if l.sess.ClientID == "" {
		id, err := l.newClientID()
		if err != nil {
			return nil, err
		}
		l.sess.ClientID = id
	}

	h := newHandle(ctx, l)
	go h.loop()
	return h, nil
}

func newClientID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", fmt.Errorf("client id: %w", err)
	}
	return id.String(), nil
}
