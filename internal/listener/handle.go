package listener

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/fbrt/internal/delta"
	"github.com/and161185/fbrt/internal/errs"
	"github.com/and161185/fbrt/internal/model"
	"github.com/and161185/fbrt/internal/presence"
	"github.com/and161185/fbrt/internal/resume"
	"github.com/and161185/fbrt/internal/transport"
)

const (
	publishTimeout = 10 * time.Second
	inboxSize      = 64
)

type signalKind int

const (
	sigConnect signalKind = iota
	sigError
	sigMessage
)

// signal is a transport callback forwarded to the run's loop.
type signal struct {
	kind    signalKind
	gen     uint64
	err     error
	topic   string
	payload []byte
}

// link is one connection attempt. quit is closed when the attempt is torn down,
// releasing callbacks still trying to reach the loop.
type link struct {
	gen      uint64
	conn     model.Conn
	quit     chan struct{}
	dialedAt time.Time
}

// Handle controls one listening run. Events must be drained by the caller:
// delivery is unbuffered and the run waits for the consumer.
type Handle struct {
	l    *Listener
	sess *model.Session
	log  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	events chan model.Event
	inbox  chan signal
	done   chan struct{}
	side   sync.WaitGroup

	state       atomic.Int32
	ready       atomic.Bool
	lastPublish atomic.Int64
	requestID   atomic.Int64
	err         error // set before done is closed

	// owned by loop
	norm           *delta.Normalizer
	gen            uint64
	link           *link
	handshakeTimer *time.Timer
	rotateTimer    *time.Timer
	presenceTimer  *time.Timer
	reconnectTimer *time.Timer
	attempts       int // consecutive failed connections
}

func newHandle(ctx context.Context, l *Listener) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	log := l.log.With(zap.String("user_id", l.sess.UserID))
	return &Handle{
		l:      l,
		sess:   l.sess,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan model.Event),
		inbox:  make(chan signal, inboxSize),
		done:   make(chan struct{}),
		norm:   delta.New(l.sess, log, l.opts.SelfListen, l.opts.ListenEvents),
	}
}

// Events returns the event stream. It is closed when the run ends.
func (h *Handle) Events() <-chan model.Event { return h.events }

// Done is closed when the run has fully stopped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// State returns the current lifecycle state.
func (h *Handle) State() State { return State(h.state.Load()) }

// Err returns the error that ended the run, or nil while running or after a requested stop.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Stop ends the run and waits until it has released its timers and connection.
// No events are delivered after Stop returns. It is safe to call more than once.
func (h *Handle) Stop() {
	h.cancel()
	<-h.done
}

// SendTyping publishes a typing indicator for threadID.
func (h *Handle) SendTyping(ctx context.Context, threadID string, typing bool) error {
	if h.State() == Stopped {
		return errs.ErrStopped
	}
	conn := h.sess.Conn()
	if conn == nil || !h.ready.Load() || !conn.Connected() {
		return errs.ErrNotConnected
	}
	payload, err := presence.TypingPayload(delta.FormatID(threadID), typing, h.requestID.Add(1))
	if err != nil {
		return err
	}
	return h.publish(ctx, conn, presence.TopicTyping, payload)
}

func (h *Handle) loop() {
	defer h.finish()

	h.armRotation()
	if h.l.opts.UpdatePresence {
		h.armPresence()
	}
	if !h.connect() {
		return
	}
	for {
		select {
		case <-h.ctx.Done():
			return
		case s := <-h.inbox:
			if !h.dispatch(s) {
				return
			}
		case <-timerC(h.handshakeTimer):
			h.handshakeTimer = nil
			if h.State() == Connecting && !h.fatal(errs.ErrHandshakeTimeout) {
				return
			}
		case <-timerC(h.reconnectTimer):
			h.reconnectTimer = nil
			if !h.connect() {
				return
			}
		case <-h.l.rotateNow:
			stopTimer(&h.rotateTimer)
			if !h.rotate() {
				return
			}
			h.armRotation()
		case <-timerC(h.rotateTimer):
			h.rotateTimer = nil
			if !h.rotate() {
				return
			}
			h.armRotation()
		case <-timerC(h.presenceTimer):
			h.presenceTimer = nil
			h.heartbeat()
			h.armPresence()
		}
	}
}

func (h *Handle) finish() {
	stopTimer(&h.rotateTimer)
	stopTimer(&h.presenceTimer)
	stopTimer(&h.reconnectTimer)
	h.teardown()
	h.cancel()
	h.side.Wait()
	h.setState(Stopped)
	close(h.events)
	close(h.done)
}

func (h *Handle) setState(s State) {
	if State(h.state.Swap(int32(s))) == s {
		return
	}
	h.log.Debug("state", zap.Stringer("state", s))
	h.l.metrics.setState(s)
	if h.l.onState != nil {
		h.l.onState(s)
	}
}

// connect dials a new attempt. It returns false when the run must end.
func (h *Handle) connect() bool {
	h.setState(Connecting)
	h.ready.Store(false)
	h.gen++

	id := transport.NewIdentity(h.sess, h.l.opts)
	u, err := transport.Endpoint(h.sess.Endpoint, h.sess.Region, h.l.opts.BypassRegion, id.SessionID, h.sess.ClientID)
	if err != nil {
		return h.fail(err)
	}

	lk := &link{gen: h.gen, quit: make(chan struct{}), dialedAt: time.Now()}
	conn, err := h.l.dialer.Dial(transport.Attempt{
		Endpoint: u,
		Identity: id,
		Header:   transport.BrowserHeader(h.sess.Cookies(), id.UserAgent),
	}, h.handlers(lk))
	if err != nil {
		return h.fail(fmt.Errorf("dial: %w", err))
	}
	lk.conn = conn
	h.link = lk
	h.sess.SetConn(conn)
	h.handshakeTimer = time.NewTimer(h.l.opts.HandshakeTimeout)
	h.log.Debug("dialing", zap.String("host", u.Host), zap.String("client_id", h.sess.ClientID))
	return true
}

func (h *Handle) handlers(lk *link) transport.Handlers {
	post := func(s signal) {
		s.gen = lk.gen
		select {
		case h.inbox <- s:
		case <-lk.quit:
		case <-h.done:
		}
	}
	return transport.Handlers{
		OnConnect: func() { post(signal{kind: sigConnect}) },
		OnError:   func(err error) { post(signal{kind: sigError, err: err}) },
		OnMessage: func(topic string, payload []byte) {
			post(signal{kind: sigMessage, topic: topic, payload: payload})
		},
	}
}

func (h *Handle) dispatch(s signal) bool {
	if h.link == nil || s.gen != h.link.gen {
		h.log.Debug("stale transport callback", zap.Uint64("gen", s.gen))
		return true
	}
	switch s.kind {
	case sigConnect:
		return h.onConnect()
	case sigError:
		return h.onError(s.err)
	case sigMessage:
		return h.onMessage(s.topic, s.payload)
	}
	return true
}

func (h *Handle) onConnect() bool {
	stopTimer(&h.handshakeTimer)
	h.attempts = 0
	h.setState(Connected)
	h.l.metrics.connected(time.Since(h.link.dialedAt))

	req, err := resume.Next(h.sess)
	if err != nil {
		return h.fatal(err)
	}
	ctx, cancel := context.WithTimeout(h.ctx, publishTimeout)
	err = h.publish(ctx, h.link.conn, req.Topic, req.Payload)
	cancel()
	if err != nil {
		return h.fatal(fmt.Errorf("sync request: %w", err))
	}
	h.l.metrics.synced(req.Resume)
	h.ready.Store(true)
	h.log.Info("connected",
		zap.Bool("resume", req.Resume),
		zap.Int64("seq_id", h.sess.LastSeqID),
	)

	if h.sess.FirstConnection {
		h.sess.FirstConnection = false
		h.lookupSelf()
	}
	return true
}

func (h *Handle) onError(err error) bool {
	since := time.Duration(-1)
	if ns := h.lastPublish.Load(); ns != 0 {
		since = time.Since(time.Unix(0, ns))
	}
	// An error that already closed the link cannot be ignored.
	if transient(err, since) && h.link.conn.Connected() {
		h.l.metrics.transportError(true)
		h.log.Debug("ignoring transient transport error", zap.Error(err))
		return true
	}
	return h.fatal(err)
}

// fatal tears the link down and schedules a reconnect or ends the run.
func (h *Handle) fatal(err error) bool {
	h.l.metrics.transportError(false)
	h.log.Warn("transport error", zap.Error(err), zap.Bool("reconnect", h.l.opts.AutoReconnect))
	h.setState(Error)
	h.teardown()
	if !h.l.opts.AutoReconnect {
		return h.fail(err)
	}
	h.attempts++
	wait := h.l.backoff.delay(h.attempts)
	h.log.Debug("reconnect scheduled", zap.Int("attempt", h.attempts), zap.Duration("wait", wait))
	stopTimer(&h.reconnectTimer)
	h.reconnectTimer = time.NewTimer(wait)
	return true
}

// fail reports err to the consumer and ends the run.
func (h *Handle) fail(err error) bool {
	h.err = err
	h.emit(model.NewErrorEvent(err, true))
	return false
}

func (h *Handle) onMessage(topic string, payload []byte) bool {
	h.l.metrics.frame(topic)
	for _, ev := range h.norm.Normalize(topic, payload) {
		if !h.emit(ev) {
			return false
		}
		h.markRead(ev)
	}
	if h.norm.TakeResync() {
		h.log.Info("sync queue lost, recreating")
		h.teardown()
		return h.connect()
	}
	return true
}

func (h *Handle) emit(ev model.Event) bool {
	if h.ctx.Err() != nil {
		return false
	}
	select {
	case h.events <- ev:
		h.l.metrics.event(string(ev.Type()))
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Handle) rotate() bool {
	if h.State() != Connected {
		return true
	}
	h.setState(Rotating)
	h.l.metrics.rotated()
	h.teardown()
	id, err := h.l.newClientID()
	if err != nil {
		return h.fail(err)
	}
	h.log.Info("rotating connection", zap.String("client_id", id), zap.Int64("seq_id", h.sess.LastSeqID))
	h.sess.ClientID = id
	return h.connect()
}

func (h *Handle) teardown() {
	stopTimer(&h.handshakeTimer)
	h.ready.Store(false)
	if h.link == nil {
		return
	}
	close(h.link.quit)
	h.sess.SetConn(nil)
	h.link.conn.Close()
	h.link = nil
}

func (h *Handle) heartbeat() {
	if h.State() != Connected || h.link == nil || !h.link.conn.Connected() {
		return
	}
	enc, err := presence.Generate(h.sess.UserID, time.Now())
	if err != nil {
		h.log.Warn("presence encode failed", zap.Error(err))
		return
	}
	payload, err := presence.Payload(enc)
	if err != nil {
		h.log.Warn("presence encode failed", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(h.ctx, publishTimeout)
	defer cancel()
	if err := h.publish(ctx, h.link.conn, presence.TopicPresence, payload); err != nil {
		h.log.Warn("presence publish failed", zap.Error(err))
	}
}

func (h *Handle) publish(ctx context.Context, conn model.Conn, topic string, payload []byte) error {
	h.lastPublish.Store(time.Now().UnixNano())
	err := conn.Publish(ctx, topic, payload)
	h.l.metrics.published(topic, err)
	return err
}

func (h *Handle) markRead(ev model.Event) {
	if !h.l.opts.AutoMarkRead || h.l.reader == nil {
		return
	}
	switch ev.(type) {
	case *model.MessageEvent, *model.MessageReplyEvent:
	default:
		return
	}
	thread := ev.Thread()
	h.goSide(func(ctx context.Context) {
		if err := h.l.reader.MarkAsRead(ctx, thread); err != nil {
			h.log.Warn("mark as read failed", zap.String("thread_id", thread), zap.Error(err))
		}
	})
}

func (h *Handle) lookupSelf() {
	if h.l.users == nil {
		return
	}
	h.goSide(func(ctx context.Context) {
		name, err := h.l.users.UserName(ctx, h.sess.UserID)
		if err != nil {
			h.log.Debug("user lookup failed", zap.Error(err))
			return
		}
		h.log.Info("listening", zap.String("name", name))
	})
}

// goSide runs fn off the loop. Stop cancels and waits for it.
func (h *Handle) goSide(fn func(ctx context.Context)) {
	h.side.Add(1)
	go func() {
		defer h.side.Done()
		ctx, cancel := context.WithTimeout(h.ctx, sideEffectTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (h *Handle) armRotation() {
	h.rotateTimer = time.NewTimer(randBetween(h.l.rotateMin, h.l.rotateMax))
}

func (h *Handle) armPresence() {
	h.presenceTimer = time.NewTimer(randBetween(h.l.presenceMin, h.l.presenceMax))
}

func randBetween(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
