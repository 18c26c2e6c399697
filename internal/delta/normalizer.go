// Package delta turns raw frames from the real-time connection into normalized events
// and keeps the session's sync cursor in step with them.
package delta

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/fbrt/internal/model"
)

// Topics carrying frames the normalizer understands.
const (
	TopicSync         = "/t_ms"
	TopicThreadTyping = "/thread_typing"
	TopicOrcaTyping   = "/orca_typing_notifications"
	TopicPresence     = "/orca_presence"
)

const (
	errQueueNotFound    = "ERROR_QUEUE_NOT_FOUND"
	errQueueOverflow    = "ERROR_QUEUE_OVERFLOW"
	clientPayloadClass  = "ClientPayload"
	presenceTimestampMs = 1000
)

// Normalizer maps frames to events. It is not safe for concurrent use: the listener
// run that owns the session calls it from its single loop.
type Normalizer struct {
	sess *model.Session
	log  *zap.Logger

	SelfListen   bool
	ListenEvents bool

	resync bool
}

// New returns a normalizer bound to sess. A nil logger disables logging.
func New(sess *model.Session, log *zap.Logger, selfListen, listenEvents bool) *Normalizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Normalizer{sess: sess, log: log, SelfListen: selfListen, ListenEvents: listenEvents}
}

// TakeResync reports whether the server dropped our queue since the last call.
// The caller should reconnect so that a fresh create-queue request is sent.
func (n *Normalizer) TakeResync() bool {
	r := n.resync
	n.resync = false
	return r
}

// Normalize decodes one frame. Frames on unknown topics yield no events.
func (n *Normalizer) Normalize(topic string, payload []byte) []model.Event {
	switch topic {
	case TopicSync:
		return n.syncFrame(payload)
	case TopicThreadTyping, TopicOrcaTyping:
		var f typingFrame
		if err := json.Unmarshal(payload, &f); err != nil {
			n.log.Warn("bad typing frame", zap.String("topic", topic), zap.Error(err))
			return nil
		}
		ev, err := formatTyping(&f)
		if err != nil {
			n.log.Warn("bad typing frame", zap.String("topic", topic), zap.Error(err))
			return nil
		}
		return []model.Event{ev}
	case TopicPresence:
		return n.presence(payload)
	default:
		return nil
	}
}

func (n *Normalizer) syncFrame(payload []byte) []model.Event {
	var f syncFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		n.log.Warn("bad sync frame", zap.Error(err))
		return nil
	}

	switch {
	case f.SyncToken != "" && f.FirstDeltaSeqID != "" && n.sess.SyncToken == "":
		n.sess.ResetCursor(f.FirstDeltaSeqID.Int(), f.SyncToken)
		n.log.Debug("sync queue created", zap.Int64("seq_id", n.sess.LastSeqID))
	case f.ErrorCode == errQueueNotFound || f.ErrorCode == errQueueOverflow:
		n.log.Warn("sync queue lost", zap.String("code", f.ErrorCode))
		n.sess.SyncToken = ""
		n.resync = true
	case f.ErrorCode != "":
		n.log.Warn("sync error", zap.String("code", f.ErrorCode))
	case f.FirstDeltaSeqID != "":
		// a resumed queue never rewinds the cursor
		n.sess.AdvanceSeqID(f.FirstDeltaSeqID.Int())
	}
	if f.LastIssuedSeqID != "" {
		n.sess.AdvanceSeqID(f.LastIssuedSeqID.Int())
	}

	var out []model.Event
	for i, raw := range f.Deltas {
		evs, err := n.safeDelta(raw)
		if err != nil {
			n.log.Warn("skipping delta", zap.Int("index", i), zap.Error(err))
			continue
		}
		out = append(out, evs...)
	}
	return out
}

// safeDelta confines a failing formatter to the delta that triggered it.
func (n *Normalizer) safeDelta(raw json.RawMessage) (evs []model.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			evs, err = nil, fmt.Errorf("delta panic: %v", r)
		}
	}()
	return n.delta(raw)
}

func (n *Normalizer) delta(raw json.RawMessage) ([]model.Event, error) {
	var h deltaHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("delta header: %w", err)
	}

	switch h.Class {
	case "NewMessage":
		var m newMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("NewMessage: %w", err)
		}
		ev, err := formatMessage(&m)
		if err != nil {
			return nil, err
		}
		if n.own(ev.SenderID) {
			return nil, nil
		}
		return []model.Event{ev}, nil

	case clientPayloadClass:
		var d clientPayloadDelta
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("ClientPayload: %w", err)
		}
		p, err := decodeClientPayload(&d)
		if err != nil {
			return nil, err
		}
		var out []model.Event
		for _, ev := range formatReply(p) {
			if r, ok := ev.(*model.MessageReplyEvent); ok && n.own(r.SenderID) {
				continue
			}
			out = append(out, ev)
		}
		return out, nil

	case "ReadReceipt":
		var d readReceiptDelta
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("ReadReceipt: %w", err)
		}
		ev, err := formatReadReceipt(&d)
		if err != nil {
			return nil, err
		}
		return []model.Event{ev}, nil

	case "MarkRead":
		var d markReadDelta
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("MarkRead: %w", err)
		}
		ev, err := formatRead(&d)
		if err != nil {
			return nil, err
		}
		return []model.Event{ev}, nil

	case "AdminTextMessage", "ThreadName", "ParticipantsAddedToGroupThread",
		"ParticipantLeftGroupThread", "ApprovalQueue":
		if !n.ListenEvents {
			return nil, nil
		}
		var d adminDelta
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("%s: %w", h.Class, err)
		}
		ev, err := formatThreadEvent(&d)
		if err != nil {
			return nil, err
		}
		return []model.Event{ev}, nil

	default:
		return nil, nil
	}
}

func (n *Normalizer) own(sender string) bool {
	return !n.SelfListen && sender != "" && sender == n.sess.UserID
}

func (n *Normalizer) presence(payload []byte) []model.Event {
	var f presenceFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		n.log.Warn("bad presence frame", zap.Error(err))
		return nil
	}
	out := make([]model.Event, 0, len(f.List))
	for _, p := range f.List {
		if p.U == "" {
			continue
		}
		out = append(out, &model.PresenceEvent{
			Kind:      model.TypePresence,
			UserID:    FormatID(string(p.U)),
			Timestamp: p.L * presenceTimestampMs,
			Statuses:  p.P,
		})
	}
	return out
}
