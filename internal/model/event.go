package model

import "encoding/json"

// EventType is the tag of a normalized event.
type EventType string

// Event tags as delivered to the sink.
const (
	TypeMessage      EventType = "message"
	TypeMessageReply EventType = "message_reply"
	TypeTyping       EventType = "typ"
	TypeReadReceipt  EventType = "read_receipt"
	TypeRead         EventType = "read"
	TypePresence     EventType = "presence"
	TypeEvent        EventType = "event"
	TypeError        EventType = "error"
)

// Event is the closed set of normalized events. Only types in this package implement it.
type Event interface {
	Type() EventType
	Thread() string
	event()
}

// MessageEvent is a new message in a thread.
type MessageEvent struct {
	Kind               EventType         `json:"type" yaml:"type"`
	SenderID           string            `json:"senderID" yaml:"senderID"`
	Body               string            `json:"body" yaml:"body"`
	ThreadID           string            `json:"threadID" yaml:"threadID"`
	MessageID          string            `json:"messageID" yaml:"messageID"`
	OfflineThreadingID string            `json:"offlineThreadingId,omitempty" yaml:"offlineThreadingId,omitempty"`
	Attachments        []json.RawMessage `json:"attachments" yaml:"-"`
	Mentions           map[string]string `json:"mentions" yaml:"mentions"`
	Timestamp          int64             `json:"timestamp" yaml:"timestamp"`
	IsGroup            bool              `json:"isGroup" yaml:"isGroup"`
	ParticipantIDs     []string          `json:"participantIDs,omitempty" yaml:"participantIDs,omitempty"`
}

// MessageReplyEvent is a message quoting an earlier one.
type MessageReplyEvent struct {
	MessageEvent `yaml:",inline"`
	MessageReply *MessageEvent `json:"messageReply,omitempty" yaml:"messageReply,omitempty"`
}

// TypingEvent reports a participant starting or stopping to type.
type TypingEvent struct {
	Kind     EventType `json:"type" yaml:"type"`
	IsTyping bool      `json:"isTyping" yaml:"isTyping"`
	From     string    `json:"from" yaml:"from"`
	ThreadID string    `json:"threadID" yaml:"threadID"`
}

// ReadReceiptEvent reports another participant reading a thread.
type ReadReceiptEvent struct {
	Kind     EventType `json:"type" yaml:"type"`
	Reader   string    `json:"reader" yaml:"reader"`
	Time     int64     `json:"time" yaml:"time"`
	ThreadID string    `json:"threadID" yaml:"threadID"`
}

// ReadEvent reports this account reading a thread from another client.
type ReadEvent struct {
	Kind     EventType `json:"type" yaml:"type"`
	ThreadID string    `json:"threadID" yaml:"threadID"`
	Time     int64     `json:"time" yaml:"time"`
}

// PresenceEvent reports a contact's online status.
type PresenceEvent struct {
	Kind      EventType `json:"type" yaml:"type"`
	UserID    string    `json:"userID" yaml:"userID"`
	Timestamp int64     `json:"timestamp" yaml:"timestamp"`
	Statuses  int       `json:"statuses" yaml:"statuses"`
}

// ThreadEvent is an administrative change to a thread or group.
type ThreadEvent struct {
	Kind           EventType       `json:"type" yaml:"type"`
	ThreadID       string          `json:"threadID" yaml:"threadID"`
	MessageID      string          `json:"messageID" yaml:"messageID"`
	LogMessageType string          `json:"logMessageType" yaml:"logMessageType"`
	LogMessageData json.RawMessage `json:"logMessageData,omitempty" yaml:"-"`
	LogMessageBody string          `json:"logMessageBody" yaml:"logMessageBody"`
	Timestamp      int64           `json:"timestamp" yaml:"timestamp"`
	Author         string          `json:"author" yaml:"author"`
	ParticipantIDs []string        `json:"participantIDs,omitempty" yaml:"participantIDs,omitempty"`
}

// ErrorEvent is a protocol-level failure delivered to the sink.
type ErrorEvent struct {
	Kind  EventType `json:"type" yaml:"type"`
	Err   error     `json:"-" yaml:"-"`
	Error string    `json:"error" yaml:"error"`
	Fatal bool      `json:"fatal" yaml:"fatal"`
}

// NewErrorEvent wraps err for delivery to the sink.
func NewErrorEvent(err error, fatal bool) *ErrorEvent {
	return &ErrorEvent{Kind: TypeError, Err: err, Error: err.Error(), Fatal: fatal}
}

func (e *MessageEvent) Type() EventType      { return TypeMessage }
func (e *MessageEvent) Thread() string       { return e.ThreadID }
func (e *MessageReplyEvent) Type() EventType { return TypeMessageReply }
func (e *MessageReplyEvent) Thread() string  { return e.ThreadID }
func (e *TypingEvent) Type() EventType       { return TypeTyping }
func (e *TypingEvent) Thread() string        { return e.ThreadID }
func (e *ReadReceiptEvent) Type() EventType  { return TypeReadReceipt }
func (e *ReadReceiptEvent) Thread() string   { return e.ThreadID }
func (e *ReadEvent) Type() EventType         { return TypeRead }
func (e *ReadEvent) Thread() string          { return e.ThreadID }
func (e *PresenceEvent) Type() EventType     { return TypePresence }
func (e *PresenceEvent) Thread() string      { return "" }
func (e *ThreadEvent) Type() EventType       { return TypeEvent }
func (e *ThreadEvent) Thread() string        { return e.ThreadID }
func (e *ErrorEvent) Type() EventType        { return TypeError }
func (e *ErrorEvent) Thread() string         { return "" }

func (*MessageEvent) event()      {}
func (*MessageReplyEvent) event() {}
func (*TypingEvent) event()       {}
func (*ReadReceiptEvent) event()  {}
func (*ReadEvent) event()         {}
func (*PresenceEvent) event()     {}
func (*ThreadEvent) event()       {}
func (*ErrorEvent) event()        {}
