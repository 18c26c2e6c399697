package delta

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf16"

	"github.com/and161185/fbrt/internal/model"
)

var errMissingMetadata = errors.New("delta: missing messageMetadata")

// adminTextTypes maps AdminTextMessage types to log message types.
var adminTextTypes = map[string]string{
	"unpin_messages_v2":             "log:unpin-message",
	"pin_messages_v2":               "log:pin-message",
	"change_thread_theme":           "log:thread-color",
	"change_thread_icon":            "log:thread-icon",
	"change_thread_quick_reaction":  "log:thread-icon",
	"change_thread_nickname":        "log:user-nickname",
	"change_thread_admins":          "log:thread-admins",
	"group_poll":                    "log:thread-poll",
	"change_thread_approval_mode":   "log:thread-approval-mode",
	"messenger_call_log":            "log:thread-call",
	"participant_joined_group_call": "log:thread-call",
}

func adminTextType(t string) string {
	if mapped, ok := adminTextTypes[t]; ok {
		return mapped
	}
	return t
}

func formatMessage(m *newMessage) (*model.MessageEvent, error) {
	md := m.MessageMetadata
	if md == nil {
		return nil, errMissingMetadata
	}
	thread := md.ThreadKey.id()
	if thread == "" {
		return nil, errors.New("delta: message without thread key")
	}
	mentions, err := decodeMentions(m.Body, m.Data.Prng)
	if err != nil {
		return nil, err
	}
	attachments := m.Attachments
	if attachments == nil {
		attachments = []json.RawMessage{}
	}
	return &model.MessageEvent{
		Kind:               model.TypeMessage,
		SenderID:           FormatID(string(md.ActorFbID)),
		Body:               m.Body,
		ThreadID:           FormatID(thread),
		MessageID:          string(md.MessageID),
		OfflineThreadingID: string(md.OfflineThreadingID),
		Attachments:        attachments,
		Mentions:           mentions,
		Timestamp:          md.Timestamp.Int(),
		IsGroup:            md.ThreadKey.ThreadFbID != "",
		ParticipantIDs:     idStrings(m.Participants),
	}, nil
}

type mentionRange struct {
	ID     flexID `json:"i"`
	Offset int    `json:"o"`
	Length int    `json:"l"`
}

// decodeMentions resolves prng ranges, which count UTF-16 code units, against body.
func decodeMentions(body, prng string) (map[string]string, error) {
	out := map[string]string{}
	if prng == "" {
		return out, nil
	}
	var ranges []mentionRange
	if err := json.Unmarshal([]byte(prng), &ranges); err != nil {
		return nil, fmt.Errorf("delta: mentions: %w", err)
	}
	units := utf16.Encode([]rune(body))
	for _, r := range ranges {
		if r.Offset < 0 || r.Length < 0 || r.Offset > len(units) || r.Length > len(units)-r.Offset {
			continue
		}
		out[string(r.ID)] = string(utf16.Decode(units[r.Offset : r.Offset+r.Length]))
	}
	return out, nil
}

func formatReply(p *clientPayload) []model.Event {
	var out []model.Event
	for _, d := range p.Deltas {
		reply := d.DeltaMessageReply
		if reply == nil || reply.Message == nil {
			continue
		}
		msg, err := formatMessage(reply.Message)
		if err != nil {
			continue
		}
		ev := &model.MessageReplyEvent{MessageEvent: *msg}
		ev.Kind = model.TypeMessageReply
		if reply.RepliedToMessage != nil {
			if quoted, err := formatMessage(reply.RepliedToMessage); err == nil {
				ev.MessageReply = quoted
			}
		}
		out = append(out, ev)
	}
	return out
}

func formatThreadEvent(d *adminDelta) (*model.ThreadEvent, error) {
	md := d.MessageMetadata
	if md == nil {
		return nil, errMissingMetadata
	}

	var (
		logType string
		data    any
	)
	switch d.Class {
	case "AdminTextMessage":
		logType = adminTextType(d.Type)
		if len(d.UntypedData) > 0 {
			data = d.UntypedData
		}
	case "ThreadName":
		logType = "log:thread-name"
		data = map[string]any{"name": d.Name}
	case "ParticipantsAddedToGroupThread":
		logType = "log:subscribe"
		data = map[string]any{"addedParticipants": d.AddedParticipants}
	case "ParticipantLeftGroupThread":
		logType = "log:unsubscribe"
		data = map[string]any{"leftParticipantFbId": string(d.LeftParticipantFbID)}
	case "ApprovalQueue":
		logType = "log:approval-queue"
		data = map[string]any{"approvalQueue": map[string]any{
			"action":        d.Action,
			"recipientFbId": string(d.RecipientFbID),
			"requestSource": d.RequestSource,
			"messageId":     string(md.MessageID),
		}}
	}

	ev := &model.ThreadEvent{
		Kind:           model.TypeEvent,
		ThreadID:       FormatID(md.ThreadKey.id()),
		MessageID:      string(md.MessageID),
		LogMessageType: logType,
		LogMessageBody: md.AdminText,
		Timestamp:      md.Timestamp.Int(),
		Author:         FormatID(string(md.ActorFbID)),
		ParticipantIDs: idStrings(d.Participants),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("delta: log data: %w", err)
		}
		ev.LogMessageData = raw
	}
	return ev, nil
}

func formatReadReceipt(d *readReceiptDelta) (*model.ReadReceiptEvent, error) {
	reader := d.ThreadKey.OtherUserFbID
	if reader == "" {
		reader = d.ActorFbID
	}
	thread := d.ThreadKey.OtherUserFbID
	if thread == "" {
		thread = d.ThreadKey.ThreadFbID
	}
	if reader == "" || thread == "" {
		return nil, errors.New("delta: read receipt without thread")
	}
	return &model.ReadReceiptEvent{
		Kind:     model.TypeReadReceipt,
		Reader:   FormatID(string(reader)),
		Time:     d.ActionTimestampMs.Int(),
		ThreadID: FormatID(string(thread)),
	}, nil
}

func formatRead(d *markReadDelta) (*model.ReadEvent, error) {
	if len(d.ThreadKeys) == 0 || d.ThreadKeys[0].id() == "" {
		return nil, errors.New("delta: mark read without thread keys")
	}
	return &model.ReadEvent{
		Kind:     model.TypeRead,
		ThreadID: FormatID(d.ThreadKeys[0].id()),
		Time:     d.ActionTimestamp.Int(),
	}, nil
}

func formatTyping(f *typingFrame) (*model.TypingEvent, error) {
	if f.SenderFbID == "" {
		return nil, errors.New("delta: typing without sender")
	}
	thread := f.Thread
	if thread == "" {
		thread = f.SenderFbID
	}
	return &model.TypingEvent{
		Kind:     model.TypeTyping,
		IsTyping: f.State != 0,
		From:     string(f.SenderFbID),
		ThreadID: FormatID(string(thread)),
	}, nil
}

func decodeClientPayload(d *clientPayloadDelta) (*clientPayload, error) {
	raw := make([]byte, len(d.Payload))
	for i, v := range d.Payload {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("delta: client payload byte %d out of range", i)
		}
		raw[i] = byte(v)
	}
	var p clientPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("delta: client payload: %w", err)
	}
	return &p, nil
}
