package delta

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// flexID accepts ids encoded either as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

// Int parses the id as a decimal integer, returning 0 when it is not one.
func (f flexID) Int() int64 {
	n, err := strconv.ParseInt(string(f), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func idStrings(in []flexID) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		out = append(out, FormatID(string(v)))
	}
	return out
}

type threadKey struct {
	ThreadFbID    flexID `json:"threadFbId"`
	OtherUserFbID flexID `json:"otherUserFbId"`
}

// id prefers the group thread id over the 1:1 peer.
func (k threadKey) id() string {
	if k.ThreadFbID != "" {
		return string(k.ThreadFbID)
	}
	return string(k.OtherUserFbID)
}

type messageMetadata struct {
	ThreadKey          threadKey `json:"threadKey"`
	MessageID          flexID    `json:"messageId"`
	OfflineThreadingID flexID    `json:"offlineThreadingId"`
	ActorFbID          flexID    `json:"actorFbId"`
	Timestamp          flexID    `json:"timestamp"`
	AdminText          string    `json:"adminText"`
}

// syncFrame is a /t_ms payload.
type syncFrame struct {
	LastIssuedSeqID flexID            `json:"lastIssuedSeqId"`
	FirstDeltaSeqID flexID            `json:"firstDeltaSeqId"`
	SyncToken       string            `json:"syncToken"`
	ErrorCode       string            `json:"errorCode"`
	Deltas          []json.RawMessage `json:"deltas"`
}

type deltaHeader struct {
	Class string `json:"class"`
}

type newMessage struct {
	MessageMetadata *messageMetadata  `json:"messageMetadata"`
	Body            string            `json:"body"`
	Attachments     []json.RawMessage `json:"attachments"`
	Participants    []flexID          `json:"participants"`
	Data            struct {
		Prng string `json:"prng"`
	} `json:"data"`
}

type adminDelta struct {
	Class           string           `json:"class"`
	Type            string           `json:"type"`
	MessageMetadata *messageMetadata `json:"messageMetadata"`
	Participants    []flexID         `json:"participants"`
	UntypedData     json.RawMessage  `json:"untypedData"`

	Name                string            `json:"name"`
	AddedParticipants   []json.RawMessage `json:"addedParticipants"`
	LeftParticipantFbID flexID            `json:"leftParticipantFbId"`

	Action        string `json:"action"`
	RecipientFbID flexID `json:"recipientFbId"`
	RequestSource string `json:"requestSource"`
}

type readReceiptDelta struct {
	ThreadKey         threadKey `json:"threadKey"`
	ActorFbID         flexID    `json:"actorFbId"`
	ActionTimestampMs flexID    `json:"actionTimestampMs"`
}

type markReadDelta struct {
	ThreadKeys      []threadKey `json:"threadKeys"`
	ActionTimestamp flexID      `json:"actionTimestamp"`
}

type clientPayloadDelta struct {
	Payload []int `json:"payload"`
}

type clientPayload struct {
	Deltas []struct {
		DeltaMessageReply *struct {
			Message          *newMessage `json:"message"`
			RepliedToMessage *newMessage `json:"repliedToMessage"`
		} `json:"deltaMessageReply"`
	} `json:"deltas"`
}

type typingFrame struct {
	SenderFbID flexID `json:"sender_fbid"`
	Thread     flexID `json:"thread"`
	State      int    `json:"state"`
}

type presenceFrame struct {
	List []struct {
		U flexID `json:"u"`
		P int    `json:"p"`
		L int64  `json:"l"`
	} `json:"list"`
}
