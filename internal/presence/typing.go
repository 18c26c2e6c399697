package presence

import (
	"encoding/json"
	"fmt"
)

// TopicTyping is the request topic carrying typing indicators.
const TopicTyping = "/ls_req"

const (
	typingAppID   int64 = 2220391788200892
	typingVersion int64 = 5849951561777440
	typingLabel         = 3
	typingReqType       = 4

	// Thread ids at least this long belong to group threads.
	groupThreadIDLen = 16
)

type typingInner struct {
	ThreadKey     string `json:"thread_key"`
	IsGroupThread int    `json:"is_group_thread"`
	IsTyping      int    `json:"is_typing"`
	Attribution   int    `json:"attribution"`
}

type typingTask struct {
	Label   int    `json:"label"`
	Payload string `json:"payload"`
	Version int64  `json:"version"`
}

type typingRequest struct {
	AppID     int64  `json:"app_id"`
	Payload   string `json:"payload"`
	RequestID int64  `json:"request_id"`
	Type      int    `json:"type"`
}

// TypingPayload builds the /ls_req body for a typing indicator. Inner payloads are
// JSON documents serialized into strings, as the server expects.
func TypingPayload(threadID string, typing bool, requestID int64) ([]byte, error) {
	inner, err := json.Marshal(typingInner{
		ThreadKey:     threadID,
		IsGroupThread: b2i(len(threadID) >= groupThreadIDLen),
		IsTyping:      b2i(typing),
	})
	if err != nil {
		return nil, fmt.Errorf("typing payload: %w", err)
	}
	task, err := json.Marshal(typingTask{Label: typingLabel, Payload: string(inner), Version: typingVersion})
	if err != nil {
		return nil, fmt.Errorf("typing payload: %w", err)
	}
	return json.Marshal(typingRequest{
		AppID:     typingAppID,
		Payload:   string(task),
		RequestID: requestID,
		Type:      typingReqType,
	})
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
