// Package resume builds the sync request issued once per successful connect.
//
// With a sync token the client asks for the diff since its last cursor;
// without one it asks the server to create a fresh delta queue.
package resume

import (
	"encoding/json"
	"fmt"

	"github.com/and161185/fbrt/internal/model"
)

// Sync request topics.
const (
	TopicGetDiffs    = "/messenger_sync_get_diffs"
	TopicCreateQueue = "/messenger_sync_create_queue"
)

// Request is a sync request ready to publish.
type Request struct {
	Topic   string
	Payload []byte
	Resume  bool
}

type queueParams struct {
	SyncAPIVersion         int             `json:"sync_api_version"`
	MaxDeltasAbleToProcess int             `json:"max_deltas_able_to_process"`
	DeltaBatchSize         int             `json:"delta_batch_size"`
	Encoding               string          `json:"encoding"`
	EntityFbID             string          `json:"entity_fbid"`
	LastSeqID              *int64          `json:"last_seq_id,omitempty"`
	SyncToken              string          `json:"sync_token,omitempty"`
	InitialTitanSeqID      *int64          `json:"initial_titan_sequence_id,omitempty"`
	DeviceParams           json.RawMessage `json:"device_params,omitempty"`
}

// Next returns the resume request when the session holds a sync token and
// the bootstrap request otherwise.
func Next(sess *model.Session) (Request, error) {
	seq := sess.LastSeqID
	p := queueParams{
		SyncAPIVersion:         10,
		MaxDeltasAbleToProcess: 1000,
		DeltaBatchSize:         500,
		Encoding:               "JSON",
		EntityFbID:             sess.UserID,
	}

	req := Request{}
	if sess.SyncToken != "" {
		req.Topic = TopicGetDiffs
		req.Resume = true
		p.LastSeqID = &seq
		p.SyncToken = sess.SyncToken
	} else {
		req.Topic = TopicCreateQueue
		p.InitialTitanSeqID = &seq
		p.DeviceParams = json.RawMessage("null")
	}

	b, err := json.Marshal(p)
	if err != nil {
		return Request{}, fmt.Errorf("marshal sync request: %w", err)
	}
	req.Payload = b
	return req, nil
}
