package webapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/and161185/fbrt/internal/model"
)

const inboxDocID = "3336396659757871"

type graphqlQuery struct {
	DocID       string         `json:"doc_id"`
	QueryParams map[string]any `json:"query_params"`
}

type seqIDReply struct {
	O0 struct {
		Data struct {
			Viewer struct {
				MessageThreads struct {
					SyncSequenceID json.RawMessage `json:"sync_sequence_id"`
				} `json:"message_threads"`
			} `json:"viewer"`
		} `json:"data"`
	} `json:"o0"`
}

// FetchSeqID asks the inbox query for the current sync sequence id. It is used
// when the home page did not carry one.
func (c *Client) FetchSeqID(ctx context.Context, _ *model.Session) (int64, error) {
	queries, err := json.Marshal(map[string]graphqlQuery{
		"o0": {
			DocID: inboxDocID,
			QueryParams: map[string]any{
				"limit":                   1,
				"before":                  nil,
				"tags":                    []string{"INBOX"},
				"includeDeliveryReceipts": false,
				"includeSeqID":            true,
			},
		},
	})
	if err != nil {
		return 0, err
	}
	form := url.Values{}
	form.Set("queries", string(queries))
	form.Set("batch_name", "MessengerGraphQLThreadlistFetcher")

	var replies []json.RawMessage
	if err := c.post(ctx, "/api/graphqlbatch/", form, &replies); err != nil {
		return 0, err
	}
	if len(replies) == 0 {
		return 0, fmt.Errorf("webapi: empty graphql batch reply")
	}
	var r seqIDReply
	if err := json.Unmarshal(replies[0], &r); err != nil {
		return 0, fmt.Errorf("webapi: decode seq id: %w", err)
	}
	return parseSeqID(r.O0.Data.Viewer.MessageThreads.SyncSequenceID)
}

// parseSeqID accepts the id as either a JSON string or number.
func parseSeqID(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, fmt.Errorf("webapi: reply has no sync_sequence_id")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		s = string(raw)
	}
	seq, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("webapi: sync_sequence_id %q: %w", s, err)
	}
	return seq, nil
}
