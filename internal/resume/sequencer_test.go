package resume

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/fbrt/internal/model"
)

func decode(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	return m
}

func TestNext_ResumeWhenSyncTokenPresent(t *testing.T) {
	t.Parallel()

	sess := model.NewSession("100", "c")
	sess.LastSeqID = 77
	sess.SyncToken = "tok"

	req, err := Next(sess)
	require.NoError(t, err)
	require.True(t, req.Resume)
	require.Equal(t, TopicGetDiffs, req.Topic)

	m := decode(t, req.Payload)
	require.EqualValues(t, 77, m["last_seq_id"])
	require.Equal(t, "tok", m["sync_token"])
	require.Equal(t, "100", m["entity_fbid"])
	require.EqualValues(t, 10, m["sync_api_version"])
	require.NotContains(t, m, "initial_titan_sequence_id")
	require.NotContains(t, m, "device_params")
}

func TestNext_BootstrapWithoutSyncToken(t *testing.T) {
	t.Parallel()

	sess := model.NewSession("100", "c")
	sess.LastSeqID = 12

	req, err := Next(sess)
	require.NoError(t, err)
	require.False(t, req.Resume)
	require.Equal(t, TopicCreateQueue, req.Topic)

	m := decode(t, req.Payload)
	require.EqualValues(t, 12, m["initial_titan_sequence_id"])
	require.Contains(t, m, "device_params")
	require.Nil(t, m["device_params"])
	require.NotContains(t, m, "sync_token")
	require.NotContains(t, m, "last_seq_id")
	require.Equal(t, "JSON", m["encoding"])
}

func TestNext_Deterministic(t *testing.T) {
	t.Parallel()

	for _, token := range []string{"", "abc"} {
		sess := model.NewSession("1", "c")
		sess.SyncToken = token
		first, err := Next(sess)
		require.NoError(t, err)
		for i := 0; i < 10; i++ {
			again, err := Next(sess)
			require.NoError(t, err)
			require.Equal(t, first.Topic, again.Topic)
			require.Equal(t, token != "", again.Resume)
		}
	}
}
