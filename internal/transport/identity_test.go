package transport

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/and161185/fbrt/internal/model"
)

func TestNewIdentity_Fields(t *testing.T) {
	t.Parallel()

	sess := model.NewSession("1000", "client-1")
	sess.MQTTAppID = "219994525426954"
	opts := model.DefaultOptions()
	opts.Online = false

	id := NewIdentity(sess, opts)
	require.Equal(t, "1000", id.UserID)
	require.Equal(t, "client-1", id.DeviceID)
	require.False(t, id.ChatOn)
	require.False(t, id.Foreground)
	require.Positive(t, id.SessionID)
	require.LessOrEqual(t, id.SessionID, int64(maxSessionNumber))
	require.Equal(t, model.DefaultUserAgent, id.UserAgent)

	raw, err := id.Username()
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	assert.Equal(t, "websocket", m["ct"])
	assert.Equal(t, "219994525426954", m["aid"])
	assert.Nil(t, m["gas"])
	assert.Equal(t, true, m["no_auto_fg"])
	assert.Equal(t, []any{}, m["st"])
}

func TestNewIdentity_SessionUserAgentWins(t *testing.T) {
	t.Parallel()

	sess := model.NewSession("1", "c")
	sess.UserAgent = "custom/1.0"
	id := NewIdentity(sess, model.DefaultOptions())
	require.Equal(t, "custom/1.0", id.UserAgent)
}

func TestEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		base       string
		region     string
		override   string
		wantRegion string
	}{
		{name: "no region", wantRegion: ""},
		{name: "session region lowercased", region: "PRN", wantRegion: "prn"},
		{name: "override wins", region: "PRN", override: "ATN", wantRegion: "atn"},
		{name: "override replaces base query", base: "wss://edge-chat.messenger.com/chat?region=odn", override: "ftw", wantRegion: "ftw"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			u, err := Endpoint(tc.base, tc.region, tc.override, 42, "cid-1")
			require.NoError(t, err)
			require.Equal(t, "edge-chat.messenger.com", u.Host)
			require.Equal(t, "wss", u.Scheme)
			q := u.Query()
			require.Equal(t, tc.wantRegion, q.Get("region"))
			require.Equal(t, "42", q.Get("sid"))
			require.Equal(t, "cid-1", q.Get("cid"))
		})
	}
}

func TestEndpoint_BadBase(t *testing.T) {
	t.Parallel()

	_, err := Endpoint("://bad", "", "", 1, "c")
	require.Error(t, err)
}

func TestBrowserHeader(t *testing.T) {
	t.Parallel()

	h := BrowserHeader("c_user=1; xs=2", "ua/1")
	require.Equal(t, "c_user=1; xs=2", h.Get("Cookie"))
	require.Equal(t, "https://www.messenger.com", h.Get("Origin"))
	require.Equal(t, "ua/1", h.Get("User-Agent"))

	h = BrowserHeader("", "")
	require.Empty(t, h.Get("Cookie"))
	require.Empty(t, h.Get("User-Agent"))
}
