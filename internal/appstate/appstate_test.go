package appstate

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/fbrt/internal/errs"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    map[string]string
		wantErr error
	}{
		{
			name: "json array with key",
			in:   `[{"key":"c_user","value":"100","domain":"facebook.com"},{"key":"xs","value":"a%3Ab"}]`,
			want: map[string]string{"c_user": "100", "xs": "a%3Ab"},
		},
		{
			name: "json array with name",
			in:   `[{"name":"c_user","value":"100"},{"value":"orphan"}]`,
			want: map[string]string{"c_user": "100"},
		},
		{
			name: "cookie string",
			in:   " c_user=100; xs=abc ;datr=x=y; ;junk",
			want: map[string]string{"c_user": "100", "xs": "abc", "datr": "x=y"},
		},
		{name: "empty", in: "  ", wantErr: errs.ErrMissingCredential},
		{name: "no cookies", in: "[]", wantErr: errs.ErrMissingCredential},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cookies, err := Parse([]byte(tc.in))
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			got := map[string]string{}
			for _, c := range cookies {
				got[c.Name] = c.Value
			}
			require.Equal(t, tc.want, got)
		})
	}
}

func TestParse_BadJSON(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`[{"key":`))
	require.Error(t, err)
}

func TestUserID(t *testing.T) {
	t.Parallel()

	c, err := Parse([]byte("c_user=100; xs=1"))
	require.NoError(t, err)
	id, err := UserID(c)
	require.NoError(t, err)
	require.Equal(t, "100", id)

	c, err = Parse([]byte("c_user=100; i_user=200"))
	require.NoError(t, err)
	id, err = UserID(c)
	require.NoError(t, err)
	require.Equal(t, "200", id)

	c, err = Parse([]byte("xs=1"))
	require.NoError(t, err)
	_, err = UserID(c)
	require.ErrorIs(t, err, errs.ErrMissingCredential)
}

func TestJar(t *testing.T) {
	t.Parallel()

	c, err := Parse([]byte("c_user=100; xs=abc"))
	require.NoError(t, err)
	jar, err := NewJar(c)
	require.NoError(t, err)

	for _, raw := range []string{"https://www.facebook.com/", "https://edge-chat.facebook.com/chat", "https://www.messenger.com/t/1"} {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		h := Header(jar, u)
		require.Contains(t, h, "c_user=100", raw)
		require.Contains(t, h, "xs=abc", raw)
	}

	u, _ := url.Parse("https://example.com/")
	require.Empty(t, Header(jar, u))

	raw, err := Export(jar)
	require.NoError(t, err)
	again, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, again, 2)
}
