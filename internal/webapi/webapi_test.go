package webapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/fbrt/internal/errs"
)

const homePage = `<html><head>
<script type="application/json" data-sjs>{"require":[["DTSGInitialData",[],{"token":"AQH"}],["LSD",[],{"token":"lsd1"}],["MqttWebConfig",[],{"appID":219994525426954,"endpoint":"wss://edge-chat.facebook.com/chat?region=prn&sid=1"}]]}</script>
<script type="application/json">{"require":[["ScheduledServerJS","handle",null,[{"__bbox":{"define":[["MqttWebDeviceID",[],{"clientID":"dev-1"},1],["CurrentUserInitialData",[],{"APP_ID":"2220391788200892"},2]]}}]]]}</script>
<script type="application/json">{not json}</script>
<script>var x = {irisSeqID:"1234"}; var s = {"server_revision":1012345,"other":1};</script>
</head></html>`

func newTestClient(t *testing.T, h http.Handler, cookies ...*http.Cookie) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	if len(cookies) == 0 {
		cookies = []*http.Cookie{{Name: "c_user", Value: "100"}, {Name: "xs", Value: "secret"}}
	}
	jar.SetCookies(u, cookies)

	c, err := New(jar, Config{BaseURL: srv.URL, RetryDelay: time.Millisecond}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return c, srv
}

// bootstrapped returns a client whose tokens were loaded from homePage.
func bootstrapped(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, homePage)
	})
	c, _ := newTestClient(t, mux)
	_, err := c.Bootstrap(context.Background())
	require.NoError(t, err)
	return c
}

func TestBootstrap(t *testing.T) {
	t.Parallel()

	cookies := make(chan string, 1)
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookies <- r.Header.Get("Cookie")
		_, _ = io.WriteString(w, homePage)
	}))

	sess, err := c.Bootstrap(context.Background())
	require.NoError(t, err)
	require.Contains(t, <-cookies, "c_user=100")

	require.Equal(t, "100", sess.UserID)
	require.Equal(t, "dev-1", sess.ClientID)
	require.Equal(t, "AQH", sess.DTSG)
	require.Equal(t, "PRN", sess.Region)
	require.Equal(t, "2220391788200892", sess.MQTTAppID)
	require.Equal(t, "wss://edge-chat.facebook.com/chat", sess.Endpoint)
	require.Equal(t, int64(1234), sess.LastSeqID)
	require.True(t, sess.FirstConnection)

	tok := c.tokens()
	require.Equal(t, "lsd1", tok.lsd)
	require.Equal(t, "2218", tok.jazoest)
	require.Equal(t, "1012345", tok.revision)
}

func TestBootstrap_MissingCredentials(t *testing.T) {
	t.Parallel()

	page := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>login</html>")
	})

	c, _ := newTestClient(t, page)
	_, err := c.Bootstrap(context.Background())
	require.ErrorIs(t, err, errs.ErrMissingCredential)

	c, _ = newTestClient(t, page, &http.Cookie{Name: "xs", Value: "1"})
	_, err = c.Bootstrap(context.Background())
	require.ErrorIs(t, err, errs.ErrMissingCredential)
}

func TestJazoest(t *testing.T) {
	t.Parallel()

	require.Equal(t, "2218", Jazoest("AQH"))
	require.Equal(t, "20", Jazoest(""))
}

func TestFetchSeqID(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/graphqlbatch/", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("fb_dtsg") != "AQH" || r.PostForm.Get("jazoest") != "2218" || r.PostForm.Get("av") != "100" {
			http.Error(w, "bad tokens", http.StatusBadRequest)
			return
		}
		var q map[string]graphqlQuery
		if err := json.Unmarshal([]byte(r.PostForm.Get("queries")), &q); err != nil || q["o0"].DocID != inboxDocID {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, "for (;;);{\"o0\":{\"data\":{\"viewer\":{\"message_threads\":{\"sync_sequence_id\":\"5678\"}}}}}\r\n{\"successful_results\":1,\"error_results\":0}")
	})
	c := bootstrapped(t, mux)

	seq, err := c.FetchSeqID(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, int64(5678), seq)
}

func TestParseSeqID(t *testing.T) {
	t.Parallel()

	seq, err := parseSeqID(json.RawMessage(`"42"`))
	require.NoError(t, err)
	require.Equal(t, int64(42), seq)

	seq, err = parseSeqID(json.RawMessage(`43`))
	require.NoError(t, err)
	require.Equal(t, int64(43), seq)

	_, err = parseSeqID(json.RawMessage(`null`))
	require.Error(t, err)
	_, err = parseSeqID(json.RawMessage(`"x"`))
	require.Error(t, err)
}

func TestMarkAsRead(t *testing.T) {
	t.Parallel()

	forms := make(chan url.Values, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ajax/mercury/change_read_status.php", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		forms <- r.PostForm
		_, _ = io.WriteString(w, `for (;;);{"payload":{}}`)
	})
	c := bootstrapped(t, mux)

	require.NoError(t, c.MarkAsRead(context.Background(), "t1"))
	form := <-forms
	require.Equal(t, "true", form.Get("ids[t1]"))
	require.Equal(t, "true", form.Get("shouldSendReadReceipt"))
	require.NotEmpty(t, form.Get("watermarkTimestamp"))
	require.Equal(t, "lsd1", form.Get("lsd"))
}

func TestUserName(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat/user_info/", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		switch r.PostForm.Get("ids[0]") {
		case "7":
			_, _ = io.WriteString(w, `for (;;);{"error":3252001,"payload":{"profiles":{"7":{"name":"Ann Lee"}}}}`)
		case "8":
			_, _ = io.WriteString(w, `for (;;);{"error":1357001,"errorSummary":"Not logged in"}`)
		default:
			_, _ = io.WriteString(w, `for (;;);{"error":1545012,"errorSummary":"Temporary failure"}`)
		}
	})
	c := bootstrapped(t, mux)

	name, err := c.UserName(context.Background(), "7")
	require.NoError(t, err)
	require.Equal(t, "Ann Lee", name)

	_, err = c.UserName(context.Background(), "8")
	require.ErrorIs(t, err, errs.ErrNotLoggedIn)

	_, err = c.UserName(context.Background(), "9")
	require.ErrorContains(t, err, "Temporary failure")
}

func TestRetryOnServerError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ajax/mercury/change_read_status.php", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{}`)
	})
	mux.HandleFunc("POST /chat/user_info/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	c := bootstrapped(t, mux)

	require.NoError(t, c.MarkAsRead(context.Background(), "t1"))
	require.Equal(t, int32(3), calls.Load())

	_, err := c.UserName(context.Background(), "7")
	require.ErrorContains(t, err, "status 403")
}

func TestParsable(t *testing.T) {
	t.Parallel()

	require.Equal(t, `{"a":1}`, string(parsable([]byte(`for (;;);{"a":1}`))))
	require.Equal(t, `[{"a":1},{"b":2}]`, string(parsable([]byte("{\"a\":1}\r\n{\"b\":2}"))))
	require.Equal(t, `[{"a":1},{"b":2}]`, string(parsable([]byte("{\"a\":1}\r\n  {\"b\":2}"))))
	require.True(t, strings.HasPrefix(string(parsable([]byte("for(;;);[1]"))), "[1]"))
}
