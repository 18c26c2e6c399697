package transport

import (
	"net/http"
	"net/url"

	"github.com/and161185/fbrt/internal/model"
)

// Topics are subscribed on every connection.
var Topics = []string{
	"/legacy_web",
	"/webrtc",
	"/rtc_multi",
	"/onevc",
	"/br_sr",
	"/sr_res",
	"/t_ms",
	"/thread_typing",
	"/orca_typing_notifications",
	"/notify_disconnect",
	"/orca_presence",
	"/inbox",
	"/mercury",
	"/messaging_events",
	"/orca_message_notifications",
	"/pp",
	"/webrtc_response",
}

// Attempt describes one connection attempt.
type Attempt struct {
	Endpoint *url.URL
	Identity Identity
	Header   http.Header
}

// Handlers receive lifecycle notifications of one connection.
//
// OnMessage is invoked sequentially in wire order. Handlers may block; the
// transport applies back-pressure rather than buffering.
type Handlers struct {
	OnConnect func()
	OnError   func(error)
	OnMessage func(topic string, payload []byte)
}

// Dialer registers connection attempts. Dial returns the handle immediately;
// the handshake outcome is reported through Handlers.
type Dialer interface {
	Dial(a Attempt, h Handlers) (model.Conn, error)
}

// BrowserHeader returns the handshake headers the web client sends.
func BrowserHeader(cookies, userAgent string) http.Header {
	h := http.Header{}
	if cookies != "" {
		h.Set("Cookie", cookies)
	}
	h.Set("Origin", "https://www.messenger.com")
	h.Set("Referer", "https://www.messenger.com/")
	if userAgent != "" {
		h.Set("User-Agent", userAgent)
	}
	return h
}
