// Package transport opens the MQTT-over-WebSocket connection used for real-time events.
package transport

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strconv"
	"strings"

	"github.com/and161185/fbrt/internal/model"
)

// DefaultEndpoint is the edge chat WebSocket used by the web client.
const DefaultEndpoint = "wss://edge-chat.messenger.com/chat"

// maxSessionNumber mirrors the browser's Number.MAX_SAFE_INTEGER.
const maxSessionNumber = 1<<53 - 1

// Identity is serialized into the MQTT username field as the handshake credential.
type Identity struct {
	UserID     string   `json:"u"`
	SessionID  int64    `json:"s"`
	ChatOn     bool     `json:"chat_on"`
	Foreground bool     `json:"fg"`
	DeviceID   string   `json:"d"`
	ConnType   string   `json:"ct"`
	AppID      string   `json:"aid"`
	MQTTSid    string   `json:"mqtt_sid"`
	Cp         int      `json:"cp"`
	Ecp        int      `json:"ecp"`
	St         []string `json:"st"`
	Pm         []string `json:"pm"`
	Dc         string   `json:"dc"`
	NoAutoFg   bool     `json:"no_auto_fg"`
	Gas        *string  `json:"gas"`
	Pack       []string `json:"pack"`
	UserAgent  string   `json:"a"`
}

// NewIdentity builds the identity for one connection attempt with a fresh session number.
func NewIdentity(sess *model.Session, opts model.Options) Identity {
	ua := sess.UserAgent
	if ua == "" {
		ua = opts.UserAgent
	}
	return Identity{
		UserID:    sess.UserID,
		SessionID: rand.Int64N(maxSessionNumber) + 1,
		ChatOn:    opts.Online,
		DeviceID:  sess.ClientID,
		ConnType:  "websocket",
		AppID:     sess.MQTTAppID,
		Cp:        3,
		Ecp:       10,
		St:        []string{},
		Pm:        []string{},
		NoAutoFg:  true,
		Pack:      []string{},
		UserAgent: ua,
	}
}

// Username returns the JSON credential sent in the CONNECT packet.
func (id Identity) Username() (string, error) {
	b, err := json.Marshal(id)
	if err != nil {
		return "", fmt.Errorf("marshal identity: %w", err)
	}
	return string(b), nil
}

// Endpoint builds the connection URL. A non-empty override replaces the session region.
func Endpoint(base, region, override string, sessionID int64, clientID string) (*url.URL, error) {
	if base == "" {
		base = DefaultEndpoint
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	if override != "" {
		region = override
	}
	if region = strings.TrimSpace(region); region != "" {
		q.Set("region", strings.ToLower(region))
	} else {
		q.Del("region")
	}
	q.Set("sid", strconv.FormatInt(sessionID, 10))
	q.Set("cid", clientID)
	u.RawQuery = q.Encode()
	return u, nil
}
