package webapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/fbrt/internal/appstate"
	"github.com/and161185/fbrt/internal/errs"
	"github.com/and161185/fbrt/internal/model"
)

var (
	scriptJSON = regexp.MustCompile(`<script type="application/json"[^>]*>(.*?)</script>`)
	irisSeqID  = regexp.MustCompile(`irisSeqID:"(.+?)"`)
)

// Bootstrap loads the home page with the jar's cookies and extracts the tokens
// the real-time connection needs.
func (c *Client) Bootstrap(ctx context.Context) (*model.Session, error) {
	userID, err := appstate.UserID(c.jar.Cookies(c.base))
	if err != nil {
		return nil, err
	}

	html, err := c.get(ctx, c.endpoint("/"))
	if err != nil {
		return nil, err
	}
	blocks := scriptBlocks(html, c.log)

	dtsg := str(findConfig(blocks, "DTSGInitialData")["token"])
	if dtsg == "" {
		dtsg = between(html, `"token":"`, `"`)
	}
	if dtsg == "" {
		return nil, fmt.Errorf("webapi: no DTSG token, app-state may be expired: %w", errs.ErrMissingCredential)
	}
	lsd := str(findConfig(blocks, "LSD")["token"])
	if lsd == "" {
		lsd = between(html, `["LSD",[],{"token":"`, `"}`)
	}

	mqttCfg := findConfig(blocks, "MqttWebConfig")
	appID := str(findConfig(blocks, "CurrentUserInitialData")["APP_ID"])
	if appID == "" {
		appID = str(mqttCfg["appID"])
	}

	sess := model.NewSession(userID, str(findConfig(blocks, "MqttWebDeviceID")["clientID"]))
	if sess.ClientID == "" {
		id, err := uuid.NewV4()
		if err != nil {
			return nil, err
		}
		sess.ClientID = id.String()
	}
	sess.DTSG = dtsg
	sess.MQTTAppID = appID
	sess.UserAgent = c.ua
	if ep := str(mqttCfg["endpoint"]); ep != "" {
		if u, err := url.Parse(ep); err == nil {
			sess.Region = strings.ToUpper(u.Query().Get("region"))
			u.RawQuery = ""
			sess.Endpoint = u.String()
		}
	}
	if m := irisSeqID.FindSubmatch(html); m != nil {
		if seq, err := strconv.ParseInt(string(m[1]), 10, 64); err == nil {
			sess.LastSeqID = seq
		}
	}
	jar, wsURL := c.jar, &url.URL{Scheme: "https", Host: "edge-chat." + strings.TrimPrefix(c.base.Host, "www."), Path: "/"}
	sess.CookieHeader = func() string { return appstate.Header(jar, wsURL) }

	c.mu.Lock()
	c.login = loginTokens{
		userID:   userID,
		dtsg:     dtsg,
		lsd:      lsd,
		jazoest:  Jazoest(dtsg),
		revision: between(html, `revision":`, `,`),
		region:   sess.Region,
	}
	c.mu.Unlock()

	c.log.Info("bootstrap complete",
		zap.String("user_id", userID),
		zap.String("region", sess.Region),
		zap.Int64("seq_id", sess.LastSeqID),
		zap.Int("blocks", len(blocks)),
	)
	return sess, nil
}

// Jazoest is the checksum the web client submits alongside fb_dtsg.
func Jazoest(dtsg string) string {
	sum := 0
	for _, r := range dtsg {
		sum += int(r)
	}
	return "2" + strconv.Itoa(sum)
}

func scriptBlocks(html []byte, log *zap.Logger) []any {
	var out []any
	for _, m := range scriptJSON.FindAllSubmatch(html, -1) {
		dec := json.NewDecoder(bytes.NewReader(m[1]))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			log.Debug("skipping script block", zap.Error(err))
			continue
		}
		out = append(out, v)
	}
	return out
}

// findConfig looks up a named config in the page's module require lists, either
// as a direct ["Key", deps, config] entry or inside a __bbox define list.
func findConfig(blocks []any, key string) map[string]any {
	for _, b := range blocks {
		obj, _ := b.(map[string]any)
		reqs, _ := obj["require"].([]any)
		for _, r := range reqs {
			req, ok := r.([]any)
			if !ok {
				continue
			}
			if len(req) > 2 {
				if name, _ := req[0].(string); name == key {
					if cfg, ok := req[2].(map[string]any); ok {
						return cfg
					}
				}
			}
			if cfg := findDefine(req, key); cfg != nil {
				return cfg
			}
		}
	}
	return nil
}

func findDefine(req []any, key string) map[string]any {
	if len(req) < 4 {
		return nil
	}
	args, _ := req[3].([]any)
	if len(args) == 0 {
		return nil
	}
	first, _ := args[0].(map[string]any)
	bbox, _ := first["__bbox"].(map[string]any)
	defines, _ := bbox["define"].([]any)
	for _, d := range defines {
		def, ok := d.([]any)
		if !ok || len(def) < 3 {
			continue
		}
		if name, _ := def[0].(string); strings.HasSuffix(name, key) {
			if cfg, ok := def[2].(map[string]any); ok {
				return cfg
			}
		}
	}
	return nil
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

// between returns the text after the first start and before the next end, or "".
func between(s []byte, start, end string) string {
	_, after, ok := bytes.Cut(s, []byte(start))
	if !ok {
		return ""
	}
	v, _, ok := bytes.Cut(after, []byte(end))
	if !ok {
		return ""
	}
	return string(v)
}
