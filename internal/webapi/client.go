// Package webapi talks to the regular web endpoints that surround the real-time
// connection: login bootstrap, cold-start cursor, read receipts and user lookups.
package webapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/fbrt/internal/errs"
	"github.com/and161185/fbrt/internal/model"
)

// DefaultBaseURL is the web origin every request is sent to.
const DefaultBaseURL = "https://www.facebook.com"

const (
	maxRetries      = 5
	errCodeLoggedIn = 1357001
	maxBodySize     = 16 << 20
)

// Config configures a Client.
type Config struct {
	BaseURL   string
	UserAgent string
	Proxy     *url.URL
	Timeout   time.Duration

	// RetryDelay caps the random pause before retrying a 5xx response.
	RetryDelay time.Duration
}

// Client is a cookie-authenticated web client. Bootstrap must succeed before the
// other calls, which need the page tokens it extracts.
type Client struct {
	http    *http.Client
	jar     http.CookieJar
	base    *url.URL
	ua      string
	log     *zap.Logger
	retryIn time.Duration

	reqCounter atomic.Int64

	mu    sync.RWMutex
	login loginTokens
}

type loginTokens struct {
	userID   string
	dtsg     string
	lsd      string
	jazoest  string
	revision string
	region   string
}

// New returns a client sending the cookies of jar.
func New(jar http.CookieJar, cfg Config, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = model.DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("webapi: base url: %w", err)
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Proxy != nil {
		tr.Proxy = http.ProxyURL(cfg.Proxy)
	}
	return &Client{
		http:    &http.Client{Jar: jar, Transport: tr, Timeout: cfg.Timeout},
		jar:     jar,
		base:    base,
		ua:      cfg.UserAgent,
		log:     log,
		retryIn: cfg.RetryDelay,
	}, nil
}

func (c *Client) tokens() loginTokens {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.login
}

func (c *Client) endpoint(path string) string {
	return c.base.ResolveReference(&url.URL{Path: path}).String()
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.ua)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Origin", c.base.Scheme+"://"+c.base.Host)
	req.Header.Set("Referer", c.base.Scheme+"://"+c.base.Host+"/")
	req.Header.Set("Sec-Fetch-Site", "same-origin")
	t := c.tokens()
	if t.lsd != "" {
		req.Header.Set("X-Fb-Lsd", t.lsd)
	}
	if t.region != "" {
		req.Header.Set("X-MSGR-Region", t.region)
	}
	return req, nil
}

// get fetches a page and returns its body.
func (c *Client) get(ctx context.Context, target string) ([]byte, error) {
	return c.do(ctx, func() (*http.Request, error) {
		req, err := c.newRequest(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		req.Header.Set("Sec-Fetch-Mode", "navigate")
		return req, nil
	})
}

// post submits form merged with the per-request defaults and decodes the JSON reply into out.
// Error codes listed in tolerated are not treated as failures.
func (c *Client) post(ctx context.Context, path string, form url.Values, out any, tolerated ...int64) error {
	form = c.withDefaults(form)
	body, err := c.do(ctx, func() (*http.Request, error) {
		req, err := c.newRequest(ctx, http.MethodPost, c.endpoint(path), strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "*/*")
		req.Header.Set("Sec-Fetch-Mode", "cors")
		return req, nil
	})
	if err != nil {
		return err
	}
	return decode(body, out, tolerated...)
}

func (c *Client) withDefaults(form url.Values) url.Values {
	t := c.tokens()
	out := url.Values{}
	out.Set("av", t.userID)
	out.Set("__user", t.userID)
	out.Set("__req", strconv.FormatInt(c.reqCounter.Add(1), 36))
	out.Set("__a", "1")
	if t.revision != "" {
		out.Set("__rev", t.revision)
	}
	if t.dtsg != "" {
		out.Set("fb_dtsg", t.dtsg)
		out.Set("jazoest", t.jazoest)
	}
	if t.lsd != "" {
		out.Set("lsd", t.lsd)
	}
	for k, v := range form {
		if out.Get(k) == "" {
			out[k] = v
		}
	}
	return out
}

// do runs the request built by build, retrying 5xx answers with a random pause.
func (c *Client) do(ctx context.Context, build func() (*http.Request, error)) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		req, err := build()
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("webapi: %s %s: %w", req.Method, req.URL.Path, err)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("webapi: read body: %w", err)
		}

		switch {
		case resp.StatusCode >= 500 && resp.StatusCode < 600 && attempt < maxRetries:
			wait := rand.N(c.retryIn)
			c.log.Debug("retrying", zap.String("path", req.URL.Path), zap.Int("status", resp.StatusCode), zap.Duration("wait", wait))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			continue
		case resp.StatusCode != http.StatusOK:
			return nil, fmt.Errorf("webapi: %s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
		}
		return body, nil
	}
}

var (
	forLoopPrefix   = regexp.MustCompile(`for\s*\(\s*;\s*;\s*\)\s*;`)
	objectSeparator = regexp.MustCompile(`\}\r\n *\{`)
)

// parsable strips the anti-JSON-hijacking prefix and joins concatenated objects into an array.
func parsable(body []byte) []byte {
	body = forLoopPrefix.ReplaceAll(body, nil)
	parts := objectSeparator.Split(string(body), -1)
	if len(parts) == 1 {
		return body
	}
	return []byte("[" + strings.Join(parts, "},{") + "]")
}

type errorEnvelope struct {
	Error        json.Number `json:"error"`
	ErrorSummary string      `json:"errorSummary"`
}

func decode(body []byte, out any, tolerated ...int64) error {
	body = []byte(strings.TrimSpace(string(parsable(body))))
	if len(body) > 0 && body[0] == '{' {
		var env errorEnvelope
		if err := json.Unmarshal(body, &env); err == nil && env.Error != "" && env.Error != "0" {
			code, _ := env.Error.Int64()
			switch {
			case code == errCodeLoggedIn:
				return fmt.Errorf("webapi: %w", errs.ErrNotLoggedIn)
			case !slices.Contains(tolerated, code):
				return fmt.Errorf("webapi: error %s: %s", env.Error, env.ErrorSummary)
			}
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("webapi: decode: %w", err)
	}
	return nil
}
