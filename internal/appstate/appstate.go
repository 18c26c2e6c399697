// Package appstate loads browser session cookies ("app-state") exported from a
// logged-in web session.
package appstate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/and161185/fbrt/internal/errs"
)

// Sites the cookies are installed for.
var (
	FacebookURL  = &url.URL{Scheme: "https", Host: "www.facebook.com", Path: "/"}
	MessengerURL = &url.URL{Scheme: "https", Host: "www.messenger.com", Path: "/"}
)

const cookieLifetime = 365 * 24 * time.Hour

// exportedCookie is one entry of a JSON app-state export. Browser extensions
// disagree on whether the name is under "key" or "name".
type exportedCookie struct {
	Key   string `json:"key"`
	Name  string `json:"name,omitempty"`
	Value string `json:"value"`
}

// Parse accepts either a JSON array of cookie objects or a "k=v; k2=v2" cookie string.
func Parse(data []byte) ([]*http.Cookie, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("appstate: empty: %w", errs.ErrMissingCredential)
	}

	var out []*http.Cookie
	if data[0] == '[' {
		var entries []exportedCookie
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("appstate: %w", err)
		}
		for _, e := range entries {
			name := e.Name
			if name == "" {
				name = e.Key
			}
			if name == "" {
				continue
			}
			out = append(out, &http.Cookie{Name: name, Value: e.Value})
		}
	} else {
		for _, part := range strings.Split(string(data), ";") {
			name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
			if !ok || name == "" {
				continue
			}
			out = append(out, &http.Cookie{Name: name, Value: value})
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("appstate: no cookies: %w", errs.ErrMissingCredential)
	}
	return out, nil
}

// UserID returns the acting account id: i_user (a page acting as the user) wins over c_user.
func UserID(cookies []*http.Cookie) (string, error) {
	var cUser, iUser string
	for _, c := range cookies {
		switch c.Name {
		case "c_user":
			cUser = c.Value
		case "i_user":
			iUser = c.Value
		}
	}
	if iUser != "" {
		return iUser, nil
	}
	if cUser != "" {
		return cUser, nil
	}
	return "", fmt.Errorf("appstate: no c_user cookie: %w", errs.ErrMissingCredential)
}

// NewJar installs cookies as domain cookies for both facebook.com and messenger.com.
func NewJar(cookies []*http.Cookie) (*cookiejar.Jar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	expires := time.Now().Add(cookieLifetime)
	for _, site := range []*url.URL{FacebookURL, MessengerURL} {
		domain := strings.TrimPrefix(site.Host, "www.")
		scoped := make([]*http.Cookie, 0, len(cookies))
		for _, c := range cookies {
			scoped = append(scoped, &http.Cookie{
				Name:    c.Name,
				Value:   c.Value,
				Domain:  domain,
				Path:    "/",
				Expires: expires,
				Secure:  true,
			})
		}
		jar.SetCookies(site, scoped)
	}
	return jar, nil
}

// Header renders the jar's cookies for u as a Cookie header value.
func Header(jar http.CookieJar, u *url.URL) string {
	cookies := jar.Cookies(u)
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// Export serializes the jar's facebook.com cookies as a JSON app-state array.
func Export(jar http.CookieJar) ([]byte, error) {
	cookies := jar.Cookies(FacebookURL)
	if len(cookies) == 0 {
		return nil, errors.New("appstate: jar is empty")
	}
	out := make([]exportedCookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, exportedCookie{Key: c.Name, Value: c.Value})
	}
	return json.Marshal(out)
}
