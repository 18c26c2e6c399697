// Package presence builds the payloads of the side-channel publishes: the periodic
// presence heartbeat and the typing indicator.
package presence

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"
)

// TopicPresence is where the heartbeat is published.
const TopicPresence = "/orca_presence"

// compression holds the substitution table of the heartbeat encoding, in table order.
var compression = []struct{ key, seq string }{
	{"_", "%"},
	{"A", "%2"},
	{"B", "000"},
	{"C", "%7d"},
	{"D", "%7b%22"},
	{"E", "%2c%22"},
	{"F", "%22%3a"},
	{"G", "%2c%22ut%22%3a1"},
	{"H", "%2c%22bls%22%3a"},
	{"I", "%2c%22n%22%3a%22%"},
	{"J", "%22%3a%7b%22i%22%3a0%7d"},
	{"K", "%2c%22pt%22%3a0%2c%22vis%22%3a"},
	{"L", "%2c%22ch%22%3a%7b%22h%22%3a%22"},
	{"M", "%7b%22v%22%3a2%2c%22time%22%3a1"},
	{"N", ".channel%22%2c%22sub%22%3a%5b"},
	{"O", "%2c%22sb%22%3a1%2c%22t%22%3a%5b"},
	{"P", "%2c%22ud%22%3a100%2c%22lc%22%3a0"},
	{"Q", "%5d%2c%22f%22%3anull%2c%22uct%22%3a"},
	{"R", ".channel%22%2c%22sub%22%3a%5b1%5d"},
	{"S", "%22%2c%22m%22%3a0%7d%2c%7b%22i%22%3a"},
	{"T", "%2c%22blc%22%3a1%2c%22snd%22%3a1%2c%22ct%22%3a"},
	{"U", "%2c%22blc%22%3a0%2c%22snd%22%3a1%2c%22ct%22%3a"},
	{"V", "%2c%22blc%22%3a0%2c%22snd%22%3a0%2c%22ct%22%3a"},
	{"W", "%2c%22s%22%3a0%2c%22blo%22%3a0%7d%2c%22bl%22%3a%7b%22ac%22%3a"},
	{"X", "%2c%22ri%22%3a0%7d%2c%22state%22%3a%7b%22p%22%3a0%2c%22ut%22%3a1"},
	{"Y", "%2c%22pt%22%3a0%2c%22vis%22%3a1%2c%22bls%22%3a0%2c%22blc%22%3a0%2c%22snd%22%3a1%2c%22ct%22%3a"},
	{"Z", "%2c%22sb%22%3a1%2c%22t%22%3a%5b%5d%2c%22f%22%3anull%2c%22uct%22%3a0%2c%22s%22%3a0%2c%22blo%22%3a0%7d%2c%22bl%22%3a%7b%22ac%22%3a"},
}

var (
	compressKey = map[string]string{}
	// Alternatives are tried in reverse table order; RE2 alternation is leftmost-first.
	compressRe *regexp.Regexp
	escapeRe   = regexp.MustCompile(`[_A-Z]|%..`)
)

func init() {
	alts := make([]string, 0, len(compression))
	for i := len(compression) - 1; i >= 0; i-- {
		c := compression[i]
		compressKey[c.seq] = c.key
		alts = append(alts, regexp.QuoteMeta(c.seq))
	}
	compressRe = regexp.MustCompile(strings.Join(alts, "|"))
}

// Encode applies the heartbeat encoding: URI component escaping, escaping of
// upper-case letters and underscores, lower-casing, then table substitution.
func Encode(s string) string {
	out := escapeRe.ReplaceAllStringFunc(encodeURIComponent(s), func(m string) string {
		if len(m) == 1 {
			return fmt.Sprintf("%%%x", m[0])
		}
		return m
	})
	out = strings.ToLower(out)
	return compressRe.ReplaceAllStringFunc(out, func(m string) string { return compressKey[m] })
}

// Decode reverses Encode.
func Decode(s string) (string, error) {
	var b strings.Builder
	for _, r := range s {
		if seq, ok := expandKey(r); ok {
			b.WriteString(seq)
			continue
		}
		b.WriteRune(r)
	}
	return decodeURIComponent(b.String())
}

func expandKey(r rune) (string, bool) {
	if r != '_' && (r < 'A' || r > 'Z') {
		return "", false
	}
	for _, c := range compression {
		if c.key[0] == byte(r) {
			return c.seq, true
		}
	}
	return "", false
}

type heartbeat struct {
	V     int            `json:"v"`
	Time  int64          `json:"time"`
	User  string         `json:"user"`
	State heartbeatState `json:"state"`
	Ch    map[string]int `json:"ch"`
}

type heartbeatState struct {
	UT   int     `json:"ut"`
	T2   []int   `json:"t2"`
	LM2  *string `json:"lm2"`
	UCT2 int64   `json:"uct2"`
	TR   *string `json:"tr"`
	TW   uint32  `json:"tw"`
	AT   int64   `json:"at"`
}

// Generate returns the encoded heartbeat for userID at now.
func Generate(userID string, now time.Time) (string, error) {
	ms := now.UnixMilli()
	raw, err := json.Marshal(heartbeat{
		V:    3,
		Time: now.Unix(),
		User: userID,
		State: heartbeatState{
			T2:   []int{},
			UCT2: ms,
			TW:   rand.Uint32N(1<<32-1) + 1,
			AT:   ms,
		},
		Ch: map[string]int{"p_" + userID: 0},
	})
	if err != nil {
		return "", fmt.Errorf("presence: %w", err)
	}
	return "E" + Encode(string(raw)), nil
}

// Payload wraps an encoded heartbeat as the publish body.
func Payload(encoded string) ([]byte, error) {
	return json.Marshal(struct {
		P string `json:"p"`
	}{P: encoded})
}
