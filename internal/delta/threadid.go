package delta

import "strings"

var idPrefixes = []string{"fbid:", "fbid.", "id:", "id."}

// FormatID strips provider prefixes such as "id:" or "fbid." from a thread or user id.
// Applying it twice yields the same result as applying it once.
func FormatID(id string) string {
	for {
		trimmed := id
		for _, p := range idPrefixes {
			trimmed = strings.TrimPrefix(trimmed, p)
		}
		if trimmed == id {
			return id
		}
		id = trimmed
	}
}
