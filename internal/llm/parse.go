package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	leadingFence  = regexp.MustCompile("(?i)^```[a-z]*\n")
	trailingFence = regexp.MustCompile("\n```$")
)

// StripFences removes a leading ```lang line and a trailing ``` line from
// a code reply.
func StripFences(s string) string {
	s = leadingFence.ReplaceAllString(s, "")
	return trailingFence.ReplaceAllString(s, "")
}

// decodeJSON unmarshals a JSON reply, tolerating surrounding whitespace and
// Markdown fences.
func decodeJSON(text string, v interface{}) error {
	return json.Unmarshal([]byte(StripFences(strings.TrimSpace(text))), v)
}
