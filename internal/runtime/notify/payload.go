package notify

import (
	"encoding/json"
	"strings"
)

// Payload is the structured push message the gateway accepts. Every field is
// optional; defaults fill the gaps so a malformed or empty push still turns
// into a presentable notification.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// Defaults supplies the substitutes for absent payload fields plus the
// presentation attributes attached to every notification.
type Defaults struct {
	Title string
	Body  string
	URL   string
	Icon  string
	Badge string
	Tag   string
}

// ParsePayload decodes raw push data, substituting defaults for anything
// missing or unparseable. It never fails: garbage in, generic
// notification out.
func ParsePayload(raw []byte, defaults Defaults) Payload {
	var payload Payload
	if len(raw) > 0 {
		// Decode errors are deliberately swallowed; whatever fields did
		// decode are kept and the rest fall back to defaults.
		_ = json.Unmarshal(raw, &payload)
	}
	if strings.TrimSpace(payload.Title) == "" {
		payload.Title = defaults.Title
	}
	if payload.Body == "" {
		payload.Body = defaults.Body
	}
	if strings.TrimSpace(payload.URL) == "" {
		payload.URL = defaults.URL
	}
	return payload
}
