package notifdb

import (
	"howett.net/plist"
)

type payloadFields struct {
	Title    string
	Subtitle string
	Body     string
}

// decodePayload extracts the user-visible text from a notification payload
// blob. Payloads are plists with the text either at the top level or inside
// the nested request dict; both layouts appear in the wild. ok=false means
// the blob is not a plist at all.
func decodePayload(data []byte) (payloadFields, bool) {
	// plist.Unmarshal accepts empty input; a missing blob is a decode failure
	if len(data) == 0 {
		return payloadFields{}, false
	}
	var root any
	if _, err := plist.Unmarshal(data, &root); err != nil {
		return payloadFields{}, false
	}

	fields := payloadFields{
		Title:    extractString(root, "titl"),
		Subtitle: extractString(root, "subt"),
		Body:     extractString(root, "body"),
	}
	if fields.Title == "" {
		fields.Title = extractString(root, "req", "titl")
	}
	if fields.Subtitle == "" {
		fields.Subtitle = extractString(root, "req", "subt")
	}
	if fields.Body == "" {
		fields.Body = extractString(root, "req", "body")
	}
	return fields, true
}

func extractString(root any, keys ...string) string {
	current := root
	for _, key := range keys {
		dict, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		next, ok := dict[key]
		if !ok {
			return ""
		}
		current = next
	}
	s, _ := current.(string)
	return s
}
