package notifdb

import (
	"testing"

	"howett.net/plist"
)

func marshalPlist(t *testing.T, v any) []byte {
	t.Helper()
	data, err := plist.Marshal(v, plist.BinaryFormat)
	if err != nil {
		t.Fatalf("marshal plist: %v", err)
	}
	return data
}

func TestDecodePayloadTopLevelKeys(t *testing.T) {
	data := marshalPlist(t, map[string]any{
		"titl": "Deploy finished",
		"subt": "ci",
		"body": "all checks green",
	})
	fields, ok := decodePayload(data)
	if !ok {
		t.Fatalf("expected decodable payload")
	}
	if fields.Title != "Deploy finished" || fields.Subtitle != "ci" || fields.Body != "all checks green" {
		t.Fatalf("unexpected fields: %+v", fields)
	}
}

func TestDecodePayloadNestedReqFallback(t *testing.T) {
	data := marshalPlist(t, map[string]any{
		"req": map[string]any{"titl": "Reminder", "body": "stand up"},
	})
	fields, ok := decodePayload(data)
	if !ok {
		t.Fatalf("expected decodable payload")
	}
	if fields.Title != "Reminder" || fields.Body != "stand up" || fields.Subtitle != "" {
		t.Fatalf("unexpected fields: %+v", fields)
	}
}

func TestDecodePayloadTopLevelWinsOverNested(t *testing.T) {
	data := marshalPlist(t, map[string]any{
		"titl": "outer",
		"req":  map[string]any{"titl": "inner", "body": "inner body"},
	})
	fields, ok := decodePayload(data)
	if !ok {
		t.Fatalf("expected decodable payload")
	}
	if fields.Title != "outer" {
		t.Fatalf("top-level title should win: %+v", fields)
	}
	if fields.Body != "inner body" {
		t.Fatalf("missing top-level body should fall back to req: %+v", fields)
	}
}

func TestDecodePayloadGarbage(t *testing.T) {
	if _, ok := decodePayload([]byte{0x00, 0x01, 0x02}); ok {
		t.Fatalf("garbage bytes must not decode")
	}
	if _, ok := decodePayload(nil); ok {
		t.Fatalf("empty payload must not decode")
	}
}

func TestDecodePayloadNonDictValues(t *testing.T) {
	data := marshalPlist(t, map[string]any{
		"titl": 42,
		"req":  "not a dict",
	})
	fields, ok := decodePayload(data)
	if !ok {
		t.Fatalf("plist with odd shapes still decodes")
	}
	if fields.Title != "" || fields.Body != "" {
		t.Fatalf("non-string values should yield empty fields: %+v", fields)
	}
}
