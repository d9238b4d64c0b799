package focus

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wakamenori/mac-notify/internal/model"
)

func writeAssertions(t *testing.T, content string) *Detector {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Assertions.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write assertions: %v", err)
	}
	return NewDetector(path)
}

func TestStateActiveAssertion(t *testing.T) {
	d := writeAssertions(t, `{"data":[{"storeAssertionRecords":[{"assertionDetails":{"assertionDetailsModeIdentifier":"com.apple.donotdisturb.mode.default"}}]}]}`)
	if got := d.State(); got != model.FocusActive {
		t.Fatalf("expected active, got %s", got)
	}
}

func TestStateNoAssertionRecords(t *testing.T) {
	for _, content := range []string{
		`{"data":[]}`,
		`{"data":[{}]}`,
		`{"data":[{"storeAssertionRecords":null}]}`,
		`{"data":[{"storeAssertionRecords":false}]}`,
	} {
		d := writeAssertions(t, content)
		if got := d.State(); got != model.FocusInactive {
			t.Fatalf("expected inactive for %s, got %s", content, got)
		}
	}
}

func TestStateMissingFile(t *testing.T) {
	d := NewDetector(filepath.Join(t.TempDir(), "nope", "Assertions.json"))
	if got := d.State(); got != model.FocusInactive {
		t.Fatalf("expected inactive for missing file, got %s", got)
	}
}

func TestStateMalformedJSON(t *testing.T) {
	d := writeAssertions(t, `{"data": [`)
	if got := d.State(); got != model.FocusInactive {
		t.Fatalf("expected inactive for malformed file, got %s", got)
	}
}
