// Package focus reads the do-not-disturb assertion state that macOS keeps in
// Assertions.json. An unreadable or unparsable file reports inactive: the
// agent must never treat a broken focus source as an active session.
package focus

import (
	"encoding/json"
	"os"

	"github.com/wakamenori/mac-notify/internal/model"
)

type Detector struct {
	assertionsPath string
}

func NewDetector(assertionsPath string) *Detector {
	return &Detector{assertionsPath: assertionsPath}
}

type assertionsFile struct {
	Data []assertionRecordSet `json:"data"`
}

type assertionRecordSet struct {
	StoreAssertionRecords json.RawMessage `json:"storeAssertionRecords"`
}

// State returns the current focus level. Edge detection is the caller's job;
// this is a pure snapshot.
func (d *Detector) State() model.FocusState {
	text, err := os.ReadFile(d.assertionsPath)
	if err != nil {
		return model.FocusInactive
	}
	var parsed assertionsFile
	if err := json.Unmarshal(text, &parsed); err != nil {
		return model.FocusInactive
	}
	for _, record := range parsed.Data {
		if assertionPresent(record.StoreAssertionRecords) {
			return model.FocusActive
		}
	}
	return model.FocusInactive
}

// assertionPresent treats null, absent, and false as "no assertion"; any
// other JSON value counts as an active assertion.
func assertionPresent(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	switch string(raw) {
	case "null", "false":
		return false
	}
	return true
}
