package api

import "time"

type HealthResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Status        string    `json:"status"`
	FocusState    string    `json:"focus_state"`
	StoreOK       bool      `json:"store_ok"`
	StoreError    string    `json:"store_error,omitempty"`
}
