package api

import "time"

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Error         APIError  `json:"error"`
}

type NotificationItem struct {
	ID           int64  `json:"id"`
	BundleID     string `json:"bundle_id"`
	AppName      string `json:"app_name"`
	Title        string `json:"title,omitempty"`
	Subtitle     string `json:"subtitle,omitempty"`
	Body         string `json:"body,omitempty"`
	UrgencyLevel string `json:"urgency_level"`
	UrgencyLabel string `json:"urgency_label"`
	ColorHint    string `json:"color_hint"`
	SummaryLine  string `json:"summary_line"`
	Reason       string `json:"reason,omitempty"`
	DeliveredAt  string `json:"delivered_at"`
	ClassifiedAt string `json:"classified_at"`
}

type GroupItem struct {
	BundleID      string             `json:"bundle_id"`
	AppName       string             `json:"app_name"`
	HiddenCount   int                `json:"hidden_count,omitempty"`
	Notifications []NotificationItem `json:"notifications"`
}

type CountsItem struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Total    int `json:"total"`
}

type GroupsEnvelope struct {
	SchemaVersion string      `json:"schema_version"`
	GeneratedAt   time.Time   `json:"generated_at"`
	FocusState    string      `json:"focus_state"`
	Counts        CountsItem  `json:"counts"`
	Groups        []GroupItem `json:"groups"`
}

type PromptItem struct {
	BundleID  string `json:"bundle_id"`
	Context   string `json:"context"`
	UpdatedAt string `json:"updated_at"`
}

type PromptsEnvelope struct {
	SchemaVersion string       `json:"schema_version"`
	GeneratedAt   time.Time    `json:"generated_at"`
	Prompts       []PromptItem `json:"prompts"`
}

type IgnoredEnvelope struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	BundleIDs     []string  `json:"bundle_ids"`
}

type AlertItem struct {
	AlertID        string `json:"alert_id"`
	Kind           string `json:"kind"`
	NotificationID *int64 `json:"notification_id,omitempty"`
	BundleID       string `json:"bundle_id,omitempty"`
	Title          string `json:"title"`
	Message        string `json:"message"`
	Outcome        string `json:"outcome"`
	DispatchedAt   string `json:"dispatched_at"`
}

type AlertsEnvelope struct {
	SchemaVersion string      `json:"schema_version"`
	GeneratedAt   time.Time   `json:"generated_at"`
	Alerts        []AlertItem `json:"alerts"`
}

type SummaryResponse struct {
	SchemaVersion     string    `json:"schema_version"`
	GeneratedAt       time.Time `json:"generated_at"`
	Text              string    `json:"text"`
	NotificationCount int       `json:"notification_count"`
}

type ClearResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Cleared       int       `json:"cleared"`
}

type InjectRequest struct {
	Count int `json:"count"`
}

type InjectResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Injected      int       `json:"injected"`
}

type PromptRequest struct {
	Context string `json:"context"`
}

type OpenAppResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	BundleID      string    `json:"bundle_id"`
	ResultCode    string    `json:"result_code"`
}

type WatchLine struct {
	SchemaVersion string      `json:"schema_version"`
	GeneratedAt   time.Time   `json:"generated_at"`
	EmittedAt     time.Time   `json:"emitted_at"`
	StreamID      string      `json:"stream_id"`
	Cursor        string      `json:"cursor"`
	Type          string      `json:"type"`
	Sequence      int64       `json:"sequence"`
	FocusState    string      `json:"focus_state"`
	Counts        CountsItem  `json:"counts"`
	Groups        []GroupItem `json:"groups,omitempty"`
}
