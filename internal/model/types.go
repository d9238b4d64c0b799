package model

import (
	"strings"
	"time"
)

// UrgencyLevel is the classifier's interruption-worthiness verdict.
type UrgencyLevel string

const (
	UrgencyCritical UrgencyLevel = "critical"
	UrgencyHigh     UrgencyLevel = "high"
	UrgencyMedium   UrgencyLevel = "medium"
	UrgencyLow      UrgencyLevel = "low"
)

// ParseUrgencyLevel maps raw classifier output onto the closed level set.
// Anything outside the set reports ok=false; callers coerce to medium.
func ParseUrgencyLevel(raw string) (UrgencyLevel, bool) {
	switch UrgencyLevel(strings.ToLower(strings.TrimSpace(raw))) {
	case UrgencyCritical:
		return UrgencyCritical, true
	case UrgencyHigh:
		return UrgencyHigh, true
	case UrgencyMedium:
		return UrgencyMedium, true
	case UrgencyLow:
		return UrgencyLow, true
	default:
		return UrgencyMedium, false
	}
}

func (l UrgencyLevel) Label() string {
	switch l {
	case UrgencyCritical:
		return "URGENT"
	case UrgencyHigh:
		return "HIGH"
	case UrgencyLow:
		return "LOW"
	default:
		return "NORMAL"
	}
}

func (l UrgencyLevel) ColorHint() string {
	switch l {
	case UrgencyCritical:
		return "#ef4444"
	case UrgencyHigh:
		return "#f97316"
	case UrgencyLow:
		return "#22c55e"
	default:
		return "#f59e0b"
	}
}

// Interrupts reports whether the level takes the immediate modal path.
func (l UrgencyLevel) Interrupts() bool {
	return l == UrgencyCritical || l == UrgencyHigh
}

type FocusState string

const (
	FocusActive   FocusState = "active"
	FocusInactive FocusState = "inactive"
)

// RawRecord is one undecoded row from the external notification store.
type RawRecord struct {
	ID          int64
	BundleID    string
	Payload     []byte
	DeliveredAt time.Time
}

// Notification is the best-effort decode of a RawRecord.
type Notification struct {
	ID        int64
	BundleID  string
	AppName   string
	Title     string
	Subtitle  string
	Body      string
	Timestamp time.Time
}

// Classification is one classifier verdict for a notification.
type Classification struct {
	Level       UrgencyLevel
	SummaryLine string
	Reason      string
	Fallback    bool
}

// ClassifiedNotification is immutable once produced; re-classification
// supersedes it with a new value, never mutates it in place.
type ClassifiedNotification struct {
	Notification
	Level        UrgencyLevel
	SummaryLine  string
	Reason       string
	ClassifiedAt time.Time
}

// NotificationGroup is the derived per-app view: entries newest first,
// capped with the overflow reported in HiddenCount.
type NotificationGroup struct {
	BundleID      string
	AppName       string
	Notifications []ClassifiedNotification
	HiddenCount   int
}

type AppPromptEntry struct {
	BundleID  string
	Context   string
	UpdatedAt time.Time
}

// UrgencyCounts tallies live notifications per level.
type UrgencyCounts struct {
	Critical int
	High     int
	Medium   int
	Low      int
}

func (c UrgencyCounts) Total() int {
	return c.Critical + c.High + c.Medium + c.Low
}

func (c *UrgencyCounts) Add(level UrgencyLevel) {
	switch level {
	case UrgencyCritical:
		c.Critical++
	case UrgencyHigh:
		c.High++
	case UrgencyLow:
		c.Low++
	default:
		c.Medium++
	}
}

type AlertKind string

const (
	AlertImmediate AlertKind = "immediate"
	AlertSummary   AlertKind = "summary"
)

// AlertRecord is one audited dispatch of the alert side channel.
type AlertRecord struct {
	AlertID        string
	Kind           AlertKind
	NotificationID *int64
	BundleID       string
	Title          string
	Message        string
	Outcome        string
	DispatchedAt   time.Time
}

type SessionSummary struct {
	Text              string
	NotificationCount int
	GeneratedAt       time.Time
}

// AppNameFromBundle derives a display name from the last dot segment
// of a bundle identifier.
func AppNameFromBundle(bundleID string) string {
	bundleID = strings.TrimSpace(bundleID)
	if bundleID == "" {
		return "Unknown"
	}
	segments := strings.Split(bundleID, ".")
	last := segments[len(segments)-1]
	if last == "" {
		return bundleID
	}
	return last
}

// Error codes defined by the API contract.
const (
	ErrRefInvalid         = "E_REF_INVALID"
	ErrRefInvalidEncoding = "E_REF_INVALID_ENCODING"
	ErrRefNotFound        = "E_REF_NOT_FOUND"
	ErrCursorInvalid      = "E_CURSOR_INVALID"
	ErrPreconditionFailed = "E_PRECONDITION_FAILED"
	ErrStoreUnavailable   = "E_STORE_UNAVAILABLE"
)
