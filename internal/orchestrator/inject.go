package orchestrator

import (
	"time"

	"github.com/wakamenori/mac-notify/internal/model"
)

// Canned notifications for exercising the triage pipeline end to end
// without waiting for real traffic. Levels cycle so a single inject shows
// every urgency tier in the UI.
var injectSamples = []struct {
	bundleID string
	title    string
	body     string
	level    model.UrgencyLevel
	summary  string
	reason   string
}{
	{
		bundleID: "com.tinyspeck.slackmacgap",
		title:    "PagerDuty",
		body:     "SEV-1: checkout service error rate above 20%",
		level:    model.UrgencyCritical,
		summary:  "SEV-1 fired for the checkout service",
		reason:   "production incident requiring immediate response",
	},
	{
		bundleID: "com.apple.mail",
		title:    "Dana Whitfield",
		body:     "Can you review the contract before our 3pm call?",
		level:    model.UrgencyHigh,
		summary:  "Contract review requested before 3pm call",
		reason:   "direct request with a same-day deadline",
	},
	{
		bundleID: "com.apple.iCal",
		title:    "Upcoming event",
		body:     "Team sync starts in 30 minutes",
		level:    model.UrgencyMedium,
		summary:  "Team sync in 30 minutes",
		reason:   "routine calendar reminder",
	},
	{
		bundleID: "com.apple.news",
		title:    "Daily digest",
		body:     "Your afternoon headlines are ready",
		level:    model.UrgencyLow,
		summary:  "Afternoon news digest available",
		reason:   "informational content with no action needed",
	},
}

// InjectTestNotifications seeds synthetic entries directly into the engine.
// Injected entries use negative ids so they can never collide with store
// records, and they bypass the classifier and the alert channel entirely.
func (o *Orchestrator) InjectTestNotifications(count int) int {
	if count < 1 {
		count = 1
	}
	if count > o.cfg.MaxInjectCount {
		count = o.cfg.MaxInjectCount
	}
	now := time.Now().UTC()
	for i := 0; i < count; i++ {
		sample := injectSamples[i%len(injectSamples)]
		o.engine.Upsert(model.ClassifiedNotification{
			Notification: model.Notification{
				ID:        o.engine.NextVirtualID(),
				BundleID:  sample.bundleID,
				AppName:   model.AppNameFromBundle(sample.bundleID),
				Title:     sample.title,
				Body:      sample.body,
				Timestamp: now,
			},
			Level:        sample.level,
			SummaryLine:  sample.summary,
			Reason:       sample.reason,
			ClassifiedAt: now,
		})
	}
	o.notifySubscribers()
	return count
}
