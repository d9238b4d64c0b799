package daemon

import (
	"time"

	"github.com/wakamenori/mac-notify/internal/api"
	"github.com/wakamenori/mac-notify/internal/model"
)

func toNotificationItem(n model.ClassifiedNotification) api.NotificationItem {
	return api.NotificationItem{
		ID:           n.ID,
		BundleID:     n.BundleID,
		AppName:      n.AppName,
		Title:        n.Title,
		Subtitle:     n.Subtitle,
		Body:         n.Body,
		UrgencyLevel: string(n.Level),
		UrgencyLabel: n.Level.Label(),
		ColorHint:    n.Level.ColorHint(),
		SummaryLine:  n.SummaryLine,
		Reason:       n.Reason,
		DeliveredAt:  ts(n.Timestamp),
		ClassifiedAt: ts(n.ClassifiedAt),
	}
}

func toGroupItems(groups []model.NotificationGroup) []api.GroupItem {
	items := make([]api.GroupItem, 0, len(groups))
	for _, g := range groups {
		entries := make([]api.NotificationItem, 0, len(g.Notifications))
		for _, n := range g.Notifications {
			entries = append(entries, toNotificationItem(n))
		}
		items = append(items, api.GroupItem{
			BundleID:      g.BundleID,
			AppName:       g.AppName,
			HiddenCount:   g.HiddenCount,
			Notifications: entries,
		})
	}
	return items
}

func toCountsItem(counts model.UrgencyCounts) api.CountsItem {
	return api.CountsItem{
		Critical: counts.Critical,
		High:     counts.High,
		Medium:   counts.Medium,
		Low:      counts.Low,
		Total:    counts.Total(),
	}
}

func toPromptItems(prompts []model.AppPromptEntry) []api.PromptItem {
	items := make([]api.PromptItem, 0, len(prompts))
	for _, entry := range prompts {
		items = append(items, api.PromptItem{
			BundleID:  entry.BundleID,
			Context:   entry.Context,
			UpdatedAt: ts(entry.UpdatedAt),
		})
	}
	return items
}

func toAlertItems(alerts []model.AlertRecord) []api.AlertItem {
	items := make([]api.AlertItem, 0, len(alerts))
	for _, alert := range alerts {
		items = append(items, api.AlertItem{
			AlertID:        alert.AlertID,
			Kind:           string(alert.Kind),
			NotificationID: alert.NotificationID,
			BundleID:       alert.BundleID,
			Title:          alert.Title,
			Message:        alert.Message,
			Outcome:        alert.Outcome,
			DispatchedAt:   ts(alert.DispatchedAt),
		})
	}
	return items
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
