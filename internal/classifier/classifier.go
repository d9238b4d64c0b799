// Package classifier turns decoded notifications into urgency verdicts. The
// backend is swappable; everything that can fail (transport, timeout, a
// response that is not the JSON we asked for) degrades to a typed fallback
// so the pipeline never drops a notification over a classification failure.
package classifier

import (
	"context"
	"time"

	"github.com/wakamenori/mac-notify/internal/model"
)

// FallbackReason is the fixed reason attached when the backend is
// unavailable, errors, or times out.
const FallbackReason = "urgency classifier unavailable; treated as medium by local rule"

// Backend is one text-generation endpoint. Implementations must honor ctx
// cancellation; the classifier imposes its own per-call deadline.
type Backend interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
	Available() bool
}

type Classifier struct {
	backend         Backend
	classifyTimeout time.Duration
	summaryTimeout  time.Duration
}

func New(backend Backend, classifyTimeout, summaryTimeout time.Duration) *Classifier {
	if classifyTimeout <= 0 {
		classifyTimeout = 20 * time.Second
	}
	if summaryTimeout <= 0 {
		summaryTimeout = 30 * time.Second
	}
	return &Classifier{backend: backend, classifyTimeout: classifyTimeout, summaryTimeout: summaryTimeout}
}

// Classify produces exactly one verdict for the notification. One attempt,
// no retry: failure of any kind yields the fallback result.
func (c *Classifier) Classify(ctx context.Context, n model.Notification, promptContext string) model.Classification {
	if c.backend == nil || !c.backend.Available() {
		return Fallback(n)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.classifyTimeout)
	defer cancel()

	text, err := c.backend.GenerateText(callCtx, buildAnalysisPrompt(n, promptContext))
	if err != nil {
		return Fallback(n)
	}
	return parseAnalysisResponse(text, n)
}

// Summarize renders one end-of-session summary over the collected
// notifications, preferring the backend and degrading to a counted digest.
// contexts carries the per-app prompt context keyed by bundle id so the
// summary weighs notifications the way classification did.
func (c *Classifier) Summarize(ctx context.Context, notifications []model.ClassifiedNotification, contexts map[string]string) model.SessionSummary {
	now := time.Now().UTC()
	if len(notifications) == 0 {
		return model.SessionSummary{Text: "No notifications during this session.", GeneratedAt: now}
	}
	if c.backend != nil && c.backend.Available() {
		callCtx, cancel := context.WithTimeout(ctx, c.summaryTimeout)
		defer cancel()
		if text, err := c.backend.GenerateText(callCtx, buildSummaryPrompt(notifications, contexts)); err == nil && text != "" {
			return model.SessionSummary{
				Text:              text,
				NotificationCount: len(notifications),
				GeneratedAt:       now,
			}
		}
	}
	return model.SessionSummary{
		Text:              fallbackSummary(notifications),
		NotificationCount: len(notifications),
		GeneratedAt:       now,
	}
}

// Fallback is the safe default substituted when no verdict could be obtained.
func Fallback(n model.Notification) model.Classification {
	return model.Classification{
		Level:       model.UrgencyMedium,
		SummaryLine: defaultSummaryLine(n),
		Reason:      FallbackReason,
		Fallback:    true,
	}
}
