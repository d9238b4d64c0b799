package classifier

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/wakamenori/mac-notify/internal/model"
)

type analysisResponse struct {
	UrgencyLevel string `json:"urgency_level"`
	SummaryLine  string `json:"summary_line"`
	Reason       string `json:"reason"`
}

// parseAnalysisResponse maps the backend's text onto a Classification.
// Models wrap JSON in prose or fences, emit levels outside the closed set,
// or return something else entirely. Anything that does not cleanly map is
// coerced to medium with the raw text preserved in the reason.
func parseAnalysisResponse(text string, n model.Notification) model.Classification {
	body, ok := extractJSONObject(text)
	if !ok {
		return coerced(text, n)
	}
	var parsed analysisResponse
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return coerced(text, n)
	}

	level, known := model.ParseUrgencyLevel(parsed.UrgencyLevel)
	reason := strings.TrimSpace(parsed.Reason)
	if !known {
		level = model.UrgencyMedium
		raw := strings.TrimSpace(parsed.UrgencyLevel)
		if raw == "" {
			raw = "(missing)"
		}
		reason = "unrecognized urgency level " + strconv.Quote(raw)
	}
	if reason == "" {
		reason = "no reason given by the classifier"
	}

	summaryLine := strings.TrimSpace(parsed.SummaryLine)
	if summaryLine == "" {
		summaryLine = defaultSummaryLine(n)
	}

	return model.Classification{
		Level:       level,
		SummaryLine: summaryLine,
		Reason:      reason,
	}
}

func coerced(raw string, n model.Notification) model.Classification {
	reason := strings.TrimSpace(raw)
	if reason == "" {
		reason = "empty classifier response"
	}
	runes := []rune(reason)
	if len(runes) > 200 {
		reason = string(runes[:200]) + "…"
	}
	return model.Classification{
		Level:       model.UrgencyMedium,
		SummaryLine: defaultSummaryLine(n),
		Reason:      reason,
	}
}

// extractJSONObject returns the outermost {...} span in the text.
func extractJSONObject(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return "", false
	}
	return text[start : end+1], true
}

