package classifier

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wakamenori/mac-notify/internal/model"
)

const summaryLineMaxRunes = 60

func buildAnalysisPrompt(n model.Notification, promptContext string) string {
	var b strings.Builder
	b.WriteString("Classify the urgency of the following notification.\n")
	b.WriteString("Respond with JSON only, no extra commentary.\n")
	b.WriteString("Schema:\n")
	b.WriteString("{\n")
	b.WriteString("  \"urgency_level\": \"critical|high|medium|low\",\n")
	b.WriteString("  \"summary_line\": \"one line, at most 60 characters\",\n")
	b.WriteString("  \"reason\": \"one sentence explaining the verdict\"\n")
	b.WriteString("}\n\n")
	if promptContext != "" {
		fmt.Fprintf(&b, "User context for this app:\n%s\n\n", promptContext)
	}
	b.WriteString("Notification:\n")
	fmt.Fprintf(&b, "App: %s (%s)\n", n.AppName, n.BundleID)
	fmt.Fprintf(&b, "Title: %s\n", n.Title)
	fmt.Fprintf(&b, "Subtitle: %s\n", n.Subtitle)
	fmt.Fprintf(&b, "Body: %s", n.Body)
	return b.String()
}

func buildSummaryPrompt(notifications []model.ClassifiedNotification, contexts map[string]string) string {
	var b strings.Builder
	b.WriteString("Summarize the following notifications that arrived during a focus session.\n")
	b.WriteString("Group them by app and order so the most urgent items come first.\n")
	b.WriteString("Keep it short enough to read in one glance.\n\n")
	if len(contexts) > 0 {
		b.WriteString("User context per app:\n")
		bundles := make([]string, 0, len(contexts))
		for bundleID := range contexts {
			bundles = append(bundles, bundleID)
		}
		sort.Strings(bundles)
		for _, bundleID := range bundles {
			fmt.Fprintf(&b, "%s: %s\n", bundleID, contexts[bundleID])
		}
		b.WriteString("\n")
	}
	for _, n := range notifications {
		fmt.Fprintf(&b, "[%s][%s] %s: %s\n", n.AppName, n.Level.Label(), n.SummaryLine, n.Body)
	}
	return b.String()
}

// defaultSummaryLine picks the first non-empty field and truncates it.
func defaultSummaryLine(n model.Notification) string {
	text := strings.TrimSpace(n.Title)
	if text == "" {
		text = strings.TrimSpace(n.Body)
	}
	if text == "" {
		text = strings.TrimSpace(n.Subtitle)
	}
	if text == "" {
		return "Notification with no readable content"
	}
	runes := []rune(text)
	if len(runes) <= summaryLineMaxRunes {
		return text
	}
	return string(runes[:summaryLineMaxRunes]) + "…"
}

func fallbackSummary(notifications []model.ClassifiedNotification) string {
	counts := map[string]int{}
	urgent := 0
	for _, n := range notifications {
		counts[n.AppName]++
		if n.Level.Interrupts() {
			urgent++
		}
	}
	apps := make([]string, 0, len(counts))
	for app := range counts {
		apps = append(apps, app)
	}
	sort.Strings(apps)

	var b strings.Builder
	fmt.Fprintf(&b, "%d notifications (%d urgent)", len(notifications), urgent)
	for _, app := range apps {
		fmt.Fprintf(&b, "\n%s: %d", app, counts[app])
	}
	return b.String()
}
