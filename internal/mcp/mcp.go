// Package mcp exposes the daemon's triage state as Model Context Protocol
// tools over stdio, so any MCP-capable agent can inspect and manage
// notifications collected during a focus session.
package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wakamenori/mac-notify/internal/api"
	"github.com/wakamenori/mac-notify/internal/appclient"
)

// serverInstructions is returned in the MCP initialize response so clients
// know when these tools apply.
const serverInstructions = `mac-notify triages macOS notifications during focus sessions. ` +
	`Use these tools to: list notifications grouped by app with urgency levels; ` +
	`summarize what arrived during the session; dismiss notifications; tune ` +
	`per-app classification context; ignore noisy apps. Key tools: ` +
	`notify_groups, notify_summary, notify_clear, notify_prompt_set.`

func NewServer(client *appclient.Client, version string) *server.MCPServer {
	srv := server.NewMCPServer(
		"mac-notify",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions(serverInstructions),
	)
	registerTools(srv, client)
	return srv
}

// Run serves MCP over stdio until the client disconnects.
func Run(client *appclient.Client, version string) error {
	return server.ServeStdio(NewServer(client, version))
}

func registerTools(srv *server.MCPServer, c *appclient.Client) {
	srv.AddTool(
		mcp.NewTool("notify_groups",
			mcp.WithDescription("List notifications collected during the current focus session, grouped by app and ordered by recency. Each entry carries an urgency level (critical, high, medium, low) with a one-line summary."),
			mcp.WithTitleAnnotation("List Notifications"),
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithDestructiveHintAnnotation(false),
			mcp.WithIdempotentHintAnnotation(true),
			mcp.WithOpenWorldHintAnnotation(false),
		),
		handleGroups(c),
	)

	srv.AddTool(
		mcp.NewTool("notify_summary",
			mcp.WithDescription("Generate a short summary of everything that arrived during the current focus session, without dismissing anything."),
			mcp.WithTitleAnnotation("Session Summary"),
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithDestructiveHintAnnotation(false),
			mcp.WithIdempotentHintAnnotation(true),
			mcp.WithOpenWorldHintAnnotation(false),
		),
		handleSummary(c),
	)

	srv.AddTool(
		mcp.NewTool("notify_clear",
			mcp.WithDescription("Dismiss collected notifications. Provide id for a single notification, bundle_id for one app's notifications, or neither to clear everything."),
			mcp.WithTitleAnnotation("Clear Notifications"),
			mcp.WithReadOnlyHintAnnotation(false),
			mcp.WithDestructiveHintAnnotation(true),
			mcp.WithIdempotentHintAnnotation(false),
			mcp.WithOpenWorldHintAnnotation(false),
			mcp.WithNumber("id",
				mcp.Description("Notification id to dismiss"),
			),
			mcp.WithString("bundle_id",
				mcp.Description("Dismiss all notifications from this app"),
			),
		),
		handleClear(c),
	)

	srv.AddTool(
		mcp.NewTool("notify_prompts",
			mcp.WithDescription("List per-app classification contexts. These are injected into the urgency classifier for notifications from that app."),
			mcp.WithTitleAnnotation("List App Prompts"),
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithDestructiveHintAnnotation(false),
			mcp.WithIdempotentHintAnnotation(true),
			mcp.WithOpenWorldHintAnnotation(false),
		),
		handlePrompts(c),
	)

	srv.AddTool(
		mcp.NewTool("notify_prompt_set",
			mcp.WithDescription("Set the classification context for an app, e.g. 'only messages from my manager are urgent'. Replaces any existing context for that bundle id."),
			mcp.WithTitleAnnotation("Set App Prompt"),
			mcp.WithReadOnlyHintAnnotation(false),
			mcp.WithDestructiveHintAnnotation(false),
			mcp.WithIdempotentHintAnnotation(true),
			mcp.WithOpenWorldHintAnnotation(false),
			mcp.WithString("bundle_id",
				mcp.Required(),
				mcp.Description("App bundle identifier, e.g. com.tinyspeck.slackmacgap"),
			),
			mcp.WithString("context",
				mcp.Required(),
				mcp.Description("Classification context injected into the urgency prompt for this app"),
			),
		),
		handlePromptSet(c),
	)

	srv.AddTool(
		mcp.NewTool("notify_prompt_delete",
			mcp.WithDescription("Remove the classification context for an app."),
			mcp.WithTitleAnnotation("Delete App Prompt"),
			mcp.WithReadOnlyHintAnnotation(false),
			mcp.WithDestructiveHintAnnotation(true),
			mcp.WithIdempotentHintAnnotation(false),
			mcp.WithOpenWorldHintAnnotation(false),
			mcp.WithString("bundle_id",
				mcp.Required(),
				mcp.Description("App bundle identifier"),
			),
		),
		handlePromptDelete(c),
	)

	srv.AddTool(
		mcp.NewTool("notify_ignored",
			mcp.WithDescription("List apps whose notifications are dropped at ingestion time."),
			mcp.WithTitleAnnotation("List Ignored Apps"),
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithDestructiveHintAnnotation(false),
			mcp.WithIdempotentHintAnnotation(true),
			mcp.WithOpenWorldHintAnnotation(false),
		),
		handleIgnored(c),
	)

	srv.AddTool(
		mcp.NewTool("notify_ignore_add",
			mcp.WithDescription("Ignore an app: its notifications are dropped before classification and never appear in groups or summaries."),
			mcp.WithTitleAnnotation("Ignore App"),
			mcp.WithReadOnlyHintAnnotation(false),
			mcp.WithDestructiveHintAnnotation(false),
			mcp.WithIdempotentHintAnnotation(true),
			mcp.WithOpenWorldHintAnnotation(false),
			mcp.WithString("bundle_id",
				mcp.Required(),
				mcp.Description("App bundle identifier to ignore"),
			),
		),
		handleIgnoreAdd(c),
	)

	srv.AddTool(
		mcp.NewTool("notify_ignore_remove",
			mcp.WithDescription("Stop ignoring an app."),
			mcp.WithTitleAnnotation("Unignore App"),
			mcp.WithReadOnlyHintAnnotation(false),
			mcp.WithDestructiveHintAnnotation(false),
			mcp.WithIdempotentHintAnnotation(false),
			mcp.WithOpenWorldHintAnnotation(false),
			mcp.WithString("bundle_id",
				mcp.Required(),
				mcp.Description("App bundle identifier to stop ignoring"),
			),
		),
		handleIgnoreRemove(c),
	)

	srv.AddTool(
		mcp.NewTool("notify_open_app",
			mcp.WithDescription("Open the application that produced a notification, by bundle id."),
			mcp.WithTitleAnnotation("Open App"),
			mcp.WithReadOnlyHintAnnotation(false),
			mcp.WithDestructiveHintAnnotation(false),
			mcp.WithIdempotentHintAnnotation(true),
			mcp.WithOpenWorldHintAnnotation(true),
			mcp.WithString("bundle_id",
				mcp.Required(),
				mcp.Description("App bundle identifier to open"),
			),
		),
		handleOpenApp(c),
	)

	srv.AddTool(
		mcp.NewTool("notify_status",
			mcp.WithDescription("Report daemon health: focus state and whether the notification store is readable."),
			mcp.WithTitleAnnotation("Daemon Status"),
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithDestructiveHintAnnotation(false),
			mcp.WithIdempotentHintAnnotation(true),
			mcp.WithOpenWorldHintAnnotation(false),
		),
		handleStatus(c),
	)
}

func handleGroups(c *appclient.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		env, err := c.Groups(ctx)
		if err != nil {
			return mcp.NewToolResultError("failed to list notifications: " + err.Error()), nil
		}
		if env.Counts.Total == 0 {
			return mcp.NewToolResultText("No notifications collected in this session."), nil
		}

		var b strings.Builder
		fmt.Fprintf(&b, "%d notifications (%d urgent), focus %s\n\n",
			env.Counts.Total, env.Counts.Critical+env.Counts.High, env.FocusState)
		for _, g := range env.Groups {
			fmt.Fprintf(&b, "%s (%s)\n", g.AppName, g.BundleID)
			for _, n := range g.Notifications {
				fmt.Fprintf(&b, "  #%d [%s] %s\n", n.ID, n.UrgencyLabel, n.SummaryLine)
			}
			if g.HiddenCount > 0 {
				fmt.Fprintf(&b, "  … and %d more\n", g.HiddenCount)
			}
			b.WriteString("\n")
		}
		return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
	}
}

func handleSummary(c *appclient.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		summary, err := c.Summary(ctx)
		if err != nil {
			return mcp.NewToolResultError("failed to summarize: " + err.Error()), nil
		}
		return mcp.NewToolResultText(summary.Text), nil
	}
}

func handleClear(c *appclient.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		bundleID, _ := req.GetArguments()["bundle_id"].(string)
		bundleID = strings.TrimSpace(bundleID)
		var (
			resp api.ClearResponse
			err  error
		)
		switch {
		case hasArg(req, "id"):
			resp, err = c.ClearNotification(ctx, int64(intArg(req, "id", 0)))
		case bundleID != "":
			resp, err = c.ClearApp(ctx, bundleID)
		default:
			resp, err = c.ClearAll(ctx)
		}
		if err != nil {
			return mcp.NewToolResultError("failed to clear: " + err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Cleared %d notification(s)", resp.Cleared)), nil
	}
}

func handlePrompts(c *appclient.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		env, err := c.ListPrompts(ctx)
		if err != nil {
			return mcp.NewToolResultError("failed to list prompts: " + err.Error()), nil
		}
		if len(env.Prompts) == 0 {
			return mcp.NewToolResultText("No app prompts configured."), nil
		}
		var b strings.Builder
		for _, p := range env.Prompts {
			fmt.Fprintf(&b, "%s: %s\n", p.BundleID, p.Context)
		}
		return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
	}
}

func handlePromptSet(c *appclient.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		bundleID, _ := req.GetArguments()["bundle_id"].(string)
		promptContext, _ := req.GetArguments()["context"].(string)
		item, err := c.SetPrompt(ctx, bundleID, promptContext)
		if err != nil {
			return mcp.NewToolResultError("failed to set prompt: " + err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Prompt set for %s", item.BundleID)), nil
	}
}

func handlePromptDelete(c *appclient.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		bundleID, _ := req.GetArguments()["bundle_id"].(string)
		if err := c.DeletePrompt(ctx, bundleID); err != nil {
			return mcp.NewToolResultError("failed to delete prompt: " + err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Prompt removed for %s", strings.TrimSpace(bundleID))), nil
	}
}

func handleIgnored(c *appclient.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		env, err := c.ListIgnored(ctx)
		if err != nil {
			return mcp.NewToolResultError("failed to list ignored apps: " + err.Error()), nil
		}
		if len(env.BundleIDs) == 0 {
			return mcp.NewToolResultText("No apps are ignored."), nil
		}
		return mcp.NewToolResultText(strings.Join(env.BundleIDs, "\n")), nil
	}
}

func handleIgnoreAdd(c *appclient.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		bundleID, _ := req.GetArguments()["bundle_id"].(string)
		if err := c.AddIgnored(ctx, bundleID); err != nil {
			return mcp.NewToolResultError("failed to ignore app: " + err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Ignoring %s", strings.TrimSpace(bundleID))), nil
	}
}

func handleIgnoreRemove(c *appclient.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		bundleID, _ := req.GetArguments()["bundle_id"].(string)
		if err := c.RemoveIgnored(ctx, bundleID); err != nil {
			return mcp.NewToolResultError("failed to unignore app: " + err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("No longer ignoring %s", strings.TrimSpace(bundleID))), nil
	}
}

func handleOpenApp(c *appclient.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		bundleID, _ := req.GetArguments()["bundle_id"].(string)
		resp, err := c.OpenApp(ctx, bundleID)
		if err != nil {
			return mcp.NewToolResultError("failed to open app: " + err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Opened %s", resp.BundleID)), nil
	}
}

func handleStatus(c *appclient.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		health, err := c.Health(ctx)
		if err != nil {
			return mcp.NewToolResultError("daemon unreachable: " + err.Error()), nil
		}
		text := fmt.Sprintf("Status: %s\nFocus: %s\nStore readable: %v", health.Status, health.FocusState, health.StoreOK)
		if health.StoreError != "" {
			text += "\nStore error: " + health.StoreError
		}
		return mcp.NewToolResultText(text), nil
	}
}

func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

func hasArg(req mcp.CallToolRequest, key string) bool {
	_, ok := req.GetArguments()[key]
	return ok
}
