package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/wakamenori/mac-notify/internal/api"
	"github.com/wakamenori/mac-notify/internal/appclient"
	"github.com/wakamenori/mac-notify/internal/config"
	"github.com/wakamenori/mac-notify/internal/mcp"
)

// cliEnv carries the shared client and writers so tests can swap in an
// httptest-backed client without touching a real socket.
type cliEnv struct {
	client *appclient.Client
	out    io.Writer
	errOut io.Writer
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(env *cliEnv) *cli.App {
	if env.out == nil {
		env.out = os.Stdout
	}
	if env.errOut == nil {
		env.errOut = os.Stderr
	}
	app := &cli.App{
		Name:    "macnotify",
		Usage:   "Notification triage client for macnotifyd",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "socket", Value: config.DefaultConfig().SocketPath, Usage: "UDS path for macnotifyd"},
		},
		Before: func(c *cli.Context) error {
			if env.client == nil {
				env.client = appclient.New(c.String("socket"))
			}
			return nil
		},
		Commands: []*cli.Command{
			groupsCmd(env),
			summaryCmd(env),
			clearCmd(env),
			promptsCmd(env),
			ignoreCmd(env),
			injectCmd(env),
			alertsCmd(env),
			openCmd(env),
			watchCmd(env),
			statusCmd(env),
			mcpCmd(env),
		},
	}
	// Disable default exit error handler so errors surface through app.Run.
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func groupsCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "groups",
		Usage: "Show collected notifications grouped by app, most urgent first",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "output JSON"},
		},
		Action: func(c *cli.Context) error {
			resp, err := env.client.Groups(c.Context)
			if err != nil {
				return outputError(err)
			}
			if c.Bool("json") {
				return outputJSON(env.out, resp)
			}
			printGroups(env.out, resp)
			return nil
		},
	}
}

func summaryCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "summary",
		Usage: "Render a summary of everything collected so far",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "output JSON"},
		},
		Action: func(c *cli.Context) error {
			resp, err := env.client.Summary(c.Context)
			if err != nil {
				return outputError(err)
			}
			if c.Bool("json") {
				return outputJSON(env.out, resp)
			}
			_, _ = fmt.Fprintln(env.out, resp.Text)
			return nil
		},
	}
}

func clearCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:      "clear",
		Usage:     "Clear a notification by ID, one app's notifications, or everything",
		ArgsUsage: "[id]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "app", Usage: "clear all notifications for this bundle ID"},
			&cli.BoolFlag{Name: "all", Usage: "clear every collected notification"},
			&cli.BoolFlag{Name: "json", Usage: "output JSON"},
		},
		Action: func(c *cli.Context) error {
			var (
				resp api.ClearResponse
				err  error
			)
			switch {
			case c.NArg() > 0:
				id, parseErr := strconv.ParseInt(c.Args().First(), 10, 64)
				if parseErr != nil {
					return cli.Exit(fmt.Sprintf("invalid notification id %q", c.Args().First()), 2)
				}
				resp, err = env.client.ClearNotification(c.Context, id)
			case c.String("app") != "":
				resp, err = env.client.ClearApp(c.Context, c.String("app"))
			case c.Bool("all"):
				resp, err = env.client.ClearAll(c.Context)
			default:
				return cli.Exit("usage: macnotify clear <id> | --app <bundle-id> | --all", 2)
			}
			if err != nil {
				return outputError(err)
			}
			if c.Bool("json") {
				return outputJSON(env.out, resp)
			}
			_, _ = fmt.Fprintf(env.out, "cleared %d notification(s)\n", resp.Cleared)
			return nil
		},
	}
}

func promptsCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "prompts",
		Usage: "Manage per-app classification context",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List configured per-app contexts",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "output JSON"},
				},
				Action: func(c *cli.Context) error {
					resp, err := env.client.ListPrompts(c.Context)
					if err != nil {
						return outputError(err)
					}
					if c.Bool("json") {
						return outputJSON(env.out, resp)
					}
					for _, p := range resp.Prompts {
						_, _ = fmt.Fprintf(env.out, "%s\t%s\n", p.BundleID, p.Context)
					}
					return nil
				},
			},
			{
				Name:      "set",
				Usage:     "Set the classification context for an app",
				ArgsUsage: "<bundle-id> <context...>",
				Action: func(c *cli.Context) error {
					if c.NArg() < 2 {
						return cli.Exit("usage: macnotify prompts set <bundle-id> <context...>", 2)
					}
					bundleID := c.Args().First()
					promptContext := strings.Join(c.Args().Slice()[1:], " ")
					item, err := env.client.SetPrompt(c.Context, bundleID, promptContext)
					if err != nil {
						return outputError(err)
					}
					_, _ = fmt.Fprintf(env.out, "set context for %s\n", item.BundleID)
					return nil
				},
			},
			{
				Name:      "delete",
				Usage:     "Remove the classification context for an app",
				ArgsUsage: "<bundle-id>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("usage: macnotify prompts delete <bundle-id>", 2)
					}
					if err := env.client.DeletePrompt(c.Context, c.Args().First()); err != nil {
						return outputError(err)
					}
					_, _ = fmt.Fprintf(env.out, "deleted context for %s\n", c.Args().First())
					return nil
				},
			},
		},
	}
}

func ignoreCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "ignore",
		Usage: "Manage the ignored-app list",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List ignored bundle IDs",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "output JSON"},
				},
				Action: func(c *cli.Context) error {
					resp, err := env.client.ListIgnored(c.Context)
					if err != nil {
						return outputError(err)
					}
					if c.Bool("json") {
						return outputJSON(env.out, resp)
					}
					for _, b := range resp.BundleIDs {
						_, _ = fmt.Fprintln(env.out, b)
					}
					return nil
				},
			},
			{
				Name:      "add",
				Usage:     "Ignore an app's notifications",
				ArgsUsage: "<bundle-id>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("usage: macnotify ignore add <bundle-id>", 2)
					}
					if err := env.client.AddIgnored(c.Context, c.Args().First()); err != nil {
						return outputError(err)
					}
					_, _ = fmt.Fprintf(env.out, "ignoring %s\n", c.Args().First())
					return nil
				},
			},
			{
				Name:      "remove",
				Usage:     "Stop ignoring an app's notifications",
				ArgsUsage: "<bundle-id>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("usage: macnotify ignore remove <bundle-id>", 2)
					}
					if err := env.client.RemoveIgnored(c.Context, c.Args().First()); err != nil {
						return outputError(err)
					}
					_, _ = fmt.Fprintf(env.out, "no longer ignoring %s\n", c.Args().First())
					return nil
				},
			},
		},
	}
}

func injectCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "inject",
		Usage: "Inject sample notifications for testing the pipeline end to end",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Value: 4, Usage: "number of samples to inject"},
		},
		Action: func(c *cli.Context) error {
			resp, err := env.client.Inject(c.Context, c.Int("count"))
			if err != nil {
				return outputError(err)
			}
			_, _ = fmt.Fprintf(env.out, "injected %d notification(s)\n", resp.Injected)
			return nil
		},
	}
}

func alertsCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "alerts",
		Usage: "Show recently dispatched alerts",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 20, Usage: "maximum rows to return"},
			&cli.BoolFlag{Name: "json", Usage: "output JSON"},
		},
		Action: func(c *cli.Context) error {
			resp, err := env.client.ListAlerts(c.Context, c.Int("limit"))
			if err != nil {
				return outputError(err)
			}
			if c.Bool("json") {
				return outputJSON(env.out, resp)
			}
			for _, a := range resp.Alerts {
				_, _ = fmt.Fprintf(env.out, "%s\t%s\t%s\t%s\n", a.DispatchedAt, a.Kind, a.Outcome, a.Title)
			}
			return nil
		},
	}
}

func openCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:      "open",
		Usage:     "Open an app by bundle ID",
		ArgsUsage: "<bundle-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("usage: macnotify open <bundle-id>", 2)
			}
			resp, err := env.client.OpenApp(c.Context, c.Args().First())
			if err != nil {
				return outputError(err)
			}
			_, _ = fmt.Fprintf(env.out, "open %s: %s\n", resp.BundleID, resp.ResultCode)
			return nil
		},
	}
}

func watchCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Stream live updates as notifications are classified",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "cursor", Usage: "resume cursor from a previous stream"},
			&cli.BoolFlag{Name: "json", Usage: "print raw ndjson lines"},
		},
		Action: func(c *cli.Context) error {
			jsonOut := c.Bool("json")
			err := env.client.WatchLoop(c.Context, appclient.WatchLoopOptions{Cursor: c.String("cursor")}, func(line api.WatchLine) error {
				if jsonOut {
					return outputJSON(env.out, line)
				}
				printWatchLine(env.out, line)
				return nil
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				return outputError(err)
			}
			return nil
		},
	}
}

func statusCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show daemon health, focus state, and store reachability",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "output JSON"},
		},
		Action: func(c *cli.Context) error {
			resp, err := env.client.Health(c.Context)
			if err != nil {
				return outputError(err)
			}
			if c.Bool("json") {
				return outputJSON(env.out, resp)
			}
			_, _ = fmt.Fprintf(env.out, "status: %s\nfocus: %s\n", resp.Status, resp.FocusState)
			if !resp.StoreOK {
				_, _ = fmt.Fprintf(env.out, "notification store unreachable: %s\n", resp.StoreError)
			}
			return nil
		},
	}
}

func mcpCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the triage surface over MCP stdio",
		Action: func(c *cli.Context) error {
			if err := mcp.Run(env.client, Version); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			return nil
		},
	}
}

func printGroups(out io.Writer, resp api.GroupsEnvelope) {
	_, _ = fmt.Fprintf(out, "%d notification(s), %d urgent, focus %s\n",
		resp.Counts.Total, resp.Counts.Critical+resp.Counts.High, resp.FocusState)
	for _, g := range resp.Groups {
		_, _ = fmt.Fprintf(out, "\n%s (%s)\n", g.AppName, g.BundleID)
		for _, n := range g.Notifications {
			_, _ = fmt.Fprintf(out, "  #%d\t[%s]\t%s\n", n.ID, n.UrgencyLabel, n.SummaryLine)
		}
		if g.HiddenCount > 0 {
			_, _ = fmt.Fprintf(out, "  (and %d more)\n", g.HiddenCount)
		}
	}
}

func printWatchLine(out io.Writer, line api.WatchLine) {
	switch line.Type {
	case "keepalive":
		return
	case "reset":
		_, _ = fmt.Fprintf(out, "reset\tcursor=%s\n", line.Cursor)
	default:
		_, _ = fmt.Fprintf(out, "%s\t%d total (%d critical, %d high)\tfocus=%s\n",
			line.Type, line.Counts.Total, line.Counts.Critical, line.Counts.High, line.FocusState)
	}
}

// Helper functions

// outputJSON marshals result to the writer as indented JSON.
func outputJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var reqErr *appclient.RequestError
	if errors.As(err, &reqErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", reqErr.Code, reqErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}
