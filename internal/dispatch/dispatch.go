// Package dispatch is the immediate-alert side channel. Modal dialogs go
// through osascript because ordinary notification delivery is suppressed
// during a focus session; the dialog is the one path that reaches the user.
package dispatch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/wakamenori/mac-notify/internal/config"
	"github.com/wakamenori/mac-notify/internal/db"
	"github.com/wakamenori/mac-notify/internal/model"
)

type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type OSRunner struct{}

func (OSRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

type Dispatcher struct {
	cfg    config.Config
	runner Runner
	store  *db.Store
}

func NewDispatcher(cfg config.Config, store *db.Store) *Dispatcher {
	return &Dispatcher{cfg: cfg, runner: OSRunner{}, store: store}
}

func NewDispatcherWithRunner(cfg config.Config, store *db.Store, runner Runner) *Dispatcher {
	d := NewDispatcher(cfg, store)
	d.runner = runner
	return d
}

// Immediate shows a modal dialog for one urgent notification and records the
// dispatch in the audit log. A presentation failure is reported to the
// caller for logging but never retried.
func (d *Dispatcher) Immediate(ctx context.Context, n model.ClassifiedNotification) error {
	title := fmt.Sprintf("%s: %s", n.Level.Label(), n.AppName)
	message := n.SummaryLine
	if n.Reason != "" {
		message += "\n\n" + n.Reason
	}

	err := d.showDialog(ctx, title, message)
	id := n.ID
	d.audit(ctx, model.AlertRecord{
		AlertID:        ulid.Make().String(),
		Kind:           model.AlertImmediate,
		NotificationID: &id,
		BundleID:       n.BundleID,
		Title:          title,
		Message:        message,
		Outcome:        outcome(err),
	})
	return err
}

// Summary announces the end of a focus session: a banner with the count,
// then a modal dialog with the digest text.
func (d *Dispatcher) Summary(ctx context.Context, summary model.SessionSummary) error {
	banner := fmt.Sprintf("%d notifications while you were focused", summary.NotificationCount)
	// banner failure is cosmetic; the dialog below still carries the digest
	_ = d.showBanner(ctx, "Focus session ended", banner)

	err := d.showDialog(ctx, "Notification summary", summary.Text)
	d.audit(ctx, model.AlertRecord{
		AlertID: ulid.Make().String(),
		Kind:    model.AlertSummary,
		Title:   "Notification summary",
		Message: summary.Text,
		Outcome: outcome(err),
	})
	return err
}

// OpenApp launches an application by bundle identifier, fire and forget.
func (d *Dispatcher) OpenApp(ctx context.Context, bundleID string) error {
	bundleID = strings.TrimSpace(bundleID)
	if bundleID == "" {
		return fmt.Errorf("bundle_id is required")
	}
	runCtx, cancel := context.WithTimeout(ctx, d.cfg.CommandTimeout)
	defer cancel()
	if _, err := d.runner.Run(runCtx, "open", "-b", bundleID); err != nil {
		return fmt.Errorf("open app %s: %w", bundleID, err)
	}
	return nil
}

func (d *Dispatcher) showDialog(ctx context.Context, title, message string) error {
	script := fmt.Sprintf(
		`display dialog "%s" with title "%s" buttons {"OK"} default button "OK"`,
		escapeAppleScript(message), escapeAppleScript(title),
	)
	return d.runOsascript(ctx, script)
}

func (d *Dispatcher) showBanner(ctx context.Context, title, message string) error {
	script := fmt.Sprintf(
		`display notification "%s" with title "%s"`,
		escapeAppleScript(message), escapeAppleScript(title),
	)
	return d.runOsascript(ctx, script)
}

func (d *Dispatcher) runOsascript(ctx context.Context, script string) error {
	runCtx, cancel := context.WithTimeout(ctx, d.cfg.CommandTimeout)
	defer cancel()
	if _, err := d.runner.Run(runCtx, "/usr/bin/osascript", "-e", script); err != nil {
		return fmt.Errorf("osascript: %w", err)
	}
	return nil
}

func (d *Dispatcher) audit(ctx context.Context, alert model.AlertRecord) {
	if d.store == nil {
		return
	}
	alert.DispatchedAt = time.Now().UTC()
	if err := d.store.InsertAlert(ctx, alert); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "macnotifyd: record alert: %v\n", err)
	}
}

func outcome(err error) string {
	if err != nil {
		return "error: " + err.Error()
	}
	return "ok"
}

func escapeAppleScript(text string) string {
	text = strings.ReplaceAll(text, `\`, `\\`)
	return strings.ReplaceAll(text, `"`, `\"`)
}
