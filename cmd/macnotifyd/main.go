package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/wakamenori/mac-notify/internal/classifier"
	"github.com/wakamenori/mac-notify/internal/config"
	"github.com/wakamenori/mac-notify/internal/daemon"
	"github.com/wakamenori/mac-notify/internal/db"
	"github.com/wakamenori/mac-notify/internal/dispatch"
	"github.com/wakamenori/mac-notify/internal/engine"
	"github.com/wakamenori/mac-notify/internal/focus"
	"github.com/wakamenori/mac-notify/internal/notifdb"
	"github.com/wakamenori/mac-notify/internal/orchestrator"
	"github.com/wakamenori/mac-notify/internal/registry"
)

func main() {
	cfg := config.DefaultConfig()
	flag.StringVar(&cfg.SocketPath, "socket", cfg.SocketPath, "UDS path for macnotifyd")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite path for daemon state")
	flag.StringVar(&cfg.NotificationDBPath, "notification-db", cfg.NotificationDBPath, "path to the macOS usernoted store")
	flag.StringVar(&cfg.FocusAssertionsPath, "focus-assertions", cfg.FocusAssertionsPath, "path to the DoNotDisturb assertions file")
	flag.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "notification store poll interval")
	flag.StringVar(&cfg.GeminiModel, "gemini-model", cfg.GeminiModel, "Gemini model used for urgency analysis")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		fatal(err)
	}
	defer store.Close() //nolint:errcheck

	if err := db.ApplyMigrations(ctx, store.DB()); err != nil {
		fatal(err)
	}

	reg, err := registry.Load(ctx, store)
	if err != nil {
		fatal(err)
	}

	reader := notifdb.NewReader(cfg.NotificationDBPath)
	detector := focus.NewDetector(cfg.FocusAssertionsPath)
	cls := classifier.New(newBackend(cfg), cfg.ClassifyTimeout, cfg.SummaryTimeout)
	eng := engine.New(cfg.MaxPerGroup)
	dispatcher := dispatch.NewDispatcher(cfg, store)

	orch := orchestrator.New(cfg, store, reader, detector, cls, reg, eng, dispatcher)
	if err := orch.Start(ctx); err != nil {
		fatal(err)
	}

	srv := daemon.NewServer(cfg, store, orch, reg, dispatcher)
	if err := srv.Start(ctx); err != nil && err != context.Canceled {
		fatal(err)
	}
}

// newBackend picks the classification backend from config. Without an API
// key the classifier runs in fallback mode rather than refusing to start, so
// the poll loop and summary still work offline.
func newBackend(cfg config.Config) classifier.Backend {
	if cfg.GeminiAPIKey == "" {
		warn("GOOGLE_API_KEY is not set; urgency classification degrades to the local fallback rule")
		return nil
	}
	return classifier.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiBaseURL)
}

func warn(msg string) {
	_, _ = fmt.Fprintf(os.Stderr, "macnotifyd: %s\n", msg)
}

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "macnotifyd: %v\n", err)
	os.Exit(1)
}
