package config

import (
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	SocketPath          string
	DBPath              string
	NotificationDBPath  string
	FocusAssertionsPath string
	PollInterval        time.Duration
	StorePollTimeout    time.Duration
	ClassifyTimeout     time.Duration
	ClassifyWorkers     int
	SummaryTimeout      time.Duration
	CommandTimeout      time.Duration
	GeminiAPIKey        string
	GeminiModel         string
	GeminiBaseURL       string
	MaxPerGroup         int
	MaxInjectCount      int
	AlertRetention      time.Duration
}

func DefaultConfig() Config {
	return Config{
		SocketPath:          envOr("MACNOTIFY_SOCKET", defaultSocketPath()),
		DBPath:              envOr("MACNOTIFY_DB", defaultDBPath()),
		NotificationDBPath:  defaultNotificationDBPath(),
		FocusAssertionsPath: defaultFocusAssertionsPath(),
		PollInterval:        5 * time.Second,
		StorePollTimeout:    3 * time.Second,
		ClassifyTimeout:     20 * time.Second,
		ClassifyWorkers:     3,
		SummaryTimeout:      30 * time.Second,
		CommandTimeout:      5 * time.Second,
		GeminiAPIKey:        os.Getenv("GOOGLE_API_KEY"),
		GeminiModel:         "gemini-2.5-flash-lite",
		GeminiBaseURL:       "https://generativelanguage.googleapis.com",
		MaxPerGroup:         12,
		MaxInjectCount:      30,
		AlertRetention:      14 * 24 * time.Hour,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultSocketPath() string {
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir != "" {
		return filepath.Join(runtimeDir, "macnotify", "macnotifyd.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".macnotifyd.sock"
	}
	return filepath.Join(home, ".local", "state", "macnotify", "macnotifyd.sock")
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "macnotify.db"
	}
	return filepath.Join(home, ".local", "state", "macnotify", "state.db")
}

// defaultNotificationDBPath points at the usernoted store that holds the
// delivered-notification log on macOS 15 and newer.
func defaultNotificationDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "Library", "Group Containers", "group.com.apple.usernoted", "db2", "db")
}

func defaultFocusAssertionsPath() string {
	home, err := os.UserHomeDir()
	if err == nil {
		primary := filepath.Join(home, "Library", "DoNotDisturb", "DB", "Assertions.json")
		if _, statErr := os.Stat(primary); statErr == nil {
			return primary
		}
	}
	return filepath.Join("/Users", "Shared", ".FocusConfiguration", "Assertions.json")
}
