// Package daemon exposes the triage state over a unix domain socket. The
// API is local-only: the socket is chmod 0600 and a flock-guarded lock file
// keeps a second daemon from binding.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/wakamenori/mac-notify/internal/api"
	"github.com/wakamenori/mac-notify/internal/config"
	"github.com/wakamenori/mac-notify/internal/db"
	"github.com/wakamenori/mac-notify/internal/model"
	"github.com/wakamenori/mac-notify/internal/orchestrator"
	"github.com/wakamenori/mac-notify/internal/registry"
)

const defaultAlertLimit = 50
const watchKeepalive = 30 * time.Second

// AppOpener launches an application by bundle identifier.
type AppOpener interface {
	OpenApp(ctx context.Context, bundleID string) error
}

type Server struct {
	cfg         config.Config
	httpSrv     *http.Server
	listener    net.Listener
	lockFile    *os.File
	store       *db.Store
	orch        *orchestrator.Orchestrator
	registry    *registry.Registry
	opener      AppOpener
	streamID    string
	sequence    atomic.Int64
	mu          sync.Mutex
	shutdown    sync.Once
	shutdownErr error
}

func NewServer(cfg config.Config, store *db.Store, orch *orchestrator.Orchestrator, reg *registry.Registry, opener AppOpener) *Server {
	mux := http.NewServeMux()
	s := &Server{
		cfg:      cfg,
		store:    store,
		orch:     orch,
		registry: reg,
		opener:   opener,
		streamID: uuid.NewString(),
		httpSrv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	mux.HandleFunc("/v1/health", s.healthHandler)
	mux.HandleFunc("/v1/groups", s.groupsHandler)
	mux.HandleFunc("/v1/notifications", s.notificationsHandler)
	mux.HandleFunc("/v1/notifications/", s.notificationByIDHandler)
	mux.HandleFunc("/v1/apps/", s.appByBundleHandler)
	mux.HandleFunc("/v1/prompts", s.promptsHandler)
	mux.HandleFunc("/v1/prompts/", s.promptByBundleHandler)
	mux.HandleFunc("/v1/ignored", s.ignoredHandler)
	mux.HandleFunc("/v1/ignored/", s.ignoredByBundleHandler)
	mux.HandleFunc("/v1/inject", s.injectHandler)
	mux.HandleFunc("/v1/summary", s.summaryHandler)
	mux.HandleFunc("/v1/alerts", s.alertsHandler)
	mux.HandleFunc("/v1/watch", s.watchHandler)
	return s
}

func (s *Server) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0o755); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	if err := s.acquireLock(); err != nil {
		return err
	}
	if st, err := os.Lstat(s.cfg.SocketPath); err == nil {
		if st.Mode()&os.ModeSocket == 0 {
			s.releaseLock() //nolint:errcheck
			return fmt.Errorf("socket path exists and is not unix socket: %s", s.cfg.SocketPath)
		}
		if err := os.Remove(s.cfg.SocketPath); err != nil {
			s.releaseLock() //nolint:errcheck
			return fmt.Errorf("remove stale socket: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		s.releaseLock() //nolint:errcheck
		return fmt.Errorf("stat socket path: %w", err)
	}
	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		s.releaseLock()
		return fmt.Errorf("listen uds: %w", err)
	}
	if err := os.Chmod(s.cfg.SocketPath, 0o600); err != nil {
		ln.Close() //nolint:errcheck
		s.releaseLock()
		return fmt.Errorf("chmod socket: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			_ = s.Shutdown(context.Background())
			return fmt.Errorf("serve uds: %w", err)
		}
		return nil
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdown.Do(func() {
		var errs []error
		if s.httpSrv != nil {
			if err := s.httpSrv.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		s.mu.Lock()
		listener := s.listener
		s.listener = nil
		s.mu.Unlock()
		if listener != nil {
			if err := listener.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if s.cfg.SocketPath != "" {
			if err := os.Remove(s.cfg.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
		}
		if err := s.releaseLock(); err != nil {
			errs = append(errs, err)
		}
		if len(errs) > 0 {
			s.shutdownErr = fmt.Errorf("shutdown errors: %v", errs)
		}
	})
	return s.shutdownErr
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	status := s.orch.Status()
	health := "ok"
	if !status.StoreOK {
		health = "degraded"
	}
	s.writeJSON(w, http.StatusOK, api.HealthResponse{
		SchemaVersion: "v1",
		GeneratedAt:   time.Now().UTC(),
		Status:        health,
		FocusState:    string(status.FocusState),
		StoreOK:       status.StoreOK,
		StoreError:    status.LastStoreError,
	})
}

func (s *Server) groupsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	s.writeJSON(w, http.StatusOK, api.GroupsEnvelope{
		SchemaVersion: "v1",
		GeneratedAt:   time.Now().UTC(),
		FocusState:    string(s.orch.Status().FocusState),
		Counts:        toCountsItem(s.orch.Counts()),
		Groups:        toGroupItems(s.orch.Groups()),
	})
}

func (s *Server) notificationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		s.methodNotAllowed(w, http.MethodDelete)
		return
	}
	cleared := s.orch.ClearAll()
	s.writeJSON(w, http.StatusOK, api.ClearResponse{
		SchemaVersion: "v1",
		GeneratedAt:   time.Now().UTC(),
		Cleared:       cleared,
	})
}

func (s *Server) notificationByIDHandler(w http.ResponseWriter, r *http.Request) {
	tail := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/notifications/"), "/")
	if tail == "" || strings.Contains(tail, "/") {
		s.writeError(w, http.StatusNotFound, model.ErrRefNotFound, "notification route not found")
		return
	}
	if r.Method != http.MethodDelete {
		s.methodNotAllowed(w, http.MethodDelete)
		return
	}
	id, err := strconv.ParseInt(tail, 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, "invalid notification id")
		return
	}
	cleared := 0
	if s.orch.ClearNotification(id) {
		cleared = 1
	}
	s.writeJSON(w, http.StatusOK, api.ClearResponse{
		SchemaVersion: "v1",
		GeneratedAt:   time.Now().UTC(),
		Cleared:       cleared,
	})
}

func (s *Server) appByBundleHandler(w http.ResponseWriter, r *http.Request) {
	tail := strings.TrimPrefix(r.URL.Path, "/v1/apps/")
	parts := strings.Split(strings.Trim(tail, "/"), "/")
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
		s.writeError(w, http.StatusNotFound, model.ErrRefNotFound, "app route not found")
		return
	}
	bundleID, err := url.PathUnescape(parts[0])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrRefInvalidEncoding, "invalid bundle id encoding")
		return
	}
	bundleID = strings.TrimSpace(bundleID)

	switch parts[1] {
	case "notifications":
		if r.Method != http.MethodDelete {
			s.methodNotAllowed(w, http.MethodDelete)
			return
		}
		cleared := s.orch.ClearApp(bundleID)
		s.writeJSON(w, http.StatusOK, api.ClearResponse{
			SchemaVersion: "v1",
			GeneratedAt:   time.Now().UTC(),
			Cleared:       cleared,
		})
	case "open":
		if r.Method != http.MethodPost {
			s.methodNotAllowed(w, http.MethodPost)
			return
		}
		if err := s.opener.OpenApp(r.Context(), bundleID); err != nil {
			s.writeError(w, http.StatusBadGateway, model.ErrPreconditionFailed, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, api.OpenAppResponse{
			SchemaVersion: "v1",
			GeneratedAt:   time.Now().UTC(),
			BundleID:      bundleID,
			ResultCode:    "ok",
		})
	default:
		s.writeError(w, http.StatusNotFound, model.ErrRefNotFound, "app route not found")
	}
}

func (s *Server) promptsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	prompts, err := s.registry.ListPrompts(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrStoreUnavailable, "failed to list prompts")
		return
	}
	s.writeJSON(w, http.StatusOK, api.PromptsEnvelope{
		SchemaVersion: "v1",
		GeneratedAt:   time.Now().UTC(),
		Prompts:       toPromptItems(prompts),
	})
}

func (s *Server) promptByBundleHandler(w http.ResponseWriter, r *http.Request) {
	bundleID, ok := s.bundleFromPath(w, r.URL.Path, "/v1/prompts/")
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPut:
		var req api.PromptRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, "invalid request body")
			return
		}
		if err := s.registry.SetPrompt(r.Context(), bundleID, req.Context); err != nil {
			s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, api.PromptItem{
			BundleID:  bundleID,
			Context:   req.Context,
			UpdatedAt: ts(time.Now().UTC()),
		})
	case http.MethodDelete:
		removed, err := s.registry.DeletePrompt(r.Context(), bundleID)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, model.ErrStoreUnavailable, "failed to delete prompt")
			return
		}
		cleared := 0
		if removed {
			cleared = 1
		}
		// deleting an absent prompt reports no change instead of erroring
		s.writeJSON(w, http.StatusOK, api.ClearResponse{
			SchemaVersion: "v1",
			GeneratedAt:   time.Now().UTC(),
			Cleared:       cleared,
		})
	default:
		s.methodNotAllowed(w, http.MethodPut, http.MethodDelete)
	}
}

func (s *Server) ignoredHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	ignored, err := s.registry.ListIgnored(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrStoreUnavailable, "failed to list ignored apps")
		return
	}
	if ignored == nil {
		ignored = []string{}
	}
	s.writeJSON(w, http.StatusOK, api.IgnoredEnvelope{
		SchemaVersion: "v1",
		GeneratedAt:   time.Now().UTC(),
		BundleIDs:     ignored,
	})
}

func (s *Server) ignoredByBundleHandler(w http.ResponseWriter, r *http.Request) {
	bundleID, ok := s.bundleFromPath(w, r.URL.Path, "/v1/ignored/")
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPut:
		if err := s.registry.AddIgnored(r.Context(), bundleID); err != nil {
			s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, api.ClearResponse{
			SchemaVersion: "v1",
			GeneratedAt:   time.Now().UTC(),
			Cleared:       0,
		})
	case http.MethodDelete:
		removed, err := s.registry.RemoveIgnored(r.Context(), bundleID)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, model.ErrStoreUnavailable, "failed to remove ignored app")
			return
		}
		cleared := 0
		if removed {
			cleared = 1
		}
		s.writeJSON(w, http.StatusOK, api.ClearResponse{
			SchemaVersion: "v1",
			GeneratedAt:   time.Now().UTC(),
			Cleared:       cleared,
		})
	default:
		s.methodNotAllowed(w, http.MethodPut, http.MethodDelete)
	}
}

func (s *Server) injectHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	var req api.InjectRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, "invalid request body")
		return
	}
	injected := s.orch.InjectTestNotifications(req.Count)
	s.writeJSON(w, http.StatusOK, api.InjectResponse{
		SchemaVersion: "v1",
		GeneratedAt:   time.Now().UTC(),
		Injected:      injected,
	})
}

func (s *Server) summaryHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	summary := s.orch.Summarize(r.Context())
	s.writeJSON(w, http.StatusOK, api.SummaryResponse{
		SchemaVersion:     "v1",
		GeneratedAt:       summary.GeneratedAt,
		Text:              summary.Text,
		NotificationCount: summary.NotificationCount,
	})
}

func (s *Server) alertsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	limit := defaultAlertLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, "invalid limit")
			return
		}
		limit = parsed
	}
	alerts, err := s.store.ListAlerts(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrStoreUnavailable, "failed to list alerts")
		return
	}
	s.writeJSON(w, http.StatusOK, api.AlertsEnvelope{
		SchemaVersion: "v1",
		GeneratedAt:   time.Now().UTC(),
		Alerts:        toAlertItems(alerts),
	})
}

// watchHandler streams ndjson: one snapshot line, then an update line per
// engine change, with keepalive lines while idle. The cursor is stream-scoped;
// a cursor from a previous daemon run yields a reset line first.
func (s *Server) watchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	cursorStreamID, cursorSeq, hasCursor, err := parseCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrCursorInvalid, "invalid cursor")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, model.ErrPreconditionFailed, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	enc := json.NewEncoder(w)

	// subscribe before the snapshot so a change racing the first write
	// still produces an update line
	changes, cancel := s.orch.Subscribe()
	defer cancel()

	if hasCursor && (cursorStreamID != s.streamID || cursorSeq < s.sequence.Load()) {
		_ = enc.Encode(s.watchLine("reset", false))
	}
	_ = enc.Encode(s.watchLine("snapshot", true))
	flusher.Flush()
	keepalive := time.NewTicker(watchKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-changes:
			if err := enc.Encode(s.watchLine("update", true)); err != nil {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if err := enc.Encode(s.watchLine("keepalive", false)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) watchLine(lineType string, includeGroups bool) api.WatchLine {
	seq := s.sequence.Add(1)
	now := time.Now().UTC()
	line := api.WatchLine{
		SchemaVersion: "v1",
		GeneratedAt:   now,
		EmittedAt:     now,
		StreamID:      s.streamID,
		Cursor:        fmt.Sprintf("%s:%d", s.streamID, seq),
		Type:          lineType,
		Sequence:      seq,
		FocusState:    string(s.orch.Status().FocusState),
		Counts:        toCountsItem(s.orch.Counts()),
	}
	if includeGroups {
		line.Groups = toGroupItems(s.orch.Groups())
	}
	return line
}

func (s *Server) bundleFromPath(w http.ResponseWriter, path, prefix string) (string, bool) {
	tail := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if tail == "" || strings.Contains(tail, "/") {
		s.writeError(w, http.StatusNotFound, model.ErrRefNotFound, "route not found")
		return "", false
	}
	bundleID, err := url.PathUnescape(tail)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrRefInvalidEncoding, "invalid bundle id encoding")
		return "", false
	}
	return strings.TrimSpace(bundleID), true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, msg string) {
	s.writeJSON(w, status, api.ErrorResponse{
		SchemaVersion: "v1",
		GeneratedAt:   time.Now().UTC(),
		Error: api.APIError{
			Code:    code,
			Message: msg,
		},
	})
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allow ...string) {
	if len(allow) > 0 {
		w.Header().Set("Allow", strings.Join(allow, ", "))
	}
	s.writeError(w, http.StatusMethodNotAllowed, model.ErrRefInvalid, "method not allowed")
}

func parseCursor(raw string) (string, int64, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0, false, nil
	}
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
		return "", 0, false, fmt.Errorf("invalid cursor format")
	}
	seq, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || seq < 0 {
		return "", 0, false, fmt.Errorf("invalid cursor sequence")
	}
	return parts[0], seq, true, nil
}

func (s *Server) acquireLock() error {
	lockPath := s.cfg.SocketPath + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close() //nolint:errcheck
		return fmt.Errorf("daemon already running")
	}
	s.mu.Lock()
	s.lockFile = f
	s.mu.Unlock()
	return nil
}

func (s *Server) releaseLock() error {
	s.mu.Lock()
	f := s.lockFile
	s.lockFile = nil
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return f.Close()
}
