package appclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wakamenori/mac-notify/internal/api"
)

func TestGroupsDecodesEnvelope(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/groups", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("expected GET, got %s", r.Method)
		}
		_, _ = io.WriteString(w, `{"schema_version":"v1","focus_state":"active","counts":{"critical":1,"high":0,"medium":2,"low":0,"total":3},"groups":[{"bundle_id":"com.apple.mail","app_name":"mail","notifications":[]}]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewWithClient(srv.URL, srv.Client())
	env, err := client.Groups(context.Background())
	if err != nil {
		t.Fatalf("groups: %v", err)
	}
	if env.FocusState != "active" || env.Counts.Total != 3 || len(env.Groups) != 1 {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestErrorResponseBecomesRequestError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/notifications/99", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"schema_version":"v1","generated_at":"2026-08-01T00:00:00Z","error":{"code":"E_REF_NOT_FOUND","message":"notification not found"}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewWithClient(srv.URL, srv.Client())
	_, err := client.ClearNotification(context.Background(), 99)
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	if reqErr.StatusCode != http.StatusNotFound || reqErr.Code != "E_REF_NOT_FOUND" {
		t.Fatalf("unexpected error: %+v", reqErr)
	}
	if reqErr.Retryable() {
		t.Fatalf("404 must not be retryable")
	}
}

func TestSetPromptSendsBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/prompts/com.apple.mail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Fatalf("expected PUT, got %s", r.Method)
		}
		var req api.PromptRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if req.Context != "only my manager is urgent" {
			t.Fatalf("context = %q", req.Context)
		}
		_, _ = io.WriteString(w, `{"bundle_id":"com.apple.mail","context":"only my manager is urgent","updated_at":"2026-08-01T00:00:00Z"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewWithClient(srv.URL, srv.Client())
	item, err := client.SetPrompt(context.Background(), "com.apple.mail", "only my manager is urgent")
	if err != nil {
		t.Fatalf("set prompt: %v", err)
	}
	if item.BundleID != "com.apple.mail" {
		t.Fatalf("unexpected item: %+v", item)
	}

	if _, err := client.SetPrompt(context.Background(), "  ", "x"); err == nil {
		t.Fatalf("expected error for empty bundle id")
	}
}

func TestWatchStreamsLines(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/watch", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("cursor"); got != "stream:5" {
			t.Fatalf("cursor = %q, want stream:5", got)
		}
		_, _ = io.WriteString(w, `{"schema_version":"v1","type":"snapshot","sequence":6,"cursor":"stream:6","counts":{"total":1}}`+"\n")
		_, _ = io.WriteString(w, `{"schema_version":"v1","type":"update","sequence":7,"cursor":"stream:7","counts":{"total":2}}`+"\n")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewWithClient(srv.URL, srv.Client())
	types := make([]string, 0)
	err := client.Watch(context.Background(), "stream:5", func(line api.WatchLine) error {
		types = append(types, line.Type)
		return nil
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if len(types) != 2 || types[0] != "snapshot" || types[1] != "update" {
		t.Fatalf("line types = %v", types)
	}
}

func TestWatchRejectsMalformedLine(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/watch", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "not json\n")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewWithClient(srv.URL, srv.Client())
	err := client.Watch(context.Background(), "", func(api.WatchLine) error { return nil })
	if !errors.Is(err, ErrWatchPayloadInvalid) {
		t.Fatalf("expected ErrWatchPayloadInvalid, got %v", err)
	}
}

func TestWatchLoopRetriesAndResumes(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/watch", func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = io.WriteString(w, `{"schema_version":"v1","generated_at":"2026-08-01T00:00:00Z","error":{"code":"E_STORE_UNAVAILABLE","message":"boom"}}`)
			return
		}
		if n == 2 && r.URL.Query().Get("cursor") != "" {
			t.Fatalf("first successful request should not pass cursor, got %q", r.URL.Query().Get("cursor"))
		}
		if n == 3 && r.URL.Query().Get("cursor") != "stream:1" {
			t.Fatalf("expected resume cursor stream:1, got %q", r.URL.Query().Get("cursor"))
		}
		sequence := int64(1)
		cursor := "stream:1"
		if n >= 3 {
			sequence = 2
			cursor = "stream:2"
		}
		line := map[string]any{
			"schema_version": "v1",
			"type":           "snapshot",
			"sequence":       sequence,
			"cursor":         cursor,
			"counts":         map[string]int{"total": int(sequence)},
		}
		buf, _ := json.Marshal(line)
		_, _ = io.WriteString(w, string(buf)+"\n")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewWithClient(srv.URL, srv.Client())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	received := make([]int64, 0)
	err := client.WatchLoop(ctx, WatchLoopOptions{
		RetryMinBackoff: 20 * time.Millisecond,
		RetryMaxBackoff: 40 * time.Millisecond,
	}, func(line api.WatchLine) error {
		received = append(received, line.Sequence)
		if len(received) >= 2 {
			return context.Canceled
		}
		return nil
	})
	if err == nil || !strings.Contains(err.Error(), "context canceled") {
		t.Fatalf("expected context canceled sentinel, got %v", err)
	}
	if len(received) < 2 || received[0] != 1 || received[1] != 2 {
		t.Fatalf("unexpected received sequences: %+v", received)
	}
}

func TestUnaryTimeoutApplies(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/health", func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewWithClient(srv.URL, srv.Client()).WithUnaryTimeout(50 * time.Millisecond)
	start := time.Now()
	_, err := client.Health(context.Background())
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("timeout took too long: %v", elapsed)
	}
}
