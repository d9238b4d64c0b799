// Package appclient is the typed client for the daemon's unix socket API.
// It is the only way the CLI and MCP surfaces talk to the daemon.
package appclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wakamenori/mac-notify/internal/api"
)

type Client struct {
	baseURL      string
	client       *http.Client
	unaryTimeout time.Duration
}

const (
	watchScannerInitialBuffer = 64 * 1024
	watchScannerMaxBuffer     = 10 * 1024 * 1024
	defaultUnaryTimeout       = 10 * time.Second
)

func New(socketPath string) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}
	return NewWithClient("http://unix", &http.Client{Transport: transport})
}

func NewWithClient(baseURL string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       client,
		unaryTimeout: defaultUnaryTimeout,
	}
}

func (c *Client) WithUnaryTimeout(timeout time.Duration) *Client {
	if c == nil {
		return nil
	}
	clone := *c
	clone.unaryTimeout = timeout
	return &clone
}

type RequestError struct {
	StatusCode int
	Code       string
	Message    string
}

var ErrWatchPayloadInvalid = errors.New("watch payload invalid")

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	code := strings.TrimSpace(e.Code)
	message := strings.TrimSpace(e.Message)
	if code != "" && message != "" {
		return fmt.Sprintf("%s: %s", code, message)
	}
	if code != "" {
		if e.StatusCode > 0 {
			return fmt.Sprintf("http %d: %s", e.StatusCode, code)
		}
		return code
	}
	if message != "" {
		if e.StatusCode > 0 {
			return fmt.Sprintf("http %d: %s", e.StatusCode, message)
		}
		return message
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return "http error"
}

func (e *RequestError) Retryable() bool {
	if e == nil {
		return false
	}
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout {
		return true
	}
	return e.StatusCode >= 500
}

func (c *Client) Health(ctx context.Context) (api.HealthResponse, error) {
	return unary[api.HealthResponse](ctx, c, http.MethodGet, "/v1/health", nil, nil)
}

func (c *Client) Groups(ctx context.Context) (api.GroupsEnvelope, error) {
	return unary[api.GroupsEnvelope](ctx, c, http.MethodGet, "/v1/groups", nil, nil)
}

func (c *Client) ClearNotification(ctx context.Context, id int64) (api.ClearResponse, error) {
	path := fmt.Sprintf("/v1/notifications/%d", id)
	return unary[api.ClearResponse](ctx, c, http.MethodDelete, path, nil, nil)
}

func (c *Client) ClearApp(ctx context.Context, bundleID string) (api.ClearResponse, error) {
	bundleID = strings.TrimSpace(bundleID)
	if bundleID == "" {
		return api.ClearResponse{}, fmt.Errorf("bundle id is required")
	}
	path := "/v1/apps/" + url.PathEscape(bundleID) + "/notifications"
	return unary[api.ClearResponse](ctx, c, http.MethodDelete, path, nil, nil)
}

func (c *Client) ClearAll(ctx context.Context) (api.ClearResponse, error) {
	return unary[api.ClearResponse](ctx, c, http.MethodDelete, "/v1/notifications", nil, nil)
}

func (c *Client) ListPrompts(ctx context.Context) (api.PromptsEnvelope, error) {
	return unary[api.PromptsEnvelope](ctx, c, http.MethodGet, "/v1/prompts", nil, nil)
}

func (c *Client) SetPrompt(ctx context.Context, bundleID, promptContext string) (api.PromptItem, error) {
	bundleID = strings.TrimSpace(bundleID)
	if bundleID == "" {
		return api.PromptItem{}, fmt.Errorf("bundle id is required")
	}
	path := "/v1/prompts/" + url.PathEscape(bundleID)
	return unary[api.PromptItem](ctx, c, http.MethodPut, path, nil, api.PromptRequest{Context: promptContext})
}

func (c *Client) DeletePrompt(ctx context.Context, bundleID string) error {
	bundleID = strings.TrimSpace(bundleID)
	if bundleID == "" {
		return fmt.Errorf("bundle id is required")
	}
	path := "/v1/prompts/" + url.PathEscape(bundleID)
	_, err := c.request(ctx, http.MethodDelete, path, nil, nil, false)
	return err
}

func (c *Client) ListIgnored(ctx context.Context) (api.IgnoredEnvelope, error) {
	return unary[api.IgnoredEnvelope](ctx, c, http.MethodGet, "/v1/ignored", nil, nil)
}

func (c *Client) AddIgnored(ctx context.Context, bundleID string) error {
	bundleID = strings.TrimSpace(bundleID)
	if bundleID == "" {
		return fmt.Errorf("bundle id is required")
	}
	path := "/v1/ignored/" + url.PathEscape(bundleID)
	_, err := c.request(ctx, http.MethodPut, path, nil, nil, false)
	return err
}

func (c *Client) RemoveIgnored(ctx context.Context, bundleID string) error {
	bundleID = strings.TrimSpace(bundleID)
	if bundleID == "" {
		return fmt.Errorf("bundle id is required")
	}
	path := "/v1/ignored/" + url.PathEscape(bundleID)
	_, err := c.request(ctx, http.MethodDelete, path, nil, nil, false)
	return err
}

func (c *Client) Inject(ctx context.Context, count int) (api.InjectResponse, error) {
	return unary[api.InjectResponse](ctx, c, http.MethodPost, "/v1/inject", nil, api.InjectRequest{Count: count})
}

func (c *Client) Summary(ctx context.Context) (api.SummaryResponse, error) {
	return unary[api.SummaryResponse](ctx, c, http.MethodGet, "/v1/summary", nil, nil)
}

func (c *Client) ListAlerts(ctx context.Context, limit int) (api.AlertsEnvelope, error) {
	var query url.Values
	if limit > 0 {
		query = url.Values{"limit": []string{fmt.Sprintf("%d", limit)}}
	}
	return unary[api.AlertsEnvelope](ctx, c, http.MethodGet, "/v1/alerts", query, nil)
}

func (c *Client) OpenApp(ctx context.Context, bundleID string) (api.OpenAppResponse, error) {
	bundleID = strings.TrimSpace(bundleID)
	if bundleID == "" {
		return api.OpenAppResponse{}, fmt.Errorf("bundle id is required")
	}
	path := "/v1/apps/" + url.PathEscape(bundleID) + "/open"
	return unary[api.OpenAppResponse](ctx, c, http.MethodPost, path, nil, nil)
}

// Watch consumes the daemon's ndjson stream, invoking onLine per line until
// the context ends, the server closes the stream, or onLine returns an
// error.
func (c *Client) Watch(ctx context.Context, cursor string, onLine func(api.WatchLine) error) error {
	query := url.Values{}
	if cursor = strings.TrimSpace(cursor); cursor != "" {
		query.Set("cursor", cursor)
	}
	u := c.baseURL + "/v1/watch"
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/x-ndjson")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(resp.Body)
		var er api.ErrorResponse
		if err := json.Unmarshal(payload, &er); err == nil && er.Error.Code != "" {
			return &RequestError{StatusCode: resp.StatusCode, Code: er.Error.Code, Message: er.Error.Message}
		}
		return &RequestError{
			StatusCode: resp.StatusCode,
			Code:       fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message:    strings.TrimSpace(string(payload)),
		}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, watchScannerInitialBuffer), watchScannerMaxBuffer)
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var line api.WatchLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			return fmt.Errorf("%w: decode watch line: %v", ErrWatchPayloadInvalid, err)
		}
		if onLine != nil {
			if err := onLine(line); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: scan watch lines: %v", ErrWatchPayloadInvalid, err)
	}
	return nil
}

type WatchLoopOptions struct {
	Cursor          string
	RetryMinBackoff time.Duration
	RetryMaxBackoff time.Duration
}

// WatchLoop keeps a watch stream alive across daemon restarts with
// exponential backoff, resuming from the last seen cursor.
func (c *Client) WatchLoop(ctx context.Context, opts WatchLoopOptions, onLine func(api.WatchLine) error) error {
	minBackoff := opts.RetryMinBackoff
	if minBackoff <= 0 {
		minBackoff = 250 * time.Millisecond
	}
	maxBackoff := opts.RetryMaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 4 * time.Second
	}
	if maxBackoff < minBackoff {
		maxBackoff = minBackoff
	}
	cursor := strings.TrimSpace(opts.Cursor)
	backoff := minBackoff

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		streamErr := c.Watch(ctx, cursor, func(line api.WatchLine) error {
			if trimmed := strings.TrimSpace(line.Cursor); trimmed != "" {
				cursor = trimmed
			}
			backoff = minBackoff
			return onLine(line)
		})
		if streamErr != nil {
			if errors.Is(streamErr, context.Canceled) || errors.Is(streamErr, context.DeadlineExceeded) {
				return streamErr
			}
			if errors.Is(streamErr, ErrWatchPayloadInvalid) {
				return streamErr
			}
			var reqErr *RequestError
			if errors.As(streamErr, &reqErr) && !reqErr.Retryable() {
				return streamErr
			}
		}
		if err := sleepWithContext(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func unary[T any](ctx context.Context, c *Client, method, path string, query url.Values, body any) (T, error) {
	var payload T
	raw, err := c.request(ctx, method, path, query, body, false)
	if err != nil {
		return payload, err
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, fmt.Errorf("decode %s response: %w", path, err)
	}
	return payload, nil
}

func (c *Client) request(ctx context.Context, method, path string, query url.Values, body any, longLived bool) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	reqCtx := ctx
	if !longLived && c.unaryTimeout > 0 {
		if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > c.unaryTimeout {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, c.unaryTimeout)
			defer cancel()
		}
	}
	var reqBody io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = buf
	}
	req, err := http.NewRequestWithContext(reqCtx, method, u, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var er api.ErrorResponse
		if err := json.Unmarshal(payload, &er); err == nil && er.Error.Code != "" {
			return nil, &RequestError{
				StatusCode: resp.StatusCode,
				Code:       er.Error.Code,
				Message:    er.Error.Message,
			}
		}
		return nil, &RequestError{
			StatusCode: resp.StatusCode,
			Code:       fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message:    strings.TrimSpace(string(payload)),
		}
	}
	return payload, nil
}

func sleepWithContext(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
