// Package osm is the HTTP adapter for the OSM backend.
//
// Every call checks the auth gate, then travels through the rate-limit
// queue so that at most one request is in flight. Responses are classified
// into typed errors: the backend reports application failures inside a
// 200 envelope (ok:false or status:"error"), signals rate limiting either
// with a 429 or with a "wait N seconds" message, and trips the auth
// breaker on 401/403.
package osm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"vikings-osm-sync/internal/apperr"
	"vikings-osm-sync/internal/auth"
	"vikings-osm-sync/internal/metrics"
	"vikings-osm-sync/internal/queue"
)

// Client wraps the OSM backend API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	gate       *auth.Gate
	queue      *queue.Queue
	logger     *slog.Logger
}

// NewClient creates a client against baseURL. All calls are scheduled
// through q and gated by gate.
func NewClient(baseURL string, gate *auth.Gate, q *queue.Queue) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		gate:       gate,
		queue:      q,
		logger:     slog.Default(),
	}
}

// request describes one upstream call before scheduling.
type request struct {
	op     string // metrics operation label
	method string
	path   string
	query  url.Values
	body   any  // JSON-encoded for POSTs, nil otherwise
	write  bool // write paths mark the token expired on 401/403
	opts   queue.Options
}

// call runs the gate checks and schedules the request on the queue.
func (c *Client) call(ctx context.Context, r request) (json.RawMessage, error) {
	if c.gate.DemoMode() {
		return nil, apperr.New(apperr.KindDemoMode, "upstream calls are disabled in demo mode")
	}
	if !c.gate.HasUsableToken() {
		return nil, apperr.New(apperr.KindAuthExpired, "no usable auth token")
	}
	if !c.gate.ShouldMakeAPICall() {
		return nil, apperr.New(apperr.KindAuthExpired, "auth circuit breaker is tripped")
	}

	value, err := c.queue.Do(ctx, r.opts, func(ctx context.Context) (any, error) {
		return c.do(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	return value.(json.RawMessage), nil
}

// do performs one HTTP exchange. Runs on the queue's loop goroutine.
func (c *Client) do(ctx context.Context, r request) (any, error) {
	u := c.baseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		encoded, err := json.Marshal(r.body)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInvalidData, "failed to encode request body", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindApplicationFailure, "failed to build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.gate.Token())
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.OSMRequestDuration.WithLabelValues(r.op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.OSMRequestsTotal.WithLabelValues(r.op, metrics.ResultFailure).Inc()
		if ctx.Err() != nil {
			return nil, apperr.Wrap(apperr.KindRequestTimeout, "request deadline exceeded", err)
		}
		return nil, apperr.Wrap(apperr.KindNetwork, "request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		metrics.OSMRequestsTotal.WithLabelValues(r.op, metrics.ResultFailure).Inc()
		return nil, apperr.Wrap(apperr.KindNetwork, "failed to read response body", err)
	}

	if cerr := c.classify(r, resp.StatusCode, resp.Header, raw); cerr != nil {
		metrics.OSMRequestsTotal.WithLabelValues(r.op, metrics.ResultFailure).Inc()
		c.logger.Warn("OSM request failed",
			"operation", r.op, "status", resp.StatusCode, "error", cerr)
		return nil, cerr
	}

	metrics.OSMRequestsTotal.WithLabelValues(r.op, metrics.ResultSuccess).Inc()
	return json.RawMessage(raw), nil
}

// classify maps a completed exchange to a typed error, or nil on success.
func (c *Client) classify(r request, status int, header http.Header, raw []byte) error {
	switch {
	case status == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(header, raw)
		return apperr.RateLimited("rate limited by OSM", retryAfter)

	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		c.gate.ClassifyResponse(status)
		if r.write {
			c.gate.MarkExpired()
		}
		if status == http.StatusForbidden {
			return apperr.New(apperr.KindAuthForbidden, "forbidden by OSM")
		}
		return apperr.New(apperr.KindAuthExpired, "unauthorized by OSM")

	case status == http.StatusNotFound:
		return apperr.Newf(apperr.KindNotFound, "%s not found", r.path)

	case status >= 500:
		// 502/503 from the gateway are infrastructure failures, never
		// rate limiting
		return apperr.Newf(apperr.KindServerError, "server error (status %d)", status)

	case status >= 200 && status < 300:
		return classifyEnvelope(raw)

	default:
		return apperr.Newf(apperr.KindApplicationFailure,
			"unexpected status %d: %s", status, snippet(raw))
	}
}

// classifyEnvelope detects application failures reported inside a 2xx
// body. Array and empty bodies carry no envelope and always succeed.
func classifyEnvelope(raw []byte) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return apperr.Wrap(apperr.KindInvalidData, "failed to decode response", err)
	}
	if !env.failed() {
		return nil
	}

	msg := env.failureMessage()
	if hint, ok := apperr.ParseWaitSeconds(msg); ok {
		return apperr.RateLimited(msg, hint)
	}
	return apperr.New(apperr.KindApplicationFailure, msg)
}

// parseRetryAfter extracts the retry hint from a 429. The backend embeds
// "wait N seconds" in the error text rather than using the Retry-After
// header consistently, so the body is checked first and the header is the
// fallback.
func parseRetryAfter(header http.Header, raw []byte) time.Duration {
	if hint, ok := apperr.ParseWaitSeconds(string(raw)); ok {
		return hint
	}
	var env envelope
	if json.Unmarshal(bytes.TrimSpace(raw), &env) == nil {
		if hint, ok := apperr.ParseWaitSeconds(env.failureMessage()); ok {
			return hint
		}
	}
	if retryAfter := header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}

func snippet(raw []byte) string {
	s := string(bytes.TrimSpace(raw))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// decodePayload decodes a response into out, unwrapping an {"items": [...]}
// or {"data": ...} envelope when present.
func decodePayload(raw json.RawMessage, out any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var env envelope
		if json.Unmarshal(trimmed, &env) == nil {
			if len(env.Items) > 0 {
				trimmed = env.Items
			} else if len(env.Data) > 0 {
				trimmed = env.Data
			}
		}
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return apperr.Wrap(apperr.KindInvalidData, "failed to decode payload", err)
	}
	return nil
}
