// Package remote is the REST client for the remote moderation service.
//
// Every endpoint answers with a JSON document carrying a "success" flag and,
// on failure, an "error" message. Transport failures surface as
// *apperr.NetworkError; any response that is not a 2xx with success=true
// surfaces as *apperr.ServiceError.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tullo/moddash/internal/apperr"
)

// maxBodySize bounds how much of a response body is read.
const maxBodySize = 8 << 20

// Client talks to the remote moderation service.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimit caps outbound requests per second. rps <= 0 disables it.
func WithRateLimit(rps int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), rps*2)
	}
}

// NewClient creates a new Client. token is sent as a bearer token when set.
func NewClient(baseURL, token string, timeout time.Duration, log *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
		log:     log.With("component", "remote"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// envelope is the part every response shares.
type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// do issues a request and decodes the response into out (which must embed
// or mirror envelope so success can be checked).
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body any, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &apperr.NetworkError{Op: op, Err: err}
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to encode request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("%s: failed to build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("request failed", "op", op, "request_id", requestID, "error", err)
		return &apperr.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return &apperr.NetworkError{Op: op, Err: err}
	}

	c.log.Debug("request done", "op", op, "request_id", requestID, "status", resp.StatusCode, "duration", time.Since(start))

	var env envelope
	if jsonErr := json.Unmarshal(raw, &env); jsonErr != nil {
		msg := "malformed response"
		if resp.StatusCode >= 300 {
			msg = http.StatusText(resp.StatusCode)
		}
		return &apperr.ServiceError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.Success {
		msg := env.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &apperr.ServiceError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return &apperr.ServiceError{Op: op, StatusCode: resp.StatusCode, Message: "malformed response: " + err.Error()}
		}
	}
	return nil
}

func guildPath(guildID, suffix string) string {
	return "/api/guild/" + url.PathEscape(guildID) + suffix
}

func pageQuery(page, limit int) url.Values {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	return q
}
