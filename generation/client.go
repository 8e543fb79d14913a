// Package generation calls the remote image-generation function.
package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// ErrRejected is returned when the function answers with an error payload.
var ErrRejected = errors.New("generation: request rejected")

// maxResponseBytes caps the response body read from the function.
const maxResponseBytes = 32 << 20

// Request is one generation job.
type Request struct {
	TemplateID string `json:"templateId" validate:"required"`
	Image      []byte `json:"-" validate:"required"`
	MimeType   string `json:"mimeType" validate:"required"`
	Prompt     string `json:"prompt,omitempty" validate:"max=1000"`
}

// Result is the function's output. Either ImageURL or Image is set.
type Result struct {
	ImageURL string        `json:"image_url,omitempty"`
	Image    []byte        `json:"-"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Client posts jobs to a callable-function endpoint: the request body is
// {"data": {...}} and the reply is {"result": {...}} or {"error": {...}}.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	limiter  *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithAuthToken sends token as a bearer credential.
func WithAuthToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithRateLimit caps outgoing calls to rps with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// New creates a client for endpoint. Calls default to 2 per second.
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 2 * time.Minute},
		limiter:  rate.NewLimiter(rate.Limit(2), 4),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate runs one job.
func (c *Client) Generate(ctx context.Context, req Request) (*Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(map[string]any{
		"data": map[string]any{
			"templateId": req.TemplateID,
			"mimeType":   req.MimeType,
			"prompt":     req.Prompt,
			"image":      base64.StdEncoding.EncodeToString(req.Image),
		},
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generation: call: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("generation: read response: %w", err)
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("generation: status %d: invalid response body", resp.StatusCode)
	}

	if msg := gjson.GetBytes(raw, "error.message"); msg.Exists() {
		return nil, fmt.Errorf("%w: %s (%s)", ErrRejected, msg.String(), gjson.GetBytes(raw, "error.status").String())
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("generation: status %d", resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}

	out := &Result{
		ImageURL: gjson.GetBytes(raw, "result.imageUrl").String(),
		Elapsed:  time.Since(start),
	}
	if b64 := gjson.GetBytes(raw, "result.image"); b64.Exists() {
		if out.Image, err = base64.StdEncoding.DecodeString(b64.String()); err != nil {
			return nil, fmt.Errorf("generation: decode image: %w", err)
		}
	}
	if out.ImageURL == "" && len(out.Image) == 0 {
		return nil, fmt.Errorf("%w: empty result", ErrRejected)
	}
	return out, nil
}
