package drafts

import (
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

	"go.uber.org/zap"
)

const (
	defaultRetries         = 2
	defaultRetryBackoff    = time.Second
	defaultTimeout         = 90 * time.Second
	defaultMaxOutputBytes  = 256 * 1024
	defaultMaxOutputTokens = 2000
	maxErrorBodyReadSize   = 64 * 1024
)

type ClientConfig struct {
	Endpoint        string
	Model           string
	AuthToken       string
	Timeout         time.Duration
	Retries         int
	RetryBackoff    time.Duration
	MaxOutputBytes  int
	MaxOutputTokens int
	Logger          *zap.Logger
	HTTPClient      *http.Client
}

// Client writes drafts through a streaming Responses-API endpoint.
type Client struct {
	endpoint        string
	model           string
	authToken       string
	retries         int
	retryBackoff    time.Duration
	maxOutputBytes  int
	maxOutputTokens int
	logger          *zap.Logger
	http            *http.Client
}

func NewClient(cfg ClientConfig) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("empty drafting endpoint")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid drafting endpoint %q: %w", endpoint, err)
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("empty model")
	}
	c := &Client{
		endpoint:        endpoint,
		model:           model,
		authToken:       strings.TrimSpace(cfg.AuthToken),
		retries:         cfg.Retries,
		retryBackoff:    cfg.RetryBackoff,
		maxOutputBytes:  cfg.MaxOutputBytes,
		maxOutputTokens: cfg.MaxOutputTokens,
		logger:          cfg.Logger,
		http:            cfg.HTTPClient,
	}
	if c.retries <= 0 {
		c.retries = defaultRetries
	}
	if c.retryBackoff <= 0 {
		c.retryBackoff = defaultRetryBackoff
	}
	if c.maxOutputBytes <= 0 {
		c.maxOutputBytes = defaultMaxOutputBytes
	}
	if c.maxOutputTokens <= 0 {
		c.maxOutputTokens = defaultMaxOutputTokens
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.http == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		c.http = &http.Client{Timeout: timeout}
	}
	return c, nil
}

// Complete sends one prompt and returns the streamed text, retrying
// rate-limit, server and transport failures with linear backoff.
func (c *Client) Complete(ctx context.Context, instructions, prompt string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retries+1; attempt++ {
		text, err := c.completeOnce(ctx, instructions, prompt)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retryable(err) || attempt == c.retries+1 {
			break
		}
		wait := time.Duration(attempt) * c.retryBackoff
		c.logger.Warn("drafting request failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	return "", lastErr
}

func (c *Client) completeOnce(ctx context.Context, instructions, prompt string) (string, error) {
	body, err := json.Marshal(completionRequest{
		Model:        c.model,
		Instructions: instructions,
		Stream:       true,
		Input: []inputMessage{{
			Role:    "user",
			Content: []inputContent{{Type: "input_text", Text: prompt}},
		}},
		MaxOutputTokens: c.maxOutputTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal drafting request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create drafting request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("drafting request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyReadSize))
		if readErr != nil {
			return "", fmt.Errorf("drafting status=%d and read body failed: %w", resp.StatusCode, readErr)
		}
		return "", statusError{code: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}
	text, err := readEventStream(resp.Body, c.maxOutputBytes)
	if err != nil {
		return "", fmt.Errorf("read drafting stream: %w", err)
	}
	return text, nil
}

func retryable(err error) bool {
	var se statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= http.StatusInternalServerError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded)
}

type statusError struct {
	code int
	body string
}

func (e statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("drafting status=%d", e.code)
	}
	return fmt.Sprintf("drafting status=%d body=%s", e.code, e.body)
}

type completionRequest struct {
	Model           string         `json:"model"`
	Instructions    string         `json:"instructions"`
	Stream          bool           `json:"stream"`
	Input           []inputMessage `json:"input"`
	MaxOutputTokens int            `json:"max_output_tokens,omitempty"`
}

type inputMessage struct {
	Role    string         `json:"role"`
	Content []inputContent `json:"content"`
}

type inputContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
