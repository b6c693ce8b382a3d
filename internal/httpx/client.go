// internal/httpx/client.go
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rovshanmuradov/meteora-bot/internal/domain"
	"go.uber.org/zap"
)

// ErrEmptyResponse is returned when a 2xx response has no body but a result was expected.
var ErrEmptyResponse = errors.New("empty response body")

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.URL, e.StatusCode, e.Body)
}

// Is makes 429 and 5xx responses count as domain.ErrTransient.
func (e *StatusError) Is(target error) bool {
	return target == domain.ErrTransient && retryable(e.StatusCode)
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// Config controls timeouts and retries.
type Config struct {
	Timeout      time.Duration
	MaxTries     uint
	InitialDelay time.Duration
	UserAgent    string
}

// DefaultConfig: 15s per request, 3 tries starting at 250ms.
func DefaultConfig() Config {
	return Config{
		Timeout:      15 * time.Second,
		MaxTries:     3,
		InitialDelay: 250 * time.Millisecond,
		UserAgent:    "meteora-bot/1.0",
	}
}

// Client is a JSON HTTP client that retries rate limits and server errors.
type Client struct {
	http   *http.Client
	cfg    Config
	logger *zap.Logger
}

// New creates a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 1
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 250 * time.Millisecond
	}
	return &Client{
		http:   &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		logger: logger.Named("http"),
	}
}

// GetJSON decodes the response of a GET into out.
func (c *Client) GetJSON(ctx context.Context, url string, headers map[string]string, out any) error {
	return c.Do(ctx, http.MethodGet, url, nil, headers, out)
}

// PostJSON sends body as JSON and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, url string, body any, headers map[string]string, out any) error {
	return c.Do(ctx, http.MethodPost, url, body, headers, out)
}

// Do performs the request with retries. A nil out discards the response body.
func (c *Client) Do(ctx context.Context, method, url string, body any, headers map[string]string, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialDelay
	b.MaxInterval = 2 * time.Second

	buf, err := backoff.Retry(ctx, func() ([]byte, error) {
		return c.once(ctx, method, url, payload, headers)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.cfg.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug("Retrying request",
				zap.String("url", url),
				zap.Duration("next", next),
				zap.Error(err))
		}),
	)
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(buf)) == 0 {
		return fmt.Errorf("%s: %w", url, ErrEmptyResponse)
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

func (c *Client) once(ctx context.Context, method, url string, payload []byte, headers map[string]string) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, domain.Transient(method+" "+url, err)
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.Transient("read "+url, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		serr := &StatusError{StatusCode: resp.StatusCode, URL: url, Body: truncate(string(buf), 256)}
		if retryable(resp.StatusCode) {
			return nil, serr
		}
		return nil, backoff.Permanent(serr)
	}
	return buf, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
