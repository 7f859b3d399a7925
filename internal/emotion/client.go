package emotion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nvasile/amica/internal/reliability"
)

// HTTPError reports a non-2xx emotion-analysis response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("emotion endpoint returned %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPError) Retryable() bool {
	return reliability.IsRetryableHTTPStatus(e.StatusCode)
}

type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client scores text against the emotion-analysis endpoint. The contract
// is a single POST of {text} answered by an emotion-name to score map.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

// Enabled reports whether an endpoint is configured. Emotion scoring is an
// enrichment; callers degrade gracefully when it is off.
func (c *Client) Enabled() bool {
	return strings.TrimSpace(c.cfg.BaseURL) != ""
}

// Analyze returns emotion scores in [0,1] keyed by emotion name.
func (c *Client) Analyze(ctx context.Context, text string) (map[string]float64, error) {
	if !c.Enabled() {
		return nil, nil
	}

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("emotion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	var scores map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&scores); err != nil {
		return nil, fmt.Errorf("decode emotion response: %w", err)
	}
	return scores, nil
}
