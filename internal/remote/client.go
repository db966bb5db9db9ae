package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"streamthumb/internal/logger"
)

// RateLimitError indicates the preview endpoint rejected a submission with
// HTTP 429 and asked the client to retry after a delay.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// StatusError indicates a non-429 failure status from the preview endpoint
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("preview submit failed with status %d", e.Status)
}

// Config contains preview client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client submits stream preview thumbnails to the remote preview endpoint
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new preview submission client
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	httpClient := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: httpClient,
	}, nil
}

type submitRequest struct {
	Thumbnail string `json:"thumbnail"`
}

type rateLimitResponse struct {
	RetryAfter float64 `json:"retry_after"`
}

// SubmitThumbnail posts an encoded thumbnail for the given stream key.
// A 429 response is returned as *RateLimitError carrying the server-provided
// delay; any other failure status is returned as *StatusError.
func (c *Client) SubmitThumbnail(ctx context.Context, streamKey, thumbnail string) error {
	body, err := json.Marshal(submitRequest{Thumbnail: thumbnail})
	if err != nil {
		return fmt.Errorf("failed to marshal submit request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/streams/%s/preview", c.baseURL, url.PathEscape(streamKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	log := logger.WithComponent("remote")
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("preview submit request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		log.Debug().
			Str("stream_key", streamKey).
			Dur("elapsed", time.Since(start)).
			Msg("Thumbnail submitted")
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode == http.StatusTooManyRequests {
		var rl rateLimitResponse
		if err := json.Unmarshal(respBody, &rl); err != nil || rl.RetryAfter <= 0 {
			// Malformed 429 body, fall back to a conservative delay
			rl.RetryAfter = 1
		}
		retryAfter := time.Duration(rl.RetryAfter * float64(time.Second))
		log.Warn().
			Str("stream_key", streamKey).
			Dur("retry_after", retryAfter).
			Msg("Thumbnail submit rate limited")
		return &RateLimitError{RetryAfter: retryAfter}
	}

	log.Error().
		Str("stream_key", streamKey).
		Int("status", resp.StatusCode).
		Msg("Thumbnail submit failed")
	return &StatusError{Status: resp.StatusCode, Body: string(respBody)}
}
