package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Failure kinds the dialog layer distinguishes. Everything the transport
// can go wrong with maps onto one of these three.
var (
	// ErrBusy means the backend is temporarily overloaded (HTTP 409).
	ErrBusy = errors.New("llm backend busy")
	// ErrInvalidRequest means the backend rejected the input (HTTP 422).
	ErrInvalidRequest = errors.New("llm request rejected")
	// ErrUnavailable covers transport failures and unexpected statuses.
	ErrUnavailable = errors.New("llm backend unavailable")
)

// Client generates text from a prompt. Implemented by HTTPClient; the bot
// service depends only on this interface.
type Client interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// HTTPClientConfig holds configuration for the HTTP client.
type HTTPClientConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
}

// DefaultHTTPClientConfig returns default configuration.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		BaseURL:        "http://localhost:8000",
		RequestTimeout: 120 * time.Second,
	}
}

// HTTPClient talks to the generation bridge over HTTP JSON.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the generation bridge at baseURL.
func NewHTTPClient(cfg HTTPClientConfig, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	base := DefaultHTTPClientConfig()
	if cfg.BaseURL != "" {
		base.BaseURL = cfg.BaseURL
	}
	if cfg.RequestTimeout > 0 {
		base.RequestTimeout = cfg.RequestTimeout
	}

	return &HTTPClient{
		baseURL: strings.TrimRight(base.BaseURL, "/"),
		http:    &http.Client{Timeout: base.RequestTimeout},
		logger:  logger,
	}
}

// Generate posts the prompt to /generate and decodes the response.
// HTTP 409 maps to ErrBusy, 422 to ErrInvalidRequest, and every other
// failure to ErrUnavailable.
func (c *HTTPClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %w", ErrUnavailable, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close generate response body", "error", closeErr)
		}
	}()

	switch resp.StatusCode {
	case http.StatusConflict:
		return nil, ErrBusy
	case http.StatusUnprocessableEntity:
		return nil, ErrInvalidRequest
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrUnavailable, err)
	}

	var out GenerateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrUnavailable, err)
	}

	return &out, nil
}
