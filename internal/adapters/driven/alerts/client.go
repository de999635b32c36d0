package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/domain"
	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/ports/driven"
)

// Client reads mention pages from the upstream alerts API.
type Client struct {
	tokenProvider   driven.TokenProvider
	httpClient      *http.Client
	baseURL         string
	maxTries        uint
	initialInterval time.Duration
	maxElapsed      time.Duration
	logger          *slog.Logger
}

// ClientConfig holds configuration for the alerts API client.
type ClientConfig struct {
	BaseURL         string
	TokenProvider   driven.TokenProvider
	HTTPClient      *http.Client  // Default: 30s timeout
	MaxTries        uint          // Attempts per page including the first (default: 4)
	InitialInterval time.Duration // First retry delay (default: 500ms)
	MaxElapsedTime  time.Duration // Give up on a page after this long (default: 2m)
	Logger          *slog.Logger
}

// NewClient creates a new alerts API client.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	maxTries := cfg.MaxTries
	if maxTries == 0 {
		maxTries = 4
	}
	initial := cfg.InitialInterval
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	maxElapsed := cfg.MaxElapsedTime
	if maxElapsed <= 0 {
		maxElapsed = 2 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		tokenProvider:   cfg.TokenProvider,
		httpClient:      httpClient,
		baseURL:         strings.TrimSuffix(cfg.BaseURL, "/"),
		maxTries:        maxTries,
		initialInterval: initial,
		maxElapsed:      maxElapsed,
		logger:          logger,
	}
}

// APIError is a non-success response from the alerts API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("alerts API error %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth retrying.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// PageQuery selects one page of mentions for an alert.
type PageQuery struct {
	AlertID   string
	ProfileID string
	Limit     int
	Cursor    *string
	Since     *time.Time
	Until     *time.Time
}

// MentionPage is one page of the mentions listing.
type MentionPage struct {
	Items      []*domain.Mention `json:"items"`
	NextCursor *string           `json:"next_cursor"`
}

// ListMentions fetches one page, retrying 429 and 5xx responses with
// exponential backoff. Other 4xx responses fail immediately.
func (c *Client) ListMentions(ctx context.Context, q PageQuery) (*MentionPage, error) {
	if q.AlertID == "" {
		return nil, fmt.Errorf("%w: alert id is required", domain.ErrInvalidInput)
	}

	token, err := c.tokenProvider.GetAccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("get access token: %w", err)
	}

	endpoint := c.baseURL + "/v1/alerts/" + url.PathEscape(q.AlertID) + "/mentions?" + q.values().Encode()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval

	return backoff.Retry(ctx, func() (*MentionPage, error) {
		return c.fetchPage(ctx, endpoint, token)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithMaxElapsedTime(c.maxElapsed),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.logger.Warn("alerts API request failed, retrying",
				"alert_id", q.AlertID,
				"wait", wait,
				"error", err,
			)
		}),
	)
}

func (q PageQuery) values() url.Values {
	v := url.Values{}
	if q.ProfileID != "" {
		v.Set("profile_id", q.ProfileID)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Cursor != nil && *q.Cursor != "" {
		v.Set("cursor", *q.Cursor)
	}
	if q.Since != nil {
		v.Set("since", q.Since.UTC().Format(time.RFC3339))
	}
	if q.Until != nil {
		v.Set("until", q.Until.UTC().Format(time.RFC3339))
	}
	return v
}

// fetchPage performs one attempt. Errors it wraps in backoff.Permanent stop
// the retry loop.
func (c *Client) fetchPage(ctx context.Context, endpoint, token string) (*MentionPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		if !apiErr.Retryable() {
			return nil, backoff.Permanent(apiErr)
		}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			return nil, errors.Join(apiErr, backoff.RetryAfter(secs))
		}
		return nil, apiErr
	}

	var page MentionPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode mentions page: %w", err))
	}
	if page.NextCursor != nil && *page.NextCursor == "" {
		page.NextCursor = nil
	}
	return &page, nil
}
