package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shineum/dmail/internal/mail"
)

const (
	maxRetries     = 3
	baseRetryDelay = 1 * time.Second
)

// GraphProviderConfig holds the app registration and the mailboxes used.
type GraphProviderConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string

	// Sender is the mailbox the report is sent as.
	Sender string

	// Recipient is the postmaster receiving the reports.
	Recipient string
}

// GraphProvider mails a report per undeliverable message through Graph.
type GraphProvider struct {
	recipient  string
	sendURL    string
	hc         *http.Client
	token      *tokenCache
	retryDelay time.Duration
}

// New creates a GraphProvider for the public Microsoft endpoints.
func New(cfg GraphProviderConfig) (*GraphProvider, error) {
	if cfg.TenantID == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("Graph dead-letter provider needs a tenant id, client id and client secret")
	}
	if cfg.Sender == "" || cfg.Recipient == "" {
		return nil, errors.New("Graph dead-letter provider needs a sender and a recipient")
	}
	tokenURL := "https://login.microsoftonline.com/" + url.PathEscape(cfg.TenantID) + "/oauth2/v2.0/token"
	sendURL := "https://graph.microsoft.com/v1.0/users/" + url.PathEscape(cfg.Sender) + "/sendMail"
	return newWithEndpoints(cfg, sendURL, tokenURL, &http.Client{Timeout: 30 * time.Second}), nil
}

func newWithEndpoints(cfg GraphProviderConfig, sendURL, tokenURL string, hc *http.Client) *GraphProvider {
	return &GraphProvider{
		recipient:  cfg.Recipient,
		sendURL:    sendURL,
		hc:         hc,
		token:      newTokenCache(tokenURL, cfg.ClientID, cfg.ClientSecret, hc),
		retryDelay: baseRetryDelay,
	}
}

// Send mails the report. A 401 refreshes the token once; 429 honours
// Retry-After; 5xx and transport errors back off exponentially; other
// statuses fail at once.
func (g *GraphProvider) Send(ctx context.Context, msg *mail.Message, reason string) error {
	body, err := json.Marshal(reportRequest(g.recipient, msg, reason))
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	refreshed := false
	var last *sendError
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := g.post(ctx, body)
		if err == nil {
			return nil
		}
		var serr *sendError
		if !errors.As(err, &serr) {
			return err
		}
		last = serr

		var delay time.Duration
		switch {
		case serr.statusCode == http.StatusUnauthorized && !refreshed:
			slog.Info("refreshing Graph token after 401")
			g.token.Invalidate()
			refreshed = true
			continue
		case serr.statusCode == http.StatusTooManyRequests:
			delay = retryAfter(serr.retryAfter, g.backoff(attempt))
		case serr.transient:
			delay = g.backoff(attempt)
		default:
			return serr
		}

		slog.Warn("Graph API error, retrying", "status", serr.statusCode, "attempt", attempt, "delay", delay)
		if err := wait(ctx, delay); err != nil {
			return fmt.Errorf("context cancelled during retry wait: %w", err)
		}
	}
	return fmt.Errorf("Graph API request failed after %d retries: %w", maxRetries, last)
}

// Name returns the provider name.
func (g *GraphProvider) Name() string {
	return "msgraph"
}

// post sends one sendMail request. Failures that may be retried are returned
// as *sendError.
func (g *GraphProvider) post(ctx context.Context, body []byte) error {
	token, err := g.token.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.sendURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &sendError{message: err.Error(), transient: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	message := string(raw)
	var er errorResponse
	if json.Unmarshal(raw, &er) == nil && er.Error.Message != "" {
		message = er.Error.Code + ": " + er.Error.Message
	}
	return classify(resp.StatusCode, message, resp.Header.Get("Retry-After"))
}

// sendError is a failed sendMail request, classified for retrying.
type sendError struct {
	statusCode int
	message    string
	transient  bool
	retryAfter string
}

func (e *sendError) Error() string {
	if e.statusCode == 0 {
		return "Graph API request failed: " + e.message
	}
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.statusCode, e.message)
}

func classify(status int, message, retryAfter string) *sendError {
	return &sendError{
		statusCode: status,
		message:    message,
		retryAfter: retryAfter,
		transient:  status == http.StatusTooManyRequests || status >= 500,
	}
}

func (g *GraphProvider) backoff(attempt int) time.Duration {
	return g.retryDelay << attempt
}

// retryAfter parses a Retry-After value in seconds, or returns fallback.
func retryAfter(v string, fallback time.Duration) time.Duration {
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
