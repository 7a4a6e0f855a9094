// Package discord implements the role API of the chat platform.
// Only the three calls role synchronisation needs are covered: reading a
// member's roles, adding a role and removing a role.
package discord

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

	"golang.org/x/time/rate"

	"github.com/bloom-hub/bloom-progress/internal/domain/progress"
	"github.com/bloom-hub/bloom-progress/internal/domain/shared"
	"github.com/bloom-hub/bloom-progress/pkg/circuitbreaker"
	"github.com/bloom-hub/bloom-progress/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the role API client.
type ClientConfig struct {
	// BaseURL is the REST API base URL, e.g. https://discord.com/api/v10
	BaseURL string

	// Token is the bot token.
	Token string

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration

	// RequestsPerSecond and Burst shape outgoing traffic.
	RequestsPerSecond float64
	Burst             int

	// MaxAttempts bounds retries of one call, first attempt included.
	MaxAttempts int

	// AuditReason is sent with role changes so moderators can see who made them.
	AuditReason string

	Logger *slog.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(token string) ClientConfig {
	return ClientConfig{
		BaseURL:           "https://discord.com/api/v10",
		Token:             token,
		Timeout:           10 * time.Second,
		RequestsPerSecond: 5,
		Burst:             5,
		MaxAttempts:       4,
		AuditReason:       "meditation progress",
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// APIError is a non-success response of the role API.
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`

	// RetryAfter is set on 429 responses, in seconds.
	RetryAfter float64 `json:"retry_after"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("role api: status %d", e.Status)
	}
	return fmt.Sprintf("role api: status %d: %s (code %d)", e.Status, e.Message, e.Code)
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client implements progress.RoleGateway over the REST API.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	retrier    *retry.Retrier
	breaker    *circuitbreaker.CircuitBreaker
	logger     *slog.Logger
}

var _ progress.RoleGateway = (*Client)(nil)

// NewClient creates a new role API client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 5
	}
	if config.Burst < 1 {
		config.Burst = 1
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	logger := config.Logger.With("component", "discord")
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
		retrier: retry.PlatformAPIRetrier(
			retry.WithMaxAttempts(config.MaxAttempts),
			retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
				logger.Warn("retrying role api call", "attempt", attempt, "delay", delay, "error", err)
			}),
		),
		breaker: circuitbreaker.RoleAPIBreaker(countsAgainstPlatform,
			func(name string, from, to circuitbreaker.State) {
				logger.Warn("role api circuit changed", "breaker", name, "from", from.String(), "to", to.String())
			}),
		logger: logger,
	}
}

// countsAgainstPlatform reports whether err means the platform itself is unhealthy.
// Client errors about one member or role do not open the circuit.
func countsAgainstPlatform(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500
	}
	return !errors.Is(err, context.Canceled)
}

// member is the subset of the guild member object we read.
type member struct {
	Roles []string `json:"roles"`
}

// MemberRoles returns the roles the member currently holds.
func (c *Client) MemberRoles(ctx context.Context, communityID, userID string) (progress.RoleSet, error) {
	path := fmt.Sprintf("/guilds/%s/members/%s", url.PathEscape(communityID), url.PathEscape(userID))

	var m member
	if err := c.do(ctx, "MemberRoles", http.MethodGet, path, &m); err != nil {
		return nil, err
	}
	return progress.NewRoleSet(m.Roles...), nil
}

// GrantRole adds a role to the member. Granting a held role is a no-op on the platform.
func (c *Client) GrantRole(ctx context.Context, communityID, userID, roleID string) error {
	return c.do(ctx, "GrantRole", http.MethodPut, rolePath(communityID, userID, roleID), nil)
}

// RevokeRole removes a role from the member.
func (c *Client) RevokeRole(ctx context.Context, communityID, userID, roleID string) error {
	return c.do(ctx, "RevokeRole", http.MethodDelete, rolePath(communityID, userID, roleID), nil)
}

func rolePath(communityID, userID, roleID string) string {
	return fmt.Sprintf("/guilds/%s/members/%s/roles/%s",
		url.PathEscape(communityID), url.PathEscape(userID), url.PathEscape(roleID))
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// do performs a request with rate limiting and retries and maps the final
// failure onto the shared error kinds.
func (c *Client) do(ctx context.Context, op, method, path string, result any) error {
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			if err := c.limiter.Wait(ctx); err != nil {
				return retry.Permanent(err)
			}
			return c.doSingleRequest(ctx, method, path, result)
		})
	})
	if err == nil {
		return nil
	}
	return classify(op, err)
}

// doSingleRequest performs one HTTP request. Failures worth another attempt
// come back wrapped with retry.Retryable or retry.RetryAfter.
func (c *Client) doSingleRequest(ctx context.Context, method, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, nil)
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Bot "+c.config.Token)
	req.Header.Set("Accept", "application/json")
	if method != http.MethodGet && c.config.AuditReason != "" {
		req.Header.Set("X-Audit-Log-Reason", url.PathEscape(c.config.AuditReason))
	}

	c.logger.Debug("role api request", "method", method, "path", path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return retry.Permanent(err)
		}
		return retry.Retryable(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return retry.Retryable(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if result != nil && len(body) > 0 {
			if err := json.Unmarshal(body, result); err != nil {
				return retry.Permanent(fmt.Errorf("unmarshal response: %w", err))
			}
		}
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode}
	_ = json.Unmarshal(body, apiErr)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return retry.RetryAfter(apiErr, retryAfter(resp.Header, apiErr))
	case resp.StatusCode >= 500:
		return retry.Retryable(apiErr)
	default:
		return retry.Permanent(apiErr)
	}
}

// retryAfter reads the delay from the Retry-After header or the body.
func retryAfter(h http.Header, apiErr *APIError) time.Duration {
	if ra := h.Get("Retry-After"); ra != "" {
		if seconds, err := strconv.ParseFloat(ra, 64); err == nil && seconds > 0 {
			return time.Duration(seconds * float64(time.Second))
		}
	}
	if apiErr.RetryAfter > 0 {
		return time.Duration(apiErr.RetryAfter * float64(time.Second))
	}
	return time.Second
}

// classify maps a final client error onto a DomainError.
func classify(op string, err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == http.StatusNotFound:
			return shared.WrapError("roles", op, shared.ErrNotFound, "member or role not found", err)
		case apiErr.Status == http.StatusTooManyRequests:
			return shared.WrapError("roles", op, shared.ErrRateLimited, "role api rate limit exceeded", err)
		}
		return shared.WrapError("roles", op, shared.ErrExternalService, "role api request failed", err)
	}
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return shared.WrapError("roles", op, shared.ErrExternalService, "role api circuit is open", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return shared.WrapError("roles", op, shared.ErrTimeout, "role api request timed out", err)
	}
	return shared.WrapError("roles", op, shared.ErrExternalService, "role api unavailable", err)
}
