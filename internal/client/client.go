// Package client is the order API client used by the storefront to track a
// placed order: it polls the status endpoint and fires the cancel call when
// the payment countdown runs out.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/QuanBu1/DoAnTotNghiep-CookingWebsite-sub000/internal/model"
)

// Client talks to the order API on behalf of one authenticated user.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
	cookie     *http.Cookie
	interval   time.Duration
	logger     *zap.Logger
}

// New creates a client for the order API at baseURL. interval is the status
// polling period.
func New(baseURL string, interval time.Duration, logger *zap.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil
	rc.HTTPClient.Timeout = 5 * time.Second

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc,
		interval:   interval,
		logger:     logger,
	}
}

// SetIdentity attaches the signed identity cookie sent with every request.
func (c *Client) SetIdentity(cookie *http.Cookie) {
	c.cookie = cookie
}

func kindPath(kind model.OrderKind) string {
	if kind == model.KindCourseEnrollment {
		return "course"
	}
	return "tool"
}

type statusResponse struct {
	Status string `json:"status"`
}

func (c *Client) do(ctx context.Context, method, path string) (model.OrderStatus, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	status, ok := model.NormalizeStatus(body.Status)
	if !ok {
		return "", fmt.Errorf("unknown order status: %q", body.Status)
	}
	return status, nil
}

// OrderStatus fetches the current status of the order.
func (c *Client) OrderStatus(ctx context.Context, kind model.OrderKind, id int64) (model.OrderStatus, error) {
	return c.do(ctx, http.MethodGet, fmt.Sprintf("/api/orders/%s/%d", kindPath(kind), id))
}

// Cancel asks the server to cancel the order. The call is idempotent: a
// repeat on an already cancelled order succeeds.
func (c *Client) Cancel(ctx context.Context, kind model.OrderKind, id int64) (model.OrderStatus, error) {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/orders/%s/%d/cancel", kindPath(kind), id))
}

// PollStatus polls the order until it reaches a terminal status or ctx is
// done, and returns the last status observed.
func (c *Client) PollStatus(ctx context.Context, kind model.OrderKind, id int64) (model.OrderStatus, error) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		status, err := c.OrderStatus(ctx, kind, id)
		if err != nil {
			c.logger.Warn("status poll failed", zap.Error(err), zap.Int64("orderID", id))
		} else if status.Terminal() {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// WatchDeadline polls the order until it settles or the payment deadline
// passes. On deadline it issues the cancel call; if the server reports the
// order already settled the settled status wins and is returned.
func (c *Client) WatchDeadline(ctx context.Context, kind model.OrderKind, id int64, deadline time.Time) (model.OrderStatus, error) {
	deadlineCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	status, err := c.PollStatus(deadlineCtx, kind, id)
	if err == nil {
		return status, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	// Countdown expired while the order was still pending.
	status, err = c.Cancel(ctx, kind, id)
	if err == nil {
		return status, nil
	}

	// The cancel races the webhook: a payment may have landed between the
	// last poll and the cancel call. The status endpoint settles it.
	status, statusErr := c.OrderStatus(ctx, kind, id)
	if statusErr == nil && status.Settled() {
		return status, nil
	}
	return "", fmt.Errorf("cancel order: %w", err)
}
