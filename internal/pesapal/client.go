// Package pesapal provides a thin client for the Pesapal v3 payment API.
package pesapal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// AuthError indicates the gateway rejected our credentials or returned a
// malformed token response.
type AuthError struct {
	Body string
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pesapal auth failed: %v", e.Err)
	}
	return fmt.Sprintf("pesapal auth failed: %s", e.Body)
}

func (e *AuthError) Unwrap() error { return e.Err }

// SubmitError indicates an order submission failed. This is fatal for the
// purchase attempt: without a redirect URL the customer cannot be sent
// anywhere to pay.
type SubmitError struct {
	Body string
	Err  error
}

func (e *SubmitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pesapal order submit failed: %v", e.Err)
	}
	return fmt.Sprintf("pesapal order submit failed: %s", e.Body)
}

func (e *SubmitError) Unwrap() error { return e.Err }

// QueryError indicates a transaction-status query failed. Callers treat it
// as "unknown, retry later", never as a failed payment.
type QueryError struct {
	Err error
}

func (e *QueryError) Error() string { return fmt.Sprintf("pesapal status query failed: %v", e.Err) }
func (e *QueryError) Unwrap() error { return e.Err }

// Config holds gateway credentials and endpoints.
type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Currency       string
	Branch         string
}

// Client talks to the Pesapal v3 API. It keeps no state between calls;
// tokens are short-lived, so callers re-authenticate per operation.
type Client struct {
	config Config
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a Pesapal client.
func NewClient(config Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Currency == "" {
		config.Currency = "UGX"
	}

	return &Client{
		config: config,
		http:   &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Authenticate exchanges the consumer key/secret for a short-lived bearer
// token.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	body := map[string]string{
		"consumer_key":    c.config.ConsumerKey,
		"consumer_secret": c.config.ConsumerSecret,
	}

	var resp tokenResponse
	raw, err := c.postJSON(ctx, "/api/Auth/RequestToken", "", body, &resp)
	if err != nil {
		return "", &AuthError{Err: err}
	}
	if resp.Token == "" {
		return "", &AuthError{Body: raw}
	}
	return resp.Token, nil
}

type ipnResponse struct {
	IPNID string `json:"ipn_id"`
}

// RegisterIPN registers a webhook endpoint and returns the notification id
// required by order submission. A missing id in the response degrades to an
// empty string rather than failing the purchase.
func (c *Client) RegisterIPN(ctx context.Context, token, ipnURL string) (string, error) {
	body := map[string]string{
		"url":                   ipnURL,
		"ipn_notification_type": "GET",
	}

	var resp ipnResponse
	if _, err := c.postJSON(ctx, "/api/URLSetup/RegisterIPN", token, body, &resp); err != nil {
		return "", fmt.Errorf("failed to register IPN: %w", err)
	}
	if resp.IPNID == "" {
		c.logger.Warn("pesapal IPN registration returned no ipn_id", zap.String("url", ipnURL))
	}
	return resp.IPNID, nil
}

// OrderRequest describes an order submission.
type OrderRequest struct {
	OrderID     string
	Amount      int64
	Description string
	CallbackURL string
	Phone       string
	Email       string
}

// SubmitResult carries the fields consumed from a successful submission.
type SubmitResult struct {
	RedirectURL string
	TrackingID  string
}

type submitResponse struct {
	RedirectURL     string `json:"redirect_url"`
	OrderTrackingID string `json:"order_tracking_id"`
}

// SubmitOrder sends an order to the gateway. The customer must be redirected
// to the returned URL to pay.
func (c *Client) SubmitOrder(ctx context.Context, token string, req OrderRequest, ipnID string) (*SubmitResult, error) {
	body := map[string]any{
		"id":              req.OrderID,
		"currency":        c.config.Currency,
		"amount":          req.Amount,
		"description":     req.Description,
		"callback_url":    req.CallbackURL,
		"redirect_mode":   "",
		"notification_id": ipnID,
		"branch":          c.config.Branch,
		"billing_address": map[string]string{
			"phone_number":  req.Phone,
			"email_address": req.Email,
			"first_name":    "Customer",
			"last_name":     "",
		},
	}

	var resp submitResponse
	raw, err := c.postJSON(ctx, "/api/Transactions/SubmitOrderRequest", token, body, &resp)
	if err != nil {
		return nil, &SubmitError{Err: err}
	}
	if resp.RedirectURL == "" {
		return nil, &SubmitError{Body: raw}
	}

	c.logger.Info("pesapal order submitted",
		zap.String("order_id", req.OrderID),
		zap.String("tracking_id", resp.OrderTrackingID),
	)

	return &SubmitResult{
		RedirectURL: resp.RedirectURL,
		TrackingID:  resp.OrderTrackingID,
	}, nil
}

type statusResponse struct {
	PaymentStatusDescription string `json:"payment_status_description"`
	Status                   string `json:"status"`
}

// GetTransactionStatus fetches the free-text payment status for a tracking
// id. Network or auth failure surfaces as a QueryError, which the caller
// must treat as still-pending.
func (c *Client) GetTransactionStatus(ctx context.Context, token, trackingID string) (string, error) {
	endpoint := c.config.BaseURL + "/api/Transactions/GetTransactionStatus?orderTrackingId=" + url.QueryEscape(trackingID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", &QueryError{Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	httpResp, err := c.http.Do(req)
	if err != nil {
		return "", &QueryError{Err: err}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return "", &QueryError{Err: fmt.Errorf("unexpected status %d", httpResp.StatusCode)}
	}

	var resp statusResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return "", &QueryError{Err: err}
	}

	status := resp.PaymentStatusDescription
	if status == "" {
		status = resp.Status
	}
	return status, nil
}

// postJSON posts a JSON body and decodes the response into out. It returns
// the raw response for error reporting.
func (c *Client) postJSON(ctx context.Context, path, token string, body any, out any) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer httpResp.Body.Close()

	var buf bytes.Buffer
	if err := json.NewDecoder(io.TeeReader(httpResp.Body, &buf)).Decode(out); err != nil {
		return strings.TrimSpace(buf.String()), fmt.Errorf("failed to decode response: %w", err)
	}
	if httpResp.StatusCode >= 400 {
		return strings.TrimSpace(buf.String()), fmt.Errorf("unexpected status %d", httpResp.StatusCode)
	}

	return strings.TrimSpace(buf.String()), nil
}
