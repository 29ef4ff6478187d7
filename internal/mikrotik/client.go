package mikrotik

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Config holds the RouterOS REST API configuration.
type Config struct {
	BaseURL  string // e.g. "https://192.168.88.1"
	Username string
	Password string
}

// Client manages hotspot users through the RouterOS v7 REST API.
type Client struct {
	config Config
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a MikroTik REST client.
func NewClient(config Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		config: config,
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// AddUser creates a hotspot user named after the voucher code, with the code
// as password and an uptime limit of durationHours.
func (c *Client) AddUser(ctx context.Context, code string, durationHours int, profile string) error {
	if profile == "" {
		profile = "default"
	}

	body := map[string]string{
		"name":         code,
		"password":     code,
		"profile":      profile,
		"limit-uptime": fmt.Sprintf("%dh", durationHours),
		"shared-users": "1",
		"server":       "all",
		"comment":      "Sonic Net auto-provisioned " + time.Now().UTC().Format(time.RFC3339),
	}

	resp, err := c.do(ctx, http.MethodPost, "/rest/ip/hotspot/user/add", body)
	if err != nil {
		return fmt.Errorf("failed to add hotspot user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("hotspot user add rejected (%d): %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	c.logger.Info("hotspot user provisioned",
		zap.String("code", code),
		zap.String("profile", profile),
		zap.Int("duration_hours", durationHours),
	)
	return nil
}

// RemoveUser looks up the hotspot user by name, deletes it, and terminates
// any active session for that name. All failures are non-fatal: the caller
// only learns whether the user was actually removed.
func (c *Client) RemoveUser(ctx context.Context, code string) (bool, error) {
	users, err := c.list(ctx, "/rest/ip/hotspot/user?name="+url.QueryEscape(code))
	if err != nil {
		return false, fmt.Errorf("failed to look up hotspot user: %w", err)
	}
	if len(users) == 0 {
		return false, nil
	}

	resp, err := c.do(ctx, http.MethodDelete, "/rest/ip/hotspot/user/"+url.PathEscape(users[0].ID), nil)
	if err != nil {
		return false, fmt.Errorf("failed to remove hotspot user: %w", err)
	}
	resp.Body.Close()
	removed := resp.StatusCode < 400

	// Kick any active session too; a deleted user can otherwise stay online
	// until the session times out on its own.
	sessions, err := c.list(ctx, "/rest/ip/hotspot/active?user="+url.QueryEscape(code))
	if err != nil {
		c.logger.Warn("failed to list active sessions", zap.String("code", code), zap.Error(err))
		return removed, nil
	}
	for _, sess := range sessions {
		sresp, err := c.do(ctx, http.MethodDelete, "/rest/ip/hotspot/active/"+url.PathEscape(sess.ID), nil)
		if err != nil {
			c.logger.Warn("failed to terminate session", zap.String("code", code), zap.Error(err))
			continue
		}
		sresp.Body.Close()
	}

	c.logger.Info("hotspot user removed", zap.String("code", code), zap.Bool("removed", removed))
	return removed, nil
}

// TestConnection verifies the router REST API is reachable.
func (c *Client) TestConnection(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/rest/ip/hotspot/user", nil)
	if err != nil {
		return fmt.Errorf("router connection test failed: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("router connection test failed: status %d", resp.StatusCode)
	}
	return nil
}

// entry is the subset of a RouterOS object the client consumes.
type entry struct {
	ID string `json:".id"`
}

func (c *Client) list(ctx context.Context, path string) ([]entry, error) {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var entries []entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return entries, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.config.Username, c.config.Password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.http.Do(req)
}
