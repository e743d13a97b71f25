// Package client is an HTTP client for the dietrules API.
package client

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

	"github.com/liamcoop/dietrules/rules"
)

// APIError is a non-2xx response from the API
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
	Details    string `json:"details"`
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("API error (status %d): %s: %s", e.StatusCode, e.Message, e.Details)
	}
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// ExecuteRequest parameterises a single rule run
type ExecuteRequest struct {
	DietID    string              `json:"dietId"`
	Day       string              `json:"day,omitempty"`
	Confirmed bool                `json:"confirmed,omitempty"`
	Event     *rules.EventContext `json:"event,omitempty"`
}

// SweepResult is the response of a recurring sweep
type SweepResult struct {
	Executions []*rules.Execution `json:"executions"`
	Count      int                `json:"count"`
	Duration   string             `json:"duration"`
}

// Client is an HTTP client for the dietrules API
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a new API client. baseURL is the server root, e.g. http://localhost:8080.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

// ListRules returns the coach's rules
func (c *Client) ListRules(ctx context.Context, coachID string) ([]*rules.Rule, error) {
	q := url.Values{}
	q.Set("coachId", coachID)

	var result struct {
		Rules []*rules.Rule `json:"rules"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/rules?"+q.Encode(), nil, &result); err != nil {
		return nil, err
	}
	return result.Rules, nil
}

// GetRule returns a single rule
func (c *Client) GetRule(ctx context.Context, ruleID string) (*rules.Rule, error) {
	var rule rules.Rule
	if err := c.do(ctx, http.MethodGet, "/api/v1/rules/"+url.PathEscape(ruleID), nil, &rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

// ExecuteRule runs a rule against a diet
func (c *Client) ExecuteRule(ctx context.Context, ruleID string, req ExecuteRequest) (*rules.Execution, error) {
	var exec rules.Execution
	if err := c.do(ctx, http.MethodPost, "/api/v1/rules/"+url.PathEscape(ruleID)+"/execute", req, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

// History returns a rule's executions, most recent first
func (c *Client) History(ctx context.Context, ruleID string) ([]*rules.Execution, error) {
	var result struct {
		Executions []*rules.Execution `json:"executions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/rules/"+url.PathEscape(ruleID)+"/history", nil, &result); err != nil {
		return nil, err
	}
	return result.Executions, nil
}

// RunRecurring triggers the recurring sweep
func (c *Client) RunRecurring(ctx context.Context) (*SweepResult, error) {
	var result SweepResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/automation/recurring", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DispatchEvent sends a business event to the engine
func (c *Client) DispatchEvent(ctx context.Context, ev rules.Event) (*rules.DispatchResult, error) {
	var result rules.DispatchResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/events", ev, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		bodyBytes, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(bodyBytes, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(bodyBytes))
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
