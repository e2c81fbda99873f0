// Package lark is a lightweight Feishu/Lark API client and webhook handler
// built on net/http. It covers the small API surface the bot needs:
// tenant_access_token management, card reply/update, and the bot info probe.
package lark

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	tokenRefreshMargin = 5 * time.Minute
	tokenEndpoint      = "/open-apis/auth/v3/tenant_access_token/internal"
)

// CredentialError reports a failed tenant_access_token exchange. A run that
// cannot obtain a token cannot reach the platform at all, so callers treat
// it as fatal for the current attempt and never cache the result.
type CredentialError struct {
	Code int
	Msg  string
	Err  error
}

func (e *CredentialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("lark credential exchange: %v", e.Err)
	}
	return fmt.Sprintf("lark credential exchange: code=%d msg=%s", e.Code, e.Msg)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// Client talks to the Feishu/Lark REST API with automatic token refresh.
type Client struct {
	baseURL    string
	appID      string
	appSecret  string
	httpClient *http.Client

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

// NewClient creates a Lark HTTP client for the given app identity.
// domain is "feishu", "lark", or a full base URL.
func NewClient(appID, appSecret, domain string) *Client {
	return &Client{
		baseURL:    ResolveDomain(domain),
		appID:      appID,
		appSecret:  appSecret,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// ResolveDomain maps the short config names to API base URLs.
func ResolveDomain(domain string) string {
	switch domain {
	case "", "feishu":
		return "https://open.feishu.cn"
	case "lark":
		return "https://open.larksuite.com"
	default:
		if !strings.HasPrefix(domain, "http") {
			return "https://" + domain
		}
		return strings.TrimRight(domain, "/")
	}
}

// getToken returns the cached tenant_access_token, refreshing it when it is
// within the refresh margin of expiry. The mutex serializes refreshes: a
// concurrent caller waits for the winner's result instead of issuing a
// duplicate exchange.
func (c *Client) getToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExp) {
		return c.token, nil
	}

	body, _ := json.Marshal(map[string]string{
		"app_id":     c.appID,
		"app_secret": c.appSecret,
	})

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+tokenEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", &CredentialError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &CredentialError{Err: err}
	}
	defer resp.Body.Close()

	var result struct {
		Code              int    `json:"code"`
		Msg               string `json:"msg"`
		TenantAccessToken string `json:"tenant_access_token"`
		Expire            int    `json:"expire"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &CredentialError{Err: fmt.Errorf("decode: %w", err)}
	}
	if result.Code != 0 || result.TenantAccessToken == "" {
		return "", &CredentialError{Code: result.Code, Msg: result.Msg}
	}

	c.token = result.TenantAccessToken
	c.tokenExp = time.Now().Add(time.Duration(result.Expire)*time.Second - tokenRefreshMargin)
	return c.token, nil
}

func (c *Client) clearToken() {
	c.mu.Lock()
	c.token = ""
	c.tokenExp = time.Time{}
	c.mu.Unlock()
}

// isTokenError reports whether the API error code means an expired or
// invalid token.
func isTokenError(code int) bool {
	return code == 99991663 || code == 99991664 || code == 99991671
}

type apiResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// doJSON performs an authenticated JSON API call, retrying once with a
// fresh token when the platform reports token expiry.
func (c *Client) doJSON(ctx context.Context, method, path string, body interface{}) (*apiResponse, error) {
	resp, err := c.doJSONOnce(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if isTokenError(resp.Code) {
		c.clearToken()
		return c.doJSONOnce(ctx, method, path, body)
	}
	return resp, nil
}

func (c *Client) doJSONOnce(ctx context.Context, method, path string, body interface{}) (*apiResponse, error) {
	token, err := c.getToken(ctx)
	if err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lark api %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var result apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("lark api decode: %w", err)
	}
	return &result, nil
}
