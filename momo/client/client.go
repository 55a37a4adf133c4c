// Package client implements the HTTP transport to the remote mobile-money
// gateway. It carries signed envelopes produced by momo/compose and the
// bearer token managed by momo/token; it performs no signing of its own.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"momogw/momo/token"
	"momogw/observability"
)

const (
	headerAppKey = "X-APP-Key"

	pathApplyToken = "/payment/v1/token"
	pathPreOrder   = "/payment/v1/merchant/preOrder"
	pathAuthToken  = "/payment/v1/auth/authToken"
)

// Client talks to the gateway's REST API.
type Client struct {
	baseURL   string
	appKey    string
	appSecret string
	http      *http.Client
}

// TokenResponse is returned by the token-issuance endpoint.
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

// OrderResponse is returned by the pre-order endpoint.
type OrderResponse struct {
	Code     string `json:"code"`
	Msg      string `json:"msg"`
	PrepayID string `json:"prepay_id"`
}

// AuthTokenResponse is returned by the auth-token verification endpoint.
type AuthTokenResponse struct {
	Code       string `json:"code"`
	Msg        string `json:"msg"`
	Identifier string `json:"identifier"`
	OpenID     string `json:"open_id"`
}

// New constructs a gateway client with sane defaults.
func New(baseURL, appKey, appSecret string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		appKey:    appKey,
		appSecret: appSecret,
		http:      &http.Client{Timeout: 10 * time.Second},
	}
}

// FetchToken requests a fresh bearer token. It satisfies token.Fetcher; the
// token endpoint is the only call made without an Authorization header.
func (c *Client) FetchToken(ctx context.Context) (token.Credential, error) {
	payload := map[string]string{"appSecret": c.appSecret}
	var resp TokenResponse
	if err := c.doRequest(ctx, "apply_token", pathApplyToken, "", payload, &resp); err != nil {
		return token.Credential{}, err
	}
	if strings.TrimSpace(resp.Token) == "" {
		return token.Credential{}, fmt.Errorf("gateway %s returned empty token", pathApplyToken)
	}
	return token.Credential{Token: resp.Token, ExpiresIn: resp.ExpiresIn}, nil
}

// CreateOrder submits a signed pre-order envelope and returns the prepay id.
func (c *Client) CreateOrder(ctx context.Context, envelope map[string]any, bearer string) (*OrderResponse, error) {
	var resp OrderResponse
	if err := c.doRequest(ctx, "pre_order", pathPreOrder, bearer, envelope, &resp); err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.PrepayID) == "" {
		return nil, fmt.Errorf("gateway %s rejected order: code=%s msg=%s", pathPreOrder, resp.Code, resp.Msg)
	}
	return &resp, nil
}

// AuthToken verifies an end-user auth token with the gateway.
func (c *Client) AuthToken(ctx context.Context, envelope map[string]any, bearer string) (*AuthTokenResponse, error) {
	var resp AuthTokenResponse
	if err := c.doRequest(ctx, "auth_token", pathAuthToken, bearer, envelope, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) doRequest(ctx context.Context, operation, path, bearer string, payload, out any) error {
	if c == nil {
		return fmt.Errorf("gateway client not configured")
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerAppKey, c.appKey)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	observability.Gateway().ObserveGatewayCall(operation, start, err)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("gateway %s failed: status=%d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
