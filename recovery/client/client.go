package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/recoverylabs/recoveryd/recovery/api"
)

// APIError is a protocol rejection decoded from the daemon. Transport
// failures are returned as plain errors instead.
type APIError struct {
	Status    int
	Codespace string
	Code      uint32
	Message   string
}

func (e *APIError) Error() string {
	if e.Codespace != "" {
		return fmt.Sprintf("%s (%s/%d)", e.Message, e.Codespace, e.Code)
	}

	return e.Message
}

// Client is a typed HTTP client for the recovery daemon. Requests are
// authenticated with the shared HMAC key when one is set, and transient
// transport failures are retried. Protocol rejections are never retried.
type Client struct {
	baseURL string
	hmacKey string
	httpc   *http.Client

	attempts uint
	delay    time.Duration
}

type Option func(*Client)

// WithHMACKey sets the shared key used to sign request bodies.
func WithHMACKey(key string) Option {
	return func(c *Client) { c.hmacKey = key }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

// WithRetry overrides the retry policy for transport failures.
func WithRetry(attempts uint, delay time.Duration) Option {
	return func(c *Client) {
		c.attempts = attempts
		c.delay = delay
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL %s: %w", baseURL, err)
	}

	c := &Client{
		baseURL:  baseURL,
		httpc:    &http.Client{Timeout: 30 * time.Second},
		attempts: 3,
		delay:    500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

func (c *Client) CreateRecovery(ctx context.Context, req api.CreateRecoveryRequest) error {
	return c.do(ctx, http.MethodPost, "/v1/recovery/create", req, nil)
}

func (c *Client) RemoveRecovery(ctx context.Context, req api.RemoveRecoveryRequest) error {
	return c.do(ctx, http.MethodPost, "/v1/recovery/remove", req, nil)
}

func (c *Client) InitiateRecovery(ctx context.Context, req api.InitiateRecoveryRequest) error {
	return c.do(ctx, http.MethodPost, "/v1/recovery/initiate", req, nil)
}

func (c *Client) VouchRecovery(ctx context.Context, req api.VouchRecoveryRequest) error {
	return c.do(ctx, http.MethodPost, "/v1/recovery/vouch", req, nil)
}

func (c *Client) ClaimRecovery(ctx context.Context, req api.ClaimRecoveryRequest) error {
	return c.do(ctx, http.MethodPost, "/v1/recovery/claim", req, nil)
}

func (c *Client) CloseRecovery(ctx context.Context, req api.CloseRecoveryRequest) error {
	return c.do(ctx, http.MethodPost, "/v1/recovery/close", req, nil)
}

func (c *Client) AsRecovered(ctx context.Context, req api.AsRecoveredRequest) error {
	return c.do(ctx, http.MethodPost, "/v1/recovery/as-recovered", req, nil)
}

func (c *Client) CancelRecovered(ctx context.Context, req api.CancelRecoveredRequest) error {
	return c.do(ctx, http.MethodPost, "/v1/recovery/cancel", req, nil)
}

func (c *Client) SetRecovered(ctx context.Context, req api.SetRecoveredRequest) error {
	return c.do(ctx, http.MethodPost, "/v1/recovery/set-recovered", req, nil)
}

func (c *Client) GetConfig(ctx context.Context, account string) (*api.ConfigResponse, error) {
	var resp api.ConfigResponse
	if err := c.do(ctx, http.MethodGet, "/v1/recovery/config/"+account, nil, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

func (c *Client) GetActiveRecovery(ctx context.Context, lostAccount, rescuer string) (*api.ActiveRecoveryResponse, error) {
	var resp api.ActiveRecoveryResponse
	path := fmt.Sprintf("/v1/recovery/active/%s/%s", lostAccount, rescuer)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

func (c *Client) GetProxyLink(ctx context.Context, rescuer string) (*api.ProxyLinkResponse, error) {
	var resp api.ProxyLinkResponse
	if err := c.do(ctx, http.MethodGet, "/v1/recovery/proxy/"+rescuer, nil, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

func (c *Client) GetBalance(ctx context.Context, account string) (*api.BalanceResponse, error) {
	var resp api.BalanceResponse
	if err := c.do(ctx, http.MethodGet, "/v1/bank/balance/"+account, nil, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// do sends one authenticated request, retrying transport failures and 5xx
// responses. A decoded APIError is terminal and returned as-is.
func (c *Client) do(ctx context.Context, method, path string, reqBody, out any) error {
	var body []byte
	if reqBody != nil {
		var err error
		body, err = json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	return retry.Do(
		func() error {
			return c.doOnce(ctx, method, path, body, out)
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.LastErrorOnly(true),
	)
}

func (c *Client) doOnce(ctx context.Context, method, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return retry.Unrecoverable(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.hmacKey != "" {
		req.Header.Set(api.HMACHeaderKey, api.ComputeHMAC(c.hmacKey, body))
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("server error: %s", resp.Status)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode}
		var errResp api.ErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errResp); decodeErr == nil {
			apiErr.Codespace = errResp.Codespace
			apiErr.Code = errResp.Code
			apiErr.Message = errResp.Message
		} else {
			apiErr.Message = resp.Status
		}

		return retry.Unrecoverable(apiErr)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return retry.Unrecoverable(fmt.Errorf("failed to decode response: %w", err))
		}
	}

	return nil
}
