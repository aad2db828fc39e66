package bridge

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

	"github.com/tensei-bridge/backend/internal/session"
)

const defaultRequestTimeout = 15 * time.Second

// HTTPClient talks to a live migration service over its JSON API.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// errorEnvelope is the uniform error body the service returns on
// non-2xx responses.
type errorEnvelope struct {
	Error string `json:"error"`
}

func (c *HTTPClient) CreateSession(ctx context.Context, walletAddress, sourceChain string) (CreateSessionResult, error) {
	body := map[string]string{
		"walletAddress": walletAddress,
		"sourceChain":   sourceChain,
	}
	var result CreateSessionResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions", body, &result); err != nil {
		return CreateSessionResult{}, err
	}
	return result, nil
}

func (c *HTTPClient) ConfirmPayment(ctx context.Context, sessionID, paymentProof string) (ConfirmPaymentResult, error) {
	body := map[string]string{"paymentProof": paymentProof}
	path := "/api/v1/sessions/" + url.PathEscape(sessionID) + "/payment"
	var result ConfirmPaymentResult
	if err := c.do(ctx, http.MethodPost, path, body, &result); err != nil {
		return ConfirmPaymentResult{}, err
	}
	return result, nil
}

func (c *HTTPClient) ConfirmDeposit(ctx context.Context, sessionID string, deposit DepositClaim) error {
	path := "/api/v1/sessions/" + url.PathEscape(sessionID) + "/deposit"
	return c.do(ctx, http.MethodPost, path, deposit, nil)
}

func (c *HTTPClient) DetectAssets(ctx context.Context, sessionID, contract string) ([]session.Asset, error) {
	path := "/api/v1/sessions/" + url.PathEscape(sessionID) + "/assets?contract=" + url.QueryEscape(contract)
	var result struct {
		Candidates []session.Asset `json:"candidates"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Candidates, nil
}

func (c *HTTPClient) GetStatus(ctx context.Context, sessionID string) (StatusResult, error) {
	path := "/api/v1/sessions/" + url.PathEscape(sessionID) + "/status"
	var result StatusResult
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return StatusResult{}, err
	}
	return result, nil
}

// Ping checks that the migration service answers at all. Used by the
// health endpoint; not part of the Client interface.
func (c *HTTPClient) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/v1/health", nil, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var envelope errorEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, envelope.Error)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
