// Package paypal is a small client for the PayPal Orders v2 REST API and
// the IPN postback verification protocol.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/novaxell/dispenser/internal/metrics"
	"github.com/novaxell/dispenser/internal/models"
)

// Modes.
const (
	Sandbox = "sandbox"
	Live    = "live"
)

const (
	sandboxAPI = "https://api-m.sandbox.paypal.com"
	liveAPI    = "https://api-m.paypal.com"
	sandboxIPN = "https://ipnpb.sandbox.paypal.com/cgi-bin/webscr"
	liveIPN    = "https://ipnpb.paypal.com/cgi-bin/webscr"

	verifyPrefix = "cmd=_notify-validate&"
	verified     = "VERIFIED"

	maxRetries   = 3
	maxBodyBytes = 1 << 20
)

// Config configures a Client.
type Config struct {
	ClientID     string
	ClientSecret string
	// Mode selects the sandbox or live endpoints.
	Mode string
	// APIBase and IPNURL override the endpoints implied by Mode.
	APIBase string
	IPNURL  string
	// VerifyTimeout bounds one IPN verification round trip.
	VerifyTimeout time.Duration
	// HTTPClient is the transport for every call. Defaults to a client with a 30s timeout.
	HTTPClient *http.Client
}

// Client talks to PayPal.
type Client struct {
	api           *http.Client
	plain         *http.Client
	apiBase       string
	ipnURL        string
	verifyTimeout time.Duration
	newBackOff    func() backoff.BackOff
}

// APIError is a non-2xx answer of the REST API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paypal api status %d: %s", e.StatusCode, e.Body)
}

// New builds a Client. The OAuth2 token is fetched lazily with the client
// credentials grant and refreshed when it expires.
func New(cfg Config) *Client {
	plain := cfg.HTTPClient
	if plain == nil {
		plain = &http.Client{Timeout: 30 * time.Second}
	}

	apiBase, ipnURL := sandboxAPI, sandboxIPN
	if cfg.Mode == Live {
		apiBase, ipnURL = liveAPI, liveIPN
	}
	if cfg.APIBase != "" {
		apiBase = cfg.APIBase
	}
	if cfg.IPNURL != "" {
		ipnURL = cfg.IPNURL
	}

	verifyTimeout := cfg.VerifyTimeout
	if verifyTimeout <= 0 {
		verifyTimeout = 10 * time.Second
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     apiBase + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, plain)
	api := cc.Client(tokenCtx)
	api.Timeout = plain.Timeout

	return &Client{
		api:           api,
		plain:         plain,
		apiBase:       apiBase,
		ipnURL:        ipnURL,
		verifyTimeout: verifyTimeout,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			return backoff.WithMaxRetries(b, maxRetries)
		},
	}
}

type amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type purchaseUnit struct {
	Amount amount `json:"amount"`
}

type createOrderRequest struct {
	Intent        string         `json:"intent"`
	PurchaseUnits []purchaseUnit `json:"purchase_units"`
}

// CreateOrder opens a CAPTURE checkout for value (already formatted with two
// decimals) in currency and returns the PayPal order id.
func (c *Client) CreateOrder(ctx context.Context, value, currency string) (string, error) {
	body, err := json.Marshal(createOrderRequest{
		Intent:        "CAPTURE",
		PurchaseUnits: []purchaseUnit{{Amount: amount{CurrencyCode: currency, Value: value}}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal order: %w", err)
	}

	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := c.do(ctx, "create", c.apiBase+"/v2/checkout/orders", body, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("paypal returned an order without id")
	}
	return out.ID, nil
}

// CaptureOrder captures an approved order. Raw holds the full response.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) (models.Capture, error) {
	var raw map[string]any
	endpoint := c.apiBase + "/v2/checkout/orders/" + url.PathEscape(orderID) + "/capture"
	if err := c.do(ctx, "capture", endpoint, []byte(`{}`), &raw); err != nil {
		return models.Capture{}, err
	}
	status, _ := raw["status"].(string)
	return models.Capture{Status: status, Raw: raw}, nil
}

// do POSTs body to endpoint and decodes the JSON answer into out. Transport
// errors, 429 and 5xx are retried with the same PayPal-Request-Id so a
// repeated call is not executed twice.
func (c *Client) do(ctx context.Context, op, endpoint string, body []byte, out any) error {
	requestID := uuid.NewString()

	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("PayPal-Request-Id", requestID)
		req.Header.Set("Prefer", "return=representation")

		resp, err := c.api.Do(req)
		if err != nil {
			return fmt.Errorf("%s request: %w", op, err)
		}
		defer func() { _ = resp.Body.Close() }()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return fmt.Errorf("read %s response: %w", op, err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}

		if err := json.Unmarshal(respBody, out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode %s response: %w", op, err))
		}
		return nil
	}

	err := backoff.Retry(attempt, backoff.WithContext(c.newBackOff(), ctx))
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.GatewayRequests.WithLabelValues(op, result).Inc()
	return err
}

// VerifyNotification posts the notification back to PayPal prefixed with
// cmd=_notify-validate and reports whether the answer is exactly VERIFIED.
// It is never retried; any failure means the notification is not trusted.
func (c *Client) VerifyNotification(ctx context.Context, raw []byte) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.verifyTimeout)
	defer cancel()

	payload := make([]byte, 0, len(verifyPrefix)+len(raw))
	payload = append(payload, verifyPrefix...)
	payload = append(payload, raw...)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ipnURL, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("create verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "dispenser-ipn-verifier")

	resp, err := c.plain.Do(req)
	if err != nil {
		metrics.GatewayRequests.WithLabelValues("verify", "error").Inc()
		return false, fmt.Errorf("verify request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	answer, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		metrics.GatewayRequests.WithLabelValues("verify", "error").Inc()
		return false, fmt.Errorf("read verify response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		metrics.GatewayRequests.WithLabelValues("verify", "error").Inc()
		return false, &APIError{StatusCode: resp.StatusCode, Body: string(answer)}
	}

	metrics.GatewayRequests.WithLabelValues("verify", "ok").Inc()
	return string(answer) == verified, nil
}
