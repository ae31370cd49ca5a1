// Package client is the consumer side of an L402 toll gate: it detects a
// 402 challenge, pays the Lightning invoice through a wallet and retries
// the request with the resulting credentials, optionally caching them per
// resource.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/lightning-toll/toll"
)

// defaultCredentialTTL is used when a paid macaroon carries no usable
// expiry hint.
const defaultCredentialTTL = 300 * time.Second

// DefaultMaxSats is the per-request budget ceiling unless overridden.
const DefaultMaxSats = 100

// Payer pays bolt11 invoices; *nwc.Wallet satisfies it.
type Payer interface {
	PayInvoice(ctx context.Context, invoice string) (*toll.PaymentResult, error)
}

// Response is the outcome of a toll-gated request, annotated with what
// was paid for it.
type Response struct {
	StatusCode  int
	Header      http.Header
	Body        []byte
	Paid        bool
	AmountSats  int64
	PaymentHash string
}

// OK reports whether the status code is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

// Client fetches toll-gated resources, paying challenges automatically.
type Client struct {
	wallet     Payer
	httpClient *http.Client
	logger     *slog.Logger

	maxSats   int64
	autoRetry bool
	headers   map[string]string

	cache *credentialCache // nil when caching is disabled

	mu           sync.Mutex
	totalSpent   int64
	requestCount int64
	paymentCount int64
}

// SpendStats is a snapshot of the client's cumulative spending.
type SpendStats struct {
	TotalSpent   int64 `json:"totalSpent"`
	RequestCount int64 `json:"requestCount"`
	PaymentCount int64 `json:"paymentCount"`
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithMaxSats sets the per-request budget ceiling. A challenge quoting
// more than this fails before any payment is attempted.
func WithMaxSats(sats int64) Option {
	return func(c *Client) {
		c.maxSats = sats
	}
}

// WithAutoRetry controls whether 402 responses are paid and retried.
// On by default; when off the raw challenge is returned.
func WithAutoRetry(retry bool) Option {
	return func(c *Client) {
		c.autoRetry = retry
	}
}

// WithHeaders sets default headers applied to every request.
func WithHeaders(headers map[string]string) Option {
	return func(c *Client) {
		c.headers = headers
	}
}

// WithCredentialCache enables reuse of paid credentials per resource URL.
func WithCredentialCache() Option {
	return func(c *Client) {
		c.cache = newCredentialCache()
	}
}

// WithClientLogger sets the client's structured logger.
func WithClientLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates an auto-pay client over the given wallet.
func New(wallet Payer, opts ...Option) (*Client, error) {
	if wallet == nil {
		return nil, toll.NewTollError(toll.ErrCodeFormat, "wallet is required", nil)
	}

	c := &Client{
		wallet:     wallet,
		httpClient: http.DefaultClient,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxSats:    DefaultMaxSats,
		autoRetry:  true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Stats returns cumulative spending counters.
func (c *Client) Stats() SpendStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return SpendStats{
		TotalSpent:   c.totalSpent,
		RequestCount: c.requestCount,
		PaymentCount: c.paymentCount,
	}
}

// Get fetches url with automatic payment handling.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	return c.Fetch(ctx, http.MethodGet, url, nil)
}

// Fetch issues a request with automatic payment handling. A cached
// credential for the URL is tried first when caching is enabled; a 402
// evicts it and falls through to the pay-and-retry flow.
func (c *Client) Fetch(ctx context.Context, method, url string, body []byte) (*Response, error) {
	c.mu.Lock()
	c.requestCount++
	c.mu.Unlock()

	if c.cache != nil {
		if cred := c.cache.get(url); cred != nil {
			resp, err := c.do(ctx, method, url, body, authorizationValue(cred.macaroon, cred.preimage))
			if err != nil {
				return nil, err
			}
			if resp.StatusCode != http.StatusPaymentRequired {
				resp.Paid = true
				resp.PaymentHash = cred.paymentHash
				return resp, nil
			}
			// Server no longer accepts the credential.
			c.cache.evict(url)
		}
	}

	resp, err := c.do(ctx, method, url, body, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}
	if !c.autoRetry {
		return resp, nil
	}

	return c.payAndRetry(ctx, method, url, body, resp)
}

// payAndRetry resolves a 402 challenge: budget check, pay, retry with the
// L402 authorization, cache the credential on success.
func (c *Client) payAndRetry(ctx context.Context, method, url string, body []byte, challenge *Response) (*Response, error) {
	var parsed struct {
		Invoice     string `json:"invoice"`
		Macaroon    string `json:"macaroon"`
		AmountSats  int64  `json:"amountSats"`
		PaymentHash string `json:"paymentHash"`
	}
	if err := json.Unmarshal(challenge.Body, &parsed); err != nil {
		return nil, toll.NewTollError(toll.ErrCodeFormat, "could not parse 402 response body", nil)
	}
	if parsed.Invoice == "" {
		return nil, toll.NewTollError(toll.ErrCodeFormat, "402 response missing invoice", nil)
	}
	if parsed.Macaroon == "" {
		return nil, toll.NewTollError(toll.ErrCodeFormat, "402 response missing macaroon", nil)
	}

	if parsed.AmountSats > c.maxSats {
		return nil, toll.NewTollError(toll.ErrCodeBudgetExceeded,
			fmt.Sprintf("price %d sats exceeds budget of %d sats", parsed.AmountSats, c.maxSats), nil)
	}

	payment, err := c.wallet.PayInvoice(ctx, parsed.Invoice)
	if err != nil {
		return nil, err
	}
	if payment == nil || payment.Preimage == "" {
		return nil, toll.NewTollError(toll.ErrCodeWallet, "payment failed: no preimage returned", nil)
	}

	c.logger.Debug("invoice paid",
		"payment_hash", parsed.PaymentHash, "amount_sats", parsed.AmountSats)

	resp, err := c.do(ctx, method, url, body, authorizationValue(parsed.Macaroon, payment.Preimage))
	if err != nil {
		return nil, err
	}

	resp.Paid = true
	resp.AmountSats = parsed.AmountSats
	resp.PaymentHash = parsed.PaymentHash

	c.mu.Lock()
	c.paymentCount++
	c.totalSpent += parsed.AmountSats
	c.mu.Unlock()

	if c.cache != nil && resp.OK() {
		c.cache.put(url, &cachedCredential{
			macaroon:    parsed.Macaroon,
			preimage:    payment.Preimage,
			expiresAt:   credentialExpiry(parsed.Macaroon),
			amountSats:  parsed.AmountSats,
			paymentHash: parsed.PaymentHash,
		})
	}

	return resp, nil
}

// credentialExpiry takes the macaroon's own expiry when decodable, else
// the 300 second default.
func credentialExpiry(macaroon string) time.Time {
	if decoded := toll.DecodeMacaroon(macaroon); decoded != nil {
		if expiresAt, ok := decoded.ExpiresAt(); ok {
			return expiresAt
		}
	}
	return time.Now().Add(defaultCredentialTTL)
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, authorization string) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

func authorizationValue(macaroon, preimage string) string {
	return "L402 " + macaroon + ":" + preimage
}

// Fetch is a one-shot helper: build a temporary client over wallet and
// GET the URL with automatic payment handling.
func Fetch(ctx context.Context, url string, wallet Payer, opts ...Option) (*Response, error) {
	c, err := New(wallet, opts...)
	if err != nil {
		return nil, err
	}
	return c.Get(ctx, url)
}
