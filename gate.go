// Package toll gates API access behind Lightning micropayments using the
// L402 protocol: unauthenticated requests receive a 402 challenge pairing
// a Lightning invoice with a macaroon bound to its payment hash; paying
// the invoice yields the preimage that, presented together with the
// macaroon, proves payment.
package toll

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Default gate configuration.
const (
	DefaultSats           = 10
	DefaultInvoiceExpiry  = 5 * time.Minute
	DefaultMacaroonExpiry = time.Hour

	// observerPollInterval is how often the detached payment observer
	// polls the wallet.
	observerPollInterval = 2 * time.Second
)

// Gate is a toll booth shared by one or more routes. It owns the signing
// secret, the wallet collaborator and the stats counters; all three are
// process-lifetime configuration with no reinitialization path.
type Gate struct {
	secret string
	wallet Wallet
	stats  *Stats
	logger *slog.Logger

	defaultSats    int64
	invoiceExpiry  time.Duration
	macaroonExpiry time.Duration

	bindEndpoint bool
	bindMethod   bool
	bindIP       bool

	onPayment func(PaymentEvent)
}

// Route is the gate specialized for one route: resolved pricing,
// description and free-tier quota.
type Route struct {
	gate        *Gate
	price       Price
	description Description
	free        *freeTier
}

// New creates a toll gate. The secret signs macaroons and must never be
// logged or echoed; the wallet issues and observes invoices.
func New(secret string, wallet Wallet, opts ...Option) (*Gate, error) {
	if secret == "" {
		return nil, NewTollError(ErrCodeFormat, "secret is required for macaroon signing", nil)
	}
	if wallet == nil {
		return nil, NewTollError(ErrCodeFormat, "wallet is required", nil)
	}

	g := &Gate{
		secret:         secret,
		wallet:         wallet,
		stats:          NewStats(),
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		defaultSats:    DefaultSats,
		invoiceExpiry:  DefaultInvoiceExpiry,
		macaroonExpiry: DefaultMacaroonExpiry,
		bindEndpoint:   true,
		bindMethod:     true,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

// Stats exposes the gate's counters, e.g. for a dashboard route.
func (g *Gate) Stats() *Stats {
	return g.stats
}

// Route creates a route handle with its own pricing, description and
// free-tier quota.
func (g *Gate) Route(opts ...RouteOption) *Route {
	r := &Route{
		gate: g,
		free: newFreeTier(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ClientID derives the client identity for a request: the first
// X-Forwarded-For entry if present, else the peer address, else "unknown".
func ClientID(req Request) string {
	if req.ForwardedFor != "" {
		first, _, _ := strings.Cut(req.ForwardedFor, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if req.RemoteAddr != "" {
		return req.RemoteAddr
	}
	return "unknown"
}

// Handle runs a request through the toll gate. Exactly one of the returns
// is meaningful:
//
//   - a *Payment when the request may proceed (paid or free tier);
//   - a *Challenge when payment is required (caller sends a 402);
//   - an error when the credentials were rejected (codes
//     invalid_credentials / preimage_mismatch, caller sends a 401) or the
//     wallet failed (codes wallet_error / timeout, caller sends a 500).
func (r *Route) Handle(ctx context.Context, req Request) (*Payment, *Challenge, error) {
	g := r.gate
	clientID := ClientID(req)

	if creds := ParseAuthorization(req.Authorization); creds != nil {
		return r.verifyCredentials(req, clientID, creds)
	}

	if r.free.allow(clientID) {
		g.stats.Record(req.Path, false, 0, clientID, "")
		return &Payment{Paid: false, Free: true, ClientID: clientID}, nil, nil
	}

	return r.challenge(ctx, req, clientID)
}

// verifyCredentials checks a presented macaroon and preimage against the
// route's binding dimensions.
func (r *Route) verifyCredentials(req Request, clientID string, creds *L402Credentials) (*Payment, *Challenge, error) {
	g := r.gate

	decoded := DecodeMacaroon(creds.Macaroon)
	if decoded == nil {
		return nil, nil, NewTollError(ErrCodeCredential, "invalid macaroon", nil)
	}

	cctx := CaveatContext{}
	if g.bindEndpoint {
		cctx.Endpoint = req.Path
	}
	if g.bindMethod {
		cctx.Method = req.Method
	}
	if g.bindIP {
		cctx.IP = clientID
	}

	result := VerifyMacaroon(g.secret, decoded, cctx)
	if !result.Valid {
		return nil, nil, NewTollError(ErrCodeCredential, result.Reason, nil)
	}

	if !VerifyPreimage(creds.Preimage, decoded.ID) {
		return nil, nil, NewTollError(ErrCodePreimageMismatch, "invalid preimage: does not match payment hash", nil)
	}

	price := r.resolvePrice(req)
	g.stats.Record(req.Path, true, price, clientID, decoded.ID)

	return &Payment{
		Paid:        true,
		PaymentHash: decoded.ID,
		AmountSats:  price,
		ClientID:    clientID,
	}, nil, nil
}

// challenge requests an invoice, mints a macaroon bound to its payment
// hash and builds the 402 response.
func (r *Route) challenge(ctx context.Context, req Request, clientID string) (*Payment, *Challenge, error) {
	g := r.gate

	amountSats := r.resolvePrice(req)
	description := r.resolveDescription(req)

	invoice, err := g.wallet.CreateInvoice(ctx, amountSats, description, int64(g.invoiceExpiry.Seconds()))
	if err != nil {
		return nil, nil, fmt.Errorf("create invoice: %w", err)
	}
	if invoice == nil || invoice.Invoice == "" || invoice.PaymentHash == "" {
		return nil, nil, NewTollError(ErrCodeWallet, "wallet returned no invoice", nil)
	}

	opts := MacaroonOptions{
		PaymentHash: invoice.PaymentHash,
		ExpiresAt:   time.Now().Add(g.macaroonExpiry).Unix(),
	}
	if g.bindEndpoint {
		opts.Endpoint = req.Path
	}
	if g.bindMethod {
		opts.Method = req.Method
	}
	if g.bindIP {
		opts.IP = clientID
	}

	macaroon, err := CreateMacaroon(g.secret, opts)
	if err != nil {
		return nil, nil, err
	}

	if g.onPayment != nil {
		go g.observePayment(req.Path, clientID, invoice.PaymentHash, amountSats)
	}

	return nil, &Challenge{
		Header: FormatChallengeHeader(invoice.Invoice, macaroon.Raw),
		Body:   FormatChallengeBody(invoice.Invoice, macaroon.Raw, invoice.PaymentHash, amountSats, description),
	}, nil
}

// observePayment watches a challenged invoice until it settles or the
// invoice expires, then fires the OnPayment callback once. It is detached
// from the request that spawned it: failures are logged, never
// propagated, and a panicking callback must not take the process down.
func (g *Gate) observePayment(endpoint, clientID, paymentHash string, amountSats int64) {
	defer func() {
		if rec := recover(); rec != nil {
			g.logger.Error("payment callback panicked",
				"payment_hash", paymentHash, "panic", rec)
		}
	}()

	result, err := g.wallet.WaitForPayment(context.Background(), paymentHash, g.invoiceExpiry, observerPollInterval)
	if err != nil {
		g.logger.Warn("payment observation failed",
			"payment_hash", paymentHash, "error", err)
		return
	}
	if result == nil || !result.Paid {
		return
	}

	g.logger.Info("payment received",
		"payment_hash", paymentHash, "endpoint", endpoint, "amount_sats", amountSats)

	g.onPayment(PaymentEvent{
		PaymentHash: paymentHash,
		AmountSats:  amountSats,
		Endpoint:    endpoint,
		Preimage:    result.Preimage,
		SettledAt:   result.SettledAt,
		ClientID:    clientID,
	})
}

func (r *Route) resolvePrice(req Request) int64 {
	if r.price != nil {
		return r.price.Amount(req)
	}
	return r.gate.defaultSats
}

func (r *Route) resolveDescription(req Request) string {
	if r.description != nil {
		return r.description.Text(req)
	}
	return fmt.Sprintf("API access: %s %s", req.Method, req.Path)
}
