package toll

import (
	"log/slog"
	"regexp"
	"strconv"
	"time"
)

// Price resolves the charge for a request in satoshis.
type Price interface {
	Amount(req Request) int64
}

// FixedPrice charges the same amount for every request.
type FixedPrice int64

// Amount implements Price.
func (p FixedPrice) Amount(Request) int64 { return int64(p) }

// PriceFunc computes the charge from the request.
type PriceFunc func(req Request) int64

// Amount implements Price.
func (f PriceFunc) Amount(req Request) int64 { return f(req) }

// Description resolves the invoice description for a request.
type Description interface {
	Text(req Request) string
}

// FixedDescription uses the same description for every request.
type FixedDescription string

// Text implements Description.
func (d FixedDescription) Text(Request) string { return string(d) }

// DescriptionFunc computes the description from the request.
type DescriptionFunc func(req Request) string

// Text implements Description.
func (f DescriptionFunc) Text(req Request) string { return f(req) }

// Option configures a Gate.
type Option func(*Gate)

// WithDefaultSats sets the price used by routes with no price of their own.
func WithDefaultSats(sats int64) Option {
	return func(g *Gate) {
		g.defaultSats = sats
	}
}

// WithInvoiceExpiry sets how long issued invoices remain payable.
func WithInvoiceExpiry(d time.Duration) Option {
	return func(g *Gate) {
		g.invoiceExpiry = d
	}
}

// WithMacaroonExpiry sets how long a macaroon stays valid after issuance.
func WithMacaroonExpiry(d time.Duration) Option {
	return func(g *Gate) {
		g.macaroonExpiry = d
	}
}

// WithEndpointBinding controls whether macaroons are bound to the request
// path. On by default.
func WithEndpointBinding(bind bool) Option {
	return func(g *Gate) {
		g.bindEndpoint = bind
	}
}

// WithMethodBinding controls whether macaroons are bound to the HTTP
// method. On by default.
func WithMethodBinding(bind bool) Option {
	return func(g *Gate) {
		g.bindMethod = bind
	}
}

// WithIPBinding controls whether macaroons are bound to the client
// address. Off by default.
func WithIPBinding(bind bool) Option {
	return func(g *Gate) {
		g.bindIP = bind
	}
}

// WithOnPayment registers a callback fired when a challenged invoice
// settles. The callback runs on a detached goroutine; its failures are
// logged, never surfaced to the request that issued the challenge.
func WithOnPayment(fn func(PaymentEvent)) Option {
	return func(g *Gate) {
		g.onPayment = fn
	}
}

// WithLogger sets the gate's structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

// RouteOption configures a Route.
type RouteOption func(*Route)

// WithSats sets a fixed price for the route.
func WithSats(sats int64) RouteOption {
	return func(r *Route) {
		r.price = FixedPrice(sats)
	}
}

// WithPrice sets a pricing strategy for the route.
func WithPrice(p Price) RouteOption {
	return func(r *Route) {
		r.price = p
	}
}

// WithDescription sets a fixed invoice description for the route.
func WithDescription(description string) RouteOption {
	return func(r *Route) {
		r.description = FixedDescription(description)
	}
}

// WithDescriptionFunc sets a request-derived invoice description.
func WithDescriptionFunc(fn func(req Request) string) RouteOption {
	return func(r *Route) {
		r.description = DescriptionFunc(fn)
	}
}

// WithFreeRequests grants each client n free requests per window.
func WithFreeRequests(n int) RouteOption {
	return func(r *Route) {
		r.free.limit = n
	}
}

// WithFreeWindow sets the free-tier window from a duration string such as
// "30m", "1h" or "1d". Malformed input falls back to one hour.
func WithFreeWindow(window string) RouteOption {
	return func(r *Route) {
		r.free.window = ParseWindow(window)
	}
}

var windowRe = regexp.MustCompile(`^(\d+)(ms|s|m|h|d)$`)

// ParseWindow parses a duration string like "500ms", "30s", "15m", "1h"
// or "1d". Anything unparseable yields the one hour default.
func ParseWindow(window string) time.Duration {
	m := windowRe.FindStringSubmatch(window)
	if m == nil {
		return time.Hour
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Hour
	}
	switch m[2] {
	case "ms":
		return time.Duration(n) * time.Millisecond
	case "s":
		return time.Duration(n) * time.Second
	case "m":
		return time.Duration(n) * time.Minute
	case "h":
		return time.Duration(n) * time.Hour
	case "d":
		return time.Duration(n) * 24 * time.Hour
	}
	return time.Hour
}
