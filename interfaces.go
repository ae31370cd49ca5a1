package toll

import (
	"context"
	"time"
)

// Wallet is the Lightning wallet collaborator the gate bills through.
// The nwc package provides the Nostr Wallet Connect implementation; any
// backend that can create and observe invoices satisfies it.
type Wallet interface {
	// CreateInvoice creates a Lightning invoice for the given amount.
	CreateInvoice(ctx context.Context, amountSats int64, description string, expirySeconds int64) (*InvoiceResult, error)

	// LookupInvoice reports the settlement state of an invoice.
	LookupInvoice(ctx context.Context, paymentHash string) (*LookupResult, error)

	// WaitForPayment polls until the invoice settles or the timeout
	// elapses. An unpaid result at the deadline is not an error.
	WaitForPayment(ctx context.Context, paymentHash string, timeout, pollInterval time.Duration) (*LookupResult, error)
}
