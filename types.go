package toll

// Request carries the request dimensions the toll gate needs.
// The HTTP framework binding (see pkg/gin) is responsible for extracting
// these from its own request type.
type Request struct {
	// Method is the HTTP method (GET, POST, ...).
	Method string
	// Path is the request path, e.g. "/api/quote".
	Path string
	// Authorization is the raw Authorization header value, or "".
	Authorization string
	// ForwardedFor is the raw X-Forwarded-For header value, or "".
	ForwardedFor string
	// RemoteAddr is the transport-level peer address (host only).
	RemoteAddr string
}

// Payment is the gate's verdict for a request that is allowed through.
type Payment struct {
	Paid        bool   `json:"paid"`
	Free        bool   `json:"free,omitempty"`
	PaymentHash string `json:"paymentHash,omitempty"`
	AmountSats  int64  `json:"amountSats,omitempty"`
	ClientID    string `json:"clientId"`
}

// Challenge is a 402 payment challenge: the WWW-Authenticate header value
// plus the JSON body to send alongside it.
type Challenge struct {
	Header string
	Body   ChallengeBody
}

// PaymentEvent is delivered to the gate's OnPayment callback when a
// challenged invoice settles.
type PaymentEvent struct {
	PaymentHash string `json:"paymentHash"`
	AmountSats  int64  `json:"amountSats"`
	Endpoint    string `json:"endpoint"`
	Preimage    string `json:"preimage,omitempty"`
	SettledAt   int64  `json:"settledAt,omitempty"`
	ClientID    string `json:"clientId"`
}

// InvoiceResult is returned by a wallet's CreateInvoice.
type InvoiceResult struct {
	Invoice     string `json:"invoice"`
	PaymentHash string `json:"paymentHash"`
}

// PaymentResult is returned by a wallet's PayInvoice.
type PaymentResult struct {
	Preimage    string `json:"preimage"`
	PaymentHash string `json:"paymentHash"`
}

// LookupResult is returned by a wallet's LookupInvoice.
type LookupResult struct {
	Paid      bool   `json:"paid"`
	Preimage  string `json:"preimage,omitempty"`
	SettledAt int64  `json:"settledAt,omitempty"`
}
