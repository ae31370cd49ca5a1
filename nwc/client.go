package nwc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lightning-toll/toll"
)

// Default timeouts.
const (
	DefaultRequestTimeout = 30 * time.Second
	// DefaultPayTimeout is longer: a payment may take several routing
	// attempts before the wallet reports a result.
	DefaultPayTimeout = 60 * time.Second

	writeTimeout = 10 * time.Second
	probeTimeout = 5 * time.Second
)

// Wallet is a Nostr Wallet Connect client. It owns a single relay
// session, lazily established and transparently rebuilt when a liveness
// probe fails; concurrent logical requests share it and are correlated by
// subscription id.
type Wallet struct {
	cfg    *Config
	logger *slog.Logger
	dialer *websocket.Dialer

	requestTimeout time.Duration
	payTimeout     time.Duration

	// mu guards the session and serializes the write path.
	mu   sync.Mutex
	conn *websocket.Conn

	// subsMu guards the demux table keyed by subscription id.
	subsMu sync.Mutex
	subs   map[string]chan *Event
}

// WalletOption configures a Wallet.
type WalletOption func(*Wallet)

// WithWalletLogger sets the wallet's structured logger.
func WithWalletLogger(logger *slog.Logger) WalletOption {
	return func(w *Wallet) {
		w.logger = logger
	}
}

// WithRequestTimeout sets the deadline for wallet requests other than
// pay_invoice.
func WithRequestTimeout(d time.Duration) WalletOption {
	return func(w *Wallet) {
		w.requestTimeout = d
	}
}

// WithPayTimeout sets the deadline for pay_invoice requests.
func WithPayTimeout(d time.Duration) WalletOption {
	return func(w *Wallet) {
		w.payTimeout = d
	}
}

// WithDialer overrides the websocket dialer.
func WithDialer(dialer *websocket.Dialer) WalletOption {
	return func(w *Wallet) {
		w.dialer = dialer
	}
}

// NewWallet creates a wallet client from a wallet-connect URL. No
// connection is made until the first request.
func NewWallet(walletURL string, opts ...WalletOption) (*Wallet, error) {
	cfg, err := ParseWalletURL(walletURL)
	if err != nil {
		return nil, err
	}

	w := &Wallet{
		cfg:            cfg,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		dialer:         websocket.DefaultDialer,
		requestTimeout: DefaultRequestTimeout,
		payTimeout:     DefaultPayTimeout,
		subs:           make(map[string]chan *Event),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Config returns the parsed connection config.
func (w *Wallet) Config() Config {
	return *w.cfg
}

// Close tears down the relay session. The wallet reconnects on the next
// request.
func (w *Wallet) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		err := w.conn.Close()
		w.conn = nil
		return err
	}
	return nil
}

// ensureConn returns a live session, probing an existing one and
// rebuilding it if the probe fails.
func (w *Wallet) ensureConn(ctx context.Context) (*websocket.Conn, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn != nil {
		if err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(probeTimeout)); err == nil {
			return w.conn, nil
		}
		w.conn.Close()
		w.conn = nil
	}

	conn, _, err := w.dialer.DialContext(ctx, w.cfg.RelayURL, nil)
	if err != nil {
		return nil, toll.NewTollError(toll.ErrCodeWallet,
			"relay connection failed: "+err.Error(), nil)
	}

	w.conn = conn
	go w.readLoop(conn)

	w.logger.Debug("relay connected", "relay", w.cfg.RelayURL)
	return conn, nil
}

// readLoop pumps inbound relay messages and demultiplexes response events
// to their subscriptions. It must not block on a slow subscriber and must
// not assume responses arrive in request order.
func (w *Wallet) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			if w.conn == conn {
				w.conn = nil
			}
			w.mu.Unlock()
			conn.Close()
			return
		}

		var msg []json.RawMessage
		if err := json.Unmarshal(data, &msg); err != nil || len(msg) < 3 {
			continue
		}
		var msgType, subID string
		if err := json.Unmarshal(msg[0], &msgType); err != nil || msgType != "EVENT" {
			continue
		}
		if err := json.Unmarshal(msg[1], &subID); err != nil {
			continue
		}
		var event Event
		if err := json.Unmarshal(msg[2], &event); err != nil {
			continue
		}

		w.subsMu.Lock()
		ch, ok := w.subs[subID]
		w.subsMu.Unlock()
		if ok {
			select {
			case ch <- &event:
			default:
			}
		}
	}
}

func (w *Wallet) subscribe(subID string) chan *Event {
	ch := make(chan *Event, 1)
	w.subsMu.Lock()
	w.subs[subID] = ch
	w.subsMu.Unlock()
	return ch
}

func (w *Wallet) unsubscribe(subID string) {
	w.subsMu.Lock()
	delete(w.subs, subID)
	w.subsMu.Unlock()
}

// writeJSON serializes a relay message on the shared session.
func (w *Wallet) writeJSON(conn *websocket.Conn, v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

// rpcResponse is the decrypted NIP-47 response payload.
type rpcResponse struct {
	Result map[string]interface{} `json:"result"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// call sends one NIP-47 request and waits for its response: encrypt
// {method, params}, sign a request event addressed to the wallet,
// subscribe for the response before publishing, then wait until the
// deadline. The subscription is closed on every exit path.
func (w *Wallet) call(ctx context.Context, method string, params map[string]interface{}, timeout time.Duration) (map[string]interface{}, error) {
	conn, err := w.ensureConn(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(map[string]interface{}{
		"method": method,
		"params": params,
	})
	if err != nil {
		return nil, err
	}

	content, err := Encrypt(w.cfg.SecretKey, w.cfg.WalletPubKey, string(payload))
	if err != nil {
		return nil, err
	}

	event := &Event{
		Kind:      KindRequest,
		PubKey:    w.cfg.ClientPubKey,
		CreatedAt: time.Now().Unix(),
		Tags:      [][]string{{"p", w.cfg.WalletPubKey}},
		Content:   content,
	}
	if err := event.Sign(w.cfg.SecretKey); err != nil {
		return nil, err
	}

	subID := strings.ReplaceAll(uuid.NewString(), "-", "")
	ch := w.subscribe(subID)
	defer func() {
		w.unsubscribe(subID)
		// Best effort: the relay must not keep the subscription open.
		w.writeJSON(conn, []interface{}{"CLOSE", subID})
	}()

	filter := map[string]interface{}{
		"kinds":   []int{KindResponse},
		"authors": []string{w.cfg.WalletPubKey},
		"#p":      []string{w.cfg.ClientPubKey},
		"#e":      []string{event.ID},
	}
	if err := w.writeJSON(conn, []interface{}{"REQ", subID, filter}); err != nil {
		return nil, toll.NewTollError(toll.ErrCodeWallet, "relay send failed: "+err.Error(), nil)
	}
	if err := w.writeJSON(conn, []interface{}{"EVENT", event}); err != nil {
		return nil, toll.NewTollError(toll.ErrCodeWallet, "relay send failed: "+err.Error(), nil)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case response := <-ch:
		decrypted, err := Decrypt(w.cfg.SecretKey, w.cfg.WalletPubKey, response.Content)
		if err != nil {
			return nil, err
		}
		var parsed rpcResponse
		if err := json.Unmarshal([]byte(decrypted), &parsed); err != nil {
			return nil, toll.NewTollError(toll.ErrCodeWallet, "malformed wallet response", nil)
		}
		if parsed.Error != nil {
			return nil, toll.NewTollError(toll.ErrCodeWallet,
				fmt.Sprintf("wallet error: %s (code: %s)", parsed.Error.Message, parsed.Error.Code),
				map[string]interface{}{"rpc_code": parsed.Error.Code})
		}
		return parsed.Result, nil

	case <-timer.C:
		return nil, toll.NewTollError(toll.ErrCodeTimeout,
			fmt.Sprintf("wallet request timed out after %s", timeout), nil)

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CreateInvoice creates a Lightning invoice. The amount is converted to
// millisats, the unit the wallet protocol speaks.
func (w *Wallet) CreateInvoice(ctx context.Context, amountSats int64, description string, expirySeconds int64) (*toll.InvoiceResult, error) {
	result, err := w.call(ctx, "make_invoice", map[string]interface{}{
		"amount":      amountSats * 1000,
		"description": description,
		"expiry":      expirySeconds,
	}, w.requestTimeout)
	if err != nil {
		return nil, err
	}

	invoice := stringField(result, "invoice")
	if invoice == "" {
		return nil, toll.NewTollError(toll.ErrCodeWallet, "make_invoice returned no invoice", nil)
	}

	return &toll.InvoiceResult{
		Invoice:     invoice,
		PaymentHash: stringField(result, "payment_hash"),
	}, nil
}

// PayInvoice pays a bolt11 invoice and returns the preimage proving it.
func (w *Wallet) PayInvoice(ctx context.Context, invoice string) (*toll.PaymentResult, error) {
	result, err := w.call(ctx, "pay_invoice", map[string]interface{}{
		"invoice": invoice,
	}, w.payTimeout)
	if err != nil {
		return nil, err
	}

	preimage := stringField(result, "preimage")
	if preimage == "" {
		return nil, toll.NewTollError(toll.ErrCodeWallet, "pay_invoice returned no preimage", nil)
	}

	return &toll.PaymentResult{
		Preimage:    preimage,
		PaymentHash: stringField(result, "payment_hash"),
	}, nil
}

// LookupInvoice reports whether an invoice has settled. It is considered
// paid when the wallet reports a settlement timestamp or a preimage.
func (w *Wallet) LookupInvoice(ctx context.Context, paymentHash string) (*toll.LookupResult, error) {
	result, err := w.call(ctx, "lookup_invoice", map[string]interface{}{
		"payment_hash": paymentHash,
	}, w.requestTimeout)
	if err != nil {
		return nil, err
	}

	settledAt, hasSettledAt := intField(result, "settled_at")
	preimage := stringField(result, "preimage")

	return &toll.LookupResult{
		Paid:      hasSettledAt || preimage != "",
		Preimage:  preimage,
		SettledAt: settledAt,
	}, nil
}

// WaitForPayment polls LookupInvoice until the invoice settles or the
// timeout elapses. Transient lookup errors are ignored; an unpaid result
// at the deadline is returned, not an error.
func (w *Wallet) WaitForPayment(ctx context.Context, paymentHash string, timeout, pollInterval time.Duration) (*toll.LookupResult, error) {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		result, err := w.LookupInvoice(ctx, paymentHash)
		if err == nil && result.Paid {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return &toll.LookupResult{Paid: false}, nil
}

var _ toll.Wallet = (*Wallet)(nil)

func stringField(m map[string]interface{}, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func intField(m map[string]interface{}, key string) (int64, bool) {
	switch v := m[key].(type) {
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	}
	return 0, false
}
