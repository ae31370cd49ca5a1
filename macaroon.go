package toll

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Macaroon is a bearer credential bound to a Lightning payment.
//
// The id is the payment hash. Caveats restrict where/when/how the macaroon
// can be used; each one is folded into a chained HMAC-SHA256 signature, so
// any reordering or mutation of the caveat list invalidates it. The wire
// form is base64url (no padding) over canonical JSON {id, caveats,
// signature}.
type Macaroon struct {
	ID        string   `json:"id"`
	Caveats   []string `json:"caveats"`
	Signature string   `json:"signature"`

	// Raw is the encoded wire form. Not part of the JSON payload.
	Raw string `json:"-"`
}

// MacaroonOptions configures CreateMacaroon. PaymentHash is required; a
// zero value for any other field omits that caveat.
type MacaroonOptions struct {
	PaymentHash string
	// ExpiresAt is a Unix timestamp after which the macaroon is invalid.
	ExpiresAt int64
	// Endpoint restricts the macaroon to a request path.
	Endpoint string
	// Method restricts the macaroon to an HTTP method.
	Method string
	// IP restricts the macaroon to a client address.
	IP string
}

// VerifyResult is the outcome of VerifyMacaroon.
type VerifyResult struct {
	Valid       bool
	Reason      string
	PaymentHash string
}

// CaveatContext supplies the request dimensions caveats are checked
// against. An empty field means "not supplied": the matching caveat is
// skipped rather than enforced, so the same macaroon can be checked with
// partial context.
type CaveatContext struct {
	Endpoint string
	Method   string
	IP       string
}

// Caveat keys, in the order CreateMacaroon appends them.
const (
	caveatExpiresAt = "expires_at"
	caveatEndpoint  = "endpoint"
	caveatMethod    = "method"
	caveatIP        = "ip"
)

// CreateMacaroon mints a macaroon bound to opts.PaymentHash, signed with
// the server secret.
func CreateMacaroon(secret string, opts MacaroonOptions) (*Macaroon, error) {
	if secret == "" {
		return nil, NewTollError(ErrCodeFormat, "macaroon secret is required", nil)
	}
	if opts.PaymentHash == "" {
		return nil, NewTollError(ErrCodeFormat, "payment hash is required for macaroon", nil)
	}

	// Caveat order is fixed; it is part of the signature chain.
	caveats := []string{}
	if opts.ExpiresAt != 0 {
		caveats = append(caveats, caveatExpiresAt+" = "+strconv.FormatInt(opts.ExpiresAt, 10))
	}
	if opts.Endpoint != "" {
		caveats = append(caveats, caveatEndpoint+" = "+opts.Endpoint)
	}
	if opts.Method != "" {
		caveats = append(caveats, caveatMethod+" = "+opts.Method)
	}
	if opts.IP != "" {
		caveats = append(caveats, caveatIP+" = "+opts.IP)
	}

	signature := chainSignature(secret, opts.PaymentHash, caveats)

	m := &Macaroon{
		ID:        opts.PaymentHash,
		Caveats:   caveats,
		Signature: signature,
	}

	payload, err := json.Marshal(m)
	if err != nil {
		return nil, NewTollError(ErrCodeFormat, "failed to encode macaroon", nil)
	}
	m.Raw = base64.RawURLEncoding.EncodeToString(payload)

	return m, nil
}

// chainSignature computes HMAC(secret, id) and folds each caveat into the
// running digest, returning the hex-encoded result.
func chainSignature(secret, id string, caveats []string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(id))
	sig := mac.Sum(nil)

	for _, caveat := range caveats {
		mac = hmac.New(sha256.New, sig)
		mac.Write([]byte(caveat))
		sig = mac.Sum(nil)
	}

	return hex.EncodeToString(sig)
}

// DecodeMacaroon decodes the wire form back to its components. It returns
// nil on any malformed input; callers distinguish "absent credential" from
// "corrupt credential" by also checking whether a credential was presented
// at all.
func DecodeMacaroon(raw string) *Macaroon {
	if raw == "" {
		return nil
	}

	// Re-add padding; base64url senders strip it.
	padded := raw
	if rem := len(raw) % 4; rem != 0 {
		padded += strings.Repeat("=", 4-rem)
	}
	payload, err := base64.URLEncoding.DecodeString(padded)
	if err != nil {
		return nil
	}

	var parsed struct {
		ID        string    `json:"id"`
		Caveats   *[]string `json:"caveats"`
		Signature string    `json:"signature"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil
	}
	if parsed.ID == "" || parsed.Signature == "" || parsed.Caveats == nil {
		return nil
	}

	return &Macaroon{
		ID:        parsed.ID,
		Caveats:   *parsed.Caveats,
		Signature: parsed.Signature,
		Raw:       raw,
	}
}

// VerifyMacaroon recomputes the signature chain and evaluates caveats
// against cctx. The signature comparison is constant-time and the expected
// value is never surfaced.
func VerifyMacaroon(secret string, m *Macaroon, cctx CaveatContext) VerifyResult {
	if m == nil || m.ID == "" || m.Signature == "" {
		return VerifyResult{Valid: false, Reason: "invalid macaroon structure"}
	}

	expected := chainSignature(secret, m.ID, m.Caveats)

	got, err := hex.DecodeString(m.Signature)
	if err != nil {
		return VerifyResult{Valid: false, Reason: "invalid macaroon signature", PaymentHash: m.ID}
	}
	want, _ := hex.DecodeString(expected)
	if !hmac.Equal(got, want) {
		return VerifyResult{Valid: false, Reason: "invalid macaroon signature", PaymentHash: m.ID}
	}

	for _, caveat := range m.Caveats {
		parts := strings.SplitN(caveat, " = ", 2)
		if len(parts) != 2 {
			return VerifyResult{Valid: false, Reason: "malformed caveat: " + caveat, PaymentHash: m.ID}
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch key {
		case caveatExpiresAt:
			expiresAt, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return VerifyResult{Valid: false, Reason: "malformed caveat: " + caveat, PaymentHash: m.ID}
			}
			if time.Now().Unix() > expiresAt {
				return VerifyResult{Valid: false, Reason: "macaroon expired", PaymentHash: m.ID}
			}

		case caveatEndpoint:
			if cctx.Endpoint != "" && cctx.Endpoint != value {
				return VerifyResult{
					Valid:       false,
					Reason:      "endpoint mismatch: expected " + value + ", got " + cctx.Endpoint,
					PaymentHash: m.ID,
				}
			}

		case caveatMethod:
			if cctx.Method != "" && !strings.EqualFold(cctx.Method, value) {
				return VerifyResult{
					Valid:       false,
					Reason:      "method mismatch: expected " + value + ", got " + cctx.Method,
					PaymentHash: m.ID,
				}
			}

		case caveatIP:
			if cctx.IP != "" && cctx.IP != value {
				return VerifyResult{
					Valid:       false,
					Reason:      "ip mismatch: expected " + value + ", got " + cctx.IP,
					PaymentHash: m.ID,
				}
			}

		default:
			// Unknown caveats are ignored for forward compatibility.
		}
	}

	return VerifyResult{Valid: true, PaymentHash: m.ID}
}

// ExpiresAt returns the macaroon's expires_at caveat as a time, if one is
// present and well-formed.
func (m *Macaroon) ExpiresAt() (time.Time, bool) {
	for _, caveat := range m.Caveats {
		parts := strings.SplitN(caveat, " = ", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) != caveatExpiresAt {
			continue
		}
		ts, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		return time.Unix(ts, 0), true
	}
	return time.Time{}, false
}

// VerifyPreimage reports whether sha256(preimage) equals paymentHash.
// Both arguments are hex strings; the comparison is constant-time and any
// malformed input yields false rather than an error.
func VerifyPreimage(preimage, paymentHash string) bool {
	if preimage == "" || paymentHash == "" {
		return false
	}
	raw, err := hex.DecodeString(preimage)
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(paymentHash)
	if err != nil {
		return false
	}
	sum := sha256.Sum256(raw)
	return hmac.Equal(sum[:], want)
}
