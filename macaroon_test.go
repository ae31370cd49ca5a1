package toll

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret      = "test-secret-key-for-hmac-signing"
	testPaymentHash = "a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2"
)

func TestCreateMacaroon(t *testing.T) {
	t.Run("minimal", func(t *testing.T) {
		m, err := CreateMacaroon(testSecret, MacaroonOptions{PaymentHash: testPaymentHash})
		require.NoError(t, err)
		assert.Equal(t, testPaymentHash, m.ID)
		assert.Empty(t, m.Caveats)
		assert.NotEmpty(t, m.Signature)
		assert.NotEmpty(t, m.Raw)
	})

	t.Run("caveat order is fixed", func(t *testing.T) {
		m, err := CreateMacaroon(testSecret, MacaroonOptions{
			PaymentHash: testPaymentHash,
			ExpiresAt:   1700000000,
			Endpoint:    "/api/data",
			Method:      "GET",
			IP:          "10.0.0.1",
		})
		require.NoError(t, err)
		require.Len(t, m.Caveats, 4)
		assert.Equal(t, "expires_at = 1700000000", m.Caveats[0])
		assert.Equal(t, "endpoint = /api/data", m.Caveats[1])
		assert.Equal(t, "method = GET", m.Caveats[2])
		assert.Equal(t, "ip = 10.0.0.1", m.Caveats[3])
	})

	t.Run("requires secret", func(t *testing.T) {
		_, err := CreateMacaroon("", MacaroonOptions{PaymentHash: testPaymentHash})
		require.Error(t, err)
		assert.Equal(t, ErrCodeFormat, ErrorCode(err))
	})

	t.Run("requires payment hash", func(t *testing.T) {
		_, err := CreateMacaroon(testSecret, MacaroonOptions{})
		require.Error(t, err)
		assert.Equal(t, ErrCodeFormat, ErrorCode(err))
	})

	t.Run("same inputs are deterministic", func(t *testing.T) {
		opts := MacaroonOptions{PaymentHash: testPaymentHash, ExpiresAt: 1700000000}
		a, err := CreateMacaroon(testSecret, opts)
		require.NoError(t, err)
		b, err := CreateMacaroon(testSecret, opts)
		require.NoError(t, err)
		assert.Equal(t, a.Raw, b.Raw)
	})
}

func TestMacaroonWireFormat(t *testing.T) {
	m, err := CreateMacaroon(testSecret, MacaroonOptions{PaymentHash: testPaymentHash})
	require.NoError(t, err)

	t.Run("no base64 padding", func(t *testing.T) {
		assert.NotContains(t, m.Raw, "=")
	})

	t.Run("payload is canonical JSON", func(t *testing.T) {
		payload, err := base64.RawURLEncoding.DecodeString(m.Raw)
		require.NoError(t, err)

		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(payload, &decoded))
		assert.Equal(t, testPaymentHash, decoded["id"])
		assert.IsType(t, []interface{}{}, decoded["caveats"])
		assert.NotEmpty(t, decoded["signature"])
	})

	t.Run("empty caveats encode as an array", func(t *testing.T) {
		payload, err := base64.RawURLEncoding.DecodeString(m.Raw)
		require.NoError(t, err)
		assert.Contains(t, string(payload), `"caveats":[]`)
	})
}

func TestDecodeMacaroon(t *testing.T) {
	t.Run("roundtrip", func(t *testing.T) {
		m, err := CreateMacaroon(testSecret, MacaroonOptions{
			PaymentHash: testPaymentHash,
			ExpiresAt:   time.Now().Unix() + 3600,
			Endpoint:    "/api/data",
		})
		require.NoError(t, err)

		decoded := DecodeMacaroon(m.Raw)
		require.NotNil(t, decoded)
		assert.Equal(t, m.ID, decoded.ID)
		assert.Equal(t, m.Caveats, decoded.Caveats)
		assert.Equal(t, m.Signature, decoded.Signature)
		assert.Equal(t, m.Raw, decoded.Raw)
	})

	t.Run("accepts padded base64", func(t *testing.T) {
		m, err := CreateMacaroon(testSecret, MacaroonOptions{PaymentHash: testPaymentHash})
		require.NoError(t, err)

		padded := m.Raw + strings.Repeat("=", (4-len(m.Raw)%4)%4)
		decoded := DecodeMacaroon(padded)
		require.NotNil(t, decoded)
		assert.Equal(t, m.ID, decoded.ID)
	})

	t.Run("malformed input returns nil", func(t *testing.T) {
		cases := map[string]string{
			"empty":          "",
			"invalid base64": "!!!not-base64!!!",
			"invalid json":   base64.RawURLEncoding.EncodeToString([]byte("not json")),
			"missing id":     base64.RawURLEncoding.EncodeToString([]byte(`{"caveats":[],"signature":"abc"}`)),
			"missing caveats": base64.RawURLEncoding.EncodeToString(
				[]byte(`{"id":"abc","signature":"def"}`)),
			"missing signature": base64.RawURLEncoding.EncodeToString(
				[]byte(`{"id":"abc","caveats":[]}`)),
		}
		for name, raw := range cases {
			t.Run(name, func(t *testing.T) {
				assert.Nil(t, DecodeMacaroon(raw))
			})
		}
	})
}

func TestVerifyMacaroon(t *testing.T) {
	mint := func(t *testing.T, opts MacaroonOptions) *Macaroon {
		t.Helper()
		m, err := CreateMacaroon(testSecret, opts)
		require.NoError(t, err)
		decoded := DecodeMacaroon(m.Raw)
		require.NotNil(t, decoded)
		return decoded
	}

	t.Run("valid macaroon", func(t *testing.T) {
		m := mint(t, MacaroonOptions{
			PaymentHash: testPaymentHash,
			ExpiresAt:   time.Now().Unix() + 3600,
		})
		result := VerifyMacaroon(testSecret, m, CaveatContext{})
		assert.True(t, result.Valid)
		assert.Equal(t, testPaymentHash, result.PaymentHash)
	})

	t.Run("nil macaroon", func(t *testing.T) {
		result := VerifyMacaroon(testSecret, nil, CaveatContext{})
		assert.False(t, result.Valid)
		assert.Equal(t, "invalid macaroon structure", result.Reason)
	})

	t.Run("wrong secret fails", func(t *testing.T) {
		m := mint(t, MacaroonOptions{PaymentHash: testPaymentHash})
		result := VerifyMacaroon("a-different-secret", m, CaveatContext{})
		assert.False(t, result.Valid)
		assert.Equal(t, "invalid macaroon signature", result.Reason)
	})

	t.Run("tampered caveat fails", func(t *testing.T) {
		m := mint(t, MacaroonOptions{
			PaymentHash: testPaymentHash,
			ExpiresAt:   time.Now().Unix() + 3600,
		})
		m.Caveats[0] = "expires_at = 9999999999"
		result := VerifyMacaroon(testSecret, m, CaveatContext{})
		assert.False(t, result.Valid)
		assert.Equal(t, "invalid macaroon signature", result.Reason)
	})

	t.Run("reordered caveats fail", func(t *testing.T) {
		m := mint(t, MacaroonOptions{
			PaymentHash: testPaymentHash,
			ExpiresAt:   time.Now().Unix() + 3600,
			Endpoint:    "/api/data",
		})
		m.Caveats[0], m.Caveats[1] = m.Caveats[1], m.Caveats[0]
		result := VerifyMacaroon(testSecret, m, CaveatContext{})
		assert.False(t, result.Valid)
		assert.Equal(t, "invalid macaroon signature", result.Reason)
	})

	t.Run("expired", func(t *testing.T) {
		m := mint(t, MacaroonOptions{
			PaymentHash: testPaymentHash,
			ExpiresAt:   time.Now().Unix() - 100,
		})
		result := VerifyMacaroon(testSecret, m, CaveatContext{})
		assert.False(t, result.Valid)
		assert.Equal(t, "macaroon expired", result.Reason)
	})

	t.Run("endpoint mismatch", func(t *testing.T) {
		m := mint(t, MacaroonOptions{
			PaymentHash: testPaymentHash,
			ExpiresAt:   time.Now().Unix() + 3600,
			Endpoint:    "/api/data",
		})
		result := VerifyMacaroon(testSecret, m, CaveatContext{Endpoint: "/api/other"})
		assert.False(t, result.Valid)
		assert.Contains(t, result.Reason, "endpoint mismatch")
	})

	t.Run("method mismatch", func(t *testing.T) {
		m := mint(t, MacaroonOptions{
			PaymentHash: testPaymentHash,
			ExpiresAt:   time.Now().Unix() + 3600,
			Method:      "GET",
		})
		result := VerifyMacaroon(testSecret, m, CaveatContext{Method: "POST"})
		assert.False(t, result.Valid)
		assert.Contains(t, result.Reason, "method mismatch")
	})

	t.Run("method is case-insensitive", func(t *testing.T) {
		m := mint(t, MacaroonOptions{
			PaymentHash: testPaymentHash,
			ExpiresAt:   time.Now().Unix() + 3600,
			Method:      "GET",
		})
		result := VerifyMacaroon(testSecret, m, CaveatContext{Method: "get"})
		assert.True(t, result.Valid)
	})

	t.Run("ip mismatch", func(t *testing.T) {
		m := mint(t, MacaroonOptions{
			PaymentHash: testPaymentHash,
			ExpiresAt:   time.Now().Unix() + 3600,
			IP:          "10.0.0.1",
		})
		result := VerifyMacaroon(testSecret, m, CaveatContext{IP: "10.0.0.2"})
		assert.False(t, result.Valid)
		assert.Contains(t, result.Reason, "ip mismatch")
	})

	t.Run("empty context skips binding caveats", func(t *testing.T) {
		m := mint(t, MacaroonOptions{
			PaymentHash: testPaymentHash,
			ExpiresAt:   time.Now().Unix() + 3600,
			Endpoint:    "/api/data",
			Method:      "GET",
			IP:          "10.0.0.1",
		})
		result := VerifyMacaroon(testSecret, m, CaveatContext{})
		assert.True(t, result.Valid)
	})

	t.Run("empty context still enforces expiry", func(t *testing.T) {
		m := mint(t, MacaroonOptions{
			PaymentHash: testPaymentHash,
			ExpiresAt:   time.Now().Unix() - 100,
			Endpoint:    "/api/data",
		})
		result := VerifyMacaroon(testSecret, m, CaveatContext{})
		assert.False(t, result.Valid)
		assert.Equal(t, "macaroon expired", result.Reason)
	})

	t.Run("malformed expires_at caveat", func(t *testing.T) {
		m := mint(t, MacaroonOptions{PaymentHash: testPaymentHash})
		m.Caveats = append(m.Caveats, "expires_at = not-a-number")
		m.Signature = chainSignature(testSecret, m.ID, m.Caveats)
		result := VerifyMacaroon(testSecret, m, CaveatContext{})
		assert.False(t, result.Valid)
		assert.Contains(t, result.Reason, "malformed caveat")
	})

	t.Run("unknown caveats are ignored", func(t *testing.T) {
		m := mint(t, MacaroonOptions{PaymentHash: testPaymentHash})
		m.Caveats = append(m.Caveats, "tier = premium")
		m.Signature = chainSignature(testSecret, m.ID, m.Caveats)
		result := VerifyMacaroon(testSecret, m, CaveatContext{})
		assert.True(t, result.Valid)
	})

	t.Run("non-hex signature fails", func(t *testing.T) {
		m := mint(t, MacaroonOptions{PaymentHash: testPaymentHash})
		m.Signature = "not-hex"
		result := VerifyMacaroon(testSecret, m, CaveatContext{})
		assert.False(t, result.Valid)
		assert.Equal(t, "invalid macaroon signature", result.Reason)
	})
}

func TestMacaroonExpiresAt(t *testing.T) {
	t.Run("present", func(t *testing.T) {
		expires := time.Now().Unix() + 600
		m, err := CreateMacaroon(testSecret, MacaroonOptions{
			PaymentHash: testPaymentHash,
			ExpiresAt:   expires,
		})
		require.NoError(t, err)

		got, ok := m.ExpiresAt()
		require.True(t, ok)
		assert.Equal(t, expires, got.Unix())
	})

	t.Run("absent", func(t *testing.T) {
		m, err := CreateMacaroon(testSecret, MacaroonOptions{PaymentHash: testPaymentHash})
		require.NoError(t, err)

		_, ok := m.ExpiresAt()
		assert.False(t, ok)
	})
}

func TestVerifyPreimage(t *testing.T) {
	t.Run("valid preimage", func(t *testing.T) {
		preimage := strings.Repeat("deadbeef", 8)
		raw, err := hex.DecodeString(preimage)
		require.NoError(t, err)
		sum := sha256.Sum256(raw)

		assert.True(t, VerifyPreimage(preimage, hex.EncodeToString(sum[:])))
	})

	t.Run("mismatch", func(t *testing.T) {
		assert.False(t, VerifyPreimage(strings.Repeat("0000", 8), strings.Repeat("ffff", 8)))
	})

	t.Run("empty inputs", func(t *testing.T) {
		assert.False(t, VerifyPreimage("", "abc123"))
		assert.False(t, VerifyPreimage("abc123", ""))
		assert.False(t, VerifyPreimage("", ""))
	})

	t.Run("non-hex inputs", func(t *testing.T) {
		assert.False(t, VerifyPreimage("not-hex", "also-not-hex"))
	})
}
