package nwc

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventSign(t *testing.T) {
	pub, err := DerivePublicKey(aliceSecret)
	require.NoError(t, err)

	event := &Event{
		PubKey:    pub,
		CreatedAt: time.Now().Unix(),
		Kind:      KindRequest,
		Tags:      [][]string{{"p", pub}},
		Content:   "encrypted-payload",
	}
	require.NoError(t, event.Sign(aliceSecret))

	t.Run("id is the hash of the canonical form", func(t *testing.T) {
		serialized, err := event.serialize()
		require.NoError(t, err)
		sum := sha256.Sum256(serialized)
		assert.Equal(t, hex.EncodeToString(sum[:]), event.ID)
	})

	t.Run("signature verifies", func(t *testing.T) {
		sigBytes, err := hex.DecodeString(event.Sig)
		require.NoError(t, err)
		sig, err := schnorr.ParseSignature(sigBytes)
		require.NoError(t, err)

		pubKey, err := parseXOnlyPublicKey(event.PubKey)
		require.NoError(t, err)
		hash, err := hex.DecodeString(event.ID)
		require.NoError(t, err)

		assert.True(t, sig.Verify(hash, pubKey))
	})

	t.Run("rejects bad secret key", func(t *testing.T) {
		e := &Event{Kind: KindRequest}
		assert.Error(t, e.Sign("not-a-key"))
	})
}

func TestEventSerialize(t *testing.T) {
	event := &Event{
		PubKey:    "abcd",
		CreatedAt: 1700000000,
		Kind:      KindRequest,
		Tags:      [][]string{},
		Content:   `payload with <html> & "quotes"`,
	}
	serialized, err := event.serialize()
	require.NoError(t, err)

	// NIP-01: compact array, no trailing newline, no HTML escaping.
	assert.Equal(t,
		`[0,"abcd",1700000000,23194,[],"payload with <html> & \"quotes\""]`,
		string(serialized))
}

func TestEventTagValue(t *testing.T) {
	event := &Event{
		Tags: [][]string{
			{"p", "pubkey-value"},
			{"e", "event-id-value"},
			{"empty"},
		},
	}
	assert.Equal(t, "pubkey-value", event.TagValue("p"))
	assert.Equal(t, "event-id-value", event.TagValue("e"))
	assert.Equal(t, "", event.TagValue("empty"))
	assert.Equal(t, "", event.TagValue("missing"))
}
