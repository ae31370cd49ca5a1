package nwc

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
)

// Event kinds used by NIP-47.
const (
	KindRequest  = 23194
	KindResponse = 23195
)

// Event is a Nostr event (NIP-01).
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// serialize produces the NIP-01 canonical form used for the event id:
// [0, pubkey, created_at, kind, tags, content], compact, no HTML escaping.
func (e *Event) serialize() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode([]interface{}{0, e.PubKey, e.CreatedAt, e.Kind, e.Tags, e.Content}); err != nil {
		return nil, err
	}
	// Encode appends a newline.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Sign canonicalizes the event, sets its id to the sha256 of the
// canonical form and attaches a Schnorr signature over that hash.
func (e *Event) Sign(secretKeyHex string) error {
	priv, err := parseSecretKey(secretKeyHex)
	if err != nil {
		return err
	}

	serialized, err := e.serialize()
	if err != nil {
		return err
	}

	hash := sha256.Sum256(serialized)
	e.ID = hex.EncodeToString(hash[:])

	sig, err := schnorr.Sign(priv, hash[:])
	if err != nil {
		return err
	}
	e.Sig = hex.EncodeToString(sig.Serialize())

	return nil
}

// TagValue returns the first value of the named tag, or "".
func (e *Event) TagValue(name string) string {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}
