// Package nwc implements a minimal Nostr Wallet Connect (NIP-47) client
// for talking to a remote Lightning wallet over a relay: NIP-04 encrypted
// request/response events on a persistent websocket session.
package nwc

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/lightning-toll/toll"
)

// DerivePublicKey derives the x-only (32-byte hex) public key for a hex
// secret key.
func DerivePublicKey(secretKeyHex string) (string, error) {
	priv, err := parseSecretKey(secretKeyHex)
	if err != nil {
		return "", err
	}
	// Compressed form is 33 bytes; drop the parity prefix for x-only.
	compressed := priv.PubKey().SerializeCompressed()
	return hex.EncodeToString(compressed[1:]), nil
}

// ComputeSharedSecret computes the NIP-04 ECDH shared secret: the
// x-coordinate of our secret key times their public key. The counterparty
// key is x-only and is reconstituted with an even-parity prefix.
func ComputeSharedSecret(secretKeyHex, publicKeyHex string) ([]byte, error) {
	priv, err := parseSecretKey(secretKeyHex)
	if err != nil {
		return nil, err
	}
	pub, err := parseXOnlyPublicKey(publicKeyHex)
	if err != nil {
		return nil, err
	}
	return secp256k1.GenerateSharedSecret(priv, pub), nil
}

// Encrypt encrypts plaintext with NIP-04: AES-256-CBC under the ECDH
// shared secret, a fresh 16-byte IV, PKCS#7 padding. The wire form is
// "<base64 ciphertext>?iv=<base64 iv>".
func Encrypt(secretKeyHex, publicKeyHex, plaintext string) (string, error) {
	shared, err := ComputeSharedSecret(secretKeyHex, publicKeyHex)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(shared)
	if err != nil {
		return "", toll.NewTollError(toll.ErrCodeFormat, "invalid shared secret", nil)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return base64.StdEncoding.EncodeToString(ciphertext) + "?iv=" + base64.StdEncoding.EncodeToString(iv), nil
}

// Decrypt reverses Encrypt. The input must contain exactly one "?iv="
// separator.
func Decrypt(secretKeyHex, publicKeyHex, encrypted string) (string, error) {
	parts := strings.Split(encrypted, "?iv=")
	if len(parts) != 2 {
		return "", toll.NewTollError(toll.ErrCodeFormat,
			"invalid ciphertext format (expected '...?iv=...')", nil)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", toll.NewTollError(toll.ErrCodeFormat, "invalid ciphertext encoding", nil)
	}
	iv, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", toll.NewTollError(toll.ErrCodeFormat, "invalid iv encoding", nil)
	}
	if len(iv) != aes.BlockSize || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", toll.NewTollError(toll.ErrCodeFormat, "invalid ciphertext length", nil)
	}

	shared, err := ComputeSharedSecret(secretKeyHex, publicKeyHex)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(shared)
	if err != nil {
		return "", toll.NewTollError(toll.ErrCodeFormat, "invalid shared secret", nil)
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	plaintext, err := pkcs7Unpad(padded, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func parseSecretKey(secretKeyHex string) (*secp256k1.PrivateKey, error) {
	raw, err := hex.DecodeString(secretKeyHex)
	if err != nil || len(raw) != 32 {
		return nil, toll.NewTollError(toll.ErrCodeFormat, "invalid secret key", nil)
	}
	return secp256k1.PrivKeyFromBytes(raw), nil
}

func parseXOnlyPublicKey(publicKeyHex string) (*secp256k1.PublicKey, error) {
	raw, err := hex.DecodeString(publicKeyHex)
	if err != nil || len(raw) != 32 {
		return nil, toll.NewTollError(toll.ErrCodeFormat, "invalid public key", nil)
	}
	// x-only keys are lifted with even parity per NIP-04/BIP-340.
	pub, err := secp256k1.ParsePubKey(append([]byte{0x02}, raw...))
	if err != nil {
		return nil, toll.NewTollError(toll.ErrCodeFormat, "invalid public key", nil)
	}
	return pub, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, toll.NewTollError(toll.ErrCodeFormat, "invalid padded length", nil)
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, toll.NewTollError(toll.ErrCodeFormat, "invalid padding", nil)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, toll.NewTollError(toll.ErrCodeFormat, "invalid padding", nil)
		}
	}
	return data[:len(data)-n], nil
}
