package nwc

import (
	"net/url"

	"github.com/lightning-toll/toll"
)

// Scheme is the wallet-connect URL scheme.
const Scheme = "nostr+walletconnect"

// Config is a parsed wallet-connect URL. Immutable after parsing.
//
// Format: nostr+walletconnect://<wallet_pubkey>?relay=<url>&secret=<hex>
type Config struct {
	RelayURL     string
	WalletPubKey string
	SecretKey    string
	// ClientPubKey is derived from SecretKey.
	ClientPubKey string
}

// ParseWalletURL parses a wallet-connect connection string.
func ParseWalletURL(walletURL string) (*Config, error) {
	parsed, err := url.Parse(walletURL)
	if err != nil {
		return nil, toll.NewTollError(toll.ErrCodeFormat, "invalid wallet URL", nil)
	}
	if parsed.Scheme != Scheme {
		return nil, toll.NewTollError(toll.ErrCodeFormat,
			"invalid wallet URL scheme: "+parsed.Scheme+" (expected "+Scheme+")", nil)
	}

	walletPubKey := parsed.Host
	if walletPubKey == "" {
		return nil, toll.NewTollError(toll.ErrCodeFormat, "wallet URL missing wallet pubkey", nil)
	}

	query := parsed.Query()
	relayURL := query.Get("relay")
	secretKey := query.Get("secret")
	if relayURL == "" {
		return nil, toll.NewTollError(toll.ErrCodeFormat, "wallet URL missing relay parameter", nil)
	}
	if secretKey == "" {
		return nil, toll.NewTollError(toll.ErrCodeFormat, "wallet URL missing secret parameter", nil)
	}

	clientPubKey, err := DerivePublicKey(secretKey)
	if err != nil {
		return nil, err
	}

	return &Config{
		RelayURL:     relayURL,
		WalletPubKey: walletPubKey,
		SecretKey:    secretKey,
		ClientPubKey: clientPubKey,
	}, nil
}
