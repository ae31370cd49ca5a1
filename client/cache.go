package client

import (
	"sync"
	"time"
)

// cachedCredential is a paid L402 credential kept for reuse against the
// same resource until it expires or the server rejects it.
type cachedCredential struct {
	macaroon    string
	preimage    string
	expiresAt   time.Time
	amountSats  int64
	paymentHash string
}

// credentialCache maps resource URL to a live credential. Entries are
// evicted on expiry and on a 402 from the server.
type credentialCache struct {
	mu      sync.Mutex
	entries map[string]*cachedCredential
}

func newCredentialCache() *credentialCache {
	return &credentialCache{entries: make(map[string]*cachedCredential)}
}

func (c *credentialCache) get(url string) *cachedCredential {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[url]
	if !ok {
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, url)
		return nil
	}
	return entry
}

func (c *credentialCache) put(url string, entry *cachedCredential) {
	c.mu.Lock()
	c.entries[url] = entry
	c.mu.Unlock()
}

func (c *credentialCache) evict(url string) {
	c.mu.Lock()
	delete(c.entries, url)
	c.mu.Unlock()
}
