package toll

import (
	"sync"
	"time"
)

// freeTier tracks per-client request counts over a rolling window.
// The check-and-increment runs under one mutex so concurrent requests
// from the same client cannot over-grant quota.
type freeTier struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	entries map[string]*freeTierEntry
	now     func() time.Time
}

type freeTierEntry struct {
	count       int
	windowStart time.Time
}

func newFreeTier() *freeTier {
	return &freeTier{
		window:  time.Hour,
		entries: make(map[string]*freeTierEntry),
		now:     time.Now,
	}
}

// allow consumes one free request for clientID if quota remains.
func (f *freeTier) allow(clientID string) bool {
	if f.limit <= 0 {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	entry, ok := f.entries[clientID]
	if !ok || now.Sub(entry.windowStart) > f.window {
		entry = &freeTierEntry{windowStart: now}
		f.entries[clientID] = entry
	}

	if entry.count < f.limit {
		entry.count++
		return true
	}
	return false
}
