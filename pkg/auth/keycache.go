package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"hash"
	"sync"
)

// KeyCache holds the HMAC state derived from at most one secret. A lookup
// with a different secret replaces the slot; nothing derived from the old
// secret survives the swap.
type KeyCache struct {
	mu      sync.RWMutex
	current *derivedKey
}

type derivedKey struct {
	secret string
	macs   sync.Pool
}

// NewKeyCache returns an empty cache.
func NewKeyCache() *KeyCache {
	return &KeyCache{}
}

func (c *KeyCache) get(secret string) *derivedKey {
	c.mu.RLock()
	key := c.current
	c.mu.RUnlock()

	if key != nil && key.secret == secret {
		return key
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil && c.current.secret == secret {
		return c.current
	}

	key = &derivedKey{secret: secret}
	raw := []byte(secret)
	key.macs.New = func() interface{} {
		return hmac.New(sha256.New, raw)
	}
	c.current = key
	return key
}

// sum computes HMAC-SHA256(secret, parts...) using a pooled MAC.
func (k *derivedKey) sum(parts ...[]byte) []byte {
	mac, ok := k.macs.Get().(hash.Hash)
	if !ok {
		mac = hmac.New(sha256.New, []byte(k.secret))
	}
	defer k.macs.Put(mac)

	mac.Reset()
	for _, part := range parts {
		mac.Write(part)
	}
	return mac.Sum(nil)
}
