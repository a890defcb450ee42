package cache

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// RequestDescriptor is the canonical form of an intercepted request used for
// cache key generation. Only method and URL participate: the gateway caches
// whole documents per URL the way a browser cache store does, so request
// headers are deliberately excluded.
type RequestDescriptor struct {
	Method string
	URL    string
}

// Hash computes a deterministic FNV-1a hash of the descriptor, hex-encoded
// for use in cache keys. Format hashed: method|url.
func (d RequestDescriptor) Hash() string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.ToUpper(d.Method)))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(d.URL))
	return fmt.Sprintf("%016x", h.Sum64())
}

// GenerationPrefix returns the key prefix owned by one cache generation.
// Deleting this prefix evicts the generation wholesale.
func GenerationPrefix(cacheName string) string {
	return cacheName + ":"
}

// Key builds the store key for a request within a generation.
func Key(cacheName string, d RequestDescriptor) string {
	return GenerationPrefix(cacheName) + d.Hash()
}
