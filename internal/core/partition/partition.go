package partition

import "github.com/cespare/xxhash/v2"

// For returns the shard in [0, n) for key.
// Stable and deterministic: the same key always maps to the same shard for a given n.
// n <= 1 always yields shard 0.
func For(key string, n int) int {
	if n <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(key) % uint64(n))
}
