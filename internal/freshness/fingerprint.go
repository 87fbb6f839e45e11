package freshness

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Prefix starts every aggregate fingerprint.
const Prefix = "agg:"

// Fingerprint builds the cache key for a read of key with the given options.
// The form is agg:<key>#<hash>, so KeyPattern(key) matches every option set
// for key and nothing for a longer key sharing the same prefix.
func Fingerprint(key string, opts map[string]string) string {
	names := make([]string, 0, len(opts))
	for name := range opts {
		names = append(names, name)
	}
	sort.Strings(names)

	h := xxhash.New()
	for _, name := range names {
		_, _ = h.WriteString(name)
		_, _ = h.WriteString("=")
		_, _ = h.WriteString(opts[name])
		_, _ = h.WriteString("\n")
	}
	return KeyPattern(key) + strconv.FormatUint(h.Sum64(), 16)
}

// KeyPattern is the EvictPattern substring covering every fingerprint of key.
func KeyPattern(key string) string {
	var b strings.Builder
	b.Grow(len(Prefix) + len(key) + 1)
	b.WriteString(Prefix)
	b.WriteString(key)
	b.WriteString("#")
	return b.String()
}
