package routing

import (
	"hash/fnv"
	"strings"
	"unicode"
)

// Fingerprint hashes a message for cache keying. Normalization (lowercase,
// whitespace runs collapsed to one space, trimmed) makes trivially
// reworded duplicates share a routing decision.
func Fingerprint(message string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(normalize(message)))
	return h.Sum64()
}

func normalize(message string) string {
	var (
		b       strings.Builder
		inSpace bool
	)
	b.Grow(len(message))
	for _, r := range strings.ToLower(strings.TrimSpace(message)) {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace {
			b.WriteByte(' ')
			inSpace = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
