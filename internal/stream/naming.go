package stream

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// DefaultRawNamespace holds every raw table unless overridden.
const DefaultRawNamespace = "airbyte_internal"

// Namer turns source names into destination identifiers.
type Namer struct {
	// MaxLength is the dialect's identifier limit; 0 means unlimited.
	MaxLength int
	// RawNamespace overrides DefaultRawNamespace when set.
	RawNamespace string
	// DefaultNamespace is used for streams without a namespace.
	DefaultNamespace string
}

// Identifier sanitises s: lowercase, alphanumerics and underscores only, never starting with a digit.
// Names longer than MaxLength are truncated and suffixed with a hash of the full name.
func (n Namer) Identifier(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" || (out[0] >= '0' && out[0] <= '9') {
		out = "_" + out
	}
	return n.truncate(out)
}

func (n Namer) truncate(s string) string {
	if n.MaxLength <= 0 || len(s) <= n.MaxLength {
		return s
	}
	h := fnv.New32a()
	h.Write([]byte(s))
	suffix := fmt.Sprintf("_%08x", h.Sum32())
	return s[:n.MaxLength-len(suffix)] + suffix
}

func (n Namer) rawNamespace() string {
	if n.RawNamespace != "" {
		return n.RawNamespace
	}
	return DefaultRawNamespace
}

// RawTableName joins namespace and name with a separator containing more consecutive
// underscores than either input, so distinct streams never produce the same raw table.
func RawTableName(namespace, name string) string {
	longest := 1
	run := 0
	for _, r := range namespace + name {
		if r == '_' {
			run++
			if run > longest {
				longest = run
			}
			continue
		}
		run = 0
	}
	return namespace + "_raw" + strings.Repeat("_", longest+1) + "stream_" + name
}
