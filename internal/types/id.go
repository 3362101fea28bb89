package types

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a fresh, lowercase, hyphenless UUIDv4 suitable for an
// issue or lease identifier. Hyphens are stripped so that prefix
// resolution (spec §3.1: "any case-insensitive prefix of >=4 characters")
// operates over a single contiguous run of hex digits.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// MinPrefixLen is the shortest prefix accepted for ID resolution.
const MinPrefixLen = 4

// MatchesPrefix reports whether id starts with prefix, case-insensitively.
// Callers are responsible for enforcing MinPrefixLen before calling this;
// it is a pure string match so that resolution logic lives in one place
// (internal/storage) rather than being duplicated per caller.
func MatchesPrefix(id, prefix string) bool {
	if len(prefix) > len(id) {
		return false
	}
	return strings.EqualFold(id[:len(prefix)], prefix)
}
