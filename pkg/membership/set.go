package membership

import (
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Set is a deduplicated collection of member identifiers.
type Set map[string]struct{}

func NewSet(items ...string) Set {
	s := make(Set, len(items))
	for _, item := range items {
		s.Add(item)
	}
	return s
}

func (s Set) Add(item string) {
	s[item] = struct{}{}
}

func (s Set) Has(item string) bool {
	_, ok := s[item]
	return ok
}

func (s Set) Len() int {
	return len(s)
}

func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for item := range s {
		out = append(out, item)
	}
	slices.Sort(out)
	return out
}

func (s Set) Union(other Set) Set {
	out := make(Set, len(s)+len(other))
	for item := range s {
		out.Add(item)
	}
	for item := range other {
		out.Add(item)
	}
	return out
}

// Normalize returns a copy with every identifier trimmed and lowercased.
// Empty identifiers are dropped.
func (s Set) Normalize() Set {
	out := make(Set, len(s))
	for item := range s {
		if n := NormalizeID(item); n != "" {
			out.Add(n)
		}
	}
	return out
}

func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Digest fingerprints the set content independently of insertion order.
func (s Set) Digest() uint64 {
	h := xxhash.New()
	for _, item := range s.Sorted() {
		h.WriteString(item)
		h.Write([]byte{0})
	}
	return h.Sum64()
}
