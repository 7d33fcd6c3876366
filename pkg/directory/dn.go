package directory

import (
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// IsDN reports whether value is written as attr=value, i.e. it is a
// distinguished name rather than a bare identifier.
func IsDN(value string) bool {
	i := strings.Index(value, "=")
	return i > 0 && i < len(value)-1
}

// UnderContext reports whether dn sits under one of the given search bases.
// Matching is a case-insensitive substring test.
func UnderContext(dn string, contexts []string) bool {
	dn = strings.ToLower(dn)
	for _, c := range contexts {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" && strings.Contains(dn, c) {
			return true
		}
	}
	return false
}

// FirstRDN returns the attribute type and value of the leftmost RDN.
func FirstRDN(dn string) (attr, value string, ok bool) {
	parsed, err := ldap.ParseDN(dn)
	if err != nil || len(parsed.RDNs) == 0 || len(parsed.RDNs[0].Attributes) == 0 {
		return "", "", false
	}
	first := parsed.RDNs[0].Attributes[0]
	return first.Type, first.Value, true
}
