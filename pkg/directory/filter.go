package directory

import (
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// NormalizeObjectClass turns a bare objectclass name into an equality filter.
// Values that already look like a filter are returned unchanged.
func NormalizeObjectClass(objectClass string) string {
	objectClass = strings.TrimSpace(objectClass)
	switch {
	case objectClass == "":
		return "(objectClass=*)"
	case strings.HasPrefix(objectClass, "("):
		return objectClass
	case strings.Contains(objectClass, "="):
		return "(" + objectClass + ")"
	default:
		return fmt.Sprintf("(objectClass=%s)", objectClass)
	}
}

// NormalizeFilter wraps a filter in parentheses when the operator omitted them.
func NormalizeFilter(filter string) string {
	filter = strings.TrimSpace(filter)
	if filter == "" || strings.HasPrefix(filter, "(") {
		return filter
	}
	return "(" + filter + ")"
}

func And(filters ...string) string {
	return join("&", filters)
}

func Or(filters ...string) string {
	return join("|", filters)
}

func join(op string, filters []string) string {
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		if f = NormalizeFilter(f); f != "" {
			parts = append(parts, f)
		}
	}
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}
	return "(" + op + strings.Join(parts, "") + ")"
}

func Equals(attr, value string) string {
	return fmt.Sprintf("(%s=%s)", attr, ldap.EscapeFilter(value))
}

func Contains(attr, value string) string {
	return fmt.Sprintf("(%s=*%s*)", attr, ldap.EscapeFilter(value))
}
