package directory

import (
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// Entry is a directory object as returned by a search. Attribute names are
// matched case-insensitively.
type Entry struct {
	DN    string
	attrs map[string][]string
}

func NewEntry(dn string, attrs map[string][]string) *Entry {
	e := &Entry{DN: dn, attrs: make(map[string][]string, len(attrs))}
	for name, values := range attrs {
		key := strings.ToLower(name)
		e.attrs[key] = append(e.attrs[key], values...)
	}
	return e
}

func FromLDAP(entry *ldap.Entry) *Entry {
	e := &Entry{DN: entry.DN, attrs: make(map[string][]string, len(entry.Attributes))}
	for _, attr := range entry.Attributes {
		key := strings.ToLower(attr.Name)
		e.attrs[key] = append(e.attrs[key], attr.Values...)
	}
	return e
}

// GetValue returns the first value of name, or "" when absent. The pseudo
// attribute "dn" returns the entry DN.
func (e *Entry) GetValue(name string) string {
	values := e.GetValues(name)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func (e *Entry) GetValues(name string) []string {
	key := strings.ToLower(name)
	if key == "dn" {
		if e.DN == "" {
			return nil
		}
		return []string{e.DN}
	}
	return e.attrs[key]
}

func (e *Entry) Has(name string) bool {
	return len(e.GetValues(name)) > 0
}

// Attributes lists the attribute names present on the entry, lowercased.
func (e *Entry) Attributes() []string {
	names := make([]string, 0, len(e.attrs))
	for name := range e.attrs {
		names = append(names, name)
	}
	return names
}
