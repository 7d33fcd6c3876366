package directorytest

import (
	"encoding/hex"
	"fmt"
	"strings"

	"codeberg.org/lexicore/cohortsync/pkg/directory"
)

// Filter is a parsed LDAP search filter supporting and, or, not, equality,
// presence and substring items.
type Filter interface {
	Match(e *directory.Entry) bool
}

type andFilter []Filter

func (f andFilter) Match(e *directory.Entry) bool {
	for _, sub := range f {
		if !sub.Match(e) {
			return false
		}
	}
	return true
}

type orFilter []Filter

func (f orFilter) Match(e *directory.Entry) bool {
	for _, sub := range f {
		if sub.Match(e) {
			return true
		}
	}
	return false
}

type notFilter struct{ inner Filter }

func (f notFilter) Match(e *directory.Entry) bool { return !f.inner.Match(e) }

type itemFilter struct {
	attr string
	// parts holds the value split on wildcards; a single part is equality.
	parts []string
}

func (f itemFilter) Match(e *directory.Entry) bool {
	values := e.GetValues(f.attr)
	if len(f.parts) == 2 && f.parts[0] == "" && f.parts[1] == "" {
		return len(values) > 0
	}
	for _, v := range values {
		if matchParts(strings.ToLower(v), f.parts) {
			return true
		}
	}
	return false
}

func matchParts(v string, parts []string) bool {
	if len(parts) == 1 {
		return v == parts[0]
	}
	if !strings.HasPrefix(v, parts[0]) {
		return false
	}
	v = v[len(parts[0]):]
	last := parts[len(parts)-1]
	for _, mid := range parts[1 : len(parts)-1] {
		i := strings.Index(v, mid)
		if i < 0 {
			return false
		}
		v = v[i+len(mid):]
	}
	return strings.HasSuffix(v, last)
}

func ParseFilter(s string) (Filter, error) {
	s = strings.TrimSpace(s)
	f, rest, err := parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid filter %q: %w", s, err)
	}
	if strings.TrimSpace(rest) != "" {
		return nil, fmt.Errorf("invalid filter %q: trailing %q", s, rest)
	}
	return f, nil
}

func parse(s string) (Filter, string, error) {
	if !strings.HasPrefix(s, "(") {
		return nil, s, fmt.Errorf("expected '(' at %q", s)
	}
	s = s[1:]
	if s == "" {
		return nil, s, fmt.Errorf("unexpected end")
	}

	switch s[0] {
	case '&', '|':
		op := s[0]
		s = s[1:]
		var subs []Filter
		for strings.HasPrefix(s, "(") {
			sub, rest, err := parse(s)
			if err != nil {
				return nil, rest, err
			}
			subs = append(subs, sub)
			s = rest
		}
		if !strings.HasPrefix(s, ")") {
			return nil, s, fmt.Errorf("expected ')' at %q", s)
		}
		if op == '&' {
			return andFilter(subs), s[1:], nil
		}
		return orFilter(subs), s[1:], nil
	case '!':
		inner, rest, err := parse(s[1:])
		if err != nil {
			return nil, rest, err
		}
		if !strings.HasPrefix(rest, ")") {
			return nil, rest, fmt.Errorf("expected ')' at %q", rest)
		}
		return notFilter{inner: inner}, rest[1:], nil
	}

	end := strings.IndexByte(s, ')')
	if end < 0 {
		return nil, s, fmt.Errorf("unterminated item")
	}
	item, rest := s[:end], s[end+1:]
	attr, value, ok := strings.Cut(item, "=")
	if !ok || attr == "" {
		return nil, rest, fmt.Errorf("invalid item %q", item)
	}

	raw := strings.Split(value, "*")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		u, err := unescape(p)
		if err != nil {
			return nil, rest, err
		}
		parts = append(parts, strings.ToLower(u))
	}
	return itemFilter{attr: attr, parts: parts}, rest, nil
}

func unescape(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		if i+3 > len(s) {
			return "", fmt.Errorf("short escape in %q", s)
		}
		decoded, err := hex.DecodeString(s[i+1 : i+3])
		if err != nil {
			return "", fmt.Errorf("bad escape in %q: %w", s, err)
		}
		b.Write(decoded)
		i += 2
	}
	return b.String(), nil
}
