package directory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeObjectClass(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "(objectClass=*)"},
		{"posixGroup", "(objectClass=posixGroup)"},
		{"objectClass=groupOfNames", "(objectClass=groupOfNames)"},
		{"(objectClass=group)", "(objectClass=group)"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeObjectClass(tt.in))
		})
	}
}

func TestFilterBuilders(t *testing.T) {
	assert.Equal(t, "(&(cn=*)(objectClass=posixGroup))", And("cn=*", "(objectClass=posixGroup)"))
	assert.Equal(t, "(cn=a)", Or("", "(cn=a)"))
	assert.Equal(t, "", Or())
	assert.Equal(t, `(cn=a\2a\28b\29)`, Equals("cn", "a*(b)"))
	assert.Equal(t, "(cn=*math*)", Contains("cn", "math"))
}

func TestDNHelpers(t *testing.T) {
	assert.True(t, IsDN("uid=alice,ou=people,dc=example,dc=org"))
	assert.False(t, IsDN("alice"))
	assert.False(t, IsDN("=alice"))

	contexts := []string{"ou=Groups,dc=example,dc=org"}
	assert.True(t, UnderContext("cn=staff,OU=groups,dc=example,dc=org", contexts))
	assert.False(t, UnderContext("uid=alice,ou=people,dc=example,dc=org", contexts))

	attr, value, ok := FirstRDN(`uid=o\2Cbrien,ou=people,dc=example,dc=org`)
	assert.True(t, ok)
	assert.Equal(t, "uid", attr)
	assert.Equal(t, "o,brien", value)

	_, _, ok = FirstRDN("not a dn")
	assert.False(t, ok)
}

func TestEntry_CaseInsensitive(t *testing.T) {
	e := NewEntry("cn=x,ou=g", map[string][]string{"memberUid": {"a", "b"}})
	assert.Equal(t, []string{"a", "b"}, e.GetValues("MEMBERUID"))
	assert.Equal(t, "cn=x,ou=g", e.GetValue("dn"))
	assert.False(t, e.Has("member"))
}
