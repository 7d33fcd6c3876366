package directorytest

import (
	"testing"

	"codeberg.org/lexicore/cohortsync/pkg/directory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilter(t *testing.T) {
	e := directory.NewEntry("cn=maths-101,ou=groups,dc=example,dc=org", map[string][]string{
		"objectClass": {"top", "posixGroup"},
		"cn":          {"Maths-101"},
		"memberUid":   {"alice", "bob"},
	})

	tests := []struct {
		filter string
		want   bool
	}{
		{"(cn=*)", true},
		{"(description=*)", false},
		{"(cn=maths-101)", true},
		{"(cn=*ths*)", true},
		{"(cn=m*1)", true},
		{"(cn=x*)", false},
		{"(&(objectClass=posixGroup)(memberUid=bob))", true},
		{"(&(objectClass=posixGroup)(memberUid=carol))", false},
		{"(|(cn=a)(cn=b)(cn=Maths-101))", true},
		{"(!(cn=maths-101))", false},
		{`(cn=maths\2d101)`, true},
	}
	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			f, err := ParseFilter(tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Match(e))
		})
	}
}

func TestParseFilter_Invalid(t *testing.T) {
	for _, filter := range []string{"cn=a", "(cn=a", "(&(cn=a)", "(cn=a))", `(cn=\2)`} {
		_, err := ParseFilter(filter)
		assert.Error(t, err, filter)
	}
}
