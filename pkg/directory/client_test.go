package directory_test

import (
	"context"
	"errors"
	"testing"

	"codeberg.org/lexicore/cohortsync/pkg/directory"
	"codeberg.org/lexicore/cohortsync/pkg/directory/directorytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newDirectory() *directorytest.Directory {
	return directorytest.New().
		Add("cn=staff,ou=groups,dc=example,dc=org", map[string][]string{
			"objectClass": {"posixGroup"},
			"cn":          {"staff"},
		}).
		Add("cn=teachers,ou=teams,dc=example,dc=org", map[string][]string{
			"objectClass": {"posixGroup"},
			"cn":          {"teachers"},
		}).
		Add("uid=alice,ou=people,dc=example,dc=org", map[string][]string{
			"objectClass": {"inetOrgPerson"},
			"uid":         {"alice"},
		})
}

func TestSearchContexts(t *testing.T) {
	dir := newDirectory()
	dir.SearchErrs["ou=broken,dc=example,dc=org"] = errors.New("no such object")

	client, err := dir.Connect(context.Background())
	require.NoError(t, err)

	entries, err := directory.SearchContexts(context.Background(), client, zap.NewNop(),
		[]string{"ou=groups,dc=example,dc=org", "ou=broken,dc=example,dc=org", " ", "ou=teams,dc=example,dc=org"},
		"(&(cn=*)(objectClass=posixGroup))", []string{"cn"}, true)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "staff", entries[0].GetValue("cn"))
	assert.Equal(t, "teachers", entries[1].GetValue("CN"))
}

func TestSearchContexts_ConnectionErrorAborts(t *testing.T) {
	dir := newDirectory()
	dir.SearchErrs["ou=groups,dc=example,dc=org"] = directory.ErrConnection

	client, err := dir.Connect(context.Background())
	require.NoError(t, err)

	_, err = directory.SearchContexts(context.Background(), client, zap.NewNop(),
		[]string{"ou=groups,dc=example,dc=org", "ou=teams,dc=example,dc=org"},
		"(cn=*)", nil, true)
	assert.ErrorIs(t, err, directory.ErrConnection)
}

func TestFindOne(t *testing.T) {
	dir := newDirectory()
	client, err := dir.Connect(context.Background())
	require.NoError(t, err)
	contexts := []string{"ou=people,dc=example,dc=org"}

	entry, err := directory.FindOne(context.Background(), client, contexts, "inetOrgPerson", "uid", "alice", nil, true)
	require.NoError(t, err)
	assert.Equal(t, "uid=alice,ou=people,dc=example,dc=org", entry.DN)

	entry, err = directory.FindOne(context.Background(), client, contexts, "inetOrgPerson", "dn", "UID=alice,ou=people,dc=example,dc=org", nil, true)
	require.NoError(t, err)
	assert.Equal(t, "alice", entry.GetValue("uid"))

	_, err = directory.FindOne(context.Background(), client, contexts, "inetOrgPerson", "uid", "bob", nil, true)
	assert.True(t, directory.IsNotFound(err))

	_, err = directory.FindOne(context.Background(), client, contexts, "inetOrgPerson", "uid", "*", nil, true)
	assert.True(t, directory.IsNotFound(err), "filter metacharacters are escaped")
}
