package resolver

import (
	"context"
	"testing"

	"codeberg.org/lexicore/cohortsync/pkg/config"
	"codeberg.org/lexicore/cohortsync/pkg/directory"
	"codeberg.org/lexicore/cohortsync/pkg/directory/directorytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	groupsBase = "ou=groups,dc=example,dc=org"
	peopleBase = "ou=people,dc=example,dc=org"
)

func groupDN(cn string) string { return "cn=" + cn + "," + groupsBase }
func userDN(uid string) string { return "uid=" + uid + "," + peopleBase }

func addGroup(dir *directorytest.Directory, cn string, members ...string) {
	dir.Add(groupDN(cn), map[string][]string{
		"objectClass": {"posixGroup"},
		"cn":          {cn},
		"member":      members,
	})
}

func addUser(dir *directorytest.Directory, uid string, extra map[string][]string) {
	attrs := map[string][]string{
		"objectClass": {"inetOrgPerson"},
		"uid":         {uid},
	}
	for k, v := range extra {
		attrs[k] = v
	}
	dir.Add(userDN(uid), attrs)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Groups.Contexts = []string{groupsBase}
	cfg.Groups.NestedGroups = true
	cfg.Users.Contexts = []string{peopleBase}
	return cfg
}

func newResolver(t *testing.T, dir *directorytest.Directory, cfg *config.Config) *Resolver {
	t.Helper()
	client, err := dir.Connect(context.Background())
	require.NoError(t, err)
	logger, _ := zap.NewDevelopment()
	return New(client, cfg.Groups, cfg.Users, logger)
}

func groupRef(t *testing.T, r *Resolver, cn string) GroupRef {
	t.Helper()
	entry, err := r.client.Read(context.Background(), groupDN(cn), "", nil)
	require.NoError(t, err)
	return GroupRef{Key: cn, DN: entry.DN, Members: entry.GetValues("member")}
}

func TestResolve_NestedGroup(t *testing.T) {
	dir := directorytest.New()
	addGroup(dir, "g1", userDN("u1"), userDN("u2"), groupDN("g2"))
	addGroup(dir, "g2", userDN("u5"))

	r := newResolver(t, dir, testConfig())
	got, err := r.Resolve(context.Background(), groupRef(t, r, "g1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2", "u5"}, got.Sorted())
}

func TestResolve_NestingDisabled(t *testing.T) {
	dir := directorytest.New()
	addGroup(dir, "g1", userDN("u1"), groupDN("g2"))
	addGroup(dir, "g2", userDN("u5"))

	cfg := testConfig()
	cfg.Groups.NestedGroups = false
	r := newResolver(t, dir, cfg)

	got, err := r.Resolve(context.Background(), groupRef(t, r, "g1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, got.Sorted())
}

func TestResolve_Cycle(t *testing.T) {
	dir := directorytest.New()
	addGroup(dir, "g1", userDN("u1"), groupDN("g2"))
	addGroup(dir, "g2", userDN("u3"), groupDN("g1"))

	r := newResolver(t, dir, testConfig())

	got, err := r.Resolve(context.Background(), groupRef(t, r, "g1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u3"}, got.Sorted())
	assert.False(t, got.Has("g1"))

	got, err = r.Resolve(context.Background(), groupRef(t, r, "g2"))
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u3"}, got.Sorted())
}

func TestResolve_SelfLoopMatchesGraphWithoutSelfEdge(t *testing.T) {
	withLoop := directorytest.New()
	addGroup(withLoop, "g1", userDN("u1"), groupDN("g1"), groupDN("g2"))
	addGroup(withLoop, "g2", userDN("u2"))

	without := directorytest.New()
	addGroup(without, "g1", userDN("u1"), groupDN("g2"))
	addGroup(without, "g2", userDN("u2"))

	r1 := newResolver(t, withLoop, testConfig())
	r2 := newResolver(t, without, testConfig())

	got1, err := r1.Resolve(context.Background(), groupRef(t, r1, "g1"))
	require.NoError(t, err)
	got2, err := r2.Resolve(context.Background(), groupRef(t, r2, "g1"))
	require.NoError(t, err)
	assert.Equal(t, got2, got1)
}

func TestResolve_DiamondExpandsSharedGroup(t *testing.T) {
	dir := directorytest.New()
	addGroup(dir, "top", groupDN("left"), groupDN("right"))
	addGroup(dir, "left", groupDN("shared"), userDN("l1"))
	addGroup(dir, "right", groupDN("shared"))
	addGroup(dir, "shared", userDN("s1"))

	r := newResolver(t, dir, testConfig())
	got, err := r.Resolve(context.Background(), groupRef(t, r, "top"))
	require.NoError(t, err)
	assert.Equal(t, []string{"l1", "s1"}, got.Sorted())
}

func TestResolve_PlaceholderSkippedAtAnyDepth(t *testing.T) {
	dir := directorytest.New()
	addGroup(dir, "g1", Placeholder, groupDN("g2"))
	addGroup(dir, "g2", "CN=Agalan Groups Fake Member", userDN("u1"))
	addUser(dir, "u1", nil)

	cfg := testConfig()
	cfg.Users.SyncField = "dn"
	r := newResolver(t, dir, cfg)

	got, err := r.Resolve(context.Background(), groupRef(t, r, "g1"))
	require.NoError(t, err)
	assert.Equal(t, []string{userDN("u1")}, got.Sorted())
}

func TestResolve_UserTranslation(t *testing.T) {
	dir := directorytest.New()
	addGroup(dir, "g1", userDN("Alice"), userDN("bob"), userDN("ghost"))
	addUser(dir, "Alice", map[string][]string{"employeeNumber": {"E100"}})
	addUser(dir, "bob", map[string][]string{"employeeNumber": {"E200"}})

	t.Run("identity attribute", func(t *testing.T) {
		r := newResolver(t, dir, testConfig())
		ref := groupRef(t, r, "g1")

		before := dir.Reads
		got, err := r.Resolve(context.Background(), ref)
		require.NoError(t, err)
		assert.Equal(t, []string{"alice", "bob"}, got.Sorted())
		assert.False(t, got.Has("ghost"))
		assert.Equal(t, before+3, dir.Reads, "one read per member DN")

		_, err = r.Resolve(context.Background(), ref)
		require.NoError(t, err)
		assert.Equal(t, before+3, dir.Reads, "misses are cached too")
	})

	t.Run("directory read", func(t *testing.T) {
		cfg := testConfig()
		cfg.Users.SyncField = "idnumber"
		cfg.Users.Fields["idnumber"] = "employeeNumber"
		r := newResolver(t, dir, cfg)

		got, err := r.Resolve(context.Background(), groupRef(t, r, "g1"))
		require.NoError(t, err)
		assert.Equal(t, []string{"e100", "e200"}, got.Sorted())
	})

	t.Run("dn sync field", func(t *testing.T) {
		cfg := testConfig()
		cfg.Users.SyncField = "dn"
		r := newResolver(t, dir, cfg)

		got, err := r.Resolve(context.Background(), groupRef(t, r, "g1"))
		require.NoError(t, err)
		assert.Equal(t, []string{"uid=alice,ou=people,dc=example,dc=org", "uid=bob,ou=people,dc=example,dc=org"}, got.Sorted())
	})
}

func TestResolve_BareMembers(t *testing.T) {
	dir := directorytest.New()
	dir.Add(groupDN("g1"), map[string][]string{
		"objectClass": {"posixGroup"},
		"cn":          {"g1"},
		"memberUid":   {"Alice", " bob ", ""},
	})

	cfg := testConfig()
	cfg.Groups.MemberAttribute = "memberuid"
	r := newResolver(t, dir, cfg)

	entry, err := r.client.Read(context.Background(), groupDN("g1"), "", nil)
	require.NoError(t, err)
	got, err := r.Resolve(context.Background(), GroupRef{Key: "g1", Members: entry.GetValues("memberuid")})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, got.Sorted())
}

func TestResolve_BareGroupMembers(t *testing.T) {
	dir := directorytest.New()
	dir.Add(groupDN("g1"), map[string][]string{
		"objectClass": {"posixGroup"},
		"cn":          {"g1"},
		"member":      {"g2"},
	})
	addGroup(dir, "g2", userDN("u7"))

	cfg := testConfig()
	cfg.Groups.BareMemberType = "group"
	r := newResolver(t, dir, cfg)

	got, err := r.Resolve(context.Background(), groupRef(t, r, "g1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"u7"}, got.Sorted())
}

func TestResolve_ConnectionLost(t *testing.T) {
	dir := directorytest.New()
	addGroup(dir, "g1", groupDN("g2"))
	addGroup(dir, "g2", userDN("u1"))

	r := newResolver(t, dir, testConfig())
	ref := groupRef(t, r, "g1")
	require.NoError(t, r.client.Close())

	_, err := r.Resolve(context.Background(), ref)
	assert.ErrorIs(t, err, directory.ErrConnection)
}

func TestResolveMemberOf(t *testing.T) {
	dir := directorytest.New()
	dir.Add(groupDN("g1"), map[string][]string{
		"objectClass": {"posixGroup"},
		"cn":          {"G1"},
		"memberOf":    {groupDN("g2")},
	})
	dir.Add(groupDN("g2"), map[string][]string{
		"objectClass": {"posixGroup"},
		"cn":          {"g2"},
		"memberOf":    {groupDN("g1")},
	})
	addUser(dir, "alice", map[string][]string{
		"memberOf": {groupDN("g1"), "cn=admins,ou=elsewhere,dc=example,dc=org", Placeholder},
	})

	user := directory.NewEntry(userDN("alice"), map[string][]string{
		"memberOf": {groupDN("g1"), "cn=admins,ou=elsewhere,dc=example,dc=org", Placeholder},
	})

	t.Run("nested", func(t *testing.T) {
		r := newResolver(t, dir, testConfig())
		keys, err := r.ResolveMemberOf(context.Background(), user)
		require.NoError(t, err)
		assert.Equal(t, []string{"G1", "g2"}, keys)
	})

	t.Run("direct only", func(t *testing.T) {
		cfg := testConfig()
		cfg.Groups.NestedGroups = false
		r := newResolver(t, dir, cfg)
		keys, err := r.ResolveMemberOf(context.Background(), user)
		require.NoError(t, err)
		assert.Equal(t, []string{"G1"}, keys)
	})
}
