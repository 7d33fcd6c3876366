package controller

import (
	"context"
	"testing"

	"codeberg.org/lexicore/cohortsync/pkg/config"
	"codeberg.org/lexicore/cohortsync/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) userGroups(t *testing.T, userID int64) []string {
	t.Helper()
	groups, err := f.store.UserGroups(context.Background(), userID)
	require.NoError(t, err)
	var keys []string
	for _, g := range groups {
		keys = append(keys, g.IDNumber)
	}
	return sortedStrings(keys)
}

func TestSyncUser(t *testing.T) {
	f := newFixture()
	f.cfg.Sync.AutoCreateGroups = config.AutoCreateAll
	f.addGroup("g1", "grp1")
	f.addGroup("g2", "grp2")
	f.addUser("u1", groupDN("g1"), groupDN("g2"), "cn=outsider,ou=elsewhere,dc=example,dc=org")

	uid := f.localUser(t, "u1")
	f.localGroup(t, "g1", "grp1")
	f.localGroup(t, "local only", "grp9", uid)

	user, err := f.store.GetUserByField(context.Background(), "username", "u1")
	require.NoError(t, err)

	result, err := f.reconciler().SyncUser(context.Background(), user)
	require.NoError(t, err)

	assert.Equal(t, []string{"grp1", "grp2", "grp9"}, f.userGroups(t, uid))
	assert.Equal(t, 2, result.MembersAdded)
	assert.Equal(t, 1, result.GroupsCreated)
	assert.Equal(t, "user", result.Kind)

	again, err := f.reconciler().SyncUser(context.Background(), user)
	require.NoError(t, err)
	assert.Zero(t, again.MembersAdded)
}

func TestSyncUser_NestedMemberOf(t *testing.T) {
	f := newFixture()
	f.cfg.Groups.NestedGroups = true
	f.dir.Add(groupDN("g1"), map[string][]string{
		"objectClass": {"posixGroup"},
		"cn":          {"g1"},
		"cohortId":    {"grp1"},
		"memberOf":    {groupDN("g2")},
	})
	f.dir.Add(groupDN("g2"), map[string][]string{
		"objectClass": {"posixGroup"},
		"cn":          {"g2"},
		"cohortId":    {"grp2"},
		"memberOf":    {groupDN("g1")},
	})
	f.addUser("u1", groupDN("g1"))

	uid := f.localUser(t, "u1")
	f.localGroup(t, "g1", "grp1")
	f.localGroup(t, "g2", "grp2")

	user, err := f.store.GetUserByField(context.Background(), "username", "u1")
	require.NoError(t, err)

	_, err = f.reconciler().SyncUser(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, []string{"grp1", "grp2"}, f.userGroups(t, uid))
}

func TestSyncUser_NoAutoCreate(t *testing.T) {
	f := newFixture()
	f.addGroup("g1", "grp1")
	f.addGroup("g2", "grp2")
	f.addUser("u1", groupDN("g1"), groupDN("g2"))

	uid := f.localUser(t, "u1")
	f.localGroup(t, "g1", "grp1")

	user, err := f.store.GetUserByField(context.Background(), "username", "u1")
	require.NoError(t, err)

	result, err := f.reconciler().SyncUser(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, []string{"grp1"}, f.userGroups(t, uid))
	assert.Equal(t, 1, result.GroupsSkipped)
}

func TestSyncUser_Skipped(t *testing.T) {
	tests := []struct {
		name      string
		loginSync bool
		auth      string
	}{
		{name: "login sync disabled", loginSync: false, auth: "ldap"},
		{name: "manual account", loginSync: true, auth: "manual"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.cfg.Sync.LoginSync = tt.loginSync

			result, err := f.reconciler().SyncUser(context.Background(), &store.User{ID: 1, Auth: tt.auth, Username: "u1"})
			assert.ErrorIs(t, err, ErrUserSyncSkipped)
			assert.Nil(t, result)
			assert.Zero(t, f.dir.Connects)
		})
	}
}

func TestSyncUser_UnknownUser(t *testing.T) {
	f := newFixture()
	uid := f.localUser(t, "ghost")

	user, err := f.store.GetUserByField(context.Background(), "username", "ghost")
	require.NoError(t, err)

	_, err = f.reconciler().SyncUser(context.Background(), user)
	assert.Error(t, err)
	assert.Empty(t, f.userGroups(t, uid))
}
