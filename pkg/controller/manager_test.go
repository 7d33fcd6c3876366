package controller

import (
	"context"
	"testing"
	"time"

	"codeberg.org/lexicore/cohortsync/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newManager(f *fixture, cfg config.ScheduleConfig) *Manager {
	logger, _ := zap.NewDevelopment()
	return NewManager(f.reconciler(), f.store, cfg, logger)
}

func startManager(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func statusOf(m *Manager, kind string) (Status, bool) {
	return m.status.Load(kind)
}

func TestManager_ScheduledPass(t *testing.T) {
	f, gid := scenarioA(t)
	m := newManager(f, config.ScheduleConfig{QueueSize: 4})
	startManager(t, m)

	require.Eventually(t, func() bool {
		_, ok := statusOf(m, kindGroups)
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	st, _ := statusOf(m, kindGroups)
	assert.Equal(t, "Success", st.Status)
	assert.Equal(t, 2, st.MembersAdded)
	assert.Equal(t, []string{"u1", "u2", "u3", "u4"}, f.members(t, gid))
	require.NotNil(t, m.LastResult())
	assert.Equal(t, st.PassID, m.LastResult().ID)
}

func TestManager_TriggerReconciliation(t *testing.T) {
	f, _ := scenarioA(t)
	m := newManager(f, config.ScheduleConfig{QueueSize: 1})

	require.NoError(t, m.TriggerReconciliation(Options{}))
	assert.ErrorIs(t, m.TriggerReconciliation(Options{}), ErrAlreadyQueued)

	m.run(context.Background(), <-m.queue)
	require.NoError(t, m.TriggerReconciliation(Options{ForceUnsubscribe: true}))

	next := <-m.queue
	assert.True(t, next.opts.ForceUnsubscribe)
}

func TestManager_QueueFull(t *testing.T) {
	f, _ := scenarioA(t)
	m := newManager(f, config.ScheduleConfig{QueueSize: 1})

	require.NoError(t, m.NotifyLogin("u1"))
	assert.ErrorIs(t, m.TriggerReconciliation(Options{}), ErrQueueFull)
	assert.False(t, m.groupsQueued.Load())
}

func TestManager_NotifyLoginDebounced(t *testing.T) {
	f := newFixture()
	f.addGroup("g1", "grp1")
	f.addUser("u1", groupDN("g1"))
	uid := f.localUser(t, "u1")
	f.localGroup(t, "g1", "grp1")

	m := newManager(f, config.ScheduleConfig{QueueSize: 4, LoginDebounce: 20 * time.Millisecond})

	for range 3 {
		require.NoError(t, m.NotifyLogin("u1"))
	}
	assert.Equal(t, 1, m.pending.Size())

	require.Eventually(t, func() bool {
		return len(m.queue) == 1
	}, 5*time.Second, 5*time.Millisecond)
	assert.Zero(t, m.pending.Size())

	m.run(context.Background(), <-m.queue)
	assert.Equal(t, []string{"grp1"}, f.userGroups(t, uid))

	st, ok := statusOf(m, kindUser)
	require.True(t, ok)
	assert.Equal(t, "Success", st.Status)
	assert.Equal(t, 1, st.MembersAdded)
}

func TestManager_NotifyLoginErrors(t *testing.T) {
	f := newFixture()
	m := newManager(f, config.ScheduleConfig{QueueSize: 1})

	assert.ErrorIs(t, m.NotifyLogin(""), ErrEmptyUsername)

	m.shutdown()
	assert.ErrorIs(t, m.NotifyLogin("u1"), ErrShuttingDown)
}

func TestManager_UnknownLoginUser(t *testing.T) {
	f := newFixture()
	m := newManager(f, config.ScheduleConfig{QueueSize: 1})

	m.run(context.Background(), task{kind: kindUser, username: "ghost"})

	st, ok := statusOf(m, kindUser)
	require.True(t, ok)
	assert.Equal(t, "Failed", st.Status)
	assert.Len(t, m.Statuses(), 1)
}
