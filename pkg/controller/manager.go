package controller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/lexicore/cohortsync/pkg/config"
	"codeberg.org/lexicore/cohortsync/pkg/store"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

var (
	ErrAlreadyQueued = errors.New("reconciliation already queued")
	ErrQueueFull     = errors.New("queue is full")
	ErrShuttingDown  = errors.New("manager is shutting down")
)

const (
	kindGroups = "groups"
	kindUser   = "user"
)

type task struct {
	kind     string
	username string
	opts     Options
}

// Manager runs passes in the background: full passes on a schedule or on
// demand, and single user passes after logins. A single worker executes the
// queue so passes never overlap.
type Manager struct {
	reconciler *Reconciler
	store      store.Store
	cfg        config.ScheduleConfig
	logger     *zap.Logger

	queue        chan task
	groupsQueued atomic.Bool
	pending      *xsync.Map[string, *time.Timer]
	status       *xsync.Map[string, Status]
	lastResult   atomic.Pointer[PassResult]

	shutdownCtx context.Context
	shutdown    context.CancelFunc
}

func NewManager(r *Reconciler, st store.Store, cfg config.ScheduleConfig, logger *zap.Logger) *Manager {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 100
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		reconciler:  r,
		store:       st,
		cfg:         cfg,
		logger:      logger.With(zap.String("component", "manager")),
		queue:       make(chan task, queueSize),
		pending:     xsync.NewMap[string, *time.Timer](),
		status:      xsync.NewMap[string, Status](),
		shutdownCtx: ctx,
		shutdown:    cancel,
	}
}

// Start blocks until ctx is done.
func (m *Manager) Start(ctx context.Context) error {
	m.logger.Info("Starting manager", zap.Duration("interval", m.cfg.Interval))

	go func() {
		<-ctx.Done()
		m.shutdown()
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.worker(m.shutdownCtx)
	}()
	go func() {
		defer wg.Done()
		m.runScheduleLoop(m.shutdownCtx)
	}()
	wg.Wait()

	m.pending.Range(func(username string, timer *time.Timer) bool {
		timer.Stop()
		return true
	})
	m.logger.Info("Manager stopped")
	return nil
}

func (m *Manager) runScheduleLoop(ctx context.Context) {
	m.triggerScheduled()
	if m.cfg.Interval <= 0 {
		return
	}

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.triggerScheduled()
		}
	}
}

func (m *Manager) triggerScheduled() {
	err := m.TriggerReconciliation(Options{})
	if err != nil && !errors.Is(err, ErrAlreadyQueued) {
		m.logger.Warn("Failed to queue scheduled reconciliation", zap.Error(err))
	}
}

// TriggerReconciliation queues a full pass. At most one full pass waits in
// the queue at any time.
func (m *Manager) TriggerReconciliation(opts Options) error {
	if !m.groupsQueued.CompareAndSwap(false, true) {
		return ErrAlreadyQueued
	}
	if err := m.enqueue(task{kind: kindGroups, opts: opts}); err != nil {
		m.groupsQueued.Store(false)
		return err
	}
	return nil
}

func (m *Manager) enqueue(t task) error {
	select {
	case m.queue <- t:
		return nil
	case <-m.shutdownCtx.Done():
		return ErrShuttingDown
	default:
		return ErrQueueFull
	}
}

func (m *Manager) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-m.queue:
			m.run(ctx, t)
		}
	}
}

func (m *Manager) run(ctx context.Context, t task) {
	debug := m.reconciler.cfg.Sync.Debug

	switch t.kind {
	case kindGroups:
		m.groupsQueued.Store(false)
		result, err := m.reconciler.Reconcile(ctx, NewLogTrace(m.logger, debug), t.opts)
		if err != nil {
			m.logger.Error("Reconciliation failed", zap.Error(err))
		}
		if result != nil {
			m.lastResult.Store(result)
		}
		m.updateStatus(kindGroups, result, err)

	case kindUser:
		user, err := m.store.GetUserByField(ctx, "username", t.username)
		if err != nil {
			m.logger.Warn("Login sync for unknown user", zap.String("user", t.username), zap.Error(err))
			m.updateStatus(kindUser, nil, err)
			return
		}
		result, err := m.reconciler.SyncUser(ctx, user)
		if errors.Is(err, ErrUserSyncSkipped) {
			m.logger.Debug("Login sync skipped", zap.String("user", t.username), zap.Error(err))
			return
		}
		if err != nil {
			m.logger.Error("Login sync failed", zap.String("user", t.username), zap.Error(err))
		}
		m.updateStatus(kindUser, result, err)
	}
}

// LastResult returns the result of the latest full pass, or nil.
func (m *Manager) LastResult() *PassResult {
	return m.lastResult.Load()
}
