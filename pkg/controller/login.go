package controller

import (
	"errors"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

var ErrEmptyUsername = errors.New("username required")

// NotifyLogin schedules a single user pass for username once the login
// debounce window has passed without another login of the same user.
func (m *Manager) NotifyLogin(username string) error {
	if username == "" {
		return ErrEmptyUsername
	}
	if m.shutdownCtx.Err() != nil {
		return ErrShuttingDown
	}
	if m.cfg.LoginDebounce <= 0 {
		return m.enqueue(task{kind: kindUser, username: username})
	}

	m.pending.Compute(username, func(timer *time.Timer, loaded bool) (*time.Timer, xsync.ComputeOp) {
		if loaded {
			timer.Stop()
		}
		return time.AfterFunc(m.cfg.LoginDebounce, func() {
			m.flushLogin(username)
		}), xsync.UpdateOp
	})

	m.logger.Debug("Accumulated login", zap.String("user", username))
	return nil
}

func (m *Manager) flushLogin(username string) {
	if _, ok := m.pending.LoadAndDelete(username); !ok {
		return
	}
	if err := m.enqueue(task{kind: kindUser, username: username}); err != nil {
		m.logger.Warn("Failed to queue login sync", zap.String("user", username), zap.Error(err))
	}
}
