package controller

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"codeberg.org/lexicore/cohortsync/pkg/directory"
	"codeberg.org/lexicore/cohortsync/pkg/membership"
	"codeberg.org/lexicore/cohortsync/pkg/store"
	"go.uber.org/zap"
)

var ErrUserSyncSkipped = errors.New("login sync not applicable")

// SyncUser adds user to the groups the directory says it belongs to. It is
// meant to run at login and never removes memberships.
func (r *Reconciler) SyncUser(ctx context.Context, user *store.User) (*PassResult, error) {
	if !r.cfg.Sync.LoginSync {
		return nil, fmt.Errorf("login sync disabled: %w", ErrUserSyncSkipped)
	}
	if !slices.Contains(r.cfg.Users.LoginAuthMethods, user.Auth) {
		return nil, fmt.Errorf("auth method %q: %w", user.Auth, ErrUserSyncSkipped)
	}

	ctx, restore := applyResourcePolicy(ctx, r.cfg.Runtime.MemoryLimit, r.logger)
	defer restore()

	result := NewPassResult("user")
	defer result.finish()

	logger := r.logger.With(zap.String("pass", result.ID), zap.String("user", user.Username))
	trace := NewLogTrace(logger, r.cfg.Sync.Debug)

	p, err := r.open(ctx, trace, result)
	if err != nil {
		logger.Error("Failed to connect to directory", zap.Error(err))
		return result, err
	}
	defer p.close()

	identity, err := r.userIdentity(user)
	if err != nil {
		return result, err
	}

	entry, err := p.provisioner.FindEntry(ctx, identity)
	if err != nil {
		return result, fmt.Errorf("failed to find user %s in directory: %w", identity, err)
	}

	keys, err := p.resolver.ResolveMemberOf(ctx, entry)
	if err != nil {
		return result, fmt.Errorf("failed to resolve groups of %s: %w", identity, err)
	}

	current, err := r.store.UserGroups(ctx, user.ID)
	if err != nil {
		return result, fmt.Errorf("failed to list groups of %s: %w", user.Username, err)
	}
	joined := membership.NewSet()
	for _, g := range current {
		if key, err := store.GroupValue(g, r.cfg.Groups.SyncField); err == nil && key != "" {
			joined.Add(membership.NormalizeID(key))
		}
	}

	for _, key := range keys {
		if joined.Has(membership.NormalizeID(key)) {
			continue
		}
		if err := p.joinGroup(ctx, user, key); err != nil {
			return result, err
		}
	}

	logger.Info("User synchronized",
		zap.Int("groups", len(keys)),
		zap.Int("joined", result.MembersAdded),
		zap.Int("created", result.GroupsCreated))
	return result, nil
}

// userIdentity returns the value the directory lookup is keyed on.
func (r *Reconciler) userIdentity(user *store.User) (string, error) {
	field := r.cfg.Users.SyncField
	value, err := store.UserValue(user, field)
	if err != nil {
		return "", err
	}
	if value = strings.TrimSpace(value); value == "" {
		return "", fmt.Errorf("user %d has no %s: %w", user.ID, field, directory.ErrNotFound)
	}
	return value, nil
}

// joinGroup adds user to the local group with the given key, creating the
// group first when the auto-create mode allows.
func (p *pass) joinGroup(ctx context.Context, user *store.User, key string) error {
	if matchesAny(key, p.cfg.Groups.Exclude) {
		p.trace.Verbose("Cohort %s is excluded, skipping", key)
		p.result.GroupsSkipped++
		return nil
	}

	var entry *directory.Entry
	group, err := p.store.GetGroupByField(ctx, p.cfg.Groups.SyncField, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			p.result.RecordError(ActionAddMember, key, user.Username, err)
			p.result.GroupsSkipped++
			return nil
		}

		entry, err = directory.FindOne(ctx, p.client, p.cfg.Groups.Contexts, p.cfg.Groups.ObjectClass,
			p.cfg.Groups.KeyAttribute(), key, p.groupAttributes(), p.cfg.Groups.SearchSub)
		if err != nil {
			if directory.IsConnectionError(err) {
				return err
			}
			p.result.GroupsSkipped++
			return nil
		}

		var ok bool
		if group, ok = p.localGroup(ctx, key, entry, true); !ok {
			return nil
		}
	}

	if err := p.store.AddMember(ctx, group.ID, user.ID); err != nil {
		if !errors.Is(err, store.ErrAlreadyMember) {
			p.result.RecordError(ActionAddMember, group.Name, user.Username, err)
			p.result.MembersSkipped++
			return nil
		}
		p.trace.Verbose("\tUser %s exists in cohort %s", user.Username, group.Name)
	}

	p.result.MembersAdded++
	p.result.Record(ActionAddMember, group.Name, user.Username, "")
	p.stamp(ctx, group, entry)
	return nil
}
