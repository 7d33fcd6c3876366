package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
)

type MemoryStore struct {
	groups  *xsync.Map[int64, Group]
	users   *xsync.Map[int64, User]
	members *xsync.Map[int64, map[int64]struct{}]
	nextID  atomic.Int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		groups:  xsync.NewMap[int64, Group](),
		users:   xsync.NewMap[int64, User](),
		members: xsync.NewMap[int64, map[int64]struct{}](),
	}
}

func (s *MemoryStore) GetGroupByField(ctx context.Context, field, value string) (*Group, error) {
	if _, err := GroupValue(&Group{}, field); err != nil {
		return nil, err
	}

	var found *Group
	s.groups.Range(func(id int64, g Group) bool {
		v, _ := GroupValue(&g, field)
		if strings.EqualFold(v, value) && (found == nil || id < found.ID) {
			found = &g
		}
		return true
	})
	if found == nil {
		return nil, fmt.Errorf("group %s=%s: %w", field, value, ErrNotFound)
	}
	return found, nil
}

func (s *MemoryStore) ListGroups(ctx context.Context) ([]*Group, error) {
	var out []*Group
	s.groups.Range(func(_ int64, g Group) bool {
		out = append(out, &g)
		return true
	})
	slices.SortFunc(out, func(a, b *Group) int { return int(a.ID - b.ID) })
	return out, nil
}

func (s *MemoryStore) CreateGroup(ctx context.Context, g *Group) (int64, error) {
	id := s.nextID.Add(1)
	stored := *g
	stored.ID = id
	s.groups.Store(id, stored)
	return id, nil
}

func (s *MemoryStore) UpdateGroup(ctx context.Context, g *Group) error {
	var missing bool
	s.groups.Compute(g.ID, func(old Group, loaded bool) (Group, xsync.ComputeOp) {
		if !loaded {
			missing = true
			return old, xsync.CancelOp
		}
		return *g, xsync.UpdateOp
	})
	if missing {
		return fmt.Errorf("group %d: %w", g.ID, ErrNotFound)
	}
	return nil
}

func (s *MemoryStore) GroupMembers(ctx context.Context, groupID int64, userField string) (map[int64]string, error) {
	if _, err := UserValue(&User{}, userField); err != nil {
		return nil, err
	}

	out := make(map[int64]string)
	ids, _ := s.members.Load(groupID)
	for id := range ids {
		u, ok := s.users.Load(id)
		if !ok {
			continue
		}
		out[id], _ = UserValue(&u, userField)
	}
	return out, nil
}

func (s *MemoryStore) UserGroups(ctx context.Context, userID int64) ([]*Group, error) {
	var out []*Group
	s.members.Range(func(groupID int64, ids map[int64]struct{}) bool {
		if _, ok := ids[userID]; ok {
			if g, ok := s.groups.Load(groupID); ok {
				out = append(out, &g)
			}
		}
		return true
	})
	slices.SortFunc(out, func(a, b *Group) int { return int(a.ID - b.ID) })
	return out, nil
}

func (s *MemoryStore) AddMember(ctx context.Context, groupID, userID int64) error {
	if _, ok := s.groups.Load(groupID); !ok {
		return fmt.Errorf("group %d: %w", groupID, ErrNotFound)
	}
	if _, ok := s.users.Load(userID); !ok {
		return fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}

	var exists bool
	s.members.Compute(groupID, func(ids map[int64]struct{}, loaded bool) (map[int64]struct{}, xsync.ComputeOp) {
		if _, ok := ids[userID]; ok {
			exists = true
			return ids, xsync.CancelOp
		}
		next := make(map[int64]struct{}, len(ids)+1)
		for id := range ids {
			next[id] = struct{}{}
		}
		next[userID] = struct{}{}
		return next, xsync.UpdateOp
	})
	if exists {
		return ErrAlreadyMember
	}
	return nil
}

func (s *MemoryStore) RemoveMember(ctx context.Context, groupID, userID int64) error {
	s.members.Compute(groupID, func(ids map[int64]struct{}, loaded bool) (map[int64]struct{}, xsync.ComputeOp) {
		if _, ok := ids[userID]; !ok {
			return ids, xsync.CancelOp
		}
		next := make(map[int64]struct{}, len(ids))
		for id := range ids {
			if id != userID {
				next[id] = struct{}{}
			}
		}
		return next, xsync.UpdateOp
	})
	return nil
}

func (s *MemoryStore) GetUserByField(ctx context.Context, field, value string) (*User, error) {
	if _, err := UserValue(&User{}, field); err != nil {
		return nil, err
	}

	var found *User
	s.users.Range(func(id int64, u User) bool {
		v, _ := UserValue(&u, field)
		if strings.EqualFold(v, value) && (found == nil || id < found.ID) {
			found = &u
		}
		return true
	})
	if found == nil {
		return nil, fmt.Errorf("user %s=%s: %w", field, value, ErrNotFound)
	}
	return found, nil
}

func (s *MemoryStore) CreateUser(ctx context.Context, u *User) (int64, error) {
	id := s.nextID.Add(1)
	stored := *u
	stored.ID = id
	s.users.Store(id, stored)
	return id, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
