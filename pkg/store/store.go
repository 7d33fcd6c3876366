package store

import (
	"context"
	"errors"
	"fmt"

	"codeberg.org/lexicore/cohortsync/pkg/config"
	"go.uber.org/zap"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyMember = errors.New("user is already a member")
	ErrInvalidField  = errors.New("invalid lookup field")
)

// Group is a locally managed group (cohort). IDNumber carries the directory
// sync key; a blank IDNumber detaches the group from synchronization.
type Group struct {
	ID          int64
	Name        string
	IDNumber    string
	Description string
	ContextID   int64
}

type User struct {
	ID        int64
	Auth      string
	Username  string
	IDNumber  string
	FirstName string
	LastName  string
	Email     string
	DN        string
}

// Store is the local membership store the reconciler writes to. Each call is
// atomic on its own; there is no pass wide transaction. Lookups by field
// compare case-insensitively and return the lowest ID on duplicates.
type Store interface {
	GetGroupByField(ctx context.Context, field, value string) (*Group, error)
	ListGroups(ctx context.Context) ([]*Group, error)
	CreateGroup(ctx context.Context, g *Group) (int64, error)
	UpdateGroup(ctx context.Context, g *Group) error

	// GroupMembers maps member user IDs to the value of userField.
	GroupMembers(ctx context.Context, groupID int64, userField string) (map[int64]string, error)
	UserGroups(ctx context.Context, userID int64) ([]*Group, error)
	AddMember(ctx context.Context, groupID, userID int64) error
	RemoveMember(ctx context.Context, groupID, userID int64) error

	GetUserByField(ctx context.Context, field, value string) (*User, error)
	CreateUser(ctx context.Context, u *User) (int64, error)

	Close() error
}

// GroupValue returns the value of a lookup field of g.
func GroupValue(g *Group, field string) (string, error) {
	switch field {
	case "name":
		return g.Name, nil
	case "idnumber":
		return g.IDNumber, nil
	}
	return "", fmt.Errorf("group field %q: %w", field, ErrInvalidField)
}

// UserValue returns the value of a lookup field of u.
func UserValue(u *User, field string) (string, error) {
	switch field {
	case "username":
		return u.Username, nil
	case "idnumber":
		return u.IDNumber, nil
	case "email":
		return u.Email, nil
	case "dn":
		return u.DN, nil
	}
	return "", fmt.Errorf("user field %q: %w", field, ErrInvalidField)
}

// Open returns the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	if cfg.Driver == "memory" {
		return NewMemoryStore(), nil
	}
	return NewSQLStore(ctx, cfg, logger)
}
