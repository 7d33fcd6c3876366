package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"codeberg.org/lexicore/cohortsync/pkg/config"
	"codeberg.org/lexicore/cohortsync/pkg/directory"
	"codeberg.org/lexicore/cohortsync/pkg/store"
	"go.uber.org/zap"
)

var ErrMissingIdentity = errors.New("directory entry has no username")

// Provisioner materializes directory users as local users.
type Provisioner struct {
	client     directory.Client
	store      store.Store
	users      config.UsersConfig
	transcoder *transcoder
	logger     *zap.Logger
}

func New(client directory.Client, st store.Store, users config.UsersConfig, charset string, logger *zap.Logger) (*Provisioner, error) {
	tc, err := newTranscoder(charset)
	if err != nil {
		return nil, err
	}
	return &Provisioner{
		client:     client,
		store:      st,
		users:      users,
		transcoder: tc,
		logger:     logger.With(zap.String("component", "provisioner")),
	}, nil
}

// FindEntry looks a user up in the directory by the configured identity.
func (p *Provisioner) FindEntry(ctx context.Context, identity string) (*directory.Entry, error) {
	return directory.FindOne(ctx, p.client, p.users.Contexts, p.users.ObjectClass,
		p.users.IdentityAttribute(), identity, p.attributes(), p.users.SearchSub)
}

// EnsureUser returns the local ID for entry, creating the user if needed.
// created is false when a user with the same username already existed.
func (p *Provisioner) EnsureUser(ctx context.Context, entry *directory.Entry) (id int64, created bool, err error) {
	u, err := p.UserFromEntry(entry)
	if err != nil {
		return 0, false, err
	}

	existing, err := p.store.GetUserByField(ctx, "username", u.Username)
	if err == nil {
		return existing.ID, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return 0, false, fmt.Errorf("failed to look up user %s: %w", u.Username, err)
	}

	id, err = p.store.CreateUser(ctx, u)
	if err != nil {
		return 0, false, fmt.Errorf("failed to create user %s: %w", u.Username, err)
	}
	p.logger.Info("User created", zap.String("username", u.Username), zap.Int64("id", id))
	return id, true, nil
}

// UserFromEntry maps directory attributes onto local user fields.
func (p *Provisioner) UserFromEntry(entry *directory.Entry) (*store.User, error) {
	u := &store.User{Auth: p.users.AuthMethod}
	for field, attr := range p.users.Fields {
		if attr == "" {
			continue
		}
		value := p.transcoder.String(entry.GetValue(attr))
		switch field {
		case "username":
			u.Username = strings.ToLower(strings.TrimSpace(value))
		case "idnumber":
			u.IDNumber = value
		case "firstname":
			u.FirstName = value
		case "lastname":
			u.LastName = value
		case "email":
			u.Email = value
		case "dn":
			u.DN = value
		}
	}
	if u.DN == "" {
		u.DN = entry.DN
	}
	if u.Username == "" {
		return nil, fmt.Errorf("%s: %w", entry.DN, ErrMissingIdentity)
	}
	return u, nil
}

func (p *Provisioner) attributes() []string {
	attrs := make([]string, 0, len(p.users.Fields)+1)
	for _, attr := range p.users.Fields {
		if attr != "" && !strings.EqualFold(attr, "dn") {
			attrs = append(attrs, attr)
		}
	}
	if p.users.MemberOfAttribute != "" {
		attrs = append(attrs, p.users.MemberOfAttribute)
	}
	return attrs
}
