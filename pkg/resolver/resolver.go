package resolver

import (
	"context"
	"strings"

	"codeberg.org/lexicore/cohortsync/pkg/config"
	"codeberg.org/lexicore/cohortsync/pkg/directory"
	"codeberg.org/lexicore/cohortsync/pkg/membership"
	"go.uber.org/zap"
)

// Placeholder is the member value some directories store in otherwise empty
// groups. It never denotes a real member.
const Placeholder = "cn=Agalan groups fake member"

type GroupRef struct {
	// Key is the group's sync key, the value of the configured sync attribute.
	Key string
	DN  string
	// Members holds the raw member attribute values.
	Members []string
}

type memberKind int

const (
	kindUser memberKind = iota
	kindGroup
)

// Resolver expands group member lists into leaf user identifiers. A Resolver
// is bound to one directory session and caches lookups for its lifetime.
type Resolver struct {
	client directory.Client
	groups config.GroupsConfig
	users  config.UsersConfig
	logger *zap.Logger

	cache map[string]*directory.Entry
}

func New(client directory.Client, groups config.GroupsConfig, users config.UsersConfig, logger *zap.Logger) *Resolver {
	return &Resolver{
		client: client,
		groups: groups,
		users:  users,
		logger: logger.With(zap.String("component", "resolver")),
		cache:  make(map[string]*directory.Entry),
	}
}

// antiRecursionSet holds the keys of the groups on the current expansion path.
type antiRecursionSet map[string]struct{}

func (s antiRecursionSet) push(key string) { s[key] = struct{}{} }

func (s antiRecursionSet) pop(key string) { delete(s, key) }

func (s antiRecursionSet) has(key string) bool {
	_, ok := s[key]
	return ok
}

type frame struct {
	key     string
	members []string
	next    int
}

// Resolve returns the user identifiers reachable from group. Unresolvable
// members and cycles are dropped silently. The returned error is non-nil only
// when the directory connection failed.
func (r *Resolver) Resolve(ctx context.Context, group GroupRef) (membership.Set, error) {
	result := membership.NewSet()
	ancestry := antiRecursionSet{}

	rootKey := membership.NormalizeID(group.Key)
	ancestry.push(rootKey)
	stack := []*frame{{key: rootKey, members: group.Members}}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		top := stack[len(stack)-1]
		if top.next >= len(top.members) {
			ancestry.pop(top.key)
			stack = stack[:len(stack)-1]
			continue
		}
		value := strings.TrimSpace(top.members[top.next])
		top.next++

		if value == "" || IsPlaceholder(value) {
			continue
		}

		switch r.classify(value) {
		case kindGroup:
			if !r.groups.NestedGroups {
				continue
			}
			entry, err := r.lookupGroup(ctx, value, r.groups.MemberAttribute)
			if err != nil {
				return result, err
			}
			if entry == nil {
				r.logger.Debug("Nested group not found", zap.String("member", value))
				continue
			}
			key := r.groupKey(entry)
			if ancestry.has(key) {
				continue
			}
			ancestry.push(key)
			stack = append(stack, &frame{key: key, members: entry.GetValues(r.groups.MemberAttribute)})

		case kindUser:
			id, err := r.userIdentifier(ctx, value)
			if err != nil {
				return result, err
			}
			if id == "" {
				r.logger.Debug("Member could not be resolved", zap.String("member", value))
				continue
			}
			result.Add(id)
		}
	}

	return result, nil
}

func IsPlaceholder(value string) bool {
	return strings.EqualFold(strings.TrimSpace(value), Placeholder)
}

func (r *Resolver) classify(value string) memberKind {
	if !directory.IsDN(value) {
		if r.groups.BareMemberType == "group" {
			return kindGroup
		}
		return kindUser
	}
	if directory.UnderContext(value, r.groups.Contexts) {
		return kindGroup
	}
	return kindUser
}

func (r *Resolver) groupKey(entry *directory.Entry) string {
	if key := membership.NormalizeID(entry.GetValue(r.groups.KeyAttribute())); key != "" {
		return key
	}
	return strings.ToLower(entry.DN)
}

// lookupGroup fetches a group by DN or, for bare values, by sync key.
func (r *Resolver) lookupGroup(ctx context.Context, value, membersAttr string) (*directory.Entry, error) {
	attrs := []string{membersAttr, r.groups.KeyAttribute(), r.groups.Fields["name"]}
	if directory.IsDN(value) {
		return r.lookup(ctx, "group-dn:"+membersAttr, value, func() (*directory.Entry, error) {
			return r.client.Read(ctx, value, directory.NormalizeObjectClass(r.groups.ObjectClass), attrs)
		})
	}
	return r.lookup(ctx, "group-key:"+membersAttr, value, func() (*directory.Entry, error) {
		return directory.FindOne(ctx, r.client, r.groups.Contexts, r.groups.ObjectClass,
			r.groups.KeyAttribute(), value, attrs, r.groups.SearchSub)
	})
}

// userIdentifier maps a raw user member value to the configured identity.
// DN values are read from the directory first; entries that do not exist
// are dropped.
func (r *Resolver) userIdentifier(ctx context.Context, value string) (string, error) {
	if !directory.IsDN(value) {
		if r.groups.MemberAttributeIsDN {
			return "", nil
		}
		return membership.NormalizeID(value), nil
	}

	idAttr := r.users.IdentityAttribute()
	entry, err := r.lookup(ctx, "user-dn", value, func() (*directory.Entry, error) {
		return r.client.Read(ctx, value, directory.NormalizeObjectClass(r.users.ObjectClass), []string{idAttr})
	})
	if err != nil || entry == nil {
		return "", err
	}

	if r.users.SyncField == "dn" {
		return strings.ToLower(entry.DN), nil
	}
	if v := entry.GetValue(idAttr); v != "" {
		return membership.NormalizeID(v), nil
	}
	if attr, v, ok := directory.FirstRDN(value); ok && strings.EqualFold(attr, idAttr) {
		return membership.NormalizeID(v), nil
	}
	return "", nil
}

// lookup memoizes directory reads. Misses are cached too; only connection
// failures are returned.
func (r *Resolver) lookup(ctx context.Context, kind, value string, fetch func() (*directory.Entry, error)) (*directory.Entry, error) {
	cacheKey := kind + ":" + strings.ToLower(value)
	if entry, ok := r.cache[cacheKey]; ok {
		return entry, nil
	}

	entry, err := fetch()
	if err != nil {
		if directory.IsConnectionError(err) {
			return nil, err
		}
		if !directory.IsNotFound(err) {
			r.logger.Debug("Directory lookup failed", zap.String("value", value), zap.Error(err))
		}
		entry = nil
	}
	r.cache[cacheKey] = entry
	return entry, nil
}
