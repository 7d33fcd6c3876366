package resolver

import (
	"context"
	"slices"
	"strings"

	"codeberg.org/lexicore/cohortsync/pkg/directory"
)

// ResolveMemberOf returns the sync keys of the groups user belongs to, read
// from the reverse membership attribute. With nested groups enabled the walk
// continues through each group's own reverse membership attribute.
func (r *Resolver) ResolveMemberOf(ctx context.Context, user *directory.Entry) ([]string, error) {
	attr := r.users.MemberOfAttribute
	if attr == "" {
		return nil, nil
	}
	// normalized key -> key as stored in the directory
	result := make(map[string]string)

	ancestry := antiRecursionSet{}
	stack := []*frame{{members: user.GetValues(attr)}}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return sortedValues(result), err
		}

		top := stack[len(stack)-1]
		if top.next >= len(top.members) {
			if top.key != "" {
				ancestry.pop(top.key)
			}
			stack = stack[:len(stack)-1]
			continue
		}
		value := strings.TrimSpace(top.members[top.next])
		top.next++

		if value == "" || IsPlaceholder(value) {
			continue
		}
		if directory.IsDN(value) && !directory.UnderContext(value, r.groups.Contexts) {
			continue
		}

		entry, err := r.lookupGroup(ctx, value, attr)
		if err != nil {
			return sortedValues(result), err
		}
		if entry == nil {
			continue
		}

		key := r.groupKey(entry)
		if raw := strings.TrimSpace(entry.GetValue(r.groups.KeyAttribute())); raw != "" {
			result[key] = raw
		}

		if !r.groups.NestedGroups || ancestry.has(key) {
			continue
		}
		if parents := entry.GetValues(attr); len(parents) > 0 {
			ancestry.push(key)
			stack = append(stack, &frame{key: key, members: parents})
		}
	}

	return sortedValues(result), nil
}

func sortedValues(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}
