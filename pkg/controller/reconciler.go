package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"codeberg.org/lexicore/cohortsync/pkg/config"
	"codeberg.org/lexicore/cohortsync/pkg/directory"
	"codeberg.org/lexicore/cohortsync/pkg/membership"
	"codeberg.org/lexicore/cohortsync/pkg/provision"
	"codeberg.org/lexicore/cohortsync/pkg/resolver"
	"codeberg.org/lexicore/cohortsync/pkg/store"
	"go.uber.org/zap"
)

var ErrEmptyMemberAttribute = errors.New("group member attribute is empty")

type Options struct {
	// ForceUnsubscribe applies removals even when unsubscribe is disabled.
	ForceUnsubscribe bool
}

// Reconciler synchronizes local groups with directory groups. Passes must not
// overlap; scheduling them is left to the caller.
type Reconciler struct {
	cfg       *config.Config
	connector directory.Connector
	store     store.Store
	logger    *zap.Logger
	now       func() time.Time
}

func NewReconciler(
	cfg *config.Config,
	connector directory.Connector,
	st store.Store,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		cfg:       cfg,
		connector: connector,
		store:     st,
		logger:    logger.With(zap.String("component", "reconciler")),
		now:       time.Now,
	}
}

// pass carries the state of one reconciliation pass.
type pass struct {
	*Reconciler
	client      directory.Client
	resolver    *resolver.Resolver
	provisioner *provision.Provisioner
	trace       Trace
	result      *PassResult
	unsubscribe bool
}

// Reconcile runs a full pass over every discovered directory group. The
// returned error is set only when the pass was aborted; the result is always
// non-nil and reflects what was applied before the abort.
func (r *Reconciler) Reconcile(ctx context.Context, trace Trace, opts Options) (*PassResult, error) {
	ctx, restore := applyResourcePolicy(ctx, r.cfg.Runtime.MemoryLimit, r.logger)
	defer restore()

	result := NewPassResult("groups")
	defer result.finish()

	startTime := time.Now()
	r.logger.Info("Starting reconciliation", zap.String("pass", result.ID))

	if strings.TrimSpace(r.cfg.Groups.MemberAttribute) == "" {
		trace.Output("EMPTY MEMBER ATTRIBUTE FOR USER LOOKUP, PLEASE REVIEW SETTINGS")
		return result, ErrEmptyMemberAttribute
	}

	trace.Output("Connecting ldap...")
	p, err := r.open(ctx, trace, result)
	if err != nil {
		trace.Output("Cannot connect to LDAP: %v", err)
		return result, err
	}
	defer p.close()
	p.unsubscribe = r.cfg.Sync.Unsubscribe || opts.ForceUnsubscribe

	trace.Output("Synchronizing cohorts...")
	entries, err := p.discoverGroups(ctx)
	if err != nil {
		trace.Output("Cannot search groups: %v", err)
		return result, err
	}

	for _, entry := range entries {
		if err := p.syncGroup(ctx, entry); err != nil {
			trace.Output("Connection lost, aborting: %v", err)
			return result, err
		}
	}

	trace.Output("Done. Synchronized %d cohorts.", result.Synchronized())
	trace.Output("Cohorts: %d created, %d existing, %d disabled. Users: %d added, %d removed.",
		result.GroupsCreated, result.GroupsExisting, result.GroupsDisabled,
		result.MembersAdded, result.MembersRemoved)
	r.logger.Info(
		"Reconciliation completed",
		zap.String("pass", result.ID),
		zap.Duration("duration", time.Since(startTime)),
		zap.Int("groups_created", result.GroupsCreated),
		zap.Int("groups_existing", result.GroupsExisting),
		zap.Int("groups_disabled", result.GroupsDisabled),
		zap.Int("groups_skipped", result.GroupsSkipped),
		zap.Int("users_created", result.UsersCreated),
		zap.Int("members_added", result.MembersAdded),
		zap.Int("members_removed", result.MembersRemoved),
		zap.Int("removals_skipped", result.RemovalsSkipped),
		zap.Int("errors", result.Errors()),
	)
	return result, nil
}

func (r *Reconciler) open(ctx context.Context, trace Trace, result *PassResult) (*pass, error) {
	client, err := r.connector.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to directory: %w", err)
	}

	prov, err := provision.New(client, r.store, r.cfg.Users, r.cfg.Directory.Encoding, r.logger)
	if err != nil {
		client.Close()
		return nil, err
	}

	return &pass{
		Reconciler:  r,
		client:      client,
		resolver:    resolver.New(client, r.cfg.Groups, r.cfg.Users, r.logger),
		provisioner: prov,
		trace:       trace,
		result:      result,
	}, nil
}

func (p *pass) close() {
	if err := p.client.Close(); err != nil {
		p.logger.Debug("Failed to close directory connection", zap.Error(err))
	}
}

func (p *pass) groupAttributes() []string {
	attrs := []string{p.cfg.Groups.MemberAttribute, p.cfg.Groups.KeyAttribute()}
	for _, field := range []string{"name", "description"} {
		if attr := p.cfg.Groups.Fields[field]; attr != "" {
			attrs = append(attrs, attr)
		}
	}
	return attrs
}

// discoverGroups searches every group context with the filter implied by the
// auto-create mode.
func (p *pass) discoverGroups(ctx context.Context) ([]*directory.Entry, error) {
	filter, err := p.discoveryFilter(ctx)
	if err != nil {
		return nil, err
	}
	if filter == "" {
		p.logger.Info("No groups to synchronize")
		return nil, nil
	}

	p.logger.Debug("Discovering groups", zap.String("filter", filter))
	return directory.SearchContexts(ctx, p.client, p.logger, p.cfg.Groups.Contexts,
		filter, p.groupAttributes(), p.cfg.Groups.SearchSub)
}

func (p *pass) discoveryFilter(ctx context.Context) (string, error) {
	groups := p.cfg.Groups
	objectClass := directory.NormalizeObjectClass(groups.ObjectClass)

	switch p.cfg.Sync.AutoCreateGroups {
	case config.AutoCreateAll, config.AutoCreateGroups:
		filter := groups.Filter
		if strings.TrimSpace(filter) == "" {
			filter = "(cn=*)"
		}
		return directory.And(filter, objectClass), nil
	}

	keys, err := p.knownKeys(ctx)
	if err != nil {
		return "", err
	}
	if p.cfg.Sync.AutoCreateGroups == config.AutoCreateList {
		for _, include := range groups.Include {
			keys = append(keys, directory.Contains(groups.KeyAttribute(), include))
		}
	}
	if len(keys) == 0 {
		return "", nil
	}
	return directory.And(directory.Or(keys...), objectClass), nil
}

// knownKeys returns equality filters for the sync keys of existing local groups.
func (p *pass) knownKeys(ctx context.Context) ([]string, error) {
	local, err := p.store.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list local groups: %w", err)
	}

	seen := membership.NewSet()
	var filters []string
	for _, g := range local {
		key, err := store.GroupValue(g, p.cfg.Groups.SyncField)
		if err != nil {
			return nil, err
		}
		key = strings.TrimSpace(key)
		if key == "" || seen.Has(membership.NormalizeID(key)) {
			continue
		}
		seen.Add(membership.NormalizeID(key))
		filters = append(filters, directory.Equals(p.cfg.Groups.KeyAttribute(), key))
	}
	return filters, nil
}

// syncGroup reconciles one directory group. Only a lost directory connection
// is returned; every other failure is recorded and skips the group or member.
func (p *pass) syncGroup(ctx context.Context, entry *directory.Entry) error {
	key := strings.TrimSpace(entry.GetValue(p.cfg.Groups.KeyAttribute()))
	if key == "" {
		p.trace.Verbose("Empty LDAP group attribute (cohort id) : %s, skipping...", entry.DN)
		p.result.GroupsSkipped++
		p.result.Record(ActionSkip, entry.DN, "", "empty group key")
		return nil
	}

	if matchesAny(key, p.cfg.Groups.Exclude) {
		p.disableGroup(ctx, key)
		return nil
	}

	resolved, err := p.resolver.Resolve(ctx, resolver.GroupRef{
		Key:     key,
		DN:      entry.DN,
		Members: entry.GetValues(p.cfg.Groups.MemberAttribute),
	})
	if err != nil {
		return err
	}
	resolved = resolved.Normalize()

	group, ok := p.localGroup(ctx, key, entry, resolved.Len() > 0)
	if !ok {
		return nil
	}

	report := GroupReport{
		Key:      key,
		Name:     group.Name,
		Resolved: resolved.Len(),
		Digest:   resolved.Digest(),
	}
	defer func() {
		p.result.Groups = append(p.result.Groups, report)
	}()

	members, err := p.store.GroupMembers(ctx, group.ID, p.cfg.Users.SyncField)
	if err != nil {
		p.logger.Error("Failed to read group members", zap.String("group", key), zap.Error(err))
		p.result.RecordError(ActionSkip, key, "", err)
		return nil
	}
	byValue := make(map[string][]int64, len(members))
	for id, value := range members {
		key := membership.NormalizeID(value)
		byValue[key] = append(byValue[key], id)
	}

	add, remove := membership.Diff(resolved, membership.FromValues(members).Normalize())

	for _, identifier := range add.Sorted() {
		added, err := p.addMember(ctx, group, entry, identifier)
		if err != nil {
			return err
		}
		if added {
			report.Added++
		} else {
			report.Skipped++
		}
	}

	if p.unsubscribe {
		for _, identifier := range remove.Sorted() {
			for _, userID := range byValue[identifier] {
				if p.removeMember(ctx, group, entry, identifier, userID) {
					report.Removed++
				}
			}
		}
	} else if remove.Len() > 0 {
		p.result.RemovalsSkipped += remove.Len()
		p.logger.Debug("Removals skipped", zap.String("group", key), zap.Int("count", remove.Len()))
	}

	p.trace.Output("Synchronized %d added, %d removed users for cohort \"%s\"", report.Added, report.Removed, group.Name)
	return nil
}

// localGroup finds the local counterpart of a directory group, creating it
// when the auto-create mode allows.
func (p *pass) localGroup(ctx context.Context, key string, entry *directory.Entry, hasMembers bool) (*store.Group, bool) {
	syncField := p.cfg.Groups.SyncField

	group, err := p.store.GetGroupByField(ctx, syncField, key)
	if err == nil {
		p.trace.Output("Cohort \"%s\" already exists", group.Name)
		p.result.GroupsExisting++
		return group, true
	}
	if !errors.Is(err, store.ErrNotFound) {
		p.logger.Error("Failed to look up group", zap.String("group", key), zap.Error(err))
		p.result.RecordError(ActionSkip, key, "", err)
		p.result.GroupsSkipped++
		return nil, false
	}

	if !p.mayCreate(key, hasMembers) {
		p.trace.Verbose("Cohort %s not found, skipping", key)
		p.result.GroupsSkipped++
		return nil, false
	}

	group = p.groupFromEntry(key, entry)
	if _, err := p.store.CreateGroup(ctx, group); err != nil {
		p.trace.Verbose("Cannot create cohort with name: %s", group.Name)
		p.result.RecordError(ActionCreateGroup, key, "", err)
		p.result.GroupsSkipped++
		return nil, false
	}

	created, err := p.store.GetGroupByField(ctx, syncField, key)
	if err != nil {
		p.trace.Verbose("Cannot create cohort with name: %s", group.Name)
		p.result.RecordError(ActionCreateGroup, key, "", fmt.Errorf("failed to read created group: %w", err))
		p.result.GroupsSkipped++
		return nil, false
	}

	p.trace.Output("Cohort \"%s\" created", created.Name)
	p.result.GroupsCreated++
	p.result.Record(ActionCreateGroup, key, "", created.Name)
	return created, true
}

func (p *pass) mayCreate(key string, hasMembers bool) bool {
	include := p.cfg.Groups.Include
	included := len(include) == 0 || matchesAny(key, include)

	switch p.cfg.Sync.AutoCreateGroups {
	case config.AutoCreateAll:
		return included
	case config.AutoCreateGroups:
		return included && hasMembers
	case config.AutoCreateList:
		return len(include) > 0 && included
	}
	return false
}

func (p *pass) groupFromEntry(key string, entry *directory.Entry) *store.Group {
	fields := p.cfg.Groups.Fields
	g := &store.Group{
		Name:      strings.TrimSpace(entry.GetValue(fields["name"])),
		IDNumber:  strings.TrimSpace(entry.GetValue(fields["idnumber"])),
		ContextID: p.cfg.Groups.ContextID,
	}
	switch p.cfg.Groups.SyncField {
	case "name":
		g.Name = key
	case "idnumber":
		g.IDNumber = key
	}
	if g.Name == "" {
		g.Name = key
	}
	g.Description = Stamp(entry.GetValue(fields["description"]), stampCreated, p.now())
	return g
}

// disableGroup detaches an excluded group from synchronization by blanking
// the field it is matched on. Groups that are already detached are left
// alone.
func (p *pass) disableGroup(ctx context.Context, key string) {
	group, err := p.store.GetGroupByField(ctx, p.cfg.Groups.SyncField, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			p.result.RecordError(ActionDisableGroup, key, "", err)
		}
		p.trace.Verbose("Cohort %s is excluded, skipping", key)
		p.result.GroupsSkipped++
		return
	}
	name := group.Name
	if !clearGroupKey(group, p.cfg.Groups.SyncField) {
		p.result.GroupsSkipped++
		return
	}

	group.Description = Stamp(group.Description, stampDisabled, p.now())
	if err := p.store.UpdateGroup(ctx, group); err != nil {
		p.logger.Error("Failed to disable group", zap.String("group", key), zap.Error(err))
		p.result.RecordError(ActionDisableGroup, key, "", err)
		p.result.GroupsSkipped++
		return
	}

	p.trace.Output("Cohort \"%s\" disabled", name)
	p.result.GroupsDisabled++
	p.result.Record(ActionDisableGroup, key, "", name)
}

// clearGroupKey blanks the sync field of g and reports whether it was set.
func clearGroupKey(g *store.Group, field string) bool {
	switch field {
	case "name":
		if g.Name == "" {
			return false
		}
		g.Name = ""
	default:
		if g.IDNumber == "" {
			return false
		}
		g.IDNumber = ""
	}
	return true
}

// addMember adds the local user behind identifier to group, provisioning it
// when allowed. It reports whether the membership now exists.
func (p *pass) addMember(ctx context.Context, group *store.Group, entry *directory.Entry, identifier string) (bool, error) {
	userID, err := p.localUser(ctx, group, identifier)
	if err != nil || userID == 0 {
		return false, err
	}

	if err := p.store.AddMember(ctx, group.ID, userID); err != nil {
		if !errors.Is(err, store.ErrAlreadyMember) {
			p.logger.Warn("Failed to add member",
				zap.String("group", group.Name),
				zap.String("user", identifier),
				zap.Error(err))
			p.result.RecordError(ActionAddMember, group.Name, identifier, err)
			p.result.MembersSkipped++
			return false, nil
		}
		p.trace.Verbose("\tUser %s exists in cohort %s", identifier, group.Name)
	}

	p.result.MembersAdded++
	p.result.Record(ActionAddMember, group.Name, identifier, "")
	p.stamp(ctx, group, entry)
	return true, nil
}

// localUser resolves identifier to a local user ID. A zero ID with a nil error
// means the member is skipped.
func (p *pass) localUser(ctx context.Context, group *store.Group, identifier string) (int64, error) {
	u, err := p.store.GetUserByField(ctx, p.cfg.Users.SyncField, identifier)
	if err == nil {
		return u.ID, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		p.result.RecordError(ActionAddMember, group.Name, identifier, err)
		p.result.MembersSkipped++
		return 0, nil
	}

	if !p.cfg.Sync.AutoCreateUsers {
		p.logger.Debug("User not found locally, skipping", zap.String("user", identifier))
		p.result.MembersSkipped++
		return 0, nil
	}

	userEntry, err := p.provisioner.FindEntry(ctx, identifier)
	if err != nil {
		if directory.IsConnectionError(err) {
			return 0, err
		}
		p.trace.Verbose("Cannot create user with uid: %s", identifier)
		p.result.RecordError(ActionCreateUser, group.Name, identifier, err)
		p.result.MembersSkipped++
		return 0, nil
	}

	id, created, err := p.provisioner.EnsureUser(ctx, userEntry)
	if err != nil {
		p.trace.Verbose("Cannot create user with uid: %s", identifier)
		p.result.RecordError(ActionCreateUser, group.Name, identifier, err)
		p.result.MembersSkipped++
		return 0, nil
	}

	if created {
		p.result.UsersCreated++
		p.result.Record(ActionCreateUser, group.Name, identifier, "")
	}
	return id, nil
}

func (p *pass) removeMember(ctx context.Context, group *store.Group, entry *directory.Entry, identifier string, userID int64) bool {
	if err := p.store.RemoveMember(ctx, group.ID, userID); err != nil {
		p.logger.Warn("Failed to remove member",
			zap.String("group", group.Name),
			zap.String("user", identifier),
			zap.Error(err))
		p.result.RecordError(ActionRemoveMember, group.Name, identifier, err)
		return false
	}

	p.result.MembersRemoved++
	p.result.Record(ActionRemoveMember, group.Name, identifier, "")
	p.stamp(ctx, group, entry)
	return true
}

// stamp refreshes the audit header of group and renames it when the
// directory name is no longer part of the local name.
func (p *pass) stamp(ctx context.Context, group *store.Group, entry *directory.Entry) {
	group.Description = Stamp(group.Description, stampSynced, p.now())
	if entry != nil {
		name := strings.TrimSpace(entry.GetValue(p.cfg.Groups.Fields["name"]))
		if name != "" && !strings.Contains(group.Name, name) {
			group.Name = name
		}
	}
	if err := p.store.UpdateGroup(ctx, group); err != nil {
		p.logger.Warn("Failed to stamp group", zap.String("group", group.Name), zap.Error(err))
	}
}

func matchesAny(key string, patterns []string) bool {
	key = strings.ToLower(key)
	for _, pattern := range patterns {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern != "" && strings.Contains(key, pattern) {
			return true
		}
	}
	return false
}
