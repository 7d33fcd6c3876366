package controller

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Action string

const (
	ActionCreateGroup  Action = "CREATE_GROUP"
	ActionDisableGroup Action = "DISABLE_GROUP"
	ActionCreateUser   Action = "CREATE_USER"
	ActionAddMember    Action = "ADD_MEMBER"
	ActionRemoveMember Action = "REMOVE_MEMBER"
	ActionSkip         Action = "SKIP"
)

type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`
	Group     string    `json:"group"`
	User      string    `json:"user,omitempty"`
	Message   string    `json:"message,omitempty"`
	Error     error     `json:"-"`
}

func (e AuditEntry) MarshalJSON() ([]byte, error) {
	type Alias AuditEntry
	var errStr string
	if e.Error != nil {
		errStr = e.Error.Error()
	}
	return json.Marshal(&struct {
		Alias
		Error string `json:"error,omitempty"`
	}{
		Alias: Alias(e),
		Error: errStr,
	})
}

// GroupReport summarizes what a pass did to one group.
type GroupReport struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Resolved int    `json:"resolved"`
	Digest   uint64 `json:"digest"`
	Added    int    `json:"added"`
	Removed  int    `json:"removed"`
	Skipped  int    `json:"skipped"`
}

// PassResult accumulates the outcome of one reconciliation pass. A pass is
// single threaded, so the result is owned by it and needs no locking.
type PassResult struct {
	ID       string    `json:"id"`
	Kind     string    `json:"kind"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`

	GroupsCreated   int `json:"groupsCreated"`
	GroupsExisting  int `json:"groupsExisting"`
	GroupsDisabled  int `json:"groupsDisabled"`
	GroupsSkipped   int `json:"groupsSkipped"`
	UsersCreated    int `json:"usersCreated"`
	MembersAdded    int `json:"membersAdded"`
	MembersRemoved  int `json:"membersRemoved"`
	RemovalsSkipped int `json:"removalsSkipped"`
	MembersSkipped  int `json:"membersSkipped"`

	Groups  []GroupReport `json:"groups"`
	Entries []AuditEntry  `json:"entries"`
}

func NewPassResult(kind string) *PassResult {
	return &PassResult{
		ID:      uuid.NewString(),
		Kind:    kind,
		Started: time.Now(),
	}
}

func (r *PassResult) Record(action Action, group, user, message string) {
	r.Entries = append(r.Entries, AuditEntry{
		Timestamp: time.Now(),
		Action:    action,
		Group:     group,
		User:      user,
		Message:   message,
	})
}

func (r *PassResult) RecordError(action Action, group, user string, err error) {
	r.Entries = append(r.Entries, AuditEntry{
		Timestamp: time.Now(),
		Action:    action,
		Group:     group,
		User:      user,
		Error:     err,
	})
}

// Synchronized is the number of groups the pass worked on.
func (r *PassResult) Synchronized() int {
	return r.GroupsCreated + r.GroupsExisting
}

func (r *PassResult) Errors() int {
	n := 0
	for _, e := range r.Entries {
		if e.Error != nil {
			n++
		}
	}
	return n
}

func (r *PassResult) Counts() map[string]int {
	counts := make(map[string]int)
	for _, e := range r.Entries {
		counts[string(e.Action)]++
		if e.Error != nil {
			counts["ERRORS"]++
		}
	}
	return counts
}

func (r *PassResult) finish() {
	r.Finished = time.Now()
}
