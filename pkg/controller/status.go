package controller

import (
	"slices"
	"strings"
	"time"
)

// Status describes the outcome of the latest pass of one kind.
type Status struct {
	Kind     string    `json:"kind"`
	PassID   string    `json:"passId,omitempty"`
	LastSync time.Time `json:"lastSync"`
	Status   string    `json:"status"`
	Message  string    `json:"message,omitempty"`

	GroupsSynchronized int `json:"groupsSynchronized"`
	MembersAdded       int `json:"membersAdded"`
	MembersRemoved     int `json:"membersRemoved"`
	Errors             int `json:"errors"`
}

func (m *Manager) updateStatus(kind string, result *PassResult, err error) {
	st := Status{
		Kind:     kind,
		LastSync: time.Now(),
		Status:   "Success",
	}
	if result != nil {
		st.PassID = result.ID
		st.GroupsSynchronized = result.Synchronized()
		st.MembersAdded = result.MembersAdded
		st.MembersRemoved = result.MembersRemoved
		st.Errors = result.Errors()
	}
	if err != nil {
		st.Status = "Failed"
		st.Message = err.Error()
	}
	m.status.Store(kind, st)
}

// Statuses returns the latest status per pass kind.
func (m *Manager) Statuses() []Status {
	out := make([]Status, 0, 2)
	m.status.Range(func(_ string, st Status) bool {
		out = append(out, st)
		return true
	})
	slices.SortFunc(out, func(a, b Status) int { return strings.Compare(a.Kind, b.Kind) })
	return out
}
