package controller

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestPassResult_Counts(t *testing.T) {
	r := NewPassResult("groups")
	r.Record(ActionAddMember, "g1", "u1", "")
	r.Record(ActionAddMember, "g1", "u2", "")
	r.RecordError(ActionCreateUser, "g1", "u3", errors.New("no username"))
	r.GroupsCreated = 1
	r.GroupsExisting = 2

	assert.NotEmpty(t, r.ID)
	assert.Equal(t, 3, r.Synchronized())
	assert.Equal(t, 1, r.Errors())
	assert.Equal(t, map[string]int{
		"ADD_MEMBER":  2,
		"CREATE_USER": 1,
		"ERRORS":      1,
	}, r.Counts())
}

func TestAuditEntry_MarshalJSON(t *testing.T) {
	r := NewPassResult("groups")
	r.RecordError(ActionCreateUser, "g1", "u3", errors.New("no username"))

	data, err := json.Marshal(r.Entries[0])
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "CREATE_USER", decoded["action"])
	assert.Equal(t, "no username", decoded["error"])
	assert.Equal(t, "u3", decoded["user"])
}

func TestTextTrace(t *testing.T) {
	var buf bytes.Buffer

	quiet := NewTextTrace(&buf, false)
	quiet.Output("Cohort %q created", "g1")
	quiet.Verbose("hidden")
	assert.Equal(t, "Cohort \"g1\" created\n", buf.String())

	buf.Reset()
	loud := NewTextTrace(&buf, true)
	loud.Verbose("\tUser %s exists in cohort %s", "u1", "g1")
	assert.Equal(t, "\tUser u1 exists in cohort g1\n", buf.String())
}

func TestLogTrace(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	trace := NewLogTrace(zap.New(core), false)

	trace.Output("Synchronized %d added", 2)
	trace.Verbose("hidden")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "Synchronized 2 added", logs.All()[0].Message)
}
