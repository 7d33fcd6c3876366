package report

import (
	"bytes"
	"errors"
	"testing"

	"codeberg.org/lexicore/cohortsync/pkg/controller"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestExportExcel(t *testing.T) {
	result := controller.NewPassResult("groups")
	result.GroupsExisting = 1
	result.MembersAdded = 2
	result.Groups = append(result.Groups, controller.GroupReport{
		Key: "grp1", Name: "Physics", Resolved: 3, Added: 2, Removed: 1, Digest: 0xbeef,
	})
	result.Record(controller.ActionAddMember, "Physics", "u2", "")
	result.RecordError(controller.ActionCreateUser, "Physics", "ghost", errors.New("not found"))

	var buf bytes.Buffer
	require.NoError(t, ExportExcel(&buf, result))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{summarySheet, groupsSheet, auditSheet}, f.GetSheetList())

	groups, err := f.GetRows(groupsSheet)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, groupHeaders, groups[0])
	assert.Equal(t, []string{"grp1", "Physics", "3", "2", "1", "0", "beef"}, groups[1])

	audit, err := f.GetRows(auditSheet)
	require.NoError(t, err)
	require.Len(t, audit, 3)
	assert.Equal(t, "ADD_MEMBER", audit[1][1])
	assert.Equal(t, "not found", audit[2][5])

	summary, err := f.GetRows(summarySheet)
	require.NoError(t, err)
	assert.Equal(t, []string{"Pass", result.ID}, summary[0])
	assert.Equal(t, []string{"Errors", "1"}, summary[len(summary)-1])
}
