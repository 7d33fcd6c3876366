package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"codeberg.org/lexicore/cohortsync/pkg/controller"
	"github.com/xuri/excelize/v2"
)

const (
	summarySheet = "Summary"
	groupsSheet  = "Groups"
	auditSheet   = "Audit"
)

var (
	groupHeaders = []string{"Key", "Name", "Resolved", "Added", "Removed", "Skipped", "Digest"}
	auditHeaders = []string{"Timestamp", "Action", "Group", "User", "Message", "Error"}
)

// ExportExcel writes a workbook describing one pass: a summary sheet, one row
// per synchronized group and the audit trail.
func ExportExcel(w io.Writer, result *controller.PassResult) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	for _, name := range []string{groupsSheet, auditSheet} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
	}

	summary := [][]any{
		{"Pass", result.ID},
		{"Kind", result.Kind},
		{"Started", result.Started.Format(time.RFC3339)},
		{"Finished", result.Finished.Format(time.RFC3339)},
		{"Groups created", result.GroupsCreated},
		{"Groups existing", result.GroupsExisting},
		{"Groups disabled", result.GroupsDisabled},
		{"Groups skipped", result.GroupsSkipped},
		{"Users created", result.UsersCreated},
		{"Members added", result.MembersAdded},
		{"Members removed", result.MembersRemoved},
		{"Removals skipped", result.RemovalsSkipped},
		{"Members skipped", result.MembersSkipped},
		{"Errors", result.Errors()},
	}
	for i, values := range summary {
		if err := writeRow(f, summarySheet, i+1, values); err != nil {
			return err
		}
	}

	if err := writeHeader(f, groupsSheet, groupHeaders); err != nil {
		return err
	}
	for i, g := range result.Groups {
		values := []any{g.Key, g.Name, g.Resolved, g.Added, g.Removed, g.Skipped, strconv.FormatUint(g.Digest, 16)}
		if err := writeRow(f, groupsSheet, i+2, values); err != nil {
			return err
		}
	}

	if err := writeHeader(f, auditSheet, auditHeaders); err != nil {
		return err
	}
	for i, e := range result.Entries {
		var errStr string
		if e.Error != nil {
			errStr = e.Error.Error()
		}
		values := []any{e.Timestamp.Format(time.RFC3339), string(e.Action), e.Group, e.User, e.Message, errStr}
		if err := writeRow(f, auditSheet, i+2, values); err != nil {
			return err
		}
	}

	_, err := f.WriteTo(w)
	return err
}

func writeHeader(f *excelize.File, sheet string, headers []string) error {
	values := make([]any, len(headers))
	for i, h := range headers {
		values[i] = h
	}
	return writeRow(f, sheet, 1, values)
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("failed to write %s!%s: %w", sheet, cell, err)
		}
	}
	return nil
}
