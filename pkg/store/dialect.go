package store

import (
	"fmt"
	"strconv"
	"strings"
)

type dialect struct {
	name     string
	identity string
	text     string
	longText string
}

var dialects = map[string]dialect{
	"sqlite": {
		name:     "sqlite",
		identity: "INTEGER PRIMARY KEY AUTOINCREMENT",
		text:     "TEXT",
		longText: "TEXT",
	},
	"postgres": {
		name:     "postgres",
		identity: "BIGSERIAL PRIMARY KEY",
		text:     "VARCHAR(255)",
		longText: "TEXT",
	},
	"mysql": {
		name:     "mysql",
		identity: "BIGINT AUTO_INCREMENT PRIMARY KEY",
		text:     "VARCHAR(255)",
		longText: "TEXT",
	},
	"sqlserver": {
		name:     "sqlserver",
		identity: "BIGINT IDENTITY(1,1) PRIMARY KEY",
		text:     "NVARCHAR(255)",
		longText: "NVARCHAR(MAX)",
	},
}

func dialectFor(driver string) (dialect, error) {
	d, ok := dialects[driver]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported store driver %q", driver)
	}
	return d, nil
}

// rebind rewrites "?" placeholders into the dialect's native form.
func (d dialect) rebind(query string) string {
	switch d.name {
	case "postgres", "sqlserver":
	default:
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r != '?' {
			b.WriteRune(r)
			continue
		}
		n++
		if d.name == "postgres" {
			b.WriteString("$" + strconv.Itoa(n))
		} else {
			b.WriteString("@p" + strconv.Itoa(n))
		}
	}
	return b.String()
}

// insertReturningID builds an insert that yields the new row ID from a query,
// or reports false when the driver exposes it through LastInsertId instead.
func (d dialect) insertReturningID(table string, columns []string) (string, bool) {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	cols := strings.Join(columns, ", ")
	switch d.name {
	case "postgres":
		return d.rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id", table, cols, marks)), true
	case "sqlserver":
		return d.rebind(fmt.Sprintf("INSERT INTO %s (%s) OUTPUT INSERTED.id VALUES (%s)", table, cols, marks)), true
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, cols, marks), false
}

func (d dialect) createTable(table, body string) string {
	if d.name == "sqlserver" {
		return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (%s)", table, table, body)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, body)
}

func (d dialect) schema() []string {
	return []string{
		d.createTable("cohort", fmt.Sprintf(
			"id %s, name %s NOT NULL, idnumber %s NOT NULL DEFAULT '', description %s NOT NULL, contextid BIGINT NOT NULL DEFAULT 0",
			d.identity, d.text, d.text, d.longText)),
		d.createTable("users", fmt.Sprintf(
			"id %s, auth %s NOT NULL DEFAULT '', username %s NOT NULL, idnumber %s NOT NULL DEFAULT '', "+
				"firstname %s NOT NULL DEFAULT '', lastname %s NOT NULL DEFAULT '', email %s NOT NULL DEFAULT '', dn %s NOT NULL DEFAULT ''",
			d.identity, d.text, d.text, d.text, d.text, d.text, d.text, d.text)),
		d.createTable("cohort_members", fmt.Sprintf(
			"id %s, cohortid BIGINT NOT NULL, userid BIGINT NOT NULL, timeadded BIGINT NOT NULL DEFAULT 0, UNIQUE (cohortid, userid)",
			d.identity)),
	}
}
