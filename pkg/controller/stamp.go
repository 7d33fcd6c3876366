package controller

import (
	"fmt"
	"regexp"
	"time"
)

const (
	stampMarker     = "[LDAP Cohort Sync]"
	stampTimeFormat = "02/01/2006 15:04:05"

	stampCreated  = "created"
	stampSynced   = "synced"
	stampDisabled = "disabled"
)

// stampHeader matches a header left by a previous pass, including the older
// HTML wrapped form without an action word.
var stampHeader = regexp.MustCompile(
	`^(?:<strong>)?\[LDAP Cohort Sync\](?:</strong>)? (?:(?:created|synced|disabled) )?\d{2}/\d{2}/\d{4} \d{2}:\d{2}:\d{2} ?`)

// Stamp prefixes description with the audit header, replacing any previous one.
func Stamp(description, action string, now time.Time) string {
	rest := stampHeader.ReplaceAllString(description, "")
	return fmt.Sprintf("%s %s %s %s", stampMarker, action, now.Format(stampTimeFormat), rest)
}
