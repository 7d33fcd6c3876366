package directory

import (
	"errors"

	"github.com/go-ldap/ldap/v3"
)

var (
	ErrNotFound   = errors.New("directory entry not found")
	ErrConnection = errors.New("directory connection failed")
)

// IsConnectionError reports whether err means the connection is unusable,
// either explicitly or through a network level LDAP result code.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnection) {
		return true
	}
	return ldap.IsErrorAnyOf(err,
		ldap.ErrorNetwork,
		ldap.LDAPResultServerDown,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultConnectError,
	)
}

func isNoSuchObject(err error) bool {
	return ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject)
}

func isSizeLimitExceeded(err error) bool {
	return ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded)
}
