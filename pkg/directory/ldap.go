package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"
)

// ldapConn is the part of *ldap.Conn the client relies on.
type ldapConn interface {
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Close() error
}

type dialFunc func(ctx context.Context) (ldapConn, error)

// LDAPClient runs searches over a single bound connection. Paging state is
// connection scoped on many servers, so the connection is replaced after
// every paged search. Size limited lookups run unpaged and keep it.
type LDAPClient struct {
	dial     dialFunc
	conn     ldapConn
	logger   *zap.Logger
	pageSize int
	deref    int
	// timeLimit is the server side time limit in seconds, 0 for none.
	timeLimit int
}

func newLDAPClient(conn ldapConn, dial dialFunc, pageSize, deref int, timeout time.Duration, logger *zap.Logger) *LDAPClient {
	return &LDAPClient{
		dial:      dial,
		conn:      conn,
		logger:    logger,
		pageSize:  pageSize,
		deref:     deref,
		timeLimit: int(timeout / time.Second),
	}
}

func (c *LDAPClient) connection(ctx context.Context) (ldapConn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	c.conn = conn
	return conn, nil
}

// reconnect drops the current connection and binds a fresh one.
func (c *LDAPClient) reconnect(ctx context.Context) error {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	if _, err := c.connection(ctx); err != nil {
		return fmt.Errorf("failed to reconnect after paged search: %w", err)
	}
	return nil
}

func (c *LDAPClient) Search(ctx context.Context, req *SearchRequest) ([]*Entry, error) {
	conn, err := c.connection(ctx)
	if err != nil {
		return nil, err
	}

	scope := ldap.ScopeSingleLevel
	if req.Subtree {
		scope = ldap.ScopeWholeSubtree
	}

	if c.pageSize > 0 && req.SizeLimit == 0 {
		entries, searchErr := c.searchPaged(ctx, conn, req, scope)
		if err := c.reconnect(ctx); err != nil {
			return entries, err
		}
		return entries, searchErr
	}

	result, err := conn.Search(ldap.NewSearchRequest(
		req.Base,
		scope,
		c.deref,
		req.SizeLimit, c.timeLimit, false,
		req.Filter,
		req.Attributes,
		nil,
	))
	if err != nil {
		if isSizeLimitExceeded(err) && result != nil {
			if req.SizeLimit > 0 {
				return convertEntries(result.Entries), nil
			}
			c.logger.Warn("Search truncated by server size limit",
				zap.String("base", req.Base),
				zap.Int("entries", len(result.Entries)))
			return convertEntries(result.Entries), nil
		}
		return nil, c.wrap(req.Base, err)
	}
	return convertEntries(result.Entries), nil
}

func (c *LDAPClient) searchPaged(ctx context.Context, conn ldapConn, req *SearchRequest, scope int) ([]*Entry, error) {
	paging := ldap.NewControlPaging(uint32(c.pageSize))
	searchReq := ldap.NewSearchRequest(
		req.Base,
		scope,
		c.deref,
		0, c.timeLimit, false,
		req.Filter,
		req.Attributes,
		[]ldap.Control{paging},
	)

	var entries []*Entry
	pages := 0
	for {
		if err := ctx.Err(); err != nil {
			return entries, err
		}

		result, err := conn.Search(searchReq)
		if err != nil {
			return entries, c.wrap(req.Base, err)
		}
		pages++
		entries = append(entries, convertEntries(result.Entries)...)

		ctrl := ldap.FindControl(result.Controls, ldap.ControlTypePaging)
		if ctrl == nil {
			break
		}
		resp, ok := ctrl.(*ldap.ControlPaging)
		if !ok || len(resp.Cookie) == 0 {
			break
		}
		paging.SetCookie(resp.Cookie)
	}

	c.logger.Debug("Paged search completed",
		zap.String("base", req.Base),
		zap.Int("pages", pages),
		zap.Int("entries", len(entries)))
	return entries, nil
}

func (c *LDAPClient) Read(ctx context.Context, dn, filter string, attrs []string) (*Entry, error) {
	conn, err := c.connection(ctx)
	if err != nil {
		return nil, err
	}
	if filter == "" {
		filter = "(objectClass=*)"
	}

	result, err := conn.Search(ldap.NewSearchRequest(
		dn,
		ldap.ScopeBaseObject,
		c.deref,
		1, c.timeLimit, false,
		filter,
		attrs,
		nil,
	))
	if err != nil {
		if isNoSuchObject(err) {
			return nil, fmt.Errorf("%s: %w", dn, ErrNotFound)
		}
		return nil, c.wrap(dn, err)
	}
	if len(result.Entries) == 0 {
		return nil, fmt.Errorf("%s: %w", dn, ErrNotFound)
	}
	return FromLDAP(result.Entries[0]), nil
}

func (c *LDAPClient) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *LDAPClient) wrap(base string, err error) error {
	if IsConnectionError(err) {
		return fmt.Errorf("search %s: %w: %w", base, ErrConnection, err)
	}
	return fmt.Errorf("search %s: %w", base, err)
}

func convertEntries(in []*ldap.Entry) []*Entry {
	out := make([]*Entry, 0, len(in))
	for _, e := range in {
		out = append(out, FromLDAP(e))
	}
	return out
}
