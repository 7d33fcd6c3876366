// Package directorytest provides an in-memory directory for tests.
package directorytest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"codeberg.org/lexicore/cohortsync/pkg/directory"
)

// Directory holds entries and implements directory.Connector. Searches and
// connections are counted so tests can assert on access patterns.
type Directory struct {
	mu      sync.Mutex
	entries []*directory.Entry

	ConnectErr error
	// SearchErrs fails searches under the given base DN.
	SearchErrs map[string]error

	Connects int
	Searches int
	Reads    int
}

func New() *Directory {
	return &Directory{SearchErrs: make(map[string]error)}
}

// Add stores an entry. Attribute names keep their case for display but are
// matched case-insensitively.
func (d *Directory) Add(dn string, attrs map[string][]string) *Directory {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, directory.NewEntry(dn, attrs))
	return d
}

func (d *Directory) Connect(ctx context.Context) (directory.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ConnectErr != nil {
		return nil, fmt.Errorf("%w: %w", directory.ErrConnection, d.ConnectErr)
	}
	d.Connects++
	return &client{dir: d}, nil
}

type client struct {
	dir    *Directory
	closed bool
}

func (c *client) Search(ctx context.Context, req *directory.SearchRequest) ([]*directory.Entry, error) {
	if c.closed {
		return nil, directory.ErrConnection
	}
	f, err := ParseFilter(req.Filter)
	if err != nil {
		return nil, err
	}

	d := c.dir
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Searches++

	for base, err := range d.SearchErrs {
		if strings.EqualFold(base, req.Base) {
			return nil, err
		}
	}

	var out []*directory.Entry
	for _, e := range d.entries {
		if !inScope(e.DN, req.Base, req.Subtree) {
			continue
		}
		if f.Match(e) {
			out = append(out, e)
		}
		if req.SizeLimit > 0 && len(out) == req.SizeLimit {
			break
		}
	}
	return out, nil
}

func (c *client) Read(ctx context.Context, dn, filter string, attrs []string) (*directory.Entry, error) {
	if c.closed {
		return nil, directory.ErrConnection
	}
	if filter == "" {
		filter = "(objectClass=*)"
	}
	f, err := ParseFilter(filter)
	if err != nil {
		return nil, err
	}

	d := c.dir
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Reads++

	for _, e := range d.entries {
		if strings.EqualFold(e.DN, dn) && f.Match(e) {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", dn, directory.ErrNotFound)
}

func (c *client) Close() error {
	c.closed = true
	return nil
}

func inScope(dn, base string, subtree bool) bool {
	dn, base = strings.ToLower(dn), strings.ToLower(base)
	if !strings.HasSuffix(dn, ","+base) {
		return false
	}
	if subtree {
		return true
	}
	rdn := strings.TrimSuffix(dn, ","+base)
	return !strings.Contains(rdn, ",")
}
