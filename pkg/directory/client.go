package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

type SearchRequest struct {
	Base       string
	Filter     string
	Attributes []string
	// Subtree searches the whole subtree, otherwise one level.
	Subtree bool
	// SizeLimit caps the number of entries returned. Limited searches are
	// point lookups and never use paging.
	SizeLimit int
}

// Client is a bound directory session. Implementations materialize search
// results before returning.
type Client interface {
	Search(ctx context.Context, req *SearchRequest) ([]*Entry, error)
	// Read fetches a single entry by DN with a base scoped search.
	Read(ctx context.Context, dn, filter string, attrs []string) (*Entry, error)
	Close() error
}

type Connector interface {
	Connect(ctx context.Context) (Client, error)
}

// SearchContexts runs the same search under every base and concatenates the
// results. A failing base is logged and skipped unless the connection itself
// is gone.
func SearchContexts(ctx context.Context, client Client, logger *zap.Logger, bases []string, filter string, attrs []string, subtree bool) ([]*Entry, error) {
	var entries []*Entry
	for _, base := range bases {
		base = strings.TrimSpace(base)
		if base == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return entries, err
		}

		found, err := client.Search(ctx, &SearchRequest{
			Base:       base,
			Filter:     filter,
			Attributes: attrs,
			Subtree:    subtree,
		})
		if err != nil {
			if IsConnectionError(err) {
				return entries, fmt.Errorf("failed to search %s: %w", base, err)
			}
			logger.Warn("Search failed, skipping context",
				zap.String("base", base),
				zap.String("filter", filter),
				zap.Error(err))
			continue
		}
		entries = append(entries, found...)
	}
	return entries, nil
}

// FindOne looks an entry up by attribute equality across contexts, first hit
// wins. attr "dn" reads value directly as a DN.
func FindOne(ctx context.Context, client Client, contexts []string, objectClass, attr, value string, attrs []string, subtree bool) (*Entry, error) {
	if value == "" {
		return nil, ErrNotFound
	}

	if strings.EqualFold(attr, "dn") {
		entry, err := client.Read(ctx, value, NormalizeObjectClass(objectClass), attrs)
		if err != nil {
			return nil, err
		}
		return entry, nil
	}

	filter := And(NormalizeObjectClass(objectClass), Equals(attr, value))
	for _, base := range contexts {
		base = strings.TrimSpace(base)
		if base == "" {
			continue
		}
		found, err := client.Search(ctx, &SearchRequest{
			Base:       base,
			Filter:     filter,
			Attributes: attrs,
			Subtree:    subtree,
			SizeLimit:  1,
		})
		if err != nil {
			if IsConnectionError(err) {
				return nil, err
			}
			continue
		}
		if len(found) > 0 {
			return found[0], nil
		}
	}
	return nil, fmt.Errorf("%s=%s: %w", attr, value, ErrNotFound)
}

// IsNotFound reports a missing entry.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || isNoSuchObject(err)
}
