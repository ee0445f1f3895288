package store

import (
	"log"

	"ipamclient/internal/filter"
	"ipamclient/internal/repository"
	"ipamclient/internal/walk"
)

// Option configures a Store
type Option func(*Store)

// WithLogger sets the logger used for batch diagnostics
func WithLogger(l *log.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRootOID sets the OID of the synthetic root node
func WithRootOID(oid string) Option {
	return func(s *Store) {
		if oid != "" {
			s.rootOID = oid
		}
	}
}

// FetchOptions control a remote fetch
type FetchOptions struct {
	// MaxDepth is the number of descendant levels to fetch,
	// repository.Unlimited for all of them
	MaxDepth            int
	IncludeParents      bool
	IncludeAssociations bool
	IncludeReferences   bool
	// Force re-hydrates nodes that are already mirrored
	Force bool
}

// DefaultFetchOptions fetches down to maxDepth with parents and links
func DefaultFetchOptions(maxDepth int) FetchOptions {
	return FetchOptions{
		MaxDepth:            maxDepth,
		IncludeParents:      true,
		IncludeAssociations: true,
		IncludeReferences:   true,
	}
}

func (o FetchOptions) request(oid string) repository.FetchRequest {
	return repository.FetchRequest{
		OIDs:                []string{oid},
		MaxDepth:            o.MaxDepth,
		IncludeParents:      o.IncludeParents,
		IncludeAssociations: o.IncludeAssociations,
		IncludeReferences:   o.IncludeReferences,
	}
}

// QueryOption configures traversal, listing and search
type QueryOption func(*queryConfig)

type queryConfig struct {
	includeSelf  bool
	maxDepth     int
	include      []string
	exclude      []string
	noMatchBreak bool
	sorted       bool
	noFetch      bool
	attrLimit    []string
}

func newQueryConfig(includeSelf, sorted bool, opts []QueryOption) queryConfig {
	cfg := queryConfig{
		includeSelf: includeSelf,
		maxDepth:    walk.Unlimited,
		sorted:      sorted,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (c queryConfig) filter() filter.Filter {
	return filter.New(c.include, c.exclude, c.noMatchBreak)
}

// IncludeSelf controls whether the starting node takes part in a traversal
func IncludeSelf(v bool) QueryOption {
	return func(c *queryConfig) { c.includeSelf = v }
}

// MaxDepth limits traversal depth; walk.Unlimited disables the limit
func MaxDepth(d int) QueryOption {
	return func(c *queryConfig) { c.maxDepth = d }
}

// Include restricts results to the given type-ids or type names
func Include(types ...string) QueryOption {
	return func(c *queryConfig) { c.include = append(c.include, types...) }
}

// Exclude removes the given type-ids or type names from results
func Exclude(types ...string) QueryOption {
	return func(c *queryConfig) { c.exclude = append(c.exclude, types...) }
}

// NoMatchBreak prunes the subtrees of nodes that do not match
func NoMatchBreak() QueryOption {
	return func(c *queryConfig) { c.noMatchBreak = true }
}

// Sorted turns natural ordering of results on or off
func Sorted(v bool) QueryOption {
	return func(c *queryConfig) { c.sorted = v }
}

// NoFetch keeps ListChildren from fetching children that were never
// requested from the repository
func NoFetch() QueryOption {
	return func(c *queryConfig) { c.noFetch = true }
}

// AttrLimit restricts search matches to attributes with the given names
func AttrLimit(names ...string) QueryOption {
	return func(c *queryConfig) { c.attrLimit = append(c.attrLimit, names...) }
}

// DeleteOption configures Delete
type DeleteOption func(*repository.DeleteOptions)

// NonRecursive asks the repository to delete only a leaf node
func NonRecursive() DeleteOption {
	return func(o *repository.DeleteOptions) { o.Recursive = false }
}

// PruneLinked also deletes linked nodes left without any links
func PruneLinked() DeleteOption {
	return func(o *repository.DeleteOptions) { o.PruneLinked = true }
}

// CopyOptions control which children and links Copy carries over
type CopyOptions struct {
	IncludeNodes []string
	ExcludeNodes []string
	IncludeLinks []string
	ExcludeLinks []string
}
