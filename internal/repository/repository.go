package repository

import (
	"context"
	"errors"
	"time"

	"ipamclient/internal/schema"
)

// Unlimited is the MaxDepth that disables depth limiting
const Unlimited = -1

var (
	// ErrNotFound is returned for OIDs the server does not know
	ErrNotFound = errors.New("oid not found")
	// ErrCursorExpired is returned for unknown or exhausted page cursors
	ErrCursorExpired = errors.New("cursor expired")
	// ErrInvalidData is returned for positional data the type does not accept
	ErrInvalidData = errors.New("invalid node data")
	// ErrRootNode is returned for operations the root does not support
	ErrRootNode = errors.New("operation not permitted on root node")
	// ErrHasChildren is returned by a non-recursive delete of a node with children
	ErrHasChildren = errors.New("node has children")
	// ErrCycle is returned when relocating a node below itself
	ErrCycle = errors.New("node would become its own ancestor")
)

// Record is one node as the server stores it
type Record struct {
	OID          string        `json:"oid" yaml:"oid"`
	TypeID       schema.TypeID `json:"type" yaml:"type"`
	ParentOID    string        `json:"parent" yaml:"parent"`
	Data         []any         `json:"data" yaml:"data"`
	Associations []string      `json:"associations,omitempty" yaml:"associations,omitempty"`
	References   []string      `json:"references,omitempty" yaml:"references,omitempty"`
	CreatedAt    time.Time     `json:"created_at" yaml:"created_at"`
}

// FetchRequest selects records by OID
type FetchRequest struct {
	OIDs []string
	// MaxDepth is how many levels of descendants to include, 0 for the
	// requested nodes only, Unlimited for whole subtrees
	MaxDepth            int
	IncludeParents      bool
	IncludeAssociations bool
	IncludeReferences   bool
}

// Page is one page of fetch results
type Page struct {
	Records []Record
	Next    string
}

// SearchRequest describes a server-side search below StartOID
type SearchRequest struct {
	StartOID string
	Pattern  string
	// AttrLimit restricts attribute matches to attributes with these names
	AttrLimit    []string
	Include      []string
	Exclude      []string
	NoMatchBreak bool
}

// SearchPage is one page of search results. Records hold the matched
// nodes along with their ancestor chains; OIDs lists only the matches.
type SearchPage struct {
	Records []Record
	OIDs    []string
	Next    string
}

// DeleteOptions are the flags of a delete call
type DeleteOptions struct {
	// Recursive deletes the whole subtree; otherwise children are moved
	// up to the deleted node's parent
	Recursive bool
	// PruneLinked also deletes linked nodes left without any links
	PruneLinked bool
}

// Repository defines the operations the client core consumes
type Repository interface {
	// Write operations
	Create(ctx context.Context, parentOID string, typeID schema.TypeID, fields []any) (string, error)
	Delete(ctx context.Context, oid string, opts DeleteOptions) error
	Relocate(ctx context.Context, oid, newParentOID string) error
	UpdateField(ctx context.Context, oid string, index int, value any) error

	// Links
	Link(ctx context.Context, fromOID, toOID string) error
	Unlink(ctx context.Context, fromOID, toOID string) error

	// Read operations
	Fetch(ctx context.Context, req FetchRequest) (Page, error)
	FetchNext(ctx context.Context, cursor string) (Page, error)
	Search(ctx context.Context, req SearchRequest) (SearchPage, error)
	SearchNext(ctx context.Context, cursor string) (SearchPage, error)

	// Close releases resources
	Close() error
}
