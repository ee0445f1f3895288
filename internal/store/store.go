package store

import (
	"context"
	"fmt"
	"iter"
	"log"
	"slices"

	"ipamclient/internal/repository"
	"ipamclient/internal/schema"
)

// DefaultRootOID is the OID of the synthetic root node
const DefaultRootOID = "0"

// Store is the per-session mirror of the remote object tree. It owns the
// identity map: at most one *Node exists per OID.
//
// A Store is not safe for concurrent use.
type Store struct {
	repo    repository.Repository
	reg     *schema.Registry
	log     *log.Logger
	rootOID string
	root    *Node
	nodes   map[string]*Node
	// oids a fetch asked for and did not get back
	unresolved map[string]bool
}

// New creates a store on top of a connected repository. The registry is
// frozen; its root type becomes the type of the synthetic root node.
func New(repo repository.Repository, reg *schema.Registry, opts ...Option) (*Store, error) {
	s := &Store{
		repo:       repo,
		reg:        reg,
		log:        log.Default(),
		rootOID:    DefaultRootOID,
		nodes:      make(map[string]*Node),
		unresolved: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}

	rootType := reg.Root()
	if rootType == "" {
		return nil, fmt.Errorf("registry has no root type")
	}
	reg.Freeze()

	desc, ok := reg.Lookup(rootType)
	if !ok {
		return nil, schema.UnknownTypeError(rootType)
	}
	payload, err := reg.New(rootType)
	if err != nil {
		return nil, fmt.Errorf("create root: %w", err)
	}

	s.root = &Node{
		oid:     s.rootOID,
		desc:    desc,
		payload: payload,
		store:   s,
		state:   Committed,
	}
	s.nodes[s.rootOID] = s.root

	return s, nil
}

// Root returns the synthetic root node
func (s *Store) Root() *Node {
	return s.root
}

// Registry returns the frozen schema registry
func (s *Store) Registry() *schema.Registry {
	return s.reg
}

// Repository returns the remote collaborator
func (s *Store) Repository() repository.Repository {
	return s.repo
}

// Len returns the number of mirrored nodes, the root included
func (s *Store) Len() int {
	return len(s.nodes)
}

// GetOID looks up a mirrored node. It never contacts the repository.
func (s *Store) GetOID(oid string) *Node {
	return s.nodes[oid]
}

// Resolve implements schema.Resolver over the identity map
func (s *Store) Resolve(oid string) (schema.Payload, bool) {
	n := s.nodes[oid]
	if n == nil {
		return nil, false
	}
	return n.payload, true
}

// GetOIDs yields the nodes for oids in order. On the first iteration any
// OIDs not yet mirrored are fetched in one batch, along with their
// ancestors and links; later iterations are served from the mirror. OIDs
// the repository does not know are dropped and remembered, so they are
// not asked for again. A fetch failure is yielded as a single error.
func (s *Store) GetOIDs(ctx context.Context, oids []string) iter.Seq2[*Node, error] {
	fetched := false
	return func(yield func(*Node, error) bool) {
		if !fetched {
			if err := s.fetchMissing(ctx, oids); err != nil {
				yield(nil, err)
				return
			}
			fetched = true
		}
		for _, oid := range oids {
			if n := s.nodes[oid]; n != nil {
				if !yield(n, nil) {
					return
				}
			}
		}
	}
}

func (s *Store) fetchMissing(ctx context.Context, oids []string) error {
	var missing []string
	for _, oid := range oids {
		if s.nodes[oid] == nil && !s.unresolved[oid] && !slices.Contains(missing, oid) {
			missing = append(missing, oid)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	req := repository.FetchRequest{
		OIDs:                missing,
		IncludeParents:      true,
		IncludeAssociations: true,
		IncludeReferences:   true,
	}
	if err := s.fetch(ctx, "fetch", missing[0], req, false); err != nil {
		return err
	}
	for _, oid := range missing {
		if s.nodes[oid] == nil {
			s.unresolved[oid] = true
		}
	}
	return nil
}

// collect drains a GetOIDs sequence
func (s *Store) collect(ctx context.Context, oids []string) ([]*Node, error) {
	var nodes []*Node
	for n, err := range s.GetOIDs(ctx, oids) {
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// LoadBatch mirrors server records and returns how many were loaded or,
// with force, refreshed. It never fails: records that are malformed or
// not allowed under their parent are logged and skipped. A record whose
// parent is not mirrored is attached to the root.
func (s *Store) LoadBatch(records []repository.Record, force bool) int {
	loaded := 0
	for _, rec := range records {
		if rec.OID == "" {
			s.log.Printf("Skipping record without oid (type %s)", rec.TypeID)
			continue
		}

		if n := s.nodes[rec.OID]; n != nil {
			if !force {
				continue
			}
			if err := n.reload(rec); err != nil {
				s.log.Printf("Failed to reload %s: %v", rec.OID, err)
				continue
			}
			loaded++
			continue
		}

		parent := s.nodes[rec.ParentOID]
		if parent == nil {
			s.log.Printf("Parent %q of %s not mirrored, attaching to root", rec.ParentOID, rec.OID)
			parent = s.root
		}
		if !s.reg.IsValidChild(parent.TypeID(), rec.TypeID) {
			s.log.Printf("Skipping record %s: %v", rec.OID, schema.InvalidChildError(parent.TypeID(), rec.TypeID))
			continue
		}
		if _, err := parent.LoadChild(rec); err != nil {
			s.log.Printf("Skipping record %s: %v", rec.OID, err)
			continue
		}
		loaded++
	}
	return loaded
}

// fetch pages through a repository fetch, loading every page
func (s *Store) fetch(ctx context.Context, op, oid string, req repository.FetchRequest, force bool) error {
	page, err := s.repo.Fetch(ctx, req)
	if err != nil {
		return remoteError(op, oid, err)
	}
	for {
		s.LoadBatch(page.Records, force)
		if page.Next == "" {
			return nil
		}
		if page, err = s.repo.FetchNext(ctx, page.Next); err != nil {
			return remoteError(op, oid, err)
		}
	}
}

// Fetch fetches from the root
func (s *Store) Fetch(ctx context.Context, opts FetchOptions) error {
	return s.root.Fetch(ctx, opts)
}

// Search searches from the root
func (s *Store) Search(ctx context.Context, pattern string, opts ...QueryOption) ([]*Node, error) {
	return s.root.Search(ctx, pattern, opts...)
}

// LocalSearch searches the mirrored tree from the root
func (s *Store) LocalSearch(pattern string, opts ...QueryOption) ([]*Node, error) {
	return s.root.LocalSearch(pattern, opts...)
}

// Traverse walks the mirrored tree from the root
func (s *Store) Traverse(opts ...QueryOption) iter.Seq[*Node] {
	return s.root.Traverse(opts...)
}

func (s *Store) register(n *Node) error {
	if existing := s.nodes[n.oid]; existing != nil && existing != n {
		return fmt.Errorf("register %s: %w", n.oid, ErrDuplicateOID)
	}
	s.nodes[n.oid] = n
	delete(s.unresolved, n.oid)
	return nil
}

func (s *Store) deregister(n *Node) {
	if s.nodes[n.oid] == n {
		delete(s.nodes, n.oid)
	}
}
