package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"ipamclient/internal/repository"
	"ipamclient/internal/schema"
	"ipamclient/internal/walk"
)

// State is the lifecycle state of a node
type State int

const (
	// Pending nodes exist locally and have no OID yet
	Pending State = iota
	// Committed nodes have an OID and are in the identity map
	Committed
	// Purged nodes are detached and reject every operation
	Purged
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Committed:
		return "committed"
	case Purged:
		return "purged"
	default:
		return "unknown"
	}
}

// Node is one mirrored object. A node owns its children; the parent and
// store fields are back-references. Child and link slices are replaced,
// never modified in place, so a slice handed to a traversal stays stable.
type Node struct {
	oid     string
	desc    *schema.Descriptor
	payload schema.Payload

	parent   *Node
	store    *Store
	children []*Node

	associations []string
	references   []string

	created         time.Time
	fetchedChildren bool
	state           State
}

// OID returns the object id, empty while the node is pending
func (n *Node) OID() string { return n.oid }

// TypeID returns the registered type-id
func (n *Node) TypeID() schema.TypeID { return n.desc.ID }

// TypeName returns the human readable type name
func (n *Node) TypeName() string { return n.desc.Name }

// SortClass groups siblings that can be ordered against each other
func (n *Node) SortClass() string { return n.desc.SortClass }

// Payload returns the type specific state
func (n *Node) Payload() schema.Payload { return n.payload }

// Parent returns the parent node, nil for the root and purged nodes
func (n *Node) Parent() *Node { return n.parent }

// Store returns the owning store
func (n *Node) Store() *Store { return n.store }

// Created returns the server side creation time. A node committed in this
// session carries the local commit time until it is reloaded, since the
// repository only answers a create with the new OID.
func (n *Node) Created() time.Time { return n.created }

// State returns the lifecycle state
func (n *Node) State() State { return n.state }

// FetchedChildren reports whether direct children were ever requested
func (n *Node) FetchedChildren() bool { return n.fetchedChildren }

// Children returns a copy of the mirrored children in insertion order
func (n *Node) Children() []*Node { return slices.Clone(n.children) }

// AssociationOIDs returns the outgoing link ids
func (n *Node) AssociationOIDs() []string { return slices.Clone(n.associations) }

// ReferenceOIDs returns the incoming link ids
func (n *Node) ReferenceOIDs() []string { return slices.Clone(n.references) }

// IsRoot reports whether n is the store's synthetic root
func (n *Node) IsRoot() bool { return n.store != nil && n.store.root == n }

// Describe returns "type:oid:name"
func (n *Node) Describe() string {
	return fmt.Sprintf("%s:%s:%s", n.desc.Name, n.oid, n.Name())
}

func (n *Node) String() string {
	return n.Describe()
}

// Less is the natural order of nodes. Within a sort class, payloads that
// implement schema.Comparer decide; otherwise nodes are ordered by name,
// case-insensitively, and unnamed nodes by type name.
func (n *Node) Less(other *Node) bool {
	if n.SortClass() == other.SortClass() {
		if c, ok := n.payload.(schema.Comparer); ok {
			if cmp, ok := c.Compare(other.payload); ok {
				return cmp < 0
			}
		}
	}
	mine, theirs := n.Name(), other.Name()
	if mine != "" && theirs != "" {
		return strings.ToLower(mine) < strings.ToLower(theirs)
	}
	return n.TypeName() < other.TypeName()
}

// Record returns the node as a repository record
func (n *Node) Record() repository.Record {
	rec := repository.Record{
		OID:          n.oid,
		TypeID:       n.desc.ID,
		Data:         slices.Clone(n.payload.Fields()),
		Associations: slices.Clone(n.associations),
		References:   slices.Clone(n.references),
		CreatedAt:    n.created,
	}
	if n.parent != nil {
		rec.ParentOID = n.parent.oid
	}
	return rec
}

func (n *Node) alive() error {
	if n.state == Purged {
		return ErrPurged
	}
	return nil
}

func (n *Node) committed() error {
	if err := n.alive(); err != nil {
		return err
	}
	if n.state != Committed {
		return fmt.Errorf("%s: %w", n.desc.Name, ErrNotCommitted)
	}
	return nil
}

// newChild checks containment and instantiates a detached pending child
func (n *Node) newChild(id schema.TypeID, args ...any) (*Node, error) {
	if err := n.alive(); err != nil {
		return nil, err
	}
	desc, ok := n.store.reg.Lookup(id)
	if !ok {
		return nil, schema.UnknownTypeError(id)
	}
	if !n.store.reg.IsValidChild(n.desc.ID, id) {
		return nil, schema.InvalidChildError(n.desc.ID, id)
	}
	payload, err := n.store.reg.New(id, args...)
	if err != nil {
		return nil, err
	}
	return &Node{
		desc:    desc,
		payload: payload,
		parent:  n,
		store:   n.store,
		state:   Pending,
	}, nil
}

// CreateChild instantiates a pending child and attaches it locally. The
// repository is not contacted and no OID is assigned.
func (n *Node) CreateChild(id schema.TypeID, args ...any) (*Node, error) {
	child, err := n.newChild(id, args...)
	if err != nil {
		return nil, err
	}
	n.attach(child)
	return child, nil
}

// CommitChild creates a child and commits it to the repository. Either
// the child ends up committed and mapped, or it is purged and an error
// is returned.
func (n *Node) CommitChild(ctx context.Context, id schema.TypeID, args ...any) (*Node, error) {
	if err := n.committed(); err != nil {
		return nil, err
	}
	child, err := n.CreateChild(id, args...)
	if err != nil {
		return nil, err
	}
	if err := child.commit(ctx); err != nil {
		child.purge()
		return nil, err
	}
	return child, nil
}

// CommitChildByName is CommitChild with a type name instead of a type-id
func (n *Node) CommitChildByName(ctx context.Context, name string, args ...any) (*Node, error) {
	id, ok := n.store.reg.IDForName(name)
	if !ok {
		return nil, fmt.Errorf("type name %q: %w", name, schema.ErrUnknownType)
	}
	return n.CommitChild(ctx, id, args...)
}

func (n *Node) commit(ctx context.Context) error {
	fields := n.payload.Fields()
	if len(fields) != n.desc.Arity {
		return &MalformedRecordError{TypeID: n.desc.ID, Want: n.desc.Arity, Got: len(fields)}
	}
	if v, ok := n.payload.(schema.Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("validate %s: %w", n.desc.Name, err)
		}
	}

	oid, err := n.store.repo.Create(ctx, n.parent.oid, n.desc.ID, fields)
	if err != nil {
		return remoteError("create", n.parent.oid, err)
	}

	n.oid = oid
	if err := n.store.register(n); err != nil {
		n.oid = ""
		return err
	}
	// local until the next reload replaces it with the stored time
	n.created = time.Now()
	n.state = Committed
	return nil
}

// LoadChild hydrates a child from a server record. Containment and arity
// are checked before anything is attached. The OID is mapped before the
// payload loads, so the payload can resolve nodes loaded earlier; if
// loading fails the child is unmapped and purged.
func (n *Node) LoadChild(rec repository.Record) (*Node, error) {
	if err := n.alive(); err != nil {
		return nil, err
	}
	if rec.OID == "" {
		return nil, &MalformedRecordError{TypeID: rec.TypeID, Got: len(rec.Data)}
	}
	if n.store.nodes[rec.OID] != nil {
		return nil, fmt.Errorf("load %s: %w", rec.OID, ErrDuplicateOID)
	}

	child, err := n.newChild(rec.TypeID)
	if err != nil {
		return nil, err
	}
	if len(rec.Data) != child.desc.Arity {
		return nil, &MalformedRecordError{OID: rec.OID, TypeID: rec.TypeID, Want: child.desc.Arity, Got: len(rec.Data)}
	}

	n.attach(child)
	child.oid = rec.OID
	if err := n.store.register(child); err != nil {
		child.purge()
		return nil, err
	}

	if err := child.hydrate(rec, child.payload); err != nil {
		child.purge()
		return nil, fmt.Errorf("load %s: %w", rec.OID, err)
	}
	child.state = Committed
	return child, nil
}

func (n *Node) hydrate(rec repository.Record, payload schema.Payload) error {
	if err := payload.Load(slices.Clone(rec.Data), n.store); err != nil {
		return err
	}
	n.payload = payload
	oldAssoc, oldRefs := n.associations, n.references
	n.associations = slices.Clone(rec.Associations)
	n.references = slices.Clone(rec.References)
	n.mirrorLinks(oldAssoc, oldRefs)
	n.created = rec.CreatedAt
	return nil
}

// mirrorLinks brings the far end of every mirrored link in line with n's
// current lists: links n gained are added there, links n lost are removed.
func (n *Node) mirrorLinks(oldAssoc, oldRefs []string) {
	s := n.store
	for _, oid := range oldAssoc {
		if other := s.nodes[oid]; other != nil && !slices.Contains(n.associations, oid) {
			other.references = without(other.references, n.oid)
		}
	}
	for _, oid := range oldRefs {
		if other := s.nodes[oid]; other != nil && !slices.Contains(n.references, oid) {
			other.associations = without(other.associations, n.oid)
		}
	}
	for _, oid := range n.associations {
		if other := s.nodes[oid]; other != nil && !slices.Contains(other.references, n.oid) {
			other.references = append(slices.Clone(other.references), n.oid)
		}
	}
	for _, oid := range n.references {
		if other := s.nodes[oid]; other != nil && !slices.Contains(other.associations, n.oid) {
			other.associations = append(slices.Clone(other.associations), n.oid)
		}
	}
}

// reload refreshes a mirrored node in place from a newer record. The
// parent is not changed; use Relocate for moves.
func (n *Node) reload(rec repository.Record) error {
	if rec.TypeID != n.desc.ID {
		return fmt.Errorf("reload %s as %s: %w", n.desc.ID, rec.TypeID, ErrMalformedRecord)
	}
	if len(rec.Data) != n.desc.Arity {
		return &MalformedRecordError{OID: rec.OID, TypeID: rec.TypeID, Want: n.desc.Arity, Got: len(rec.Data)}
	}
	payload, err := n.store.reg.New(n.desc.ID)
	if err != nil {
		return err
	}
	return n.hydrate(rec, payload)
}

// SetField updates one positional field: the new value is validated
// locally, written to the repository and then applied to the payload.
func (n *Node) SetField(ctx context.Context, index int, value any) error {
	if err := n.committed(); err != nil {
		return err
	}
	fields := slices.Clone(n.payload.Fields())
	if index < 0 || index >= len(fields) {
		return fmt.Errorf("set field %d of %s: index out of range", index, n.desc.Name)
	}
	fields[index] = value

	payload, err := n.store.reg.New(n.desc.ID)
	if err != nil {
		return err
	}
	if err := payload.Load(fields, n.store); err != nil {
		return fmt.Errorf("set field %d of %s: %w", index, n.desc.Name, err)
	}
	if v, ok := payload.(schema.Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("validate %s: %w", n.desc.Name, err)
		}
	}

	if err := n.store.repo.UpdateField(ctx, n.oid, index, value); err != nil {
		return remoteError("update", n.oid, err)
	}
	n.payload = payload
	return nil
}

// Delete deletes the node from the repository, recursively unless
// NonRecursive is given, and then purges it and its mirrored subtree.
// Pending nodes are only purged.
func (n *Node) Delete(ctx context.Context, opts ...DeleteOption) error {
	if err := n.alive(); err != nil {
		return err
	}
	if n.IsRoot() {
		return fmt.Errorf("delete: %w", ErrRootOperation)
	}
	if n.state == Pending {
		n.purge()
		return nil
	}

	o := repository.DeleteOptions{Recursive: true}
	for _, opt := range opts {
		opt(&o)
	}

	var linked []*Node
	if o.PruneLinked {
		linked = n.linkedOutside()
	}

	if err := n.store.repo.Delete(ctx, n.oid, o); err != nil {
		return remoteError("delete", n.oid, err)
	}
	n.purge()

	for _, l := range linked {
		if l.state != Purged && !l.IsRoot() && len(l.associations) == 0 && len(l.references) == 0 {
			l.purge()
		}
	}
	return nil
}

// linkedOutside returns mirrored nodes linked to the subtree of n that
// are not part of it
func (n *Node) linkedOutside() []*Node {
	inside := make(map[*Node]bool)
	for m := range walk.Reverse(n, true) {
		inside[m] = true
	}
	var out []*Node
	seen := make(map[*Node]bool)
	for m := range inside {
		for _, oid := range slices.Concat(m.associations, m.references) {
			l := n.store.nodes[oid]
			if l != nil && !inside[l] && !seen[l] {
				seen[l] = true
				out = append(out, l)
			}
		}
	}
	return out
}

// purge removes the node and its subtree from the mirror, deepest first
func (n *Node) purge() {
	for m := range walk.Reverse(n, true) {
		m.detach()
	}
}

func (n *Node) detach() {
	s := n.store
	if n.oid != "" {
		s.deregister(n)
		for _, oid := range n.associations {
			if other := s.nodes[oid]; other != nil {
				other.references = without(other.references, n.oid)
			}
		}
		for _, oid := range n.references {
			if other := s.nodes[oid]; other != nil {
				other.associations = without(other.associations, n.oid)
			}
		}
	}
	if n.parent != nil {
		n.parent.children = slices.DeleteFunc(slices.Clone(n.parent.children), func(c *Node) bool { return c == n })
	}
	n.parent = nil
	n.children = nil
	n.associations = nil
	n.references = nil
	n.state = Purged
}

// Relocate moves the node under newParent, first in the repository, then
// locally in a single step.
func (n *Node) Relocate(ctx context.Context, newParent *Node) error {
	if err := n.committed(); err != nil {
		return err
	}
	if err := newParent.committed(); err != nil {
		return err
	}
	if n.IsRoot() {
		return fmt.Errorf("relocate: %w", ErrRootOperation)
	}
	if newParent == n.parent {
		return nil
	}
	if !n.store.reg.IsValidChild(newParent.desc.ID, n.desc.ID) {
		return schema.InvalidChildError(newParent.desc.ID, n.desc.ID)
	}
	for p := newParent; p != nil; p = p.parent {
		if p == n {
			return fmt.Errorf("relocate %s below itself: %w", n.oid, ErrInvalidRelocation)
		}
	}

	if err := n.store.repo.Relocate(ctx, n.oid, newParent.oid); err != nil {
		return remoteError("relocate", n.oid, err)
	}

	old := n.parent
	oldChildren := slices.DeleteFunc(slices.Clone(old.children), func(c *Node) bool { return c == n })
	newChildren := append(slices.Clone(newParent.children), n)
	old.children, newParent.children, n.parent = oldChildren, newChildren, newParent
	return nil
}

// Ancestor returns the nearest ancestor whose type-id or type name is
// typ, or nil. The root is the last node considered.
func (n *Node) Ancestor(typ string, includeSelf bool) *Node {
	m := n.parent
	if includeSelf {
		m = n
	}
	for ; m != nil; m = m.parent {
		if string(m.desc.ID) == typ || m.desc.Name == typ {
			return m
		}
	}
	return nil
}

func (n *Node) attach(child *Node) {
	n.children = append(slices.Clone(n.children), child)
}

func without(oids []string, oid string) []string {
	return slices.DeleteFunc(slices.Clone(oids), func(o string) bool { return o == oid })
}
