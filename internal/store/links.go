package store

import (
	"context"
	"fmt"
	"slices"

	"ipamclient/internal/filter"
	"ipamclient/internal/walk"
)

// Associate links n to other. The association on n and the reference on
// other are recorded together once the repository accepts the link.
func (n *Node) Associate(ctx context.Context, other *Node) error {
	if err := n.committed(); err != nil {
		return err
	}
	if err := other.committed(); err != nil {
		return err
	}
	if n.IsAssociated(other) {
		return nil
	}

	if err := n.store.repo.Link(ctx, n.oid, other.oid); err != nil {
		return remoteError("associate", n.oid, err)
	}
	n.associations = append(slices.Clone(n.associations), other.oid)
	other.references = append(slices.Clone(other.references), n.oid)
	return nil
}

// Disassociate removes the association from n to other
func (n *Node) Disassociate(ctx context.Context, other *Node) error {
	if err := n.committed(); err != nil {
		return err
	}
	if err := other.committed(); err != nil {
		return err
	}
	if !n.IsAssociated(other) {
		return fmt.Errorf("disassociate %s from %s: %w", n.oid, other.oid, ErrNotLinked)
	}

	if err := n.store.repo.Unlink(ctx, n.oid, other.oid); err != nil {
		return remoteError("disassociate", n.oid, err)
	}
	n.associations = without(n.associations, other.oid)
	other.references = without(other.references, n.oid)
	return nil
}

// Unlink removes a link between n and other in whichever direction it
// exists
func (n *Node) Unlink(ctx context.Context, other *Node) error {
	switch {
	case n.IsAssociated(other):
		return n.Disassociate(ctx, other)
	case other.IsAssociated(n):
		return other.Disassociate(ctx, n)
	default:
		return fmt.Errorf("unlink %s and %s: %w", n.oid, other.oid, ErrNotLinked)
	}
}

// IsAssociated reports whether n has an outgoing link to other
func (n *Node) IsAssociated(other *Node) bool {
	return other.oid != "" && slices.Contains(n.associations, other.oid)
}

// IsLinked reports whether n and other are linked in either direction
func (n *Node) IsLinked(other *Node) bool {
	return n.IsAssociated(other) || other.IsAssociated(n)
}

// ListAssociations returns the nodes n links to. Links that no longer
// resolve are dropped.
func (n *Node) ListAssociations(ctx context.Context, opts ...QueryOption) ([]*Node, error) {
	return n.listLinked(ctx, n.associations, opts)
}

// ListReferences returns the nodes linking to n
func (n *Node) ListReferences(ctx context.Context, opts ...QueryOption) ([]*Node, error) {
	return n.listLinked(ctx, n.references, opts)
}

// ListLinks returns referencing and associated nodes, each once
func (n *Node) ListLinks(ctx context.Context, opts ...QueryOption) ([]*Node, error) {
	var oids []string
	for _, oid := range slices.Concat(n.references, n.associations) {
		if !slices.Contains(oids, oid) {
			oids = append(oids, oid)
		}
	}
	return n.listLinked(ctx, oids, opts)
}

func (n *Node) listLinked(ctx context.Context, oids []string, opts []QueryOption) ([]*Node, error) {
	if err := n.alive(); err != nil {
		return nil, err
	}
	cfg := newQueryConfig(false, true, opts)

	nodes, err := n.store.collect(ctx, oids)
	if err != nil {
		return nil, err
	}
	// link listings never prune
	f := filter.New(cfg.include, cfg.exclude, false)
	return walk.List(slices.Values(nodes), f, cfg.sorted), nil
}
