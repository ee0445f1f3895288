package store

import (
	"context"
	"iter"
	"reflect"

	"ipamclient/internal/walk"
)

// Traverse walks the mirrored subtree depth-first and yields matching
// nodes. The node itself is included unless IncludeSelf(false) is given.
// Traversal never contacts the repository.
func (n *Node) Traverse(opts ...QueryOption) iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		for _, m := range n.TraverseDepth(opts...) {
			if !yield(m) {
				return
			}
		}
	}
}

// TraverseDepth is Traverse paired with each node's depth
func (n *Node) TraverseDepth(opts ...QueryOption) iter.Seq2[int, *Node] {
	cfg := newQueryConfig(true, false, opts)
	return func(yield func(int, *Node) bool) {
		if n.state == Purged {
			return
		}
		walk.DepthFirst(n, walk.Options{
			IncludeRoot: cfg.includeSelf,
			MaxDepth:    cfg.maxDepth,
			Filter:      cfg.filter(),
			Sorted:      cfg.sorted,
		})(yield)
	}
}

// Fetch loads records from the repository into the store, starting at
// this node
func (n *Node) Fetch(ctx context.Context, opts FetchOptions) error {
	if err := n.committed(); err != nil {
		return err
	}
	if err := n.store.fetch(ctx, "fetch", n.oid, opts.request(n.oid), opts.Force); err != nil {
		return err
	}
	if opts.MaxDepth != 0 {
		n.fetchedChildren = true
	}
	return nil
}

// ListChildren returns the direct children, sorted unless Sorted(false)
// is given. Children that were never fetched are fetched first, unless
// NoFetch is given.
func (n *Node) ListChildren(ctx context.Context, opts ...QueryOption) ([]*Node, error) {
	if err := n.alive(); err != nil {
		return nil, err
	}
	cfg := newQueryConfig(false, true, opts)

	if !n.fetchedChildren && !cfg.noFetch && n.state == Committed {
		if err := n.Fetch(ctx, DefaultFetchOptions(1)); err != nil {
			return nil, err
		}
	}

	var children []*Node
	for _, child := range walk.DepthFirst(n, walk.Options{
		MaxDepth: 0,
		Filter:   cfg.filter(),
		Sorted:   cfg.sorted,
	}) {
		children = append(children, child)
	}
	return children, nil
}

// ChildByName returns the first listed child named name, or nil
func (n *Node) ChildByName(ctx context.Context, name string, opts ...QueryOption) (*Node, error) {
	children, err := n.listWithAttributes(ctx, opts)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		if child.Name() == name {
			return child, nil
		}
	}
	return nil, nil
}

// ChildByAttribute returns the first listed child with an attribute
// called attr holding value, or nil
func (n *Node) ChildByAttribute(ctx context.Context, attr string, value any, opts ...QueryOption) (*Node, error) {
	children, err := n.listWithAttributes(ctx, opts)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		for _, a := range child.Attributes() {
			if a.AttributeName() == attr && reflect.DeepEqual(a.AttributeValue(), value) {
				return child, nil
			}
		}
	}
	return nil, nil
}

// listWithAttributes lists children like ListChildren and makes sure their
// own children (and so their attributes) are mirrored. A single depth 2
// fetch covers every child that was never fetched.
func (n *Node) listWithAttributes(ctx context.Context, opts []QueryOption) ([]*Node, error) {
	children, err := n.ListChildren(ctx, opts...)
	if err != nil {
		return nil, err
	}
	cfg := newQueryConfig(false, true, opts)
	if cfg.noFetch || n.state != Committed {
		return children, nil
	}
	stale := false
	for _, child := range children {
		if !child.fetchedChildren {
			stale = true
			break
		}
	}
	if !stale {
		return children, nil
	}
	if err := n.Fetch(ctx, DefaultFetchOptions(2)); err != nil {
		return nil, err
	}
	for _, child := range n.children {
		child.fetchedChildren = true
	}
	return children, nil
}
