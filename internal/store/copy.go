package store

import (
	"context"
	"errors"
	"fmt"

	"ipamclient/internal/schema"
)

// Copy recreates n, its children and its links under target. Children
// are copied recursively; children whose type cannot be copied are
// skipped. Copying into the subtree of n fails with ErrUnsafeCopy.
func (n *Node) Copy(ctx context.Context, target *Node, opts CopyOptions) (*Node, error) {
	if err := n.committed(); err != nil {
		return nil, err
	}
	for t := target; t != nil; t = t.parent {
		if t == n {
			return nil, fmt.Errorf("copy %s into %s: %w", n.oid, target.oid, ErrUnsafeCopy)
		}
	}
	return n.copyTo(ctx, target, opts)
}

func (n *Node) copyTo(ctx context.Context, target *Node, opts CopyOptions) (*Node, error) {
	copier, ok := n.payload.(schema.Copier)
	if !ok {
		return nil, fmt.Errorf("copy %s: %w", n.desc.Name, ErrNotCopyable)
	}

	cp, err := target.CommitChild(ctx, n.desc.ID, copier.CopyArgs()...)
	if err != nil {
		return nil, err
	}

	children, err := n.ListChildren(ctx, Include(opts.IncludeNodes...), Exclude(opts.ExcludeNodes...))
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		if _, err := child.copyTo(ctx, cp, opts); err != nil && !errors.Is(err, ErrNotCopyable) {
			return nil, err
		}
	}

	links, err := n.ListLinks(ctx, Include(opts.IncludeLinks...), Exclude(opts.ExcludeLinks...))
	if err != nil {
		return nil, err
	}
	for _, link := range links {
		if err := cp.Associate(ctx, link); err != nil {
			return nil, err
		}
	}
	return cp, nil
}
