package kinds

import (
	"context"
	"fmt"

	"ipamclient/internal/schema"
	"ipamclient/internal/store"
)

// DefaultTreeName names the device and password trees AddView creates
const DefaultTreeName = "default"

// AddView commits a view named name below the view tree, together with
// an ipv4 and an ipv6 network tree, a device tree and a password tree.
// A failure part way leaves the pieces committed so far in place.
func AddView(ctx context.Context, viewTree *store.Node, name string) (*store.Node, error) {
	if viewTree.TypeID() != ViewTree {
		return nil, fmt.Errorf("add view: %s is not the view tree", viewTree.Describe())
	}
	view, err := viewTree.CommitChild(ctx, View)
	if err != nil {
		return nil, err
	}
	if _, err := SetAttribute(ctx, view, "name", TypeText, name); err != nil {
		return view, err
	}

	for _, protocol := range []string{ProtocolIPv4, ProtocolIPv6} {
		nt, err := view.CommitChild(ctx, NetworkTree, protocol)
		if err != nil {
			return view, err
		}
		if _, err := SetAttribute(ctx, nt, "name", TypeText, protocol); err != nil {
			return view, err
		}
	}
	for _, id := range []schema.TypeID{DeviceTree, PasswordTree} {
		tree, err := view.CommitChild(ctx, id)
		if err != nil {
			return view, err
		}
		if _, err := SetAttribute(ctx, tree, "name", TypeText, DefaultTreeName); err != nil {
			return view, err
		}
	}
	return view, nil
}

// ViewByName returns the view called name, or nil
func ViewByName(ctx context.Context, viewTree *store.Node, name string) (*store.Node, error) {
	return viewTree.ChildByName(ctx, name, store.Include(string(View)))
}

// DeviceTreeOf returns the first device tree of a view, or nil
func DeviceTreeOf(ctx context.Context, view *store.Node) (*store.Node, error) {
	trees, err := view.ListChildren(ctx, store.Include(string(DeviceTree)))
	if err != nil || len(trees) == 0 {
		return nil, err
	}
	return trees[0], nil
}
