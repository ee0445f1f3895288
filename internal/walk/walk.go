// Package walk implements depth-first traversal over in-memory trees.
//
// The walkers never mutate the tree. Sorted traversal works on sorted
// copies of each child list, and every walker snapshots a child list
// before descending into it, so nodes may be purged or relocated by the
// consumer while a walk is in progress.
package walk

import (
	"iter"
	"slices"

	"ipamclient/internal/filter"
)

// Unlimited disables the depth limit
const Unlimited = -1

// Tree is the view of a node the walkers need
type Tree[N any] interface {
	filter.Typed
	Children() []N
	SortClass() string
	Less(other N) bool
}

// Options control a depth-first walk
type Options struct {
	// IncludeRoot yields the root itself (subject to the filter) at depth 0
	IncludeRoot bool
	// MaxDepth limits how deep the walk goes. When the root is included
	// its children are at depth 1, otherwise at depth 0. Unlimited (-1)
	// disables the limit.
	MaxDepth int
	Filter   filter.Filter
	// Sorted visits children grouped by sort class, see SortByClass
	Sorted bool
}

type frame[N any] struct {
	nodes []N
	next  int
}

// DepthFirst walks the tree in pre-order and yields (depth, node) for
// every node the filter matches. Nodes classified as filter.Prune have
// their subtree skipped.
func DepthFirst[N Tree[N]](root N, opts Options) iter.Seq2[int, N] {
	return func(yield func(int, N) bool) {
		depth := 0
		if opts.IncludeRoot {
			res := opts.Filter.Classify(root)
			if res == filter.Prune {
				return
			}
			if res == filter.Match && !yield(depth, root) {
				return
			}
			depth++
		}
		if opts.MaxDepth != Unlimited && depth > opts.MaxDepth {
			return
		}

		stack := []frame[N]{{nodes: childrenOf(root, opts.Sorted)}}
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next >= len(top.nodes) {
				stack = stack[:len(stack)-1]
				depth--
				continue
			}
			node := top.nodes[top.next]
			top.next++

			res := opts.Filter.Classify(node)
			if res == filter.Match && !yield(depth, node) {
				return
			}
			if res == filter.Prune {
				continue
			}
			if opts.MaxDepth != Unlimited && depth >= opts.MaxDepth {
				continue
			}
			if kids := childrenOf(node, opts.Sorted); len(kids) > 0 {
				stack = append(stack, frame[N]{nodes: kids})
				depth++
			}
		}
	}
}

// Nodes drops the depth from a DepthFirst walk
func Nodes[N Tree[N]](root N, opts Options) iter.Seq[N] {
	return func(yield func(N) bool) {
		for _, n := range DepthFirst(root, opts) {
			if !yield(n) {
				return
			}
		}
	}
}

type reverseFrame[N any] struct {
	node N
	kids []N
	next int
}

// Reverse walks the tree in post-order: every node is yielded after all
// of its descendants, so the deepest nodes come first. The root is
// yielded last when includeRoot is set.
func Reverse[N Tree[N]](root N, includeRoot bool) iter.Seq[N] {
	return func(yield func(N) bool) {
		stack := []reverseFrame[N]{{node: root, kids: root.Children()}}
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next < len(top.kids) {
				child := top.kids[top.next]
				top.next++
				stack = append(stack, reverseFrame[N]{node: child, kids: child.Children()})
				continue
			}

			done := stack[len(stack)-1].node
			stack = stack[:len(stack)-1]
			if len(stack) == 0 && !includeRoot {
				return
			}
			if !yield(done) {
				return
			}
		}
	}
}

// SortByClass groups nodes by sort class, in the order each class is first
// seen, and stable-sorts every group by natural order. Nodes of different
// classes are never compared. The input slice is left untouched.
func SortByClass[N Tree[N]](nodes []N) []N {
	var order []string
	groups := make(map[string][]N)
	for _, n := range nodes {
		class := n.SortClass()
		if _, ok := groups[class]; !ok {
			order = append(order, class)
		}
		groups[class] = append(groups[class], n)
	}

	sorted := make([]N, 0, len(nodes))
	for _, class := range order {
		group := groups[class]
		slices.SortStableFunc(group, compare[N])
		sorted = append(sorted, group...)
	}
	return sorted
}

// List collects the entries the filter matches, optionally sorted by
// natural order.
func List[N Tree[N]](entries iter.Seq[N], f filter.Filter, sorted bool) []N {
	var out []N
	for n := range entries {
		if f.Matches(n) {
			out = append(out, n)
		}
	}
	if sorted {
		slices.SortStableFunc(out, compare[N])
	}
	return out
}

func compare[N Tree[N]](a, b N) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	default:
		return 0
	}
}

func childrenOf[N Tree[N]](n N, sorted bool) []N {
	kids := n.Children()
	if sorted && len(kids) > 1 {
		return SortByClass(kids)
	}
	return kids
}
