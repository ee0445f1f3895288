// Package filter classifies nodes by type during traversal.
package filter

import "ipamclient/internal/schema"

// Result is the outcome of classifying a node
type Result int

const (
	// Prune means no match, and the node's subtree is skipped
	Prune Result = -1
	// NoMatch means the node is not yielded but its children are visited
	NoMatch Result = 0
	// Match means the node is yielded
	Match Result = 1
)

func (r Result) String() string {
	switch r {
	case Match:
		return "match"
	case NoMatch:
		return "no-match"
	case Prune:
		return "prune"
	default:
		return "unknown"
	}
}

// Typed is anything with a type-id and a type name
type Typed interface {
	TypeID() schema.TypeID
	TypeName() string
}

// Filter is an immutable include/exclude rule set. Entries match either
// the type-id or the type name of a node. The zero value matches everything.
type Filter struct {
	include      map[string]struct{}
	exclude      map[string]struct{}
	noMatchBreak bool
}

// New builds a filter. An empty include list includes everything not
// excluded; exclude wins over include. With noMatchBreak, nodes that do
// not match prune their subtree.
func New(include, exclude []string, noMatchBreak bool) Filter {
	return Filter{
		include:      toSet(include),
		exclude:      toSet(exclude),
		noMatchBreak: noMatchBreak,
	}
}

// All returns a filter that matches every node
func All() Filter {
	return Filter{}
}

// Classify runs a node through the filter rules
func (f Filter) Classify(n Typed) Result {
	miss := NoMatch
	if f.noMatchBreak {
		miss = Prune
	}

	if f.has(f.exclude, n) {
		return miss
	}
	if len(f.include) == 0 || f.has(f.include, n) {
		return Match
	}
	return miss
}

// Matches is shorthand for Classify(n) == Match
func (f Filter) Matches(n Typed) bool {
	return f.Classify(n) == Match
}

// NoMatchBreak reports whether misses prune subtrees
func (f Filter) NoMatchBreak() bool {
	return f.noMatchBreak
}

func (f Filter) has(set map[string]struct{}, n Typed) bool {
	if len(set) == 0 {
		return false
	}
	if _, ok := set[string(n.TypeID())]; ok {
		return true
	}
	_, ok := set[n.TypeName()]
	return ok
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
