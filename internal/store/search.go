package store

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"ipamclient/internal/filter"
	"ipamclient/internal/repository"
	"ipamclient/internal/schema"
	"ipamclient/internal/walk"
)

// Search runs a server side search below n. Records that come back with
// the results are mirrored, and the matches are returned sorted unless
// Sorted(false) is given.
func (n *Node) Search(ctx context.Context, pattern string, opts ...QueryOption) ([]*Node, error) {
	if err := n.committed(); err != nil {
		return nil, err
	}
	cfg := newQueryConfig(false, true, opts)

	page, err := n.store.repo.Search(ctx, repository.SearchRequest{
		StartOID:     n.oid,
		Pattern:      pattern,
		AttrLimit:    cfg.attrLimit,
		Include:      cfg.include,
		Exclude:      cfg.exclude,
		NoMatchBreak: cfg.noMatchBreak,
	})
	if err != nil {
		return nil, remoteError("search", n.oid, err)
	}

	var oids []string
	for {
		n.store.LoadBatch(page.Records, false)
		oids = append(oids, page.OIDs...)
		if page.Next == "" {
			break
		}
		if page, err = n.store.repo.SearchNext(ctx, page.Next); err != nil {
			return nil, remoteError("search", n.oid, err)
		}
	}

	nodes, err := n.store.collect(ctx, oids)
	if err != nil {
		return nil, err
	}
	return walk.List(slices.Values(nodes), filter.All(), cfg.sorted), nil
}

// LocalSearch matches a case-insensitive regular expression against the
// mirrored tree below n without contacting the repository. Text
// attributes match on their value and report the node owning them;
// addressed nodes (networks) match on their address.
func (n *Node) LocalSearch(pattern string, opts ...QueryOption) ([]*Node, error) {
	if err := n.alive(); err != nil {
		return nil, err
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("local search %q: %w", pattern, err)
	}
	cfg := newQueryConfig(true, false, opts)
	result := cfg.filter()

	var found []*Node
	seen := make(map[*Node]bool)
	add := func(m *Node) {
		if m != nil && !seen[m] && result.Matches(m) {
			seen[m] = true
			found = append(found, m)
		}
	}

	walker := filter.New(nil, cfg.exclude, cfg.noMatchBreak)
	for m := range walk.Nodes(n, walk.Options{IncludeRoot: cfg.includeSelf, MaxDepth: walk.Unlimited, Filter: walker}) {
		switch p := m.payload.(type) {
		case schema.Attribute:
			if len(cfg.attrLimit) > 0 && !slices.Contains(cfg.attrLimit, p.AttributeName()) {
				continue
			}
			if p.AttributeType() != "text" {
				continue
			}
			if s, ok := p.AttributeValue().(string); ok && re.MatchString(s) {
				add(m.owner())
			}
		case schema.Addressed:
			if re.MatchString(p.AddressString()) {
				add(m)
			}
		}
	}
	return found, nil
}

// owner returns the nearest ancestor that is not an attribute
func (n *Node) owner() *Node {
	m := n.parent
	for m != nil {
		if _, ok := m.payload.(schema.Attribute); !ok {
			return m
		}
		m = m.parent
	}
	return nil
}

// Attributes returns the payloads of the attribute children of n
func (n *Node) Attributes() []schema.Attribute {
	var attrs []schema.Attribute
	for _, child := range n.children {
		if a, ok := child.payload.(schema.Attribute); ok {
			attrs = append(attrs, a)
		}
	}
	return attrs
}

// AttributeNode returns the attribute child called name. An exact match
// wins over a case-insensitive one.
func (n *Node) AttributeNode(name string) *Node {
	var fold *Node
	for _, child := range n.children {
		a, ok := child.payload.(schema.Attribute)
		if !ok {
			continue
		}
		if a.AttributeName() == name {
			return child
		}
		if fold == nil && strings.EqualFold(a.AttributeName(), name) {
			fold = child
		}
	}
	return fold
}

// Attribute returns the value of the attribute child called name
func (n *Node) Attribute(name string) (any, bool) {
	child := n.AttributeNode(name)
	if child == nil {
		return nil, false
	}
	return child.payload.(schema.Attribute).AttributeValue(), true
}

// Name returns the "name" attribute, or "" if there is none
func (n *Node) Name() string {
	v, ok := n.Attribute("name")
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
