package kinds

import (
	"context"
	"fmt"
	"net/netip"

	"ipamclient/internal/schema"
	"ipamclient/internal/store"
)

// ConfigValuePayload is a named setting that applies to its parent and
// everything below it
type ConfigValuePayload struct {
	Name  string
	Value string
}

func newConfigValue(args ...any) (schema.Payload, error) {
	c := &ConfigValuePayload{}
	switch len(args) {
	case 0:
		return c, nil
	case 2:
		return c, c.Load(args, nil)
	default:
		return nil, errArgs(2, len(args))
	}
}

func (c *ConfigValuePayload) Fields() []any { return []any{c.Name, c.Value} }

func (c *ConfigValuePayload) Load(fields []any, _ schema.Resolver) error {
	name, err := stringArg(fields[0], "config name")
	if err != nil {
		return err
	}
	value, err := stringArg(fields[1], "config value")
	if err != nil {
		return err
	}
	c.Name, c.Value = name, value
	return nil
}

func (c *ConfigValuePayload) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: config value without name", ErrBadValue)
	}
	return nil
}

func (c *ConfigValuePayload) CopyArgs() []any { return c.Fields() }

// AutoassignPayload configures the address range devices below its parent
// get host networks from
type AutoassignPayload struct {
	NetworkTreeOID string
	Start          netip.Addr
	End            netip.Addr
}

func newAutoassign(args ...any) (schema.Payload, error) {
	a := &AutoassignPayload{}
	switch len(args) {
	case 0:
		return a, nil
	case 3:
		return a, a.Load(args, nil)
	default:
		return nil, errArgs(3, len(args))
	}
}

func (a *AutoassignPayload) Fields() []any {
	return []any{a.NetworkTreeOID, addrString(a.Start), addrString(a.End)}
}

func addrString(a netip.Addr) string {
	if !a.IsValid() {
		return ""
	}
	return a.String()
}

func (a *AutoassignPayload) Load(fields []any, _ schema.Resolver) error {
	tree, err := stringArg(fields[0], "network tree oid")
	if err != nil {
		return err
	}
	var addrs [2]netip.Addr
	for i, what := range []string{"range start", "range end"} {
		s, err := stringArg(fields[i+1], what)
		if err != nil {
			return err
		}
		if s == "" {
			continue
		}
		if addrs[i], err = netip.ParseAddr(s); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrBadValue, what, err)
		}
	}
	a.NetworkTreeOID, a.Start, a.End = tree, addrs[0], addrs[1]
	return nil
}

func (a *AutoassignPayload) Validate() error {
	if a.NetworkTreeOID == "" {
		return fmt.Errorf("%w: autoassign without network tree", ErrBadValue)
	}
	if !a.Start.IsValid() || !a.End.IsValid() {
		return fmt.Errorf("%w: autoassign range needs a start and an end", ErrBadValue)
	}
	if a.Start.BitLen() != a.End.BitLen() || a.End.Less(a.Start) {
		return fmt.Errorf("%w: invalid autoassign range %s", ErrBadValue, a.AddressString())
	}
	return nil
}

func (a *AutoassignPayload) AddressString() string {
	return addrString(a.Start) + " " + addrString(a.End)
}

func (a *AutoassignPayload) CopyArgs() []any { return a.Fields() }

// NearestConfig returns the first child of type typ found on n or its
// ancestors, or nil when there is none
func NearestConfig(ctx context.Context, n *store.Node, typ schema.TypeID) (*store.Node, error) {
	reg := n.Store().Registry()
	for ; n != nil; n = n.Parent() {
		if !reg.IsValidChild(n.TypeID(), typ) {
			continue
		}
		found, err := n.ListChildren(ctx, store.Include(string(typ)), store.Sorted(false))
		if err != nil {
			return nil, err
		}
		if len(found) > 0 {
			return found[0], nil
		}
	}
	return nil, nil
}

// LookupConfigValue returns the config value called name that applies to
// n: the one set on n itself or on its closest ancestor
func LookupConfigValue(ctx context.Context, n *store.Node, name string) (string, bool, error) {
	reg := n.Store().Registry()
	for ; n != nil; n = n.Parent() {
		if !reg.IsValidChild(n.TypeID(), ConfigValue) {
			continue
		}
		values, err := n.ListChildren(ctx, store.Include(string(ConfigValue)), store.Sorted(false))
		if err != nil {
			return "", false, err
		}
		for _, v := range values {
			if c := v.Payload().(*ConfigValuePayload); c.Name == name {
				return c.Value, true, nil
			}
		}
	}
	return "", false, nil
}
