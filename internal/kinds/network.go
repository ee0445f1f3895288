package kinds

import (
	"context"
	"fmt"
	"math/big"
	"net/netip"
	"slices"
	"strings"

	"ipamclient/internal/schema"
	"ipamclient/internal/store"
)

// Network tree protocols
const (
	ProtocolIPv4 = "ipv4"
	ProtocolIPv6 = "ipv6"
)

// NetworkTreePayload roots the networks of one address family
type NetworkTreePayload struct {
	Protocol string
}

func newNetworkTree(args ...any) (schema.Payload, error) {
	nt := &NetworkTreePayload{}
	if len(args) > 0 {
		p, err := stringArg(args[0], "protocol")
		if err != nil {
			return nil, err
		}
		nt.Protocol = p
	}
	return nt, nil
}

func (t *NetworkTreePayload) Fields() []any { return []any{t.Protocol} }

func (t *NetworkTreePayload) Load(fields []any, _ schema.Resolver) error {
	p, err := stringArg(fields[0], "protocol")
	if err != nil {
		return err
	}
	t.Protocol = p
	return nil
}

func (t *NetworkTreePayload) Validate() error {
	if t.Protocol != ProtocolIPv4 && t.Protocol != ProtocolIPv6 {
		return fmt.Errorf("%w: invalid protocol %q in network tree", ErrBadValue, t.Protocol)
	}
	return nil
}

func (t *NetworkTreePayload) CopyArgs() []any { return []any{t.Protocol} }

// networkType returns the network kind stored in the tree
func (t *NetworkTreePayload) networkType() schema.TypeID {
	if t.Protocol == ProtocolIPv6 {
		return IPv6Network
	}
	return IPv4Network
}

// NetworkPayload is a single ipv4 or ipv6 network. The prefix is always
// stored masked, so "10.1.2.3/8" becomes "10.0.0.0/8".
type NetworkPayload struct {
	Prefix netip.Prefix
	family int
}

func newNetwork(family int) schema.Constructor {
	return func(args ...any) (schema.Payload, error) {
		n := &NetworkPayload{family: family}
		if len(args) > 0 {
			if err := n.set(args[0]); err != nil {
				return nil, err
			}
		}
		return n, nil
	}
}

func (n *NetworkPayload) set(v any) error {
	var prefix netip.Prefix
	switch a := v.(type) {
	case netip.Prefix:
		prefix = a
	case string:
		p, err := ParsePrefix(a)
		if err != nil {
			return err
		}
		prefix = p
	default:
		return fmt.Errorf("%w: network address must be a string, got %T", ErrBadValue, v)
	}
	if familyOf(prefix.Addr()) != n.family {
		return fmt.Errorf("%w: %s is not an ipv%d network", ErrBadValue, prefix, n.family)
	}
	n.Prefix = prefix.Masked()
	return nil
}

func (n *NetworkPayload) Fields() []any {
	if !n.Prefix.IsValid() {
		return []any{""}
	}
	return []any{n.Prefix.String()}
}

func (n *NetworkPayload) Load(fields []any, _ schema.Resolver) error {
	return n.set(fields[0])
}

func (n *NetworkPayload) Validate() error {
	if !n.Prefix.IsValid() {
		return fmt.Errorf("%w: invalid address in network object", ErrBadValue)
	}
	return nil
}

func (n *NetworkPayload) AddressString() string { return n.Prefix.String() }
func (n *NetworkPayload) CopyArgs() []any       { return []any{n.Prefix.String()} }

// Compare orders networks by address, then by prefix length
func (n *NetworkPayload) Compare(other schema.Payload) (int, bool) {
	o, ok := other.(*NetworkPayload)
	if !ok {
		return 0, false
	}
	if c := n.Prefix.Addr().Compare(o.Prefix.Addr()); c != 0 {
		return c, true
	}
	return n.Prefix.Bits() - o.Prefix.Bits(), true
}

// IsHost reports whether the network is a single address
func (n *NetworkPayload) IsHost() bool {
	return n.Prefix.IsSingleIP()
}

// Contains reports whether p lies strictly inside the network
func (n *NetworkPayload) Contains(p netip.Prefix) bool {
	return n.Prefix.Bits() < p.Bits() && n.Prefix.Contains(p.Addr())
}

// NetworkRangePayload is an inclusive address range
type NetworkRangePayload struct {
	Start  netip.Addr
	End    netip.Addr
	family int
}

func newRange(family int) schema.Constructor {
	return func(args ...any) (schema.Payload, error) {
		r := &NetworkRangePayload{family: family}
		if len(args) > 0 {
			if err := r.Load(args[:1], nil); err != nil {
				return nil, err
			}
		}
		return r, nil
	}
}

func (r *NetworkRangePayload) Fields() []any {
	if !r.Start.IsValid() {
		return []any{""}
	}
	return []any{r.AddressString()}
}

// Load parses "start end"
func (r *NetworkRangePayload) Load(fields []any, _ schema.Resolver) error {
	s, err := stringArg(fields[0], "network range")
	if err != nil {
		return err
	}
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return fmt.Errorf("%w: network range must be \"start end\", got %q", ErrBadValue, s)
	}
	start, err := netip.ParseAddr(parts[0])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadValue, err)
	}
	end, err := netip.ParseAddr(parts[1])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadValue, err)
	}
	if familyOf(start) != r.family || familyOf(end) != r.family {
		return fmt.Errorf("%w: %q is not an ipv%d range", ErrBadValue, s, r.family)
	}
	if end.Less(start) {
		return fmt.Errorf("%w: range %q ends before it starts", ErrBadValue, s)
	}
	r.Start, r.End = start, end
	return nil
}

func (r *NetworkRangePayload) Validate() error {
	if !r.Start.IsValid() {
		return fmt.Errorf("%w: invalid network range", ErrBadValue)
	}
	return nil
}

func (r *NetworkRangePayload) AddressString() string {
	return r.Start.String() + " " + r.End.String()
}

func (r *NetworkRangePayload) CopyArgs() []any { return []any{r.AddressString()} }

func (r *NetworkRangePayload) Compare(other schema.Payload) (int, bool) {
	o, ok := other.(*NetworkRangePayload)
	if !ok {
		return 0, false
	}
	return r.Start.Compare(o.Start), true
}

// ParsePrefix accepts CIDR notation or a bare address, which is taken as
// a host network
func ParsePrefix(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "/") {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("%w: %v", ErrBadValue, err)
		}
		addr = addr.Unmap()
		return netip.PrefixFrom(addr, addr.BitLen()), nil
	}
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("%w: %v", ErrBadValue, err)
	}
	return p, nil
}

func familyOf(a netip.Addr) int {
	if a.Is4() {
		return 4
	}
	return 6
}

// ProtocolOf returns the network tree protocol for p
func ProtocolOf(p netip.Prefix) string {
	if familyOf(p.Addr()) == 4 {
		return ProtocolIPv4
	}
	return ProtocolIPv6
}

// NetworkTreeFor returns the network tree of view holding protocol, or
// nil when the view has none
func NetworkTreeFor(ctx context.Context, view *store.Node, protocol string) (*store.Node, error) {
	trees, err := view.ListChildren(ctx, store.Include(string(NetworkTree)))
	if err != nil {
		return nil, err
	}
	for _, t := range trees {
		if p, ok := t.Payload().(*NetworkTreePayload); ok && p.Protocol == protocol {
			return t, nil
		}
	}
	return nil, nil
}

// FindNetwork looks up prefix in a network tree by walking down through
// the networks containing it. When the network does not exist and create
// is set, it is committed below the most specific containing network,
// and existing siblings that fall inside it are moved under it.
func FindNetwork(ctx context.Context, tree *store.Node, prefix netip.Prefix, create bool) (*store.Node, error) {
	nt, ok := tree.Payload().(*NetworkTreePayload)
	if !ok {
		return nil, fmt.Errorf("find network %s: %s is not a network tree", prefix, tree.Describe())
	}
	if ProtocolOf(prefix) != nt.Protocol {
		return nil, fmt.Errorf("%w: %s does not belong in an %s tree", ErrBadValue, prefix, nt.Protocol)
	}
	prefix = prefix.Masked()
	typ := string(nt.networkType())

	parent := tree
descend:
	for {
		children, err := parent.ListChildren(ctx, store.Include(typ), store.Sorted(false))
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			nw := child.Payload().(*NetworkPayload)
			if nw.Prefix == prefix {
				return child, nil
			}
			if nw.Contains(prefix) {
				parent = child
				continue descend
			}
		}
		if !create {
			return nil, nil
		}

		created, err := parent.CommitChild(ctx, nt.networkType(), prefix.String())
		if err != nil {
			return nil, err
		}
		inner := created.Payload().(*NetworkPayload)
		for _, child := range children {
			if inner.Contains(child.Payload().(*NetworkPayload).Prefix) {
				if err := child.Relocate(ctx, created); err != nil {
					return created, err
				}
			}
		}
		return created, nil
	}
}

// Networks returns the networks linked to a device
func Networks(ctx context.Context, device *store.Node) ([]*store.Node, error) {
	return device.ListLinks(ctx, store.Include(string(IPv4Network), string(IPv6Network)))
}

// Size returns the number of addresses in the network
func (n *NetworkPayload) Size() *big.Int {
	return prefixSize(n.Prefix)
}

func prefixSize(p netip.Prefix) *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), uint(p.Addr().BitLen()-p.Bits()))
}

// lastAddr returns the highest address of p
func lastAddr(p netip.Prefix) netip.Addr {
	p = p.Masked()
	host := p.Addr().BitLen() - p.Bits()
	if p.Addr().Is4() {
		b := p.Addr().As4()
		for i := len(b) - 1; i >= 0 && host > 0; i-- {
			bits := min(host, 8)
			b[i] |= byte(1<<bits - 1)
			host -= bits
		}
		return netip.AddrFrom4(b)
	}
	b := p.Addr().As16()
	for i := len(b) - 1; i >= 0 && host > 0; i-- {
		bits := min(host, 8)
		b[i] |= byte(1<<bits - 1)
		host -= bits
	}
	return netip.AddrFrom16(b)
}

// rangePrefixes splits the inclusive range [start, end] into the fewest
// CIDR blocks
func rangePrefixes(start, end netip.Addr) []netip.Prefix {
	var out []netip.Prefix
	for start.IsValid() && !end.Less(start) {
		bitLen := start.BitLen()
		block := netip.PrefixFrom(start, bitLen)
		for bits := 0; bits < bitLen; bits++ {
			p := netip.PrefixFrom(start, bits)
			if p.Masked().Addr() == start && !end.Less(lastAddr(p)) {
				block = p
				break
			}
		}
		out = append(out, block)
		start = lastAddr(block).Next()
	}
	return out
}

// span returns the address space a network or network tree covers
func span(n *store.Node) (netip.Prefix, schema.TypeID, error) {
	switch p := n.Payload().(type) {
	case *NetworkPayload:
		return p.Prefix, n.TypeID(), nil
	case *NetworkTreePayload:
		if p.Protocol == ProtocolIPv6 {
			return netip.PrefixFrom(netip.IPv6Unspecified(), 0), IPv6Network, nil
		}
		return netip.PrefixFrom(netip.IPv4Unspecified(), 0), IPv4Network, nil
	default:
		return netip.Prefix{}, "", fmt.Errorf("%w: %s is not a network", ErrBadValue, n.Describe())
	}
}

// Subnets returns the networks directly below a network or network tree,
// in address order
func Subnets(ctx context.Context, n *store.Node) ([]*store.Node, error) {
	_, typ, err := span(n)
	if err != nil {
		return nil, err
	}
	return n.ListChildren(ctx, store.Include(string(typ)))
}

// MissingNetworks returns the CIDR blocks of a network or network tree
// that no subnet covers, in address order
func MissingNetworks(ctx context.Context, n *store.Node) ([]netip.Prefix, error) {
	outer, _, err := span(n)
	if err != nil {
		return nil, err
	}
	subnets, err := Subnets(ctx, n)
	if err != nil {
		return nil, err
	}

	var missing []netip.Prefix
	next := outer.Addr()
	for _, s := range subnets {
		p := s.Payload().(*NetworkPayload).Prefix
		if !next.IsValid() {
			break
		}
		if next.Less(p.Addr()) {
			missing = append(missing, rangePrefixes(next, p.Addr().Prev())...)
		}
		if last := lastAddr(p); !last.Less(next) {
			next = last.Next()
		}
	}
	if next.IsValid() {
		missing = append(missing, rangePrefixes(next, lastAddr(outer))...)
	}
	return missing, nil
}

// NetworkEntry is one row of a network listing. Node is nil for a block
// that is not allocated.
type NetworkEntry struct {
	Prefix netip.Prefix
	Node   *store.Node
}

// Allocated reports whether the entry is a committed network
func (e NetworkEntry) Allocated() bool { return e.Node != nil }

// ListNetworks lists the subnets of a network or network tree in address
// order. With includeMissing the unallocated blocks between them are
// listed too.
func ListNetworks(ctx context.Context, n *store.Node, includeMissing bool) ([]NetworkEntry, error) {
	subnets, err := Subnets(ctx, n)
	if err != nil {
		return nil, err
	}
	entries := make([]NetworkEntry, 0, len(subnets))
	for _, s := range subnets {
		entries = append(entries, NetworkEntry{Prefix: s.Payload().(*NetworkPayload).Prefix, Node: s})
	}
	if !includeMissing {
		return entries, nil
	}

	missing, err := MissingNetworks(ctx, n)
	if err != nil {
		return nil, err
	}
	for _, p := range missing {
		entries = append(entries, NetworkEntry{Prefix: p})
	}
	slices.SortStableFunc(entries, func(a, b NetworkEntry) int {
		return a.Prefix.Addr().Compare(b.Prefix.Addr())
	})
	return entries, nil
}

// AllocatedHosts returns the number of addresses taken by the subnets of
// a network
func AllocatedHosts(ctx context.Context, network *store.Node) (*big.Int, error) {
	subnets, err := Subnets(ctx, network)
	if err != nil {
		return nil, err
	}
	used := new(big.Int)
	for _, s := range subnets {
		used.Add(used, s.Payload().(*NetworkPayload).Size())
	}
	return used, nil
}

// FreeHosts returns the number of addresses of a network that no subnet
// takes
func FreeHosts(ctx context.Context, network *store.Node) (*big.Int, error) {
	nw, ok := network.Payload().(*NetworkPayload)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a network", ErrBadValue, network.Describe())
	}
	used, err := AllocatedHosts(ctx, network)
	if err != nil {
		return nil, err
	}
	return used.Sub(nw.Size(), used), nil
}

// Devices returns the devices linked to a network or network range
func Devices(ctx context.Context, network *store.Node) ([]*store.Node, error) {
	return network.ListLinks(ctx, store.Include(string(Device)))
}
