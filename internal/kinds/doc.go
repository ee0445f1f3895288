// Package kinds declares the node kinds of the IPAM domain: views,
// attributes, counters, network trees with their ipv4/ipv6 networks and
// ranges, devices, containers, passwords and ssh public keys. Device and
// network templates carry rules that ApplyTemplate runs against a device
// or network. Device configs, config values and option trees round it off.
//
// NewRegistry returns a registry with every kind and its containment
// rules; the view tree is the root. The helpers in this package (AddView,
// SetAttribute, FindNetwork, ListNetworks, ApplyTemplate and friends) work
// on store nodes of these kinds.
//
// Positional data that went through JSON comes back with float64 numbers
// and base64 encoded bytes. Payloads convert it back when they load.
package kinds
