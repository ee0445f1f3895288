package discovery

import (
	"context"
	"fmt"
	"log"
	"net/netip"

	"ipamclient/internal/kinds"
	"ipamclient/internal/store"
)

// Result counts what an import did with each host
type Result struct {
	Created   int
	Updated   int
	Unchanged int
	Skipped   int
}

// Importer records scanned hosts as devices of a view
type Importer struct {
	view       *store.Node
	deviceTree string
	protocol   string
	logger     *log.Logger
}

// NewImporter creates an importer writing below view. Devices go to the
// device tree called deviceTree. A non-empty protocol limits the import
// to hosts of that address family.
func NewImporter(view *store.Node, deviceTree, protocol string, logger *log.Logger) *Importer {
	if logger == nil {
		logger = log.Default()
	}
	if deviceTree == "" {
		deviceTree = kinds.DefaultTreeName
	}
	return &Importer{view: view, deviceTree: deviceTree, protocol: protocol, logger: logger}
}

// Apply creates or reuses a device per host, keyed by its name attribute,
// refreshes its attributes and associates it with the host network of its
// address. Applying the same hosts twice changes nothing the second time.
func (im *Importer) Apply(ctx context.Context, hosts []Host) (Result, error) {
	var res Result

	dt, err := im.view.ChildByName(ctx, im.deviceTree, store.Include(string(kinds.DeviceTree)))
	if err != nil {
		return res, err
	}
	if dt == nil {
		return res, fmt.Errorf("import: %s has no device tree %q", im.view.Describe(), im.deviceTree)
	}

	for _, h := range hosts {
		if !h.Address.IsValid() {
			res.Skipped++
			continue
		}
		prefix := netip.PrefixFrom(h.Address, h.Address.BitLen())
		protocol := kinds.ProtocolOf(prefix)
		if im.protocol != "" && im.protocol != protocol {
			res.Skipped++
			continue
		}
		tree, err := kinds.NetworkTreeFor(ctx, im.view, protocol)
		if err != nil {
			return res, err
		}
		if tree == nil {
			im.logger.Printf("discovery: no %s network tree for %s, skipped", protocol, h.Address)
			res.Skipped++
			continue
		}

		device, err := dt.ChildByName(ctx, h.Name(), store.Include(string(kinds.Device)))
		if err != nil {
			return res, err
		}
		created := device == nil
		if created {
			if device, err = dt.CommitChild(ctx, kinds.Device); err != nil {
				return res, err
			}
		}

		changed, err := im.record(ctx, device, tree, prefix, h)
		if err != nil {
			if created {
				// an unnamed device must not outlive a failed import
				if derr := device.Delete(ctx); derr != nil {
					im.logger.Printf("discovery: failed to remove partial device for %s: %v", h.Address, derr)
				}
			}
			return res, fmt.Errorf("import %s: %w", h.Address, err)
		}

		switch {
		case created:
			res.Created++
			im.logger.Printf("discovery: added %s (%s)", h.Name(), h.Address)
		case changed:
			res.Updated++
		default:
			res.Unchanged++
		}
	}
	return res, nil
}

// record brings the device attributes and its host network link in line
// with h
func (im *Importer) record(ctx context.Context, device, tree *store.Node, prefix netip.Prefix, h Host) (bool, error) {
	changed, err := im.refresh(ctx, device, h)
	if err != nil {
		return changed, err
	}
	network, err := kinds.FindNetwork(ctx, tree, prefix, true)
	if err != nil {
		return changed, err
	}
	if !device.IsAssociated(network) {
		if err := device.Associate(ctx, network); err != nil {
			return changed, err
		}
		changed = true
	}
	return changed, nil
}

// refresh sets the host attributes that differ from the mirrored ones.
// Only ports may be cleared; the other attributes keep their last seen
// value when a scan does not report them.
func (im *Importer) refresh(ctx context.Context, device *store.Node, h Host) (bool, error) {
	attrs := []struct {
		name, value string
		clearable   bool
	}{
		{"name", h.Name(), false},
		{"address", h.Address.String(), false},
		{"ports", h.PortList(), true},
		{"hostname", h.Hostname, false},
		{"mac", h.MAC, false},
		{"vendor", h.Vendor, false},
		{"ssh_hostkey", h.HostKey.Fingerprint, false},
		{"ssh_hostkey_type", h.HostKey.Type, false},
	}

	changed := false
	for _, a := range attrs {
		if a.value == "" && (!a.clearable || device.AttributeNode(a.name) == nil) {
			continue
		}
		if kinds.GetAttribute(device, a.name, nil) == a.value {
			continue
		}
		if _, err := kinds.SetAttribute(ctx, device, a.name, kinds.TypeText, a.value); err != nil {
			return changed, err
		}
		changed = true
	}
	return changed, nil
}
