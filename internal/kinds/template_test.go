package kinds

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"ipamclient/internal/schema"
	"ipamclient/internal/store"
)

func mustChild(t *testing.T, parent *store.Node, id schema.TypeID, args ...any) *store.Node {
	t.Helper()
	n, err := parent.CommitChild(context.Background(), id, args...)
	assertNoError(t, err)
	return n
}

func TestTemplateRules(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	view := newTestView(t, s)
	dt, err := DeviceTreeOf(ctx, view)
	assertNoError(t, err)

	base := mustChild(t, dt, DeviceTemplate, true)
	mustChild(t, base, RuleBool, "monitored", true, 1)
	mustChild(t, base, RuleText, "name", 1)

	tmpl := mustChild(t, dt, DeviceTemplate, false, []string{base.OID()})
	mustChild(t, tmpl, RuleFixed, "fqdn", "${name}.lab", true, 1)
	mustChild(t, tmpl, RuleRegmatch, "rack", `r\d+`, 1)
	mustChild(t, tmpl, RuleInt, "units", 1, 3)
	pwRule := mustChild(t, tmpl, RulePassword, "root", "console", "")
	mustChild(t, tmpl, RuleDeleteAttribute, "legacy")

	args := func() map[string]any {
		return map[string]any{"name": "web01", "rack": "r12", "root": "s3cret"}
	}
	newDevice := func(t *testing.T) *store.Node {
		t.Helper()
		dev := mustChild(t, dt, Device)
		_, err := SetAttribute(ctx, dev, "legacy", TypeText, "x")
		assertNoError(t, err)
		return dev
	}

	t.Run("inherited rules come first", func(t *testing.T) {
		rules, err := CombinedRules(ctx, tmpl)
		assertNoError(t, err)
		var got []schema.TypeID
		for _, r := range rules {
			got = append(got, r.TypeID())
		}
		want := []schema.TypeID{RuleBool, RuleText, RuleFixed, RuleRegmatch, RuleInt, RulePassword, RuleDeleteAttribute}
		if !reflect.DeepEqual(want, got) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("apply", func(t *testing.T) {
		dev := newDevice(t)
		assertNoError(t, ApplyTemplate(ctx, tmpl, dev, ApplyOptions{Arguments: args()}))

		assertEqual(t, "web01", dev.Name())
		assertEqual[any](t, true, GetAttribute(dev, "monitored", nil))
		assertEqual[any](t, "web01.lab", GetAttribute(dev, "fqdn", nil))
		assertEqual[any](t, "r12", GetAttribute(dev, "rack", nil))
		assertEqual[any](t, int64(1), GetAttribute(dev, "units", nil))
		if units := dev.AttributeNode("units"); units == nil || units.TypeID() != VersionedAttribute {
			t.Errorf("expected units to be versioned, got %v", units)
		}
		if dev.AttributeNode("legacy") != nil {
			t.Error("expected legacy to be deleted")
		}

		passwords, err := dev.ListChildren(ctx, store.Include(string(Password)))
		assertNoError(t, err)
		if len(passwords) != 1 {
			t.Fatalf("expected 1 password, got %d", len(passwords))
		}
		assertEqual(t, "s3cret", passwords[0].Payload().(*PasswordPayload).Password)
		assertEqual[any](t, "root", GetAttribute(passwords[0], "username", nil))
		assertEqual[any](t, "console", GetAttribute(passwords[0], "description", nil))

		opts := ApplyOptions{Arguments: args(), Skip: []string{pwRule.OID()}}
		opts.Arguments["name"] = "web02"
		assertNoError(t, ApplyTemplate(ctx, tmpl, dev, opts))
		assertEqual(t, "web01", dev.Name())

		opts.Overwrite = true
		assertNoError(t, ApplyTemplate(ctx, tmpl, dev, opts))
		assertEqual(t, "web02", dev.Name())
		passwords, err = dev.ListChildren(ctx, store.Include(string(Password)))
		assertNoError(t, err)
		if len(passwords) != 1 {
			t.Errorf("expected the skipped rule to add no password, got %d", len(passwords))
		}
	})

	t.Run("bad arguments", func(t *testing.T) {
		bad := args()
		bad["rack"] = "shelf"
		if err := ApplyTemplate(ctx, tmpl, newDevice(t), ApplyOptions{Arguments: bad}); !errors.Is(err, ErrBadValue) {
			t.Errorf("expected ErrBadValue for a rack that does not match, got %v", err)
		}
		missing := args()
		delete(missing, "name")
		if err := ApplyTemplate(ctx, tmpl, newDevice(t), ApplyOptions{Arguments: missing}); !errors.Is(err, ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})

	t.Run("wrong targets", func(t *testing.T) {
		if err := ApplyTemplate(ctx, base, newDevice(t), ApplyOptions{Arguments: args()}); !errors.Is(err, ErrBadValue) {
			t.Errorf("expected an inheritance only template to be refused, got %v", err)
		}
		if err := ApplyTemplate(ctx, tmpl, dt, ApplyOptions{Arguments: args()}); !errors.Is(err, ErrBadValue) {
			t.Errorf("expected a device tree to be refused, got %v", err)
		}
	})

	t.Run("invalid rules", func(t *testing.T) {
		if _, err := tmpl.CommitChild(ctx, RuleRegmatch, "rack", `r(`, 1); !errors.Is(err, ErrBadValue) {
			t.Errorf("expected a broken regexp to be rejected, got %v", err)
		}
		if _, err := tmpl.CommitChild(ctx, RuleText, "", 1); !errors.Is(err, ErrBadValue) {
			t.Errorf("expected a rule without attribute to be rejected, got %v", err)
		}
		nt, err := NetworkTreeFor(ctx, view, ProtocolIPv4)
		assertNoError(t, err)
		ntmpl := mustChild(t, nt, NetworkTemplate, false, nil)
		if _, err := ntmpl.CommitChild(ctx, RulePassword, "root", "", ""); !errors.Is(err, schema.ErrInvalidChild) {
			t.Errorf("expected password rules to be refused in network templates, got %v", err)
		}
	})

	t.Run("suggest", func(t *testing.T) {
		dev := newDevice(t)
		suggested, err := SuggestTemplates(ctx, dev, DeviceTemplate)
		assertNoError(t, err)
		if len(suggested) != 1 || suggested[0] != tmpl {
			t.Errorf("expected [%v], got %v", tmpl, suggested)
		}
	})
}

func TestSubdevicesAndAssignNetwork(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	view := newTestView(t, s)
	tree, err := NetworkTreeFor(ctx, view, ProtocolIPv4)
	assertNoError(t, err)
	dt, err := DeviceTreeOf(ctx, view)
	assertNoError(t, err)
	mustChild(t, dt, ConfigNetworkAutoassign, tree.OID(), "10.0.5.1", "10.0.5.2")

	node := mustChild(t, dt, DeviceTemplate, false, nil)
	mustChild(t, node, RuleFixed, "name", "node-${sequence}", true, 1)
	mustChild(t, node, RuleAssignNetwork)

	chassis := mustChild(t, dt, DeviceTemplate, false, nil)
	mustChild(t, chassis, RuleSubdevice, 2, node.OID(), 1)

	dev := mustChild(t, dt, Device)
	assertNoError(t, ApplyTemplate(ctx, chassis, dev, ApplyOptions{}))

	subs, err := dev.ListChildren(ctx, store.Include(string(Device)), store.Sorted(false))
	assertNoError(t, err)
	if len(subs) != 2 {
		t.Fatalf("expected 2 subdevices, got %d", len(subs))
	}
	for i, sub := range subs {
		assertEqual(t, []string{"node-1", "node-2"}[i], sub.Name())
		nets, err := Networks(ctx, sub)
		assertNoError(t, err)
		want := []string{"10.0.5.1/32", "10.0.5.2/32"}[i]
		if len(nets) != 1 || nets[0].Payload().(*NetworkPayload).AddressString() != want {
			t.Errorf("expected %s linked to %s, got %v", sub.Name(), want, nets)
		}
	}

	t.Run("range exhausted", func(t *testing.T) {
		_, err := AssignNetwork(ctx, mustChild(t, dt, Device))
		if !errors.Is(err, ErrNoFreeAddress) {
			t.Errorf("expected ErrNoFreeAddress, got %v", err)
		}
	})

	t.Run("recursive subdevice template", func(t *testing.T) {
		loop := mustChild(t, dt, DeviceTemplate, false, nil)
		mustChild(t, loop, RuleSubdevice, 1, loop.OID(), 0)
		if err := ApplyTemplate(ctx, loop, mustChild(t, dt, Device), ApplyOptions{}); !errors.Is(err, ErrBadValue) {
			t.Errorf("expected ErrBadValue, got %v", err)
		}
	})

	t.Run("flush rules run first", func(t *testing.T) {
		flush := mustChild(t, dt, DeviceTemplate, false, nil)
		mustChild(t, flush, RuleText, "name", 1)
		mustChild(t, flush, RuleFlushNodes, []string{"attribute"}, nil)
		mustChild(t, flush, RuleFlushAssociations, []string{string(IPv4Network)}, nil)

		sub := subs[0]
		assertNoError(t, ApplyTemplate(ctx, flush, sub, ApplyOptions{Arguments: map[string]any{"name": "fresh"}}))
		assertEqual(t, "fresh", sub.Name())
		if len(sub.Attributes()) != 1 {
			t.Errorf("expected only the new name to remain, got %d attributes", len(sub.Attributes()))
		}
		nets, err := Networks(ctx, sub)
		assertNoError(t, err)
		if len(nets) != 0 {
			t.Errorf("expected associations to be flushed, got %v", nets)
		}
	})
}

func TestDeviceConfig(t *testing.T) {
	ctx := context.Background()
	s, repo := newTestStore(t)
	view := newTestView(t, s)
	dt, err := DeviceTreeOf(ctx, view)
	assertNoError(t, err)
	dev := mustChild(t, dt, Device)

	dcon := mustChild(t, dev, DeviceConfig, "running", 2)
	for _, cfg := range []string{"a", "b", "c"} {
		assertNoError(t, AddConfig(ctx, dcon, []byte(cfg)))
	}

	fresh := newTestStoreOn(t, repo, s.Registry())
	var mirrored *store.Node
	for n, err := range fresh.GetOIDs(ctx, []string{dcon.OID()}) {
		assertNoError(t, err)
		mirrored = n
	}
	if mirrored == nil {
		t.Fatal("expected the device config in a fresh session")
	}
	configs, err := Configs(ctx, mirrored)
	assertNoError(t, err)
	if !reflect.DeepEqual([][]byte{[]byte("b"), []byte("c")}, configs) {
		t.Errorf("expected the newest 2 versions, got %q", configs)
	}
	latest, err := LatestConfig(ctx, mirrored)
	assertNoError(t, err)
	assertEqual(t, "c", string(latest))

	empty := mustChild(t, dev, DeviceConfig, "startup", 1)
	latest, err = LatestConfig(ctx, empty)
	assertNoError(t, err)
	if latest != nil {
		t.Errorf("expected no config, got %q", latest)
	}

	t.Run("template", func(t *testing.T) {
		tmpl := mustChild(t, dev, DeviceConfigTemplate)
		assertNoError(t, SetConfigTemplate(ctx, tmpl, "hostname ${host}\nip ${addr}\n"))

		out, err := ExpandConfigTemplate(ctx, tmpl, map[string]string{"host": "r1", "addr": "10.0.0.1"})
		assertNoError(t, err)
		assertEqual(t, "hostname r1\nip 10.0.0.1\n", out)

		_, err = ExpandConfigTemplate(ctx, tmpl, map[string]string{"host": "r1"})
		if !errors.Is(err, ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
		if err := SetConfigTemplate(ctx, dev, "x"); !errors.Is(err, ErrBadValue) {
			t.Errorf("expected a device to be refused, got %v", err)
		}
	})
}

func TestConfigValues(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	view := newTestView(t, s)
	dt, err := DeviceTreeOf(ctx, view)
	assertNoError(t, err)
	dev := mustChild(t, dt, Device)
	mustChild(t, dt, ConfigValue, "domain", "lab.example")

	lookup := func(name string) (string, bool) {
		t.Helper()
		v, ok, err := LookupConfigValue(ctx, dev, name)
		assertNoError(t, err)
		return v, ok
	}

	if v, ok := lookup("domain"); !ok || v != "lab.example" {
		t.Errorf("expected inherited lab.example, got %q %v", v, ok)
	}
	mustChild(t, dev, ConfigValue, "domain", "dev.example")
	if v, _ := lookup("domain"); v != "dev.example" {
		t.Errorf("expected the closest value dev.example, got %q", v)
	}
	if _, ok := lookup("ntp"); ok {
		t.Error("expected no ntp value")
	}
	if _, err := dt.CommitChild(ctx, ConfigNetworkAutoassign, "1", "10.0.0.9", "10.0.0.1"); !errors.Is(err, ErrBadValue) {
		t.Errorf("expected a reversed autoassign range to be rejected, got %v", err)
	}
}

func TestOptions(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	view := newTestView(t, s)

	ot := mustChild(t, view, OptionTree)
	oc := mustChild(t, ot, OptionCategory)
	linux := mustChild(t, oc, OptionValue, "linux")
	mustChild(t, oc, OptionValue, "bsd")
	mustChild(t, linux, OptionValue, "debian")

	values, err := Options(ctx, oc)
	assertNoError(t, err)
	if !reflect.DeepEqual([]string{"linux", "bsd"}, values) {
		t.Errorf("expected [linux bsd], got %v", values)
	}
	values, err = Options(ctx, linux)
	assertNoError(t, err)
	if !reflect.DeepEqual([]string{"debian"}, values) {
		t.Errorf("expected [debian], got %v", values)
	}
	if _, err := Options(ctx, ot); !errors.Is(err, ErrBadValue) {
		t.Errorf("expected ErrBadValue for an option tree, got %v", err)
	}
}
