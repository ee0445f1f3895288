package discovery

import (
	"context"
	"errors"
	"io"
	"log"
	"net/netip"
	"sync/atomic"
	"testing"

	nmap "github.com/Ullaakut/nmap/v3"

	"ipamclient/internal/kinds"
	"ipamclient/internal/repository"
	"ipamclient/internal/repository/sqlite"
	"ipamclient/internal/schema"
	"ipamclient/internal/store"
)

var quiet = log.New(io.Discard, "", 0)

func newTestStore(t *testing.T) (*store.Store, repository.Repository) {
	t.Helper()
	reg := kinds.NewRegistry()
	repo, err := sqlite.New(":memory:", reg, sqlite.WithAttributeTypes(kinds.AttributeTypes...))
	if err != nil {
		t.Fatalf("failed to create test repository: %v", err)
	}
	t.Cleanup(func() {
		repo.Close()
	})
	return newTestStoreOn(t, repo), repo
}

func newTestStoreOn(t *testing.T, repo repository.Repository) *store.Store {
	t.Helper()
	s, err := store.New(repo, kinds.NewRegistry(), store.WithLogger(quiet))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return s
}

func assertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func upHost(addr, hostname string, ports ...uint16) nmap.Host {
	h := nmap.Host{
		Addresses: []nmap.Address{{Addr: addr, AddrType: "ipv4"}},
		Status:    nmap.Status{State: "up"},
	}
	if hostname != "" {
		h.Hostnames = []nmap.Hostname{{Name: hostname}}
	}
	for _, p := range ports {
		h.Ports = append(h.Ports, nmap.Port{ID: p, Protocol: "tcp", State: nmap.State{State: "open"}})
	}
	return h
}

// fakeRunner answers each target from a fixed table
func fakeRunner(results map[string]*nmap.Run) runner {
	return func(ctx context.Context, target string) (*nmap.Run, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, ok := results[target]
		if !ok {
			return nil, errors.New("host unreachable")
		}
		return r, nil
	}
}

func TestHostsFromRun(t *testing.T) {
	run := &nmap.Run{
		Hosts: []nmap.Host{
			{
				Addresses: []nmap.Address{
					{Addr: "fe80::1", AddrType: "ipv6"},
					{Addr: "192.168.1.100", AddrType: "ipv4"},
					{Addr: "aa:bb:cc:dd:ee:ff", AddrType: "mac", Vendor: "Test Vendor"},
				},
				Hostnames: []nmap.Hostname{{Name: "testhost.local"}},
				Status:    nmap.Status{State: "up"},
				Ports: []nmap.Port{
					{ID: 80, Protocol: "tcp", State: nmap.State{State: "open"},
						Service: nmap.Service{Name: "http", Product: "nginx", Version: "1.18.0"}},
					{ID: 22, Protocol: "tcp", State: nmap.State{State: "open"},
						Service: nmap.Service{Name: "ssh", Product: "OpenSSH", Version: "8.9p1"}},
					{ID: 443, Protocol: "tcp", State: nmap.State{State: "closed"}},
					{ID: 9100, Protocol: "tcp", State: nmap.State{State: "open"}},
				},
			},
			{
				Addresses: []nmap.Address{{Addr: "192.168.1.101", AddrType: "ipv4"}},
				Status:    nmap.Status{State: "down"},
			},
		},
	}

	hosts, err := hostsFromRun(run)
	assertNoError(t, err)
	if len(hosts) != 1 {
		t.Fatalf("expected 1 host, got %d", len(hosts))
	}
	h := hosts[0]

	if h.Address != netip.MustParseAddr("192.168.1.100") {
		t.Errorf("expected the ipv4 address, got %s", h.Address)
	}
	if h.Name() != "testhost" {
		t.Errorf("expected name testhost, got %s", h.Name())
	}
	if h.MAC != "AA:BB:CC:DD:EE:FF" || h.Vendor != "Test Vendor" {
		t.Errorf("expected MAC AA:BB:CC:DD:EE:FF from Test Vendor, got %s from %s", h.MAC, h.Vendor)
	}
	if got := h.PortList(); got != "22/tcp ssh,80/tcp http,9100/tcp node-exporter" {
		t.Errorf("expected sorted open ports, got %s", got)
	}
	if h.Ports[0].Banner != "OpenSSH 8.9p1" {
		t.Errorf("expected SSH banner 'OpenSSH 8.9p1', got %s", h.Ports[0].Banner)
	}

	if _, err := hostsFromRun(nil); err == nil {
		t.Error("expected error for nil result")
	}
}

func TestHostName(t *testing.T) {
	tests := []struct {
		hostname string
		want     string
	}{
		{"db01.lab.example", "db01"},
		{"gw", "10.0.0.1"},
		{"a.lab", "10.0.0.1"},
		{"", "10.0.0.1"},
	}
	for _, tt := range tests {
		h := Host{Address: netip.MustParseAddr("10.0.0.1"), Hostname: tt.hostname}
		if got := h.Name(); got != tt.want {
			t.Errorf("Host{Hostname: %q}.Name() = %s, want %s", tt.hostname, got, tt.want)
		}
	}
}

func TestParsePorts(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"80", false},
		{"80,443,8080", false},
		{"1-1024", false},
		{"22, 80-443, 8080", false},
		{"0", true},
		{"65536", true},
		{"443-80", true},
		{"http", true},
		{"1-2-3", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := parsePorts(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("parsePorts(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestExpandTargets(t *testing.T) {
	got, err := expandTargets([]string{"10.1.2.3/16", " 192.168.1.1 ", "", "gw.lab"})
	assertNoError(t, err)
	want := []string{"10.1.0.0/16", "192.168.1.1", "gw.lab"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
			break
		}
	}

	if _, err := expandTargets([]string{"10.0.0.0/33"}); err == nil {
		t.Error("expected error for invalid CIDR")
	}
}

func TestScannerOptions(t *testing.T) {
	s := NewScanner(WithPorts("bogus"), WithConcurrency(0))
	if s.ports != commonPorts {
		t.Errorf("expected invalid ports to be ignored, got %s", s.ports)
	}
	if s.concurrency != 4 {
		t.Errorf("expected default concurrency 4, got %d", s.concurrency)
	}

	s = NewScanner(WithFastScan(), WithSkipHostDiscovery(true), WithConcurrency(8))
	if s.ports != "22,80,443" || s.serviceDetection || !s.skipHostDiscovery || s.concurrency != 8 {
		t.Errorf("unexpected scanner settings: %+v", s)
	}
}

func TestScan(t *testing.T) {
	var calls atomic.Int32
	results := map[string]*nmap.Run{
		"10.0.1.0/24": {Hosts: []nmap.Host{upHost("10.0.1.9", "db01.lab", 5432), upHost("10.0.1.2", "web01.lab", 80)}},
		"10.0.1.9":    {Hosts: []nmap.Host{upHost("10.0.1.9", "db01.lab", 5432)}},
	}
	run := fakeRunner(results)
	s := NewScanner(WithLogger(quiet), WithConcurrency(2), withRunner(func(ctx context.Context, target string) (*nmap.Run, error) {
		calls.Add(1)
		return run(ctx, target)
	}))

	hosts, err := s.Scan(context.Background(), []string{"10.0.1.0/24", "10.0.1.9", "10.9.9.9"})
	assertNoError(t, err)
	if calls.Load() != 3 {
		t.Errorf("expected 3 targets scanned, got %d", calls.Load())
	}
	if len(hosts) != 2 {
		t.Fatalf("expected 2 distinct hosts, got %d", len(hosts))
	}
	if hosts[0].Name() != "web01" || hosts[1].Name() != "db01" {
		t.Errorf("expected hosts sorted by address, got %s, %s", hosts[0].Name(), hosts[1].Name())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Scan(ctx, []string{"10.0.1.9"}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	if _, err := s.Scan(context.Background(), []string{"10.0.0.0/40"}); err == nil {
		t.Error("expected error for invalid target")
	}
}

// refusingRepo fails every create of one type once refuse is set
type refusingRepo struct {
	repository.Repository
	refuse schema.TypeID
}

func (r *refusingRepo) Create(ctx context.Context, parentOID string, typeID schema.TypeID, fields []any) (string, error) {
	if typeID == r.refuse {
		return "", errors.New("create refused")
	}
	return r.Repository.Create(ctx, parentOID, typeID, fields)
}

func labHosts() []Host {
	return []Host{
		{
			Address:  netip.MustParseAddr("10.0.1.2"),
			Hostname: "web01.lab",
			Ports:    []Port{{Number: 80, Protocol: "tcp", Service: "http"}},
			HostKey:  HostKey{Type: "ssh-ed25519", Fingerprint: "SHA256:ZkAslGjFiUHdGf/WUL8rQvkib4PTvQatUV0OUQSncCA"},
		},
		{
			Address: netip.MustParseAddr("10.0.1.9"),
			MAC:     "AA:BB:CC:DD:EE:FF",
		},
		{
			Address:  netip.MustParseAddr("2001:db8::5"),
			Hostname: "v6host",
		},
	}
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	s, repo := newTestStore(t)
	view, err := kinds.AddView(ctx, s.Root(), "lab")
	assertNoError(t, err)

	im := NewImporter(view, "", "", quiet)
	res, err := im.Apply(ctx, labHosts())
	assertNoError(t, err)
	if res.Created != 3 || res.Updated != 0 || res.Unchanged != 0 {
		t.Errorf("expected 3 created, got %+v", res)
	}

	dt, err := kinds.DeviceTreeOf(ctx, view)
	assertNoError(t, err)
	dev, err := dt.ChildByName(ctx, "web01")
	assertNoError(t, err)
	if dev == nil {
		t.Fatal("expected device web01")
	}
	if got := kinds.GetAttribute(dev, "address", nil); got != "10.0.1.2" {
		t.Errorf("expected address 10.0.1.2, got %v", got)
	}
	if got := kinds.GetAttribute(dev, "ports", nil); got != "80/tcp http" {
		t.Errorf("expected ports 80/tcp http, got %v", got)
	}
	if got := kinds.GetAttribute(dev, "ssh_hostkey", nil); got != "SHA256:ZkAslGjFiUHdGf/WUL8rQvkib4PTvQatUV0OUQSncCA" {
		t.Errorf("expected the host key fingerprint, got %v", got)
	}
	if dev.AttributeNode("mac") != nil {
		t.Error("expected no mac attribute for a host without one")
	}
	nets, err := kinds.Networks(ctx, dev)
	assertNoError(t, err)
	if len(nets) != 1 || nets[0].Payload().(*kinds.NetworkPayload).AddressString() != "10.0.1.2/32" {
		t.Errorf("expected the device linked to 10.0.1.2/32, got %v", nets)
	}

	v6, err := dt.ChildByName(ctx, "v6host")
	assertNoError(t, err)
	if v6 == nil {
		t.Fatal("expected device v6host")
	}
	nets, err = kinds.Networks(ctx, v6)
	assertNoError(t, err)
	if len(nets) != 1 || nets[0].TypeID() != kinds.IPv6Network {
		t.Errorf("expected an ipv6 host network, got %v", nets)
	}

	t.Run("repeated scan changes nothing", func(t *testing.T) {
		before := s.Len()
		res, err := im.Apply(ctx, labHosts())
		assertNoError(t, err)
		if res.Unchanged != 3 || res.Created != 0 || res.Updated != 0 {
			t.Errorf("expected 3 unchanged, got %+v", res)
		}
		if s.Len() != before {
			t.Errorf("expected %d mirrored nodes, got %d", before, s.Len())
		}
	})

	t.Run("fresh session matches existing devices", func(t *testing.T) {
		fresh := newTestStoreOn(t, repo)
		freshView, err := kinds.ViewByName(ctx, fresh.Root(), "lab")
		assertNoError(t, err)
		if freshView == nil {
			t.Fatal("expected view lab")
		}

		hosts := labHosts()
		hosts[0].Ports = append(hosts[0].Ports, Port{Number: 443, Protocol: "tcp", Service: "https"})
		// a scan without host key reading keeps the recorded key
		hosts[0].HostKey = HostKey{}
		res, err := NewImporter(freshView, kinds.DefaultTreeName, "", quiet).Apply(ctx, hosts)
		assertNoError(t, err)
		if res.Created != 0 || res.Updated != 1 || res.Unchanged != 2 {
			t.Errorf("expected 1 updated and 2 unchanged, got %+v", res)
		}
	})

	t.Run("protocol filter", func(t *testing.T) {
		hosts := append(labHosts(), Host{Address: netip.MustParseAddr("2001:db8::7"), Hostname: "v6only"})
		res, err := NewImporter(view, "", kinds.ProtocolIPv4, quiet).Apply(ctx, hosts)
		assertNoError(t, err)
		if res.Skipped != 2 || res.Unchanged != 2 {
			t.Errorf("expected 2 skipped and 2 unchanged, got %+v", res)
		}
		if dev, _ := dt.ChildByName(ctx, "v6only"); dev != nil {
			t.Error("expected the ipv6 host to be skipped")
		}
	})

	t.Run("missing device tree", func(t *testing.T) {
		if _, err := NewImporter(view, "racks", "", quiet).Apply(ctx, labHosts()); err == nil {
			t.Error("expected error for a missing device tree")
		}
	})
}

func TestApplyRollsBackNewDevice(t *testing.T) {
	ctx := context.Background()
	_, base := newTestStore(t)
	repo := &refusingRepo{Repository: base}
	s := newTestStoreOn(t, repo)
	view, err := kinds.AddView(ctx, s.Root(), "lab")
	assertNoError(t, err)

	repo.refuse = kinds.Attribute
	res, err := NewImporter(view, "", "", quiet).Apply(ctx, labHosts()[:1])
	if err == nil {
		t.Fatal("expected the import to fail")
	}
	if res.Created != 0 {
		t.Errorf("expected nothing created, got %+v", res)
	}

	fresh := newTestStoreOn(t, base)
	freshView, err := kinds.ViewByName(ctx, fresh.Root(), "lab")
	assertNoError(t, err)
	dt, err := kinds.DeviceTreeOf(ctx, freshView)
	assertNoError(t, err)
	devices, err := dt.ListChildren(ctx, store.Include(string(kinds.Device)))
	assertNoError(t, err)
	if len(devices) != 0 {
		t.Errorf("expected the partial device to be removed, got %v", devices)
	}
}
