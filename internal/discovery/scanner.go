package discovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/netip"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	nmap "github.com/Ullaakut/nmap/v3"
	"golang.org/x/sync/errgroup"
)

const commonPorts = "22,25,53,80,110,143,443,445,993,995,3306,3389,5432,5900,6443,8080,8443,9090,9100"

// Common service ports with their typical service names
var wellKnownPorts = map[int]string{
	21:   "ftp",
	22:   "ssh",
	23:   "telnet",
	25:   "smtp",
	53:   "dns",
	80:   "http",
	110:  "pop3",
	143:  "imap",
	443:  "https",
	445:  "smb",
	993:  "imaps",
	995:  "pop3s",
	3306: "mysql",
	3389: "rdp",
	5432: "postgres",
	5900: "vnc",
	6443: "k8s-api",
	8080: "http-alt",
	8443: "https-alt",
	9090: "prometheus",
	9100: "node-exporter",
}

// Host is a live host found by a scan
type Host struct {
	Address  netip.Addr
	Hostname string
	MAC      string
	Vendor   string
	Ports    []Port
	HostKey  HostKey
}

// Port is an open port of a host
type Port struct {
	Number   int
	Protocol string
	Service  string
	Banner   string
}

// String formats the port as "22/tcp ssh"
func (p Port) String() string {
	return fmt.Sprintf("%d/%s %s", p.Number, p.Protocol, p.Service)
}

// Name returns the short host name, or the address when the host has no
// usable name
func (h Host) Name() string {
	name := h.Hostname
	if idx := strings.Index(name, "."); idx > 0 {
		name = name[:idx]
	}
	if len(name) > 2 {
		return name
	}
	return h.Address.String()
}

// PortList returns the open ports as a comma separated list
func (h Host) PortList() string {
	parts := make([]string, len(h.Ports))
	for i, p := range h.Ports {
		parts[i] = p.String()
	}
	return strings.Join(parts, ",")
}

// runner scans a single target
type runner func(ctx context.Context, target string) (*nmap.Run, error)

// Scanner discovers hosts using nmap
type Scanner struct {
	ports             string
	timeout           time.Duration
	serviceDetection  bool
	skipHostDiscovery bool
	concurrency       int
	hostKeys          *HostKeyProbe
	logger            *log.Logger
	run               runner
}

// NewScanner creates an nmap scanner
func NewScanner(opts ...Option) *Scanner {
	s := &Scanner{
		ports:            commonPorts,
		timeout:          10 * time.Minute,
		serviceDetection: true,
		concurrency:      4,
		logger:           log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.run == nil {
		s.run = s.nmapRun
	}
	return s
}

// Scan scans targets concurrently and returns the live hosts sorted by
// address. A target that fails is logged and skipped; only cancellation
// of ctx fails the scan.
func (s *Scanner) Scan(ctx context.Context, targets []string) ([]Host, error) {
	targets, err := expandTargets(targets)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		s.logger.Printf("nmap: no targets configured")
		return nil, nil
	}

	s.logger.Printf("nmap: starting scan of %d targets: %v", len(targets), targets)

	var (
		mu    sync.Mutex
		found = make(map[netip.Addr]Host)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, target := range targets {
		g.Go(func() error {
			hosts, err := s.scanTarget(gctx, target)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				s.logger.Printf("nmap: error scanning %s: %v", target, err)
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			for _, h := range hosts {
				found[h.Address] = h
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	hosts := make([]Host, 0, len(found))
	for _, h := range found {
		hosts = append(hosts, h)
	}
	slices.SortFunc(hosts, func(a, b Host) int { return a.Address.Compare(b.Address) })

	s.logger.Printf("nmap: scan complete, discovered %d hosts", len(hosts))
	return hosts, nil
}

func (s *Scanner) scanTarget(ctx context.Context, target string) ([]Host, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.run(ctx, target)
	if err != nil {
		return nil, err
	}
	hosts, err := hostsFromRun(result)
	if err != nil || s.hostKeys == nil {
		return hosts, err
	}
	for i := range hosts {
		port, ok := sshPort(hosts[i])
		if !ok {
			continue
		}
		key, err := s.hostKeys.Probe(ctx, hosts[i].Address, port)
		if err != nil {
			s.logger.Printf("ssh: no host key from %s: %v", hosts[i].Address, err)
			continue
		}
		hosts[i].HostKey = key
	}
	return hosts, nil
}

// nmapRun runs the nmap binary against a single target
func (s *Scanner) nmapRun(ctx context.Context, target string) (*nmap.Run, error) {
	opts := []nmap.Option{
		nmap.WithTargets(target),
		nmap.WithPorts(s.ports),
	}
	if s.serviceDetection {
		opts = append(opts, nmap.WithServiceInfo())
	}
	if s.skipHostDiscovery {
		opts = append(opts, nmap.WithSkipHostDiscovery())
	}

	scanner, err := nmap.NewScanner(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create scanner: %w", err)
	}

	s.logger.Printf("nmap: scanning target %s", target)
	result, warnings, err := scanner.Run()
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	if warnings != nil && len(*warnings) > 0 {
		s.logger.Printf("nmap: warnings for %s: %v", target, *warnings)
	}
	return result, nil
}

// hostsFromRun converts nmap results into hosts, keeping hosts that are
// up and their open ports
func hostsFromRun(result *nmap.Run) ([]Host, error) {
	if result == nil {
		return nil, errors.New("nil scan result")
	}

	var hosts []Host
	for _, nh := range result.Hosts {
		if nh.Status.State != "up" || len(nh.Addresses) == 0 {
			continue
		}

		var h Host
		for _, addr := range nh.Addresses {
			switch addr.AddrType {
			case "ipv4", "ipv6":
				ip, err := netip.ParseAddr(addr.Addr)
				if err != nil {
					continue
				}
				// prefer ipv4 when a host reports both
				if !h.Address.IsValid() || (ip.Is4() && !h.Address.Is4()) {
					h.Address = ip.Unmap()
				}
			case "mac":
				h.MAC = strings.ToUpper(addr.Addr)
				h.Vendor = addr.Vendor
			}
		}
		if !h.Address.IsValid() {
			continue
		}
		if len(nh.Hostnames) > 0 {
			h.Hostname = nh.Hostnames[0].Name
		}
		h.Ports = openPorts(nh.Ports)
		hosts = append(hosts, h)
	}
	return hosts, nil
}

func openPorts(ports []nmap.Port) []Port {
	var open []Port
	for _, p := range ports {
		if p.State.State != "open" {
			continue
		}

		service := p.Service.Name
		if service == "" {
			service = wellKnownPorts[int(p.ID)]
			if service == "" {
				service = fmt.Sprintf("unknown-%d", p.ID)
			}
		}

		info := Port{
			Number:   int(p.ID),
			Protocol: p.Protocol,
			Service:  service,
		}
		if p.Service.Product != "" {
			banner := p.Service.Product
			if p.Service.Version != "" {
				banner += " " + p.Service.Version
			}
			if p.Service.ExtraInfo != "" {
				banner += " (" + p.Service.ExtraInfo + ")"
			}
			info.Banner = banner
		}
		open = append(open, info)
	}
	slices.SortFunc(open, func(a, b Port) int { return a.Number - b.Number })
	return open
}

// expandTargets checks CIDR targets and normalizes them. Anything without
// a slash is passed through as an address or hostname.
func expandTargets(targets []string) ([]string, error) {
	var expanded []string
	for _, target := range targets {
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}
		if strings.Contains(target, "/") {
			p, err := netip.ParsePrefix(target)
			if err != nil {
				return nil, fmt.Errorf("invalid CIDR %s: %w", target, err)
			}
			expanded = append(expanded, p.Masked().String())
			continue
		}
		expanded = append(expanded, target)
	}
	return expanded, nil
}

// parsePorts validates a port list.
// Supported: "80,443,8080" or "1-1000" or "22,80-443,8080".
func parsePorts(portRange string) (string, error) {
	for _, part := range strings.Split(portRange, ",") {
		part = strings.TrimSpace(part)
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			start, err := strconv.Atoi(strings.TrimSpace(lo))
			if err != nil || start < 1 || start > 65535 {
				return "", fmt.Errorf("invalid port number: %s", lo)
			}
			end, err := strconv.Atoi(strings.TrimSpace(hi))
			if err != nil || end < 1 || end > 65535 || end < start {
				return "", fmt.Errorf("invalid port number: %s", hi)
			}
			continue
		}
		port, err := strconv.Atoi(part)
		if err != nil || port < 1 || port > 65535 {
			return "", fmt.Errorf("invalid port number: %s", part)
		}
	}
	return portRange, nil
}
