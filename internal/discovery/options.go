package discovery

import (
	"log"
	"time"
)

// Option configures a Scanner
type Option func(*Scanner)

// WithTimeout bounds the scan of a single target
func WithTimeout(d time.Duration) Option {
	return func(s *Scanner) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithPorts sets the ports to scan.
// Format: "80,443,8080" or "1-1000" or "22,80-443,8080".
// An invalid list is ignored.
func WithPorts(ports string) Option {
	return func(s *Scanner) {
		if validated, err := parsePorts(ports); err == nil {
			s.ports = validated
		}
	}
}

// WithServiceDetection enables or disables service version detection (-sV)
func WithServiceDetection(enabled bool) Option {
	return func(s *Scanner) {
		s.serviceDetection = enabled
	}
}

// WithSkipHostDiscovery treats every host as online (-Pn).
// Useful for networks that block ICMP.
func WithSkipHostDiscovery(skip bool) Option {
	return func(s *Scanner) {
		s.skipHostDiscovery = skip
	}
}

// WithConcurrency sets how many targets are scanned at once
func WithConcurrency(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithCommonPorts scans the ports of common infrastructure services
func WithCommonPorts() Option {
	return func(s *Scanner) {
		s.ports = commonPorts
	}
}

// WithFastScan scans a handful of ports without service detection
func WithFastScan() Option {
	return func(s *Scanner) {
		s.ports = "22,80,443"
		s.serviceDetection = false
		s.timeout = 5 * time.Minute
	}
}

// WithHostKeys reads the SSH host key of every host with ssh open
func WithHostKeys(p *HostKeyProbe) Option {
	return func(s *Scanner) {
		s.hostKeys = p
	}
}

// WithLogger sets the scanner logger
func WithLogger(l *log.Logger) Option {
	return func(s *Scanner) {
		if l != nil {
			s.logger = l
		}
	}
}

// withRunner replaces the nmap invocation, for tests
func withRunner(r runner) Option {
	return func(s *Scanner) {
		s.run = r
	}
}
