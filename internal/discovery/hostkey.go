package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
)

// HostKey is the SSH host key a server presented
type HostKey struct {
	Type        string
	Fingerprint string
}

// HostKeyProbe reads SSH host keys. It completes the key exchange and
// then gives up on authentication, so no credentials are needed.
type HostKeyProbe struct {
	timeout time.Duration
}

// NewHostKeyProbe creates a probe giving each connection timeout
func NewHostKeyProbe(timeout time.Duration) *HostKeyProbe {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HostKeyProbe{timeout: timeout}
}

// Probe connects to addr:port and returns its host key
func (p *HostKeyProbe) Probe(ctx context.Context, addr netip.Addr, port int) (HostKey, error) {
	target := net.JoinHostPort(addr.String(), strconv.Itoa(port))

	dialer := &net.Dialer{Timeout: p.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return HostKey{}, fmt.Errorf("failed to dial: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(p.timeout))
	}

	var key ssh.PublicKey
	config := &ssh.ClientConfig{
		User: "ipamclient",
		HostKeyCallback: func(_ string, _ net.Addr, k ssh.PublicKey) error {
			key = k
			return nil
		},
		Timeout: p.timeout,
	}
	sshConn, _, _, err := ssh.NewClientConn(conn, target, config)
	if err == nil {
		sshConn.Close()
	}
	if key == nil {
		if err == nil {
			err = errors.New("no host key offered")
		}
		return HostKey{}, fmt.Errorf("failed to establish SSH connection: %w", err)
	}
	return HostKey{Type: key.Type(), Fingerprint: ssh.FingerprintSHA256(key)}, nil
}

// sshPort returns the open port serving ssh, preferring 22
func sshPort(h Host) (int, bool) {
	found := 0
	for _, p := range h.Ports {
		if p.Number == 22 {
			return 22, true
		}
		if p.Service == "ssh" && found == 0 {
			found = p.Number
		}
	}
	return found, found != 0
}
