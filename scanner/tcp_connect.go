package scanner

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// VersionProbe is the generic payload written to every open port.
var VersionProbe = []byte("VERSION\r\n")

// maxResponseBytes bounds the single probe read.
const maxResponseBytes = 1024

// Prober performs a single connection attempt against one target.
type Prober interface {
	Probe(ctx context.Context, target ScanTarget, timeout time.Duration) ProbeOutcome
}

// ProberFunc adapts a plain function to the Prober interface.
type ProberFunc func(ctx context.Context, target ScanTarget, timeout time.Duration) ProbeOutcome

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context, target ScanTarget, timeout time.Duration) ProbeOutcome {
	return f(ctx, target, timeout)
}

// ContextDialer is satisfied by *net.Dialer.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// ConnectProbe implements Prober with a full TCP handshake followed by
// one write of VersionProbe and one bounded read.
type ConnectProbe struct {
	// Network is "tcp", "tcp4" or "tcp6". Empty means "tcp".
	Network string
	// Dialer defaults to a zero net.Dialer.
	Dialer ContextDialer
}

// Validate rejects networks other than tcp, tcp4 and tcp6. A datagram
// "connect" never fails, so every port would look open.
func (p *ConnectProbe) Validate() error {
	switch p.Network {
	case "", "tcp", "tcp4", "tcp6":
		return nil
	}
	return fmt.Errorf("%w: network must be tcp, tcp4 or tcp6, got %q", ErrInvalidPolicy, p.Network)
}

// Probe never retries and never logs.
func (p *ConnectProbe) Probe(ctx context.Context, target ScanTarget, timeout time.Duration) ProbeOutcome {
	if err := p.Validate(); err != nil {
		return errorOutcome(err)
	}
	network := p.Network
	if network == "" {
		network = "tcp"
	}
	var dialer ContextDialer = &net.Dialer{}
	if p.Dialer != nil {
		dialer = p.Dialer
	}

	address := net.JoinHostPort(target.Host, strconv.Itoa(target.Port))

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	conn, err := dialer.DialContext(dialCtx, network, address)
	cancel()
	if err != nil {
		// Name resolution failures say nothing about the port, even when
		// the lookup itself timed out.
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			return errorOutcome(err)
		}
		if isTimeout(err) || isConnectionRefused(err) || errors.Is(err, syscall.EHOSTUNREACH) {
			return closedOutcome()
		}
		return errorOutcome(err)
	}
	defer conn.Close()

	return openOutcome(probeVersion(conn, timeout))
}

// probeVersion sends the version probe and reads whatever comes back.
// Every failure here is swallowed: the port already accepted the connection.
func probeVersion(conn net.Conn, timeout time.Duration) string {
	_ = conn.SetDeadline(time.Now().Add(timeout))

	if _, err := conn.Write(VersionProbe); err != nil {
		return ""
	}

	buffer := make([]byte, maxResponseBytes)
	n, _ := conn.Read(buffer)
	if n <= 0 {
		return ""
	}
	return decodeResponse(buffer[:n])
}

// decodeResponse drops invalid UTF-8 sequences and trims surrounding whitespace.
func decodeResponse(raw []byte) string {
	return strings.TrimSpace(strings.ToValidUTF8(string(raw), ""))
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isConnectionRefused checks if the error is a connection refused error.
func isConnectionRefused(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	// Windows reports WSAECONNREFUSED with its own wording.
	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "actively refused")
}
