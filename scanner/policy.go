package scanner

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultMaxRetries     = 5
	DefaultConnectTimeout = 3 * time.Second
	DefaultMaxConcurrency = 50
)

var (
	// ErrNoHost is returned when the scan target host is empty.
	ErrNoHost = errors.New("no target host")
	// ErrNoPorts is returned when there is nothing to scan.
	ErrNoPorts = errors.New("no ports to scan")
	// ErrInvalidPort is returned for ports outside 0-65535 or malformed ranges.
	ErrInvalidPort = errors.New("invalid port")
	// ErrInvalidPolicy is returned for non-positive policy values.
	ErrInvalidPolicy = errors.New("invalid scan policy")
)

// Policy controls retries, timeouts and parallelism for one scan.
type Policy struct {
	// MaxRetries is the number of connection attempts per port.
	MaxRetries int `json:"max_retries"`
	// ConnectTimeout applies to the connect and to the probe read separately.
	ConnectTimeout time.Duration `json:"connect_timeout"`
	// MaxConcurrency bounds in-flight connection attempts.
	MaxConcurrency int `json:"max_concurrency"`
}

// DefaultPolicy returns the policy used when the caller overrides nothing.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     DefaultMaxRetries,
		ConnectTimeout: DefaultConnectTimeout,
		MaxConcurrency: DefaultMaxConcurrency,
	}
}

// Validate reports the first non-positive field.
func (p Policy) Validate() error {
	if p.MaxRetries < 1 {
		return fmt.Errorf("%w: max retries must be at least 1, got %d", ErrInvalidPolicy, p.MaxRetries)
	}
	if p.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: connect timeout must be positive, got %s", ErrInvalidPolicy, p.ConnectTimeout)
	}
	if p.MaxConcurrency < 1 {
		return fmt.Errorf("%w: max concurrency must be at least 1, got %d", ErrInvalidPolicy, p.MaxConcurrency)
	}
	return nil
}

// WithDefaults fills zero fields from DefaultPolicy. Negative values are kept
// so that Validate still rejects them.
func (p Policy) WithDefaults() Policy {
	def := DefaultPolicy()
	if p.MaxRetries == 0 {
		p.MaxRetries = def.MaxRetries
	}
	if p.ConnectTimeout == 0 {
		p.ConnectTimeout = def.ConnectTimeout
	}
	if p.MaxConcurrency == 0 {
		p.MaxConcurrency = def.MaxConcurrency
	}
	return p
}

// PortRange expands an inclusive range into an ordered port list.
func PortRange(start, end int) ([]int, error) {
	if start < 0 || start > 65535 || end < 0 || end > 65535 {
		return nil, fmt.Errorf("%w: ports must be within 0-65535 range", ErrInvalidPort)
	}
	if start > end {
		return nil, fmt.Errorf("%w: start port must be less than or equal to end port", ErrNoPorts)
	}
	ports := make([]int, 0, end-start+1)
	for port := start; port <= end; port++ {
		ports = append(ports, port)
	}
	return ports, nil
}

// ParsePortRange extracts start and end port from string format "start-end".
// A single number is a one-port range.
func ParsePortRange(portRange string) (int, int, error) {
	portRange = strings.TrimSpace(portRange)
	if portRange == "" {
		return 0, 0, ErrNoPorts
	}
	startStr, endStr, isRange := strings.Cut(portRange, "-")
	if !isRange {
		endStr = startStr
	}

	startPort, err := strconv.Atoi(strings.TrimSpace(startStr))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: start port is not a number: %s", ErrInvalidPort, startStr)
	}

	endPort, err := strconv.Atoi(strings.TrimSpace(endStr))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: end port is not a number: %s", ErrInvalidPort, endStr)
	}

	if _, err := PortRange(startPort, endPort); err != nil {
		return 0, 0, err
	}
	return startPort, endPort, nil
}
