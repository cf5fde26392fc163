package scanner

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// UnknownService is returned for ports without a well-known name.
const UnknownService = "unknown"

// ServiceResolver maps a port number to a best-effort service name.
// Implementations must not perform network I/O and must not fail.
type ServiceResolver interface {
	Resolve(port int) string
}

// ResolverFunc adapts a plain function to ServiceResolver.
type ResolverFunc func(port int) string

// Resolve calls f.
func (f ResolverFunc) Resolve(port int) string { return f(port) }

// ServiceTable caches loaded tcp service names for fast lookup.
type ServiceTable struct {
	byPort map[int]string
}

// NewServiceTable builds a table from a port -> name map.
func NewServiceTable(entries map[int]string) *ServiceTable {
	table := &ServiceTable{byPort: make(map[int]string, len(entries))}
	for port, name := range entries {
		table.byPort[port] = name
	}
	return table
}

// Resolve returns UnknownService for unmapped ports.
func (t *ServiceTable) Resolve(port int) string {
	if t == nil {
		return UnknownService
	}
	if name, ok := t.byPort[port]; ok {
		return name
	}
	return UnknownService
}

// Len returns the number of mapped ports.
func (t *ServiceTable) Len() int { return len(t.byPort) }

// LoadStats summarizes a services file parse.
type LoadStats struct {
	Entries    int
	ErrorLines []int
}

// SystemServicesFile is tried when no services file is configured.
const SystemServicesFile = "/etc/services"

// LoadResolver prefers an explicit services file, then the system one, then
// the built-in table. It never fails.
func LoadResolver(path string, logger *slog.Logger) ServiceResolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	candidate := path
	if candidate == "" {
		candidate = SystemServicesFile
	}
	table, stats, err := LoadServices(candidate)
	if err != nil {
		if path != "" {
			logger.Warn("services file unavailable, using built-in table", "path", candidate, "error", err)
		}
		return DefaultServices()
	}
	if len(stats.ErrorLines) > 0 {
		logger.Debug("services loader skipped lines", "path", candidate, "count", len(stats.ErrorLines))
	}
	return table
}

// LoadServices reads a services(5) style file, e.g. /etc/services.
func LoadServices(filePath string) (*ServiceTable, LoadStats, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, LoadStats{}, fmt.Errorf("cannot open file %s: %w", filePath, err)
	}
	defer file.Close()

	return ParseServices(file)
}

// ParseServices parses lines of the form
//
//	name  port/proto  [aliases...]  [# comment]
//
// Only tcp entries are kept and the first entry for a port wins.
// Malformed lines are skipped and reported in LoadStats.ErrorLines.
func ParseServices(r io.Reader) (*ServiceTable, LoadStats, error) {
	table := &ServiceTable{byPort: make(map[int]string)}
	var stats LoadStats

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		name, port, proto, err := parseServiceLine(line)
		if err != nil {
			stats.ErrorLines = append(stats.ErrorLines, lineNum)
			continue
		}
		if proto != "tcp" {
			continue
		}
		if _, exists := table.byPort[port]; exists {
			continue
		}
		table.byPort[port] = name
		stats.Entries++
	}

	if err := scanner.Err(); err != nil {
		return nil, stats, fmt.Errorf("error reading services: %w", err)
	}
	return table, stats, nil
}

func parseServiceLine(line string) (string, int, string, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", 0, "", fmt.Errorf("invalid service format")
	}

	portStr, proto, ok := strings.Cut(fields[1], "/")
	if !ok {
		return "", 0, "", fmt.Errorf("invalid port/proto: %s", fields[1])
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return "", 0, "", fmt.Errorf("invalid port: %s", portStr)
	}
	return fields[0], port, strings.ToLower(proto), nil
}

// DefaultServices returns a built-in table of common tcp services.
func DefaultServices() *ServiceTable {
	return NewServiceTable(map[int]string{
		7:     "echo",
		20:    "ftp-data",
		21:    "ftp",
		22:    "ssh",
		23:    "telnet",
		25:    "smtp",
		53:    "domain",
		79:    "finger",
		80:    "http",
		88:    "kerberos",
		110:   "pop3",
		111:   "sunrpc",
		119:   "nntp",
		123:   "ntp",
		135:   "epmap",
		139:   "netbios-ssn",
		143:   "imap2",
		179:   "bgp",
		389:   "ldap",
		443:   "https",
		445:   "microsoft-ds",
		465:   "submissions",
		514:   "shell",
		515:   "printer",
		587:   "submission",
		631:   "ipp",
		636:   "ldaps",
		873:   "rsync",
		993:   "imaps",
		995:   "pop3s",
		1080:  "socks",
		1433:  "ms-sql-s",
		1521:  "ncube-lm",
		1883:  "mqtt",
		2049:  "nfs",
		3306:  "mysql",
		3389:  "ms-wbt-server",
		5432:  "postgresql",
		5672:  "amqp",
		5900:  "rfb",
		6379:  "redis",
		8080:  "http-alt",
		9200:  "wap-wsp",
		11211: "memcache",
		27017: "mongodb",
	})
}
