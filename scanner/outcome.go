package scanner

import "fmt"

// State classifies a single connection attempt.
type State int

const (
	// StateClosed means the connection was refused or timed out.
	StateClosed State = iota
	// StateOpenNoResponse means the connection succeeded but the probe produced no text.
	StateOpenNoResponse
	// StateOpenWithResponse means the connection succeeded and the probe returned text.
	StateOpenWithResponse
	// StateError means a socket-level failure other than a normal closed port.
	StateError
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpenNoResponse:
		return "open"
	case StateOpenWithResponse:
		return "open+response"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ScanTarget is a single (host, port) pair handed to a worker.
type ScanTarget struct {
	Host string
	Port int
}

// ProbeOutcome is the result of one connection attempt.
type ProbeOutcome struct {
	State    State
	Response string // set only for StateOpenWithResponse
	Err      error  // set only for StateError
}

// Open reports whether the attempt connected.
func (o ProbeOutcome) Open() bool {
	return o.State == StateOpenNoResponse || o.State == StateOpenWithResponse
}

func closedOutcome() ProbeOutcome { return ProbeOutcome{State: StateClosed} }

func errorOutcome(err error) ProbeOutcome { return ProbeOutcome{State: StateError, Err: err} }

func openOutcome(response string) ProbeOutcome {
	if response == "" {
		return ProbeOutcome{State: StateOpenNoResponse}
	}
	return ProbeOutcome{State: StateOpenWithResponse, Response: response}
}

// ScanResult describes a port confirmed open.
type ScanResult struct {
	Port     int    `json:"port"`
	Service  string `json:"service"`
	Response string `json:"response"`
}
