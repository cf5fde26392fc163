package api

import (
	"time"

	"github.com/jimmychuckball/pythonmap/scanner"
)

// Task lifecycle states.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ScanTask represents a scanning job managed by the API service.
type ScanTask struct {
	// ID is the immutable identifier of the scan task (UUID v4).
	ID string `json:"id" format:"uuid" example:"a3f5c62e-1234-4f72-a84a-1c2d3e4f5678" description:"Immutable UUIDv4 identifier assigned when the task is accepted. Reuse it when polling."`
	// Status reflects the asynchronous lifecycle state of the task.
	Status string `json:"status" enums:"pending,running,completed,failed" example:"running" description:"pending while queued, running while ports are probed, completed once results are attached, failed on an unrecoverable worker-side issue."`
	// Host is the single target of the scan.
	Host string `json:"host" example:"scanme.nmap.org" description:"IPv4 literal or resolvable hostname."`
	// Ports is the inclusive range that was requested.
	Ports string `json:"ports" example:"20-100" description:"Inclusive range start-end, or a single port."`
	// Policy is the effective retry, timeout and concurrency setting.
	Policy TaskPolicy `json:"policy"`
	// Progress is updated at every milestone while the task runs.
	Progress scanner.Progress `json:"progress"`
	// Results holds the open ports once the task completes, sorted by port.
	Results []scanner.ScanResult `json:"results,omitempty" description:"Open ports sorted ascending. Present only after the task reaches completed."`
	// CreatedAt records when the task was created.
	CreatedAt time.Time `json:"created_at" format:"date-time" example:"2024-01-02T15:04:05Z"`
	// CompletedAt is set once the task transitions to a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty" format:"date-time" example:"2024-01-02T15:06:30Z"`
	// Error contains context when a task fails.
	Error string `json:"error,omitempty" example:"no target host" description:"Present only when status equals failed."`
}

// TaskPolicy is the JSON form of scanner.Policy.
type TaskPolicy struct {
	Retries     int `json:"retries" example:"5"`
	TimeoutMS   int `json:"timeout_ms" example:"3000"`
	Concurrency int `json:"concurrency" example:"50"`
}

func policyFrom(p scanner.Policy) TaskPolicy {
	return TaskPolicy{
		Retries:     p.MaxRetries,
		TimeoutMS:   int(p.ConnectTimeout / time.Millisecond),
		Concurrency: p.MaxConcurrency,
	}
}

// Scanner converts the stored policy back for the coordinator.
func (p TaskPolicy) Scanner() scanner.Policy {
	return scanner.Policy{
		MaxRetries:     p.Retries,
		ConnectTimeout: time.Duration(p.TimeoutMS) * time.Millisecond,
		MaxConcurrency: p.Concurrency,
	}
}

// CreateScanRequest is the payload for creating new scan tasks.
type CreateScanRequest struct {
	// Host is the hostname or IP address to probe.
	Host string `json:"host" binding:"required" example:"scanme.nmap.org" description:"Target to scan."`
	// Ports is an inclusive range start-end or a single port.
	Ports string `json:"ports" binding:"required" example:"20-100" description:"Inclusive range using a hyphen, e.g. 20-100."`
	// Retries overrides the number of connection attempts per port.
	Retries *int `json:"retries,omitempty" binding:"omitempty,min=1" example:"5"`
	// TimeoutMS overrides the per-attempt connect and read timeout.
	TimeoutMS *int `json:"timeout_ms,omitempty" binding:"omitempty,min=1" example:"3000"`
	// Concurrency overrides the number of in-flight connection attempts.
	Concurrency *int `json:"concurrency,omitempty" binding:"omitempty,min=1" example:"50"`
}

// ScanAcceptedResponse captures the asynchronous acknowledgement returned after job submission.
type ScanAcceptedResponse struct {
	// ID mirrors the queued task identifier returned to clients for polling.
	ID string `json:"id" format:"uuid" example:"a3f5c62e-1234-4f72-a84a-1c2d3e4f5678"`
	// Status is always pending immediately after acceptance.
	Status string `json:"status" enums:"pending" example:"pending"`
}

// ErrorResponse provides a consistent structure for API error payloads.
type ErrorResponse struct {
	// Error is a human-readable explanation of why the request failed.
	Error string `json:"error" example:"task not found"`
}
