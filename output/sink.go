package output

import (
	"sync"

	"github.com/jimmychuckball/pythonmap/scanner"
)

// Sink fans out results to multiple formatters. It satisfies
// scanner.Observer so it can be handed straight to a Coordinator.
type Sink struct {
	mu         sync.Mutex
	formatters []Formatter
	err        error
}

// NewSink returns a sink writing to every formatter in order.
func NewSink(formatters ...Formatter) *Sink {
	return &Sink{formatters: formatters}
}

// Add appends a formatter. It is safe to call while a scan is running.
func (s *Sink) Add(f Formatter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.formatters = append(s.formatters, f)
}

// Write passes res to each formatter and stops at the first failure, which
// is also kept for Err.
func (s *Sink) Write(res scanner.ScanResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.formatters {
		if err := f.Write(res); err != nil {
			if s.err == nil {
				s.err = err
			}
			return err
		}
	}
	return nil
}

// OnResult records the first write failure; see Err.
func (s *Sink) OnResult(port int, service, response string) {
	_ = s.Write(scanner.ScanResult{Port: port, Service: service, Response: response})
}

// OnProgress ignores milestones; reports only carry open ports.
func (s *Sink) OnProgress(completed, total int, percent float64) {}

// Err returns the first error seen by OnResult or Write.
func (s *Sink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Flush flushes every formatter and returns the first error.
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, f := range s.formatters {
		if err := f.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
