package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Observer receives open ports and progress while a scan runs. The
// Coordinator never calls it from more than one goroutine at a time, and a
// blocking observer stalls further reporting.
type Observer interface {
	OnResult(port int, service, response string)
	OnProgress(completed, total int, percent float64)
}

// ObserverFuncs adapts optional callbacks to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Result   func(port int, service, response string)
	Progress func(completed, total int, percent float64)
}

// OnResult forwards to Result when it is set.
func (o ObserverFuncs) OnResult(port int, service, response string) {
	if o.Result != nil {
		o.Result(port, service, response)
	}
}

// OnProgress forwards to Progress when it is set.
func (o ObserverFuncs) OnProgress(completed, total int, percent float64) {
	if o.Progress != nil {
		o.Progress(completed, total, percent)
	}
}

// Coordinator fans a port list out over a bounded worker pool.
type Coordinator struct {
	scanner  *RetryingScanner
	resolver ServiceResolver
	logger   *slog.Logger
}

// NewCoordinator wires the retrying scanner and service resolver. Nil
// arguments fall back to a ConnectProbe, an all-"unknown" resolver and a
// discarding logger.
func NewCoordinator(scanner *RetryingScanner, resolver ServiceResolver, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if scanner == nil {
		scanner = NewRetryingScanner(nil, logger)
	}
	if resolver == nil {
		resolver = ResolverFunc(func(int) string { return UnknownService })
	}
	return &Coordinator{scanner: scanner, resolver: resolver, logger: logger}
}

type taskResult struct {
	target  ScanTarget
	attempt Attempt
	open    bool
}

// ScanAll scans every port of host once and returns the open ones after all
// tasks have finished. Only invalid input fails the call; per-port failures
// are absorbed. The result order is completion order.
func (c *Coordinator) ScanAll(ctx context.Context, host string, ports []int, policy Policy, observer Observer) ([]ScanResult, error) {
	if host == "" {
		return nil, ErrNoHost
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	// A misconfigured prober fails the whole scan before dispatch.
	if err := c.scanner.validate(); err != nil {
		return nil, err
	}
	targets, err := buildTargets(host, ports)
	if err != nil {
		return nil, err
	}
	if observer == nil {
		observer = ObserverFuncs{}
	}

	total := len(targets)
	// Never start more workers than there are ports.
	workerCount := policy.MaxConcurrency
	if workerCount > total {
		workerCount = total
	}

	started := time.Now()
	c.logger.Info("scan started",
		"host", host,
		"ports", total,
		"max_retries", policy.MaxRetries,
		"connect_timeout", policy.ConnectTimeout.String(),
		"max_concurrency", workerCount,
	)

	var wg sync.WaitGroup
	jobs := make(chan ScanTarget, workerCount)
	results := make(chan taskResult, workerCount)

	for w := 0; w < workerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for target := range jobs {
				// Scan returns early once ctx is done, so a cancelled run
				// still drains jobs and reports every target.
				attempt, open := c.scanner.Scan(ctx, target, policy)
				results <- taskResult{target: target, attempt: attempt, open: open}
			}
		}()
	}

	go func() {
		for _, target := range targets {
			jobs <- target
		}
		close(jobs)
	}()

	// results closes only after the last worker exits.
	go func() {
		wg.Wait()
		close(results)
	}()

	// Only this goroutine touches the aggregate, the tracker and the observer.
	tracker := newProgressTracker(total)
	scanResults := make([]ScanResult, 0)
	for res := range results {
		if res.open {
			result := ScanResult{
				Port:     res.target.Port,
				Service:  c.resolver.Resolve(res.target.Port),
				Response: res.attempt.Outcome.Response,
			}
			scanResults = append(scanResults, result)
			observer.OnResult(result.Port, result.Service, result.Response)
		}
		if progress, ok := tracker.complete(); ok {
			observer.OnProgress(progress.Completed, progress.Total, progress.Percent)
		}
	}

	c.logger.Info("scan finished",
		"host", host,
		"ports", total,
		"open", len(scanResults),
		"elapsed_ms", time.Since(started).Milliseconds(),
		"cancelled", ctx.Err() != nil,
	)
	return scanResults, nil
}

// ScanRange is ScanAll over the inclusive range start-end.
func (c *Coordinator) ScanRange(ctx context.Context, host string, start, end int, policy Policy, observer Observer) ([]ScanResult, error) {
	ports, err := PortRange(start, end)
	if err != nil {
		return nil, err
	}
	return c.ScanAll(ctx, host, ports, policy, observer)
}

// buildTargets validates ports and drops repeats so that no port is
// scanned twice or concurrently with itself.
func buildTargets(host string, ports []int) ([]ScanTarget, error) {
	if len(ports) == 0 {
		return nil, ErrNoPorts
	}
	seen := make(map[int]struct{}, len(ports))
	targets := make([]ScanTarget, 0, len(ports))
	for _, port := range ports {
		if port < 0 || port > 65535 {
			return nil, fmt.Errorf("%w: %d is outside 0-65535", ErrInvalidPort, port)
		}
		if _, dup := seen[port]; dup {
			continue
		}
		seen[port] = struct{}{}
		targets = append(targets, ScanTarget{Host: host, Port: port})
	}
	return targets, nil
}

// SortByPort orders results by ascending port in place.
func SortByPort(results []ScanResult) {
	sort.Slice(results, func(i, j int) bool { return results[i].Port < results[j].Port })
}
