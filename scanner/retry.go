package scanner

import (
	"context"
	"log/slog"
)

// Attempt is what a RetryingScanner reports for a port that connected.
type Attempt struct {
	Target   ScanTarget
	Outcome  ProbeOutcome
	Attempts int
}

// RetryingScanner repeats a Prober until a connection succeeds or the
// retry budget is spent.
type RetryingScanner struct {
	Prober Prober
	// Logger receives diagnostics for StateError outcomes. Nil disables them.
	Logger *slog.Logger
}

// NewRetryingScanner wraps prober. A nil prober means a plain ConnectProbe.
func NewRetryingScanner(prober Prober, logger *slog.Logger) *RetryingScanner {
	if prober == nil {
		prober = &ConnectProbe{}
	}
	return &RetryingScanner{Prober: prober, Logger: logger}
}

// validator is implemented by probers whose configuration can be checked
// before any port is dispatched, such as ConnectProbe.
type validator interface {
	Validate() error
}

// validate checks the prober configuration when it supports it.
func (s *RetryingScanner) validate() error {
	if v, ok := s.Prober.(validator); ok {
		return v.Validate()
	}
	return nil
}

// Scan returns ok=false when the target never connected within
// policy.MaxRetries attempts or ctx was cancelled first. Closed and error
// outcomes are retried alike; neither is escalated.
func (s *RetryingScanner) Scan(ctx context.Context, target ScanTarget, policy Policy) (Attempt, bool) {
	for attempt := 1; attempt <= policy.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return Attempt{}, false
		}

		outcome := s.Prober.Probe(ctx, target, policy.ConnectTimeout)
		if outcome.Open() {
			return Attempt{Target: target, Outcome: outcome, Attempts: attempt}, true
		}

		if outcome.State == StateError && s.Logger != nil {
			s.Logger.Debug("connect attempt failed",
				"host", target.Host,
				"port", target.Port,
				"attempt", attempt,
				"max_retries", policy.MaxRetries,
				"error", outcome.Err,
			)
		}
	}
	return Attempt{}, false
}
