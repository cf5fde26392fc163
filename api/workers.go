package api

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jimmychuckball/pythonmap/scanner"
)

const (
	defaultPollTimeout = time.Second
	popRetryDelay      = time.Second
)

// errInterrupted marks tasks that were running when the service stopped.
var errInterrupted = errors.New("scan interrupted by shutdown")

// Workers pull task IDs from the queue and run them through a Coordinator.
type Workers struct {
	store       TaskStore
	coordinator *scanner.Coordinator
	logger      *slog.Logger
	// PollTimeout bounds each blocking queue read so shutdown is noticed.
	PollTimeout time.Duration
}

// NewWorkers builds a worker pool around a shared coordinator.
func NewWorkers(store TaskStore, coordinator *scanner.Coordinator, logger *slog.Logger) *Workers {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Workers{store: store, coordinator: coordinator, logger: logger, PollTimeout: defaultPollTimeout}
}

// Run starts numWorkers loops and blocks until ctx is cancelled and every
// loop has returned.
func (w *Workers) Run(ctx context.Context, numWorkers int) error {
	if numWorkers < 1 {
		numWorkers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < numWorkers; i++ {
		id := i
		g.Go(func() error {
			w.loop(ctx, id)
			return nil
		})
	}
	return g.Wait()
}

func (w *Workers) loop(ctx context.Context, workerID int) {
	logger := w.logger.With("worker", workerID)
	for ctx.Err() == nil {
		taskID, err := w.store.PopFromQueue(ctx, w.PollTimeout)
		// An idle poll just loops back to check ctx.
		if errors.Is(err, ErrQueueEmpty) {
			continue
		}
		if err != nil {
			// Shutdown interrupts BRPOP with an error; that is not a failure.
			if ctx.Err() != nil {
				return
			}
			logger.Error("worker failed to pop task", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(popRetryDelay):
			}
			continue
		}
		w.process(ctx, logger, taskID)
	}
}

// process runs one task to a terminal state.
func (w *Workers) process(ctx context.Context, logger *slog.Logger, taskID string) {
	task, err := w.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			logger.Warn("worker task disappeared", "task_id", taskID)
			return
		}
		logger.Error("worker failed to load task", "task_id", taskID, "error", err)
		return
	}

	task.Status = StatusRunning
	task.Error = ""
	task.Results = nil
	task.CompletedAt = nil
	task.Progress = scanner.Progress{}
	if err := w.store.UpdateTask(ctx, task); err != nil {
		logger.Error("worker failed to mark task running", "task_id", taskID, "error", err)
		return
	}

	startPort, endPort, err := scanner.ParsePortRange(task.Ports)
	if err != nil {
		w.failTask(ctx, logger, task, err)
		return
	}

	observer := scanner.ObserverFuncs{
		Progress: func(completed, total int, percent float64) {
			p := scanner.Progress{Completed: completed, Total: total, Percent: percent}
			if err := w.store.UpdateProgress(ctx, task.ID, p); err != nil {
				logger.Warn("worker failed to persist progress", "task_id", task.ID, "error", err)
			}
			task.Progress = p
		},
	}

	// Tasks enqueued without a policy hash field run with the scanner defaults.
	policy := task.Policy.Scanner().WithDefaults()
	results, err := w.coordinator.ScanRange(ctx, task.Host, startPort, endPort, policy, observer)
	if err != nil {
		w.failTask(ctx, logger, task, err)
		return
	}
	// A cancelled scan returns partial results, which must not be published as complete.
	if ctx.Err() != nil {
		w.failTask(ctx, logger, task, errInterrupted)
		return
	}

	scanner.SortByPort(results)
	task.Status = StatusCompleted
	task.Results = results
	now := time.Now().UTC()
	task.CompletedAt = &now

	if err := w.store.UpdateTask(ctx, task); err != nil {
		logger.Error("worker failed to update task", "task_id", task.ID, "error", err)
		return
	}
	logger.Info("scan task completed", "task_id", task.ID, "open", len(results))
}

func (w *Workers) failTask(ctx context.Context, logger *slog.Logger, task *ScanTask, err error) {
	logger.Error("worker task failed", "task_id", task.ID, "error", err)
	task.Status = StatusFailed
	task.Error = err.Error()
	task.Results = nil
	now := time.Now().UTC()
	task.CompletedAt = &now
	// The task must reach a terminal state even when ctx is already done.
	if updateErr := w.store.UpdateTask(context.WithoutCancel(ctx), task); updateErr != nil {
		logger.Error("worker failed to persist failed task", "task_id", task.ID, "error", updateErr)
	}
}
