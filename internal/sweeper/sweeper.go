// Package sweeper recovers tasks that stopped moving: processing jobs whose
// webhook never arrived are polled against their backend, and tasks stranded
// before submission are pushed back through dispatch.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"resonate/internal/logging"
	"resonate/internal/providers"
	"resonate/internal/services"
	"resonate/internal/tasks"
)

// Applier folds a provider notification into a task.
type Applier interface {
	Apply(ctx context.Context, task *tasks.Task, n *providers.Notification) error
}

// Redriver pushes a stranded pre-flight task back through dispatch.
type Redriver interface {
	Dispatch(ctx context.Context, task *tasks.Task) error
}

// Poller reads the current state of one backend job.
type Poller interface {
	Poll(ctx context.Context, jobID string) (*providers.Notification, error)
}

// Sweeper periodically scans for stuck tasks and recovers them.
type Sweeper struct {
	store      *tasks.Store
	pollers    map[providers.Kind]Poller
	reconciler Applier
	dispatcher Redriver
	interval   time.Duration
	timeout    time.Duration
	logger     *slog.Logger
}

// New builds a sweeper. pollers maps each backend kind to its job-status
// client so tasks submitted under either provider can be reconciled.
func New(store *tasks.Store, pollers map[providers.Kind]Poller, reconciler Applier, dispatcher Redriver, interval, processingTimeout time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if processingTimeout <= 0 {
		processingTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Sweeper{
		store:      store,
		pollers:    pollers,
		reconciler: reconciler,
		dispatcher: dispatcher,
		interval:   interval,
		timeout:    processingTimeout,
		logger:     logging.WithComponent(logger, "sweeper"),
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started",
		logging.Duration("interval", s.interval),
		logging.Duration("processing_timeout", s.timeout))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one recovery pass. Each stuck task is handled in its own
// goroutine so one slow or failing backend call never blocks the rest of
// the pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.timeout)

	var wg sync.WaitGroup

	stale, err := s.store.StuckProcessing(ctx, cutoff)
	if err != nil {
		s.logger.Error("scan for stale processing tasks", logging.Error(err))
	} else {
		for _, task := range stale {
			wg.Add(1)
			go func(task *tasks.Task) {
				defer wg.Done()
				s.recoverProcessing(ctx, task)
			}(task)
		}
	}

	stranded, err := s.store.StuckPreDispatch(ctx, cutoff)
	if err != nil {
		s.logger.Error("scan for stranded pre-flight tasks", logging.Error(err))
	} else {
		for _, task := range stranded {
			wg.Add(1)
			go func(task *tasks.Task) {
				defer wg.Done()
				s.redrive(ctx, task)
			}(task)
		}
	}

	wg.Wait()
}

// recoverProcessing polls the backend for a task whose webhook went missing
// and applies whatever state the backend reports.
func (s *Sweeper) recoverProcessing(ctx context.Context, task *tasks.Task) {
	kind := providers.Kind(task.Provider)
	poller, ok := s.pollers[kind]
	if !ok {
		s.logger.Error("no poller for task's backend",
			logging.String(logging.FieldTaskID, task.ID),
			logging.String(logging.FieldProvider, task.Provider))
		return
	}

	n, err := poller.Poll(ctx, task.ProviderJobID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			if _, failErr := s.store.Fail(ctx, task.ID, task.Status, "Backend no longer knows this job."); failErr != nil {
				s.logger.Error("fail orphaned task",
					logging.String(logging.FieldTaskID, task.ID),
					logging.Error(failErr))
				return
			}
			s.logger.Warn("backend lost job, task failed",
				logging.String(logging.FieldTaskID, task.ID),
				logging.String(logging.FieldJobID, task.ProviderJobID))
			return
		}
		s.logger.Warn("poll failed, will retry next sweep",
			logging.String(logging.FieldTaskID, task.ID),
			logging.Error(err))
		return
	}

	if err := s.reconciler.Apply(ctx, task, n); err != nil {
		s.logger.Error("reconcile polled state",
			logging.String(logging.FieldTaskID, task.ID),
			logging.Error(err))
	}
}

// redrive pushes a stranded pre-flight task back through dispatch.
func (s *Sweeper) redrive(ctx context.Context, task *tasks.Task) {
	s.logger.Info("re-driving stranded task",
		logging.String(logging.FieldTaskID, task.ID),
		logging.String(logging.FieldStatus, string(task.Status)))

	if err := s.dispatcher.Dispatch(ctx, task); err != nil {
		s.logger.Warn("re-drive failed, will retry next sweep",
			logging.String(logging.FieldTaskID, task.ID),
			logging.Error(err))
	}
}
