package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"resonate/internal/config"
	"resonate/internal/core"
	"resonate/internal/logging"
	"resonate/internal/sweeper"
	"resonate/internal/tasks"
)

// Daemon coordinates the API server and sweeper and enforces
// single-instance execution through a file lock.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *tasks.Store
	service *core.Service
	sweeper *sweeper.Sweeper

	lockPath string
	lock     *flock.Flock

	api *apiServer

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	TaskDBPath   string
	LockFilePath string
	Health       tasks.HealthSummary
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *tasks.Store, service *core.Service, sw *sweeper.Sweeper, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || service == nil || sw == nil {
		return nil, errors.New("daemon requires config, store, service, and sweeper")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "resonated.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		service:  service,
		sweeper:  sw,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}

	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the daemon lock and launches the sweeper and API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another resonate daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	if d.api != nil {
		if err := d.api.start(d.ctx); err != nil {
			_ = d.lock.Unlock()
			d.cancel()
			d.ctx = nil
			d.cancel = nil
			return err
		}
	}

	go d.sweeper.Run(d.ctx)

	d.running.Store(true)
	d.logger.Info("resonate daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop shuts down the API server and sweeper, waits for in-flight pipeline
// runs, and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.api != nil {
		d.api.stop()
	}
	d.service.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("resonate daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Service exposes the task operations for the API server.
func (d *Daemon) Service() *core.Service {
	return d.service
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	health, err := d.store.Health(ctx)
	if err != nil {
		d.logger.Warn("read task health", logging.Error(err))
	}
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		TaskDBPath:   d.store.Path(),
		LockFilePath: d.lockPath,
		Health:       health,
	}
}
