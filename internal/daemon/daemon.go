package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"stitch/internal/config"
	"stitch/internal/logging"
	"stitch/internal/queue"
	"stitch/internal/tasks"
	"stitch/internal/workspace"
)

// Daemon coordinates the background worker and API server and enforces
// single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *queue.Store
	worker  *tasks.Manager
	service *tasks.Service
	api     *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	TaskDBPath   string             `json:"taskDbPath"`
	LockFilePath string             `json:"lockFilePath"`
	Health       tasks.HealthReport `json:"health"`
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, worker *tasks.Manager, service *tasks.Service, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || worker == nil || service == nil {
		return nil, errors.New("daemon requires config, store, worker, and task service")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "stitchd.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		worker:   worker,
		service:  service,
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

// Start acquires the daemon lock, sweeps stale workspaces, and launches the
// worker and API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another stitchd instance is already running")
	}

	// Workspaces left behind by a crashed worker are reclaimed before new
	// work starts; anything older than the stuck-task horizon is garbage.
	sweep := workspace.SweepStale(d.cfg.Paths.WorkspaceDir, d.cfg.StuckMaxAge(), d.logger)
	if len(sweep.Removed) > 0 {
		d.logger.Info("startup workspace sweep", logging.Int("removed", len(sweep.Removed)))
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.worker.Start(runCtx); err != nil {
		_ = d.lock.Unlock()
		cancel()
		d.cancel = nil
		return fmt.Errorf("start worker: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		d.worker.Stop()
		_ = d.lock.Unlock()
		cancel()
		d.cancel = nil
		return err
	}

	d.running.Store(true)
	d.logger.Info("stitchd started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.worker.Stop()
	d.api.stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("stitchd stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// APIAddr returns the listen address of the API server. It reflects the
// actual bound port once the daemon has started.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

// Status returns current runtime information with a fresh health probe.
func (d *Daemon) Status(ctx context.Context) Status {
	probeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		TaskDBPath:   d.store.Path(),
		LockFilePath: d.lockPath,
		Health:       d.service.Health(probeCtx),
	}
}
