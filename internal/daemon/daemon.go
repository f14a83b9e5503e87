package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/gofrs/flock"

	"praxis/internal/config"
	"praxis/internal/logging"
	"praxis/internal/processor"
	"praxis/internal/queue"
)

// Daemon coordinates the queue engine and API server and enforces
// single-instance execution via a lock file.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *queue.Store
	manager *processor.Manager

	lockPath string
	lock     *flock.Flock

	api *apiServer
	hub *statusHub

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	QueueDBPath  string             `json:"queue_db_path"`
	LockFilePath string             `json:"lock_file_path"`
	Queue        processor.Snapshot `json:"queue"`
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, mgr *processor.Manager) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil || mgr == nil {
		return nil, errors.New("daemon requires config, store, logger, and processor manager")
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		manager:  mgr,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock and launches the processing loop and
// the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another praxis daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.manager.Start(runCtx); err != nil {
		_ = d.lock.Unlock()
		cancel()
		d.cancel = nil
		return fmt.Errorf("start processor: %w", err)
	}

	d.hub = newStatusHub(d.logger, d.manager.Snapshot)
	d.manager.SetUpdateHook(d.hub.Broadcast)

	api, err := newAPIServer(d.cfg, d, d.logger)
	if err != nil {
		d.manager.Stop()
		_ = d.lock.Unlock()
		cancel()
		d.cancel = nil
		return err
	}
	d.api = api
	if d.api != nil {
		if err := d.api.start(runCtx); err != nil {
			d.manager.Stop()
			_ = d.lock.Unlock()
			cancel()
			d.cancel = nil
			return err
		}
	}

	d.running.Store(true)
	d.logger.Info("praxis daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop shuts the API down, waits for the in-flight item, and releases the
// instance lock. Safe to call more than once.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.api != nil {
		d.api.stop()
		d.api = nil
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.manager.Stop()
	if d.hub != nil {
		d.hub.Close()
		d.hub = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("praxis daemon stopped")
}

// Close stops the daemon and closes the store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Status reports daemon runtime information.
func (d *Daemon) Status(ctx context.Context) Status {
	snapshot, err := d.manager.Snapshot(ctx)
	if err != nil {
		d.logger.Warn("queue snapshot unavailable for status", logging.Error(err))
	}
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		QueueDBPath:  d.cfg.DatabasePath(),
		LockFilePath: d.lockPath,
		Queue:        snapshot,
	}
}

// APIAddr returns the bound API address, or empty when the API is not
// running. The bind port may differ from config when ":0" was requested.
func (d *Daemon) APIAddr() string {
	if d.api == nil || d.api.listener == nil {
		return ""
	}
	return d.api.listener.Addr().String()
}
