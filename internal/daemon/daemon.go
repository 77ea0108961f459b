package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"facet/internal/api"
	"facet/internal/config"
	"facet/internal/logging"
	"facet/internal/store"
)

// Daemon coordinates the processing loop and the API server and enforces
// single-instance execution through a lock file.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	service *api.Service
	server  *apiServer

	lockPath string
	lock     *flock.Flock

	sessionID string
	startedAt time.Time

	running atomic.Bool
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, st *store.Store, svc *api.Service, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || st == nil || svc == nil || logger == nil {
		return nil, errors.New("daemon requires config, store, service, and logger")
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "facetd.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		service:  svc,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.server = newAPIServer(cfg, d, svc, logger)
	return d, nil
}

// Start acquires the daemon lock, launches the processing loop, and brings
// up the API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("ensure lock directory: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another facet daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.service.Loop().Start(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return fmt.Errorf("start processing loop: %w", err)
	}
	if err := d.server.start(d.ctx); err != nil {
		d.service.Loop().Stop()
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return err
	}

	d.sessionID = uuid.NewString()
	d.startedAt = time.Now().UTC()
	d.done = make(chan struct{})
	d.running.Store(true)
	d.logger.Info("facet daemon started",
		logging.String("session", d.sessionID),
		logging.String("lock", d.lockPath),
		logging.String("api", d.server.address()))
	return nil
}

// Stop halts background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.CompareAndSwap(true, false) {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.service.Loop().Stop()
	d.server.stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	close(d.done)
	d.logger.Info("facet daemon stopped", logging.String("session", d.sessionID))
}

// RequestShutdown stops the daemon asynchronously so an API handler can
// respond before the server goes away.
func (d *Daemon) RequestShutdown() {
	go func() {
		time.Sleep(100 * time.Millisecond)
		d.Stop()
	}()
}

// Done is closed when the daemon has stopped. It is nil before Start.
func (d *Daemon) Done() <-chan struct{} {
	return d.done
}

// Close stops the daemon and releases the store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Status reports daemon runtime information.
func (d *Daemon) Status() api.DaemonStatus {
	status := api.DaemonStatus{
		Running:   d.running.Load(),
		PID:       os.Getpid(),
		SessionID: d.sessionID,
		DBPath:    d.cfg.DatabasePath(),
		LockPath:  d.lockPath,
	}
	if d.server != nil {
		status.APIAddress = d.server.address()
	}
	if !d.startedAt.IsZero() {
		status.StartedAt = d.startedAt.Format(time.RFC3339)
	}
	return status
}

// Address returns the bound API address, empty before Start.
func (d *Daemon) Address() string {
	if d.server == nil {
		return ""
	}
	return d.server.address()
}
