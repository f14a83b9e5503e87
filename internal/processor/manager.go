package processor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"praxis/internal/config"
	"praxis/internal/logging"
	"praxis/internal/notify"
	"praxis/internal/queue"
)

// Operation runs one query and returns its result. It is opaque to the
// queue engine: the manager only records success or failure.
type Operation interface {
	Run(ctx context.Context, query string) (string, error)
}

// OperationFunc adapts a plain function to the Operation interface.
type OperationFunc func(ctx context.Context, query string) (string, error)

func (f OperationFunc) Run(ctx context.Context, query string) (string, error) {
	return f(ctx, query)
}

// Manager owns the queue lifecycle: it accepts submissions, runs queued
// items one at a time in submission order, and publishes lifecycle
// notifications after each persisted transition.
type Manager struct {
	cfg      *config.Config
	store    *queue.Store
	logger   *slog.Logger
	notifier notify.Service
	op       Operation

	pollInterval    time.Duration
	errorRetryDelay time.Duration
	averageWait     time.Duration
	retention       time.Duration
	analysisTimeout time.Duration

	// wake is signalled by Submit so the loop picks new work up without
	// waiting out the poll interval.
	wake chan struct{}

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastErr  error
	current  *queue.Item
	// unsaved holds a terminal outcome whose persist failed; the loop
	// retries it before fetching new work so the item is not lost.
	unsaved  *queue.Item
	onUpdate func()
}

// NewManager constructs a processing manager over the supplied store.
func NewManager(cfg *config.Config, store *queue.Store, logger *slog.Logger, notifier notify.Service, op Operation) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		cfg:             cfg,
		store:           store,
		logger:          logging.NewComponentLogger(logger, "processor"),
		notifier:        notifier,
		op:              op,
		pollInterval:    time.Duration(cfg.Queue.PollInterval) * time.Second,
		errorRetryDelay: time.Duration(cfg.Queue.ErrorRetryDelay) * time.Second,
		averageWait:     time.Duration(cfg.Queue.AverageSeconds) * time.Second,
		retention:       time.Duration(cfg.Queue.RetentionSeconds) * time.Second,
		analysisTimeout: time.Duration(cfg.Research.TimeoutSeconds) * time.Second,
		wake:            make(chan struct{}, 1),
	}
}

// SetUpdateHook registers a callback invoked after every queue mutation.
// Used by the daemon to push fresh snapshots to websocket subscribers.
func (m *Manager) SetUpdateHook(fn func()) {
	m.mu.Lock()
	m.onUpdate = fn
	m.mu.Unlock()
}

func (m *Manager) notifyUpdate() {
	m.mu.Lock()
	hook := m.onUpdate
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (m *Manager) signalWake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setCurrent(item *queue.Item) {
	m.mu.Lock()
	if item != nil {
		copy := *item
		m.current = &copy
	} else {
		m.current = nil
	}
	m.mu.Unlock()
}
