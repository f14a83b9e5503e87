package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"praxis/internal/logging"
	"praxis/internal/notify"
	"praxis/internal/queue"
)

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("processor already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(runCtx)
	return nil
}

// Stop terminates background processing and waits for the in-flight item,
// if any, to finish or time out.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !m.flushUnsaved() {
			m.waitOrShutdown(ctx, m.errorRetryDelay)
			continue
		}

		item, err := m.store.NextQueued(ctx)
		if err != nil {
			m.setLastError(err)
			m.logger.Error("failed to fetch next queue item",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_fetch_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
			m.waitOrShutdown(ctx, m.errorRetryDelay)
			continue
		}
		if item == nil {
			m.sweepExpired(ctx)
			m.waitOrShutdown(ctx, m.pollInterval)
			continue
		}

		m.processItem(ctx, item)
	}
}

func (m *Manager) waitOrShutdown(ctx context.Context, wait time.Duration) {
	if wait <= 0 {
		wait = time.Second
	}
	select {
	case <-ctx.Done():
	case <-m.wake:
	case <-time.After(wait):
	}
}

func (m *Manager) processItem(ctx context.Context, item *queue.Item) {
	startedAt := time.Now().UTC()
	m.mu.Lock()
	// Conditional transition: the item may have been cancelled between
	// the queue fetch and this pickup, in which case it must not run.
	picked, err := m.store.MarkProcessing(ctx, item.ID, startedAt)
	if err != nil {
		m.lastErr = err
		m.mu.Unlock()
		m.logger.Error("failed to mark item processing",
			logging.Error(err),
			logging.String(logging.FieldItemID, item.ID),
			logging.String(logging.FieldEventType, "item_transition_failed"),
			logging.String(logging.FieldImpact, "item stays queued and will be retried"),
		)
		m.waitOrShutdown(ctx, m.errorRetryDelay)
		return
	}
	if !picked {
		m.mu.Unlock()
		m.logger.Debug("item gone before pickup, skipping",
			logging.String(logging.FieldItemID, item.ID))
		return
	}
	item.SetProcessing(startedAt)
	m.mu.Unlock()
	m.setCurrent(item)
	m.notifyUpdate()

	m.logger.Info("processing item",
		logging.String(logging.FieldItemID, item.ID),
		logging.String(logging.FieldRequester, item.Requester),
		logging.String("query", item.QueryExcerpt(80)),
	)

	// The analysis runs on a detached context so daemon shutdown lets the
	// in-flight item finish; the timeout still bounds it.
	runCtx, cancel := context.WithTimeout(context.Background(), m.analysisTimeout)
	result, runErr := m.op.Run(runCtx, item.Query)
	cancel()

	now := time.Now().UTC()
	m.mu.Lock()
	if runErr != nil {
		item.SetFailed(failureDetail(runErr, m.analysisTimeout), now)
	} else {
		item.SetCompleted(result, now)
	}
	// The outcome persists on a detached context: during a graceful stop
	// the run context is already cancelled, and the finished item must
	// still reach the store before the daemon exits.
	persistErr := m.persistDetached(item)
	m.mu.Unlock()
	m.setCurrent(nil)

	if persistErr != nil {
		m.setLastError(persistErr)
		m.setUnsaved(item)
		m.logger.Error("failed to persist item outcome",
			logging.Error(persistErr),
			logging.String(logging.FieldItemID, item.ID),
			logging.String(logging.FieldEventType, "item_persist_failed"),
			logging.String(logging.FieldImpact, "outcome persist will be retried"),
		)
		return
	}

	m.publishOutcome(item, runErr)
	m.notifyNewHead(ctx)
	m.sweepExpired(ctx)
	m.notifyUpdate()
}

// persistDetached writes an item on a short background-context timeout so
// the write survives run-context cancellation. Callers hold m.mu.
func (m *Manager) persistDetached(item *queue.Item) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return m.store.Update(ctx, item)
}

func (m *Manager) setUnsaved(item *queue.Item) {
	m.mu.Lock()
	m.unsaved = item
	m.mu.Unlock()
}

// flushUnsaved retries a terminal outcome whose persist failed. Reports
// true when the loop may fetch new work: either nothing is pending or the
// retry succeeded. New items stay untouched until the pending outcome is
// stored, preserving the one-item-at-a-time view.
func (m *Manager) flushUnsaved() bool {
	m.mu.Lock()
	item := m.unsaved
	if item == nil {
		m.mu.Unlock()
		return true
	}
	err := m.persistDetached(item)
	if err == nil {
		m.unsaved = nil
	}
	m.mu.Unlock()

	if err != nil {
		m.setLastError(err)
		m.logger.Error("retrying item outcome persist",
			logging.Error(err),
			logging.String(logging.FieldItemID, item.ID),
			logging.String(logging.FieldEventType, "item_persist_retry_failed"),
		)
		return false
	}
	m.logger.Info("persisted item outcome after retry",
		logging.String(logging.FieldItemID, item.ID))
	var runErr error
	if item.Status == queue.StatusFailed {
		runErr = errors.New(item.ErrorMessage)
	}
	m.publishOutcome(item, runErr)
	m.notifyUpdate()
	return true
}

// publishOutcome logs and notifies the terminal transition already
// persisted for item. A nil runErr means the item completed.
func (m *Manager) publishOutcome(item *queue.Item, runErr error) {
	if runErr != nil {
		m.logger.Warn("item failed",
			logging.Error(runErr),
			logging.String(logging.FieldItemID, item.ID),
			logging.String(logging.FieldRequester, item.Requester),
		)
		m.publish(notify.EventFailed, notify.Notification{
			ItemID:      item.ID,
			Origin:      item.Origin,
			Requester:   item.Requester,
			Query:       item.Query,
			ErrorDetail: item.ErrorMessage,
		})
		return
	}
	m.logger.Info("item completed",
		logging.String(logging.FieldItemID, item.ID),
		logging.String(logging.FieldRequester, item.Requester),
		logging.Duration("elapsed", elapsed(item)),
	)
	m.publish(notify.EventCompleted, notify.Notification{
		ItemID:    item.ID,
		Origin:    item.Origin,
		Requester: item.Requester,
		Query:     item.Query,
		Result:    item.Result,
	})
}

// notifyNewHead tells the next queued item, if any, that it is about to
// start. Called after a transition that can drop an item to position 0.
func (m *Manager) notifyNewHead(ctx context.Context) {
	next, err := m.store.NextQueued(ctx)
	if err != nil || next == nil {
		return
	}
	ahead, err := m.store.CountAhead(ctx, next.Seq)
	if err != nil || ahead != 0 {
		return
	}
	m.publish(notify.EventStarting, notify.Notification{
		ItemID:    next.ID,
		Origin:    next.Origin,
		Requester: next.Requester,
		Query:     next.Query,
	})
}

func (m *Manager) sweepExpired(ctx context.Context) {
	if m.retention <= 0 {
		return
	}
	purged, err := m.store.PurgeExpired(ctx, time.Now().UTC().Add(-m.retention))
	if err != nil {
		m.logger.Warn("terminal item purge failed", logging.Error(err))
		return
	}
	if purged > 0 {
		m.logger.Debug("purged expired terminal items", logging.Int64("count", purged))
	}
}

// publish delivers a notification on a detached timeout context so delivery
// never blocks the loop on a wedged webhook or a shutting-down daemon.
func (m *Manager) publish(event notify.Event, note notify.Notification) {
	if m.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.notifier.Publish(ctx, event, note); err != nil {
		m.logger.Debug("notification delivery failed",
			logging.Error(err),
			logging.String(logging.FieldItemID, note.ItemID),
			logging.String(logging.FieldEventType, string(event)),
		)
	}
}

func failureDetail(err error, timeout time.Duration) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("analysis timed out after %s", timeout)
	}
	detail := strings.TrimSpace(err.Error())
	if detail == "" {
		return "analysis failed"
	}
	return detail
}

func elapsed(item *queue.Item) time.Duration {
	if item.StartedAt == nil || item.FinishedAt == nil {
		return 0
	}
	return item.FinishedAt.Sub(*item.StartedAt)
}
