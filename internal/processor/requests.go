package processor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"praxis/internal/logging"
	"praxis/internal/notify"
	"praxis/internal/queue"
)

// Submit validates and enqueues a query. The returned item carries its
// assigned ID and sequence; use Position for its place in line.
func (m *Manager) Submit(ctx context.Context, requester, query, origin string) (*queue.Item, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query must not be empty", queue.ErrValidation)
	}
	if max := m.cfg.Queue.MaxQueryLength; max > 0 && len(query) > max {
		return nil, fmt.Errorf("%w: query exceeds %d characters", queue.ErrValidation, max)
	}
	requester = strings.TrimSpace(requester)
	if requester == "" {
		return nil, fmt.Errorf("%w: requester must not be empty", queue.ErrValidation)
	}

	m.mu.Lock()
	active, err := m.store.ActiveCount(ctx)
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("submit: %w", err)
	}
	if active >= m.cfg.Queue.Capacity {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: queue is full (%d items)", queue.ErrCapacity, active)
	}
	item := &queue.Item{
		ID:          queue.NewItemID(),
		Requester:   requester,
		Origin:      origin,
		Query:       query,
		Status:      queue.StatusQueued,
		SubmittedAt: time.Now().UTC(),
	}
	if err := m.store.Insert(ctx, item); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("submit: %w", err)
	}
	m.mu.Unlock()

	position, err := m.store.CountAhead(ctx, item.Seq)
	if err != nil {
		m.logger.Warn("position unavailable for new item", logging.Error(err),
			logging.String(logging.FieldItemID, item.ID))
		position = 0
	}

	m.logger.Info("item queued",
		logging.String(logging.FieldItemID, item.ID),
		logging.String(logging.FieldRequester, requester),
		logging.Int(logging.FieldPosition, position),
	)

	// The front of an empty queue starts immediately; telling the
	// requester they are "queued at position #0" would only confuse.
	if position > 0 {
		m.publish(notify.EventQueued, notify.Notification{
			ItemID:    item.ID,
			Origin:    item.Origin,
			Requester: item.Requester,
			Query:     item.Query,
			Position:  position,
			Wait:      m.EstimatedWait(position),
		})
	}

	m.signalWake()
	m.notifyUpdate()
	return item, nil
}

// Cancel removes a queued item. Items already processing or finished are
// left alone; cancelling those, or an unknown ID, returns false with no
// error. When requester is non-empty the item must belong to them.
func (m *Manager) Cancel(ctx context.Context, id, requester string) (bool, error) {
	m.mu.Lock()
	item, err := m.store.GetByID(ctx, id)
	if err != nil {
		m.mu.Unlock()
		return false, fmt.Errorf("cancel: %w", err)
	}
	if item == nil || item.Status != queue.StatusQueued {
		m.mu.Unlock()
		return false, nil
	}
	if requester != "" && item.Requester != requester {
		m.mu.Unlock()
		return false, nil
	}
	ahead, aheadErr := m.store.CountAhead(ctx, item.Seq)
	removed, err := m.store.Remove(ctx, id)
	m.mu.Unlock()
	if err != nil {
		return false, fmt.Errorf("cancel: %w", err)
	}
	if !removed {
		return false, nil
	}

	m.logger.Info("item cancelled",
		logging.String(logging.FieldItemID, id),
		logging.String(logging.FieldRequester, item.Requester),
	)
	// Removing the head item promotes its successor to position 0.
	if aheadErr == nil && ahead == 0 {
		m.notifyNewHead(ctx)
	}
	m.notifyUpdate()
	return true, nil
}

// Position reports how many non-terminal items precede the given item.
// A processing item is at position 0.
func (m *Manager) Position(ctx context.Context, id string) (int, error) {
	item, err := m.store.GetByID(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("position: %w", err)
	}
	if item == nil {
		return 0, fmt.Errorf("%w: item %s", queue.ErrNotFound, id)
	}
	if item.Status == queue.StatusProcessing {
		return 0, nil
	}
	if item.Status.IsTerminal() {
		return 0, nil
	}
	ahead, err := m.store.CountAhead(ctx, item.Seq)
	if err != nil {
		return 0, fmt.Errorf("position: %w", err)
	}
	return ahead, nil
}

// EstimatedWait converts a queue position into a rough wait estimate.
func (m *Manager) EstimatedWait(position int) time.Duration {
	if position < 0 {
		position = 0
	}
	return time.Duration(position) * m.averageWait
}
