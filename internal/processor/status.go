package processor

import (
	"context"
	"fmt"
	"time"

	"praxis/internal/logging"
	"praxis/internal/queue"
)

// Snapshot is a point-in-time view of the queue for status surfaces.
type Snapshot struct {
	Running       bool                 `json:"running"`
	QueueSize     int                  `json:"queue_size"`
	Capacity      int                  `json:"capacity"`
	IsProcessing  bool                 `json:"is_processing"`
	CurrentItemID string               `json:"current_item_id,omitempty"`
	ActiveItems   []*queue.Item        `json:"active_items"`
	Stats         map[queue.Status]int `json:"stats"`
	LastError     string               `json:"last_error,omitempty"`
}

// UserStatus describes a requester's earliest active item.
type UserStatus struct {
	Item     *queue.Item   `json:"item"`
	Position int           `json:"position"`
	Wait     time.Duration `json:"wait"`
}

// Snapshot collects queue state. It reads under the manager lock for the
// in-memory fields and from the store for item state; it never blocks on
// the analysis call.
func (m *Manager) Snapshot(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	running := m.running
	current := m.current
	lastErr := m.lastErr
	m.mu.Unlock()

	active, err := m.store.List(ctx, queue.StatusQueued, queue.StatusProcessing)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: %w", err)
	}
	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("queue stats unavailable for snapshot", logging.Error(err))
	}

	snap := Snapshot{
		Running:     running,
		QueueSize:   len(active),
		Capacity:    m.cfg.Queue.Capacity,
		ActiveItems: active,
		Stats:       stats,
	}
	if current != nil {
		snap.IsProcessing = true
		snap.CurrentItemID = current.ID
	}
	if lastErr != nil {
		snap.LastError = lastErr.Error()
	}
	return snap, nil
}

// UserStatus reports the earliest non-terminal item for a requester with
// its position and wait estimate. Returns ErrNotFound when the requester
// has nothing in flight.
func (m *Manager) UserStatus(ctx context.Context, requester string) (UserStatus, error) {
	item, err := m.store.ActiveForRequester(ctx, requester)
	if err != nil {
		return UserStatus{}, fmt.Errorf("user status: %w", err)
	}
	if item == nil {
		return UserStatus{}, fmt.Errorf("%w: no active item for %s", queue.ErrNotFound, requester)
	}
	position := 0
	if item.Status == queue.StatusQueued {
		position, err = m.store.CountAhead(ctx, item.Seq)
		if err != nil {
			return UserStatus{}, fmt.Errorf("user status: %w", err)
		}
	}
	return UserStatus{
		Item:     item,
		Position: position,
		Wait:     m.EstimatedWait(position),
	}, nil
}
