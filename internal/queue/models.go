package queue

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle of a queue item.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var allStatuses = []Status{
	StatusQueued,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status is final.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsActive reports whether a status still counts against queue capacity.
func (s Status) IsActive() bool {
	return s == StatusQueued || s == StatusProcessing
}

// Item represents one analysis request persisted in SQLite.
//
// Seq is the submission sequence and the sole FIFO ordering key. Orphan
// recovery may assign a sequence smaller than any live one to move an item to
// the front of the queue.
type Item struct {
	ID           string     `json:"id"`
	Seq          int64      `json:"seq"`
	Requester    string     `json:"requester"`
	Origin       string     `json:"origin"`
	Query        string     `json:"query"`
	Status       Status     `json:"status"`
	SubmittedAt  time.Time  `json:"submitted_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Result       string     `json:"result,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// NewItemID generates a short item identifier.
func NewItemID() string {
	return uuid.NewString()[:8]
}

// IsTerminal reports whether the item reached a final state.
func (i Item) IsTerminal() bool {
	return i.Status.IsTerminal()
}

// IsActive reports whether the item is queued or processing.
func (i Item) IsActive() bool {
	return i.Status.IsActive()
}

// SetProcessing marks the item as the single in-flight request.
func (i *Item) SetProcessing(now time.Time) {
	started := now.UTC()
	i.Status = StatusProcessing
	i.StartedAt = &started
}

// SetCompleted records a successful result and finishes the item.
func (i *Item) SetCompleted(result string, now time.Time) {
	finished := now.UTC()
	i.Status = StatusCompleted
	i.Result = result
	i.ErrorMessage = ""
	i.FinishedAt = &finished
}

// SetFailed records a failure detail and finishes the item.
func (i *Item) SetFailed(detail string, now time.Time) {
	finished := now.UTC()
	i.Status = StatusFailed
	i.ErrorMessage = detail
	i.Result = ""
	i.FinishedAt = &finished
}

// ExpiresAt returns when a terminal item leaves the store; zero for
// non-terminal items.
func (i Item) ExpiresAt(retention time.Duration) time.Time {
	if !i.IsTerminal() || i.FinishedAt == nil {
		return time.Time{}
	}
	return i.FinishedAt.Add(retention)
}

// QueryExcerpt returns the query truncated for notifications and logs.
func (i Item) QueryExcerpt(limit int) string {
	trimmed := strings.TrimSpace(i.Query)
	if limit <= 0 || len(trimmed) <= limit {
		return trimmed
	}
	return trimmed[:limit] + "..."
}

// HealthSummary describes aggregated queue counts per lifecycle state.
type HealthSummary struct {
	Total      int
	Queued     int
	Processing int
	Completed  int
	Failed     int
}

// DatabaseHealth captures diagnostic information about the queue database.
type DatabaseHealth struct {
	DBPath           string `json:"db_path"`
	DatabaseExists   bool   `json:"database_exists"`
	DatabaseReadable bool   `json:"database_readable"`
	TableExists      bool   `json:"table_exists"`
	IntegrityCheck   bool   `json:"integrity_check"`
	TotalItems       int    `json:"total_items"`
	Error            string `json:"error,omitempty"`
}

// Healthy reports whether every diagnostic check passed.
func (h DatabaseHealth) Healthy() bool {
	return h.DatabaseExists && h.DatabaseReadable && h.TableExists && h.IntegrityCheck && h.Error == ""
}
