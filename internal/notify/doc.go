// Package notify delivers queue lifecycle events to requesters through a
// configured webhook.
//
// The Service interface is the notification port of the queue engine:
// delivery is best-effort and strictly subordinate to persisted state, so a
// notifier outage never affects queue correctness. A Recorder double is
// provided for tests.
package notify
