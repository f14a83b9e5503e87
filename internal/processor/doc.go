// Package processor runs queued research items one at a time in submission
// order. A single background goroutine owns every processing transition;
// submissions, cancellations, and status queries are safe concurrently.
// Every state change is persisted before its notification is published.
package processor
