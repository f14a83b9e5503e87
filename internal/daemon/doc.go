// Package daemon hosts the praxis background process: single-instance
// locking, the HTTP API, and the websocket status stream over the queue
// engine.
package daemon
