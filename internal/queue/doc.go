// Package queue persists analysis requests in SQLite and defines their
// lifecycle.
//
// Items move queued -> processing -> completed|failed; transitions are
// monotonic and terminal states never change again. The Store orders items by
// submission sequence (FIFO), resets orphaned processing items to the front of
// the queue on open, and purges terminal items once their retention window
// elapses. Every mutation is transactional, so a crash never leaves torn
// state.
//
// Treat this package as the single source of truth for queue semantics; the
// processor package drives transitions but never bypasses the Store.
package queue
