// Package storage persists the three shapes of the store: the
// current-value table, the append-only change log, and per-peer pull
// cursors. The badger-backed implementation gives the apply path its
// atomicity: recording a change and updating the current value for its
// key happen in a single transaction.
package storage
