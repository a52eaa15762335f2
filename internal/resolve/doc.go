// Package resolve holds the pure conflict-resolution rule for
// concurrent writes: last-writer-wins by hlc stamp with a
// deterministic tie-break. No I/O, no state.
package resolve
