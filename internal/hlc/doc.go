// Package hlc implements a hybrid logical clock: physical time paired
// with a logical counter, giving a total, causality-respecting order
// across nodes without synchronized wall clocks. Stamps are the sole
// ordering primitive for conflict resolution; wall-clock columns are
// bookkeeping only.
package hlc
