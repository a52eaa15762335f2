package resolve

import (
	"regionkv/internal/hlc"
)

// Existing is the stored version of a key as the resolver sees it.
// It deliberately carries only the fields the decision needs, so the
// resolver stays decoupled from the storage row shape.
type Existing struct {
	Stamp     hlc.Stamp
	UpdatedBy string
}

// ShouldApply decides whether an incoming write replaces the stored
// version of its key. Pure last-writer-wins over hlc stamps:
//
//   - no stored version: apply
//   - strictly newer stamp: apply
//   - strictly older stamp: reject, tombstones included — a deletion
//     holds only the precedence of its own stamp
//   - equal stamps: lexicographically larger UpdatedBy wins
//
// The node id inside the stamp already breaks cross-node ties, so the
// equal branch is unreachable for stamps produced by this codebase.
// It is kept because stored stamps may predate that guarantee, and the
// tie-break must stay byte-for-byte deterministic: changing it changes
// which of two simultaneous writes every region converges to.
func ShouldApply(existing *Existing, incoming hlc.Stamp, updatedBy string) bool {
	if existing == nil {
		return true
	}

	cmp := incoming.Compare(existing.Stamp)
	if cmp > 0 {
		return true
	}
	if cmp < 0 {
		return false
	}
	return updatedBy > existing.UpdatedBy
}
