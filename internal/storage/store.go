package storage

import (
	"encoding/json"
	"errors"
	"time"

	"regionkv/internal/hlc"
)

// ErrUnavailable marks transient storage failures. Local writes surface
// it to the caller; replication treats it as "batch failed, cursor not
// advanced, retry next tick".
var ErrUnavailable = errors.New("storage unavailable")

// Op is the kind of mutation a change carries.
type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// Valid reports whether the op is one of the known kinds.
func (o Op) Valid() bool {
	return o == OpUpsert || o == OpDelete
}

// Item is the current state of one key. Deleted rows are tombstones:
// the row is kept so a late-arriving older write cannot resurrect the
// key. Stamp is always the maximum stamp ever applied for the key.
type Item struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value,omitempty"`
	Stamp     hlc.Stamp       `json:"stamp"`
	UpdatedBy string          `json:"updated_by"`
	Deleted   bool            `json:"deleted"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Change is one immutable entry of the append-only change log.
// ChangeID is assigned where the write originates and never changes as
// the entry travels between regions; Seq is local to each node's log
// and only used for cursoring.
type Change struct {
	ChangeID  string          `json:"change_id"`
	Seq       uint64          `json:"seq,omitempty"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value,omitempty"`
	Stamp     hlc.Stamp       `json:"stamp"`
	UpdatedBy string          `json:"updated_by"`
	Origin    string          `json:"origin"`
	Op        Op              `json:"op"`
	CreatedAt time.Time       `json:"created_at"`
}

// PeerState is the pull cursor for one configured peer.
type PeerState struct {
	PeerURL      string    `json:"peer_url"`
	LastSeq      uint64    `json:"last_seq"`
	LastPulledAt time.Time `json:"last_pulled_at"`
}

// ApplyOutcome is the result of feeding a change through ApplyChange.
// Rejected and Duplicate are normal outcomes, not errors.
type ApplyOutcome int

const (
	// Applied means the change was newly recorded and won conflict
	// resolution, so the current-value row was updated.
	Applied ApplyOutcome = iota
	// Rejected means the change was newly recorded but lost conflict
	// resolution; the current-value row is untouched.
	Rejected
	// Duplicate means this change_id was already in the log; nothing
	// was written.
	Duplicate
)

// String returns the string representation of the outcome.
func (o ApplyOutcome) String() string {
	switch o {
	case Applied:
		return "APPLIED"
	case Rejected:
		return "REJECTED"
	case Duplicate:
		return "DUPLICATE"
	default:
		return "UNKNOWN"
	}
}

// Store is what the core needs from the underlying engine: an atomic
// read-modify-write per key, an append-only uniquely-keyed change log,
// and a small per-peer cursor table.
type Store interface {
	// GetItem returns the current row for a key, tombstones included,
	// or (nil, nil) when the key has never been written.
	GetItem(key string) (*Item, error)

	// ApplyChange records the change in the log (insert-if-absent by
	// change_id, assigning the next local seq) and, when the insert
	// won, runs conflict resolution and updates the current-value row.
	// Both steps happen in one transaction. The returned seq is the
	// log position of the change, whether newly assigned or already
	// present.
	ApplyChange(ch Change) (ApplyOutcome, uint64, error)

	// ListChanges returns up to limit changes with seq > sinceSeq in
	// ascending seq order. A non-empty origin restricts the page to
	// changes originated by that region. The returned lastSeq is the
	// seq of the final change in the page, or sinceSeq when the page
	// is empty, so cursors only ever move forward.
	ListChanges(sinceSeq uint64, limit int, origin string) ([]Change, uint64, error)

	// PeerState returns the cursor row for a peer, creating it at
	// last_seq 0 on first use.
	PeerState(peerURL string) (PeerState, error)

	// AdvancePeerCursor moves a peer's cursor to lastSeq and stamps
	// last_pulled_at. The cursor never moves backwards; a smaller
	// lastSeq only refreshes the pull time.
	AdvancePeerCursor(peerURL string, lastSeq uint64) error

	Close() error
}
