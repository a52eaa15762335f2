package kv

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"regionkv/internal/hlc"
	"regionkv/internal/storage"
)

var (
	// ErrNotFound is returned when a key is absent or tombstoned.
	ErrNotFound = errors.New("key not found")
	// ErrEmptyKey rejects writes and reads without a key.
	ErrEmptyKey = errors.New("key cannot be empty")
	// ErrBadChange rejects ingested changes with missing or invalid
	// identity fields.
	ErrBadChange = errors.New("invalid change")
)

// DefaultListLimit caps change-feed pages when the caller does not ask
// for a specific limit.
const DefaultListLimit = 500

// Receipt is what a local write hands back to its caller: the stamp
// the write carries and the change_id under which it replicates.
type Receipt struct {
	Key      string    `json:"key"`
	Stamp    hlc.Stamp `json:"stamp"`
	ChangeID string    `json:"change_id"`
}

// Core ties the clock, the resolver-backed store and this node's
// identity together. It is the single entry point for local writes and
// for changes arriving from peers; no code path mutates the store
// around it.
type Core struct {
	store  storage.Store
	clock  *hlc.Clock
	node   string
	region string
	logger *slog.Logger
}

// New creates a core for one node. The clock is injected, not ambient:
// the same instance must serve every request path so the one-clock-
// per-node invariant holds.
func New(store storage.Store, clock *hlc.Clock, node, region string, logger *slog.Logger) *Core {
	return &Core{
		store:  store,
		clock:  clock,
		node:   node,
		region: region,
		logger: logger.With("node", node, "region", region),
	}
}

// Write records a local upsert: fresh change_id, stamp from this
// node's clock, this region as both updated_by and origin.
func (c *Core) Write(key string, value json.RawMessage) (Receipt, error) {
	return c.localChange(key, value, storage.OpUpsert)
}

// Delete records a local tombstone for the key. Deleting an absent key
// still succeeds: the tombstone guards against writes yet to arrive.
func (c *Core) Delete(key string) (Receipt, error) {
	return c.localChange(key, nil, storage.OpDelete)
}

func (c *Core) localChange(key string, value json.RawMessage, op storage.Op) (Receipt, error) {
	if key == "" {
		return Receipt{}, ErrEmptyKey
	}

	ch := storage.Change{
		ChangeID:  uuid.NewString(),
		Key:       key,
		Value:     value,
		Stamp:     c.clock.Send(),
		UpdatedBy: c.region,
		Origin:    c.region,
		Op:        op,
	}

	outcome, seq, err := c.store.ApplyChange(ch)
	if err != nil {
		return Receipt{}, fmt.Errorf("local %s of %q: %w", op, key, err)
	}
	c.logger.Debug("local change recorded",
		"op", string(op), "key", key, "seq", seq, "outcome", outcome.String())

	return Receipt{Key: key, Stamp: ch.Stamp, ChangeID: ch.ChangeID}, nil
}

// Read returns the live row for a key. Tombstoned and never-written
// keys both read as ErrNotFound.
func (c *Core) Read(key string) (*storage.Item, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	item, err := c.store.GetItem(key)
	if err != nil {
		return nil, err
	}
	if item == nil || item.Deleted {
		return nil, fmt.Errorf("%q: %w", key, ErrNotFound)
	}
	return item, nil
}

// ListChanges pages this node's change log ascending by seq. With
// originOnly set the page is restricted to changes this region
// originated — the set a peer pulls from this node.
func (c *Core) ListChanges(sinceSeq uint64, limit int, originOnly bool) ([]storage.Change, uint64, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	origin := ""
	if originOnly {
		origin = c.region
	}
	return c.store.ListChanges(sinceSeq, limit, origin)
}

// Ingest records a change produced elsewhere, exactly once. The local
// clock observes the change's stamp before anything else, so causality
// advances even when the change turns out to be a duplicate or loses
// conflict resolution. Reports whether the change was newly recorded.
func (c *Core) Ingest(ch storage.Change) (bool, error) {
	if err := validateChange(ch); err != nil {
		return false, err
	}

	c.clock.Receive(ch.Stamp)

	if ch.Origin == "" {
		ch.Origin = ch.UpdatedBy
	}
	// The remote seq is meaningless in this node's log.
	ch.Seq = 0

	outcome, seq, err := c.store.ApplyChange(ch)
	if err != nil {
		return false, fmt.Errorf("ingest change %s: %w", ch.ChangeID, err)
	}
	c.logger.Debug("change ingested",
		"change_id", ch.ChangeID, "key", ch.Key, "origin", ch.Origin,
		"seq", seq, "outcome", outcome.String())

	return outcome != storage.Duplicate, nil
}

// IngestBatch ingests changes in order and reports how many were newly
// recorded. Each change is independently idempotent, so a batch that
// fails midway is safe to retry from the same cursor.
func (c *Core) IngestBatch(changes []storage.Change) (int, error) {
	applied := 0
	for _, ch := range changes {
		ok, err := c.Ingest(ch)
		if err != nil {
			return applied, err
		}
		if ok {
			applied++
		}
	}
	return applied, nil
}

// Node returns this node's id (the clock identity).
func (c *Core) Node() string { return c.node }

// Region returns this node's region id (the origin of local writes).
func (c *Core) Region() string { return c.region }

func validateChange(ch storage.Change) error {
	if err := uuid.Validate(ch.ChangeID); err != nil {
		return fmt.Errorf("%w: change_id %q", ErrBadChange, ch.ChangeID)
	}
	if ch.Key == "" {
		return fmt.Errorf("%w: empty key", ErrBadChange)
	}
	if !ch.Op.Valid() {
		return fmt.Errorf("%w: op %q", ErrBadChange, ch.Op)
	}
	if ch.Stamp.IsZero() {
		return fmt.Errorf("%w: missing stamp", ErrBadChange)
	}
	if ch.UpdatedBy == "" {
		return fmt.Errorf("%w: missing updated_by", ErrBadChange)
	}
	return nil
}
