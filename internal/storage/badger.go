package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"regionkv/internal/resolve"
)

// Key prefixes. Change-log keys embed the seq as 8 big-endian bytes so
// an ascending key scan is an ascending seq scan.
const (
	prefixItem   = "item/"
	prefixChange = "chg/"
	prefixChgID  = "chgid/"
	prefixPeer   = "peer/"
	keyLastSeq   = "meta/last_seq"
)

// Config holds configuration for a badger-backed store.
type Config struct {
	// Path is the directory for the database files. Ignored when
	// InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Used by tests.
	InMemory bool

	// SyncWrites makes every commit hit disk before returning.
	SyncWrites bool

	// Logger receives badger's internal logging at debug level.
	// If nil, badger's logging is silenced.
	Logger *slog.Logger
}

// BadgerStore implements Store on top of badger.
//
// Log appends are serialized by appendMu: seq numbers are assigned
// inside the transaction from a counter key, and serializing commits
// guarantees the change feed never exposes seq n+1 before n is
// readable. Reads and cursor updates do not take the lock.
type BadgerStore struct {
	db       *badger.DB
	appendMu sync.Mutex
}

// Open opens (or creates) a store with the given configuration.
func Open(cfg Config) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(newBadgerLogger(cfg.Logger))
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", cfg.Path, err)
	}
	return &BadgerStore{db: db}, nil
}

// Close releases the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// GetItem returns the current row for a key, tombstones included.
func (s *BadgerStore) GetItem(key string) (*Item, error) {
	var item *Item
	err := s.db.View(func(txn *badger.Txn) error {
		got, err := getJSON[Item](txn, []byte(prefixItem+key))
		if err != nil {
			return err
		}
		item = got
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get item %q: %w: %w", key, ErrUnavailable, err)
	}
	return item, nil
}

// ApplyChange records the change and conditionally updates the
// current-value row, atomically.
func (s *BadgerStore) ApplyChange(ch Change) (ApplyOutcome, uint64, error) {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	idKey := []byte(prefixChgID + ch.ChangeID)
	existing, err := txn.Get(idKey)
	switch {
	case err == nil:
		// Duplicate delivery: report the seq the change already holds.
		raw, err := existing.ValueCopy(nil)
		if err != nil {
			return Duplicate, 0, fmt.Errorf("read duplicate change %s: %w: %w", ch.ChangeID, ErrUnavailable, err)
		}
		return Duplicate, binary.BigEndian.Uint64(raw), nil
	case !errors.Is(err, badger.ErrKeyNotFound):
		return Rejected, 0, fmt.Errorf("probe change %s: %w: %w", ch.ChangeID, ErrUnavailable, err)
	}

	seq, err := s.nextSeq(txn)
	if err != nil {
		return Rejected, 0, err
	}

	now := time.Now().UTC()
	ch.Seq = seq
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = now
	}

	if err := setJSON(txn, changeKey(seq), ch); err != nil {
		return Rejected, 0, err
	}
	seqBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(seqBytes, seq)
	if err := txn.Set(idKey, seqBytes); err != nil {
		return Rejected, 0, fmt.Errorf("index change %s: %w: %w", ch.ChangeID, ErrUnavailable, err)
	}

	current, err := getJSON[Item](txn, []byte(prefixItem+ch.Key))
	if err != nil {
		return Rejected, 0, fmt.Errorf("read current row %q: %w: %w", ch.Key, ErrUnavailable, err)
	}

	outcome := Rejected
	if resolve.ShouldApply(existingView(current), ch.Stamp, ch.UpdatedBy) {
		item := Item{
			Key:       ch.Key,
			Stamp:     ch.Stamp,
			UpdatedBy: ch.UpdatedBy,
			Deleted:   ch.Op == OpDelete,
			UpdatedAt: now,
		}
		if ch.Op != OpDelete {
			item.Value = ch.Value
		}
		if err := setJSON(txn, []byte(prefixItem+ch.Key), item); err != nil {
			return Rejected, 0, err
		}
		outcome = Applied
	}

	if err := txn.Commit(); err != nil {
		return Rejected, 0, fmt.Errorf("commit change %s: %w: %w", ch.ChangeID, ErrUnavailable, err)
	}
	return outcome, seq, nil
}

// ListChanges pages the change log ascending by seq.
func (s *BadgerStore) ListChanges(sinceSeq uint64, limit int, origin string) ([]Change, uint64, error) {
	changes := make([]Change, 0, limit)
	lastSeq := sinceSeq

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixChange)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(changeKey(sinceSeq + 1)); it.Valid() && len(changes) < limit; it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var ch Change
			if err := json.Unmarshal(raw, &ch); err != nil {
				return err
			}
			if origin != "" && ch.Origin != origin {
				continue
			}
			changes = append(changes, ch)
			lastSeq = ch.Seq
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list changes since %d: %w: %w", sinceSeq, ErrUnavailable, err)
	}
	return changes, lastSeq, nil
}

// PeerState returns the cursor for a peer, creating it on first use.
func (s *BadgerStore) PeerState(peerURL string) (PeerState, error) {
	var state PeerState
	err := s.db.Update(func(txn *badger.Txn) error {
		key := []byte(prefixPeer + peerURL)
		got, err := getJSON[PeerState](txn, key)
		if err != nil {
			return err
		}
		if got != nil {
			state = *got
			return nil
		}
		state = PeerState{PeerURL: peerURL, LastPulledAt: time.Now().UTC()}
		return setJSON(txn, key, state)
	})
	if err != nil {
		return PeerState{}, fmt.Errorf("peer state %q: %w: %w", peerURL, ErrUnavailable, err)
	}
	return state, nil
}

// AdvancePeerCursor moves a peer's cursor forward, never backwards.
func (s *BadgerStore) AdvancePeerCursor(peerURL string, lastSeq uint64) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		key := []byte(prefixPeer + peerURL)
		got, err := getJSON[PeerState](txn, key)
		if err != nil {
			return err
		}
		state := PeerState{PeerURL: peerURL}
		if got != nil {
			state = *got
		}
		if lastSeq > state.LastSeq {
			state.LastSeq = lastSeq
		}
		state.LastPulledAt = time.Now().UTC()
		return setJSON(txn, key, state)
	})
	if err != nil {
		return fmt.Errorf("advance cursor %q: %w: %w", peerURL, ErrUnavailable, err)
	}
	return nil
}

// nextSeq bumps the log counter inside the caller's transaction.
func (s *BadgerStore) nextSeq(txn *badger.Txn) (uint64, error) {
	var last uint64
	got, err := txn.Get([]byte(keyLastSeq))
	switch {
	case err == nil:
		raw, err := got.ValueCopy(nil)
		if err != nil {
			return 0, fmt.Errorf("read seq counter: %w: %w", ErrUnavailable, err)
		}
		last = binary.BigEndian.Uint64(raw)
	case !errors.Is(err, badger.ErrKeyNotFound):
		return 0, fmt.Errorf("read seq counter: %w: %w", ErrUnavailable, err)
	}

	next := last + 1
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	if err := txn.Set([]byte(keyLastSeq), buf); err != nil {
		return 0, fmt.Errorf("write seq counter: %w: %w", ErrUnavailable, err)
	}
	return next, nil
}

func changeKey(seq uint64) []byte {
	key := make([]byte, len(prefixChange)+8)
	copy(key, prefixChange)
	binary.BigEndian.PutUint64(key[len(prefixChange):], seq)
	return key
}

// existingView projects a stored row into the resolver's input.
func existingView(item *Item) *resolve.Existing {
	if item == nil {
		return nil
	}
	return &resolve.Existing{Stamp: item.Stamp, UpdatedBy: item.UpdatedBy}
}

// getJSON fetches and decodes a row, returning nil when absent.
func getJSON[T any](txn *badger.Txn, key []byte) (*T, error) {
	got, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	raw, err := got.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode row: %w", err)
	}
	if err := txn.Set(key, raw); err != nil {
		return fmt.Errorf("write row: %w: %w", ErrUnavailable, err)
	}
	return nil
}

// badgerLogger adapts slog to badger's Logger interface. Badger is
// chatty; everything lands at debug except real errors.
type badgerLogger struct {
	logger *slog.Logger
}

func newBadgerLogger(logger *slog.Logger) badger.Logger {
	if logger == nil {
		return nil
	}
	return &badgerLogger{logger: logger}
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", "badger")
}
