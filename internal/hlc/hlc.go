package hlc

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrParseStamp is returned when a stamp string does not match the
// "<wall_ms>-<counter>-<node>" format. Callers must propagate it;
// a malformed stamp is never substituted with a default.
var ErrParseStamp = errors.New("malformed hlc stamp")

// Stamp is a hybrid logical clock reading: physical milliseconds, a
// logical counter for same-millisecond events, and the id of the node
// that produced it. Stamps are totally ordered (wall, then counter,
// then node id) so any two stamps from any two nodes compare.
type Stamp struct {
	WallMS  uint64
	Counter uint32
	Node    string
}

// String renders the stamp in its wire form "<wall_ms>-<counter>-<node>".
func (s Stamp) String() string {
	return fmt.Sprintf("%d-%d-%s", s.WallMS, s.Counter, s.Node)
}

// ParseStamp parses the wire form produced by String. The node id may
// itself contain dashes; only the first two fields are numeric.
func ParseStamp(raw string) (Stamp, error) {
	parts := strings.SplitN(raw, "-", 3)
	if len(parts) != 3 || parts[2] == "" {
		return Stamp{}, fmt.Errorf("%w: %q", ErrParseStamp, raw)
	}

	wall, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return Stamp{}, fmt.Errorf("%w: bad wall millis in %q", ErrParseStamp, raw)
	}
	counter, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return Stamp{}, fmt.Errorf("%w: bad counter in %q", ErrParseStamp, raw)
	}

	return Stamp{WallMS: wall, Counter: uint32(counter), Node: parts[2]}, nil
}

// Compare returns -1, 0 or +1 as s orders before, equal to or after
// other. The node id is the final tie-break: a single node never emits
// two equal (wall, counter) pairs, but two nodes can collide in the
// same millisecond with the same counter.
func (s Stamp) Compare(other Stamp) int {
	if s.WallMS != other.WallMS {
		if s.WallMS < other.WallMS {
			return -1
		}
		return 1
	}
	if s.Counter != other.Counter {
		if s.Counter < other.Counter {
			return -1
		}
		return 1
	}
	return strings.Compare(s.Node, other.Node)
}

// IsZero reports whether the stamp is the zero value.
func (s Stamp) IsZero() bool {
	return s.WallMS == 0 && s.Counter == 0 && s.Node == ""
}

// MarshalText implements encoding.TextMarshaler so stamps travel as
// plain strings in JSON payloads and stored rows.
func (s Stamp) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Stamp) UnmarshalText(text []byte) error {
	parsed, err := ParseStamp(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Clock is a per-node hybrid logical clock. One instance exists per
// process and is injected into every path that stamps or observes
// writes; there is no package-level clock.
//
// The (lastMS, counter) pair is the only mutable state and is guarded
// by a single mutex. The critical section is a few comparisons, so the
// lock is not a bottleneck at realistic write rates.
type Clock struct {
	mu      sync.Mutex
	node    string
	lastMS  uint64
	counter uint32
	nowMS   func() uint64
}

// NewClock creates a clock that stamps with the given node id.
func NewClock(node string) *Clock {
	return &Clock{
		node:  node,
		nowMS: func() uint64 { return uint64(time.Now().UnixMilli()) },
	}
}

// Send returns a stamp strictly greater than every stamp previously
// returned by Send or observed by Receive on this clock.
func (c *Clock) Send() Stamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowMS()
	if now > c.lastMS {
		c.lastMS = now
		c.counter = 0
	} else {
		c.counter++
	}

	return Stamp{WallMS: c.lastMS, Counter: c.counter, Node: c.node}
}

// Receive folds a remote stamp into local state so the next Send is
// guaranteed to order after it. The new wall time is the max of local
// wall clock, local state and the remote stamp; when wall times tie,
// the counter becomes the max of the tied counters plus one, otherwise
// it resets to zero.
func (c *Clock) Receive(remote Stamp) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowMS()
	newMS := now
	if c.lastMS > newMS {
		newMS = c.lastMS
	}
	if remote.WallMS > newMS {
		newMS = remote.WallMS
	}

	switch {
	case newMS == c.lastMS && newMS == remote.WallMS:
		if remote.Counter > c.counter {
			c.counter = remote.Counter
		}
		c.counter++
	case newMS == c.lastMS:
		c.counter++
	case newMS == remote.WallMS:
		c.counter = remote.Counter + 1
	default:
		c.counter = 0
	}
	c.lastMS = newMS
}
