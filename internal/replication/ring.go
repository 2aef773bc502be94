// Package replication implements the origin-side ring buffer and
// replica-side apply FSM described in spec.md §4.9: every mutation gets
// a strictly increasing eid at the moment it enters the ring, followers
// consume in eid order, and a replica that falls behind the ring's
// capacity gets dropped rather than stalling the origin.
//
// Grounded on the teacher's internal/buffers.RingBuffer[T] (a fixed
// capacity circular slice with overwrite-oldest semantics) for the
// storage shape, generalized here with a per-replica lag counter
// instead of a single shared read position, since replication has N
// independent consumers reading the same log at their own pace.
package replication

import (
	"sync"

	"github.com/deckarep/golang-set/v2"
)

// Entry is one logged mutation, matching the wire's
// `replication_cmd(eid, cmd_id, data)` value (spec.md §4.9).
type Entry struct {
	EID   uint64
	CmdID int8
	Data  []byte
}

// DefaultCapacity is the reference implementation's tunable default
// (spec.md §6: SELVA_RING_BUFFER_SIZE=5); SPEC_FULL.md's config raises
// this default substantially (see internal/config), since 5 entries of
// backlog is not survivable for any real network hiccup.
const DefaultCapacity = 5

// Ring is the origin-side replication log: a fixed-capacity circular
// buffer of Entry plus one lag counter per still-registered replica.
type Ring struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []Entry
	cap      int
	nextEID  uint64
	oldest   uint64 // eid of buf[0]; entries older than this are gone
	replicas mapset.Set[int]
	lag      map[int]int // per-replica count of insert attempts since last mark-replicated
	closed   bool
}

// NewRing builds a Ring with the given capacity (entries, not bytes).
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	r := &Ring{
		cap:      capacity,
		replicas: mapset.NewSet[int](),
		lag:      make(map[int]int),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// RegisterReplica admits a replica under id, returning the eid it
// should start streaming from (the oldest eid still in the ring, or the
// next eid to be assigned if the ring is empty).
func (r *Ring) RegisterReplica(id int) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replicas.Add(id)
	r.lag[id] = 0
	if len(r.buf) == 0 {
		return r.nextEID
	}
	return r.oldest
}

// DropReplica removes a replica from tracking, e.g. after it falls too
// far behind or disconnects (spec.md §4.9: "Origin drops a replica that
// falls behind the ring").
func (r *Ring) DropReplica(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replicas.Remove(id)
	delete(r.lag, id)
}

// maxInsertAttemptsBehind is how many Insert calls a replica may miss
// before the origin drops it (spec.md §4.9: "a replica falls behind the
// ring (bit remains set after N insert attempts)").
const maxInsertAttemptsBehind = 3

// Insert appends a new entry with the next eid, evicting the oldest
// entry once the ring is at capacity. It returns the set of replica ids
// that have now fallen behind capacity attempts and must be dropped by
// the caller (the ring itself never closes a replica's connection).
func (r *Ring) Insert(cmdID int8, data []byte) (eid uint64, offenders []int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	eid = r.nextEID
	r.nextEID++
	r.buf = append(r.buf, Entry{EID: eid, CmdID: cmdID, Data: data})
	if len(r.buf) > r.cap {
		r.buf = r.buf[1:]
		r.oldest = r.buf[0].EID
	} else if len(r.buf) == 1 {
		r.oldest = eid
	}

	for id := range r.lag {
		r.lag[id]++
		if r.lag[id] > maxInsertAttemptsBehind && len(r.buf) >= r.cap {
			offenders = append(offenders, id)
		}
	}

	r.cond.Broadcast()
	return eid, offenders
}

// MarkReplicated resets a replica's lag counter once it has caught up
// to the ring's current tail, called by the replica's writer goroutine
// after a successful send.
func (r *Ring) MarkReplicated(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lag[id] = 0
}

// GetNext blocks until an entry with eid >= after exists, then returns
// the earliest such entry. It reports ok=false if that eid has already
// been evicted (the caller must fall back to a full resync).
func (r *Ring) GetNext(after uint64) (e Entry, ok bool, evicted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		if len(r.buf) > 0 {
			if after < r.oldest {
				return Entry{}, false, true
			}
			idx := int(after - r.oldest)
			if idx < len(r.buf) {
				return r.buf[idx], true, false
			}
		}
		if r.closed {
			return Entry{}, false, false
		}
		r.cond.Wait()
	}
}

// Stop wakes every blocked GetNext caller so replica writer goroutines
// can observe shutdown instead of blocking forever.
func (r *Ring) Stop() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cond.Broadcast()
}

// Len reports how many entries currently sit in the ring.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// LastEID reports the most recently assigned eid, or 0 if none.
func (r *Ring) LastEID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nextEID == 0 {
		return 0
	}
	return r.nextEID - 1
}
