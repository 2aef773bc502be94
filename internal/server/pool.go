// Package server implements the connection layer described in spec.md
// §4.3: a bitmap-indexed client pool, the NEW/FRAGMENT reassembly FSM,
// response-out frame buffering, and stream responses.
//
// Grounded on the teacher's cmd/dev-console/client_registry.go, which
// tracks bounded concurrent sessions behind a mutex with LRU eviction
// at capacity. The client pool below keeps that bounded registration
// shape, refusing rather than evicting when full, and indexes by a dense integer slot (a bitmap, per spec.md's
// "bitmap-indexed client pool") instead of a derived string id, since
// connections — unlike the teacher's CWD-identified MCP clients — have
// no natural stable key before they authenticate.
package server

import (
	"net"
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"
)

// ClientPool tracks live connections in a fixed-capacity slot space,
// matching spec.md §6's `SERVER_MAX_CLIENTS`-bounded client pool.
type ClientPool struct {
	mu       sync.Mutex
	slots    []*Conn
	used     *bitset.BitSet
	capacity uint
}

// NewClientPool builds a pool with room for capacity simultaneous
// connections.
func NewClientPool(capacity int) *ClientPool {
	return &ClientPool{
		slots:    make([]*Conn, capacity),
		used:     bitset.New(uint(capacity)),
		capacity: uint(capacity),
	}
}

// Admit reserves a slot for c, or reports false if the pool is at
// capacity (spec.md §4.3: connections beyond SERVER_MAX_CLIENTS are
// refused, not queued).
func (p *ClientPool) Admit(c *Conn) (slot int, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	i, ok := p.used.NextClear(0)
	if !ok || i >= p.capacity {
		return 0, false
	}
	p.used.Set(i)
	p.slots[i] = c
	c.slot = int(i)
	return int(i), true
}

// Release frees slot back to the pool.
func (p *ClientPool) Release(slot int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if slot < 0 || uint(slot) >= p.capacity {
		return
	}
	p.used.Clear(uint(slot))
	p.slots[slot] = nil
}

// Count reports the number of occupied slots.
func (p *ClientPool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.used.Count())
}

// Each invokes fn for every live connection, used by commands that
// broadcast (e.g. subscription fan-out) or by `replicainfo`.
func (p *ClientPool) Each(fn func(*Conn)) {
	p.mu.Lock()
	conns := make([]*Conn, 0, p.used.Count())
	for i, ok := p.used.NextSet(0); ok; i, ok = p.used.NextSet(i + 1) {
		if c := p.slots[i]; c != nil {
			conns = append(conns, c)
		}
	}
	p.mu.Unlock()

	for _, c := range conns {
		fn(c)
	}
}

// connMeta is the bookkeeping client_registry.go keeps per session,
// narrowed to what a raw TCP connection (as opposed to an authenticated
// MCP client) actually has: remote address and liveness timestamps
// rather than a derived client id or CWD.
type connMeta struct {
	remote     net.Addr
	connectedAt time.Time
	lastActive time.Time
}

func newConnMeta(remote net.Addr) connMeta {
	now := time.Now()
	return connMeta{remote: remote, connectedAt: now, lastActive: now}
}

func (m *connMeta) touch() { m.lastActive = time.Now() }
