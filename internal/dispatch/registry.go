// Package dispatch implements the command registry and mode-gating
// rules of spec.md §4.4: a stable id space, `{id, name, mode, handler}`
// registration, `lscmd` discovery, and the unknown-command / wrong-arity
// error responses described in §7.
//
// Grounded on the teacher's cmd/dev-console/tools_registry.go, which
// keeps a name-keyed map of tool descriptors behind a mutex and exposes
// a List() for client-side discovery — the same shape spec.md asks of
// `lscmd`, re-keyed by a stable integer id instead of a tool name.
package dispatch

import (
	"sort"
	"sync"

	"github.com/selvadb/selva/internal/protocol"
	"github.com/selvadb/selva/internal/selvaerr"
)

// Mode gates which connection states and replication roles may invoke a
// command (spec.md §4.4 / §5).
type Mode uint8

const (
	// ModePure never touches hierarchy/object state; always safe, even
	// mid-replication-catchup.
	ModePure Mode = iota
	// ModeReadOnly reads hierarchy state but never mutates it.
	ModeReadOnly
	// ModeMutate may mutate hierarchy state; gated off on a read-only
	// replica outside of the replication apply path.
	ModeMutate
)

func (m Mode) String() string {
	switch m {
	case ModePure:
		return "pure"
	case ModeReadOnly:
		return "read_only"
	case ModeMutate:
		return "mutate"
	default:
		return "unknown"
	}
}

// Request is one decoded command invocation: the command id plus its
// still-encoded argument payload (a concatenated selva_proto value
// stream, per spec.md §6) and the caller's response sink.
type Request struct {
	CmdID int8
	Args  *protocol.Decoder
	Seqno uint32

	// ReplicaApply is set when this request arrives via the replication
	// apply path rather than directly from a client; it lets ModeMutate
	// commands run even on a node otherwise configured read-only.
	ReplicaApply bool
}

// Handler executes a command against its decoded arguments, writing its
// reply into enc. Handlers never block the reactor loop directly: by
// convention they either complete synchronously against in-memory state
// or hand off async work before returning.
type Handler func(req Request, enc *protocol.Encoder) error

// Command is one registered entry in the dispatch table.
type Command struct {
	ID   int8
	Name string
	Mode Mode
	Fn   Handler
}

// Registry is the command table. Safe for concurrent registration and
// lookup, though in practice all registration happens once at startup
// before the reactor begins serving connections.
type Registry struct {
	mu   sync.RWMutex
	byID map[int8]*Command
}

// NewRegistry builds an empty command table.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[int8]*Command)}
}

// Register adds cmd to the table. Registering a duplicate id panics:
// this only ever happens at startup wiring time, where it is a
// programmer error, not a runtime condition.
func (r *Registry) Register(cmd Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[cmd.ID]; exists {
		panic("dispatch: duplicate command id " + cmd.Name)
	}
	r.byID[cmd.ID] = &cmd
}

// Lookup finds a command by id.
func (r *Registry) Lookup(id int8) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.byID[id]
	return cmd, ok
}

// List returns every registered command sorted by id, matching the
// `lscmd` command's reply contract (spec.md §6, id 2).
func (r *Registry) List() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.byID))
	for _, cmd := range r.byID {
		out = append(out, *cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ReplicaRole gates whether ModeMutate commands run outside of the
// replication apply path (spec.md §4.9: a replica only mutates state
// through applied replication entries).
type ReplicaRole uint8

const (
	RoleOrigin ReplicaRole = iota
	RoleReplica
)

// Dispatch resolves req's command, checks its mode against role, and
// invokes its handler. Unknown commands and mode violations are
// reported as command errors (spec.md §7), not protocol errors: the
// connection stays open.
func (r *Registry) Dispatch(role ReplicaRole, req Request, enc *protocol.Encoder) error {
	cmd, ok := r.Lookup(req.CmdID)
	if !ok {
		return selvaerr.New(selvaerr.ENOTSUP, "unknown command id %d", req.CmdID)
	}
	if cmd.Mode == ModeMutate && role == RoleReplica && !req.ReplicaApply {
		return selvaerr.New(selvaerr.ENOTSUP, "command %q is not permitted on a read-only replica", cmd.Name)
	}
	return cmd.Fn(req, enc)
}
