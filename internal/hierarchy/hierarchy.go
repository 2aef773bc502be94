package hierarchy

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/selvadb/selva/internal/object"
	"github.com/selvadb/selva/internal/selvaerr"
	"github.com/selvadb/selva/internal/subs"
)

// TypeRegistry maps a 2-byte type prefix to a human name (spec.md §3).
type TypeRegistry struct {
	mu    sync.RWMutex
	names map[[2]byte]string
}

func newTypeRegistry() *TypeRegistry {
	return &TypeRegistry{names: make(map[[2]byte]string)}
}

func (r *TypeRegistry) Add(prefix [2]byte, name string) {
	r.mu.Lock()
	r.names[prefix] = name
	r.mu.Unlock()
}

func (r *TypeRegistry) Clear() {
	r.mu.Lock()
	r.names = make(map[[2]byte]string)
	r.mu.Unlock()
}

func (r *TypeRegistry) List() map[[2]byte]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[[2]byte]string, len(r.names))
	for k, v := range r.names {
		out[k] = v
	}
	return out
}

// Hierarchy owns every node via a pooled map keyed by NodeID (spec.md
// §3). It is reactor-exclusive: every method assumes single-threaded,
// serialized access, matching SPEC_FULL.md §5's concurrency model.
type Hierarchy struct {
	nodes map[NodeID]*Node
	heads map[NodeID]struct{}

	Constraints *ConstraintRegistry
	Types       *TypeRegistry

	detached *detachedStore

	// aliasIndex enforces "an alias string appears in at most one
	// node's aliases set globally" (spec.md §3 invariant).
	aliasIndex map[string]NodeID

	// inactive tracks per-node last-visited generation for the
	// auto-compress task (SPEC_FULL.md §2/§4.6.5): every traversal visit
	// "touches" the id, and eviction order from the LRU is the compress
	// candidate order.
	inactive *lru.Cache[NodeID, int64]

	txCounter   uint64
	inTraversal bool // set while a traversal runs; a Traverse started meanwhile runs nested

	Subs subs.Hooks

	clock func() int64 // injectable for deterministic tests
}

// Options configures a new Hierarchy.
type Options struct {
	InactiveRingSize int
	Subs             subs.Hooks
	Clock            func() int64
}

// New creates a Hierarchy with a permanent root node, per spec.md §3.
func New(opts Options) *Hierarchy {
	if opts.InactiveRingSize <= 0 {
		opts.InactiveRingSize = 1024
	}
	if opts.Subs == nil {
		opts.Subs = subs.NoOp{}
	}
	if opts.Clock == nil {
		opts.Clock = func() int64 { return time.Now().UnixMilli() }
	}

	inactive, _ := lru.New[NodeID, int64](opts.InactiveRingSize)

	h := &Hierarchy{
		nodes:       make(map[NodeID]*Node),
		heads:       make(map[NodeID]struct{}),
		Constraints: newConstraintRegistry(),
		Types:       newTypeRegistry(),
		detached:    newDetachedStore(),
		aliasIndex:  make(map[string]NodeID),
		inactive:    inactive,
		Subs:        opts.Subs,
		clock:       opts.Clock,
	}

	root := newNode(Root, "root", h.clock())
	h.nodes[Root] = root
	h.heads[Root] = struct{}{}
	return h
}

// nextGeneration returns a fresh transaction stamp for a new top-level
// or nested traversal (spec.md §4.6.3).
func (h *Hierarchy) nextGeneration() uint64 {
	h.txCounter++
	return h.txCounter
}

// FindNode looks up id, transparently restoring a detached stub before
// returning it (spec.md §4.6.5). Returns nil if id is not present at
// all.
func (h *Hierarchy) FindNode(id NodeID) (*Node, error) {
	n, ok := h.nodes[id]
	if !ok {
		return nil, nil
	}
	if n.Detached() {
		if err := h.restoreSubtree(id); err != nil {
			return nil, err
		}
		n = h.nodes[id]
	}
	return n, nil
}

// touch records a traversal visit against id for the auto-compress LRU.
func (h *Hierarchy) touch(id NodeID) {
	h.inactive.Add(id, int64(h.txCounter))
}

// Upsert returns the existing node for id or creates it. New nodes are
// marked implicit unless explicit is true (spec.md §4.6.1); new orphan
// nodes are added to heads.
func (h *Hierarchy) Upsert(id NodeID, explicit bool) (*Node, error) {
	if n, ok := h.nodes[id]; ok {
		if n.Detached() {
			if err := h.restoreSubtree(id); err != nil {
				return nil, err
			}
			n = h.nodes[id]
		}
		if explicit {
			n.setImplicit(false)
		}
		return n, nil
	}
	n := newNode(id, string(id.Type()[:]), h.clock())
	if !explicit {
		n.setImplicit(true)
	}
	h.nodes[id] = n
	h.heads[id] = struct{}{}
	h.Subs.DeferTrigger(subs.TriggerCreated, id[:])
	return n, nil
}

func (h *Hierarchy) touchUpdated(n *Node) {
	now := h.clock()
	_ = n.Object.Set(object.FieldUpdatedAt, object.LL(now))
}

// SetParents replaces n's parent set (spec.md §4.6.1). Missing endpoints
// are upserted implicitly.
func (h *Hierarchy) SetParents(id NodeID, parents []NodeID) error {
	n, err := h.requireNode(id)
	if err != nil {
		return err
	}
	// Detach from all current parents first.
	for _, p := range append([]NodeID{}, n.Parents...) {
		h.unlinkParentChild(p, id)
	}
	n.Parents = nil
	for _, p := range parents {
		if err := h.linkParentChild(p, id); err != nil {
			return err
		}
	}
	h.updateHeadStatus(id)
	h.Subs.DeferHierarchyEvent(id[:])
	return nil
}

// SetChildren replaces n's child set.
func (h *Hierarchy) SetChildren(id NodeID, children []NodeID) error {
	n, err := h.requireNode(id)
	if err != nil {
		return err
	}
	for _, c := range append([]NodeID{}, n.Children...) {
		h.unlinkParentChild(id, c)
	}
	n.Children = nil
	for _, c := range children {
		if err := h.linkParentChild(id, c); err != nil {
			return err
		}
	}
	h.Subs.DeferHierarchyEvent(id[:])
	return nil
}

// AddParents unions parents into n's parent set (idempotent: already
// present edges are no-ops, per spec.md §4.6.1 and §8). A missing id
// is upserted implicitly.
func (h *Hierarchy) AddParents(id NodeID, parents []NodeID) error {
	if _, err := h.Upsert(id, false); err != nil {
		return err
	}
	for _, p := range parents {
		if err := h.linkParentChild(p, id); err != nil {
			return err
		}
	}
	h.updateHeadStatus(id)
	h.Subs.DeferHierarchyEvent(id[:])
	return nil
}

// AddChildren unions children into n's child set.
func (h *Hierarchy) AddChildren(id NodeID, children []NodeID) error {
	if _, err := h.requireNode(id); err != nil {
		return err
	}
	for _, c := range children {
		if err := h.linkParentChild(id, c); err != nil {
			return err
		}
	}
	h.Subs.DeferHierarchyEvent(id[:])
	return nil
}

// DelParents removes the given parents from id.
func (h *Hierarchy) DelParents(id NodeID, parents []NodeID) error {
	if _, err := h.requireNode(id); err != nil {
		return err
	}
	for _, p := range parents {
		h.unlinkParentChild(p, id)
	}
	h.updateHeadStatus(id)
	h.Subs.DeferHierarchyEvent(id[:])
	return nil
}

// DelChildren removes the given children from id.
func (h *Hierarchy) DelChildren(id NodeID, children []NodeID) error {
	if _, err := h.requireNode(id); err != nil {
		return err
	}
	for _, c := range children {
		h.unlinkParentChild(id, c)
	}
	h.Subs.DeferHierarchyEvent(id[:])
	return nil
}

func (h *Hierarchy) requireNode(id NodeID) (*Node, error) {
	n, err := h.FindNode(id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, selvaerr.New(selvaerr.HierarchyENOENT, "node %s not found", id)
	}
	return n, nil
}

// linkParentChild establishes parent -> child, upserting both endpoints
// implicitly if missing (spec.md §4.6.1).
func (h *Hierarchy) linkParentChild(parent, child NodeID) error {
	if parent == child {
		return selvaerr.New(selvaerr.EINVAL, "node cannot be its own parent")
	}
	pn, err := h.Upsert(parent, false)
	if err != nil {
		return err
	}
	cn, err := h.Upsert(child, false)
	if err != nil {
		return err
	}
	var addedToParent, addedToChild bool
	pn.Children, addedToParent = addUniqueID(pn.Children, child)
	cn.Parents, addedToChild = addUniqueID(cn.Parents, parent)
	if addedToParent || addedToChild {
		delete(h.heads, child)
	}
	return nil
}

func (h *Hierarchy) unlinkParentChild(parent, child NodeID) {
	pn, ok := h.nodes[parent]
	if ok {
		pn.Children = removeID(pn.Children, child)
	}
	cn, ok := h.nodes[child]
	if ok {
		cn.Parents = removeID(cn.Parents, parent)
	}
	h.updateHeadStatus(child)
}

// updateHeadStatus adds id back to heads if it now has no parents and
// is not root (spec.md §4.6.1: "If parents become empty and node is not
// root, node becomes a head").
func (h *Hierarchy) updateHeadStatus(id NodeID) {
	n, ok := h.nodes[id]
	if !ok {
		return
	}
	if len(n.Parents) == 0 {
		h.heads[id] = struct{}{}
	} else {
		delete(h.heads, id)
	}
}

// Heads returns the current orphan set, including root.
func (h *Hierarchy) Heads() []NodeID {
	out := make([]NodeID, 0, len(h.heads))
	for id := range h.heads {
		out = append(out, id)
	}
	return out
}

// ResolveAlias looks up the node currently owning alias, the lookup
// behind spec.md §6's hierarchy.resolve command (id 36).
func (h *Hierarchy) ResolveAlias(alias string) (NodeID, bool) {
	id, ok := h.aliasIndex[alias]
	return id, ok
}

// AddAlias assigns alias to id's aliases set, stripping it from whatever
// node previously held it (spec.md §3's alias uniqueness invariant).
// Commands that write to the reserved "aliases" field route through this
// rather than a plain Object.Set, since only this path keeps aliasIndex
// consistent.
func (h *Hierarchy) AddAlias(id NodeID, alias string) error {
	n, err := h.requireNode(id)
	if err != nil {
		return err
	}
	return h.addAlias(id, alias, n)
}

// DeleteFlags controls Delete's cascade behavior.
type DeleteFlags struct {
	Force bool // cascade regardless of remaining incoming edges
}

// Delete disconnects id from all parents, and for each child disconnects
// this parent edge, recursively deleting children left with no parents
// and no incoming edges unless Force is set (spec.md §4.6.1). Root is
// never freed, only cleared. Returns the ids actually deleted.
func (h *Hierarchy) Delete(id NodeID, flags DeleteFlags) ([]NodeID, error) {
	if id == Root {
		return h.clearRoot()
	}
	n, err := h.requireNode(id)
	if err != nil {
		return nil, err
	}

	for _, p := range append([]NodeID{}, n.Parents...) {
		h.unlinkParentChild(p, id)
	}

	var deleted []NodeID
	if flags.Force {
		deleted = h.cascadeForce(id)
	} else {
		deleted = h.cascadeNatural(id)
	}
	return deleted, nil
}

func (h *Hierarchy) clearRoot() ([]NodeID, error) {
	root := h.nodes[Root]
	for _, c := range append([]NodeID{}, root.Children...) {
		h.unlinkParentChild(Root, c)
	}
	root.Children = nil
	root.Object.Clear()
	return nil, nil
}

// cascadeNatural deletes id, then recursively deletes any child left
// with zero parents and zero incoming edge-field origins.
func (h *Hierarchy) cascadeNatural(id NodeID) []NodeID {
	var deleted []NodeID
	queue := []NodeID{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		n, ok := h.nodes[cur]
		if !ok {
			continue
		}
		if cur != id && (len(n.Parents) > 0 || len(n.Origins) > 0) {
			continue
		}
		children := append([]NodeID{}, n.Children...)
		h.freeNode(cur)
		deleted = append(deleted, cur)
		for _, c := range children {
			h.unlinkParentChild(cur, c)
			queue = append(queue, c)
		}
	}
	return deleted
}

// cascadeForce deletes every reachable descendant of id regardless of
// remaining parents/origins (spec.md §4.6.1: "override flag force
// cascades regardless").
func (h *Hierarchy) cascadeForce(id NodeID) []NodeID {
	var deleted []NodeID
	visited := make(map[NodeID]struct{})
	queue := []NodeID{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, seen := visited[cur]; seen {
			continue
		}
		visited[cur] = struct{}{}
		n, ok := h.nodes[cur]
		if !ok {
			continue
		}
		children := append([]NodeID{}, n.Children...)
		h.freeNode(cur)
		deleted = append(deleted, cur)
		queue = append(queue, children...)
	}
	return deleted
}

// freeNode removes a node from every index: the live map, heads,
// aliases, and every remaining edge-field reference to it.
func (h *Hierarchy) freeNode(id NodeID) {
	n, ok := h.nodes[id]
	if !ok {
		return
	}
	for _, origin := range append([]EdgeOrigin{}, n.Origins...) {
		if src, ok := h.nodes[origin.Source]; ok {
			if ef, ok := src.Edges[origin.Field]; ok {
				h.removeEdgeDest(src, ef, id)
			}
		}
	}
	for fname, ef := range n.Edges {
		for _, dest := range append([]NodeID{}, ef.Dests...) {
			h.removeEdgeOrigin(dest, id, fname)
			if ef.Constraint.Bidirectional {
				if dn, ok := h.nodes[dest]; ok {
					if back, ok := dn.Edges[ef.Constraint.BackFieldName]; ok {
						h.removeEdgeDest(dn, back, id)
					}
				}
			}
		}
	}
	h.removeAliasesOf(n)
	delete(h.heads, id)
	delete(h.nodes, id)
	h.Subs.DeferTrigger(subs.TriggerDeleted, id[:])
}

func (h *Hierarchy) addAlias(id NodeID, alias string, n *Node) error {
	if owner, ok := h.aliasIndex[alias]; ok && owner != id {
		if prev, ok := h.nodes[owner]; ok {
			if v, err := prev.Object.Get(object.FieldAliases); err == nil && v.Set != nil {
				v.Set.RemoveString(alias)
			}
		}
	}
	h.aliasIndex[alias] = id
	v, err := n.Object.Get(object.FieldAliases)
	if err != nil || v.Set == nil {
		v = object.SetVal(object.NewSet(object.SetString))
		if err := n.Object.Set(object.FieldAliases, v); err != nil {
			return err
		}
	}
	v.Set.AddString(alias)
	return nil
}

func (h *Hierarchy) removeEdgeOrigin(destID, sourceID NodeID, field string) {
	dn, ok := h.nodes[destID]
	if !ok {
		return
	}
	for i, o := range dn.Origins {
		if o.Source == sourceID && o.Field == field {
			dn.Origins = append(dn.Origins[:i], dn.Origins[i+1:]...)
			break
		}
	}
}

func (h *Hierarchy) removeAliasesOf(n *Node) {
	v, err := n.Object.Get(object.FieldAliases)
	if err != nil || v.Set == nil {
		return
	}
	for _, alias := range v.Set.Strings() {
		delete(h.aliasIndex, alias)
	}
}

