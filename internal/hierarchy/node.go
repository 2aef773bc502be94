package hierarchy

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/selvadb/selva/internal/object"
)

// Flag bit positions within a Node's bitset.Bitset, per spec.md §3
// ("flag set {detached, implicit}").
const (
	flagDetached uint = iota
	flagImplicit
)

// EdgeField is a named outgoing relation from a node (spec.md §3).
type EdgeField struct {
	Name       string
	Constraint *Constraint
	Dests      []NodeID // ordered, unique

	// Metadata: single Object when Constraint.SingleRef, else keyed by
	// destination NodeID. Exactly one of the two is populated, matching
	// the policy decision in spec.md §9 Open Questions.
	SingleMeta *object.Object
	KeyedMeta  map[NodeID]*object.Object
}

func newEdgeField(name string, c *Constraint) *EdgeField {
	ef := &EdgeField{Name: name, Constraint: c}
	if c.SingleRef {
		ef.SingleMeta = nil
	} else {
		ef.KeyedMeta = make(map[NodeID]*object.Object)
	}
	return ef
}

func (ef *EdgeField) hasDest(id NodeID) bool {
	for _, d := range ef.Dests {
		if d == id {
			return true
		}
	}
	return false
}

func (ef *EdgeField) removeDest(id NodeID) {
	for i, d := range ef.Dests {
		if d == id {
			ef.Dests = append(ef.Dests[:i], ef.Dests[i+1:]...)
			break
		}
	}
	if ef.KeyedMeta != nil {
		delete(ef.KeyedMeta, id)
	}
}

// metaFor returns the per-edge metadata Object for dest, creating it if
// needed (spec.md §4.6.2: "Per-edge metadata is itself an Object").
func (ef *EdgeField) metaFor(dest NodeID) *object.Object {
	if ef.Constraint.SingleRef {
		if ef.SingleMeta == nil {
			ef.SingleMeta = object.New()
		}
		return ef.SingleMeta
	}
	o, ok := ef.KeyedMeta[dest]
	if !ok {
		o = object.New()
		ef.KeyedMeta[dest] = o
	}
	return o
}

// Node is a single hierarchy node: an identity, a payload Object, and
// non-owning adjacency to other nodes (spec.md §3). The Hierarchy arena
// is the sole owner; Node never holds a pointer to another Node.
type Node struct {
	ID     NodeID
	flags  *bitset.BitSet
	txSeen uint64 // last traversal generation stamp that visited this node

	Object *object.Object

	// Outgoing named edge fields, keyed by field name.
	Edges map[string]*EdgeField
	// Incoming back-references from other nodes' edge fields
	// ("origins"), keyed by (sourceID, fieldName).
	Origins []EdgeOrigin

	Parents []NodeID // ordered, unique
	Children []NodeID // ordered, unique

	// Subscription markers: opaque to the core per spec.md §4.8; kept
	// as a simple string set of marker ids the subs package installs.
	Markers map[string]struct{}
}

// EdgeOrigin identifies one incoming edge-field reference.
type EdgeOrigin struct {
	Source NodeID
	Field  string
}

func newNode(id NodeID, nodeType string, now int64) *Node {
	return &Node{
		ID:      id,
		flags:   bitset.New(2),
		Object:  object.NewNode(nodeType, now),
		Edges:   make(map[string]*EdgeField),
		Markers: make(map[string]struct{}),
	}
}

func (n *Node) Detached() bool  { return n.flags.Test(flagDetached) }
func (n *Node) Implicit() bool  { return n.flags.Test(flagImplicit) }
func (n *Node) setDetached(v bool) {
	if v {
		n.flags.Set(flagDetached)
	} else {
		n.flags.Clear(flagDetached)
	}
}
func (n *Node) setImplicit(v bool) {
	if v {
		n.flags.Set(flagImplicit)
	} else {
		n.flags.Clear(flagImplicit)
	}
}

func containsID(s []NodeID, id NodeID) bool {
	for _, x := range s {
		if x == id {
			return true
		}
	}
	return false
}

func addUniqueID(s []NodeID, id NodeID) ([]NodeID, bool) {
	if containsID(s, id) {
		return s, false
	}
	return append(s, id), true
}

func removeID(s []NodeID, id NodeID) []NodeID {
	for i, x := range s {
		if x == id {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}
