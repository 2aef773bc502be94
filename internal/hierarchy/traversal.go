package hierarchy

import (
	"github.com/selvadb/selva/internal/object"
	"github.com/selvadb/selva/internal/selvaerr"
)

// Direction selects a traversal's walk order and edge source (spec.md
// §4.6.3).
type Direction int

const (
	DirNode Direction = iota
	DirChildren
	DirParents
	DirBFSAncestors
	DirBFSDescendants
	DirDFSAncestors
	DirDFSDescendants
	DirDFSFull
	DirRef
	DirEdgeField
	DirBFSEdgeField
	DirExpression
)

// stopSignal is an internal sentinel a callback returns to stop a
// traversal without failing it.
type stopSignal struct{}

func (stopSignal) Error() string { return "traversal stopped" }

// Callbacks bundles the optional visit hooks a traversal invokes (spec.md
// §4.6.3). Any callback returning stop=true ends the traversal
// successfully.
type Callbacks struct {
	Head  func(n *Node) (stop bool, err error)
	Node  func(n *Node) (stop bool, err error)
	Child func(parent *Node, edgeName string, child *Node) (stop bool, err error)
	Arg   any

	// InhibitRestore suppresses transparent restoration of detached
	// stubs (spec.md §4.6.3, used by save paths).
	InhibitRestore bool

	// Expression, when Direction is DirExpression, is evaluated against
	// each visited node's Object and must yield the field names
	// (hierarchy adjacency names or edge-field names) to descend into
	// next. EdgeFilter, when set, is evaluated against a candidate
	// edge's per-edge metadata Object and may veto that edge.
	//
	// These are plain function values rather than an embedded RPN
	// program so this package never needs to import the expression
	// engine: the command layer compiles and closes over RPN programs
	// and hands traversal only the resulting evaluator.
	Expression func(n *Node) ([]string, error)
	EdgeFilter func(meta *object.Object) (bool, error)
}

// TraverseOptions configures one Traverse call.
type TraverseOptions struct {
	Start     NodeID
	Direction Direction
	Field     string // ref / edge_field / bfs_edge_field field name
}

// Traverse walks the hierarchy starting at opts.Start according to
// opts.Direction, invoking cb's callbacks along the way (spec.md §4.6.3).
// Only one top-level traversal may be in flight at a time; nested
// traversals started from a callback get their own generation stamp and
// are always permitted.
func (h *Hierarchy) Traverse(opts TraverseOptions, cb Callbacks) error {
	top := !h.inTraversal
	if top {
		h.inTraversal = true
		defer func() { h.inTraversal = false }()
	}
	gen := h.nextGeneration()

	if opts.Direction != DirDFSFull {
		start, err := h.FindNode(opts.Start)
		if err != nil {
			return err
		}
		if start == nil {
			return selvaerr.New(selvaerr.HierarchyENOENT, "traversal start node %s not found", opts.Start)
		}
		if cb.Head != nil {
			stop, err := cb.Head(start)
			if err != nil || stop {
				return err
			}
		}
	}

	var err error
	switch opts.Direction {
	case DirNode:
		err = h.visitOne(opts.Start, gen, cb)
	case DirChildren:
		err = h.visitOneHop(opts.Start, gen, cb, true)
	case DirParents:
		err = h.visitOneHop(opts.Start, gen, cb, false)
	case DirBFSAncestors:
		err = h.visitBFS(opts.Start, gen, cb, false)
	case DirBFSDescendants:
		err = h.visitBFS(opts.Start, gen, cb, true)
	case DirDFSAncestors:
		err = h.visitDFS(opts.Start, gen, cb, false)
	case DirDFSDescendants:
		err = h.visitDFS(opts.Start, gen, cb, true)
	case DirDFSFull:
		err = h.visitDFSFull(gen, cb)
	case DirRef:
		err = h.visitRef(opts.Start, opts.Field, gen, cb)
	case DirEdgeField:
		err = h.visitEdgeFieldOneHop(opts.Start, opts.Field, gen, cb)
	case DirBFSEdgeField:
		err = h.visitBFSEdgeField(opts.Start, opts.Field, gen, cb)
	case DirExpression:
		err = h.visitExpression(opts.Start, gen, cb)
	default:
		return selvaerr.New(selvaerr.HierarchyEINVAL, "unknown traversal direction")
	}
	if _, stopped := err.(stopSignal); stopped {
		return nil
	}
	return err
}

// resolveForVisit looks up id, transparently restoring a detached stub
// unless the callback bundle inhibits it.
func (h *Hierarchy) resolveForVisit(id NodeID, cb Callbacks) (*Node, error) {
	n, ok := h.nodes[id]
	if !ok {
		return nil, nil
	}
	if n.Detached() && !cb.InhibitRestore {
		if err := h.restoreSubtree(id); err != nil {
			return nil, err
		}
		n = h.nodes[id]
	}
	return n, nil
}

func (h *Hierarchy) visitNode(n *Node, gen uint64, cb Callbacks) error {
	n.txSeen = gen
	h.touch(n.ID)
	if cb.Node != nil {
		stop, err := cb.Node(n)
		if err != nil {
			return err
		}
		if stop {
			return stopSignal{}
		}
	}
	return nil
}

func (h *Hierarchy) visitOne(id NodeID, gen uint64, cb Callbacks) error {
	n, err := h.resolveForVisit(id, cb)
	if err != nil || n == nil {
		return err
	}
	return h.visitNode(n, gen, cb)
}

func (h *Hierarchy) visitOneHop(id NodeID, gen uint64, cb Callbacks, children bool) error {
	n, err := h.resolveForVisit(id, cb)
	if err != nil || n == nil {
		return err
	}
	neighbors := n.Parents
	if children {
		neighbors = n.Children
	}
	for _, nb := range neighbors {
		cn, err := h.resolveForVisit(nb, cb)
		if err != nil {
			return err
		}
		if cn == nil {
			continue
		}
		if cb.Child != nil {
			stop, err := cb.Child(n, "", cn)
			if err != nil {
				return err
			}
			if stop {
				return stopSignal{}
			}
		}
		if err := h.visitNode(cn, gen, cb); err != nil {
			return err
		}
	}
	return nil
}

func (h *Hierarchy) visitBFS(id NodeID, gen uint64, cb Callbacks, descendants bool) error {
	queue := []NodeID{id}
	seen := map[NodeID]struct{}{id: {}}
	first := true
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		n, err := h.resolveForVisit(cur, cb)
		if err != nil || n == nil {
			continue
		}
		if !first {
			if err := h.visitNode(n, gen, cb); err != nil {
				return err
			}
		}
		first = false
		neighbors := n.Parents
		if descendants {
			neighbors = n.Children
		}
		for _, nb := range neighbors {
			if _, ok := seen[nb]; ok {
				continue
			}
			seen[nb] = struct{}{}
			queue = append(queue, nb)
		}
	}
	return nil
}

func (h *Hierarchy) visitDFS(id NodeID, gen uint64, cb Callbacks, descendants bool) error {
	seen := map[NodeID]struct{}{}
	var walk func(cur NodeID, isStart bool) error
	walk = func(cur NodeID, isStart bool) error {
		if _, ok := seen[cur]; ok {
			return nil
		}
		seen[cur] = struct{}{}
		n, err := h.resolveForVisit(cur, cb)
		if err != nil || n == nil {
			return err
		}
		if !isStart {
			if err := h.visitNode(n, gen, cb); err != nil {
				return err
			}
		}
		neighbors := n.Parents
		if descendants {
			neighbors = n.Children
		}
		for _, nb := range neighbors {
			if err := walk(nb, false); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(id, true)
}

func (h *Hierarchy) visitDFSFull(gen uint64, cb Callbacks) error {
	seen := map[NodeID]struct{}{}
	var walk func(cur NodeID) error
	walk = func(cur NodeID) error {
		if _, ok := seen[cur]; ok {
			return nil
		}
		seen[cur] = struct{}{}
		n, err := h.resolveForVisit(cur, cb)
		if err != nil || n == nil {
			return err
		}
		if err := h.visitNode(n, gen, cb); err != nil {
			return err
		}
		for _, c := range n.Children {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	for head := range h.heads {
		hn, err := h.resolveForVisit(head, cb)
		if err != nil {
			return err
		}
		if hn == nil {
			continue
		}
		if cb.Head != nil {
			stop, err := cb.Head(hn)
			if err != nil {
				return err
			}
			if stop {
				return stopSignal{}
			}
		}
		if err := walk(head); err != nil {
			return err
		}
	}
	return nil
}

func (h *Hierarchy) visitRef(id NodeID, field string, gen uint64, cb Callbacks) error {
	n, err := h.resolveForVisit(id, cb)
	if err != nil || n == nil {
		return err
	}
	v, err := n.Object.Get(field)
	if err != nil || v.Set == nil || v.Set.Kind() != object.SetNodeID {
		return nil
	}
	for _, raw := range v.Set.NodeIDs() {
		cn, err := h.resolveForVisit(NodeID(raw), cb)
		if err != nil {
			return err
		}
		if cn == nil {
			continue
		}
		if err := h.visitNode(cn, gen, cb); err != nil {
			return err
		}
	}
	return nil
}

func (h *Hierarchy) edgeFilterAllows(cb Callbacks, meta *object.Object) (bool, error) {
	if cb.EdgeFilter == nil {
		return true, nil
	}
	return cb.EdgeFilter(meta)
}

func (h *Hierarchy) visitEdgeFieldOneHop(id NodeID, field string, gen uint64, cb Callbacks) error {
	n, err := h.resolveForVisit(id, cb)
	if err != nil || n == nil {
		return err
	}
	ef, ok := n.Edges[field]
	if !ok {
		return nil
	}
	for _, dest := range ef.Dests {
		allow, err := h.edgeFilterAllows(cb, ef.metaFor(dest))
		if err != nil {
			return err
		}
		if !allow {
			continue
		}
		cn, err := h.resolveForVisit(dest, cb)
		if err != nil {
			return err
		}
		if cn == nil {
			continue
		}
		if cb.Child != nil {
			stop, err := cb.Child(n, field, cn)
			if err != nil {
				return err
			}
			if stop {
				return stopSignal{}
			}
		}
		if err := h.visitNode(cn, gen, cb); err != nil {
			return err
		}
	}
	return nil
}

func (h *Hierarchy) visitBFSEdgeField(id NodeID, field string, gen uint64, cb Callbacks) error {
	queue := []NodeID{id}
	seen := map[NodeID]struct{}{id: {}}
	first := true
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		n, err := h.resolveForVisit(cur, cb)
		if err != nil || n == nil {
			continue
		}
		if !first {
			if err := h.visitNode(n, gen, cb); err != nil {
				return err
			}
		}
		first = false
		ef, ok := n.Edges[field]
		if !ok {
			continue
		}
		for _, dest := range ef.Dests {
			if _, ok := seen[dest]; ok {
				continue
			}
			allow, err := h.edgeFilterAllows(cb, ef.metaFor(dest))
			if err != nil {
				return err
			}
			if !allow {
				continue
			}
			seen[dest] = struct{}{}
			queue = append(queue, dest)
		}
	}
	return nil
}

// visitExpression performs a DFS where cb.Expression, evaluated against
// each node, names the fields (hierarchy adjacency or edge-field names)
// to descend into next (spec.md §4.6.3).
func (h *Hierarchy) visitExpression(id NodeID, gen uint64, cb Callbacks) error {
	if cb.Expression == nil {
		return selvaerr.New(selvaerr.HierarchyEINVAL, "expression traversal requires an Expression evaluator")
	}
	seen := map[NodeID]struct{}{}
	var walk func(cur NodeID, isStart bool) error
	walk = func(cur NodeID, isStart bool) error {
		if _, ok := seen[cur]; ok {
			return nil
		}
		seen[cur] = struct{}{}
		n, err := h.resolveForVisit(cur, cb)
		if err != nil || n == nil {
			return err
		}
		if !isStart {
			if err := h.visitNode(n, gen, cb); err != nil {
				return err
			}
		}
		fields, err := cb.Expression(n)
		if err != nil {
			return err
		}
		for _, f := range fields {
			switch f {
			case "parents":
				for _, p := range n.Parents {
					if err := walk(p, false); err != nil {
						return err
					}
				}
			case "children":
				for _, c := range n.Children {
					if err := walk(c, false); err != nil {
						return err
					}
				}
			default:
				ef, ok := n.Edges[f]
				if !ok {
					continue
				}
				for _, d := range ef.Dests {
					allow, err := h.edgeFilterAllows(cb, ef.metaFor(d))
					if err != nil {
						return err
					}
					if !allow {
						continue
					}
					if err := walk(d, false); err != nil {
						return err
					}
				}
			}
		}
		return nil
	}
	return walk(id, true)
}
