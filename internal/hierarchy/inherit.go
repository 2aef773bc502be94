package hierarchy

import "github.com/selvadb/selva/internal/object"

// pseudo-field names that short-circuit Inherit to a traversal response
// instead of per-field value resolution (spec.md §4.6.4).
const (
	PseudoAncestors   = "ancestors"
	PseudoDescendants = "descendants"
	PseudoChildren    = "children"
	PseudoParents     = "parents"
)

var pseudoFields = map[string]bool{
	PseudoAncestors: true, PseudoDescendants: true,
	PseudoChildren: true, PseudoParents: true,
}

// InheritResult is Inherit's output: resolved field values for ordinary
// field names, and node-id lists for hierarchy pseudo-fields.
type InheritResult struct {
	Fields    map[string]object.Value
	Traversal map[string][]NodeID
}

// Inherit resolves each of fields against the nearest ancestor (BFS,
// including id itself) whose type is in acceptTypes (any type if empty)
// that has the field set; unresolved fields are left out of the result
// (equivalent to null, spec.md §4.6.4). Pseudo-field names short-circuit
// to a traversal listing instead.
func (h *Hierarchy) Inherit(id NodeID, acceptTypes [][2]byte, fields []string) (InheritResult, error) {
	res := InheritResult{Fields: make(map[string]object.Value), Traversal: make(map[string][]NodeID)}

	var plain []string
	for _, f := range fields {
		if pseudoFields[f] {
			ids, err := h.pseudoFieldTraversal(id, f)
			if err != nil {
				return InheritResult{}, err
			}
			res.Traversal[f] = ids
			continue
		}
		plain = append(plain, f)
	}
	if len(plain) == 0 {
		return res, nil
	}

	unresolved := make(map[string]struct{}, len(plain))
	for _, f := range plain {
		unresolved[f] = struct{}{}
	}

	typeOK := func(n *Node) bool {
		if len(acceptTypes) == 0 {
			return true
		}
		t := n.ID.Type()
		for _, at := range acceptTypes {
			if at == t {
				return true
			}
		}
		return false
	}

	cb := Callbacks{
		Node: func(n *Node) (bool, error) {
			if typeOK(n) {
				for f := range unresolved {
					if v, err := n.Object.Get(f); err == nil {
						res.Fields[f] = v
						delete(unresolved, f)
					}
				}
			}
			return len(unresolved) == 0, nil
		},
	}
	cb.Head = cb.Node

	if err := h.Traverse(TraverseOptions{Start: id, Direction: DirBFSAncestors}, cb); err != nil {
		return InheritResult{}, err
	}
	return res, nil
}

func (h *Hierarchy) pseudoFieldTraversal(id NodeID, field string) ([]NodeID, error) {
	n, err := h.requireNode(id)
	if err != nil {
		return nil, err
	}
	switch field {
	case PseudoChildren:
		return append([]NodeID{}, n.Children...), nil
	case PseudoParents:
		return append([]NodeID{}, n.Parents...), nil
	}

	dir := DirBFSDescendants
	if field == PseudoAncestors {
		dir = DirBFSAncestors
	}
	var out []NodeID
	cb := Callbacks{Node: func(vn *Node) (bool, error) {
		out = append(out, vn.ID)
		return false, nil
	}}
	if err := h.Traverse(TraverseOptions{Start: id, Direction: dir}, cb); err != nil {
		return nil, err
	}
	return out, nil
}
