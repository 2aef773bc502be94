package hierarchy

import (
	"github.com/selvadb/selva/internal/object"
	"github.com/selvadb/selva/internal/selvaerr"
)

// edgeField returns (creating if needed) the named outgoing edge field on
// src, resolving its governing constraint (spec.md §3).
func (h *Hierarchy) edgeField(src *Node, fieldName string) *EdgeField {
	ef, ok := src.Edges[fieldName]
	if ok {
		return ef
	}
	c := h.Constraints.Lookup(src.ID.Type(), fieldName)
	ef = newEdgeField(fieldName, c)
	src.Edges[fieldName] = ef
	return ef
}

// SetEdge replaces fieldName's destination set on sourceID wholesale
// (spec.md §4.6.2). Under a single_ref constraint, dests must contain at
// most one id. A missing source is upserted implicitly.
func (h *Hierarchy) SetEdge(sourceID NodeID, fieldName string, dests []NodeID) error {
	src, err := h.Upsert(sourceID, false)
	if err != nil {
		return err
	}
	ef := h.edgeField(src, fieldName)
	if ef.Constraint.SingleRef && len(dests) > 1 {
		return selvaerr.New(selvaerr.HierarchyEINVAL, "field %q is single_ref, got %d destinations", fieldName, len(dests))
	}
	for _, old := range append([]NodeID{}, ef.Dests...) {
		h.removeEdgeDest(src, ef, old)
	}
	for _, d := range dests {
		if err := h.addEdgeDest(src, ef, d); err != nil {
			return err
		}
	}
	h.Subs.DeferFieldChange(sourceID[:], fieldName)
	return nil
}

// AddEdge unions dests into fieldName's destination set (idempotent,
// spec.md §4.6.2). A single_ref field that already holds a distinct
// destination has it overwritten rather than rejected, matching the
// reference implementation's chosen policy (spec.md:190); addEdgeDest
// performs the overwrite, same as it does for SetEdge. A missing source
// is upserted implicitly.
func (h *Hierarchy) AddEdge(sourceID NodeID, fieldName string, dests []NodeID) error {
	src, err := h.Upsert(sourceID, false)
	if err != nil {
		return err
	}
	ef := h.edgeField(src, fieldName)
	for _, d := range dests {
		if err := h.addEdgeDest(src, ef, d); err != nil {
			return err
		}
	}
	h.Subs.DeferFieldChange(sourceID[:], fieldName)
	return nil
}

// DelEdge removes the given destinations from fieldName.
func (h *Hierarchy) DelEdge(sourceID NodeID, fieldName string, dests []NodeID) error {
	src, err := h.requireNode(sourceID)
	if err != nil {
		return err
	}
	ef, ok := src.Edges[fieldName]
	if !ok {
		return nil
	}
	for _, d := range dests {
		h.removeEdgeDest(src, ef, d)
	}
	h.Subs.DeferFieldChange(sourceID[:], fieldName)
	return nil
}

// DelEdgeField removes fieldName entirely, undoing every destination and
// its back-reference.
func (h *Hierarchy) DelEdgeField(sourceID NodeID, fieldName string) error {
	src, err := h.requireNode(sourceID)
	if err != nil {
		return err
	}
	ef, ok := src.Edges[fieldName]
	if !ok {
		return nil
	}
	for _, d := range append([]NodeID{}, ef.Dests...) {
		h.removeEdgeDest(src, ef, d)
	}
	delete(src.Edges, fieldName)
	h.Subs.DeferFieldChange(sourceID[:], fieldName)
	return nil
}

// EdgeMeta returns the per-edge metadata Object for (sourceID, fieldName,
// dest), creating it lazily (spec.md §4.6.2).
func (h *Hierarchy) EdgeMeta(sourceID NodeID, fieldName string, dest NodeID) (*object.Object, error) {
	src, err := h.requireNode(sourceID)
	if err != nil {
		return nil, err
	}
	ef, ok := src.Edges[fieldName]
	if !ok || !ef.hasDest(dest) {
		return nil, selvaerr.New(selvaerr.HierarchyENOENT, "no edge %s.%s -> %s", sourceID, fieldName, dest)
	}
	return ef.metaFor(dest), nil
}

// addEdgeDest links src --fieldName--> dest, upserting dest implicitly if
// missing, recording dest's origin back-reference, and — when the
// constraint is bidirectional — mirroring the edge onto dest's back field
// (spec.md §3 invariant: "bidirectional edges keep both sides consistent").
func (h *Hierarchy) addEdgeDest(src *Node, ef *EdgeField, dest NodeID) error {
	if ef.Constraint.SingleRef && len(ef.Dests) == 1 && !ef.hasDest(dest) {
		h.removeEdgeDest(src, ef, ef.Dests[0])
	}
	dn, err := h.Upsert(dest, false)
	if err != nil {
		return err
	}
	added := false
	ef.Dests, added = addUniqueID(ef.Dests, dest)
	if !added {
		return nil
	}
	dn.Origins = append(dn.Origins, EdgeOrigin{Source: src.ID, Field: ef.Name})

	if ef.Constraint.Bidirectional {
		back := h.edgeField(dn, ef.Constraint.BackFieldName)
		if back.Constraint.SingleRef && len(back.Dests) == 1 && !back.hasDest(src.ID) {
			h.removeEdgeDest(dn, back, back.Dests[0])
		}
		var addedBack bool
		back.Dests, addedBack = addUniqueID(back.Dests, src.ID)
		if addedBack {
			src.Origins = append(src.Origins, EdgeOrigin{Source: dest, Field: back.Name})
		}
	}
	return nil
}

// removeEdgeDest unlinks src --ef--> dest: drops dest from ef.Dests and
// its metadata, removes dest's origin back-reference to src, and mirrors
// the removal onto the bidirectional back field when present.
func (h *Hierarchy) removeEdgeDest(src *Node, ef *EdgeField, dest NodeID) {
	if !ef.hasDest(dest) {
		return
	}
	ef.removeDest(dest)
	h.removeEdgeOrigin(dest, src.ID, ef.Name)

	if ef.Constraint.Bidirectional {
		if dn, ok := h.nodes[dest]; ok {
			if back, ok := dn.Edges[ef.Constraint.BackFieldName]; ok {
				back.removeDest(src.ID)
				h.removeEdgeOrigin(src.ID, dest, back.Name)
			}
		}
	}
}
