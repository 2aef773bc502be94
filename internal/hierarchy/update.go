package hierarchy

import (
	"bytes"

	"github.com/selvadb/selva/internal/object"
	"github.com/selvadb/selva/internal/selvaerr"
)

// MaxUpdateOps is SELVA_CMD_UPDATE_MAX (spec.md §4.6.4): the most update
// ops a single Update call accepts per matched node.
const MaxUpdateOps = 300

// UpdateOpType selects what an UpdateOp does to a node's Object.
type UpdateOpType int

const (
	// OpSetDefault sets Field only if it is not already present.
	OpSetDefault UpdateOpType = iota
	// OpSet unconditionally overwrites Field.
	OpSet
	// OpIncr adds Value.LL to the ll field Field, creating it at
	// IncrDefault if absent (the delta is not added on creation). A
	// Value of any other tag adds 0; an existing non-ll field is an
	// error.
	OpIncr
	// OpDel removes Field.
	OpDel
	// OpSetDiff adds SetAdd's members to and removes SetRemove's members
	// from the Set value at Field (spec.md: "multi-element set diff").
	// Removal handles string and node-id SetRemove sets; members of a
	// double or ll SetRemove set are not removed.
	OpSetDiff
	// OpArrayRemoveIndex removes Value.LL'th element of the array at
	// Field.
	OpArrayRemoveIndex
	// OpObjMeta applies a nested UpdateOp to the per-edge metadata
	// Object of (EdgeField, EdgeDest) instead of the node's own Object.
	OpObjMeta
)

// UpdateOp is one mutation to apply to a matched node (spec.md §4.6.4:
// "(type, field, value_or_struct)").
type UpdateOp struct {
	Type  UpdateOpType
	Field string
	Value object.Value

	IncrDefault int64

	SetAdd    *object.Set
	SetRemove *object.Set

	EdgeField string
	EdgeDest  NodeID
	Nested    *UpdateOp // the op OpObjMeta applies to the edge metadata object
}

// Update applies ops (at most MaxUpdateOps) to id's Object in order,
// returning how many ops actually changed observable state (spec.md
// §4.6.4: "Only ops that actually change observable state emit
// subscription events").
func (h *Hierarchy) Update(id NodeID, ops []UpdateOp) (int, error) {
	if len(ops) > MaxUpdateOps {
		return 0, selvaerr.New(selvaerr.HierarchyEINVAL, "update accepts at most %d ops, got %d", MaxUpdateOps, len(ops))
	}
	n, err := h.requireNode(id)
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, op := range ops {
		did, err := h.applyUpdateOp(n, op)
		if err != nil {
			return changed, err
		}
		if did {
			changed++
		}
	}
	if changed > 0 {
		h.touchUpdated(n)
	}
	return changed, nil
}

func (h *Hierarchy) applyUpdateOp(n *Node, op UpdateOp) (bool, error) {
	if op.Type == OpObjMeta {
		ef, ok := n.Edges[op.EdgeField]
		if !ok || !ef.hasDest(op.EdgeDest) {
			return false, selvaerr.New(selvaerr.HierarchyENOENT, "no edge %s -> %s for obj_meta", op.EdgeField, op.EdgeDest)
		}
		if op.Nested == nil {
			return false, selvaerr.New(selvaerr.EINVAL, "obj_meta requires a nested op")
		}
		did, err := applyObjectOp(ef.metaFor(op.EdgeDest), *op.Nested)
		if err == nil && did {
			h.Subs.DeferFieldChange(n.ID[:], op.EdgeField)
		}
		return did, err
	}

	did, err := applyObjectOp(n.Object, op)
	if err == nil && did {
		h.Subs.DeferFieldChange(n.ID[:], op.Field)
	}
	return did, err
}

func applyObjectOp(o *object.Object, op UpdateOp) (bool, error) {
	switch op.Type {
	case OpSetDefault:
		if o.Exists(op.Field) {
			return false, nil
		}
		if err := o.Set(op.Field, op.Value); err != nil {
			return false, err
		}
		return true, nil

	case OpSet:
		prev, _ := o.Get(op.Field)
		if err := o.Set(op.Field, op.Value); err != nil {
			return false, err
		}
		return !valuesEqual(prev, op.Value), nil

	case OpIncr:
		var delta int64
		if op.Value.Tag == object.TagLL {
			delta = op.Value.LL
		}
		_, hadBefore := o.Get(op.Field)
		existed := hadBefore == nil
		if _, err := o.IncrLL(op.Field, op.IncrDefault, delta); err != nil {
			return false, err
		}
		return !existed || delta != 0, nil

	case OpDel:
		if err := o.Del(op.Field); err != nil {
			return false, nil
		}
		return true, nil

	case OpSetDiff:
		existing, err := o.Get(op.Field)
		var set *object.Set
		if err != nil || existing.Tag != object.TagSet {
			kind := object.SetString
			if op.SetAdd != nil {
				kind = op.SetAdd.Kind()
			} else if op.SetRemove != nil {
				kind = op.SetRemove.Kind()
			}
			set = object.NewSet(kind)
		} else {
			set = existing.Set
		}
		didChange := false
		if op.SetAdd != nil {
			before := set.Len()
			if err := set.Union(op.SetAdd); err != nil {
				return false, err
			}
			didChange = didChange || set.Len() != before
		}
		if op.SetRemove != nil {
			switch op.SetRemove.Kind() {
			case object.SetString:
				for _, s := range op.SetRemove.Strings() {
					if set.HasString(s) {
						set.RemoveString(s)
						didChange = true
					}
				}
			case object.SetNodeID:
				for _, nid := range op.SetRemove.NodeIDs() {
					if set.HasNodeID(nid) {
						set.RemoveNodeID(nid)
						didChange = true
					}
				}
			}
		}
		if err := o.Set(op.Field, object.SetVal(set)); err != nil {
			return false, err
		}
		return didChange, nil

	case OpArrayRemoveIndex:
		index := int(op.Value.LL)
		before, _ := o.Get(op.Field)
		beforeLen := len(before.Arr)
		if err := o.ArrayRemove(op.Field, index); err != nil {
			return false, err
		}
		after, _ := o.Get(op.Field)
		return len(after.Arr) != beforeLen, nil

	default:
		return false, selvaerr.New(selvaerr.HierarchyEINVAL, "unknown update op type")
	}
}

// valuesEqual does a shallow equality check sufficient to tell whether a
// scalar field actually changed; composite types (set/array/object) are
// always reported changed since a structural diff isn't worth the cost
// here — op_set exists precisely for set updates that need precise diffing.
func valuesEqual(a, b object.Value) bool {
	if a.Tag != b.Tag {
		return false
	}
	switch a.Tag {
	case object.TagNull:
		return true
	case object.TagLL:
		return a.LL == b.LL
	case object.TagDouble:
		return a.Dbl == b.Dbl
	case object.TagString:
		return bytes.Equal(a.Str, b.Str)
	default:
		return false
	}
}
