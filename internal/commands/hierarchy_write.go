package commands

import (
	"strings"

	"github.com/selvadb/selva/internal/dispatch"
	"github.com/selvadb/selva/internal/hierarchy"
	"github.com/selvadb/selva/internal/object"
	"github.com/selvadb/selva/internal/protocol"
	"github.com/selvadb/selva/internal/selvaerr"
)

// registerHierarchyWrite wires spec.md §6's mutating hierarchy commands:
// del (23), compress/listCompressed (30-31), the node-type registry
// (33-35), the parent/child edge-set family (37-40, 59-60), the generic
// edge-field family (61-62, 69-70), and the combined modify/update
// commands (63-64).
func registerHierarchyWrite(reg *dispatch.Registry, c *Core) {
	reg.Register(dispatch.Command{ID: idDel, Name: "hierarchy.del", Mode: dispatch.ModeMutate, Fn: func(req dispatch.Request, enc *protocol.Encoder) error {
		flagsStr, err := readString(req.Args)
		if err != nil {
			return err
		}
		ids, err := readNodeIDList(req.Args)
		if err != nil {
			return err
		}
		flags := hierarchy.DeleteFlags{Force: strings.ContainsRune(flagsStr, 'F')}
		replyIDs := strings.ContainsRune(flagsStr, 'I')

		var deleted []hierarchy.NodeID
		for _, id := range ids {
			ds, err := c.Hier.Delete(id, flags)
			if err != nil {
				return err
			}
			deleted = append(deleted, ds...)
		}
		if replyIDs {
			writeNodeIDList(enc, deleted)
		} else {
			enc.LongLong(int64(len(deleted)), false)
		}
		return nil
	}})

	reg.Register(dispatch.Command{ID: idCompress, Name: "hierarchy.compress", Mode: dispatch.ModeMutate, Fn: func(req dispatch.Request, enc *protocol.Encoder) error {
		id, err := readNodeID(req.Args)
		if err != nil {
			return err
		}
		kind := hierarchy.StorageMem
		if !req.Args.Done() {
			mode, err := readString(req.Args)
			if err != nil {
				return err
			}
			switch mode {
			case "", "mem":
				kind = hierarchy.StorageMem
			case "disk":
				kind = hierarchy.StorageDisk
			default:
				return selvaerr.New(selvaerr.EINVAL, "unknown compress mode %q", mode)
			}
		}
		if err := c.Hier.CompressSubtree(id, kind); err != nil {
			return err
		}
		enc.LongLong(1, false)
		return nil
	}})

	reg.Register(dispatch.Command{ID: idListCompressed, Name: "hierarchy.listCompressed", Mode: dispatch.ModePure, Fn: func(req dispatch.Request, enc *protocol.Encoder) error {
		writeNodeIDList(enc, c.Hier.ListCompressed())
		return nil
	}})

	reg.Register(dispatch.Command{ID: idTypeAdd, Name: "hierarchy.typeAdd", Mode: dispatch.ModeMutate, Fn: func(req dispatch.Request, enc *protocol.Encoder) error {
		prefixStr, err := readString(req.Args)
		if err != nil {
			return err
		}
		name, err := readString(req.Args)
		if err != nil {
			return err
		}
		if len(prefixStr) != 2 {
			return selvaerr.New(selvaerr.EINVAL, "type prefix must be 2 bytes, got %d", len(prefixStr))
		}
		var prefix [2]byte
		copy(prefix[:], prefixStr)
		c.Hier.Types.Add(prefix, name)
		enc.Null()
		return nil
	}})

	reg.Register(dispatch.Command{ID: idTypeClear, Name: "hierarchy.typeClear", Mode: dispatch.ModeMutate, Fn: func(req dispatch.Request, enc *protocol.Encoder) error {
		c.Hier.Types.Clear()
		enc.Null()
		return nil
	}})

	reg.Register(dispatch.Command{ID: idTypeList, Name: "hierarchy.typeList", Mode: dispatch.ModePure, Fn: func(req dispatch.Request, enc *protocol.Encoder) error {
		names := c.Hier.Types.List()
		enc.Array(len(names) * 2)
		for prefix, name := range names {
			enc.String(prefix[:], true, false)
			enc.String([]byte(name), false, false)
		}
		return nil
	}})

	registerParentChildFamily(reg, c)
	registerEdgeFieldFamily(reg, c)

	reg.Register(dispatch.Command{ID: idModify, Name: "modify", Mode: dispatch.ModeMutate, Fn: handleModify(c)})
	reg.Register(dispatch.Command{ID: idUpdate, Name: "update", Mode: dispatch.ModeMutate, Fn: handleUpdate(c)})
}

func registerParentChildFamily(reg *dispatch.Registry, c *Core) {
	type edgeListFn func(id hierarchy.NodeID, ids []hierarchy.NodeID) error
	register := func(id int8, name string, fn edgeListFn) {
		reg.Register(dispatch.Command{ID: id, Name: name, Mode: dispatch.ModeMutate, Fn: func(req dispatch.Request, enc *protocol.Encoder) error {
			nodeID, err := readNodeID(req.Args)
			if err != nil {
				return err
			}
			others, err := readNodeIDList(req.Args)
			if err != nil {
				return err
			}
			if err := fn(nodeID, others); err != nil {
				return err
			}
			enc.Null()
			return nil
		}})
	}
	register(idSetParents, "hierarchy.setParents", c.Hier.SetParents)
	register(idSetChildren, "hierarchy.setChildren", c.Hier.SetChildren)
	register(idAddParents, "hierarchy.addParents", c.Hier.AddParents)
	register(idAddChildren, "hierarchy.addChildren", c.Hier.AddChildren)
	register(idDelParents, "hierarchy.delParents", c.Hier.DelParents)
	register(idDelChildren, "hierarchy.delChildren", c.Hier.DelChildren)
}

func registerEdgeFieldFamily(reg *dispatch.Registry, c *Core) {
	reg.Register(dispatch.Command{ID: idSetEdge, Name: "hierarchy.setEdge", Mode: dispatch.ModeMutate, Fn: edgeFieldHandler(c.Hier.SetEdge)})
	reg.Register(dispatch.Command{ID: idAddEdge, Name: "hierarchy.addEdge", Mode: dispatch.ModeMutate, Fn: edgeFieldHandler(c.Hier.AddEdge)})
	reg.Register(dispatch.Command{ID: idDelEdge, Name: "hierarchy.delEdge", Mode: dispatch.ModeMutate, Fn: edgeFieldHandler(c.Hier.DelEdge)})

	reg.Register(dispatch.Command{ID: idDelEdgeField, Name: "hierarchy.delEdgeField", Mode: dispatch.ModeMutate, Fn: func(req dispatch.Request, enc *protocol.Encoder) error {
		id, err := readNodeID(req.Args)
		if err != nil {
			return err
		}
		field, err := readString(req.Args)
		if err != nil {
			return err
		}
		if err := c.Hier.DelEdgeField(id, field); err != nil {
			return err
		}
		enc.Null()
		return nil
	}})
}

func edgeFieldHandler(fn func(sourceID hierarchy.NodeID, fieldName string, dests []hierarchy.NodeID) error) dispatch.Handler {
	return func(req dispatch.Request, enc *protocol.Encoder) error {
		id, err := readNodeID(req.Args)
		if err != nil {
			return err
		}
		field, err := readString(req.Args)
		if err != nil {
			return err
		}
		dests, err := readNodeIDList(req.Args)
		if err != nil {
			return err
		}
		if err := fn(id, field, dests); err != nil {
			return err
		}
		enc.Null()
		return nil
	}
}

// modifyOp is one (type_code, field, value) triple from a modify
// command, per spec.md §6's id-63 schema.
type modifyOp struct {
	TypeCode byte
	Field    string
	Value    object.Value
}

// handleModify implements spec.md §6's `modify` command (id 63): given a
// node id, an operation flag string, and a run of (type_code, field,
// value) triples, apply each triple to the node's Object. The node is
// upserted explicitly: it is created if it does not already exist, and
// an existing node's implicit flag is cleared.
func handleModify(c *Core) dispatch.Handler {
	return func(req dispatch.Request, enc *protocol.Encoder) error {
		id, err := readNodeID(req.Args)
		if err != nil {
			return err
		}
		if _, err := readString(req.Args); err != nil { // flags, reserved for future use
			return err
		}
		n, err := c.Hier.Upsert(id, true)
		if err != nil {
			return err
		}

		applied := 0
		for !req.Args.Done() {
			op, err := readModifyOp(req.Args)
			if err != nil {
				return err
			}
			if err := applyModifyOp(c.Hier, id, n.Object, op); err != nil {
				return err
			}
			applied++
		}
		enc.LongLong(int64(applied), false)
		return nil
	}
}

func readModifyOp(d *protocol.Decoder) (modifyOp, error) {
	var op modifyOp
	typeCode, err := readString(d)
	if err != nil {
		return op, err
	}
	if len(typeCode) != 1 {
		return op, selvaerr.New(selvaerr.EINVAL, "modify op type_code must be 1 byte")
	}
	op.TypeCode = typeCode[0]
	op.Field, err = readString(d)
	if err != nil {
		return op, err
	}
	op.Value, err = readValue(d)
	return op, err
}

// applyModifyOp dispatches on op.TypeCode the way the reference
// implementation's modify_cmd switch does: '=' set, '+' incr (delta
// carried in op.Value as an ll), 'd' delete, 'p' array push. Writes
// targeting the reserved "aliases" field route through
// Hierarchy.AddAlias instead of the plain Object path, since only that
// keeps the alias-uniqueness index (spec.md §3) consistent.
func applyModifyOp(h *hierarchy.Hierarchy, id hierarchy.NodeID, o *object.Object, op modifyOp) error {
	if op.Field == object.FieldAliases && (op.TypeCode == '=' || op.TypeCode == 'p') {
		return addAliasesFromValue(h, id, op.Value)
	}
	switch op.TypeCode {
	case '=':
		return o.Set(op.Field, op.Value)
	case '+':
		if op.Value.Tag != object.TagLL {
			return selvaerr.New(selvaerr.EINVAL, "incr op requires an ll value")
		}
		_, err := o.IncrLL(op.Field, 0, op.Value.LL)
		return err
	case 'd':
		return o.Del(op.Field)
	case 'p':
		return o.ArrayPush(op.Field, op.Value)
	default:
		return selvaerr.New(selvaerr.EINVAL, "unknown modify op type_code %q", op.TypeCode)
	}
}

// addAliasesFromValue adds every string v carries (a single string, or an
// array of strings) as an alias of id.
func addAliasesFromValue(h *hierarchy.Hierarchy, id hierarchy.NodeID, v object.Value) error {
	switch v.Tag {
	case object.TagString:
		return h.AddAlias(id, string(v.Str))
	case object.TagArray:
		for _, el := range v.Arr {
			if el.Tag != object.TagString {
				return selvaerr.New(selvaerr.EINVAL, "aliases field only accepts strings")
			}
			if err := h.AddAlias(id, string(el.Str)); err != nil {
				return err
			}
		}
		return nil
	default:
		return selvaerr.New(selvaerr.EINVAL, "aliases field only accepts strings or arrays of strings")
	}
}

// handleUpdate implements spec.md §6's `update` command (id 64) and
// §4.6.4's full op set: it runs a traversal like find/aggregate, then
// runs hierarchy.Update's complete op interpreter (set_default, set,
// incr, del, op_set, array_remove_index, obj_meta) against every
// matched node, rather than the narrower 4-op subset modify's
// applyModifyOp supports. hierarchy.Update also owns MaxUpdateOps
// enforcement and per-op subscription change tracking.
func handleUpdate(c *Core) dispatch.Handler {
	return func(req dispatch.Request, enc *protocol.Encoder) error {
		a, err := readTraversalArgs(req.Args)
		if err != nil {
			return err
		}
		var nOps int64
		if err := protocol.Scanf(req.Args, "%lld", &nOps); err != nil {
			return err
		}
		if nOps > hierarchy.MaxUpdateOps {
			return selvaerr.New(selvaerr.EINVAL, "update accepts at most %d ops, got %d", hierarchy.MaxUpdateOps, nOps)
		}
		ops := make([]hierarchy.UpdateOp, 0, nOps)
		for i := int64(0); i < nOps; i++ {
			op, err := readUpdateOp(req.Args)
			if err != nil {
				return err
			}
			ops = append(ops, op)
		}

		filter, err := compiledFilter(a.FilterExpr, a.FilterArgs)
		if err != nil {
			return err
		}
		results, err := c.Hier.Find(hierarchy.FindOptions{
			Start: a.Start, Direction: a.Direction, Field: a.Field,
			Filter: filter, Offset: a.Offset, Limit: a.Limit,
		})
		if err != nil {
			return err
		}

		var updated int64
		for _, r := range results {
			changed, err := c.Hier.Update(r.ID, ops)
			if err != nil {
				return err
			}
			if changed > 0 {
				updated++
			}
		}
		enc.LongLong(updated, false)
		return nil
	}
}

// readUpdateOp decodes one update op per spec.md §4.6.4's op set. Each
// op starts with a string type code naming the op, followed by that
// op's own trailing args; obj_meta recurses to decode its nested op the
// same way.
func readUpdateOp(d *protocol.Decoder) (hierarchy.UpdateOp, error) {
	var op hierarchy.UpdateOp
	typeCode, err := readString(d)
	if err != nil {
		return op, err
	}
	switch typeCode {
	case "set_default":
		op.Type = hierarchy.OpSetDefault
		if op.Field, err = readString(d); err != nil {
			return op, err
		}
		op.Value, err = readValue(d)
		return op, err

	case "set":
		op.Type = hierarchy.OpSet
		if op.Field, err = readString(d); err != nil {
			return op, err
		}
		op.Value, err = readValue(d)
		return op, err

	case "incr":
		op.Type = hierarchy.OpIncr
		if op.Field, err = readString(d); err != nil {
			return op, err
		}
		if op.Value, err = readValue(d); err != nil {
			return op, err
		}
		var def int64
		err = protocol.Scanf(d, "%lld", &def)
		op.IncrDefault = def
		return op, err

	case "del":
		op.Type = hierarchy.OpDel
		op.Field, err = readString(d)
		return op, err

	case "op_set":
		op.Type = hierarchy.OpSetDiff
		if op.Field, err = readString(d); err != nil {
			return op, err
		}
		if op.SetAdd, err = readOptionalSetArg(d); err != nil {
			return op, err
		}
		op.SetRemove, err = readOptionalSetArg(d)
		return op, err

	case "array_remove_index":
		op.Type = hierarchy.OpArrayRemoveIndex
		if op.Field, err = readString(d); err != nil {
			return op, err
		}
		var index int64
		err = protocol.Scanf(d, "%lld", &index)
		op.Value = object.LL(index)
		return op, err

	case "obj_meta":
		op.Type = hierarchy.OpObjMeta
		if op.EdgeField, err = readString(d); err != nil {
			return op, err
		}
		if op.EdgeDest, err = readNodeID(d); err != nil {
			return op, err
		}
		nested, err := readUpdateOp(d)
		if err != nil {
			return op, err
		}
		op.Nested = &nested
		return op, nil

	default:
		return op, selvaerr.New(selvaerr.EINVAL, "unknown update op type %q", typeCode)
	}
}

// readOptionalSetArg decodes op_set's add/remove side: a presence flag
// (ll 0/1) followed, only when present, by a kind tag ("str"/"dbl"/
// "ll"/"node") and an array of same-kind items. Returns nil when absent,
// matching UpdateOp.SetAdd/SetRemove's "nil means not given" contract.
func readOptionalSetArg(d *protocol.Decoder) (*object.Set, error) {
	var present int64
	if err := protocol.Scanf(d, "%lld", &present); err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	kindStr, err := readString(d)
	if err != nil {
		return nil, err
	}
	var kind object.SetKind
	switch kindStr {
	case "str":
		kind = object.SetString
	case "dbl":
		kind = object.SetDouble
	case "ll":
		kind = object.SetLL
	case "node":
		kind = object.SetNodeID
	default:
		return nil, selvaerr.New(selvaerr.EINVAL, "unknown set kind %q", kindStr)
	}
	items, err := d.Next()
	if err != nil {
		return nil, err
	}
	if items.Type != protocol.VArray {
		return nil, selvaerr.New(selvaerr.EINVAL, "expected array of set items, got type %d", items.Type)
	}
	set := object.NewSet(kind)
	n := items.ArrayLen
	for i := 0; n == protocol.ArrayPostponedLength || i < n; i++ {
		el, err := d.Next()
		if err != nil {
			return nil, err
		}
		if el.Type == protocol.VArrayEnd {
			break
		}
		switch kind {
		case object.SetString:
			set.AddString(string(el.Str))
		case object.SetDouble:
			set.AddDouble(el.Double)
		case object.SetLL:
			set.AddLL(el.Long)
		case object.SetNodeID:
			if len(el.Str) != 10 {
				return nil, selvaerr.New(selvaerr.EINVAL, "set node id element must be 10 bytes")
			}
			var id [10]byte
			copy(id[:], el.Str)
			set.AddNodeID(id)
		}
	}
	return set, nil
}
