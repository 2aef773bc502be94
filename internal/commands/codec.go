package commands

import (
	"github.com/selvadb/selva/internal/hierarchy"
	"github.com/selvadb/selva/internal/object"
	"github.com/selvadb/selva/internal/protocol"
	"github.com/selvadb/selva/internal/selvaerr"
)

// readNodeID decodes one fixed-width node id, wired as a binary string
// value (spec.md §4.1 has no dedicated node-id wire tag; it rides the
// string type like every other byte string).
func readNodeID(d *protocol.Decoder) (hierarchy.NodeID, error) {
	v, err := d.Next()
	if err != nil {
		return hierarchy.NodeID{}, err
	}
	if v.Type != protocol.VString {
		return hierarchy.NodeID{}, selvaerr.New(selvaerr.EINVAL, "expected node id string, got type %d", v.Type)
	}
	if len(v.Str) != 10 {
		return hierarchy.NodeID{}, selvaerr.New(selvaerr.EINVAL, "node id must be 10 bytes, got %d", len(v.Str))
	}
	var id hierarchy.NodeID
	copy(id[:], v.Str)
	return id, nil
}

func writeNodeID(e *protocol.Encoder, id hierarchy.NodeID) {
	e.String(id[:], true, false)
}

// readString decodes the next value as a plain UTF-8 string.
func readString(d *protocol.Decoder) (string, error) {
	v, err := d.Next()
	if err != nil {
		return "", err
	}
	if v.Type != protocol.VString {
		return "", selvaerr.New(selvaerr.EINVAL, "expected string, got type %d", v.Type)
	}
	return string(v.Str), nil
}

// readNodeIDList decodes a fixed-length array of node ids (spec.md §6's
// "node_ids" trailing argument on find/aggregate/update/del/etc).
func readNodeIDList(d *protocol.Decoder) ([]hierarchy.NodeID, error) {
	v, err := d.Next()
	if err != nil {
		return nil, err
	}
	if v.Type != protocol.VArray {
		return nil, selvaerr.New(selvaerr.EINVAL, "expected array of node ids, got type %d", v.Type)
	}
	n := v.ArrayLen
	out := make([]hierarchy.NodeID, 0, max(n, 0))
	for i := 0; n == protocol.ArrayPostponedLength || i < n; i++ {
		ev, err := d.Next()
		if err != nil {
			return nil, err
		}
		if ev.Type == protocol.VArrayEnd {
			break
		}
		if ev.Type != protocol.VString || len(ev.Str) != 10 {
			return nil, selvaerr.New(selvaerr.EINVAL, "array element is not a 10-byte node id")
		}
		var id hierarchy.NodeID
		copy(id[:], ev.Str)
		out = append(out, id)
	}
	return out, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// writeNodeIDList encodes ids as a fixed-length selva_proto array.
func writeNodeIDList(e *protocol.Encoder, ids []hierarchy.NodeID) {
	e.Array(len(ids))
	for _, id := range ids {
		writeNodeID(e, id)
	}
}

// writeValue encodes a decoded object.Value the way a command reply
// streams a node's field value (spec.md §4.5/§4.1): scalars pass
// through directly, sets/arrays/objects become nested selva_proto
// arrays.
func writeValue(e *protocol.Encoder, v object.Value) {
	switch v.Tag {
	case object.TagNull:
		e.Null()
	case object.TagLL:
		e.LongLong(v.LL, false)
	case object.TagDouble:
		e.Double(v.Dbl)
	case object.TagString:
		e.String(v.Str, false, false)
	case object.TagSet:
		writeSet(e, v.Set)
	case object.TagArray:
		e.Array(len(v.Arr))
		for _, el := range v.Arr {
			writeValue(e, el)
		}
	case object.TagObject:
		writeObject(e, v.Obj)
	case object.TagPtr:
		e.Null() // opaque pointers have no wire representation (spec.md §3)
	default:
		e.Null()
	}
}

func writeSet(e *protocol.Encoder, s *object.Set) {
	if s == nil {
		e.Array(0)
		return
	}
	switch s.Kind() {
	case object.SetString:
		items := s.Strings()
		e.Array(len(items))
		for _, x := range items {
			e.String([]byte(x), false, false)
		}
	case object.SetDouble:
		items := s.Doubles()
		e.Array(len(items))
		for _, x := range items {
			e.Double(x)
		}
	case object.SetLL:
		items := s.LLs()
		e.Array(len(items))
		for _, x := range items {
			e.LongLong(x, false)
		}
	case object.SetNodeID:
		items := s.NodeIDs()
		e.Array(len(items))
		for _, x := range items {
			e.String(x[:], true, false)
		}
	default:
		e.Array(0)
	}
}

// writeObject encodes an Object as a flat (key, value) pair stream
// wrapped in an array header, matching how hierarchy.find/object.get
// stream a whole node payload back to the client.
func writeObject(e *protocol.Encoder, o *object.Object) {
	keys := o.Keys()
	e.Array(len(keys) * 2)
	for _, k := range keys {
		v, _ := o.Get(k)
		e.String([]byte(k), false, false)
		writeValue(e, v)
	}
}

// readValue decodes the next wire value into an object.Value. Arrays
// decode as TagArray; selva_proto has no wire distinction between a set,
// an object, and a plain array (all ride VArray), so a set- or
// object-typed field written over the wire round-trips as a plain array
// on read. Callers that need set semantics (e.g. aliases) go through
// dedicated fields instead of this generic path. See DESIGN.md.
func readValue(d *protocol.Decoder) (object.Value, error) {
	v, err := d.Next()
	if err != nil {
		return object.Value{}, err
	}
	switch v.Type {
	case protocol.VNull:
		return object.Null(), nil
	case protocol.VDouble:
		return object.Dbl(v.Double), nil
	case protocol.VLongLong:
		return object.LL(v.Long), nil
	case protocol.VString:
		return object.Str(v.Str), nil
	case protocol.VArray:
		n := v.ArrayLen
		elems := make([]object.Value, 0, max(n, 0))
		for i := 0; n == protocol.ArrayPostponedLength || i < n; i++ {
			peek, err := d.Next()
			if err != nil {
				return object.Value{}, err
			}
			if peek.Type == protocol.VArrayEnd {
				break
			}
			el, err := valueFromDecoded(peek)
			if err != nil {
				return object.Value{}, err
			}
			elems = append(elems, el)
		}
		return object.ArrVal(elems), nil
	default:
		return object.Value{}, selvaerr.New(selvaerr.EINVAL, "unsupported value type %d", v.Type)
	}
}

// valueFromDecoded converts an already-decoded scalar protocol.Value
// (used while walking an array whose elements were fetched ahead of
// time) into an object.Value. Nested arrays are not supported here since
// readValue's array branch only needs one level of recursion for the
// shapes object.* commands actually send.
func valueFromDecoded(v protocol.Value) (object.Value, error) {
	switch v.Type {
	case protocol.VNull:
		return object.Null(), nil
	case protocol.VDouble:
		return object.Dbl(v.Double), nil
	case protocol.VLongLong:
		return object.LL(v.Long), nil
	case protocol.VString:
		return object.Str(v.Str), nil
	default:
		return object.Value{}, selvaerr.New(selvaerr.EINVAL, "unsupported array element type %d", v.Type)
	}
}

// direction maps spec.md §6's wire direction keyword to the
// corresponding hierarchy.Direction.
func direction(s string) (hierarchy.Direction, error) {
	switch s {
	case "node":
		return hierarchy.DirNode, nil
	case "children":
		return hierarchy.DirChildren, nil
	case "parents":
		return hierarchy.DirParents, nil
	case "bfs_ancestors":
		return hierarchy.DirBFSAncestors, nil
	case "bfs_descendants":
		return hierarchy.DirBFSDescendants, nil
	case "dfs_ancestors":
		return hierarchy.DirDFSAncestors, nil
	case "dfs_descendants":
		return hierarchy.DirDFSDescendants, nil
	case "dfs_full":
		return hierarchy.DirDFSFull, nil
	case "ref":
		return hierarchy.DirRef, nil
	case "edge_field":
		return hierarchy.DirEdgeField, nil
	case "bfs_edge_field":
		return hierarchy.DirBFSEdgeField, nil
	case "expression":
		return hierarchy.DirExpression, nil
	default:
		return 0, selvaerr.New(selvaerr.EINVAL, "unknown traversal direction %q", s)
	}
}
