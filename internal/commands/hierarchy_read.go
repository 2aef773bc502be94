package commands

import (
	"strings"

	"github.com/selvadb/selva/internal/dispatch"
	"github.com/selvadb/selva/internal/hierarchy"
	"github.com/selvadb/selva/internal/protocol"
	"github.com/selvadb/selva/internal/rpn"
	"github.com/selvadb/selva/internal/selvaerr"
)

// traversalArgs is the decoded form of spec.md §6's Find/Aggregate
// positional argument schema. The wire schema there detects optional
// segments (order/offset/limit/fields) by sniffing leading keyword
// strings, which needs arbitrary lookahead; protocol.Decoder is a
// forward-only value stream, so this package instead requires every
// field present in a fixed order, with an empty string/array standing
// in for "omitted".
type traversalArgs struct {
	Start      hierarchy.NodeID
	Direction  hierarchy.Direction
	Field      string
	SortField  string
	SortDesc   bool
	Offset     int
	Limit      int
	Fields     []string
	FilterExpr string
	FilterArgs []rpn.Value
}

func readTraversalArgs(d *protocol.Decoder) (traversalArgs, error) {
	var a traversalArgs
	if _, err := readString(d); err != nil { // lang, not otherwise used
		return a, err
	}
	start, err := readNodeID(d)
	if err != nil {
		return a, err
	}
	a.Start = start

	dirStr, err := readString(d)
	if err != nil {
		return a, err
	}
	a.Direction, err = direction(dirStr)
	if err != nil {
		return a, err
	}

	a.Field, err = readString(d)
	if err != nil {
		return a, err
	}
	a.SortField, err = readString(d)
	if err != nil {
		return a, err
	}
	var desc int64
	if err := protocol.Scanf(d, "%lld", &desc); err != nil {
		return a, err
	}
	a.SortDesc = desc != 0

	var offset, limit int64
	if err := protocol.Scanf(d, "%lld%lld", &offset, &limit); err != nil {
		return a, err
	}
	a.Offset, a.Limit = int(offset), int(limit)

	fieldsCSV, err := readString(d)
	if err != nil {
		return a, err
	}
	if fieldsCSV != "" {
		a.Fields = strings.Split(fieldsCSV, ",")
	}

	a.FilterExpr, err = readString(d)
	if err != nil {
		return a, err
	}
	argStrs, err := readStringList(d)
	if err != nil {
		return a, err
	}
	a.FilterArgs = make([]rpn.Value, len(argStrs))
	for i, s := range argStrs {
		a.FilterArgs[i] = rpn.Str(s)
	}
	return a, nil
}

func readStringList(d *protocol.Decoder) ([]string, error) {
	v, err := d.Next()
	if err != nil {
		return nil, err
	}
	if v.Type != protocol.VArray {
		return nil, selvaerr.New(selvaerr.EINVAL, "expected string array, got type %d", v.Type)
	}
	n := v.ArrayLen
	out := make([]string, 0, max(n, 0))
	for i := 0; n == protocol.ArrayPostponedLength || i < n; i++ {
		ev, err := d.Next()
		if err != nil {
			return nil, err
		}
		if ev.Type == protocol.VArrayEnd {
			break
		}
		if ev.Type != protocol.VString {
			return nil, selvaerr.New(selvaerr.EINVAL, "array element is not a string")
		}
		out = append(out, string(ev.Str))
	}
	return out, nil
}

// compiledFilter builds a Find/Aggregate-compatible node filter from a
// raw RPN expression string and its caller-supplied register arguments.
func compiledFilter(expr string, args []rpn.Value) (func(n *hierarchy.Node) (bool, error), error) {
	prog, err := compileRPN(expr)
	if err != nil {
		return nil, err
	}
	if prog == nil {
		return nil, nil
	}
	return func(n *hierarchy.Node) (bool, error) {
		ctx := &rpn.Context{Regs: args, Object: n.Object, ID: rpn.NodeID(n.ID)}
		return rpn.EvalBool(prog, ctx)
	}, nil
}

func registerHierarchyRead(reg *dispatch.Registry, c *Core) {
	reg.Register(dispatch.Command{ID: idFind, Name: "hierarchy.find", Mode: dispatch.ModeReadOnly, Fn: func(req dispatch.Request, enc *protocol.Encoder) error {
		a, err := readTraversalArgs(req.Args)
		if err != nil {
			return err
		}
		filter, err := compiledFilter(a.FilterExpr, a.FilterArgs)
		if err != nil {
			return err
		}
		results, err := c.Hier.Find(hierarchy.FindOptions{
			Start: a.Start, Direction: a.Direction, Field: a.Field,
			Filter: filter, Sort: a.SortField, SortDesc: a.SortDesc,
			Offset: a.Offset, Limit: a.Limit, Fields: a.Fields,
		})
		if err != nil {
			return err
		}
		writeFindResults(enc, results)
		return nil
	}})

	reg.Register(dispatch.Command{ID: idAggregate, Name: "hierarchy.aggregate", Mode: dispatch.ModeReadOnly, Fn: func(req dispatch.Request, enc *protocol.Encoder) error {
		aggFn, err := readString(req.Args)
		if err != nil {
			return err
		}
		a, err := readTraversalArgs(req.Args)
		if err != nil {
			return err
		}
		reducer, reduceField, err := parseAggFn(aggFn, a.SortField)
		if err != nil {
			return err
		}
		filter, err := compiledFilter(a.FilterExpr, a.FilterArgs)
		if err != nil {
			return err
		}
		res, err := c.Hier.Aggregate(hierarchy.AggregateOptions{
			Start: a.Start, Direction: a.Direction, Field: a.Field,
			Filter: filter, Reducer: reducer, ReduceField: reduceField,
		})
		if err != nil {
			return err
		}
		if reducer == hierarchy.ReduceCountNodes || reducer == hierarchy.ReduceCountUniqueField {
			enc.LongLong(res.Count, false)
		} else {
			enc.Double(res.Value)
		}
		return nil
	}})

	reg.Register(dispatch.Command{ID: idHeads, Name: "hierarchy.heads", Mode: dispatch.ModeReadOnly, Fn: func(req dispatch.Request, enc *protocol.Encoder) error {
		writeNodeIDList(enc, c.Hier.Heads())
		return nil
	}})

	reg.Register(dispatch.Command{ID: idParents, Name: "hierarchy.parents", Mode: dispatch.ModeReadOnly, Fn: func(req dispatch.Request, enc *protocol.Encoder) error {
		id, err := readNodeID(req.Args)
		if err != nil {
			return err
		}
		n, err := c.Hier.FindNode(id)
		if err != nil {
			return err
		}
		if n == nil {
			return selvaerr.New(selvaerr.HierarchyENOENT, "node %s not found", id)
		}
		writeNodeIDList(enc, n.Parents)
		return nil
	}})

	reg.Register(dispatch.Command{ID: idChildren, Name: "hierarchy.children", Mode: dispatch.ModeReadOnly, Fn: func(req dispatch.Request, enc *protocol.Encoder) error {
		id, err := readNodeID(req.Args)
		if err != nil {
			return err
		}
		n, err := c.Hier.FindNode(id)
		if err != nil {
			return err
		}
		if n == nil {
			return selvaerr.New(selvaerr.HierarchyENOENT, "node %s not found", id)
		}
		writeNodeIDList(enc, n.Children)
		return nil
	}})

	reg.Register(dispatch.Command{ID: idEdgeList, Name: "hierarchy.edgeList", Mode: dispatch.ModeReadOnly, Fn: func(req dispatch.Request, enc *protocol.Encoder) error {
		id, err := readNodeID(req.Args)
		if err != nil {
			return err
		}
		n, err := c.Hier.FindNode(id)
		if err != nil {
			return err
		}
		if n == nil {
			return selvaerr.New(selvaerr.HierarchyENOENT, "node %s not found", id)
		}
		names := make([]string, 0, len(n.Edges))
		for name := range n.Edges {
			names = append(names, name)
		}
		enc.Array(len(names))
		for _, name := range names {
			enc.String([]byte(name), false, false)
		}
		return nil
	}})

	reg.Register(dispatch.Command{ID: idEdgeGet, Name: "hierarchy.edgeGet", Mode: dispatch.ModeReadOnly, Fn: func(req dispatch.Request, enc *protocol.Encoder) error {
		id, err := readNodeID(req.Args)
		if err != nil {
			return err
		}
		field, err := readString(req.Args)
		if err != nil {
			return err
		}
		n, err := c.Hier.FindNode(id)
		if err != nil {
			return err
		}
		if n == nil {
			return selvaerr.New(selvaerr.HierarchyENOENT, "node %s not found", id)
		}
		ef, ok := n.Edges[field]
		if !ok {
			writeNodeIDList(enc, nil)
			return nil
		}
		writeNodeIDList(enc, ef.Dests)
		return nil
	}})

	reg.Register(dispatch.Command{ID: idEdgeGetMeta, Name: "hierarchy.edgeGetMetadata", Mode: dispatch.ModeReadOnly, Fn: func(req dispatch.Request, enc *protocol.Encoder) error {
		id, err := readNodeID(req.Args)
		if err != nil {
			return err
		}
		field, err := readString(req.Args)
		if err != nil {
			return err
		}
		dest, err := readNodeID(req.Args)
		if err != nil {
			return err
		}
		meta, err := c.Hier.EdgeMeta(id, field, dest)
		if err != nil {
			return err
		}
		writeObject(enc, meta)
		return nil
	}})

	reg.Register(dispatch.Command{ID: idResolve, Name: "hierarchy.resolve", Mode: dispatch.ModeReadOnly, Fn: func(req dispatch.Request, enc *protocol.Encoder) error {
		alias, err := readString(req.Args)
		if err != nil {
			return err
		}
		id, ok := c.Hier.ResolveAlias(alias)
		if !ok {
			return selvaerr.New(selvaerr.HierarchyENOENT, "alias %q not found", alias)
		}
		writeNodeID(enc, id)
		return nil
	}})
}

func writeFindResults(enc *protocol.Encoder, results []hierarchy.FindResult) {
	enc.Array(len(results))
	for _, r := range results {
		writeNodeID(enc, r.ID)
		if r.Object != nil {
			writeObject(enc, r.Object)
			continue
		}
		enc.Array(len(r.Fields) * 2)
		for k, v := range r.Fields {
			enc.String([]byte(k), false, false)
			writeValue(enc, v)
		}
	}
}

// parseAggFn maps spec.md §6's single-character agg_fn code to a
// Reducer, pairing it with the field the sort-field slot carries when
// a reducer needs one (count has no such field).
func parseAggFn(code, field string) (hierarchy.Reducer, string, error) {
	switch code {
	case "c":
		return hierarchy.ReduceCountNodes, "", nil
	case "u":
		return hierarchy.ReduceCountUniqueField, field, nil
	case "s":
		return hierarchy.ReduceSumField, field, nil
	case "a":
		return hierarchy.ReduceAvgField, field, nil
	case "n":
		return hierarchy.ReduceMinField, field, nil
	case "x":
		return hierarchy.ReduceMaxField, field, nil
	default:
		return 0, "", selvaerr.New(selvaerr.EINVAL, "unknown agg_fn code %q", code)
	}
}
