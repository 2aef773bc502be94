package commands

import (
	"github.com/selvadb/selva/internal/dispatch"
	"github.com/selvadb/selva/internal/protocol"
	"github.com/selvadb/selva/internal/rpn"
	"github.com/selvadb/selva/internal/selvaerr"
)

// registerRPN wires spec.md §6's rpn.eval{Bool,Double,String,Set}
// commands (ids 41-44): each takes a node id ("key"), a postfix
// expression string, and a trailing run of string register arguments,
// and evaluates the expression against that node's Object.
func registerRPN(reg *dispatch.Registry, c *Core) {
	reg.Register(dispatch.Command{ID: idEvalBool, Name: "rpn.evalBool", Mode: dispatch.ModePure, Fn: func(req dispatch.Request, enc *protocol.Encoder) error {
		prog, ctx, err := decodeRPNArgs(req.Args, c)
		if err != nil {
			return err
		}
		v, err := rpn.EvalBool(prog, ctx)
		if err != nil {
			return err
		}
		var ll int64
		if v {
			ll = 1
		}
		enc.LongLong(ll, false)
		return nil
	}})

	reg.Register(dispatch.Command{ID: idEvalDouble, Name: "rpn.evalDouble", Mode: dispatch.ModePure, Fn: func(req dispatch.Request, enc *protocol.Encoder) error {
		prog, ctx, err := decodeRPNArgs(req.Args, c)
		if err != nil {
			return err
		}
		v, err := rpn.EvalDouble(prog, ctx)
		if err != nil {
			return err
		}
		enc.Double(v)
		return nil
	}})

	reg.Register(dispatch.Command{ID: idEvalString, Name: "rpn.evalString", Mode: dispatch.ModePure, Fn: func(req dispatch.Request, enc *protocol.Encoder) error {
		prog, ctx, err := decodeRPNArgs(req.Args, c)
		if err != nil {
			return err
		}
		v, err := rpn.EvalString(prog, ctx)
		if err != nil {
			return err
		}
		enc.String([]byte(v), false, false)
		return nil
	}})

	reg.Register(dispatch.Command{ID: idEvalSet, Name: "rpn.evalSet", Mode: dispatch.ModePure, Fn: func(req dispatch.Request, enc *protocol.Encoder) error {
		prog, ctx, err := decodeRPNArgs(req.Args, c)
		if err != nil {
			return err
		}
		s, err := rpn.EvalSetResult(prog, ctx)
		if err != nil {
			return err
		}
		writeSet(enc, s)
		return nil
	}})
}

// decodeRPNArgs decodes the shared key/expr/args schema and compiles
// expr, returning a ready-to-evaluate Context bound to the node's
// Object.
func decodeRPNArgs(d *protocol.Decoder, c *Core) (*rpn.Program, *rpn.Context, error) {
	id, err := readNodeID(d)
	if err != nil {
		return nil, nil, err
	}
	expr, err := readString(d)
	if err != nil {
		return nil, nil, err
	}
	argStrs, err := readStringList(d)
	if err != nil {
		return nil, nil, err
	}

	n, err := c.Hier.FindNode(id)
	if err != nil {
		return nil, nil, err
	}
	if n == nil {
		return nil, nil, selvaerr.New(selvaerr.HierarchyENOENT, "node %s not found", id)
	}

	prog, err := rpn.Compile(expr)
	if err != nil {
		return nil, nil, err
	}
	regs := make([]rpn.Value, len(argStrs))
	for i, s := range argStrs {
		regs[i] = rpn.Str(s)
	}
	return prog, &rpn.Context{Regs: regs, Object: n.Object, ID: rpn.NodeID(n.ID)}, nil
}
