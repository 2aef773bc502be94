package commands

import (
	"github.com/selvadb/selva/internal/dispatch"
	"github.com/selvadb/selva/internal/protocol"
)

// registerMeta wires the always-available housekeeping commands (spec.md
// §6, ids 0-2): ping, echo, and lscmd discovery.
func registerMeta(reg *dispatch.Registry, c *Core) {
	reg.Register(dispatch.Command{ID: idPing, Name: "ping", Mode: dispatch.ModePure, Fn: func(req dispatch.Request, enc *protocol.Encoder) error {
		enc.String([]byte("pong"), false, false)
		return nil
	}})

	reg.Register(dispatch.Command{ID: idEcho, Name: "echo", Mode: dispatch.ModePure, Fn: func(req dispatch.Request, enc *protocol.Encoder) error {
		// Echo streams back every value it was sent, verbatim, however
		// many there are (spec.md §6: "any" arity).
		var vals []protocol.Value
		for !req.Args.Done() {
			v, err := req.Args.Next()
			if err != nil {
				return err
			}
			vals = append(vals, v)
		}
		enc.Array(len(vals))
		for _, v := range vals {
			echoOne(enc, v)
		}
		return nil
	}})

	reg.Register(dispatch.Command{ID: idLscmd, Name: "lscmd", Mode: dispatch.ModePure, Fn: func(req dispatch.Request, enc *protocol.Encoder) error {
		cmds := reg.List()
		enc.Array(len(cmds) * 3)
		for _, cmd := range cmds {
			enc.LongLong(int64(cmd.ID), false)
			enc.String([]byte(cmd.Name), false, false)
			enc.String([]byte(cmd.Mode.String()), false, false)
		}
		return nil
	}})
}

func echoOne(enc *protocol.Encoder, v protocol.Value) {
	switch v.Type {
	case protocol.VNull:
		enc.Null()
	case protocol.VDouble:
		enc.Double(v.Double)
	case protocol.VLongLong:
		enc.LongLong(v.Long, v.LongHex)
	case protocol.VString:
		enc.String(v.Str, v.StrFlags&protocol.StrBinary != 0, false)
	default:
		enc.Null()
	}
}
