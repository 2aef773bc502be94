package commands

import (
	"github.com/selvadb/selva/internal/dispatch"
	"github.com/selvadb/selva/internal/object"
	"github.com/selvadb/selva/internal/protocol"
	"github.com/selvadb/selva/internal/selvaerr"
)

// registerObject wires spec.md §6's object.* commands (ids 45-52) onto
// the per-node Object store.
func registerObject(reg *dispatch.Registry, c *Core) {
	withObject := func(req dispatch.Request) (*object.Object, error) {
		id, err := readNodeID(req.Args)
		if err != nil {
			return nil, err
		}
		n, err := c.Hier.FindNode(id)
		if err != nil {
			return nil, err
		}
		if n == nil {
			return nil, selvaerr.New(selvaerr.HierarchyENOENT, "node %s not found", id)
		}
		return n.Object, nil
	}

	reg.Register(dispatch.Command{ID: idObjectGet, Name: "object.get", Mode: dispatch.ModeReadOnly, Fn: func(req dispatch.Request, enc *protocol.Encoder) error {
		o, err := withObject(req)
		if err != nil {
			return err
		}
		path, err := readString(req.Args)
		if err != nil {
			return err
		}
		v, err := o.Get(path)
		if err != nil {
			return err
		}
		writeValue(enc, v)
		return nil
	}})

	reg.Register(dispatch.Command{ID: idObjectSet, Name: "object.set", Mode: dispatch.ModeMutate, Fn: func(req dispatch.Request, enc *protocol.Encoder) error {
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
		path, err := readString(req.Args)
		if err != nil {
			return err
		}
		v, err := readValue(req.Args)
		if err != nil {
			return err
		}
		if path == object.FieldAliases {
			if err := addAliasesFromValue(c.Hier, id, v); err != nil {
				return err
			}
		} else if err := n.Object.Set(path, v); err != nil {
			return err
		}
		enc.Null()
		return nil
	}})

	reg.Register(dispatch.Command{ID: idObjectDel, Name: "object.del", Mode: dispatch.ModeMutate, Fn: func(req dispatch.Request, enc *protocol.Encoder) error {
		o, err := withObject(req)
		if err != nil {
			return err
		}
		path, err := readString(req.Args)
		if err != nil {
			return err
		}
		if err := o.Del(path); err != nil {
			return err
		}
		enc.Null()
		return nil
	}})

	reg.Register(dispatch.Command{ID: idObjectIncr, Name: "object.incr", Mode: dispatch.ModeMutate, Fn: func(req dispatch.Request, enc *protocol.Encoder) error {
		o, err := withObject(req)
		if err != nil {
			return err
		}
		path, err := readString(req.Args)
		if err != nil {
			return err
		}
		var def, delta int64
		if err := protocol.Scanf(req.Args, "%lld%lld", &def, &delta); err != nil {
			return err
		}
		nv, err := o.IncrLL(path, def, delta)
		if err != nil {
			return err
		}
		enc.LongLong(nv, false)
		return nil
	}})

	reg.Register(dispatch.Command{ID: idArrayPush, Name: "object.arrayPush", Mode: dispatch.ModeMutate, Fn: func(req dispatch.Request, enc *protocol.Encoder) error {
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
		path, err := readString(req.Args)
		if err != nil {
			return err
		}
		v, err := readValue(req.Args)
		if err != nil {
			return err
		}
		if path == object.FieldAliases {
			if err := addAliasesFromValue(c.Hier, id, v); err != nil {
				return err
			}
		} else if err := n.Object.ArrayPush(path, v); err != nil {
			return err
		}
		enc.Null()
		return nil
	}})

	reg.Register(dispatch.Command{ID: idArrayInsert, Name: "object.arrayInsert", Mode: dispatch.ModeMutate, Fn: func(req dispatch.Request, enc *protocol.Encoder) error {
		o, err := withObject(req)
		if err != nil {
			return err
		}
		path, err := readString(req.Args)
		if err != nil {
			return err
		}
		var index int64
		if err := protocol.Scanf(req.Args, "%lld", &index); err != nil {
			return err
		}
		v, err := readValue(req.Args)
		if err != nil {
			return err
		}
		if err := o.ArrayInsert(path, int(index), v); err != nil {
			return err
		}
		enc.Null()
		return nil
	}})

	reg.Register(dispatch.Command{ID: idArrayRemove, Name: "object.arrayRemove", Mode: dispatch.ModeMutate, Fn: func(req dispatch.Request, enc *protocol.Encoder) error {
		o, err := withObject(req)
		if err != nil {
			return err
		}
		path, err := readString(req.Args)
		if err != nil {
			return err
		}
		var index int64
		if err := protocol.Scanf(req.Args, "%lld", &index); err != nil {
			return err
		}
		if err := o.ArrayRemove(path, int(index)); err != nil {
			return err
		}
		enc.Null()
		return nil
	}})

	reg.Register(dispatch.Command{ID: idObjectClear, Name: "object.clear", Mode: dispatch.ModeMutate, Fn: func(req dispatch.Request, enc *protocol.Encoder) error {
		o, err := withObject(req)
		if err != nil {
			return err
		}
		o.Clear()
		enc.Null()
		return nil
	}})
}
