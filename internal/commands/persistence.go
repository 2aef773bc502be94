package commands

import (
	"github.com/selvadb/selva/internal/dispatch"
	"github.com/selvadb/selva/internal/hierarchy"
	"github.com/selvadb/selva/internal/protocol"
)

// registerPersistence wires spec.md §6's load (id 14, mutate) and save
// (id 15, pure) commands onto internal/sdb. A failed load leaves Core's
// current hierarchy untouched (spec.md §7: "IO errors on SDB are fatal
// during load: abort load, retain prior state"); save never mutates
// in-memory state at all, matching its pure classification.
func registerPersistence(reg *dispatch.Registry, c *Core) {
	reg.Register(dispatch.Command{ID: idLoad, Name: "load", Mode: dispatch.ModeMutate, Fn: func(req dispatch.Request, enc *protocol.Encoder) error {
		filename, err := readString(req.Args)
		if err != nil {
			return err
		}
		h, _, err := c.SDB.LoadPath(filename, hierarchy.Options{})
		if err != nil {
			return err
		}
		c.Hier = h
		enc.LongLong(1, false)
		return nil
	}})

	reg.Register(dispatch.Command{ID: idSave, Name: "save", Mode: dispatch.ModePure, Fn: func(req dispatch.Request, enc *protocol.Encoder) error {
		filename, err := readString(req.Args)
		if err != nil {
			return err
		}
		if err := c.SDB.SaveAs(c.Hier, c.Ring.LastEID(), filename); err != nil {
			return err
		}
		enc.LongLong(1, false)
		return nil
	}})
}
