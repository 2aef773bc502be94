package commands

import (
	"testing"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/selvadb/selva/internal/dispatch"
	"github.com/selvadb/selva/internal/hierarchy"
	"github.com/selvadb/selva/internal/protocol"
	"github.com/selvadb/selva/internal/reactor"
	"github.com/selvadb/selva/internal/replication"
	"github.com/selvadb/selva/internal/sdb"
)

// newTestCore builds a fully wired Core against an in-memory hierarchy and
// filesystem, registers every command this package implements, and returns
// the registry alongside the Core so tests can poke at hierarchy state
// directly when asserting.
func newTestCore(t *testing.T) (*dispatch.Registry, *Core) {
	t.Helper()
	log := zap.NewNop()
	c := &Core{
		Log:     log,
		Hier:    hierarchy.New(hierarchy.Options{}),
		Reactor: reactor.New(log, 0),
		Ring:    replication.NewRing(64),
		SDB:     sdb.NewManager(log, afero.NewMemMapFs(), "/dumps", "selva-test", 0),
	}
	reg := dispatch.NewRegistry()
	Register(reg, c)
	return reg, c
}

// call dispatches one origin-role request against reg and returns the
// decoded reply stream.
func call(t *testing.T, reg *dispatch.Registry, cmdID int8, args *protocol.Encoder) (*protocol.Decoder, error) {
	t.Helper()
	enc := protocol.NewEncoder()
	err := reg.Dispatch(dispatch.RoleOrigin, dispatch.Request{CmdID: cmdID, Args: protocol.NewDecoder(args.Bytes())}, enc)
	return protocol.NewDecoder(enc.Bytes()), err
}

func idBytes(b byte) hierarchy.NodeID {
	var id hierarchy.NodeID
	for i := range id {
		id[i] = b
	}
	return id
}

func encodeNodeIDList(enc *protocol.Encoder, ids []hierarchy.NodeID) {
	enc.Array(len(ids))
	for _, id := range ids {
		enc.String(id[:], true, false)
	}
}

// encodeTraversalArgs matches readTraversalArgs's fixed positional schema:
// lang, start, direction, field, sort_field, sort_desc, offset, limit,
// fields_csv, filter_expr, filter_args.
func encodeTraversalArgs(enc *protocol.Encoder, start hierarchy.NodeID, dir, field string) {
	enc.String([]byte(""), false, false) // lang
	enc.String(start[:], true, false)
	enc.String([]byte(dir), false, false)
	enc.String([]byte(field), false, false)
	enc.String([]byte(""), false, false) // sort_field
	enc.LongLong(0, false)               // sort_desc
	enc.LongLong(0, false)               // offset
	enc.LongLong(-1, false)              // limit: unlimited
	enc.String([]byte(""), false, false) // fields_csv
	enc.String([]byte(""), false, false) // filter_expr
	enc.Array(0)                         // filter_args
}
