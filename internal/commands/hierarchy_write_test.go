package commands

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/selvadb/selva/internal/hierarchy"
	"github.com/selvadb/selva/internal/object"
	"github.com/selvadb/selva/internal/protocol"
)

func TestSetParentsAndChildrenWiring(t *testing.T) {
	reg, c := newTestCore(t)
	parent := idBytes(1)
	child := idBytes(2)
	_, err := c.Hier.Upsert(parent, true)
	require.NoError(t, err)
	_, err = c.Hier.Upsert(child, true)
	require.NoError(t, err)

	args := protocol.NewEncoder()
	args.String(child[:], true, false)
	encodeNodeIDList(args, []hierarchy.NodeID{parent})
	_, err = call(t, reg, idSetParents, args)
	require.NoError(t, err)

	dec, err := call(t, reg, idParents, (func() *protocol.Encoder {
		e := protocol.NewEncoder()
		e.String(child[:], true, false)
		return e
	})())
	require.NoError(t, err)
	hdr, _ := dec.Next()
	require.Equal(t, 1, hdr.ArrayLen)
	v, _ := dec.Next()
	require.Equal(t, parent[:], v.Str)
}

func TestDelRepliesCountByDefault(t *testing.T) {
	reg, c := newTestCore(t)
	id := idBytes(3)
	_, err := c.Hier.Upsert(id, true)
	require.NoError(t, err)

	args := protocol.NewEncoder()
	args.String([]byte(""), false, false) // flags: no force, no reply_ids
	encodeNodeIDList(args, []hierarchy.NodeID{id})
	dec, err := call(t, reg, idDel, args)
	require.NoError(t, err)
	v, _ := dec.Next()
	require.Equal(t, protocol.VLongLong, v.Type)
	require.Equal(t, int64(1), v.Long)
}

func TestDelWithReplyIDsFlag(t *testing.T) {
	reg, c := newTestCore(t)
	id := idBytes(4)
	_, err := c.Hier.Upsert(id, true)
	require.NoError(t, err)

	args := protocol.NewEncoder()
	args.String([]byte("I"), false, false)
	encodeNodeIDList(args, []hierarchy.NodeID{id})
	dec, err := call(t, reg, idDel, args)
	require.NoError(t, err)
	hdr, _ := dec.Next()
	require.Equal(t, protocol.VArray, hdr.Type)
	require.Equal(t, 1, hdr.ArrayLen)
	v, _ := dec.Next()
	require.Equal(t, id[:], v.Str)
}

func TestModifySetAndIncr(t *testing.T) {
	reg, _ := newTestCore(t)
	id := idBytes(5)

	args := protocol.NewEncoder()
	args.String(id[:], true, false)
	args.String([]byte(""), false, false) // flags
	args.String([]byte("="), false, false)
	args.String([]byte("name"), false, false)
	args.String([]byte("ernie"), false, false)
	args.String([]byte("+"), false, false)
	args.String([]byte("score"), false, false)
	args.LongLong(5, false)

	dec, err := call(t, reg, idModify, args)
	require.NoError(t, err)
	v, _ := dec.Next()
	require.Equal(t, int64(2), v.Long)
}

func TestModifyWritingAliasesGoesThroughAliasIndex(t *testing.T) {
	reg, c := newTestCore(t)
	id := idBytes(6)

	args := protocol.NewEncoder()
	args.String(id[:], true, false)
	args.String([]byte(""), false, false)
	args.String([]byte("="), false, false)
	args.String([]byte(object.FieldAliases), false, false)
	args.String([]byte("my-alias"), false, false)

	_, err := call(t, reg, idModify, args)
	require.NoError(t, err)

	resolved, ok := c.Hier.ResolveAlias("my-alias")
	require.True(t, ok)
	require.Equal(t, id, resolved)
}

func TestCompressRepliesOneAndListsCompressed(t *testing.T) {
	reg, c := newTestCore(t)
	head := idBytes(7)
	require.NoError(t, c.Hier.AddParents(head, []hierarchy.NodeID{hierarchy.Root}))

	args := protocol.NewEncoder()
	args.String(head[:], true, false)
	args.String([]byte("mem"), false, false)
	dec, err := call(t, reg, idCompress, args)
	require.NoError(t, err)
	v, _ := dec.Next()
	require.Equal(t, protocol.VLongLong, v.Type)
	require.Equal(t, int64(1), v.Long)

	dec, err = call(t, reg, idListCompressed, protocol.NewEncoder())
	require.NoError(t, err)
	hdr, _ := dec.Next()
	require.Equal(t, 1, hdr.ArrayLen)
	got, _ := dec.Next()
	require.Equal(t, head[:], got.Str)
}

func TestResolveUnknownAliasErrors(t *testing.T) {
	reg, _ := newTestCore(t)
	args := protocol.NewEncoder()
	args.String([]byte("nope"), false, false)
	_, err := call(t, reg, idResolve, args)
	require.Error(t, err)
}
