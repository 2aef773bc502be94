package commands

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/selvadb/selva/internal/hierarchy"
	"github.com/selvadb/selva/internal/protocol"
)

func TestHeadsIncludesNewOrphanNode(t *testing.T) {
	reg, c := newTestCore(t)
	id := idBytes(20)
	_, err := c.Hier.Upsert(id, true)
	require.NoError(t, err)

	dec, err := call(t, reg, idHeads, protocol.NewEncoder())
	require.NoError(t, err)
	hdr, _ := dec.Next()
	require.Equal(t, protocol.VArray, hdr.Type)

	found := false
	for i := 0; i < hdr.ArrayLen; i++ {
		v, _ := dec.Next()
		if string(v.Str) == string(id[:]) {
			found = true
		}
	}
	require.True(t, found)
}

func TestFindTraversesChildren(t *testing.T) {
	reg, c := newTestCore(t)
	parent := idBytes(21)
	child := idBytes(22)
	_, err := c.Hier.Upsert(parent, true)
	require.NoError(t, err)
	_, err = c.Hier.Upsert(child, true)
	require.NoError(t, err)
	require.NoError(t, c.Hier.AddChildren(parent, []hierarchy.NodeID{child}))

	args := protocol.NewEncoder()
	encodeTraversalArgs(args, parent, "children", "")
	dec, err := call(t, reg, idFind, args)
	require.NoError(t, err)

	hdr, _ := dec.Next()
	require.Equal(t, protocol.VArray, hdr.Type)
	require.Greater(t, hdr.ArrayLen, 0)
}

func TestAggregateCountsNodes(t *testing.T) {
	reg, c := newTestCore(t)
	parent := idBytes(23)
	child := idBytes(24)
	_, err := c.Hier.Upsert(parent, true)
	require.NoError(t, err)
	_, err = c.Hier.Upsert(child, true)
	require.NoError(t, err)
	require.NoError(t, c.Hier.AddChildren(parent, []hierarchy.NodeID{child}))

	args := protocol.NewEncoder()
	args.String([]byte("c"), false, false) // agg_fn: count
	encodeTraversalArgs(args, parent, "children", "")
	dec, err := call(t, reg, idAggregate, args)
	require.NoError(t, err)
	v, _ := dec.Next()
	require.Equal(t, protocol.VLongLong, v.Type)
	require.Equal(t, int64(1), v.Long)
}

func TestEdgeGetAndList(t *testing.T) {
	reg, c := newTestCore(t)
	src := idBytes(25)
	dst := idBytes(26)
	_, err := c.Hier.Upsert(src, true)
	require.NoError(t, err)
	_, err = c.Hier.Upsert(dst, true)
	require.NoError(t, err)
	require.NoError(t, c.Hier.SetEdge(src, "friends", []hierarchy.NodeID{dst}))

	listArgs := protocol.NewEncoder()
	listArgs.String(src[:], true, false)
	dec, err := call(t, reg, idEdgeList, listArgs)
	require.NoError(t, err)
	hdr, _ := dec.Next()
	require.Equal(t, 1, hdr.ArrayLen)
	v, _ := dec.Next()
	require.Equal(t, "friends", string(v.Str))

	getArgs := protocol.NewEncoder()
	getArgs.String(src[:], true, false)
	getArgs.String([]byte("friends"), false, false)
	dec2, err := call(t, reg, idEdgeGet, getArgs)
	require.NoError(t, err)
	hdr2, _ := dec2.Next()
	require.Equal(t, 1, hdr2.ArrayLen)
	v2, _ := dec2.Next()
	require.Equal(t, dst[:], v2.Str)
}

func TestChildrenOfUnknownNodeErrors(t *testing.T) {
	reg, _ := newTestCore(t)
	args := protocol.NewEncoder()
	args.String(idBytes(77)[:], true, false)
	_, err := call(t, reg, idChildren, args)
	require.Error(t, err)
}
