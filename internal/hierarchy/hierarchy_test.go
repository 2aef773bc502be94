package hierarchy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/selvadb/selva/internal/object"
)

func newTestHierarchy(t *testing.T) *Hierarchy {
	t.Helper()
	tick := int64(0)
	return New(Options{Clock: func() int64 { tick++; return tick }})
}

func id(s string) NodeID { return ParseNodeID(s) }

func TestUpsertCreatesImplicitNode(t *testing.T) {
	h := newTestHierarchy(t)
	n, err := h.Upsert(id("nodeA"), false)
	require.NoError(t, err)
	require.True(t, n.Implicit())
	require.Contains(t, h.Heads(), id("nodeA"))
}

func TestUpsertExplicitClearsImplicit(t *testing.T) {
	h := newTestHierarchy(t)
	_, err := h.Upsert(id("nodeA"), false)
	require.NoError(t, err)
	n, err := h.Upsert(id("nodeA"), true)
	require.NoError(t, err)
	require.False(t, n.Implicit())
}

func TestAddParentsLinksAndClearsHead(t *testing.T) {
	h := newTestHierarchy(t)
	require.NoError(t, h.AddParents(id("child0001"), []NodeID{Root}))
	require.NotContains(t, h.Heads(), id("child0001"))
	root := h.nodes[Root]
	require.Contains(t, root.Children, id("child0001"))
}

func TestDelParentsRestoresHeadStatus(t *testing.T) {
	h := newTestHierarchy(t)
	require.NoError(t, h.AddParents(id("child0001"), []NodeID{Root}))
	require.NoError(t, h.DelParents(id("child0001"), []NodeID{Root}))
	require.Contains(t, h.Heads(), id("child0001"))
}

func TestDeleteNaturalCascade(t *testing.T) {
	h := newTestHierarchy(t)
	require.NoError(t, h.AddParents(id("mid000001"), []NodeID{Root}))
	require.NoError(t, h.AddParents(id("leaf000001"), []NodeID{id("mid000001")}))

	deleted, err := h.Delete(id("mid000001"), DeleteFlags{})
	require.NoError(t, err)
	require.ElementsMatch(t, []NodeID{id("mid000001"), id("leaf000001")}, deleted)

	_, ok := h.nodes[id("mid000001")]
	require.False(t, ok)
	_, ok = h.nodes[id("leaf000001")]
	require.False(t, ok)
}

func TestDeleteNaturalKeepsSharedChild(t *testing.T) {
	h := newTestHierarchy(t)
	require.NoError(t, h.AddParents(id("midA000001"), []NodeID{Root}))
	require.NoError(t, h.AddParents(id("midB000001"), []NodeID{Root}))
	require.NoError(t, h.AddParents(id("shared0001"), []NodeID{id("midA000001"), id("midB000001")}))

	_, err := h.Delete(id("midA000001"), DeleteFlags{})
	require.NoError(t, err)

	n, ok := h.nodes[id("shared0001")]
	require.True(t, ok)
	require.Equal(t, []NodeID{id("midB000001")}, n.Parents)
}

func TestDeleteForceCascadesRegardless(t *testing.T) {
	h := newTestHierarchy(t)
	require.NoError(t, h.AddParents(id("midA000001"), []NodeID{Root}))
	require.NoError(t, h.AddParents(id("midB000001"), []NodeID{Root}))
	require.NoError(t, h.AddParents(id("shared0001"), []NodeID{id("midA000001"), id("midB000001")}))

	deleted, err := h.Delete(id("midA000001"), DeleteFlags{Force: true})
	require.NoError(t, err)
	require.Contains(t, deleted, id("shared0001"))

	_, ok := h.nodes[id("shared0001")]
	require.False(t, ok)
}

func TestEdgeSingleRefOverwritesPreviousDestination(t *testing.T) {
	h := newTestHierarchy(t)
	h.Constraints.Register(id("src0000001").Type(), "ref", &Constraint{Name: "ref", SingleRef: true})
	require.NoError(t, h.SetEdge(id("src0000001"), "ref", []NodeID{id("dst0000001")}))
	require.NoError(t, h.SetEdge(id("src0000001"), "ref", []NodeID{id("dst0000002")}))

	src := h.nodes[id("src0000001")]
	require.Equal(t, []NodeID{id("dst0000002")}, src.Edges["ref"].Dests)

	old := h.nodes[id("dst0000001")]
	require.Empty(t, old.Origins)
}

func TestEdgeBidirectionalMirrorsBothSides(t *testing.T) {
	h := newTestHierarchy(t)
	h.Constraints.Register(id("src0000001").Type(), "friends", &Constraint{
		Name: "friends", Bidirectional: true, BackFieldName: "friendsOf",
	})
	require.NoError(t, h.AddEdge(id("src0000001"), "friends", []NodeID{id("dst0000001")}))

	dst := h.nodes[id("dst0000001")]
	require.Contains(t, dst.Edges["friendsOf"].Dests, id("src0000001"))

	require.NoError(t, h.DelEdge(id("src0000001"), "friends", []NodeID{id("dst0000001")}))
	require.Empty(t, dst.Edges["friendsOf"].Dests)
}

func TestAliasUniquenessMovesOwnership(t *testing.T) {
	h := newTestHierarchy(t)
	n1, err := h.Upsert(id("node00001"), true)
	require.NoError(t, err)
	n2, err := h.Upsert(id("node00002"), true)
	require.NoError(t, err)

	require.NoError(t, h.addAlias(n1.ID, "shared", n1))
	require.Equal(t, n1.ID, h.aliasIndex["shared"])

	require.NoError(t, h.addAlias(n2.ID, "shared", n2))
	require.Equal(t, n2.ID, h.aliasIndex["shared"])

	v, err := n1.Object.Get(object.FieldAliases)
	require.NoError(t, err)
	require.False(t, v.Set.HasString("shared"))
}

func TestCompressAndRestoreSubtreeRoundTrips(t *testing.T) {
	h := newTestHierarchy(t)
	require.NoError(t, h.AddParents(id("head00001"), []NodeID{Root}))
	require.NoError(t, h.AddParents(id("leaf00001"), []NodeID{id("head00001")}))
	require.NoError(t, h.nodes[id("leaf00001")].Object.Set("name", object.Str([]byte("leaf"))))

	require.NoError(t, h.CompressSubtree(id("head00001"), StorageMem))
	require.True(t, h.nodes[id("head00001")].Detached())
	_, stillPresent := h.nodes[id("leaf00001")]
	require.False(t, stillPresent)

	n, err := h.FindNode(id("head00001"))
	require.NoError(t, err)
	require.False(t, n.Detached())

	leaf, ok := h.nodes[id("leaf00001")]
	require.True(t, ok)
	v, err := leaf.Object.Get("name")
	require.NoError(t, err)
	require.Equal(t, []byte("leaf"), v.Str)
}

func TestCompressSubtreeDiskModeRoundTrips(t *testing.T) {
	h := newTestHierarchy(t)
	require.NoError(t, h.AddParents(id("head00002"), []NodeID{Root}))
	require.NoError(t, h.AddParents(id("leaf00002"), []NodeID{id("head00002")}))

	require.NoError(t, h.CompressSubtree(id("head00002"), StorageDisk))
	require.True(t, h.Compressed(id("head00002")))
	require.Contains(t, h.ListCompressed(), id("head00002"))

	n, err := h.FindNode(id("head00002"))
	require.NoError(t, err)
	require.False(t, n.Detached())
	require.False(t, h.Compressed(id("head00002")))
	require.NotContains(t, h.ListCompressed(), id("head00002"))
}

func TestFindSortsByFieldAscending(t *testing.T) {
	h := newTestHierarchy(t)
	for i, name := range []string{"c00000001", "a00000001", "b00000001"} {
		nid := id(name)
		require.NoError(t, h.AddParents(nid, []NodeID{Root}))
		require.NoError(t, h.nodes[nid].Object.Set("rank", object.LL(int64(i))))
		require.NoError(t, h.nodes[nid].Object.Set("name", object.Str([]byte(name))))
	}

	results, err := h.Find(FindOptions{
		Start: Root, Direction: DirBFSDescendants, Sort: "name", Limit: -1,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, id("a00000001"), results[0].ID)
	require.Equal(t, id("b00000001"), results[1].ID)
	require.Equal(t, id("c00000001"), results[2].ID)
}

func TestAggregateCountNodes(t *testing.T) {
	h := newTestHierarchy(t)
	require.NoError(t, h.AddParents(id("n00000001"), []NodeID{Root}))
	require.NoError(t, h.AddParents(id("n00000002"), []NodeID{Root}))

	res, err := h.Aggregate(AggregateOptions{Start: Root, Direction: DirBFSDescendants, Reducer: ReduceCountNodes})
	require.NoError(t, err)
	require.Equal(t, int64(2), res.Count)
}

func TestAggregateSumAndAvgField(t *testing.T) {
	h := newTestHierarchy(t)
	for i, v := range []int64{10, 20, 30} {
		nid := id([]string{"s00000001", "s00000002", "s00000003"}[i])
		require.NoError(t, h.AddParents(nid, []NodeID{Root}))
		require.NoError(t, h.nodes[nid].Object.Set("amount", object.LL(v)))
	}

	sum, err := h.Aggregate(AggregateOptions{Start: Root, Direction: DirBFSDescendants, Reducer: ReduceSumField, ReduceField: "amount"})
	require.NoError(t, err)
	require.Equal(t, float64(60), sum.Value)

	avg, err := h.Aggregate(AggregateOptions{Start: Root, Direction: DirBFSDescendants, Reducer: ReduceAvgField, ReduceField: "amount"})
	require.NoError(t, err)
	require.Equal(t, float64(20), avg.Value)
}

func TestUpdateSetOnlyCountsRealChanges(t *testing.T) {
	h := newTestHierarchy(t)
	n, err := h.Upsert(id("node00001"), true)
	require.NoError(t, err)
	require.NoError(t, n.Object.Set("status", object.Str([]byte("open"))))

	changed, err := h.Update(id("node00001"), []UpdateOp{
		{Type: OpSet, Field: "status", Value: object.Str([]byte("open"))},
		{Type: OpSet, Field: "status", Value: object.Str([]byte("closed"))},
	})
	require.NoError(t, err)
	require.Equal(t, 1, changed)
}

func TestUpdateRejectsOverMaxOps(t *testing.T) {
	h := newTestHierarchy(t)
	_, err := h.Upsert(id("node00001"), true)
	require.NoError(t, err)

	ops := make([]UpdateOp, MaxUpdateOps+1)
	_, err = h.Update(id("node00001"), ops)
	require.Error(t, err)
}

func TestInheritResolvesNearestAncestorField(t *testing.T) {
	h := newTestHierarchy(t)
	require.NoError(t, h.AddParents(id("mid000001"), []NodeID{Root}))
	require.NoError(t, h.AddParents(id("leaf000001"), []NodeID{id("mid000001")}))
	require.NoError(t, h.nodes[id("mid000001")].Object.Set("theme", object.Str([]byte("dark"))))

	res, err := h.Inherit(id("leaf000001"), nil, []string{"theme"})
	require.NoError(t, err)
	v, ok := res.Fields["theme"]
	require.True(t, ok)
	require.Equal(t, []byte("dark"), v.Str)
}

func TestInheritPseudoFieldChildren(t *testing.T) {
	h := newTestHierarchy(t)
	require.NoError(t, h.AddParents(id("mid000001"), []NodeID{Root}))
	require.NoError(t, h.AddParents(id("leaf000001"), []NodeID{id("mid000001")}))

	res, err := h.Inherit(id("mid000001"), nil, []string{PseudoChildren})
	require.NoError(t, err)
	require.Equal(t, []NodeID{id("leaf000001")}, res.Traversal[PseudoChildren])
}
