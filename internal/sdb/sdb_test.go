package sdb

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/selvadb/selva/internal/hierarchy"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/data", 0o755))
	return NewManager(zap.NewNop(), fs, "/data", "selva-test/1.0", 2)
}

func buildHierarchy(t *testing.T) *hierarchy.Hierarchy {
	t.Helper()
	h := hierarchy.New(hierarchy.Options{})
	id := hierarchy.ParseNodeID("nodeAAAAAA")
	_, err := h.Upsert(id, true)
	require.NoError(t, err)
	require.NoError(t, h.AddChildren(hierarchy.Root, []hierarchy.NodeID{id}))
	return h
}

func TestSaveAndLoadRoundTrips(t *testing.T) {
	m := testManager(t)
	h := buildHierarchy(t)

	path, err := m.Save(h, 42)
	require.NoError(t, err)
	require.NotEmpty(t, path)

	loaded, lastEID, err := m.Load(hierarchy.Options{})
	require.NoError(t, err)
	require.Equal(t, uint64(42), lastEID)
	require.ElementsMatch(t, h.Heads(), loaded.Heads())
}

func TestLoadRejectsBadMagic(t *testing.T) {
	m := testManager(t)
	raw := []byte("not a dump file at all, just garbage bytes here")
	require.NoError(t, afero.WriteFile(m.fs, "/data/dump-1.sdb", raw, 0o644))

	_, _, err := m.LoadPath("/data/dump-1.sdb", hierarchy.Options{})
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestLoadRejectsTamperedHash(t *testing.T) {
	m := testManager(t)
	h := buildHierarchy(t)
	path, err := m.Save(h, 1)
	require.NoError(t, err)

	raw, err := afero.ReadFile(m.fs, path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF // corrupt a hash byte
	require.NoError(t, afero.WriteFile(m.fs, path, raw, 0o644))

	_, _, err = m.LoadPath(path, hierarchy.Options{})
	require.Error(t, err)
}

func TestPurgeRetainsMostRecentDumpsOnly(t *testing.T) {
	m := testManager(t)
	h := buildHierarchy(t)

	var paths []string
	for i := 0; i < 5; i++ {
		p, err := m.Save(h, uint64(i))
		require.NoError(t, err)
		paths = append(paths, p)
	}

	require.NoError(t, m.Purge())

	entries, err := afero.ReadDir(m.fs, "/data")
	require.NoError(t, err)
	var remaining int
	for _, e := range entries {
		if e.Name() != LinkName {
			remaining++
		}
	}
	require.LessOrEqual(t, remaining, m.MaxDumps)
}
