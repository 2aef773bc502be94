package commands

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/selvadb/selva/internal/object"
	"github.com/selvadb/selva/internal/protocol"
)

func TestSaveThenLoadRoundTrips(t *testing.T) {
	reg, c := newTestCore(t)
	id := idBytes(40)
	n, err := c.Hier.Upsert(id, true)
	require.NoError(t, err)
	require.NoError(t, n.Object.Set("name", object.Str([]byte("persisted"))))

	saveArgs := protocol.NewEncoder()
	saveArgs.String([]byte("/dumps/manual.sdb"), false, false)
	_, err = call(t, reg, idSave, saveArgs)
	require.NoError(t, err)

	c.Hier.Upsert(idBytes(41), true) // mutate state so load's replacement is observable

	loadArgs := protocol.NewEncoder()
	loadArgs.String([]byte("/dumps/manual.sdb"), false, false)
	_, err = call(t, reg, idLoad, loadArgs)
	require.NoError(t, err)

	reloaded, err := c.Hier.FindNode(id)
	require.NoError(t, err)
	require.NotNil(t, reloaded)
	v, err := reloaded.Object.Get("name")
	require.NoError(t, err)
	require.Equal(t, "persisted", string(v.Str))

	missing, err := c.Hier.FindNode(idBytes(41))
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestLoadMissingFileErrors(t *testing.T) {
	reg, _ := newTestCore(t)
	args := protocol.NewEncoder()
	args.String([]byte("/dumps/does-not-exist.sdb"), false, false)
	_, err := call(t, reg, idLoad, args)
	require.Error(t, err)
}
