package commands

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/selvadb/selva/internal/object"
	"github.com/selvadb/selva/internal/protocol"
)

func TestEvalBoolAgainstNodeField(t *testing.T) {
	reg, c := newTestCore(t)
	id := idBytes(30)
	n, err := c.Hier.Upsert(id, true)
	require.NoError(t, err)
	require.NoError(t, n.Object.Set("name", object.Str([]byte("selva"))))

	args := protocol.NewEncoder()
	args.String(id[:], true, false)
	args.String([]byte(`"name" h`), false, false)
	args.Array(0)
	dec, err := call(t, reg, idEvalBool, args)
	require.NoError(t, err)
	v, _ := dec.Next()
	require.Equal(t, int64(1), v.Long)
}

func TestEvalDoubleArithmetic(t *testing.T) {
	reg, c := newTestCore(t)
	id := idBytes(31)
	_, err := c.Hier.Upsert(id, true)
	require.NoError(t, err)

	args := protocol.NewEncoder()
	args.String(id[:], true, false)
	args.String([]byte("#2 #3 A"), false, false)
	args.Array(0)
	dec, err := call(t, reg, idEvalDouble, args)
	require.NoError(t, err)
	v, _ := dec.Next()
	require.Equal(t, float64(5), v.Double)
}

func TestEvalOnMissingNodeErrors(t *testing.T) {
	reg, _ := newTestCore(t)
	args := protocol.NewEncoder()
	args.String(idBytes(88)[:], true, false)
	args.String([]byte("#1"), false, false)
	args.Array(0)
	_, err := call(t, reg, idEvalDouble, args)
	require.Error(t, err)
}
