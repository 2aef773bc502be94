package commands

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/selvadb/selva/internal/protocol"
)

func TestPingRepliesPong(t *testing.T) {
	reg, _ := newTestCore(t)
	dec, err := call(t, reg, idPing, protocol.NewEncoder())
	require.NoError(t, err)
	v, err := dec.Next()
	require.NoError(t, err)
	require.Equal(t, protocol.VString, v.Type)
	require.Equal(t, "pong", string(v.Str))
}

func TestEchoReturnsEveryArgVerbatim(t *testing.T) {
	reg, _ := newTestCore(t)
	args := protocol.NewEncoder()
	args.LongLong(7, false)
	args.String([]byte("hi"), false, false)
	args.Double(3.5)

	dec, err := call(t, reg, idEcho, args)
	require.NoError(t, err)

	hdr, err := dec.Next()
	require.NoError(t, err)
	require.Equal(t, protocol.VArray, hdr.Type)
	require.Equal(t, 3, hdr.ArrayLen)

	v1, _ := dec.Next()
	require.Equal(t, int64(7), v1.Long)
	v2, _ := dec.Next()
	require.Equal(t, "hi", string(v2.Str))
	v3, _ := dec.Next()
	require.Equal(t, 3.5, v3.Double)
}

func TestLscmdListsEveryRegisteredCommand(t *testing.T) {
	reg, _ := newTestCore(t)
	dec, err := call(t, reg, idLscmd, protocol.NewEncoder())
	require.NoError(t, err)

	hdr, err := dec.Next()
	require.NoError(t, err)
	require.Equal(t, protocol.VArray, hdr.Type)
	require.Greater(t, hdr.ArrayLen, 0)
	require.Equal(t, 0, hdr.ArrayLen%3)

	foundPing := false
	for i := 0; i < hdr.ArrayLen/3; i++ {
		idV, _ := dec.Next()
		nameV, _ := dec.Next()
		_, _ = dec.Next() // mode string
		if idV.Long == int64(idPing) {
			require.Equal(t, "ping", string(nameV.Str))
			foundPing = true
		}
	}
	require.True(t, foundPing)
}

func TestDispatchUnknownCommandIsAnError(t *testing.T) {
	reg, _ := newTestCore(t)
	_, err := call(t, reg, 120, protocol.NewEncoder())
	require.Error(t, err)
}
