package commands

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/selvadb/selva/internal/protocol"
)

func TestReplicaInfoReportsOriginByDefault(t *testing.T) {
	reg, _ := newTestCore(t)
	dec, err := call(t, reg, idReplicaInfo, protocol.NewEncoder())
	require.NoError(t, err)
	hdr, _ := dec.Next()
	require.Equal(t, 6, hdr.ArrayLen)
	_, _ = dec.Next() // "role" key
	roleV, _ := dec.Next()
	require.Equal(t, "origin", string(roleV.Str))
}

func TestReplicaSyncRegistersReplicaOnRing(t *testing.T) {
	reg, _ := newTestCore(t)
	args := protocol.NewEncoder()
	args.LongLong(1, false)
	dec, err := call(t, reg, idReplicaSync, args)
	require.NoError(t, err)
	v, _ := dec.Next()
	require.Equal(t, protocol.VLongLong, v.Type)
}

func TestReplicaInitIsNoOpWithoutAnActiveReplica(t *testing.T) {
	reg, c := newTestCore(t)
	_, err := call(t, reg, idReplicaInit, protocol.NewEncoder())
	require.NoError(t, err)
	require.Nil(t, c.Replica)
}
