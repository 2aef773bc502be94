package commands

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/selvadb/selva/internal/protocol"
)

func TestObjectSetThenGetRoundTrips(t *testing.T) {
	reg, c := newTestCore(t)
	id := idBytes(10)
	_, err := c.Hier.Upsert(id, true)
	require.NoError(t, err)

	setArgs := protocol.NewEncoder()
	setArgs.String(id[:], true, false)
	setArgs.String([]byte("name"), false, false)
	setArgs.String([]byte("selva"), false, false)
	_, err = call(t, reg, idObjectSet, setArgs)
	require.NoError(t, err)

	getArgs := protocol.NewEncoder()
	getArgs.String(id[:], true, false)
	getArgs.String([]byte("name"), false, false)
	dec, err := call(t, reg, idObjectGet, getArgs)
	require.NoError(t, err)
	v, err := dec.Next()
	require.NoError(t, err)
	require.Equal(t, "selva", string(v.Str))
}

func TestObjectGetOnMissingNodeErrors(t *testing.T) {
	reg, _ := newTestCore(t)
	args := protocol.NewEncoder()
	args.String(idBytes(99)[:], true, false)
	args.String([]byte("name"), false, false)
	_, err := call(t, reg, idObjectGet, args)
	require.Error(t, err)
}

func TestObjectIncrAccumulates(t *testing.T) {
	reg, c := newTestCore(t)
	id := idBytes(11)
	_, err := c.Hier.Upsert(id, true)
	require.NoError(t, err)

	args := protocol.NewEncoder()
	args.String(id[:], true, false)
	args.String([]byte("counter"), false, false)
	args.LongLong(0, false)
	args.LongLong(3, false)
	dec, err := call(t, reg, idObjectIncr, args)
	require.NoError(t, err)
	v, _ := dec.Next()
	// A missing field is created at the default; the delta is not added.
	require.Equal(t, int64(0), v.Long)

	args2 := protocol.NewEncoder()
	args2.String(id[:], true, false)
	args2.String([]byte("counter"), false, false)
	args2.LongLong(0, false)
	args2.LongLong(4, false)
	dec2, err := call(t, reg, idObjectIncr, args2)
	require.NoError(t, err)
	v2, _ := dec2.Next()
	require.Equal(t, int64(4), v2.Long)
}

func TestObjectArrayPushAndGet(t *testing.T) {
	reg, c := newTestCore(t)
	id := idBytes(12)
	_, err := c.Hier.Upsert(id, true)
	require.NoError(t, err)

	push := func(v int64) {
		args := protocol.NewEncoder()
		args.String(id[:], true, false)
		args.String([]byte("tags"), false, false)
		args.LongLong(v, false)
		_, err := call(t, reg, idArrayPush, args)
		require.NoError(t, err)
	}
	push(1)
	push(2)

	getArgs := protocol.NewEncoder()
	getArgs.String(id[:], true, false)
	getArgs.String([]byte("tags"), false, false)
	dec, err := call(t, reg, idObjectGet, getArgs)
	require.NoError(t, err)
	hdr, _ := dec.Next()
	require.Equal(t, protocol.VArray, hdr.Type)
	require.Equal(t, 2, hdr.ArrayLen)
}

func TestObjectClearKeepsReservedFields(t *testing.T) {
	reg, c := newTestCore(t)
	id := idBytes(13)
	_, err := c.Hier.Upsert(id, true)
	require.NoError(t, err)

	setArgs := protocol.NewEncoder()
	setArgs.String(id[:], true, false)
	setArgs.String([]byte("scratch"), false, false)
	setArgs.String([]byte("x"), false, false)
	_, err = call(t, reg, idObjectSet, setArgs)
	require.NoError(t, err)

	clearArgs := protocol.NewEncoder()
	clearArgs.String(id[:], true, false)
	_, err = call(t, reg, idObjectClear, clearArgs)
	require.NoError(t, err)

	n, err := c.Hier.FindNode(id)
	require.NoError(t, err)
	require.True(t, n.Object.Exists("type"))
	require.False(t, n.Object.Exists("scratch"))
}
