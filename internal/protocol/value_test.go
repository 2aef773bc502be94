package protocol

import (
	"testing"

	"github.com/selvadb/selva/internal/selvaerr"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeScalars(t *testing.T) {
	e := NewEncoder()
	e.Null()
	e.Double(3.5)
	e.LongLong(-7, false)
	e.String([]byte("hello"), false, false)
	e.Error(selvaerr.ENOENT, "not found")

	d := NewDecoder(e.Bytes())

	v, err := d.Next()
	require.NoError(t, err)
	require.Equal(t, VNull, v.Type)

	v, err = d.Next()
	require.NoError(t, err)
	require.Equal(t, VDouble, v.Type)
	require.InDelta(t, 3.5, v.Double, 1e-9)

	v, err = d.Next()
	require.NoError(t, err)
	require.Equal(t, VLongLong, v.Type)
	require.EqualValues(t, -7, v.Long)

	v, err = d.Next()
	require.NoError(t, err)
	require.Equal(t, VString, v.Type)
	require.Equal(t, "hello", string(v.Str))

	v, err = d.Next()
	require.NoError(t, err)
	require.Equal(t, VError, v.Type)
	require.Equal(t, selvaerr.ENOENT, v.ErrCode)
	require.Equal(t, "not found", string(v.ErrMsg))

	require.True(t, d.Done())
}

func TestArrayFixedLength(t *testing.T) {
	e := NewEncoder()
	e.Array(2)
	e.LongLong(1, false)
	e.LongLong(2, false)

	d := NewDecoder(e.Bytes())
	v, err := d.Next()
	require.NoError(t, err)
	require.Equal(t, VArray, v.Type)
	require.Equal(t, 2, v.ArrayLen)

	for i := 0; i < v.ArrayLen; i++ {
		elem, err := d.Next()
		require.NoError(t, err)
		require.Equal(t, VLongLong, elem.Type)
	}
}

func TestArrayPostponedLength(t *testing.T) {
	e := NewEncoder()
	e.Array(ArrayPostponedLength)
	e.LongLong(1, false)
	e.LongLong(2, false)
	e.ArrayEnd()

	d := NewDecoder(e.Bytes())
	v, err := d.Next()
	require.NoError(t, err)
	require.Equal(t, ArrayPostponedLength, v.ArrayLen)

	count := 0
	for {
		elem, err := d.Next()
		require.NoError(t, err)
		if elem.Type == VArrayEnd {
			break
		}
		count++
	}
	require.Equal(t, 2, count)
}

func TestReplicationValues(t *testing.T) {
	e := NewEncoder()
	e.ReplicationCmd(42, 63, []byte("payload"))
	e.ReplicationSDB(7, 1024, false)

	d := NewDecoder(e.Bytes())
	v, err := d.Next()
	require.NoError(t, err)
	require.Equal(t, VReplicationCmd, v.Type)
	require.EqualValues(t, 42, v.ReplEID)
	require.EqualValues(t, 63, v.ReplCmdID)
	require.Equal(t, "payload", string(v.ReplData))

	v, err = d.Next()
	require.NoError(t, err)
	require.Equal(t, VReplicationSDB, v.Type)
	require.EqualValues(t, 7, v.ReplEID)
	require.EqualValues(t, 1024, v.ReplBSize)
	require.False(t, v.ReplPseudo)
}

func TestScanf(t *testing.T) {
	e := NewEncoder()
	e.String([]byte("en"), false, false)
	e.String([]byte("ma12345678"), false, false)
	e.LongLong(5, false)

	d := NewDecoder(e.Bytes())
	var lang, id []byte
	var n int64
	require.NoError(t, Scanf(d, "%s%s%lld", &lang, &id, &n))
	require.Equal(t, "en", string(lang))
	require.Equal(t, "ma12345678", string(id))
	require.EqualValues(t, 5, n)
}
