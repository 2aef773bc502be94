package object

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetGetDottedPath(t *testing.T) {
	o := New()
	require.NoError(t, o.Set("a.b.c", Str([]byte("lol"))))

	v, err := o.Get("a.b.c")
	require.NoError(t, err)
	require.Equal(t, "lol", string(v.Str))

	require.True(t, o.Exists("a.b.c"))
	require.False(t, o.Exists("a.b.missing"))
}

func TestGetMissingIsENOENT(t *testing.T) {
	o := New()
	_, err := o.Get("missing")
	require.Error(t, err)
}

func TestIncrLL(t *testing.T) {
	o := New()
	v, err := o.IncrLL("counter", 10, 5)
	require.NoError(t, err)
	require.EqualValues(t, 10, v)

	v, err = o.IncrLL("counter", 10, 5)
	require.NoError(t, err)
	require.EqualValues(t, 15, v)
}

func TestIncrLLTypeMismatch(t *testing.T) {
	o := New()
	require.NoError(t, o.Set("x", Str([]byte("not a number"))))
	_, err := o.IncrLL("x", 0, 1)
	require.Error(t, err)
}

func TestDelIdempotent(t *testing.T) {
	o := New()
	require.NoError(t, o.Set("a", LL(1)))
	require.NoError(t, o.Del("a"))
	require.Error(t, o.Del("a"))
}

func TestArrayPushInsertRemove(t *testing.T) {
	o := New()
	require.NoError(t, o.ArrayPush("arr", LL(1)))
	require.NoError(t, o.ArrayPush("arr", LL(2)))
	require.NoError(t, o.ArrayInsert("arr", 1, LL(99)))

	v, err := o.Get("arr")
	require.NoError(t, err)
	require.Len(t, v.Arr, 3)
	require.EqualValues(t, 99, v.Arr[1].LL)

	require.NoError(t, o.ArrayRemove("arr", 99)) // out of range: no-op
	v, _ = o.Get("arr")
	require.Len(t, v.Arr, 3)

	require.NoError(t, o.ArrayRemove("arr", 0))
	v, _ = o.Get("arr")
	require.Len(t, v.Arr, 2)
}

func TestClearKeepsReservedFields(t *testing.T) {
	o := NewNode("ma", 100)
	require.NoError(t, o.Set("custom", LL(1)))
	o.Clear()

	require.False(t, o.Exists("custom"))
	require.True(t, o.Exists(FieldType))
	require.True(t, o.Exists(FieldCreatedAt))
}

func TestSetUnionKindMismatch(t *testing.T) {
	a := NewSet(SetString)
	a.AddString("x")
	b := NewSet(SetLL)
	b.AddLL(1)
	require.Error(t, a.Union(b))
}

func TestInsertionOrderedKeys(t *testing.T) {
	o := New()
	require.NoError(t, o.Set("z", LL(1)))
	require.NoError(t, o.Set("a", LL(2)))
	require.NoError(t, o.Set("m", LL(3)))
	require.Equal(t, []string{"z", "a", "m"}, o.Keys())
}

func TestCloneIsDeep(t *testing.T) {
	o := New()
	require.NoError(t, o.Set("s", Str([]byte("hi"))))
	c := o.Clone()
	v, _ := c.Get("s")
	v.Str[0] = 'X'
	orig, _ := o.Get("s")
	require.Equal(t, "hi", string(orig.Str))
}
