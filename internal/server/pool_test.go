package server

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientPoolAdmitAndRelease(t *testing.T) {
	p := NewClientPool(2)
	c1 := &Conn{}
	c2 := &Conn{}
	c3 := &Conn{}

	slot1, ok := p.Admit(c1)
	require.True(t, ok)
	_, ok = p.Admit(c2)
	require.True(t, ok)

	_, ok = p.Admit(c3)
	require.False(t, ok, "pool should be full")

	require.Equal(t, 2, p.Count())
	p.Release(slot1)
	require.Equal(t, 1, p.Count())

	_, ok = p.Admit(c3)
	require.True(t, ok, "slot should be reusable after release")
}

func TestClientPoolEachVisitsLiveConns(t *testing.T) {
	p := NewClientPool(4)
	p.Admit(&Conn{})
	p.Admit(&Conn{})

	count := 0
	p.Each(func(*Conn) { count++ })
	require.Equal(t, 2, count)
}
