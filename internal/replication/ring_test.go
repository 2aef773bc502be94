package replication

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInsertAssignsAscendingEIDs(t *testing.T) {
	r := NewRing(10)
	e1, _ := r.Insert(1, []byte("a"))
	e2, _ := r.Insert(1, []byte("b"))
	require.Equal(t, uint64(0), e1)
	require.Equal(t, uint64(1), e2)
}

func TestRingEvictsOldestAtCapacity(t *testing.T) {
	r := NewRing(2)
	r.Insert(1, []byte("a"))
	r.Insert(1, []byte("b"))
	r.Insert(1, []byte("c"))
	require.Equal(t, 2, r.Len())

	_, ok, evicted := r.GetNext(0)
	require.False(t, ok)
	require.True(t, evicted)
}

func TestGetNextReturnsEntryAtOrAfter(t *testing.T) {
	r := NewRing(10)
	r.Insert(1, []byte("a"))
	r.Insert(2, []byte("b"))

	e, ok, evicted := r.GetNext(1)
	require.True(t, ok)
	require.False(t, evicted)
	require.Equal(t, uint64(1), e.EID)
	require.Equal(t, int8(2), e.CmdID)
}

func TestGetNextBlocksUntilInsert(t *testing.T) {
	r := NewRing(10)
	done := make(chan Entry, 1)
	go func() {
		e, ok, _ := r.GetNext(0)
		if ok {
			done <- e
		}
	}()

	time.Sleep(20 * time.Millisecond)
	r.Insert(5, []byte("x"))

	select {
	case e := <-done:
		require.Equal(t, uint64(0), e.EID)
	case <-time.After(time.Second):
		t.Fatal("GetNext never unblocked")
	}
}

func TestOffendersReportedAfterLagThreshold(t *testing.T) {
	r := NewRing(2)
	r.RegisterReplica(1)

	var offenders []int
	for i := 0; i < maxInsertAttemptsBehind+2; i++ {
		_, o := r.Insert(1, []byte("x"))
		if len(o) > 0 {
			offenders = o
		}
	}
	require.Contains(t, offenders, 1)
}

func TestMarkReplicatedResetsLag(t *testing.T) {
	r := NewRing(2)
	r.RegisterReplica(1)
	r.Insert(1, []byte("x"))
	r.MarkReplicated(1)
	_, offenders := r.Insert(1, []byte("y"))
	require.NotContains(t, offenders, 1)
}

func TestStopUnblocksWaiters(t *testing.T) {
	r := NewRing(10)
	done := make(chan bool, 1)
	go func() {
		_, ok, _ := r.GetNext(0)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	r.Stop()

	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Stop did not unblock GetNext")
	}
}
