package dispatch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/selvadb/selva/internal/protocol"
)

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	r.Register(Command{ID: 0, Name: "ping", Mode: ModePure, Fn: func(Request, *protocol.Encoder) error { return nil }})

	cmd, ok := r.Lookup(0)
	require.True(t, ok)
	require.Equal(t, "ping", cmd.Name)
}

func TestListIsSortedByID(t *testing.T) {
	r := NewRegistry()
	r.Register(Command{ID: 5, Name: "b", Fn: func(Request, *protocol.Encoder) error { return nil }})
	r.Register(Command{ID: 1, Name: "a", Fn: func(Request, *protocol.Encoder) error { return nil }})

	list := r.List()
	require.Len(t, list, 2)
	require.Equal(t, int8(1), list[0].ID)
	require.Equal(t, int8(5), list[1].ID)
}

func TestDispatchUnknownCommand(t *testing.T) {
	r := NewRegistry()
	err := r.Dispatch(RoleOrigin, Request{CmdID: 99}, protocol.NewEncoder())
	require.Error(t, err)
}

func TestDispatchMutateBlockedOnReplica(t *testing.T) {
	r := NewRegistry()
	called := false
	r.Register(Command{ID: 63, Name: "modify", Mode: ModeMutate, Fn: func(Request, *protocol.Encoder) error {
		called = true
		return nil
	}})

	err := r.Dispatch(RoleReplica, Request{CmdID: 63}, protocol.NewEncoder())
	require.Error(t, err)
	require.False(t, called)
}

func TestDispatchMutateAllowedViaReplicaApply(t *testing.T) {
	r := NewRegistry()
	called := false
	r.Register(Command{ID: 63, Name: "modify", Mode: ModeMutate, Fn: func(Request, *protocol.Encoder) error {
		called = true
		return nil
	}})

	err := r.Dispatch(RoleReplica, Request{CmdID: 63, ReplicaApply: true}, protocol.NewEncoder())
	require.NoError(t, err)
	require.True(t, called)
}

func TestRegisterDuplicateIDPanics(t *testing.T) {
	r := NewRegistry()
	r.Register(Command{ID: 0, Name: "ping", Fn: func(Request, *protocol.Encoder) error { return nil }})
	require.Panics(t, func() {
		r.Register(Command{ID: 0, Name: "ping2", Fn: func(Request, *protocol.Encoder) error { return nil }})
	})
}
