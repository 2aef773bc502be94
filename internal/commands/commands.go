// Package commands implements the concrete handlers spec.md §6's command
// table names, wired onto a dispatch.Registry.
//
// Grounded on the teacher's cmd/dev-console/tools_registry.go: a
// name-keyed module table with a uniform Validate/Execute contract.
// Selva's handlers keep that "decode args, call the core, encode a
// reply" shape but key by the stable integer command id spec.md
// specifies rather than a string tool name, and decode/encode through
// protocol.Decoder/Encoder instead of JSON.
package commands

import (
	"go.uber.org/zap"

	"github.com/selvadb/selva/internal/dispatch"
	"github.com/selvadb/selva/internal/hierarchy"
	"github.com/selvadb/selva/internal/reactor"
	"github.com/selvadb/selva/internal/replication"
	"github.com/selvadb/selva/internal/rpn"
	"github.com/selvadb/selva/internal/sdb"
	"github.com/selvadb/selva/internal/server"
)

// Core bundles everything a command handler needs: the hierarchy being
// served, the reactor it runs on (for commands that schedule timers or
// async follow-up work), the replication log, and the sdb loader/saver.
// One Core exists per selvad process.
type Core struct {
	Log     *zap.Logger
	Hier    *hierarchy.Hierarchy
	Reactor *reactor.Reactor
	Ring    *replication.Ring
	SDB     *sdb.Manager
	Server  *server.Server

	// Replica is non-nil once replicaof has pointed this node at an
	// origin; replicaCancel stops its reconnect loop (e.g. a later
	// replicaof, or shutdown).
	Replica       *replication.Replica
	replicaCancel func()
}

// Register wires every command this package implements onto reg. Call
// once at startup after Core's fields are populated.
func Register(reg *dispatch.Registry, c *Core) {
	registerMeta(reg, c)
	registerHierarchyRead(reg, c)
	registerHierarchyWrite(reg, c)
	registerObject(reg, c)
	registerRPN(reg, c)
	registerReplication(reg, c)
	registerPersistence(reg, c)
}

// compileRPN is a small shared helper: commands that accept a filter
// expression compile it once per invocation (RPN programs are cheap to
// compile and never cached across requests, matching the reference
// rpn_compile/rpn_destroy per-call lifecycle).
func compileRPN(expr string) (*rpn.Program, error) {
	if expr == "" {
		return nil, nil
	}
	return rpn.Compile(expr)
}
