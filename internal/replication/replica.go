package replication

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// ReplicaState enumerates spec.md §4.9's replica-side FSM.
type ReplicaState int

const (
	StateParseHeader ReplicaState = iota
	StateReceivingCmd
	StateReceivingSDB
	StateExecCmd
	StateExecSDB
	StateErr
	StateFin
)

func (s ReplicaState) String() string {
	switch s {
	case StateParseHeader:
		return "PARSE_REPLICATION_HEADER"
	case StateReceivingCmd:
		return "RECEIVING_CMD"
	case StateReceivingSDB:
		return "RECEIVING_SDB"
	case StateExecCmd:
		return "EXEC_CMD"
	case StateExecSDB:
		return "EXEC_SDB"
	case StateErr:
		return "ERR"
	case StateFin:
		return "FIN"
	default:
		return "UNKNOWN"
	}
}

// ApplyCmd is the callback a replica FSM uses to hand a decoded
// replication_cmd entry to the local command registry "as if they had
// been received from a client" (spec.md §4.9).
type ApplyCmd func(eid uint64, cmdID int8, data []byte) error

// ApplySDB is the callback used for a full `replication_sdb` transfer:
// load the snapshot bytes, atomically swap the hierarchy, and report
// the embedded eid.
type ApplySDB func(data []byte) (eid uint64, err error)

// Replica drives the client side of replication: connect to an origin,
// send replicasync, then apply a strictly ascending stream of entries.
type Replica struct {
	log *zap.Logger

	applyCmd ApplyCmd
	applySDB ApplySDB

	lastEID uint64
	state   ReplicaState
}

// NewReplica builds a Replica bound to the local apply callbacks.
func NewReplica(log *zap.Logger, applyCmd ApplyCmd, applySDB ApplySDB) *Replica {
	return &Replica{log: log, applyCmd: applyCmd, applySDB: applySDB, state: StateParseHeader}
}

// State reports the FSM's current state (for replicainfo).
func (r *Replica) State() ReplicaState { return r.state }

// LastEID reports the last eid this replica has successfully applied.
func (r *Replica) LastEID() uint64 { return r.lastEID }

// ApplySnapshot transitions RECEIVING_SDB -> EXEC_SDB -> back to
// RECEIVING_CMD, remembering the embedded eid as the new baseline
// (spec.md §4.9's "Initial state sync").
func (r *Replica) ApplySnapshot(data []byte) error {
	r.state = StateReceivingSDB
	eid, err := r.applySDB(data)
	if err != nil {
		r.state = StateErr
		return err
	}
	r.state = StateExecSDB
	r.lastEID = eid
	r.state = StateReceivingCmd
	return nil
}

// ApplyEntry applies one replication_cmd entry, enforcing strictly
// ascending eids (spec.md §4.9: "subsequent replication_cmd values with
// ascending eids are applied in order").
func (r *Replica) ApplyEntry(eid uint64, cmdID int8, data []byte) error {
	if eid <= r.lastEID {
		return nil // already applied; replays are idempotent no-ops
	}
	r.state = StateExecCmd
	if err := r.applyCmd(eid, cmdID, data); err != nil {
		r.state = StateErr
		return err
	}
	r.lastEID = eid
	r.state = StateReceivingCmd
	return nil
}

// ReconnectLoop runs fn (one connection attempt + its read loop) under
// bounded exponential backoff, matching spec.md §5's "bounded
// exponential backoff" reconnect policy, until ctx is cancelled.
// Grounded on the reference's backoff_timeout window; implemented with
// cenkalti/backoff/v4 rather than a hand-rolled jitter/doubling loop.
func ReconnectLoop(ctx context.Context, log *zap.Logger, maxInterval time.Duration, fn func(ctx context.Context) error) {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = maxInterval
	b.MaxElapsedTime = 0 // retry forever; only ctx cancellation stops us

	for {
		if ctx.Err() != nil {
			return
		}
		err := fn(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			b.Reset()
			continue
		}
		wait := b.NextBackOff()
		log.Warn("replica connection lost, reconnecting", zap.Error(err), zap.Duration("backoff", wait))
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}
