package commands

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/selvadb/selva/internal/config"
	"github.com/selvadb/selva/internal/dispatch"
	"github.com/selvadb/selva/internal/hierarchy"
	"github.com/selvadb/selva/internal/protocol"
	"github.com/selvadb/selva/internal/replication"
	"github.com/selvadb/selva/internal/sdb"
	"github.com/selvadb/selva/internal/server"
)

// maxReconnectInterval bounds replicaof's exponential backoff (spec.md
// §5: "bounded exponential backoff" for the replica reconnect policy).
const maxReconnectInterval = 30 * time.Second

// registerReplication wires spec.md §6's replication control commands
// (ids 65-68): replicainit switches this node back to serving as an
// origin, replicasync admits a catch-up replica onto the ring,
// replicaof points this node at an upstream origin, and replicainfo
// reports the current role/state/lastEID.
func registerReplication(reg *dispatch.Registry, c *Core) {
	reg.Register(dispatch.Command{ID: idReplicaInit, Name: "replicainit", Mode: dispatch.ModeMutate, Fn: func(req dispatch.Request, enc *protocol.Encoder) error {
		if c.replicaCancel != nil {
			c.replicaCancel()
			c.replicaCancel = nil
			c.Replica = nil
		}
		if c.Server != nil {
			c.Server.SetRole(dispatch.RoleOrigin)
		}
		enc.Null()
		return nil
	}})

	reg.Register(dispatch.Command{ID: idReplicaSync, Name: "replicasync", Mode: dispatch.ModeMutate, Fn: func(req dispatch.Request, enc *protocol.Encoder) error {
		var replicaID int64
		if err := protocol.Scanf(req.Args, "%lld", &replicaID); err != nil {
			return err
		}
		startEID := c.Ring.RegisterReplica(int(replicaID))
		enc.LongLong(int64(startEID), false)
		return nil
	}})

	reg.Register(dispatch.Command{ID: idReplicaOf, Name: "replicaof", Mode: dispatch.ModeMutate, Fn: func(req dispatch.Request, enc *protocol.Encoder) error {
		host, err := readString(req.Args)
		if err != nil {
			return err
		}
		var port int64
		if err := protocol.Scanf(req.Args, "%lld", &port); err != nil {
			return err
		}

		if c.replicaCancel != nil {
			c.replicaCancel()
		}
		ctx, cancel := context.WithCancel(context.Background())
		c.replicaCancel = cancel

		applyCmd := func(eid uint64, cmdID int8, data []byte) error {
			scratch := protocol.NewEncoder()
			return reg.Dispatch(dispatch.RoleReplica, dispatch.Request{
				CmdID: cmdID, Args: protocol.NewDecoder(data), ReplicaApply: true,
			}, scratch)
		}
		applySDB := func(data []byte) (uint64, error) {
			h, lastEID, err := sdb.LoadBytes(data, hierarchy.Options{})
			if err != nil {
				return 0, err
			}
			c.Hier = h
			return lastEID, nil
		}
		rep := replication.NewReplica(c.Log, applyCmd, applySDB)
		c.Replica = rep
		if c.Server != nil {
			c.Server.SetRole(dispatch.RoleReplica)
		}

		addr := fmt.Sprintf("%s:%d", host, port)
		go replication.ReconnectLoop(ctx, c.Log, maxReconnectInterval, func(ctx context.Context) error {
			return runReplicaConn(ctx, c, rep, addr)
		})

		enc.Null()
		return nil
	}})

	reg.Register(dispatch.Command{ID: idReplicaInfo, Name: "replicainfo", Mode: dispatch.ModePure, Fn: func(req dispatch.Request, enc *protocol.Encoder) error {
		role := "origin"
		state := ""
		var lastEID uint64
		if c.Replica != nil {
			role = "replica"
			state = c.Replica.State().String()
			lastEID = c.Replica.LastEID()
		} else {
			lastEID = c.Ring.LastEID()
		}
		enc.Array(6)
		enc.String([]byte("role"), false, false)
		enc.String([]byte(role), false, false)
		enc.String([]byte("state"), false, false)
		enc.String([]byte(state), false, false)
		enc.String([]byte("last_eid"), false, false)
		enc.LongLong(int64(lastEID), false)
		return nil
	}})
}

// runReplicaConn dials addr, issues replicasync, and streams
// replication_cmd/replication_sdb frames into rep until the connection
// drops or ctx is cancelled (spec.md §4.9's replica read loop).
func runReplicaConn(ctx context.Context, c *Core, rep *replication.Replica, addr string) error {
	nc, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defaults := config.Defaults()
	conn := server.NewConn(nc, c.Log, defaults.MaxFrameSize, defaults.MaxMessageSize)
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	syncArgs := protocol.NewEncoder()
	syncArgs.LongLong(0, false)
	if err := conn.WriteFrame(idReplicaSync, protocol.FlagFirst|protocol.FlagLast, 0, syncArgs.Bytes()); err != nil {
		return err
	}

	for {
		h, payload, err := conn.ReadFrame()
		if err != nil {
			return err
		}
		msg, _, complete, err := conn.Feed(h, payload)
		if err != nil {
			return err
		}
		if !complete {
			continue
		}
		d := protocol.NewDecoder(msg)
		for !d.Done() {
			v, err := d.Next()
			if err != nil {
				c.Log.Warn("replica stream decode error", zap.Error(err))
				break
			}
			switch v.Type {
			case protocol.VReplicationCmd:
				if err := rep.ApplyEntry(v.ReplEID, v.ReplCmdID, v.ReplData); err != nil {
					c.Log.Warn("replica apply entry failed", zap.Error(err))
				}
			case protocol.VReplicationSDB:
				// Snapshot bytes arrive as a follow-on string value
				// immediately after this header, per spec.md §4.9.
				sdbVal, err := d.Next()
				if err != nil {
					return err
				}
				if err := rep.ApplySnapshot(sdbVal.Str); err != nil {
					c.Log.Warn("replica apply snapshot failed", zap.Error(err))
				}
			}
		}
	}
}
