package server

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/selvadb/selva/internal/dispatch"
	"github.com/selvadb/selva/internal/protocol"
	"github.com/selvadb/selva/internal/reactor"
	"github.com/selvadb/selva/internal/replication"
	"github.com/selvadb/selva/internal/selvaerr"
)

// KeepAlive holds the TCP keepalive tunables spec.md §6 exposes
// ("KEEPALIVE with tunable idle/interval/probes"). Only the idle period
// is represented, since Go's net package exposes it directly; there are
// no interval or probe-count fields.
type KeepAlive struct {
	Idle time.Duration
}

// Server accepts framed TCP connections, reassembles messages through
// each Conn's FSM, and dispatches completed messages onto the reactor
// loop.
type Server struct {
	log      *zap.Logger
	reactor  *reactor.Reactor
	registry *dispatch.Registry
	pool     *ClientPool
	role     dispatch.ReplicaRole
	ring     *replication.Ring

	maxFrameSize   int
	maxMessageSize int64
	keepAlive      KeepAlive

	ln net.Listener
}

// New builds a Server bound to the given reactor and command registry.
// maxClients sizes the bitmap-indexed pool (spec.md §6's
// SERVER_MAX_CLIENTS).
func New(log *zap.Logger, r *reactor.Reactor, registry *dispatch.Registry, maxClients int, maxFrameSize int, maxMessageSize int64, keepAlive KeepAlive) *Server {
	return &Server{
		log:            log,
		reactor:        r,
		registry:       registry,
		pool:           NewClientPool(maxClients),
		role:           dispatch.RoleOrigin,
		maxFrameSize:   maxFrameSize,
		maxMessageSize: maxMessageSize,
		keepAlive:      keepAlive,
	}
}

// SetRole switches between RoleOrigin and RoleReplica, gating
// ModeMutate commands per spec.md §4.9.
func (s *Server) SetRole(role dispatch.ReplicaRole) { s.role = role }

// SetRing attaches the replication ring mutate commands append to once
// dispatched successfully on the origin role. A nil ring (the default)
// disables replication logging entirely.
func (s *Server) SetRing(ring *replication.Ring) { s.ring = ring }

// Listen binds addr (host:port) and begins accepting connections. It
// does not block; call Serve(ctx) to run the accept loop.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	return nil
}

// Serve runs the accept loop until ctx is cancelled or the listener is
// closed. Each accepted connection gets its own reader goroutine; all
// of those goroutines funnel completed messages into the reactor via
// Submit, so hierarchy access itself never races.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		nc, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		if tc, ok := nc.(*net.TCPConn); ok {
			tc.SetNoDelay(true)
			if s.keepAlive.Idle > 0 {
				tc.SetKeepAlive(true)
				tc.SetKeepAlivePeriod(s.keepAlive.Idle)
			}
		}
		go s.handleConn(ctx, nc)
	}
}

func (s *Server) handleConn(ctx context.Context, nc net.Conn) {
	c := NewConn(nc, s.log, s.maxFrameSize, s.maxMessageSize)
	slot, ok := s.pool.Admit(c)
	if !ok {
		s.log.Warn("client pool full, refusing connection", zap.String("remote", nc.RemoteAddr().String()))
		nc.Close()
		return
	}
	defer func() {
		s.pool.Release(slot)
		c.Close()
	}()

	for {
		h, payload, err := c.ReadFrame()
		if err != nil {
			s.log.Debug("connection read ended", zap.Error(err), zap.String("remote", c.RemoteAddr().String()))
			return
		}
		msg, cmd, complete, err := c.Feed(h, payload)
		if err != nil {
			s.log.Warn("protocol violation, dropping connection", zap.Error(err))
			return
		}
		if !complete {
			continue
		}

		enc := protocol.NewEncoder()
		dispatchErr := make(chan error, 1)
		s.reactor.Submit(func() {
			req := dispatch.Request{CmdID: cmd, Args: protocol.NewDecoder(msg), Seqno: h.Seqno}
			dispatchErr <- s.registry.Dispatch(s.role, req, enc)
		})
		derr := <-dispatchErr

		if derr == nil && s.ring != nil && s.role == dispatch.RoleOrigin {
			if command, ok := s.registry.Lookup(cmd); ok && command.Mode == dispatch.ModeMutate {
				s.ring.Insert(cmd, msg)
			}
		}

		respFlags := protocol.FlagResponse | protocol.FlagFirst | protocol.FlagLast
		var payloadOut []byte
		if derr != nil {
			errEnc := protocol.NewEncoder()
			errEnc.Error(selvaerr.CodeOf(derr), selvaerr.MessageOf(derr))
			payloadOut = errEnc.Bytes()
		} else {
			payloadOut = enc.Bytes()
		}
		if err := c.WriteFrame(cmd, respFlags, h.Seqno, payloadOut); err != nil {
			s.log.Warn("failed to write response, dropping connection", zap.Error(err))
			return
		}
	}
}

// Addr reports the bound listener address, used by tests and startup
// logging to discover an ephemeral port.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Close stops accepting and releases the listener.
func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}
