package server

import (
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/selvadb/selva/internal/protocol"
	"github.com/selvadb/selva/internal/selvaerr"
)

// connState is the per-connection reassembly state (spec.md §4.3).
type connState uint8

const (
	stateNew connState = iota
	stateFragment
)

// DefaultStreamPoolSize is the per-connection stream pool default
// spec.md §4.3 specifies.
const DefaultStreamPoolSize = 2

// Conn wraps one accepted TCP connection: its frame reassembly state,
// response-out buffering, and the small stream pool used for commands
// whose reply is emitted incrementally (find/aggregate over a large
// result set).
type Conn struct {
	nc  net.Conn
	log *zap.Logger

	slot int
	connMeta

	writeMu sync.Mutex

	state   connState
	msgBuf  []byte // reassembly buffer for the current fragmented message
	msgHdr  protocol.Header
	msgCmd  int8
	msgSeen int

	streams map[uint8]*streamHandle
	nextStream uint8

	maxFrameSize   int
	maxMessageSize int64

	closed bool
	onClose []func()
}

// streamHandle tracks one open stream response on this connection
// (spec.md §4.3: "streams with per-connection pool default 2 and an
// on_close hook").
type streamHandle struct {
	id    uint8
	seqno uint32
	done  func()
}

// NewConn wraps an accepted net.Conn.
func NewConn(nc net.Conn, log *zap.Logger, maxFrameSize int, maxMessageSize int64) *Conn {
	return &Conn{
		nc:             nc,
		log:            log,
		connMeta:       newConnMeta(nc.RemoteAddr()),
		state:          stateNew,
		streams:        make(map[uint8]*streamHandle),
		maxFrameSize:   maxFrameSize,
		maxMessageSize: maxMessageSize,
	}
}

// RemoteAddr exposes the underlying connection's peer address.
func (c *Conn) RemoteAddr() net.Addr { return c.connMeta.remote }

// OnClose registers fn to run exactly once when the connection is torn
// down, matching a stream's on_close hook contract at the connection
// granularity too (spec.md §5: "Connection drops cancel all pending
// streams tied to that connection (their on_close hooks run exactly
// once)").
func (c *Conn) OnClose(fn func()) {
	c.onClose = append(c.onClose, fn)
}

// Close tears the connection down, firing every registered on_close
// hook exactly once.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	already := c.closed
	c.closed = true
	c.writeMu.Unlock()
	if already {
		return nil
	}
	for _, s := range c.streams {
		if s.done != nil {
			s.done()
		}
	}
	for _, fn := range c.onClose {
		fn()
	}
	return c.nc.Close()
}

// ReadFrame reads exactly one frame off the wire, validates its CRC and
// size, and returns the decoded header plus payload. A protocol
// violation (bad checksum, oversized frame) is reported as
// protocol.ErrProtocol, instructing the caller to drop the connection
// per spec.md §7.
func (c *Conn) ReadFrame() (protocol.Header, []byte, error) {
	var hdrBuf [protocol.HeaderSize]byte
	if _, err := io.ReadFull(c.nc, hdrBuf[:]); err != nil {
		return protocol.Header{}, nil, err
	}
	h, err := protocol.DecodeHeader(hdrBuf[:])
	if err != nil {
		return protocol.Header{}, nil, err
	}
	if int(h.FrameBSize) > c.maxFrameSize || int(h.FrameBSize) < protocol.HeaderSize {
		return protocol.Header{}, nil, selvaerr.New(selvaerr.EBADMSG, "frame size %d out of bounds", h.FrameBSize)
	}
	payload := make([]byte, int(h.FrameBSize)-protocol.HeaderSize)
	if len(payload) > 0 {
		if _, err := io.ReadFull(c.nc, payload); err != nil {
			return protocol.Header{}, nil, err
		}
	}
	frame := make([]byte, h.FrameBSize)
	copy(frame, hdrBuf[:])
	copy(frame[protocol.HeaderSize:], payload)
	if !protocol.VerifyFrameChk(frame) {
		return protocol.Header{}, nil, selvaerr.New(selvaerr.EBADMSG, "frame checksum mismatch")
	}
	return h, payload, nil
}

// Feed drives the NEW/FRAGMENT FSM with one freshly read frame. It
// returns the complete reassembled message payload plus its cmd id once
// the `last` flag arrives; otherwise it returns (nil, 0, false, nil)
// and keeps accumulating.
func (c *Conn) Feed(h protocol.Header, payload []byte) (msg []byte, cmd int8, complete bool, err error) {
	switch c.state {
	case stateNew:
		if !h.Flags.Has(protocol.FlagFirst) {
			return nil, 0, false, selvaerr.New(selvaerr.EBADMSG, "fragment received without a preceding first frame")
		}
		if int64(h.MsgBSize) > c.maxMessageSize {
			return nil, 0, false, selvaerr.New(selvaerr.EBADMSG, "message size %d exceeds limit", h.MsgBSize)
		}
		c.msgHdr = h
		c.msgCmd = h.Cmd
		c.msgBuf = append(c.msgBuf[:0], payload...)
		c.msgSeen = len(payload)
		if h.Flags.Has(protocol.FlagLast) {
			out := c.msgBuf
			c.msgBuf = nil
			c.state = stateNew
			return out, c.msgCmd, true, nil
		}
		c.state = stateFragment
		return nil, 0, false, nil

	case stateFragment:
		if h.Flags.Has(protocol.FlagFirst) {
			return nil, 0, false, selvaerr.New(selvaerr.EBADMSG, "first frame received mid-fragment")
		}
		if h.Seqno != c.msgHdr.Seqno {
			return nil, 0, false, selvaerr.New(selvaerr.EBADMSG, "fragment seqno mismatch")
		}
		c.msgBuf = append(c.msgBuf, payload...)
		c.msgSeen += len(payload)
		if int64(c.msgSeen) > c.maxMessageSize {
			return nil, 0, false, selvaerr.New(selvaerr.EBADMSG, "reassembled message exceeds limit")
		}
		if h.Flags.Has(protocol.FlagLast) {
			out := c.msgBuf
			c.msgBuf = nil
			c.state = stateNew
			return out, c.msgCmd, true, nil
		}
		return nil, 0, false, nil
	}
	return nil, 0, false, selvaerr.New(selvaerr.EGENERAL, "unreachable connection state")
}

// WriteFrame serializes and writes a single response frame. Every call
// writes its frame immediately; FlagBatch is carried in the header as
// given and does not defer or coalesce writes.
func (c *Conn) WriteFrame(cmd int8, flags protocol.Flags, seqno uint32, payload []byte) error {
	frame := make([]byte, protocol.HeaderSize+len(payload))
	copy(frame[protocol.HeaderSize:], payload)
	h := protocol.Header{Cmd: cmd, Flags: flags, Seqno: seqno, MsgBSize: uint32(len(payload))}
	if err := protocol.FinalizeFrame(frame, &h); err != nil {
		return err
	}
	return c.writeWithRetry(frame)
}

// writeWithRetry implements spec.md §5's backpressure policy: on
// EAGAIN-class errors the frame writer retries up to three times before
// surfacing ENOBUFS to the caller. net.Conn.Write in Go blocks rather
// than returning EAGAIN, so the retry loop here guards against partial
// writes/timeouts instead, keeping the same "bounded retries, then
// ENOBUFS" contract.
func (c *Conn) writeWithRetry(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return selvaerr.New(selvaerr.ECONNRESET, "connection closed")
	}
	const maxAttempts = 3
	off := 0
	for attempt := 0; off < len(frame) && attempt < maxAttempts; attempt++ {
		n, err := c.nc.Write(frame[off:])
		off += n
		if err != nil {
			if off >= len(frame) {
				break
			}
			continue
		}
	}
	if off < len(frame) {
		return selvaerr.New(selvaerr.ENOBUFS, "short write after %d attempts", maxAttempts)
	}
	return nil
}

// OpenStream allocates a stream slot up to DefaultStreamPoolSize,
// reporting ENOBUFS when the pool is exhausted (spec.md §4.3).
func (c *Conn) OpenStream(seqno uint32, done func()) (id uint8, err error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if len(c.streams) >= DefaultStreamPoolSize {
		return 0, selvaerr.New(selvaerr.ENOBUFS, "stream pool exhausted")
	}
	id = c.nextStream
	c.nextStream++
	c.streams[id] = &streamHandle{id: id, seqno: seqno, done: done}
	return id, nil
}

// CloseStream releases a stream slot and fires its on_close hook.
func (c *Conn) CloseStream(id uint8) {
	c.writeMu.Lock()
	s, ok := c.streams[id]
	delete(c.streams, id)
	c.writeMu.Unlock()
	if ok && s.done != nil {
		s.done()
	}
}
