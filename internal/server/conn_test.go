package server

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/selvadb/selva/internal/protocol"
)

func pipeConns(t *testing.T) (*Conn, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { server.Close(); client.Close() })
	return NewConn(server, zap.NewNop(), protocol.MaxFrameSize, protocol.MaxMessageSize), client
}

func writeFrame(t *testing.T, nc net.Conn, cmd int8, flags protocol.Flags, seqno uint32, payload []byte) {
	t.Helper()
	frame := make([]byte, protocol.HeaderSize+len(payload))
	copy(frame[protocol.HeaderSize:], payload)
	h := protocol.Header{Cmd: cmd, Flags: flags, Seqno: seqno, MsgBSize: uint32(len(payload))}
	require.NoError(t, protocol.FinalizeFrame(frame, &h))
	_, err := nc.Write(frame)
	require.NoError(t, err)
}

func TestSingleFrameMessageCompletesImmediately(t *testing.T) {
	c, client := pipeConns(t)

	payload := []byte("hello")
	go writeFrame(t, client, 1, protocol.FlagFirst|protocol.FlagLast, 7, payload)

	h, p, err := c.ReadFrame()
	require.NoError(t, err)
	msg, cmd, complete, err := c.Feed(h, p)
	require.NoError(t, err)
	require.True(t, complete)
	require.EqualValues(t, 1, cmd)
	require.Equal(t, payload, msg)
}

func TestFragmentedMessageReassembles(t *testing.T) {
	c, client := pipeConns(t)

	go func() {
		writeFrame(t, client, 2, protocol.FlagFirst, 3, []byte("ab"))
		writeFrame(t, client, 2, 0, 3, []byte("cd"))
		writeFrame(t, client, 2, protocol.FlagLast, 3, []byte("ef"))
	}()

	var last []byte
	var cmd int8
	var complete bool
	for i := 0; i < 3; i++ {
		h, p, err := c.ReadFrame()
		require.NoError(t, err)
		last, cmd, complete, err = c.Feed(h, p)
		require.NoError(t, err)
	}
	require.True(t, complete)
	require.EqualValues(t, 2, cmd)
	require.Equal(t, []byte("abcdef"), last)
}

func TestFragmentWithoutFirstIsProtocolError(t *testing.T) {
	c, client := pipeConns(t)
	go writeFrame(t, client, 1, 0, 1, []byte("x"))

	h, p, err := c.ReadFrame()
	require.NoError(t, err)
	_, _, _, err = c.Feed(h, p)
	require.Error(t, err)
}

func TestWriteFrameRoundTrips(t *testing.T) {
	c, client := pipeConns(t)
	payload := []byte("pong")

	go func() {
		require.NoError(t, c.WriteFrame(0, protocol.FlagResponse|protocol.FlagFirst|protocol.FlagLast, 1, payload))
	}()

	var hdrBuf [protocol.HeaderSize]byte
	client.SetReadDeadline(time.Now().Add(time.Second))
	n, err := client.Read(hdrBuf[:])
	require.NoError(t, err)
	require.Equal(t, protocol.HeaderSize, n)
	h, err := protocol.DecodeHeader(hdrBuf[:])
	require.NoError(t, err)

	body := make([]byte, int(h.FrameBSize)-protocol.HeaderSize)
	_, err = client.Read(body)
	require.NoError(t, err)
	require.Equal(t, payload, body)
}

func TestStreamPoolExhaustion(t *testing.T) {
	c, _ := pipeConns(t)
	for i := 0; i < DefaultStreamPoolSize; i++ {
		_, err := c.OpenStream(uint32(i), func() {})
		require.NoError(t, err)
	}
	_, err := c.OpenStream(99, func() {})
	require.Error(t, err)
}

func TestCloseRunsOnCloseHooksOnce(t *testing.T) {
	c, _ := pipeConns(t)
	calls := 0
	c.OnClose(func() { calls++ })
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.Equal(t, 1, calls)
}
