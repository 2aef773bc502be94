package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFinalizeFrameRoundTrip(t *testing.T) {
	frame := make([]byte, HeaderSize+4)
	copy(frame[HeaderSize:], []byte("PONG"))
	h := Header{Cmd: 0, Flags: FlagResponse | FlagFirst | FlagLast, Seqno: 1}
	require.NoError(t, FinalizeFrame(frame, &h))

	require.True(t, VerifyFrameChk(frame))

	got, err := DecodeHeader(frame)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestVerifyFrameChkDetectsCorruption(t *testing.T) {
	frame := make([]byte, HeaderSize+4)
	copy(frame[HeaderSize:], []byte("PONG"))
	h := Header{Cmd: 0, Flags: FlagResponse | FlagFirst | FlagLast, Seqno: 1}
	require.NoError(t, FinalizeFrame(frame, &h))

	frame[HeaderSize] ^= 0xFF
	require.False(t, VerifyFrameChk(frame))
}

func TestFinalizeFrameRejectsOversize(t *testing.T) {
	frame := make([]byte, MaxFrameSize+1)
	h := Header{}
	err := FinalizeFrame(frame, &h)
	require.Error(t, err)
}
