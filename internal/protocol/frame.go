// Package protocol implements the Selva framed wire protocol described
// in spec.md §4.1: little-endian frame headers, CRC-32C validation, and
// a typed value stream used both on the wire and inside SDB snapshots
// (spec.md §4.10 reuses this codec for the snapshot body).
//
// Grounded in the reference server_frame.c / selva_proto.c collaborators
// (see original_source/_INDEX.md); no example repo in the corpus carries
// a byte-identical framed protocol, so the layout below is a direct,
// idiomatic Go transcription rather than an adaptation of existing Go
// code — see DESIGN.md.
package protocol

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/pkg/errors"
	"github.com/selvadb/selva/internal/selvaerr"
)

// Flags is the frame flag bitmask (spec.md §4.1).
type Flags uint8

const (
	FlagResponse Flags = 1 << 0
	FlagFirst    Flags = 1 << 1
	FlagLast     Flags = 1 << 2
	FlagStream   Flags = 1 << 3
	FlagBatch    Flags = 1 << 4
	FlagDeflate  Flags = 1 << 5
)

// HeaderSize is the fixed frame header length in bytes:
// cmd(1) + flags(1) + seqno(4) + frame_bsize(2) + msg_bsize(4) + chk(4).
const HeaderSize = 1 + 1 + 4 + 2 + 4 + 4

// MaxFrameSize is the hard ceiling spec.md §4.1 mandates; the configured
// limit (internal/config) may be lower but never higher.
const MaxFrameSize = 5840

// MaxMessageSize is the hard ceiling on a reassembled message.
const MaxMessageSize = 1 << 30

// castagnoli is the CRC-32C polynomial table, hardware-accelerated by
// the Go runtime on amd64/arm64. No third-party repo in the example
// corpus reimplements Castagnoli CRC-32, so stdlib hash/crc32 is used
// here deliberately (see DESIGN.md).
var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Header is the decoded fixed-size frame header.
type Header struct {
	Cmd        int8
	Flags      Flags
	Seqno      uint32
	FrameBSize uint16
	MsgBSize   uint32
	Chk        uint32
}

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// EncodeHeader writes h into buf[:HeaderSize] (little-endian).
func EncodeHeader(buf []byte, h Header) {
	_ = buf[HeaderSize-1]
	buf[0] = byte(h.Cmd)
	buf[1] = byte(h.Flags)
	binary.LittleEndian.PutUint32(buf[2:6], h.Seqno)
	binary.LittleEndian.PutUint16(buf[6:8], h.FrameBSize)
	binary.LittleEndian.PutUint32(buf[8:12], h.MsgBSize)
	binary.LittleEndian.PutUint32(buf[12:16], h.Chk)
}

// DecodeHeader reads a Header from buf[:HeaderSize].
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, selvaerr.New(selvaerr.EBADMSG, "short frame header: %d bytes", len(buf))
	}
	return Header{
		Cmd:        int8(buf[0]),
		Flags:      Flags(buf[1]),
		Seqno:      binary.LittleEndian.Uint32(buf[2:6]),
		FrameBSize: binary.LittleEndian.Uint16(buf[6:8]),
		MsgBSize:   binary.LittleEndian.Uint32(buf[8:12]),
		Chk:        binary.LittleEndian.Uint32(buf[12:16]),
	}, nil
}

// ChecksumFrame computes the CRC-32C of a complete frame (header +
// payload) with the chk field held at zero, per spec.md's
// `verify_frame_chk(header, payload) → bool` contract.
func ChecksumFrame(frame []byte) uint32 {
	if len(frame) < HeaderSize {
		return crc32.Checksum(frame, castagnoli)
	}
	tmp := make([]byte, len(frame))
	copy(tmp, frame)
	tmp[12], tmp[13], tmp[14], tmp[15] = 0, 0, 0, 0
	return crc32.Checksum(tmp, castagnoli)
}

// VerifyFrameChk validates frame's chk field against a fresh
// recomputation.
func VerifyFrameChk(frame []byte) bool {
	h, err := DecodeHeader(frame)
	if err != nil {
		return false
	}
	return ChecksumFrame(frame) == h.Chk
}

// FinalizeFrame stamps frame_bsize and chk into a frame buffer whose
// header fields (cmd, flags, seqno, msg_bsize) are already set and
// whose length is final.
func FinalizeFrame(frame []byte, h *Header) error {
	if len(frame) > MaxFrameSize {
		return selvaerr.New(selvaerr.EBADMSG, "frame too large: %d > %d", len(frame), MaxFrameSize)
	}
	h.FrameBSize = uint16(len(frame))
	EncodeHeader(frame[:HeaderSize], *h)
	h.Chk = ChecksumFrame(frame)
	binary.LittleEndian.PutUint32(frame[12:16], h.Chk)
	return nil
}

// ErrProtocol wraps a protocol-level error that must drop the
// connection, per spec.md §7 ("Protocol errors drop the connection").
var ErrProtocol = errors.New("selva: protocol error")
