package protocol

import (
	"encoding/binary"
	"math"

	"github.com/selvadb/selva/internal/selvaerr"
)

// ValueType tags a selva_proto value (spec.md §4.1).
type ValueType uint8

const (
	VNull ValueType = iota
	VError
	VDouble
	VLongLong
	VString
	VArray
	VArrayEnd
	VReplicationCmd
	VReplicationSDB
)

// String flags (stored in the type byte's high bits on the wire; kept
// as separate fields here for clarity).
const (
	StrBinary  = 1 << 0
	StrDeflate = 1 << 1
)

const (
	LongLongHex = 1 << 0
)

// ArrayPostponedLength marks an array value whose element count was not
// known up front; the stream is terminated by a VArrayEnd sentinel.
const ArrayPostponedLength = -1

// Value is a decoded selva_proto scalar or container header. Array and
// object-like payloads are streamed value-by-value by callers; Value
// only describes one value's header plus, for scalars, its payload.
type Value struct {
	Type ValueType

	Double   float64
	Long     int64
	LongHex  bool
	Str      []byte
	StrFlags uint8

	ErrCode selvaerr.Code
	ErrMsg  []byte

	ArrayLen int // -1 == postponed

	ReplEID   uint64
	ReplCmdID int8
	ReplBSize uint32
	ReplData  []byte
	ReplPseudo bool
}

// Encoder appends selva_proto values to an internal buffer, used by
// response-out / replication writers / the SDB body writer.
type Encoder struct {
	buf []byte
}

func NewEncoder() *Encoder { return &Encoder{} }

func (e *Encoder) Bytes() []byte { return e.buf }
func (e *Encoder) Reset()        { e.buf = e.buf[:0] }
func (e *Encoder) Len() int       { return len(e.buf) }

func (e *Encoder) putType(t ValueType, flags uint8) {
	e.buf = append(e.buf, byte(t)|(flags<<4))
}

func (e *Encoder) Null() {
	e.putType(VNull, 0)
}

func (e *Encoder) Error(code selvaerr.Code, msg string) {
	e.putType(VError, 0)
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], uint16(code))
	e.buf = append(e.buf, tmp[:]...)
	e.putUvarint(uint64(len(msg)))
	e.buf = append(e.buf, msg...)
}

func (e *Encoder) Double(v float64) {
	e.putType(VDouble, 0)
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v))
	e.buf = append(e.buf, tmp[:]...)
}

func (e *Encoder) LongLong(v int64, hex bool) {
	var flags uint8
	if hex {
		flags = LongLongHex
	}
	e.putType(VLongLong, flags)
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(v))
	e.buf = append(e.buf, tmp[:]...)
}

func (e *Encoder) String(s []byte, binaryFlag, deflate bool) {
	var flags uint8
	if binaryFlag {
		flags |= StrBinary
	}
	if deflate {
		flags |= StrDeflate
	}
	e.putType(VString, flags)
	e.putUvarint(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

// Array begins an array of n elements; n may be ArrayPostponedLength, in
// which case the caller must terminate with ArrayEnd.
func (e *Encoder) Array(n int) {
	if n == ArrayPostponedLength {
		e.putType(VArray, 1)
		return
	}
	e.putType(VArray, 0)
	e.putUvarint(uint64(n))
}

func (e *Encoder) ArrayEnd() {
	e.putType(VArrayEnd, 0)
}

func (e *Encoder) ReplicationCmd(eid uint64, cmdID int8, data []byte) {
	e.putType(VReplicationCmd, 0)
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], eid)
	e.buf = append(e.buf, tmp[:]...)
	e.buf = append(e.buf, byte(cmdID))
	e.putUvarint(uint64(len(data)))
	e.buf = append(e.buf, data...)
}

func (e *Encoder) ReplicationSDB(eid uint64, bsize uint32, pseudo bool) {
	flags := uint8(0)
	if pseudo {
		flags = 1
	}
	e.putType(VReplicationSDB, flags)
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], eid)
	e.buf = append(e.buf, tmp[:]...)
	var tmp4 [4]byte
	binary.LittleEndian.PutUint32(tmp4[:], bsize)
	e.buf = append(e.buf, tmp4[:]...)
}

func (e *Encoder) putUvarint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	e.buf = append(e.buf, tmp[:n]...)
}

// Decoder walks a selva_proto value stream.
type Decoder struct {
	buf []byte
	off int
}

func NewDecoder(buf []byte) *Decoder { return &Decoder{buf: buf} }

func (d *Decoder) Len() int  { return len(d.buf) - d.off }
func (d *Decoder) Off() int  { return d.off }
func (d *Decoder) Done() bool { return d.off >= len(d.buf) }

func (d *Decoder) readByte() (byte, error) {
	if d.off >= len(d.buf) {
		return 0, selvaerr.New(selvaerr.EBADMSG, "unexpected end of value stream")
	}
	b := d.buf[d.off]
	d.off++
	return b, nil
}

func (d *Decoder) readN(n int) ([]byte, error) {
	if d.off+n > len(d.buf) {
		return nil, selvaerr.New(selvaerr.EBADMSG, "short value payload: want %d, have %d", n, len(d.buf)-d.off)
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *Decoder) readUvarint() (uint64, error) {
	v, n := binary.Uvarint(d.buf[d.off:])
	if n <= 0 {
		return 0, selvaerr.New(selvaerr.EBADMSG, "bad varint length")
	}
	d.off += n
	return v, nil
}

// ParseVType decodes the next value's type+flags header. It does not
// consume the payload; callers dispatch on Type and call the matching
// ReadXxx method. This mirrors parse_vtype(buf, offset) from spec.md
// §4.1.
func (d *Decoder) ParseVType() (ValueType, uint8, error) {
	b, err := d.readByte()
	if err != nil {
		return 0, 0, err
	}
	return ValueType(b & 0x0f), b >> 4, nil
}

func (d *Decoder) ReadDouble() (float64, error) {
	b, err := d.readN(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

func (d *Decoder) ReadLongLong(flags uint8) (int64, bool, error) {
	b, err := d.readN(8)
	if err != nil {
		return 0, false, err
	}
	return int64(binary.LittleEndian.Uint64(b)), flags&LongLongHex != 0, nil
}

func (d *Decoder) ReadString(flags uint8) ([]byte, error) {
	n, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	return d.readN(int(n))
}

// ParseError decodes a code+message pair, matching parse_error(buf,
// offset) from spec.md §4.1.
func (d *Decoder) ParseError() (selvaerr.Code, []byte, error) {
	b, err := d.readN(2)
	if err != nil {
		return 0, nil, err
	}
	code := selvaerr.Code(binary.LittleEndian.Uint16(b))
	n, err := d.readUvarint()
	if err != nil {
		return 0, nil, err
	}
	msg, err := d.readN(int(n))
	return code, msg, err
}

func (d *Decoder) ReadArrayLen(flags uint8) (int, error) {
	if flags&1 != 0 {
		return ArrayPostponedLength, nil
	}
	n, err := d.readUvarint()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (d *Decoder) ReadReplicationCmd() (eid uint64, cmdID int8, data []byte, err error) {
	b, err := d.readN(8)
	if err != nil {
		return
	}
	eid = binary.LittleEndian.Uint64(b)
	c, err := d.readByte()
	if err != nil {
		return
	}
	cmdID = int8(c)
	n, err := d.readUvarint()
	if err != nil {
		return
	}
	data, err = d.readN(int(n))
	return
}

func (d *Decoder) ReadReplicationSDB(flags uint8) (eid uint64, bsize uint32, pseudo bool, err error) {
	b, err := d.readN(8)
	if err != nil {
		return
	}
	eid = binary.LittleEndian.Uint64(b)
	b4, err := d.readN(4)
	if err != nil {
		return
	}
	bsize = binary.LittleEndian.Uint32(b4)
	pseudo = flags&1 != 0
	return
}

// Next fully decodes the next value, including its payload, into a
// Value. This is the main entry point callers outside this package use.
func (d *Decoder) Next() (Value, error) {
	t, flags, err := d.ParseVType()
	if err != nil {
		return Value{}, err
	}
	v := Value{Type: t}
	switch t {
	case VNull:
	case VError:
		v.ErrCode, v.ErrMsg, err = d.ParseError()
	case VDouble:
		v.Double, err = d.ReadDouble()
	case VLongLong:
		v.Long, v.LongHex, err = d.ReadLongLong(flags)
	case VString:
		v.Str, err = d.ReadString(flags)
		v.StrFlags = flags
	case VArray:
		v.ArrayLen, err = d.ReadArrayLen(flags)
	case VArrayEnd:
	case VReplicationCmd:
		v.ReplEID, v.ReplCmdID, v.ReplData, err = d.ReadReplicationCmd()
	case VReplicationSDB:
		v.ReplEID, v.ReplBSize, v.ReplPseudo, err = d.ReadReplicationSDB(flags)
	default:
		return Value{}, selvaerr.New(selvaerr.EBADMSG, "unknown value type %d", t)
	}
	return v, err
}
