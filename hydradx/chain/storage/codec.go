package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"

	"cosmossdk.io/math"
	bin "github.com/gagliardetto/binary"
)

var maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// Reader decodes SCALE values. Fixed width integers go through the bin decoder,
// compact integers and options are handled here.
type Reader struct {
	dec *bin.Decoder
}

func NewReader(data []byte) *Reader {
	return &Reader{dec: bin.NewBinDecoder(data)}
}

func (r *Reader) Remaining() int {
	return r.dec.Remaining()
}

func (r *Reader) U8() (uint8, error) {
	return r.dec.ReadUint8()
}

func (r *Reader) Bool() (bool, error) {
	b, err := r.dec.ReadUint8()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("invalid bool byte %d", b)
	}
}

func (r *Reader) U16() (uint16, error) {
	return r.dec.ReadUint16(binary.LittleEndian)
}

func (r *Reader) U32() (uint32, error) {
	return r.dec.ReadUint32(binary.LittleEndian)
}

func (r *Reader) U64() (uint64, error) {
	return r.dec.ReadUint64(binary.LittleEndian)
}

// U128 reads a little endian u128 into an Int.
func (r *Reader) U128() (math.Int, error) {
	lo, err := r.dec.ReadUint64(binary.LittleEndian)
	if err != nil {
		return math.Int{}, err
	}
	hi, err := r.dec.ReadUint64(binary.LittleEndian)
	if err != nil {
		return math.Int{}, err
	}
	v := new(big.Int).SetUint64(hi)
	v.Lsh(v, 64)
	v.Or(v, new(big.Int).SetUint64(lo))
	return math.NewIntFromBigInt(v), nil
}

func (r *Reader) Bytes(n int) ([]byte, error) {
	return r.dec.ReadNBytes(n)
}

// Compact reads a SCALE compact integer.
func (r *Reader) Compact() (*big.Int, error) {
	first, err := r.dec.ReadUint8()
	if err != nil {
		return nil, err
	}
	switch first & 0b11 {
	case 0b00:
		return big.NewInt(int64(first >> 2)), nil
	case 0b01:
		second, err := r.dec.ReadUint8()
		if err != nil {
			return nil, err
		}
		return big.NewInt(int64(uint16(first)|uint16(second)<<8) >> 2), nil
	case 0b10:
		rest, err := r.dec.ReadNBytes(3)
		if err != nil {
			return nil, err
		}
		v := uint32(first) | uint32(rest[0])<<8 | uint32(rest[1])<<16 | uint32(rest[2])<<24
		return big.NewInt(int64(v >> 2)), nil
	default:
		n := int(first>>2) + 4
		raw, err := r.dec.ReadNBytes(n)
		if err != nil {
			return nil, err
		}
		be := make([]byte, n)
		for i := range raw {
			be[n-1-i] = raw[i]
		}
		return new(big.Int).SetBytes(be), nil
	}
}

// CompactLen reads a compact length prefix.
func (r *Reader) CompactLen() (int, error) {
	n, err := r.Compact()
	if err != nil {
		return 0, err
	}
	if !n.IsInt64() || n.Int64() > int64(r.dec.Remaining()) {
		return 0, fmt.Errorf("compact length %s out of range", n)
	}
	return int(n.Int64()), nil
}

// ByteVec reads a length prefixed byte vector.
func (r *Reader) ByteVec() ([]byte, error) {
	n, err := r.CompactLen()
	if err != nil {
		return nil, err
	}
	return r.dec.ReadNBytes(n)
}

// Option reads the option tag and reports whether a value follows.
func (r *Reader) Option() (bool, error) {
	tag, err := r.dec.ReadUint8()
	if err != nil {
		return false, err
	}
	switch tag {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("invalid option tag %d", tag)
	}
}

// Writer encodes SCALE values.
type Writer struct {
	buf *bytes.Buffer
	enc *bin.Encoder
}

func NewWriter() *Writer {
	buf := new(bytes.Buffer)
	return &Writer{buf: buf, enc: bin.NewBorshEncoder(buf)}
}

func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

func (w *Writer) U8(v uint8) error {
	return w.enc.WriteUint8(v)
}

func (w *Writer) U16(v uint16) error {
	return w.enc.WriteUint16(v, binary.LittleEndian)
}

func (w *Writer) U32(v uint32) error {
	return w.enc.WriteUint32(v, binary.LittleEndian)
}

func (w *Writer) U64(v uint64) error {
	return w.enc.WriteUint64(v, binary.LittleEndian)
}

// U128 writes a non negative Int that fits into 128 bits.
func (w *Writer) U128(v math.Int) error {
	if v.IsNil() || v.IsNegative() || v.BigInt().Cmp(maxUint128) > 0 {
		return fmt.Errorf("value %s does not fit into u128", v)
	}
	mask := new(big.Int).SetUint64(^uint64(0))
	b := v.BigInt()
	lo := new(big.Int).And(b, mask).Uint64()
	hi := new(big.Int).Rsh(b, 64).Uint64()
	if err := w.U64(lo); err != nil {
		return err
	}
	return w.U64(hi)
}

// Raw appends bytes without a length prefix.
func (w *Writer) Raw(b []byte) error {
	return w.enc.WriteBytes(b, false)
}

// Compact writes a SCALE compact integer.
func (w *Writer) Compact(v *big.Int) error {
	return w.Raw(EncodeCompact(v))
}

func (w *Writer) CompactUint(v uint64) error {
	return w.Compact(new(big.Int).SetUint64(v))
}

// ByteVec writes a length prefixed byte vector.
func (w *Writer) ByteVec(b []byte) error {
	if err := w.CompactUint(uint64(len(b))); err != nil {
		return err
	}
	return w.Raw(b)
}

// EncodeCompact returns the SCALE compact encoding of a non negative integer.
func EncodeCompact(v *big.Int) []byte {
	switch {
	case v.Cmp(big.NewInt(1<<6)) < 0:
		return []byte{byte(v.Uint64() << 2)}
	case v.Cmp(big.NewInt(1<<14)) < 0:
		n := uint16(v.Uint64()<<2) | 0b01
		return []byte{byte(n), byte(n >> 8)}
	case v.Cmp(big.NewInt(1<<30)) < 0:
		n := uint32(v.Uint64()<<2) | 0b10
		return []byte{byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24)}
	default:
		be := v.Bytes()
		out := make([]byte, 1, len(be)+1)
		out[0] = byte((len(be)-4)<<2) | 0b11
		for i := len(be) - 1; i >= 0; i-- {
			out = append(out, be[i])
		}
		return out
	}
}
