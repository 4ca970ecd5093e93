// Package bits provides the bit-level cursor shared by the elementary-stream
// parsers: MSB-first fixed-width reads, exp-Golomb (ue/se) and uvlc codes,
// LEB128, and the byte-alignment checks the codec standards mandate.
package bits

import (
	"errors"
	"fmt"
)

var (
	// ErrShortData is returned when a read would run past the end of the unit.
	ErrShortData = errors.New("bits: read past end of data")
	// ErrValueTooLarge is returned when a variable-length code exceeds the
	// representable range (exp-Golomb > 32 leading zeros, LEB128 > 32 bits).
	ErrValueTooLarge = errors.New("bits: value out of range")
	// ErrTrailingBits is returned when rbsp_trailing_bits or byte_alignment
	// validation fails.
	ErrTrailingBits = errors.New("bits: invalid trailing bits")
)

// Reader is a cursor over a byte buffer. It is owned by a single parser
// invocation and reset per unit; it never mutates the underlying bytes.
type Reader struct {
	data []byte
	pos  int
	bit  int
	err  error
}

// NewReader returns a Reader positioned at the first bit of data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Reset repoints the reader at a new buffer, rewinding the cursor.
func (r *Reader) Reset(data []byte) {
	r.data = data
	r.pos = 0
	r.bit = 0
	r.err = nil
}

// ReadBit returns the next bit.
func (r *Reader) ReadBit() (uint32, error) {
	if r.pos >= len(r.data) {
		return 0, ErrShortData
	}
	val := uint32((r.data[r.pos] >> (7 - r.bit)) & 1)
	r.bit++
	if r.bit == 8 {
		r.bit = 0
		r.pos++
	}
	return val, nil
}

// ReadFlag returns the next bit as a bool.
func (r *Reader) ReadFlag() (bool, error) {
	b, err := r.ReadBit()
	return b == 1, err
}

// ReadBits returns the next n bits, MSB first. n must be in [0, 32].
func (r *Reader) ReadBits(n int) (uint32, error) {
	if n < 0 || n > 32 {
		return 0, fmt.Errorf("bits: invalid width %d: %w", n, ErrValueTooLarge)
	}
	var val uint32
	for i := 0; i < n; i++ {
		b, err := r.ReadBit()
		if err != nil {
			return 0, err
		}
		val = (val << 1) | b
	}
	return val, nil
}

// ReadSignedBits reads n bits as a two's-complement signed value (AV1 su(n)).
func (r *Reader) ReadSignedBits(n int) (int32, error) {
	v, err := r.ReadBits(n)
	if err != nil {
		return 0, err
	}
	if n > 0 && v&(1<<(n-1)) != 0 {
		return int32(v) - (1 << n), nil
	}
	return int32(v), nil
}

// ReadUE decodes an unsigned exp-Golomb value: count leading zeros L, read L
// suffix bits, value = 2^L - 1 + suffix.
func (r *Reader) ReadUE() (uint32, error) {
	zeros := 0
	for {
		b, err := r.ReadBit()
		if err != nil {
			return 0, err
		}
		if b == 1 {
			break
		}
		zeros++
		if zeros > 31 {
			return 0, ErrValueTooLarge
		}
	}
	if zeros == 0 {
		return 0, nil
	}
	suffix, err := r.ReadBits(zeros)
	if err != nil {
		return 0, err
	}
	return (1 << zeros) - 1 + suffix, nil
}

// ReadSE decodes a signed exp-Golomb value using the standard zig-zag
// mapping: odd code numbers are positive, even ones negative.
func (r *Reader) ReadSE() (int32, error) {
	v, err := r.ReadUE()
	if err != nil {
		return 0, err
	}
	if v&1 == 1 {
		return int32(v+1) / 2, nil
	}
	return -int32(v / 2), nil
}

// ReadUVLC decodes AV1's uvlc(): identical leading-zero construction to ue()
// but with a 32-zero escape meaning 2^32-1.
func (r *Reader) ReadUVLC() (uint32, error) {
	zeros := 0
	for {
		b, err := r.ReadBit()
		if err != nil {
			return 0, err
		}
		if b == 1 {
			break
		}
		zeros++
		if zeros >= 32 {
			return 0xffffffff, nil
		}
	}
	if zeros == 0 {
		return 0, nil
	}
	suffix, err := r.ReadBits(zeros)
	if err != nil {
		return 0, err
	}
	return (1 << zeros) - 1 + suffix, nil
}

// ReadNS decodes AV1's ns(n): a value in [0, n) using FloorLog2(n)+1 total
// bits at most, with the short codes assigned to the low values.
func (r *Reader) ReadNS(n uint32) (uint32, error) {
	if n == 0 {
		return 0, nil
	}
	w := 0
	for x := n; x != 0; x >>= 1 {
		w++
	}
	m := uint32(1<<w) - n
	v, err := r.ReadBits(w - 1)
	if err != nil {
		return 0, err
	}
	if v < m {
		return v, nil
	}
	extra, err := r.ReadBit()
	if err != nil {
		return 0, err
	}
	return (v << 1) - m + extra, nil
}

// ReadLEB128 decodes an AV1 LEB128-coded size: up to 8 bytes, little-endian
// 7-bit groups. Values above 32 bits are rejected per the AV1 spec.
func (r *Reader) ReadLEB128() (uint64, error) {
	var value uint64
	for i := 0; i < 8; i++ {
		b, err := r.ReadBits(8)
		if err != nil {
			return 0, err
		}
		value |= uint64(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			break
		}
	}
	if value >= 1<<32 {
		return 0, ErrValueTooLarge
	}
	return value, nil
}

// ByteAligned reports whether the cursor sits on a byte boundary.
func (r *Reader) ByteAligned() bool {
	return r.bit == 0
}

// ByteAlignment consumes bits up to the next byte boundary, requiring each
// to be zero (AV1 byte_alignment()).
func (r *Reader) ByteAlignment() error {
	for !r.ByteAligned() {
		b, err := r.ReadBit()
		if err != nil {
			return err
		}
		if b != 0 {
			return ErrTrailingBits
		}
	}
	return nil
}

// RBSPTrailingBits validates the H.264/H.265 trailing-bit pattern: a single
// stop bit of 1 followed by zeros to the byte boundary.
func (r *Reader) RBSPTrailingBits() error {
	b, err := r.ReadBit()
	if err != nil {
		return err
	}
	if b != 1 {
		return ErrTrailingBits
	}
	for !r.ByteAligned() {
		b, err := r.ReadBit()
		if err != nil {
			return err
		}
		if b != 0 {
			return ErrTrailingBits
		}
	}
	return nil
}

// MoreRBSPData reports whether syntax elements remain before the trailing-bit
// pattern, per the H.264/H.265 more_rbsp_data() rule.
func (r *Reader) MoreRBSPData() bool {
	if r.pos >= len(r.data) {
		return false
	}
	// Find the last set bit in the buffer; data remains if the cursor is
	// strictly before it.
	last := len(r.data) - 1
	for last >= 0 && r.data[last] == 0 {
		last--
	}
	if last < 0 {
		return false
	}
	lastBit := 7
	for r.data[last]&(1<<lastBit) == 0 {
		lastBit--
	}
	cur := r.pos*8 + r.bit
	stop := last*8 + (7 - lastBit)
	return cur < stop
}

// BitsConsumed returns the number of bits read so far.
func (r *Reader) BitsConsumed() int {
	return r.pos*8 + r.bit
}

// BytesConsumed returns the number of whole or partial bytes read so far.
func (r *Reader) BytesConsumed() int {
	return (r.BitsConsumed() + 7) / 8
}

// Remaining returns the number of unread bits.
func (r *Reader) Remaining() int {
	return len(r.data)*8 - r.BitsConsumed()
}

// RemoveEmulationPrevention strips H.264/H.265 emulation-prevention bytes:
// a 0x03 following two zero bytes is dropped when the byte after it is
// 0x00-0x03.
func RemoveEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 3 {
			if i+3 >= len(data) || data[i+3] <= 3 {
				out = append(out, 0, 0)
				i += 2
				continue
			}
		}
		out = append(out, data[i])
	}
	return out
}

// The short-form accessors below latch the first read error instead of
// returning it. Deep syntax parsers read hundreds of fields per header;
// they use these and check Err once per header (or at decision points),
// the same way bufio.Scanner defers its error. After an error every
// accessor returns zero.

// Err returns the first error encountered by the short-form accessors.
func (r *Reader) Err() error { return r.err }

// SetErr latches err if no error is recorded yet.
func (r *Reader) SetErr(err error) {
	if r.err == nil {
		r.err = err
	}
}

// U reads n bits as an unsigned value.
func (r *Reader) U(n int) uint32 {
	if r.err != nil {
		return 0
	}
	v, err := r.ReadBits(n)
	if err != nil {
		r.err = err
		return 0
	}
	return v
}

// Flag reads one bit as a bool.
func (r *Reader) Flag() bool {
	return r.U(1) == 1
}

// S reads n bits as a two's-complement signed value.
func (r *Reader) S(n int) int32 {
	if r.err != nil {
		return 0
	}
	v, err := r.ReadSignedBits(n)
	if err != nil {
		r.err = err
		return 0
	}
	return v
}

// UE reads an unsigned Exp-Golomb value.
func (r *Reader) UE() uint32 {
	if r.err != nil {
		return 0
	}
	v, err := r.ReadUE()
	if err != nil {
		r.err = err
		return 0
	}
	return v
}

// SE reads a signed Exp-Golomb value.
func (r *Reader) SE() int32 {
	if r.err != nil {
		return 0
	}
	v, err := r.ReadSE()
	if err != nil {
		r.err = err
		return 0
	}
	return v
}

// UVLC reads a variable-length unsigned value with the 32-zero escape.
func (r *Reader) UVLC() uint32 {
	if r.err != nil {
		return 0
	}
	v, err := r.ReadUVLC()
	if err != nil {
		r.err = err
		return 0
	}
	return v
}

// NS reads a non-symmetric value in [0, n).
func (r *Reader) NS(n uint32) uint32 {
	if r.err != nil {
		return 0
	}
	v, err := r.ReadNS(n)
	if err != nil {
		r.err = err
		return 0
	}
	return v
}

// LEB reads a LEB128 value.
func (r *Reader) LEB() uint64 {
	if r.err != nil {
		return 0
	}
	v, err := r.ReadLEB128()
	if err != nil {
		r.err = err
		return 0
	}
	return v
}

// Skip discards n bits.
func (r *Reader) Skip(n int) {
	for n > 32 {
		r.U(32)
		n -= 32
	}
	if n > 0 {
		r.U(n)
	}
}
