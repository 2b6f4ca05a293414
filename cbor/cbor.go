// SPDX-FileCopyrightText: (C) 2025 the go-edhoc authors
// SPDX-License-Identifier: Apache 2.0

// Package cbor implements the subset of CBOR (RFC 8949) used by EDHOC
// messages: integers, byte strings, text strings, arrays, and maps, encoded
// deterministically as CBOR sequences.
//
// The encoder writes into a caller-provided buffer and never grows it, so
// message construction stays within the protocol's fixed maximum sizes. The
// decoder enforces deterministic (preferred) encoding: an item that uses a
// longer head than necessary is rejected, because EDHOC transcripts must be
// reproducible bit-for-bit from re-encoded values.
package cbor

import (
	"errors"
	"fmt"
)

// Major types (high 3 bits)
const (
	MajorUnsignedInt byte = 0x00
	MajorNegativeInt byte = 0x20
	MajorByteString  byte = 0x40
	MajorTextString  byte = 0x60
	MajorArray       byte = 0x80
	MajorMap         byte = 0xa0
	MajorTag         byte = 0xc0
	MajorSimple      byte = 0xe0
)

// Additional info (low 5 bits)
const (
	oneByteAdditional      byte = 0x18
	twoBytesAdditional     byte = 0x19
	fourBytesAdditional    byte = 0x1a
	eightBytesAdditional   byte = 0x1b
	indefiniteLengthMarker byte = 0x1f
)

const (
	threeBitMask byte = 0xe0
	fiveBitMask  byte = 0x1f
)

// Codec errors. Decode failures all unwrap to ErrDecode so that callers can
// classify any malformed input with a single errors.Is check.
var (
	ErrDecode       = errors.New("invalid CBOR")
	ErrTruncated    = fmt.Errorf("%w: truncated input", ErrDecode)
	ErrNonCanonical = fmt.Errorf("%w: non-canonical encoding", ErrDecode)
	ErrWrongType    = fmt.Errorf("%w: unexpected major type", ErrDecode)
	ErrTooLong      = fmt.Errorf("%w: item exceeds size limit", ErrDecode)
	ErrBufferFull   = errors.New("output buffer full")
)

// MajorType returns the major type bits of an initial byte.
func MajorType(b byte) byte { return b & threeBitMask }

// AddInfo returns the additional info bits of an initial byte.
func AddInfo(b byte) byte { return b & fiveBitMask }

// Encoder appends deterministically encoded items to a fixed-capacity buffer.
// The first encoding error sticks; check Err or Final once after a run of
// appends, in the manner of bufio.Writer.
type Encoder struct {
	buf []byte
	err error
}

// NewEncoder returns an Encoder writing to dst[len(dst):cap(dst)]. Pass
// dst[:0] to encode from the start of a buffer.
func NewEncoder(dst []byte) *Encoder { return &Encoder{buf: dst} }

func (e *Encoder) write(p []byte) {
	if e.err != nil {
		return
	}
	if len(e.buf)+len(p) > cap(e.buf) {
		e.err = ErrBufferFull
		return
	}
	e.buf = append(e.buf, p...)
}

func (e *Encoder) writeByte(b byte) { e.write([]byte{b}) }

// head encodes a major type with its argument using the shortest form.
func (e *Encoder) head(major byte, arg uint64) {
	switch {
	case arg < 0x18:
		e.writeByte(major | byte(arg))
	case arg <= 0xff:
		e.write([]byte{major | oneByteAdditional, byte(arg)})
	case arg <= 0xffff:
		e.write([]byte{major | twoBytesAdditional, byte(arg >> 8), byte(arg)})
	case arg <= 0xffffffff:
		e.write([]byte{major | fourBytesAdditional,
			byte(arg >> 24), byte(arg >> 16), byte(arg >> 8), byte(arg)})
	default:
		e.write([]byte{major | eightBytesAdditional,
			byte(arg >> 56), byte(arg >> 48), byte(arg >> 40), byte(arg >> 32),
			byte(arg >> 24), byte(arg >> 16), byte(arg >> 8), byte(arg)})
	}
}

// Uint appends an unsigned integer.
func (e *Encoder) Uint(v uint64) { e.head(MajorUnsignedInt, v) }

// Int appends a signed integer.
func (e *Encoder) Int(v int64) {
	if v >= 0 {
		e.head(MajorUnsignedInt, uint64(v))
		return
	}
	e.head(MajorNegativeInt, uint64(-1-v))
}

// Bytes appends a byte string. A nil slice encodes as the empty byte string.
func (e *Encoder) Bytes(v []byte) {
	e.head(MajorByteString, uint64(len(v)))
	e.write(v)
}

// Text appends a text string.
func (e *Encoder) Text(s string) {
	e.head(MajorTextString, uint64(len(s)))
	e.write([]byte(s))
}

// Array appends an array head for n following items.
func (e *Encoder) Array(n int) { e.head(MajorArray, uint64(n)) }

// Map appends a map head for n following key-value pairs.
func (e *Encoder) Map(n int) { e.head(MajorMap, uint64(n)) }

// Raw appends bytes that are already valid CBOR.
func (e *Encoder) Raw(v []byte) { e.write(v) }

// Err returns the first error encountered while encoding.
func (e *Encoder) Err() error { return e.err }

// Final returns the encoded buffer, or the first encoding error.
func (e *Encoder) Final() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.buf, nil
}

// Decoder consumes a CBOR sequence from a byte slice. Returned byte and text
// string slices alias the input and are only valid while it is.
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder returns a Decoder reading from b. The slice is not copied.
func NewDecoder(b []byte) *Decoder { return &Decoder{buf: b} }

// Position returns the number of bytes consumed so far.
func (d *Decoder) Position() int { return d.pos }

// More reports whether any input remains.
func (d *Decoder) More() bool { return d.pos < len(d.buf) }

// Rest consumes and returns all remaining input.
func (d *Decoder) Rest() []byte {
	r := d.buf[d.pos:]
	d.pos = len(d.buf)
	return r
}

// Finish errors unless the input has been fully consumed.
func (d *Decoder) Finish() error {
	if d.More() {
		return fmt.Errorf("%w: %d trailing bytes", ErrDecode, len(d.buf)-d.pos)
	}
	return nil
}

// Peek returns the next initial byte without consuming it.
func (d *Decoder) Peek() (byte, error) {
	if !d.More() {
		return 0, ErrTruncated
	}
	return d.buf[d.pos], nil
}

func (d *Decoder) readByte() (byte, error) {
	if !d.More() {
		return 0, ErrTruncated
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *Decoder) readSlice(n uint64) ([]byte, error) {
	if n > uint64(len(d.buf)-d.pos) {
		return nil, ErrTruncated
	}
	s := d.buf[d.pos : d.pos+int(n)]
	d.pos += int(n)
	return s, nil
}

// readHead decodes a head of the expected major type, rejecting indefinite
// lengths and non-minimal arguments.
func (d *Decoder) readHead(major byte) (uint64, error) {
	ib, err := d.readByte()
	if err != nil {
		return 0, err
	}
	if MajorType(ib) != major {
		return 0, ErrWrongType
	}
	info := AddInfo(ib)
	switch {
	case info < oneByteAdditional:
		return uint64(info), nil
	case info == oneByteAdditional:
		b, err := d.readByte()
		if err != nil {
			return 0, err
		}
		if b < 0x18 {
			return 0, ErrNonCanonical
		}
		return uint64(b), nil
	case info == twoBytesAdditional:
		s, err := d.readSlice(2)
		if err != nil {
			return 0, err
		}
		arg := uint64(s[0])<<8 | uint64(s[1])
		if arg <= 0xff {
			return 0, ErrNonCanonical
		}
		return arg, nil
	case info == fourBytesAdditional:
		s, err := d.readSlice(4)
		if err != nil {
			return 0, err
		}
		arg := uint64(s[0])<<24 | uint64(s[1])<<16 | uint64(s[2])<<8 | uint64(s[3])
		if arg <= 0xffff {
			return 0, ErrNonCanonical
		}
		return arg, nil
	case info == eightBytesAdditional:
		s, err := d.readSlice(8)
		if err != nil {
			return 0, err
		}
		var arg uint64
		for _, b := range s {
			arg = arg<<8 | uint64(b)
		}
		if arg <= 0xffffffff {
			return 0, ErrNonCanonical
		}
		return arg, nil
	default:
		return 0, fmt.Errorf("%w: reserved or indefinite-length head", ErrDecode)
	}
}

// Uint decodes an unsigned integer.
func (d *Decoder) Uint() (uint64, error) { return d.readHead(MajorUnsignedInt) }

// Int decodes a signed integer.
func (d *Decoder) Int() (int64, error) {
	ib, err := d.Peek()
	if err != nil {
		return 0, err
	}
	switch MajorType(ib) {
	case MajorUnsignedInt:
		arg, err := d.readHead(MajorUnsignedInt)
		if err != nil {
			return 0, err
		}
		if arg > 1<<63-1 {
			return 0, ErrTooLong
		}
		return int64(arg), nil
	case MajorNegativeInt:
		arg, err := d.readHead(MajorNegativeInt)
		if err != nil {
			return 0, err
		}
		if arg > 1<<63-1 {
			return 0, ErrTooLong
		}
		return -1 - int64(arg), nil
	default:
		return 0, ErrWrongType
	}
}

// Bytes decodes a byte string.
func (d *Decoder) Bytes() ([]byte, error) {
	n, err := d.readHead(MajorByteString)
	if err != nil {
		return nil, err
	}
	return d.readSlice(n)
}

// BytesSized decodes a byte string and errors unless it has exactly the
// expected length.
func (d *Decoder) BytesSized(size int) ([]byte, error) {
	b, err := d.Bytes()
	if err != nil {
		return nil, err
	}
	if len(b) != size {
		return nil, fmt.Errorf("%w: byte string of %d bytes, expected %d", ErrDecode, len(b), size)
	}
	return b, nil
}

// Text decodes a text string.
func (d *Decoder) Text() (string, error) {
	n, err := d.readHead(MajorTextString)
	if err != nil {
		return "", err
	}
	s, err := d.readSlice(n)
	if err != nil {
		return "", err
	}
	return string(s), nil
}

// Array decodes an array head and returns the item count.
func (d *Decoder) Array() (int, error) {
	n, err := d.readHead(MajorArray)
	if err != nil {
		return 0, err
	}
	if n > uint64(len(d.buf)-d.pos) {
		return 0, ErrTruncated
	}
	return int(n), nil
}

// Map decodes a map head and returns the pair count.
func (d *Decoder) Map() (int, error) {
	n, err := d.readHead(MajorMap)
	if err != nil {
		return 0, err
	}
	if n > uint64(len(d.buf)-d.pos)/2 {
		return 0, ErrTruncated
	}
	return int(n), nil
}

// Skip consumes one complete item of any supported type.
func (d *Decoder) Skip() error {
	ib, err := d.Peek()
	if err != nil {
		return err
	}
	switch MajorType(ib) {
	case MajorUnsignedInt, MajorNegativeInt:
		_, err := d.readHead(MajorType(ib))
		return err
	case MajorByteString:
		_, err := d.Bytes()
		return err
	case MajorTextString:
		_, err := d.Text()
		return err
	case MajorArray:
		n, err := d.Array()
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			if err := d.Skip(); err != nil {
				return err
			}
		}
		return nil
	case MajorMap:
		n, err := d.Map()
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			if err := d.Skip(); err != nil {
				return err
			}
			if err := d.Skip(); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: major type %d", ErrWrongType, ib>>5)
	}
}
