// Copyright 2015-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package sftp

import (
	"encoding/binary"
	"errors"
)

// ErrTruncated is returned when a frame ends before a field it promised.
var ErrTruncated = errors.New("truncated frame")

// Buffer is a cursor over one frame's payload. Put* methods append to the
// tail, the accessors consume from the head. All integers are network byte
// order, strings are a u32 length prefix followed by that many bytes.
type Buffer struct {
	b   []byte
	off int
}

func NewBuffer(b []byte) *Buffer {
	return &Buffer{b: b}
}

// Bytes returns the encoded contents, including anything not yet consumed.
func (b *Buffer) Bytes() []byte {
	return b.b
}

// Left returns the number of unconsumed bytes.
func (b *Buffer) Left() int {
	return len(b.b) - b.off
}

func (b *Buffer) PutU8(v uint8) {
	b.b = append(b.b, v)
}

func (b *Buffer) PutU32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.b = append(b.b, tmp[:]...)
}

func (b *Buffer) PutU64(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	b.b = append(b.b, tmp[:]...)
}

// PutBytes appends raw bytes with no length prefix.
func (b *Buffer) PutBytes(v []byte) {
	b.b = append(b.b, v...)
}

// PutString appends a length-prefixed byte string.
func (b *Buffer) PutString(v []byte) {
	b.PutU32(uint32(len(v)))
	b.b = append(b.b, v...)
}

// PutPath appends a path. The wire is UTF-8; Go strings already are, so this
// is PutString without a conversion step.
func (b *Buffer) PutPath(v string) {
	b.PutString([]byte(v))
}

func (b *Buffer) U8() (uint8, error) {
	if b.Left() < 1 {
		return 0, ErrTruncated
	}
	v := b.b[b.off]
	b.off++
	return v, nil
}

func (b *Buffer) U32() (uint32, error) {
	if b.Left() < 4 {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint32(b.b[b.off:])
	b.off += 4
	return v, nil
}

func (b *Buffer) U64() (uint64, error) {
	if b.Left() < 8 {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint64(b.b[b.off:])
	b.off += 8
	return v, nil
}

// String consumes a length-prefixed byte string. The returned slice aliases
// the frame; callers that keep it past the next frame read must copy.
func (b *Buffer) String() ([]byte, error) {
	n, err := b.U32()
	if err != nil {
		return nil, err
	}
	if uint32(b.Left()) < n {
		return nil, ErrTruncated
	}
	v := b.b[b.off : b.off+int(n)]
	b.off += int(n)
	return v, nil
}

// Path consumes a path string.
func (b *Buffer) Path() (string, error) {
	v, err := b.String()
	if err != nil {
		return "", err
	}
	return string(v), nil
}
