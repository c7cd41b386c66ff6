// Copyright 2015-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package sftp

import (
	"bytes"
	"testing"
)

func TestRoundTripPrimitives(t *testing.T) {
	b := NewBuffer(nil)
	b.PutU8(0xab)
	b.PutU32(0xdeadbeef)
	b.PutU64(0x0123456789abcdef)
	b.PutString([]byte("hello"))
	b.PutPath("/some/path")

	if v, err := b.U8(); err != nil || v != 0xab {
		t.Fatalf("u8: got %v, %v", v, err)
	}
	if v, err := b.U32(); err != nil || v != 0xdeadbeef {
		t.Fatalf("u32: got %#x, %v", v, err)
	}
	if v, err := b.U64(); err != nil || v != 0x0123456789abcdef {
		t.Fatalf("u64: got %#x, %v", v, err)
	}
	if v, err := b.String(); err != nil || !bytes.Equal(v, []byte("hello")) {
		t.Fatalf("string: got %q, %v", v, err)
	}
	if v, err := b.Path(); err != nil || v != "/some/path" {
		t.Fatalf("path: got %q, %v", v, err)
	}
	if b.Left() != 0 {
		t.Fatalf("expected empty buffer, %v bytes left", b.Left())
	}
}

func TestNetworkByteOrder(t *testing.T) {
	b := NewBuffer(nil)
	b.PutU32(0x01020304)

	want := []byte{0x01, 0x02, 0x03, 0x04}
	if !bytes.Equal(b.Bytes(), want) {
		t.Fatalf("got %v, want %v", b.Bytes(), want)
	}
}

func TestTruncated(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		read func(*Buffer) error
	}{
		{"empty u8", nil, func(b *Buffer) error { _, err := b.U8(); return err }},
		{"short u32", []byte{1, 2, 3}, func(b *Buffer) error { _, err := b.U32(); return err }},
		{"short u64", []byte{1, 2, 3, 4, 5, 6, 7}, func(b *Buffer) error { _, err := b.U64(); return err }},
		{"string missing length", []byte{0, 0}, func(b *Buffer) error { _, err := b.String(); return err }},
		{"string short body", []byte{0, 0, 0, 5, 'h', 'i'}, func(b *Buffer) error { _, err := b.String(); return err }},
	}

	for _, test := range tests {
		b := NewBuffer(test.data)
		if err := test.read(b); err != ErrTruncated {
			t.Errorf("%v: got %v, want ErrTruncated", test.name, err)
		}
	}
}

func TestStringAdvancesCursor(t *testing.T) {
	b := NewBuffer(nil)
	b.PutString([]byte("abc"))
	b.PutU32(42)

	if _, err := b.String(); err != nil {
		t.Fatalf("string: %v", err)
	}
	if v, err := b.U32(); err != nil || v != 42 {
		t.Fatalf("u32 after string: got %v, %v", v, err)
	}
}
