// Copyright 2015-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package sftp

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"testing"
)

// fakeServer scripts the far end of a session over in-memory pipes. Script
// helpers panic on protocol surprises; run converts that into a test
// failure and tears the pipes down so the client side unblocks.
type fakeServer struct {
	t   *testing.T
	in  *io.PipeReader // client -> server
	out *io.PipeWriter // server -> client

	wg sync.WaitGroup
}

// newFakeServer returns the server and the client's two stream ends.
func newFakeServer(t *testing.T) (*fakeServer, io.Reader, io.WriteCloser) {
	clientIn, serverOut := io.Pipe()
	serverIn, clientOut := io.Pipe()

	s := &fakeServer{t: t, in: serverIn, out: serverOut}
	return s, clientIn, clientOut
}

// run executes the script in the background. wait() joins it.
func (s *fakeServer) run(script func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.in.Close()
		defer s.out.Close()
		defer func() {
			if r := recover(); r != nil {
				s.t.Errorf("fake server: %v", r)
			}
		}()

		script()
	}()
}

func (s *fakeServer) wait() {
	s.wg.Wait()
}

// readFrame returns the next request's kind, id, and remaining payload.
// INIT has no id; its payload starts at the version word.
func (s *fakeServer) readFrame() (uint8, uint32, *Buffer) {
	var lenbuf [4]byte
	if _, err := io.ReadFull(s.in, lenbuf[:]); err != nil {
		panic(fmt.Sprintf("reading frame length: %v", err))
	}
	body := make([]byte, binary.BigEndian.Uint32(lenbuf[:]))
	if _, err := io.ReadFull(s.in, body); err != nil {
		panic(fmt.Sprintf("reading frame body: %v", err))
	}

	b := NewBuffer(body)
	kind, err := b.U8()
	if err != nil {
		panic("empty frame")
	}

	var id uint32
	if kind != SSH_FXP_INIT {
		if id, err = b.U32(); err != nil {
			panic("frame too short for id")
		}
	}
	return kind, id, b
}

// expect reads a frame and asserts its kind.
func (s *fakeServer) expect(kind uint8) (uint32, *Buffer) {
	gotKind, id, b := s.readFrame()
	if gotKind != kind {
		panic(fmt.Sprintf("expected %v from client, got %v", packetName(kind), packetName(gotKind)))
	}
	return id, b
}

func (s *fakeServer) writeFrame(body []byte) {
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)
	if _, err := s.out.Write(frame); err != nil {
		panic(fmt.Sprintf("writing frame: %v", err))
	}
}

// reply sends `kind, id` followed by whatever the builder adds.
func (s *fakeServer) reply(kind uint8, id uint32, build func(b *Buffer)) {
	b := NewBuffer(nil)
	b.PutU8(kind)
	b.PutU32(id)
	if build != nil {
		build(b)
	}
	s.writeFrame(b.Bytes())
}

func (s *fakeServer) sendStatus(id, code uint32, msg string) {
	s.reply(SSH_FXP_STATUS, id, func(b *Buffer) {
		b.PutU32(code)
		b.PutString([]byte(msg))
		b.PutString([]byte("en"))
	})
}

func (s *fakeServer) sendHandle(id uint32, handle string) {
	s.reply(SSH_FXP_HANDLE, id, func(b *Buffer) {
		b.PutString([]byte(handle))
	})
}

func (s *fakeServer) sendName(id uint32, paths ...string) {
	s.reply(SSH_FXP_NAME, id, func(b *Buffer) {
		b.PutU32(uint32(len(paths)))
		for _, p := range paths {
			b.PutPath(p)
			b.PutPath(p) // v3 longname
			b.PutU32(0)  // empty attrs
		}
	})
}

// extension is a (name, data) pair trailing a VERSION reply.
type extension struct {
	name string
	data []byte
}

// sendVersion answers the INIT that negotiation opens with.
func (s *fakeServer) sendVersion(version uint32, exts ...extension) {
	_, b := s.expect(SSH_FXP_INIT)
	if v, err := b.U32(); err != nil || v < MIN_VERSION {
		panic(fmt.Sprintf("bad INIT version %v, %v", v, err))
	}

	vb := NewBuffer(nil)
	vb.PutU8(SSH_FXP_VERSION)
	vb.PutU32(version)
	for _, e := range exts {
		vb.PutString([]byte(e.name))
		vb.PutString(e.data)
	}
	s.writeFrame(vb.Bytes())
}

// connectFake negotiates a client against a scripted server. The script
// runs after the VERSION exchange.
func connectFake(t *testing.T, version uint32, config Config, exts []extension, script func(s *fakeServer)) (*Client, *fakeServer) {
	s, in, out := newFakeServer(t)

	s.run(func() {
		s.sendVersion(version, exts...)
		if script != nil {
			script(s)
		}
	})

	c, err := Connect(in, out, config)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	return c, s
}

func testConfig() Config {
	return Config{
		Version:     6,
		BufferSize:  32768,
		MaxInFlight: 4,
	}
}
