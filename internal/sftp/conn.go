// Copyright 2015-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package sftp

import (
	"encoding/binary"
	"io"
	"sync"

	log "github.com/sandia-minimega/minisftp/pkg/minilog"
)

// Headroom on top of the transfer buffer size when sanity checking inbound
// frame lengths. A DATA frame carries kind, id, and a string header along
// with the payload; anything much bigger than that is a desynced stream.
const frameHeadroom = 1024

// conn owns the two byte streams to the server. Reads are only ever done by
// one goroutine at a time (the request engine's recv contract); writes can
// come from transfer drivers concurrently and are serialized by sendLock.
type conn struct {
	in  io.Reader
	out io.Writer

	sendLock sync.Mutex // serializes writes to out

	idLock sync.Mutex
	lastID uint32

	maxFrame uint32

	// resp is the one live response frame; it is invalidated by the next
	// recv. respID is the id parsed from it (0 for VERSION).
	resp   *Buffer
	respID uint32
}

func newConn(in io.Reader, out io.Writer, bufferSize uint32) *conn {
	return &conn{
		in:       in,
		out:      out,
		maxFrame: bufferSize + frameHeadroom,
	}
}

// nextID allocates a request id. Ids are monotonic and skip 0, which the
// transfer slot tables use to mean "free".
func (c *conn) nextID() uint32 {
	c.idLock.Lock()
	defer c.idLock.Unlock()

	c.lastID++
	if c.lastID == 0 {
		c.lastID++
	}
	return c.lastID
}

// writeFrame sends one length-prefixed frame. The prefix and body go out in
// a single Write so concurrent senders cannot interleave.
func (c *conn) writeFrame(body []byte) error {
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)

	c.sendLock.Lock()
	defer c.sendLock.Unlock()

	if _, err := c.out.Write(frame); err != nil {
		return fatalf("writing to server: %v", err)
	}
	return nil
}

// send emits `u8 kind, u32 id, payload`.
func (c *conn) send(kind uint8, id uint32, payload []byte) error {
	b := NewBuffer(make([]byte, 0, 5+len(payload)))
	b.PutU8(kind)
	b.PutU32(id)
	b.PutBytes(payload)

	log.Debug("send %v id %v (%v byte payload)", packetName(kind), id, len(payload))

	return c.writeFrame(b.Bytes())
}

// sendInit emits the one id-less request, SSH_FXP_INIT.
func (c *conn) sendInit(version uint32) error {
	b := NewBuffer(make([]byte, 0, 5))
	b.PutU8(SSH_FXP_INIT)
	b.PutU32(version)

	log.Debug("send INIT version %v", version)

	return c.writeFrame(b.Bytes())
}

// readFrame pulls the next frame off the stream, replacing the current
// response buffer. Short reads are fatal; the protocol has no way to
// resynchronize.
func (c *conn) readFrame() error {
	var lenbuf [4]byte
	if _, err := io.ReadFull(c.in, lenbuf[:]); err != nil {
		return fatalf("unexpected EOF from server while reading length: %v", err)
	}

	n := binary.BigEndian.Uint32(lenbuf[:])
	if n == 0 || n > c.maxFrame {
		return fatalf("implausible frame length %v from server", n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(c.in, body); err != nil {
		return fatalf("unexpected EOF from server while reading frame: %v", err)
	}

	c.resp = NewBuffer(body)
	return nil
}

// recv blocks for one response frame and hands back its kind and a buffer
// positioned just past the id.
//
// expectedID 0 means "any id" (the transfer engines match ids themselves
// via c.respID). A nonzero expectedID that does not match is fatal; the
// stream is out of sync and nothing sensible can follow.
//
// expectedKind 0 means "any kind". If a specific kind was expected and a
// STATUS shows up instead, its code is decoded and surfaced as a
// recoverable *StatusError; any other mismatch is fatal.
func (c *conn) recv(expectedKind uint8, expectedID uint32) (uint8, *Buffer, error) {
	if err := c.readFrame(); err != nil {
		return 0, nil, err
	}

	kind, err := c.resp.U8()
	if err != nil {
		return 0, nil, fatalf("empty frame from server")
	}

	c.respID = 0
	if kind != SSH_FXP_VERSION {
		if c.respID, err = c.resp.U32(); err != nil {
			return 0, nil, fatalf("frame too short for id: %v", err)
		}
		if expectedID != 0 && c.respID != expectedID {
			return 0, nil, fatalf("wrong id in response (want %v got %v)", expectedID, c.respID)
		}
	}

	log.Debug("recv %v id %v (%v bytes left)", packetName(kind), c.respID, c.resp.Left())

	if expectedKind != 0 && kind != expectedKind {
		if kind == SSH_FXP_STATUS {
			if err := decodeStatus(c.resp); err != nil {
				return kind, c.resp, err
			}
			// an OK status where we wanted data is still a broken server
			return kind, c.resp, fatalf("server sent OK status instead of %v", packetName(expectedKind))
		}
		return kind, c.resp, fatalf("expected %v response, got %v", packetName(expectedKind), packetName(kind))
	}

	return kind, c.resp, nil
}
