// Copyright 2015-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package sftp

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	log "github.com/sandia-minimega/minisftp/pkg/minilog"
)

// ProgressFunc reports transfer progress. total is ^uint64(0) when the
// remote size is unknown; a call with an empty path clears the indicator.
// Called from the reaping thread, so keep it cheap.
type ProgressFunc func(path string, sofar, total uint64)

const unknownSize = ^uint64(0)

// xferSlot is one in-flight transfer request. id 0 means the slot is free;
// at any instant the set of nonzero ids is exactly the set of outstanding
// requests.
type xferSlot struct {
	id     uint32
	offset uint64 // GET: requested offset
	n      int    // PUT: bytes in this request
}

func findSlot(slots []xferSlot, id uint32) int {
	for i := range slots {
		if slots[i].id == id {
			return i
		}
	}
	return -1
}

func freeSlot(slots []xferSlot) int {
	return findSlot(slots, 0)
}

// getState is the shared record between the GET driver (issues READs) and
// the reaper (consumes replies). Everything here is guarded by mu; neither
// side holds mu across stream I/O.
type getState struct {
	mu           sync.Mutex
	respReceived *sync.Cond // signaled when a response is reaped
	reqSent      *sync.Cond // signaled when a request goes out

	handle      Handle
	slots       []xferSlot
	nextOffset  uint64
	outstanding int
	eof, failed bool
	fatal       error // fatal transport/protocol error, if any
	size        uint64
}

// getDriver keeps the request window full until EOF or failure.
func (c *Client) getDriver(s *getState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.eof && !s.failed {
		for s.outstanding < len(s.slots) && !s.eof && !s.failed {
			n := freeSlot(s.slots)

			id := c.conn.nextID()
			length := c.BufferSize
			if s.size != unknownSize && s.size-s.nextOffset <= uint64(c.BufferSize) {
				length = uint32(s.size - s.nextOffset)
				s.eof = true
			}

			b := NewBuffer(nil)
			b.PutString(s.handle)
			b.PutU64(s.nextOffset)
			b.PutU32(length)

			// Claim the slot before sending so the reaper can always
			// match the reply, then drop the lock for the send itself.
			s.slots[n] = xferSlot{id: id, offset: s.nextOffset}
			s.outstanding++
			s.nextOffset += uint64(length)
			s.reqSent.Signal()

			s.mu.Unlock()
			err := c.conn.send(SSH_FXP_READ, id, b.Bytes())
			s.mu.Lock()

			if err != nil {
				s.failed = true
				s.fatal = err
				s.reqSent.Signal()
				return
			}
		}
		s.respReceived.Wait()
	}
}

// Get downloads remote into local, writing through a temporary file that is
// renamed over the destination on success. Up to MaxInFlight READs are kept
// outstanding (one in text mode, where replies must be consumed in request
// order). Returns the number of payload bytes received.
func (c *Client) Get(remote, local string, preserve bool, progress ProgressFunc) (uint64, error) {
	tmp := local + ".new"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return 0, err
	}

	var trans *translator
	if c.TextMode {
		trans = newTranslator(f, c.Newline)
	}

	cleanupLocal := func() {
		f.Close()
		os.Remove(tmp)
	}

	h, err := c.Open(remote,
		ACE4_READ_DATA|ACE4_READ_ATTRIBUTES,
		uint32(SSH_FXF_OPEN_EXISTING)|textFlag(c.TextMode),
		nil)
	if err != nil {
		cleanupLocal()
		return 0, err
	}

	attrs, err := c.Fstat(h)
	if err != nil {
		if !IsFatal(err) {
			c.Close(h)
		}
		cleanupLocal()
		return 0, err
	}

	nslots := c.MaxInFlight
	if c.TextMode {
		// stream translation cannot reassemble out-of-order replies
		nslots = 1
	}

	s := &getState{
		handle: h,
		slots:  make([]xferSlot, nslots),
		size:   unknownSize,
	}
	s.respReceived = sync.NewCond(&s.mu)
	s.reqSent = sync.NewCond(&s.mu)
	if attrs.HasSize() {
		s.size = attrs.Size
	}

	started := time.Now()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.getDriver(s)
	}()

	var written uint64
	var opErr error

	s.mu.Lock()
	for {
		// keep reaping while requests are in flight; otherwise run until
		// the driver reaches EOF or something fails
		for s.outstanding == 0 && !s.eof && !s.failed {
			s.reqSent.Wait()
		}
		if s.outstanding == 0 {
			break
		}

		s.mu.Unlock()
		kind, resp, err := c.conn.recv(0, 0)
		s.mu.Lock()

		if err != nil {
			// only fatal errors come out of an any-kind recv
			s.failed = true
			s.fatal = err
			s.respReceived.Signal()
			break
		}

		s.outstanding--

		// after a failure, responses still have to come off the stream to
		// keep it in sync, but their contents no longer matter
		if s.failed {
			s.respReceived.Signal()
			continue
		}

		switch kind {
		case SSH_FXP_STATUS:
			// the request this answers is no longer outstanding
			if n := findSlot(s.slots, c.conn.respID); n >= 0 {
				s.slots[n].id = 0
			}

			st := decodeStatus(resp)
			var se *StatusError
			switch {
			case asStatus(st, &se) && se.Code == SSH_FX_EOF:
				s.eof = true
			case st != nil:
				s.failed = true
				if opErr == nil {
					opErr = st
				}
			default:
				s.failed = true
				s.fatal = fatalf("server sent OK status to READ")
			}
		case SSH_FXP_DATA:
			n := findSlot(s.slots, c.conn.respID)
			if n < 0 {
				s.failed = true
				s.fatal = fatalf("DATA reply for unknown id %v", c.conn.respID)
				break
			}
			data, derr := resp.String()
			if derr != nil {
				s.failed = true
				s.fatal = fatalf("truncated DATA frame: %v", derr)
				break
			}

			var werr error
			if trans != nil {
				_, werr = trans.Write(data)
			} else {
				_, werr = f.WriteAt(data, int64(s.slots[n].offset))
			}
			if werr != nil {
				s.failed = true
				if opErr == nil {
					opErr = fmt.Errorf("writing to %v: %v", tmp, werr)
				}
			}

			written += uint64(len(data))
			if progress != nil {
				progress(local, written, s.size)
			}
			s.slots[n].id = 0
		default:
			s.failed = true
			s.fatal = fatalf("unexpected response %v to READ", packetName(kind))
		}

		s.respReceived.Signal()
	}
	fatal := s.fatal
	failed := s.failed
	s.mu.Unlock()

	wg.Wait()

	if progress != nil {
		progress("", 0, 0)
	}

	if fatal != nil {
		cleanupLocal()
		return written, fatal
	}
	if failed {
		c.Close(h)
		cleanupLocal()
		if opErr == nil {
			opErr = fmt.Errorf("transfer failed")
		}
		return written, opErr
	}

	log.Info("got %v: %v bytes in %.1f seconds", remote, written, time.Since(started).Seconds())

	if err := c.Close(h); err != nil {
		cleanupLocal()
		return written, err
	}

	if trans != nil {
		if err := trans.Flush(); err != nil {
			cleanupLocal()
			return written, fmt.Errorf("writing to %v: %v", tmp, err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return written, fmt.Errorf("closing %v: %v", tmp, err)
	}

	if preserve {
		if err := preserveLocal(tmp, attrs); err != nil {
			os.Remove(tmp)
			return written, err
		}
	}

	if err := os.Rename(tmp, local); err != nil {
		os.Remove(tmp)
		return written, err
	}
	return written, nil
}

// preserveLocal applies remote permissions and times to the downloaded
// file. Size is already right by construction and ownership maps
// differently on each end, so neither is touched.
func preserveLocal(path string, attrs *Attrs) error {
	if attrs.HasPermissions() {
		if err := os.Chmod(path, os.FileMode(attrs.Permissions&0777)); err != nil {
			return err
		}
	}
	if attrs.Valid&SSH_FILEXFER_ATTR_ACMODTIME != 0 ||
		attrs.Valid&SSH_FILEXFER_ATTR_MODIFYTIME != 0 {
		atime := time.Unix(attrs.Atime.Sec, int64(attrs.Atime.Nsec))
		mtime := time.Unix(attrs.Mtime.Sec, int64(attrs.Mtime.Nsec))
		if attrs.Valid&SSH_FILEXFER_ATTR_ACCESSTIME == 0 {
			atime = mtime
		}
		if err := os.Chtimes(path, atime, mtime); err != nil {
			return err
		}
	}
	return nil
}

func textFlag(text bool) uint32 {
	if text {
		return SSH_FXF_TEXT_MODE
	}
	return 0
}

// putState is the shared record between the PUT driver (main thread,
// reading the local file and issuing WRITEs) and the reaper goroutine
// consuming STATUS replies.
type putState struct {
	mu             sync.Mutex
	driverModified *sync.Cond // signaled by the driver
	reaperModified *sync.Cond // signaled by the reaper

	slots       []xferSlot
	outstanding int
	finished    bool
	failed      bool
	firstErr    error
	fatal       error
	written     uint64
	total       uint64
	remote      string
	progress    ProgressFunc
}

// putReaper drains STATUS replies until the driver finishes and the window
// empties.
func (c *Client) putReaper(s *putState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.finished || s.outstanding > 0 {
		if s.outstanding == 0 {
			s.driverModified.Wait()
			continue
		}

		s.mu.Unlock()
		_, resp, err := c.conn.recv(SSH_FXP_STATUS, 0)
		s.mu.Lock()

		s.reaperModified.Signal()

		if err != nil {
			// an expected-STATUS recv only errors fatally
			s.failed = true
			s.fatal = err
			return
		}

		n := findSlot(s.slots, c.conn.respID)
		if n < 0 {
			s.failed = true
			s.fatal = fatalf("STATUS reply for unknown id %v", c.conn.respID)
			return
		}
		s.outstanding--

		st := decodeStatus(resp)
		if st == nil {
			s.written += uint64(s.slots[n].n)
			if s.progress != nil {
				s.progress(s.remote, s.written, s.total)
			}
		} else if !s.failed {
			// only the first error is worth reporting
			s.failed = true
			s.firstErr = st
		}
		s.slots[n].id = 0
	}

	if s.progress != nil {
		s.progress("", 0, 0)
	}
}

// Put uploads local to remote, keeping up to MaxInFlight WRITEs
// outstanding. In text mode each \n expands to the server newline sequence
// before it hits the wire. Returns the number of payload bytes acknowledged.
func (c *Client) Put(local, remote string, preserve bool, progress ProgressFunc) (uint64, error) {
	f, err := os.Open(local)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if fi.IsDir() {
		return 0, fmt.Errorf("%v is a directory", local)
	}

	total := unknownSize
	if fi.Mode().IsRegular() {
		total = uint64(fi.Size())
	}

	var attrs *Attrs
	if preserve {
		attrs = c.localAttrs(fi)
	}

	h, err := c.Open(remote,
		ACE4_WRITE_DATA|ACE4_WRITE_ATTRIBUTES,
		uint32(SSH_FXF_CREATE_TRUNCATE)|textFlag(c.TextMode),
		attrs)
	if err != nil {
		return 0, err
	}

	s := &putState{
		slots:    make([]xferSlot, c.MaxInFlight),
		total:    total,
		remote:   remote,
		progress: progress,
	}
	s.driverModified = sync.NewCond(&s.mu)
	s.reaperModified = sync.NewCond(&s.mu)

	started := time.Now()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.putReaper(s)
	}()

	var br *bufio.Reader
	if c.TextMode {
		br = bufio.NewReader(f)
	}

	buf := make([]byte, c.BufferSize)
	var offset uint64
	var localErr error
	eof := false

	s.mu.Lock()
	for !s.failed && !eof && localErr == nil {
		if s.outstanding >= len(s.slots) {
			s.reaperModified.Wait()
			continue
		}
		s.mu.Unlock()

		var n int
		var rerr error
		if br != nil {
			n, rerr = readTranslated(br, buf, c.Newline)
		} else {
			n, rerr = f.Read(buf)
			if rerr == io.EOF {
				rerr = nil
			}
		}

		if rerr != nil {
			localErr = fmt.Errorf("reading %v: %v", local, rerr)
			s.mu.Lock()
			break
		}
		if n == 0 {
			eof = true
			s.mu.Lock()
			break
		}

		id := c.conn.nextID()
		b := NewBuffer(nil)
		b.PutString(h)
		b.PutU64(offset)
		b.PutString(buf[:n])

		// claim the slot before the frame can be answered
		s.mu.Lock()
		i := freeSlot(s.slots)
		s.slots[i] = xferSlot{id: id, n: n}
		s.outstanding++
		offset += uint64(n)
		s.driverModified.Signal()
		s.mu.Unlock()

		if err := c.conn.send(SSH_FXP_WRITE, id, b.Bytes()); err != nil {
			s.mu.Lock()
			s.failed = true
			s.fatal = err
			break
		}

		s.mu.Lock()
	}
	s.finished = true
	s.driverModified.Signal()
	s.mu.Unlock()

	wg.Wait()

	s.mu.Lock()
	written, failed, firstErr, fatal := s.written, s.failed, s.firstErr, s.fatal
	s.mu.Unlock()

	if fatal != nil {
		return written, fatal
	}
	if failed || localErr != nil {
		// tidy up our mess
		c.Close(h)
		c.Remove(remote)
		if localErr != nil {
			return written, localErr
		}
		if firstErr == nil {
			firstErr = fmt.Errorf("transfer failed")
		}
		return written, firstErr
	}

	log.Info("put %v: %v bytes in %.1f seconds", local, written, time.Since(started).Seconds())

	if preserve {
		if err := c.Fsetstat(h, attrs); err != nil {
			c.Close(h)
			return written, err
		}
	}
	return written, c.Close(h)
}

// localAttrs builds the attributes to preserve from a local stat. Size
// comes from the upload itself and numeric uid/gid mean something different
// on the far end, so only permissions and times are carried.
func (c *Client) localAttrs(fi os.FileInfo) *Attrs {
	a := &Attrs{
		Permissions: uint32(fi.Mode().Perm()),
		Mtime:       TimeSpec{Sec: fi.ModTime().Unix()},
		Atime:       TimeSpec{Sec: fi.ModTime().Unix()},
	}
	if c.Version <= 3 {
		a.Valid = SSH_FILEXFER_ATTR_PERMISSIONS | SSH_FILEXFER_ATTR_ACMODTIME
	} else {
		a.Valid = SSH_FILEXFER_ATTR_PERMISSIONS |
			SSH_FILEXFER_ATTR_ACCESSTIME |
			SSH_FILEXFER_ATTR_MODIFYTIME
		a.Type = SSH_FILEXFER_TYPE_REGULAR
	}
	return a
}
