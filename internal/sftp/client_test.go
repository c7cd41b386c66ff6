// Copyright 2015-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package sftp

import (
	"fmt"
	"testing"
)

// Negotiation picks min(client, server) and honors the newline extension.
func TestNegotiateDowngrade(t *testing.T) {
	c, s := connectFake(t, 3, testConfig(), []extension{{"newline", []byte("\n")}}, nil)
	defer s.wait()

	if c.Version != 3 {
		t.Fatalf("version %v, want 3", c.Version)
	}
	if c.Newline != "\n" {
		t.Fatalf("newline %q, want \\n", c.Newline)
	}
}

func TestNegotiateDefaults(t *testing.T) {
	c, s := connectFake(t, 6, testConfig(), nil, nil)
	defer s.wait()

	if c.Version != 6 {
		t.Fatalf("version %v, want 6", c.Version)
	}
	if c.Newline != "\r\n" {
		t.Fatalf("newline %q, want \\r\\n", c.Newline)
	}
}

func TestNegotiateVendorID(t *testing.T) {
	vendor := NewBuffer(nil)
	vendor.PutPath("ACME")
	vendor.PutPath("acme-sftpd")
	vendor.PutPath("1.2.3")
	vendor.PutU64(42)

	exts := []extension{
		{"vendor-id", vendor.Bytes()},
		{"versions", []byte("3,4,5,6")},
		{"unknown-ext", []byte("ignored")},
	}

	c, s := connectFake(t, 6, testConfig(), exts, nil)
	defer s.wait()

	if c.Vendor == nil || c.Vendor.Name != "acme-sftpd" || c.Vendor.Build != 42 {
		t.Fatalf("vendor %+v", c.Vendor)
	}
	if c.ServerVersions != "3,4,5,6" {
		t.Fatalf("versions %q", c.ServerVersions)
	}
}

// An empty or self-overlapping newline sequence is unusable.
func TestNegotiateBadNewline(t *testing.T) {
	for _, newline := range []string{"", "aa"} {
		s, in, out := newFakeServer(t)
		s.run(func() {
			s.sendVersion(6, extension{"newline", []byte(newline)})
		})

		if _, err := Connect(in, out, testConfig()); err == nil {
			t.Errorf("newline %q: expected connect to fail", newline)
		}
		s.wait()
	}
}

// A tiny buffer gets raised so a PUT can always encode one newline.
func TestNegotiateBufferFloor(t *testing.T) {
	config := testConfig()
	config.BufferSize = 1

	c, s := connectFake(t, 6, config, []extension{{"newline", []byte("\r\n")}}, nil)
	defer s.wait()

	if c.BufferSize < 2 {
		t.Fatalf("buffer size %v, want >= len(newline)", c.BufferSize)
	}
}

func TestResolve(t *testing.T) {
	c := &Client{Cwd: "/home/user"}

	if got := c.Resolve("/abs/path"); got != "/abs/path" {
		t.Fatalf("got %q", got)
	}
	if got := c.Resolve("rel"); got != "/home/user/rel" {
		t.Fatalf("got %q", got)
	}
}

func TestRealpath(t *testing.T) {
	c, s := connectFake(t, 3, testConfig(), nil, func(s *fakeServer) {
		id, b := s.expect(SSH_FXP_REALPATH)
		if path, _ := b.Path(); path != "." {
			panic("wrong path: " + path)
		}
		s.sendName(id, "/home/user")
	})
	defer s.wait()

	got, err := c.Realpath(".")
	if err != nil {
		t.Fatalf("realpath: %v", err)
	}
	if got != "/home/user" {
		t.Fatalf("got %q", got)
	}
}

func TestReaddirV3(t *testing.T) {
	c, s := connectFake(t, 3, testConfig(), nil, func(s *fakeServer) {
		id, _ := s.expect(SSH_FXP_OPENDIR)
		s.sendHandle(id, "dir1")

		id, _ = s.expect(SSH_FXP_READDIR)
		s.reply(SSH_FXP_NAME, id, func(b *Buffer) {
			b.PutU32(2)

			b.PutPath("a")
			b.PutPath("-rw-r--r-- 1 u g 3 Jan  1 00:00 a")
			b.PutU32(SSH_FILEXFER_ATTR_SIZE)
			b.PutU64(3)

			b.PutPath("b")
			b.PutPath("-rw-r--r-- 1 u g 4 Jan  1 00:00 b")
			b.PutU32(SSH_FILEXFER_ATTR_SIZE)
			b.PutU64(4)
		})

		id, _ = s.expect(SSH_FXP_READDIR)
		s.sendStatus(id, SSH_FX_EOF, "eof")

		id, _ = s.expect(SSH_FXP_CLOSE)
		s.sendStatus(id, SSH_FX_OK, "")
	})
	defer s.wait()

	h, err := c.Opendir("/dir")
	if err != nil {
		t.Fatalf("opendir: %v", err)
	}

	entries, err := c.Readdir(h)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 2 || entries[0].Name != "a" || entries[1].Name != "b" {
		t.Fatalf("entries %+v", entries)
	}
	if entries[0].Longname == "" {
		t.Fatal("v3 readdir should carry longnames")
	}
	if entries[1].Size != 4 {
		t.Fatalf("size %v", entries[1].Size)
	}

	entries, err = c.Readdir(h)
	if err != nil {
		t.Fatalf("readdir at eof: %v", err)
	}
	if entries != nil {
		t.Fatalf("expected eof, got %+v", entries)
	}

	if err := c.Close(h); err != nil {
		t.Fatalf("close: %v", err)
	}
}

// Every v5/v6 open must either map onto documented v3 pflags or refuse;
// nothing gets silently dropped.
func TestOpenEmulation(t *testing.T) {
	tests := []struct {
		name   string
		access uint32
		flags  uint32
		want   uint32 // expected pflags
		fail   bool
	}{
		{"read existing", ACE4_READ_DATA, SSH_FXF_OPEN_EXISTING, SSH_FXF_READ, false},
		{"write create new", ACE4_WRITE_DATA, SSH_FXF_CREATE_NEW,
			SSH_FXF_WRITE | SSH_FXF_CREAT | SSH_FXF_EXCL, false},
		{"create truncate", ACE4_READ_DATA | ACE4_WRITE_DATA, SSH_FXF_CREATE_TRUNCATE,
			SSH_FXF_READ | SSH_FXF_WRITE | SSH_FXF_CREAT | SSH_FXF_TRUNC, false},
		{"open or create", ACE4_WRITE_DATA, SSH_FXF_OPEN_OR_CREATE,
			SSH_FXF_WRITE | SSH_FXF_CREAT, false},
		{"append", ACE4_WRITE_DATA, SSH_FXF_OPEN_OR_CREATE | SSH_FXF_APPEND_DATA,
			SSH_FXF_WRITE | SSH_FXF_CREAT | SSH_FXF_APPEND, false},
		{"append atomic", ACE4_WRITE_DATA, SSH_FXF_OPEN_OR_CREATE | SSH_FXF_APPEND_DATA_ATOMIC,
			SSH_FXF_WRITE | SSH_FXF_CREAT | SSH_FXF_APPEND, false},
		{"truncate existing", ACE4_WRITE_DATA, SSH_FXF_TRUNCATE_EXISTING, 0, true},
		{"text on v3", ACE4_READ_DATA, SSH_FXF_OPEN_EXISTING | SSH_FXF_TEXT_MODE, 0, true},
		{"future flag", ACE4_READ_DATA, SSH_FXF_OPEN_EXISTING | 0x1000, 0, true},
	}

	c := &Client{Version: 3}
	for _, test := range tests {
		pflags, err := c.emulateOpen(test.access, test.flags)
		if test.fail {
			if err == nil {
				t.Errorf("%v: expected emulation error", test.name)
				continue
			}
			if _, ok := err.(*EmulationError); !ok {
				t.Errorf("%v: got %T, want EmulationError", test.name, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%v: %v", test.name, err)
			continue
		}
		if pflags != test.want {
			t.Errorf("%v: pflags %#x, want %#x", test.name, pflags, test.want)
		}
	}

	// v4 passes text mode through
	c = &Client{Version: 4}
	pflags, err := c.emulateOpen(ACE4_READ_DATA, SSH_FXF_OPEN_EXISTING|SSH_FXF_TEXT_MODE)
	if err != nil {
		t.Fatalf("v4 text: %v", err)
	}
	if pflags != SSH_FXF_READ|SSH_FXF_TEXT {
		t.Fatalf("v4 text: pflags %#x", pflags)
	}
}

func TestOpenV3Wire(t *testing.T) {
	c, s := connectFake(t, 3, testConfig(), nil, func(s *fakeServer) {
		id, b := s.expect(SSH_FXP_OPEN)
		path, _ := b.Path()
		pflags, _ := b.U32()
		if path != "/f" || pflags != SSH_FXF_READ {
			panic("bad v3 open")
		}
		s.sendHandle(id, "h1")
	})
	defer s.wait()

	h, err := c.Open("/f", ACE4_READ_DATA, SSH_FXF_OPEN_EXISTING, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(h) != "h1" {
		t.Fatalf("handle %q", h)
	}
}

func TestOpenV6Wire(t *testing.T) {
	c, s := connectFake(t, 6, testConfig(), nil, func(s *fakeServer) {
		id, b := s.expect(SSH_FXP_OPEN)
		b.Path()
		access, _ := b.U32()
		flags, _ := b.U32()
		if access != ACE4_WRITE_DATA || flags != SSH_FXF_CREATE_TRUNCATE {
			panic("bad v6 open")
		}
		s.sendHandle(id, "h2")
	})
	defer s.wait()

	if _, err := c.Open("/f", ACE4_WRITE_DATA, SSH_FXF_CREATE_TRUNCATE, nil); err != nil {
		t.Fatalf("open: %v", err)
	}
}

// Rename flags that v3 cannot express fail locally without a frame; the
// next request on the wire proves nothing leaked out.
func TestRenameEmulationNoFrame(t *testing.T) {
	c, s := connectFake(t, 3, testConfig(), nil, func(s *fakeServer) {
		id, _ := s.expect(SSH_FXP_REALPATH)
		s.sendName(id, "/x")
	})
	defer s.wait()
	c.Cwd = "/"

	err := c.Rename("x", "y", SSH_FXF_RENAME_OVERWRITE)
	if err == nil {
		t.Fatal("expected emulation error")
	}
	if _, ok := err.(*EmulationError); !ok {
		t.Fatalf("got %T: %v", err, err)
	}

	// atomic alone is implied by v3 rename, also no flags word on the wire
	if _, err := c.Realpath("x"); err != nil {
		t.Fatalf("realpath after refused rename: %v", err)
	}
}

func TestRenameV5SendsFlags(t *testing.T) {
	c, s := connectFake(t, 5, testConfig(), nil, func(s *fakeServer) {
		id, b := s.expect(SSH_FXP_RENAME)
		b.Path()
		b.Path()
		flags, err := b.U32()
		if err != nil || flags != SSH_FXF_RENAME_OVERWRITE {
			panic(fmt.Sprintf("bad rename flags %v %v", flags, err))
		}
		s.sendStatus(id, SSH_FX_OK, "")
	})
	defer s.wait()
	c.Cwd = "/"

	if err := c.Rename("x", "y", SSH_FXF_RENAME_OVERWRITE); err != nil {
		t.Fatalf("rename: %v", err)
	}
}

// The reference v3 server takes SYMLINK operands backwards; the quirk flag
// matches it.
func TestSymlinkQuirkOperandOrder(t *testing.T) {
	config := testConfig()
	config.QuirkReverseSymlink = true

	c, s := connectFake(t, 3, config, nil, func(s *fakeServer) {
		id, b := s.expect(SSH_FXP_SYMLINK)
		first, _ := b.Path()
		second, _ := b.Path()
		if first != "a" || second != "/home/b" {
			panic("quirk order wrong: " + first + ", " + second)
		}
		s.sendStatus(id, SSH_FX_OK, "")
	})
	defer s.wait()
	c.Cwd = "/home"

	if err := c.Link("a", "b", true); err != nil {
		t.Fatalf("symlink: %v", err)
	}
}

func TestSymlinkNormalOperandOrder(t *testing.T) {
	c, s := connectFake(t, 3, testConfig(), nil, func(s *fakeServer) {
		id, b := s.expect(SSH_FXP_SYMLINK)
		first, _ := b.Path()
		second, _ := b.Path()
		if first != "/home/b" || second != "a" {
			panic("order wrong: " + first + ", " + second)
		}
		s.sendStatus(id, SSH_FX_OK, "")
	})
	defer s.wait()
	c.Cwd = "/home"

	if err := c.Link("a", "b", true); err != nil {
		t.Fatalf("symlink: %v", err)
	}
}

func TestHardLink(t *testing.T) {
	// refused below v6
	c3 := &Client{Version: 5}
	if err := c3.Link("a", "b", false); err == nil {
		t.Fatal("expected hard link refusal on v5")
	}

	c, s := connectFake(t, 6, testConfig(), nil, func(s *fakeServer) {
		id, b := s.expect(SSH_FXP_LINK)
		linkpath, _ := b.Path()
		target, _ := b.Path()
		sym, _ := b.U8()
		if linkpath != "/b" || target != "/a" || sym != 0 {
			panic("bad LINK frame")
		}
		s.sendStatus(id, SSH_FX_OK, "")
	})
	defer s.wait()
	c.Cwd = "/"

	if err := c.Link("a", "b", false); err != nil {
		t.Fatalf("link: %v", err)
	}
}

func TestSpaceAvailable(t *testing.T) {
	c, s := connectFake(t, 6, testConfig(), nil, func(s *fakeServer) {
		id, b := s.expect(SSH_FXP_EXTENDED)
		name, _ := b.Path()
		if name != "space-available" {
			panic("wrong extended request " + name)
		}
		s.reply(SSH_FXP_EXTENDED_REPLY, id, func(b *Buffer) {
			b.PutU64(1000)
			b.PutU64(900)
			b.PutU64(800)
			b.PutU64(700)
			b.PutU32(512)
		})
	})
	defer s.wait()
	c.Cwd = "/"

	sa, err := c.SpaceAvailable(".")
	if err != nil {
		t.Fatalf("space-available: %v", err)
	}
	if sa.BytesOnDevice != 1000 || sa.BytesPerAllocationUnit != 512 {
		t.Fatalf("got %+v", sa)
	}
}

func TestRemoteErrorKeepsSession(t *testing.T) {
	c, s := connectFake(t, 3, testConfig(), nil, func(s *fakeServer) {
		id, _ := s.expect(SSH_FXP_REMOVE)
		s.sendStatus(id, SSH_FX_NO_SUCH_FILE, "gone")

		id, _ = s.expect(SSH_FXP_REALPATH)
		s.sendName(id, "/still/alive")
	})
	defer s.wait()
	c.Cwd = "/"

	err := c.Remove("missing")
	var se *StatusError
	if !asStatus(err, &se) || se.Code != SSH_FX_NO_SUCH_FILE {
		t.Fatalf("got %v", err)
	}

	if _, err := c.Realpath("."); err != nil {
		t.Fatalf("session should continue after remote error: %v", err)
	}
}

func TestStatSendsFlagsOnV4Plus(t *testing.T) {
	c, s := connectFake(t, 4, testConfig(), nil, func(s *fakeServer) {
		id, b := s.expect(SSH_FXP_STAT)
		b.Path()
		if flags, err := b.U32(); err != nil || flags != 0xFFFFFFFF {
			panic("missing stat flags word")
		}
		s.reply(SSH_FXP_ATTRS, id, func(b *Buffer) {
			b.PutU32(SSH_FILEXFER_ATTR_SIZE)
			b.PutU8(SSH_FILEXFER_TYPE_REGULAR)
			b.PutU64(5)
		})
	})
	defer s.wait()
	c.Cwd = "/"

	attrs, err := c.Stat("f")
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !attrs.HasSize() || attrs.Size != 5 {
		t.Fatalf("attrs %+v", attrs)
	}
}
