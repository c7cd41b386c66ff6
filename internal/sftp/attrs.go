// Copyright 2015-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package sftp

import (
	"fmt"
	"strconv"
	"time"
)

// TimeSpec is a protocol timestamp: seconds since the epoch plus optional
// nanoseconds (only meaningful when SSH_FILEXFER_ATTR_SUBSECOND_TIMES is
// set).
type TimeSpec struct {
	Sec  int64
	Nsec uint32
}

// Attrs is the superset of the per-version ATTRS structures. Valid says
// which fields are present; consult it before reading anything else.
type Attrs struct {
	Valid uint32
	Type  uint8

	Size           uint64
	AllocationSize uint64

	// v3 carries numeric ids, v4+ carries names.
	UID, GID     uint32
	Owner, Group string

	Permissions uint32

	Atime      TimeSpec
	CreateTime TimeSpec
	Mtime      TimeSpec
	Ctime      TimeSpec

	ACL              []byte
	AttribBits       uint32
	AttribBitsValid  uint32
	TextHint         uint8
	MimeType         string
	LinkCount        uint32
	UntranslatedName string

	// Filled in by listing code, never on the wire.
	Name     string
	Longname string
	Target   string
}

// HasSize etc. guard field access on the Valid bitmask.
func (a *Attrs) HasSize() bool        { return a.Valid&SSH_FILEXFER_ATTR_SIZE != 0 }
func (a *Attrs) HasUIDGID() bool      { return a.Valid&SSH_FILEXFER_ATTR_UIDGID != 0 }
func (a *Attrs) HasPermissions() bool { return a.Valid&SSH_FILEXFER_ATTR_PERMISSIONS != 0 }
func (a *Attrs) HasOwnerGroup() bool  { return a.Valid&SSH_FILEXFER_ATTR_OWNERGROUP != 0 }
func (a *Attrs) HasMtime() bool       { return a.Valid&SSH_FILEXFER_ATTR_MODIFYTIME != 0 }

// File type bits within the v3 permissions field.
const (
	s_IFMT   = 0170000
	s_IFIFO  = 0010000
	s_IFCHR  = 0020000
	s_IFDIR  = 0040000
	s_IFBLK  = 0060000
	s_IFREG  = 0100000
	s_IFLNK  = 0120000
	s_IFSOCK = 0140000
)

// typeFromPermissions infers the v4-style type byte from a v3 permissions
// field.
func typeFromPermissions(perms uint32) uint8 {
	switch perms & s_IFMT {
	case s_IFREG:
		return SSH_FILEXFER_TYPE_REGULAR
	case s_IFDIR:
		return SSH_FILEXFER_TYPE_DIRECTORY
	case s_IFLNK:
		return SSH_FILEXFER_TYPE_SYMLINK
	case s_IFSOCK:
		return SSH_FILEXFER_TYPE_SOCKET
	case s_IFCHR:
		return SSH_FILEXFER_TYPE_CHAR_DEVICE
	case s_IFBLK:
		return SSH_FILEXFER_TYPE_BLOCK_DEVICE
	case s_IFIFO:
		return SSH_FILEXFER_TYPE_FIFO
	default:
		return SSH_FILEXFER_TYPE_UNKNOWN
	}
}

// attrCodec parses and emits the ATTRS structure for one protocol version.
// The codec is picked once at negotiation and never changes.
type attrCodec interface {
	parse(b *Buffer) (*Attrs, error)
	emit(b *Buffer, a *Attrs)
}

func codecForVersion(version int) attrCodec {
	if version <= 3 {
		return v3Codec{}
	}
	return newerCodec{version}
}

// v3Codec speaks the original four-field ATTRS.
type v3Codec struct{}

func (v3Codec) parse(b *Buffer) (*Attrs, error) {
	a := &Attrs{}

	valid, err := b.U32()
	if err != nil {
		return nil, err
	}
	a.Valid = valid

	if valid&SSH_FILEXFER_ATTR_SIZE != 0 {
		if a.Size, err = b.U64(); err != nil {
			return nil, err
		}
	}
	if valid&SSH_FILEXFER_ATTR_UIDGID != 0 {
		if a.UID, err = b.U32(); err != nil {
			return nil, err
		}
		if a.GID, err = b.U32(); err != nil {
			return nil, err
		}
	}
	if valid&SSH_FILEXFER_ATTR_PERMISSIONS != 0 {
		if a.Permissions, err = b.U32(); err != nil {
			return nil, err
		}
		a.Type = typeFromPermissions(a.Permissions)
	} else {
		a.Type = SSH_FILEXFER_TYPE_UNKNOWN
	}
	if valid&SSH_FILEXFER_ATTR_ACMODTIME != 0 {
		atime, err := b.U32()
		if err != nil {
			return nil, err
		}
		mtime, err := b.U32()
		if err != nil {
			return nil, err
		}
		a.Atime = TimeSpec{Sec: int64(atime)}
		a.Mtime = TimeSpec{Sec: int64(mtime)}
	}
	if err := parseExtendedPairs(b, valid); err != nil {
		return nil, err
	}

	return a, nil
}

func (v3Codec) emit(b *Buffer, a *Attrs) {
	valid := a.Valid & (SSH_FILEXFER_ATTR_SIZE |
		SSH_FILEXFER_ATTR_UIDGID |
		SSH_FILEXFER_ATTR_PERMISSIONS |
		SSH_FILEXFER_ATTR_ACMODTIME)

	b.PutU32(valid)
	if valid&SSH_FILEXFER_ATTR_SIZE != 0 {
		b.PutU64(a.Size)
	}
	if valid&SSH_FILEXFER_ATTR_UIDGID != 0 {
		b.PutU32(a.UID)
		b.PutU32(a.GID)
	}
	if valid&SSH_FILEXFER_ATTR_PERMISSIONS != 0 {
		b.PutU32(a.Permissions)
	}
	if valid&SSH_FILEXFER_ATTR_ACMODTIME != 0 {
		b.PutU32(uint32(a.Atime.Sec))
		b.PutU32(uint32(a.Mtime.Sec))
	}
}

// newerCodec speaks the v4/v5/v6 ATTRS layouts; the three differ only in
// which valid bits they admit and in the v6 attrib-bits-valid word.
type newerCodec struct {
	version int
}

func (c newerCodec) mask() uint32 {
	mask := uint32(SSH_FILEXFER_ATTR_SIZE |
		SSH_FILEXFER_ATTR_OWNERGROUP |
		SSH_FILEXFER_ATTR_PERMISSIONS |
		SSH_FILEXFER_ATTR_ACCESSTIME |
		SSH_FILEXFER_ATTR_CREATETIME |
		SSH_FILEXFER_ATTR_MODIFYTIME |
		SSH_FILEXFER_ATTR_SUBSECOND_TIMES |
		SSH_FILEXFER_ATTR_ACL)
	if c.version >= 5 {
		mask |= SSH_FILEXFER_ATTR_BITS
	}
	if c.version >= 6 {
		mask |= SSH_FILEXFER_ATTR_ALLOCATION_SIZE |
			SSH_FILEXFER_ATTR_TEXT_HINT |
			SSH_FILEXFER_ATTR_MIME_TYPE |
			SSH_FILEXFER_ATTR_LINK_COUNT |
			SSH_FILEXFER_ATTR_UNTRANSLATED_NAME |
			SSH_FILEXFER_ATTR_CTIME
	}
	return mask
}

func (c newerCodec) parseTime(b *Buffer, valid uint32) (TimeSpec, error) {
	var ts TimeSpec

	sec, err := b.U64()
	if err != nil {
		return ts, err
	}
	ts.Sec = int64(sec)
	if valid&SSH_FILEXFER_ATTR_SUBSECOND_TIMES != 0 {
		if ts.Nsec, err = b.U32(); err != nil {
			return ts, err
		}
	}
	return ts, nil
}

func (c newerCodec) parse(b *Buffer) (*Attrs, error) {
	a := &Attrs{}

	valid, err := b.U32()
	if err != nil {
		return nil, err
	}
	a.Valid = valid

	if a.Type, err = b.U8(); err != nil {
		return nil, err
	}
	if valid&SSH_FILEXFER_ATTR_SIZE != 0 {
		if a.Size, err = b.U64(); err != nil {
			return nil, err
		}
	}
	if c.version >= 6 && valid&SSH_FILEXFER_ATTR_ALLOCATION_SIZE != 0 {
		if a.AllocationSize, err = b.U64(); err != nil {
			return nil, err
		}
	}
	if valid&SSH_FILEXFER_ATTR_OWNERGROUP != 0 {
		owner, err := b.Path()
		if err != nil {
			return nil, err
		}
		group, err := b.Path()
		if err != nil {
			return nil, err
		}
		a.Owner, a.Group = owner, group
	}
	if valid&SSH_FILEXFER_ATTR_PERMISSIONS != 0 {
		if a.Permissions, err = b.U32(); err != nil {
			return nil, err
		}
	}
	if valid&SSH_FILEXFER_ATTR_ACCESSTIME != 0 {
		if a.Atime, err = c.parseTime(b, valid); err != nil {
			return nil, err
		}
	}
	if valid&SSH_FILEXFER_ATTR_CREATETIME != 0 {
		if a.CreateTime, err = c.parseTime(b, valid); err != nil {
			return nil, err
		}
	}
	if valid&SSH_FILEXFER_ATTR_MODIFYTIME != 0 {
		if a.Mtime, err = c.parseTime(b, valid); err != nil {
			return nil, err
		}
	}
	if c.version >= 6 && valid&SSH_FILEXFER_ATTR_CTIME != 0 {
		if a.Ctime, err = c.parseTime(b, valid); err != nil {
			return nil, err
		}
	}
	if valid&SSH_FILEXFER_ATTR_ACL != 0 {
		acl, err := b.String()
		if err != nil {
			return nil, err
		}
		a.ACL = append([]byte(nil), acl...)
	}
	if c.version >= 5 && valid&SSH_FILEXFER_ATTR_BITS != 0 {
		if a.AttribBits, err = b.U32(); err != nil {
			return nil, err
		}
		if c.version >= 6 {
			if a.AttribBitsValid, err = b.U32(); err != nil {
				return nil, err
			}
		}
	}
	if c.version >= 6 && valid&SSH_FILEXFER_ATTR_TEXT_HINT != 0 {
		if a.TextHint, err = b.U8(); err != nil {
			return nil, err
		}
	}
	if c.version >= 6 && valid&SSH_FILEXFER_ATTR_MIME_TYPE != 0 {
		if a.MimeType, err = b.Path(); err != nil {
			return nil, err
		}
	}
	if c.version >= 6 && valid&SSH_FILEXFER_ATTR_LINK_COUNT != 0 {
		if a.LinkCount, err = b.U32(); err != nil {
			return nil, err
		}
	}
	if c.version >= 6 && valid&SSH_FILEXFER_ATTR_UNTRANSLATED_NAME != 0 {
		if a.UntranslatedName, err = b.Path(); err != nil {
			return nil, err
		}
	}
	if err := parseExtendedPairs(b, valid); err != nil {
		return nil, err
	}

	return a, nil
}

func (c newerCodec) emitTime(b *Buffer, valid uint32, ts TimeSpec) {
	b.PutU64(uint64(ts.Sec))
	if valid&SSH_FILEXFER_ATTR_SUBSECOND_TIMES != 0 {
		b.PutU32(ts.Nsec)
	}
}

func (c newerCodec) emit(b *Buffer, a *Attrs) {
	valid := a.Valid & c.mask()

	b.PutU32(valid)
	b.PutU8(a.Type)
	if valid&SSH_FILEXFER_ATTR_SIZE != 0 {
		b.PutU64(a.Size)
	}
	if c.version >= 6 && valid&SSH_FILEXFER_ATTR_ALLOCATION_SIZE != 0 {
		b.PutU64(a.AllocationSize)
	}
	if valid&SSH_FILEXFER_ATTR_OWNERGROUP != 0 {
		b.PutPath(a.Owner)
		b.PutPath(a.Group)
	}
	if valid&SSH_FILEXFER_ATTR_PERMISSIONS != 0 {
		b.PutU32(a.Permissions)
	}
	if valid&SSH_FILEXFER_ATTR_ACCESSTIME != 0 {
		c.emitTime(b, valid, a.Atime)
	}
	if valid&SSH_FILEXFER_ATTR_CREATETIME != 0 {
		c.emitTime(b, valid, a.CreateTime)
	}
	if valid&SSH_FILEXFER_ATTR_MODIFYTIME != 0 {
		c.emitTime(b, valid, a.Mtime)
	}
	if c.version >= 6 && valid&SSH_FILEXFER_ATTR_CTIME != 0 {
		c.emitTime(b, valid, a.Ctime)
	}
	if valid&SSH_FILEXFER_ATTR_ACL != 0 {
		b.PutString(a.ACL)
	}
	if c.version >= 5 && valid&SSH_FILEXFER_ATTR_BITS != 0 {
		b.PutU32(a.AttribBits)
		if c.version >= 6 {
			b.PutU32(a.AttribBitsValid)
		}
	}
	if c.version >= 6 && valid&SSH_FILEXFER_ATTR_TEXT_HINT != 0 {
		b.PutU8(a.TextHint)
	}
	if c.version >= 6 && valid&SSH_FILEXFER_ATTR_MIME_TYPE != 0 {
		b.PutPath(a.MimeType)
	}
	if c.version >= 6 && valid&SSH_FILEXFER_ATTR_LINK_COUNT != 0 {
		b.PutU32(a.LinkCount)
	}
	if c.version >= 6 && valid&SSH_FILEXFER_ATTR_UNTRANSLATED_NAME != 0 {
		b.PutPath(a.UntranslatedName)
	}
}

// parseExtendedPairs consumes trailing extended type/data pairs. We keep
// none of them; they only need to come off the wire so the cursor lands at
// the end of the structure.
func parseExtendedPairs(b *Buffer, valid uint32) error {
	if valid&SSH_FILEXFER_ATTR_EXTENDED == 0 {
		return nil
	}

	count, err := b.U32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		if _, err := b.String(); err != nil {
			return err
		}
		if _, err := b.String(); err != nil {
			return err
		}
	}
	return nil
}

var typeChars = map[uint8]byte{
	SSH_FILEXFER_TYPE_REGULAR:      '-',
	SSH_FILEXFER_TYPE_DIRECTORY:    'd',
	SSH_FILEXFER_TYPE_SYMLINK:      'l',
	SSH_FILEXFER_TYPE_SPECIAL:      's',
	SSH_FILEXFER_TYPE_UNKNOWN:      '?',
	SSH_FILEXFER_TYPE_SOCKET:       's',
	SSH_FILEXFER_TYPE_CHAR_DEVICE:  'c',
	SSH_FILEXFER_TYPE_BLOCK_DEVICE: 'b',
	SSH_FILEXFER_TYPE_FIFO:         'p',
}

// PermString renders a permissions word as the familiar rwxrwxrwx triplets,
// prefixed with the type character.
func (a *Attrs) PermString() string {
	buf := []byte("?---------")

	if c, ok := typeChars[a.Type]; ok {
		buf[0] = c
	}
	if !a.HasPermissions() {
		return string(buf)
	}

	bits := "rwxrwxrwx"
	for i := 0; i < 9; i++ {
		if a.Permissions&(1<<uint(8-i)) != 0 {
			buf[i+1] = bits[i]
		}
	}
	return string(buf)
}

// ownerString picks the best available representation of the owner, falling
// back from name to numeric id to "?".
func (a *Attrs) ownerString(numeric bool) (string, string) {
	if a.HasOwnerGroup() && !numeric {
		return a.Owner, a.Group
	}
	if a.HasUIDGID() {
		return strconv.FormatUint(uint64(a.UID), 10), strconv.FormatUint(uint64(a.GID), 10)
	}
	if a.HasOwnerGroup() {
		return a.Owner, a.Group
	}
	return "?", "?"
}

// FormatLong renders one `ls -l` line for the entry. Timestamps within six
// months of now show the time of day, older ones show the year, the usual
// ls convention.
func (a *Attrs) FormatLong(now time.Time, numeric bool) string {
	owner, group := a.ownerString(numeric)

	var size string
	if a.HasSize() {
		size = strconv.FormatUint(a.Size, 10)
	} else {
		size = "?"
	}

	links := uint32(1)
	if a.Valid&SSH_FILEXFER_ATTR_LINK_COUNT != 0 {
		links = a.LinkCount
	}

	var when string
	if a.HasMtime() {
		mtime := time.Unix(a.Mtime.Sec, int64(a.Mtime.Nsec))
		if now.Sub(mtime) < 180*24*time.Hour && now.Sub(mtime) > -180*24*time.Hour {
			when = mtime.Format("Jan _2 15:04")
		} else {
			when = mtime.Format("Jan _2  2006")
		}
	} else {
		when = "            "
	}

	line := fmt.Sprintf("%s %4d %-8s %-8s %12s %s %s",
		a.PermString(), links, owner, group, size, when, a.Name)
	if a.Type == SSH_FILEXFER_TYPE_SYMLINK && a.Target != "" {
		line += " -> " + a.Target
	}
	return line
}
