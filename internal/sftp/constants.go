// Copyright 2015-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package sftp

import "strconv"

// Protocol versions this client can speak.
const (
	MIN_VERSION = 3
	MAX_VERSION = 6
)

// Packet types, from the SFTP drafts at versions 3 through 6.
const (
	SSH_FXP_INIT           = 1
	SSH_FXP_VERSION        = 2
	SSH_FXP_OPEN           = 3
	SSH_FXP_CLOSE          = 4
	SSH_FXP_READ           = 5
	SSH_FXP_WRITE          = 6
	SSH_FXP_LSTAT          = 7
	SSH_FXP_FSTAT          = 8
	SSH_FXP_SETSTAT        = 9
	SSH_FXP_FSETSTAT       = 10
	SSH_FXP_OPENDIR        = 11
	SSH_FXP_READDIR        = 12
	SSH_FXP_REMOVE         = 13
	SSH_FXP_MKDIR          = 14
	SSH_FXP_RMDIR          = 15
	SSH_FXP_REALPATH       = 16
	SSH_FXP_STAT           = 17
	SSH_FXP_RENAME         = 18
	SSH_FXP_READLINK       = 19
	SSH_FXP_SYMLINK        = 20
	SSH_FXP_LINK           = 21
	SSH_FXP_STATUS         = 101
	SSH_FXP_HANDLE         = 102
	SSH_FXP_DATA           = 103
	SSH_FXP_NAME           = 104
	SSH_FXP_ATTRS          = 105
	SSH_FXP_EXTENDED       = 200
	SSH_FXP_EXTENDED_REPLY = 201
)

// Status codes.
const (
	SSH_FX_OK                     = 0
	SSH_FX_EOF                    = 1
	SSH_FX_NO_SUCH_FILE           = 2
	SSH_FX_PERMISSION_DENIED      = 3
	SSH_FX_FAILURE                = 4
	SSH_FX_BAD_MESSAGE            = 5
	SSH_FX_NO_CONNECTION          = 6
	SSH_FX_CONNECTION_LOST        = 7
	SSH_FX_OP_UNSUPPORTED         = 8
	SSH_FX_INVALID_HANDLE         = 9
	SSH_FX_NO_SUCH_PATH           = 10
	SSH_FX_FILE_ALREADY_EXISTS    = 11
	SSH_FX_WRITE_PROTECT          = 12
	SSH_FX_NO_MEDIA               = 13
	SSH_FX_NO_SPACE_ON_FILESYSTEM = 14
	SSH_FX_QUOTA_EXCEEDED         = 15
	SSH_FX_UNKNOWN_PRINCIPAL      = 16
	SSH_FX_LOCK_CONFLICT          = 17
	SSH_FX_DIR_NOT_EMPTY          = 18
	SSH_FX_NOT_A_DIRECTORY        = 19
	SSH_FX_INVALID_FILENAME       = 20
	SSH_FX_LINK_LOOP              = 21
	SSH_FX_CANNOT_DELETE          = 22
	SSH_FX_INVALID_PARAMETER      = 23
	SSH_FX_FILE_IS_A_DIRECTORY    = 24
)

// v3/v4 pflags for SSH_FXP_OPEN.
const (
	SSH_FXF_READ   = 0x00000001
	SSH_FXF_WRITE  = 0x00000002
	SSH_FXF_APPEND = 0x00000004
	SSH_FXF_CREAT  = 0x00000008
	SSH_FXF_TRUNC  = 0x00000010
	SSH_FXF_EXCL   = 0x00000020
	SSH_FXF_TEXT   = 0x00000040 // v4 only
)

// v5/v6 SSH_FXP_OPEN flags. The low three bits are the disposition.
const (
	SSH_FXF_ACCESS_DISPOSITION = 0x00000007
	SSH_FXF_CREATE_NEW         = 0x00000000
	SSH_FXF_CREATE_TRUNCATE    = 0x00000001
	SSH_FXF_OPEN_EXISTING      = 0x00000002
	SSH_FXF_OPEN_OR_CREATE     = 0x00000003
	SSH_FXF_TRUNCATE_EXISTING  = 0x00000004
	SSH_FXF_APPEND_DATA        = 0x00000008
	SSH_FXF_APPEND_DATA_ATOMIC = 0x00000010
	SSH_FXF_TEXT_MODE          = 0x00000020
)

// v5/v6 desired-access mask (NFSv4 ACE bits).
const (
	ACE4_READ_DATA        = 0x00000001
	ACE4_WRITE_DATA       = 0x00000002
	ACE4_APPEND_DATA      = 0x00000004
	ACE4_READ_ATTRIBUTES  = 0x00000080
	ACE4_WRITE_ATTRIBUTES = 0x00000100
)

// SSH_FXP_RENAME flags (v5+).
const (
	SSH_FXF_RENAME_OVERWRITE = 0x00000001
	SSH_FXF_RENAME_ATOMIC    = 0x00000002
	SSH_FXF_RENAME_NATIVE    = 0x00000004
)

// Attribute valid bits. UIDGID and ACMODTIME are v3 only; everything from
// ACCESSTIME down grew in over v4-v6.
const (
	SSH_FILEXFER_ATTR_SIZE              = 0x00000001
	SSH_FILEXFER_ATTR_UIDGID            = 0x00000002
	SSH_FILEXFER_ATTR_PERMISSIONS       = 0x00000004
	SSH_FILEXFER_ATTR_ACMODTIME         = 0x00000008
	SSH_FILEXFER_ATTR_ACCESSTIME        = 0x00000008
	SSH_FILEXFER_ATTR_CREATETIME        = 0x00000010
	SSH_FILEXFER_ATTR_MODIFYTIME        = 0x00000020
	SSH_FILEXFER_ATTR_ACL               = 0x00000040
	SSH_FILEXFER_ATTR_OWNERGROUP        = 0x00000080
	SSH_FILEXFER_ATTR_SUBSECOND_TIMES   = 0x00000100
	SSH_FILEXFER_ATTR_BITS              = 0x00000200
	SSH_FILEXFER_ATTR_ALLOCATION_SIZE   = 0x00000400
	SSH_FILEXFER_ATTR_TEXT_HINT         = 0x00000800
	SSH_FILEXFER_ATTR_MIME_TYPE         = 0x00001000
	SSH_FILEXFER_ATTR_LINK_COUNT        = 0x00002000
	SSH_FILEXFER_ATTR_UNTRANSLATED_NAME = 0x00004000
	SSH_FILEXFER_ATTR_CTIME             = 0x00008000
	SSH_FILEXFER_ATTR_EXTENDED          = 0x80000000
)

// Attribute bits (v5+).
const (
	SSH_FILEXFER_ATTR_FLAGS_READONLY = 0x00000001
	SSH_FILEXFER_ATTR_FLAGS_SYSTEM   = 0x00000002
	SSH_FILEXFER_ATTR_FLAGS_HIDDEN   = 0x00000004
)

// File types (v4+). On v3 the type is inferred from the permissions field.
const (
	SSH_FILEXFER_TYPE_REGULAR      = 1
	SSH_FILEXFER_TYPE_DIRECTORY    = 2
	SSH_FILEXFER_TYPE_SYMLINK      = 3
	SSH_FILEXFER_TYPE_SPECIAL      = 4
	SSH_FILEXFER_TYPE_UNKNOWN      = 5
	SSH_FILEXFER_TYPE_SOCKET       = 6
	SSH_FILEXFER_TYPE_CHAR_DEVICE  = 7
	SSH_FILEXFER_TYPE_BLOCK_DEVICE = 8
	SSH_FILEXFER_TYPE_FIFO         = 9
)

var packetNames = map[uint8]string{
	SSH_FXP_INIT:           "INIT",
	SSH_FXP_VERSION:        "VERSION",
	SSH_FXP_OPEN:           "OPEN",
	SSH_FXP_CLOSE:          "CLOSE",
	SSH_FXP_READ:           "READ",
	SSH_FXP_WRITE:          "WRITE",
	SSH_FXP_LSTAT:          "LSTAT",
	SSH_FXP_FSTAT:          "FSTAT",
	SSH_FXP_SETSTAT:        "SETSTAT",
	SSH_FXP_FSETSTAT:       "FSETSTAT",
	SSH_FXP_OPENDIR:        "OPENDIR",
	SSH_FXP_READDIR:        "READDIR",
	SSH_FXP_REMOVE:         "REMOVE",
	SSH_FXP_MKDIR:          "MKDIR",
	SSH_FXP_RMDIR:          "RMDIR",
	SSH_FXP_REALPATH:       "REALPATH",
	SSH_FXP_STAT:           "STAT",
	SSH_FXP_RENAME:         "RENAME",
	SSH_FXP_READLINK:       "READLINK",
	SSH_FXP_SYMLINK:        "SYMLINK",
	SSH_FXP_LINK:           "LINK",
	SSH_FXP_STATUS:         "STATUS",
	SSH_FXP_HANDLE:         "HANDLE",
	SSH_FXP_DATA:           "DATA",
	SSH_FXP_NAME:           "NAME",
	SSH_FXP_ATTRS:          "ATTRS",
	SSH_FXP_EXTENDED:       "EXTENDED",
	SSH_FXP_EXTENDED_REPLY: "EXTENDED_REPLY",
}

func packetName(kind uint8) string {
	if name, ok := packetNames[kind]; ok {
		return name
	}
	return "FXP(" + strconv.Itoa(int(kind)) + ")"
}

var statusNames = map[uint32]string{
	SSH_FX_OK:                     "ok",
	SSH_FX_EOF:                    "end of file",
	SSH_FX_NO_SUCH_FILE:           "no such file",
	SSH_FX_PERMISSION_DENIED:      "permission denied",
	SSH_FX_FAILURE:                "failure",
	SSH_FX_BAD_MESSAGE:            "bad message",
	SSH_FX_NO_CONNECTION:          "no connection",
	SSH_FX_CONNECTION_LOST:        "connection lost",
	SSH_FX_OP_UNSUPPORTED:         "operation unsupported",
	SSH_FX_INVALID_HANDLE:         "invalid handle",
	SSH_FX_NO_SUCH_PATH:           "no such path",
	SSH_FX_FILE_ALREADY_EXISTS:    "file already exists",
	SSH_FX_WRITE_PROTECT:          "write protect",
	SSH_FX_NO_MEDIA:               "no media",
	SSH_FX_NO_SPACE_ON_FILESYSTEM: "no space on filesystem",
	SSH_FX_QUOTA_EXCEEDED:         "quota exceeded",
	SSH_FX_UNKNOWN_PRINCIPAL:      "unknown principal",
	SSH_FX_LOCK_CONFLICT:          "lock conflict",
	SSH_FX_DIR_NOT_EMPTY:          "directory not empty",
	SSH_FX_NOT_A_DIRECTORY:        "not a directory",
	SSH_FX_INVALID_FILENAME:       "invalid filename",
	SSH_FX_LINK_LOOP:              "link loop",
	SSH_FX_CANNOT_DELETE:          "cannot delete",
	SSH_FX_INVALID_PARAMETER:      "invalid parameter",
	SSH_FX_FILE_IS_A_DIRECTORY:    "file is a directory",
}

func statusName(code uint32) string {
	if name, ok := statusNames[code]; ok {
		return name
	}
	return "FX(" + strconv.FormatUint(uint64(code), 10) + ")"
}
