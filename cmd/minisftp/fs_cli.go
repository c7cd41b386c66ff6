// Copyright 2015-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sandia-minimega/minisftp/internal/sftp"
)

var fsCommands = []command{
	{
		Name: "pwd", MinArgs: 0, MaxArgs: 0,
		Help: "display current remote directory",
		Call: cliPwd,
	},
	{
		Name: "cd", MinArgs: 1, MaxArgs: 1,
		Args: "DIR",
		Help: "change remote directory",
		Call: cliCd,
	},
	{
		Name: "ls", MinArgs: 0, MaxArgs: 2,
		Args: "[OPTIONS] [PATH]",
		Help: "list remote directory",
		Call: cliLs,
	},
	{
		Name: "mkdir", MinArgs: 1, MaxArgs: 2,
		Args: "[MODE] DIRECTORY",
		Help: "create a remote directory",
		Call: cliMkdir,
	},
	{
		Name: "rmdir", MinArgs: 1, MaxArgs: 1,
		Args: "PATH",
		Help: "remove remote directory",
		Call: cliRmdir,
	},
	{
		Name: "rm", MinArgs: 1, MaxArgs: 1,
		Args: "PATH",
		Help: "remove remote file",
		Call: cliRm,
	},
	{
		Name: "mv", MinArgs: 2, MaxArgs: 3,
		Args: "[-nao] OLDPATH NEWPATH",
		Help: "rename a remote file",
		Call: cliMv,
	},
	{
		Name: "rename", MinArgs: 2, MaxArgs: 2,
		Args: "OLDPATH NEWPATH",
		Help: "rename a remote file",
		Call: cliMv,
	},
	{
		Name: "chmod", MinArgs: 2, MaxArgs: 2,
		Args: "OCTAL PATH",
		Help: "change remote file permissions",
		Call: cliChmod,
	},
	{
		Name: "chown", MinArgs: 2, MaxArgs: 2,
		Args: "UID PATH",
		Help: "change remote file ownership",
		Call: cliChown,
	},
	{
		Name: "chgrp", MinArgs: 2, MaxArgs: 2,
		Args: "GID PATH",
		Help: "change remote file group",
		Call: cliChgrp,
	},
	{
		Name: "symlink", MinArgs: 2, MaxArgs: 2,
		Args: "TARGET NEWPATH",
		Help: "create a remote symlink",
		Call: cliSymlink,
	},
	{
		Name: "link", MinArgs: 2, MaxArgs: 2,
		Args: "OLDPATH NEWPATH",
		Help: "create a remote hard link",
		Call: cliLink,
	},
	{
		Name: "readlink", MinArgs: 1, MaxArgs: 1,
		Args: "PATH",
		Help: "display a symlink target",
		Call: cliReadlink,
	},
	{
		Name: "df", MinArgs: 0, MaxArgs: 1,
		Args: "[PATH]",
		Help: "query available space",
		Call: cliDf,
	},
}

func cliPwd(av []string) error {
	fmt.Println(client.Cwd)
	return nil
}

func cliCd(av []string) error {
	newCwd, err := client.Realpath(client.Resolve(av[0]))
	if err != nil {
		return err
	}

	// it had better actually be a directory
	attrs, err := client.Lstat(newCwd)
	if err != nil {
		return err
	}
	if attrs.Type != sftp.SSH_FILEXFER_TYPE_DIRECTORY {
		return fmt.Errorf("%v is not a directory", av[0])
	}

	client.Cwd = newCwd
	return nil
}

func cliMkdir(av []string) error {
	if len(av) == 2 {
		mode, err := strconv.ParseUint(av[0], 8, 32)
		if err != nil {
			return fmt.Errorf("invalid mode: %v", err)
		}
		attrs := &sftp.Attrs{
			Valid:       sftp.SSH_FILEXFER_ATTR_PERMISSIONS,
			Permissions: uint32(mode),
		}
		return client.Mkdir(av[1], attrs)
	}
	return client.Mkdir(av[0], nil)
}

func cliRmdir(av []string) error {
	return client.Rmdir(av[0])
}

func cliRm(av []string) error {
	return client.Remove(av[0])
}

func cliMv(av []string) error {
	if len(av) == 3 {
		var flags uint32

		if !strings.HasPrefix(av[0], "-") {
			return fmt.Errorf("invalid options '%v'", av[0])
		}
		for _, c := range av[0][1:] {
			switch c {
			case 'n':
				flags |= sftp.SSH_FXF_RENAME_NATIVE
			case 'a':
				flags |= sftp.SSH_FXF_RENAME_ATOMIC
			case 'o':
				flags |= sftp.SSH_FXF_RENAME_OVERWRITE
			default:
				return fmt.Errorf("invalid options '%v'", av[0])
			}
		}
		return client.Rename(av[1], av[2], flags)
	}
	return client.Rename(av[0], av[1], 0)
}

func cliChmod(av []string) error {
	perms, err := strconv.ParseUint(av[0], 8, 32)
	if err != nil {
		return fmt.Errorf("invalid permissions: %v", err)
	}
	if perms != perms&07777 {
		return fmt.Errorf("invalid permissions: %#o out of range", perms)
	}

	attrs := &sftp.Attrs{
		Valid:       sftp.SSH_FILEXFER_ATTR_PERMISSIONS,
		Permissions: uint32(perms),
	}
	return client.Setstat(av[1], attrs)
}

func cliChown(av []string) error {
	attrs, err := client.Stat(av[1])
	if err != nil {
		return err
	}

	if client.Version >= 4 {
		if !attrs.HasOwnerGroup() {
			return fmt.Errorf("cannot determine former owner/group")
		}
		attrs.Owner = av[0]
	} else {
		if !attrs.HasUIDGID() {
			return fmt.Errorf("cannot determine former UID/GID")
		}
		uid, err := strconv.ParseUint(av[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid UID: %v", err)
		}
		attrs.UID = uint32(uid)
	}
	return client.Setstat(av[1], attrs)
}

func cliChgrp(av []string) error {
	attrs, err := client.Stat(av[1])
	if err != nil {
		return err
	}

	if client.Version >= 4 {
		if !attrs.HasOwnerGroup() {
			return fmt.Errorf("cannot determine former owner/group")
		}
		attrs.Group = av[0]
	} else {
		if !attrs.HasUIDGID() {
			return fmt.Errorf("cannot determine former UID/GID")
		}
		gid, err := strconv.ParseUint(av[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid GID: %v", err)
		}
		attrs.GID = uint32(gid)
	}
	return client.Setstat(av[1], attrs)
}

func cliSymlink(av []string) error {
	return client.Link(av[0], av[1], true)
}

func cliLink(av []string) error {
	return client.Link(av[0], av[1], false)
}

func cliReadlink(av []string) error {
	target, err := client.Readlink(av[0])
	if err != nil {
		return err
	}
	fmt.Println(target)
	return nil
}

func cliDf(av []string) error {
	path := client.Cwd
	if len(av) > 0 {
		path = av[0]
	}

	sa, err := client.SpaceAvailable(path)
	if err != nil {
		return err
	}

	reportBytes("Bytes on device", sa.BytesOnDevice)
	reportBytes("Unused bytes on device", sa.UnusedBytesOnDevice)
	reportBytes("Available bytes on device", sa.BytesAvailableToUser)
	reportBytes("Unused available bytes on device", sa.UnusedBytesAvailableToUser)
	reportBytes("Bytes per allocation unit", uint64(sa.BytesPerAllocationUnit))
	return nil
}

func reportBytes(what string, howmuch uint64) {
	const (
		kbyte = uint64(1) << 10
		mbyte = uint64(1) << 20
		gbyte = uint64(1) << 30
	)

	if howmuch == 0 {
		return
	}

	fmt.Printf("%-32s ", what+":")
	switch {
	case howmuch >= 8*gbyte:
		fmt.Printf("%v Gbytes\n", howmuch/gbyte)
	case howmuch >= 8*mbyte:
		fmt.Printf("%v Mbytes\n", howmuch/mbyte)
	case howmuch >= 8*kbyte:
		fmt.Printf("%v Kbytes\n", howmuch/kbyte)
	default:
		fmt.Printf("%v bytes\n", howmuch)
	}
}

// lsOptions is the parsed single-letter option bundle for ls.
type lsOptions struct {
	all      bool // -a: include dotfiles
	long     bool // -l: long listing
	numeric  bool // -n: long listing with numeric ids
	dir      bool // -d: list the directory itself
	single   bool // -1: one name per line
	unsorted bool // -f: readdir order
	bySize   bool // -S
	byMtime  bool // -t
	reversed bool // -r
}

func parseLsOptions(s string) (lsOptions, error) {
	var o lsOptions

	for _, c := range s {
		switch c {
		case 'a':
			o.all = true
		case 'l':
			o.long = true
		case 'n':
			o.numeric = true
		case 'd':
			o.dir = true
		case '1':
			o.single = true
		case 'f':
			o.unsorted = true
		case 'S':
			o.bySize = true
		case 't':
			o.byMtime = true
		case 'r':
			o.reversed = true
		default:
			return o, fmt.Errorf("invalid ls option '%c'", c)
		}
	}
	return o, nil
}

func cliLs(av []string) error {
	var opts lsOptions
	var err error

	if len(av) > 0 && strings.HasPrefix(av[0], "-") {
		if opts, err = parseLsOptions(av[0][1:]); err != nil {
			return err
		}
		av = av[1:]
	}

	path := client.Cwd
	if len(av) > 0 {
		path = av[0]
	}

	fileAttrs, err := client.Lstat(path)
	if err != nil {
		return err
	}

	var entries []*sftp.Attrs
	singleFile := fileAttrs.Type != sftp.SSH_FILEXFER_TYPE_DIRECTORY || opts.dir

	if singleFile {
		entries = []*sftp.Attrs{fileAttrs}
	} else {
		if entries, err = readAll(path, opts.all); err != nil {
			return err
		}
	}

	if !opts.unsorted {
		sorter := func(a, b *sftp.Attrs) bool { return a.Name < b.Name }
		switch {
		case opts.bySize:
			sorter = func(a, b *sftp.Attrs) bool {
				if a.HasSize() && b.HasSize() && a.Size != b.Size {
					return a.Size < b.Size
				}
				return a.Name < b.Name
			}
		case opts.byMtime:
			sorter = func(a, b *sftp.Attrs) bool {
				if a.HasMtime() && b.HasMtime() && a.Mtime != b.Mtime {
					if a.Mtime.Sec != b.Mtime.Sec {
						return a.Mtime.Sec < b.Mtime.Sec
					}
					return a.Mtime.Nsec < b.Mtime.Nsec
				}
				return a.Name < b.Name
			}
		}
		sort.SliceStable(entries, func(i, j int) bool { return sorter(entries[i], entries[j]) })
		if opts.reversed {
			for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}

	switch {
	case opts.long || opts.numeric:
		now := time.Now()
		for _, e := range entries {
			if e.Type == sftp.SSH_FILEXFER_TYPE_SYMLINK && e.Target == "" {
				full := e.Name
				if !singleFile {
					full = path + "/" + e.Name
				}
				// a broken or unreadable link still lists, just bare
				if target, err := client.Readlink(full); err == nil {
					e.Target = target
				}
			}
			fmt.Println(e.FormatLong(now, opts.numeric))
		}
	case opts.single:
		for _, e := range entries {
			fmt.Println(e.Name)
		}
	default:
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name
		}
		for _, line := range columnate(names, terminalWidth()) {
			fmt.Println(line)
		}
	}

	return nil
}

// readAll drains a directory handle, optionally dropping dotfiles. The
// handle gets its CLOSE on every path out.
func readAll(path string, all bool) ([]*sftp.Attrs, error) {
	h, err := client.Opendir(path)
	if err != nil {
		return nil, err
	}

	var entries []*sftp.Attrs
	for {
		batch, err := client.Readdir(h)
		if err != nil {
			if !sftp.IsFatal(err) {
				client.Close(h)
			}
			return nil, err
		}
		if batch == nil {
			break
		}
		for _, e := range batch {
			if all || !strings.HasPrefix(e.Name, ".") {
				entries = append(entries, e)
			}
		}
	}

	return entries, client.Close(h)
}

// columnate lays names out down the columns, ls style. With C columns of
// width M and single-space gutters the total width is C*M+(C-1), so the
// widest layout that fits width terminal cells is C = (W+1)/(M+1), rounded
// up to at least one column.
func columnate(names []string, width int) []string {
	if len(names) == 0 {
		return nil
	}

	maxWidth := 0
	for _, name := range names {
		if w := displayWidth(name); w > maxWidth {
			maxWidth = w
		}
	}

	cols := (width + 1) / (maxWidth + 1)
	if cols == 0 {
		cols = 1
	}
	rows := (len(names) + cols - 1) / cols

	lines := make([]string, 0, rows)
	for row := 0; row < rows; row++ {
		var line strings.Builder
		for col := 0; col < cols; col++ {
			i := row + col*rows
			if i >= len(names) {
				break
			}
			line.WriteString(names[i])
			if col+1 < cols && i+rows < len(names) {
				pad := maxWidth - displayWidth(names[i]) + 1
				line.WriteString(strings.Repeat(" ", pad))
			}
		}
		lines = append(lines, line.String())
	}
	return lines
}

// displayWidth approximates terminal cells as rune count; good enough
// outside East Asian wide scripts.
func displayWidth(s string) int {
	return utf8.RuneCountInString(s)
}
