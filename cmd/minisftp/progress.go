// Copyright 2015-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package main

import (
	"fmt"
	"os"
	"strconv"
	"syscall"
	"unsafe"
)

var progressEnabled bool

// Copy of winsize struct defined by ioctl.h
type winsize struct {
	Row    uint16
	Col    uint16
	Xpixel uint16
	Ypixel uint16
}

// terminalWidth returns the usable column count, preferring $COLUMNS, then
// the tty, then the traditional 80.
func terminalWidth() int {
	if e := os.Getenv("COLUMNS"); e != "" {
		if w, err := strconv.Atoi(e); err == nil && w > 0 {
			return w
		}
	}

	ws := &winsize{}
	res, _, _ := syscall.Syscall(syscall.SYS_IOCTL,
		uintptr(syscall.Stdout),
		uintptr(syscall.TIOCGWINSZ),
		uintptr(unsafe.Pointer(ws)))
	if int(res) != -1 && ws.Col > 0 {
		return int(ws.Col)
	}

	return 80
}

// progress paints a single-line indicator. An empty path clears the line.
// Called from the transfer reaper, so it sticks to one Printf.
func progress(path string, sofar, total uint64) {
	if !progressEnabled {
		return
	}

	switch {
	case path == "":
		fmt.Printf("\r%*s\r", terminalWidth()-1, "")
	case total == ^uint64(0):
		fmt.Printf("\r%.60s: %12db", path, sofar)
	default:
		pct := 100
		if total > 0 {
			pct = int(100 * sofar / total)
		}
		fmt.Printf("\r%.60s: %12db %3d%%", path, sofar, pct)
	}
	os.Stdout.Sync()
}
