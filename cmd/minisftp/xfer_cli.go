// Copyright 2015-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package main

import (
	"fmt"
	"path/filepath"
	"time"
)

var xferCommands = []command{
	{
		Name: "get", MinArgs: 1, MaxArgs: 3,
		Args: "[-P] REMOTE-PATH [LOCAL-PATH]",
		Help: "retrieve a remote file",
		Call: cliGet,
	},
	{
		Name: "put", MinArgs: 1, MaxArgs: 3,
		Args: "[-P] LOCAL-PATH [REMOTE-PATH]",
		Help: "upload a file",
		Call: cliPut,
	},
	{
		Name: "progress", MinArgs: 0, MaxArgs: 1,
		Args: "[on|off]",
		Help: "set or toggle progress indicators",
		Call: cliProgress,
	},
	{
		Name: "text", MinArgs: 0, MaxArgs: 0,
		Help: "text mode",
		Call: cliText,
	},
	{
		Name: "binary", MinArgs: 0, MaxArgs: 0,
		Help: "binary mode",
		Call: cliBinary,
	},
}

// xferArgs peels an optional -P and applies the basename default for the
// missing operand.
func xferArgs(av []string) (preserve bool, first, second string, err error) {
	if av[0] == "-P" {
		preserve = true
		av = av[1:]
	}
	if len(av) == 0 {
		return false, "", "", fmt.Errorf("wrong number of arguments")
	}

	first = av[0]
	if len(av) > 1 {
		second = av[1]
	} else {
		second = filepath.Base(first)
	}
	return preserve, first, second, nil
}

func cliGet(av []string) error {
	preserve, remote, local, err := xferArgs(av)
	if err != nil {
		return err
	}

	started := time.Now()
	written, err := client.Get(remote, local, preserve, progress)
	if err != nil {
		return err
	}
	summary(written, time.Since(started))
	return nil
}

func cliPut(av []string) error {
	preserve, local, remote, err := xferArgs(av)
	if err != nil {
		return err
	}

	started := time.Now()
	written, err := client.Put(local, remote, preserve, progress)
	if err != nil {
		return err
	}
	summary(written, time.Since(started))
	return nil
}

func summary(written uint64, elapsed time.Duration) {
	if !progressEnabled {
		return
	}

	fmt.Printf("%v bytes in %.1f seconds", written, elapsed.Seconds())
	if elapsed > 100*time.Millisecond {
		fmt.Printf(" %.0f bytes/sec", float64(written)/elapsed.Seconds())
	}
	fmt.Println()
}

func cliProgress(av []string) error {
	if len(av) == 0 {
		progressEnabled = !progressEnabled
		return nil
	}

	switch av[0] {
	case "on":
		progressEnabled = true
	case "off":
		progressEnabled = false
	default:
		return fmt.Errorf("invalid progress option '%v'", av[0])
	}
	return nil
}

func cliText(av []string) error {
	if client.Version < 4 {
		return fmt.Errorf("text mode not supported in protocol version %v", client.Version)
	}
	client.TextMode = true
	return nil
}

func cliBinary(av []string) error {
	client.TextMode = false
	return nil
}
