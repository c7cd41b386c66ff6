// Copyright 2015-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package main

import (
	"fmt"
	"os"
	"sort"

	log "github.com/sandia-minimega/minisftp/pkg/minilog"
)

var miscCommands = []command{
	{
		Name: "help", MinArgs: 0, MaxArgs: 0,
		Help: "display help",
		Call: cliHelp,
	},
	{
		Name: "version", MinArgs: 0, MaxArgs: 0,
		Help: "display protocol version",
		Call: cliVersion,
	},
	{
		Name: "debug", MinArgs: 0, MaxArgs: 0,
		Help: "toggle debug logging",
		Call: cliDebug,
	},
	{
		Name: "quit", MinArgs: 0, MaxArgs: 0,
		Help: "quit",
		Call: cliQuit,
	},
	{
		Name: "exit", MinArgs: 0, MaxArgs: 0,
		Help: "quit",
		Call: cliQuit,
	},
	{
		Name: "bye", MinArgs: 0, MaxArgs: 0,
		Help: "quit",
		Call: cliQuit,
	},
}

func cliHelp(av []string) error {
	names := make([]string, 0, len(commands))
	max := 0
	for name, c := range commands {
		names = append(names, name)
		n := len(name)
		if c.Args != "" {
			n += len(c.Args) + 1
		}
		if n > max {
			max = n
		}
	}
	sort.Strings(names)

	for _, name := range names {
		c := commands[name]
		usage := c.Name
		if c.Args != "" {
			usage += " " + c.Args
		}
		fmt.Printf("%-*s  %s\n", max, usage, c.Help)
	}
	return nil
}

func cliVersion(av []string) error {
	fmt.Printf("Protocol version: %v\n", client.Version)
	if v := client.Vendor; v != nil {
		fmt.Printf("Server vendor:    %v\n", v.Vendor)
		fmt.Printf("Server name:      %v\n", v.Name)
		fmt.Printf("Server version:   %v\n", v.Version)
		fmt.Printf("Server build:     %v\n", v.Build)
	}
	if client.ServerVersions != "" {
		fmt.Printf("Server supports:  %v\n", client.ServerVersions)
	}
	return nil
}

func cliDebug(av []string) error {
	level, err := log.GetLevel("stdio")
	if err != nil {
		return err
	}

	if level == log.DEBUG {
		return log.SetLevel("stdio", log.ERROR)
	}
	return log.SetLevel("stdio", log.DEBUG)
}

func cliQuit(av []string) error {
	os.Exit(0)
	return nil
}
