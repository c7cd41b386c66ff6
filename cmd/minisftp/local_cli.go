// Copyright 2015-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package main

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
)

var localCommands = []command{
	{
		Name: "lpwd", MinArgs: 0, MaxArgs: 0,
		Help: "display current local directory",
		Call: cliLpwd,
	},
	{
		Name: "lcd", MinArgs: 1, MaxArgs: 1,
		Args: "DIR",
		Help: "change local directory",
		Call: cliLcd,
	},
	{
		Name: "lls", MinArgs: 0, MaxArgs: 64,
		Args: "[OPTIONS] [LOCAL-PATH]",
		Help: "list local directory",
		Call: cliLls,
	},
	{
		Name: "lmkdir", MinArgs: 1, MaxArgs: 1,
		Args: "LOCAL-PATH",
		Help: "create local directory",
		Call: cliLmkdir,
	},
	{
		Name: "lumask", MinArgs: 0, MaxArgs: 1,
		Args: "OCTAL",
		Help: "get or set local umask",
		Call: cliLumask,
	},
}

func cliLpwd(av []string) error {
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("error calling getwd: %v", err)
	}
	fmt.Println(wd)
	return nil
}

func cliLcd(av []string) error {
	if err := os.Chdir(av[0]); err != nil {
		return fmt.Errorf("error calling chdir: %v", err)
	}
	return nil
}

func cliLls(av []string) error {
	cmd := exec.Command("ls", av...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	// a nonzero exit from ls is a command failure, same as any other
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ls: %v", err)
	}
	return nil
}

func cliLmkdir(av []string) error {
	if err := os.Mkdir(av[0], 0777); err != nil {
		return fmt.Errorf("creating directory %v: %v", av[0], err)
	}
	return nil
}

func cliLumask(av []string) error {
	if len(av) == 0 {
		// no portable read-only umask; set and restore
		old := syscall.Umask(0)
		syscall.Umask(old)
		fmt.Printf("%03o\n", old)
		return nil
	}

	mask, err := strconv.ParseUint(av[0], 8, 32)
	if err != nil {
		return fmt.Errorf("invalid umask: %v", err)
	}
	if mask != mask&0777 {
		return fmt.Errorf("umask out of range")
	}
	syscall.Umask(int(mask))
	return nil
}
