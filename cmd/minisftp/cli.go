// Copyright 2015-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/sandia-minimega/minisftp/internal/sftp"
	log "github.com/sandia-minimega/minisftp/pkg/minilog"

	"github.com/peterh/liner"
)

// command is one entry in the dispatch table.
type command struct {
	Name    string
	MinArgs int
	MaxArgs int

	// Call is invoked with the pre-split argv, the command name already
	// stripped. Arity is enforced before the call.
	Call func(av []string) error

	Args string // operand summary for help
	Help string // one line description
}

var commands = map[string]*command{}

// registerCommands adds a handler group to the table, panicking on
// duplicates the way minimega does for its CLI handlers.
func registerCommands(name string, group []command) {
	for i := range group {
		c := &group[i]
		if _, ok := commands[c.Name]; ok {
			panic(fmt.Sprintf("duplicate command %v in group %v", c.Name, name))
		}
		commands[c.Name] = c
	}
}

func cliSetup() {
	registerCommands("fs", fsCommands)
	registerCommands("local", localCommands)
	registerCommands("xfer", xferCommands)
	registerCommands("misc", miscCommands)
}

// errorf reports a command failure the way the C client did, prefixed with
// the input source and line.
func errorf(format string, arg ...interface{}) {
	fmt.Fprintf(os.Stderr, "%v:%v %v\n", inputPath, inputLine, fmt.Sprintf(format, arg...))
}

// runLine lexes and dispatches one input line. The returned error is the
// handler's; parse and lookup failures are reported here and returned so
// stop-on-error sees them.
func runLine(line string) error {
	line = strings.TrimSpace(line)

	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}

	// shell escape
	if strings.HasPrefix(line, "!") {
		return shellOut(strings.TrimSpace(line[1:]))
	}

	av, err := splitLine(line)
	if err != nil {
		errorf("%v", err)
		return err
	}
	if len(av) == 0 {
		return nil
	}

	cmd, ok := commands[av[0]]
	if !ok {
		err := fmt.Errorf("unknown command: '%v'", av[0])
		errorf("%v", err)
		return err
	}

	av = av[1:]
	if len(av) < cmd.MinArgs || len(av) > cmd.MaxArgs {
		err := fmt.Errorf("wrong number of arguments")
		errorf("%v", err)
		return err
	}

	if err := cmd.Call(av); err != nil {
		if sftp.IsFatal(err) {
			log.Fatalln(err)
		}
		errorf("%v", err)
		return err
	}
	return nil
}

// shellOut runs a command (or $SHELL with no argument) with our terminal.
func shellOut(cmdline string) error {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}

	var cmd *exec.Cmd
	if cmdline == "" {
		cmd = exec.Command(shell)
	} else {
		cmd = exec.Command(shell, "-c", cmdline)
	}
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		errorf("%v", err)
		return err
	}
	return nil
}

// process reads commands from a batch reader until EOF.
func process(path string, r io.Reader) {
	inputPath = path
	inputLine = 0

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		inputLine++
		if err := runLine(scanner.Text()); err != nil && stopOnError {
			log.Fatalln("stopping on error")
		}
	}
	if err := scanner.Err(); err != nil {
		log.Fatal("error reading %v: %v", path, err)
	}
}

// cliLocal is the interactive loop, wrapping readline.
func cliLocal(input *liner.State) {
	inputPath = "stdin"
	inputLine = 0

	input.SetCtrlCAborts(true)
	input.SetTabCompletionStyle(liner.TabPrints)
	input.SetCompleter(cliCompleter)

	for {
		line, err := input.Prompt("sftp> ")
		if err == liner.ErrPromptAborted {
			continue
		} else if err == io.EOF {
			fmt.Println()
			return
		} else if err != nil {
			log.Fatalln(err)
		}

		inputLine++

		log.Debug("got line from stdin: `%v`", line)

		if strings.TrimSpace(line) == "" {
			continue
		}
		input.AppendHistory(line)

		if err := runLine(line); err != nil && stopOnError {
			log.Fatalln("stopping on error")
		}
	}
}

// cliCompleter completes command names for the first word.
func cliCompleter(line string) []string {
	if strings.ContainsAny(strings.TrimSpace(line), " \t") {
		return nil
	}

	var res []string
	for name := range commands {
		if strings.HasPrefix(name, line) {
			res = append(res, name)
		}
	}
	sort.Strings(res)
	return res
}
