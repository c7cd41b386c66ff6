// Copyright 2015-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sandia-minimega/minisftp/internal/sftp"
	log "github.com/sandia-minimega/minisftp/pkg/minilog"

	"github.com/peterh/liner"
)

var (
	f_buffer    = flag.Int("buffer", 32768, "transfer buffer size in bytes")
	f_batch     = flag.String("batch", "", "read commands from a batch file")
	f_program   = flag.String("program", "", "execute program as the SFTP server")
	f_requests  = flag.Int("requests", 16, "maximum outstanding transfer requests")
	f_subsystem = flag.String("subsystem", "", "remote subsystem name (default sftp)")
	f_version   = flag.Int("sftp-version", 6, "protocol version to request (3-6)")

	f_quirkSymlink  = flag.Bool("quirk-reverse-symlink", false, "server takes SYMLINK operands backwards")
	f_stopOnError   = flag.Bool("stop-on-error", false, "terminate on the first failed command")
	f_noStopOnError = flag.Bool("no-stop-on-error", false, "keep going after failed commands (overrides -batch default)")
	f_progress      = flag.Bool("progress", false, "show transfer progress indicators")
	f_noProgress    = flag.Bool("no-progress", false, "hide transfer progress indicators")
	f_debug         = flag.Bool("debug", false, "log protocol frames")

	f_host = flag.String("host", "", "connect directly to an SFTP server at this host")
	f_port = flag.String("port", "", "connect directly to an SFTP server at this port")
	f_ipv4 = flag.Bool("ipv4", false, "restrict direct connections to IPv4")
	f_ipv6 = flag.Bool("ipv6", false, "restrict direct connections to IPv6")
	f_ssh  = flag.String("ssh", "", "run SSH in-process to [user@]host[:port] instead of spawning ssh")

	// passed through to the spawned ssh
	f_ssh1       = flag.Bool("1", false, "make ssh use protocol version 1")
	f_ssh2       = flag.Bool("2", false, "make ssh use protocol version 2")
	f_compress   = flag.Bool("C", false, "make ssh compress the connection")
	f_sshConfig  = flag.String("F", "", "alternative ssh config file")
	f_sshVerbose = flag.Int("ssh-verbose", 0, "number of -v flags to pass to ssh")
	f_sshOptions sshOptions
)

// sshOptions collects repeated -o flags.
type sshOptions []string

func (o *sshOptions) String() string {
	return fmt.Sprint([]string(*o))
}

func (o *sshOptions) Set(v string) error {
	*o = append(*o, v)
	return nil
}

var (
	client      *sftp.Client
	stopOnError bool
	inputPath   string
	inputLine   int
)

func usage() {
	fmt.Println("minisftp, an interactive SFTP client")
	fmt.Println("usage: minisftp [option]... [user@]host")
	flag.PrintDefaults()
}

func main() {
	flag.Var(&f_sshOptions, "o", "option to pass through to ssh (may be repeated)")
	flag.Usage = usage
	flag.Parse()

	if *f_debug {
		*log.LevelFlag = "debug"
	}
	log.Init()

	cliSetup()

	// sanity clamps, same ranges the original shipped with
	if *f_requests < 1 {
		*f_requests = 1
	}
	if *f_requests > 128 {
		*f_requests = 128
	}
	if *f_buffer < 64 {
		*f_buffer = 64
	}
	if *f_buffer > 1<<20 {
		*f_buffer = 1 << 20
	}

	if *f_version < sftp.MIN_VERSION || *f_version > sftp.MAX_VERSION {
		log.Fatal("unknown SFTP version %v", *f_version)
	}

	// batch mode implies stop-on-error and no progress chatter
	stopOnError = *f_batch != ""
	progressEnabled = *f_batch == ""
	if *f_stopOnError {
		stopOnError = true
	}
	if *f_noStopOnError {
		stopOnError = false
	}
	if *f_progress {
		progressEnabled = true
	}
	if *f_noProgress {
		progressEnabled = false
	}

	in, out := dialServer()

	c, err := sftp.Connect(in, out, sftp.Config{
		Version:             *f_version,
		BufferSize:          uint32(*f_buffer),
		MaxInFlight:         *f_requests,
		QuirkReverseSymlink: *f_quirkSymlink,
	})
	if err != nil {
		log.Fatalln(err)
	}
	client = c

	cwd, err := client.Realpath(".")
	if err != nil {
		log.Fatalln(err)
	}
	client.Cwd = cwd

	if *f_batch != "" {
		f, err := os.Open(*f_batch)
		if err != nil {
			log.Fatal("error opening %v: %v", *f_batch, err)
		}
		defer f.Close()

		process(*f_batch, f)
		return
	}

	input := liner.NewLiner()
	defer input.Close()

	cliLocal(input)
	// the OS reaps any spawned transport on exit
}

// dialServer picks the transport per the flags: a direct socket, an
// in-process SSH session, or a spawned subprocess.
func dialServer() (io.Reader, io.WriteCloser) {
	if *f_host != "" || *f_port != "" {
		if *f_host == "" || *f_port == "" || *f_program != "" || *f_subsystem != "" || *f_ssh != "" {
			log.Fatalln("inconsistent options")
		}

		family := "tcp"
		if *f_ipv4 {
			family = "tcp4"
		}
		if *f_ipv6 {
			family = "tcp6"
		}

		in, out, err := sftp.DialTCP(*f_host, *f_port, family)
		if err != nil {
			log.Fatalln(err)
		}
		return in, out
	}

	if *f_ssh != "" {
		if *f_program != "" {
			log.Fatalln("inconsistent options")
		}

		in, out, err := sftp.DialSSH(*f_ssh, *f_subsystem)
		if err != nil {
			log.Fatalln(err)
		}
		return in, out
	}

	in, out, err := sftp.Spawn(sftp.SpawnConfig{
		Program:    *f_program,
		Target:     flag.Arg(0),
		Subsystem:  *f_subsystem,
		SSHVersion: sshVersion(),
		Compress:   *f_compress,
		ConfigFile: *f_sshConfig,
		Options:    f_sshOptions,
		Verbose:    *f_sshVerbose,
	})
	if err != nil {
		log.Fatalln(err)
	}
	return in, out
}

func sshVersion() int {
	switch {
	case *f_ssh1:
		return 1
	case *f_ssh2:
		return 2
	}
	return 0
}
