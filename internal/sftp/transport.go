// Copyright 2015-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package sftp

import (
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strings"

	log "github.com/sandia-minimega/minisftp/pkg/minilog"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SpawnConfig describes the transport subprocess. With Program set, that
// binary is run directly as the server; otherwise ssh is invoked with the
// subsystem request.
type SpawnConfig struct {
	Program    string
	Target     string // user@host
	Subsystem  string
	SSHVersion int // 1 or 2, 0 for the ssh default
	Compress   bool
	ConfigFile string
	Options    []string // -o options, passed through
	Verbose    int      // count of -v flags
}

// Spawn starts the transport subprocess and returns its stdout/stdin as the
// session's byte streams. The child's lifetime is the process's; the OS
// reaps it when we exit.
func Spawn(config SpawnConfig) (io.Reader, io.WriteCloser, error) {
	var argv []string

	if config.Program != "" {
		argv = []string{config.Program}
	} else {
		if config.Target == "" {
			return nil, nil, fmt.Errorf("missing USER@HOST argument")
		}

		argv = []string{"ssh"}
		switch config.SSHVersion {
		case 1:
			argv = append(argv, "-1")
		case 2:
			argv = append(argv, "-2")
		}
		if config.Compress {
			argv = append(argv, "-C")
		}
		if config.ConfigFile != "" {
			argv = append(argv, "-F", config.ConfigFile)
		}
		for _, o := range config.Options {
			argv = append(argv, "-o", o)
		}
		for i := 0; i < config.Verbose; i++ {
			argv = append(argv, "-v")
		}

		subsystem := config.Subsystem
		if subsystem == "" {
			subsystem = "sftp"
		}
		argv = append(argv, "-s", config.Target, subsystem)
	}

	log.Debug("spawning transport: %v", strings.Join(argv, " "))

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("executing %v: %v", argv[0], err)
	}

	return stdout, stdin, nil
}

// DialTCP connects straight to an SFTP server listening on a socket.
// family is "tcp", "tcp4", or "tcp6".
func DialTCP(host, port, family string) (io.Reader, io.WriteCloser, error) {
	conn, err := net.Dial(family, net.JoinHostPort(host, port))
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to host %v port %v: %v", host, port, err)
	}
	return conn, conn, nil
}

// DialSSH runs the whole SSH conversation in-process instead of spawning a
// client: agent-backed auth, then a session with the sftp subsystem. target
// is [user@]host[:port].
func DialSSH(target, subsystem string) (io.Reader, io.WriteCloser, error) {
	username := ""
	if i := strings.Index(target, "@"); i >= 0 {
		username, target = target[:i], target[i+1:]
	}
	if username == "" {
		u, err := user.Current()
		if err != nil {
			return nil, nil, err
		}
		username = u.Username
	}
	if _, _, err := net.SplitHostPort(target); err != nil {
		target = net.JoinHostPort(target, "22")
	}

	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, nil, fmt.Errorf("in-process ssh requires a running ssh-agent")
	}
	agentConn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to ssh-agent: %v", err)
	}
	ag := agent.NewClient(agentConn)

	config := &ssh.ClientConfig{
		User:            username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeysCallback(ag.Signers)},
		HostKeyCallback: hostKeyCallback(),
	}

	client, err := ssh.Dial("tcp", target, config)
	if err != nil {
		return nil, nil, fmt.Errorf("dialing %v: %v", target, err)
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, nil, err
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		return nil, nil, err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}

	if subsystem == "" {
		subsystem = "sftp"
	}
	if err := session.RequestSubsystem(subsystem); err != nil {
		return nil, nil, fmt.Errorf("requesting %v subsystem: %v", subsystem, err)
	}

	return stdout, stdin, nil
}

func hostKeyCallback() ssh.HostKeyCallback {
	home, err := os.UserHomeDir()
	if err == nil {
		cb, err := knownhosts.New(filepath.Join(home, ".ssh", "known_hosts"))
		if err == nil {
			return cb
		}
		log.Warn("cannot read known_hosts, host keys will not be checked: %v", err)
	}
	return ssh.InsecureIgnoreHostKey()
}
