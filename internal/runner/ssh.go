package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSH runs commands on a remote login node, typically the one hosting the
// condor schedd. Host may carry a port. Keys come from the running ssh agent
// and from KeyPath; host keys are checked against KnownHostsPath, which
// defaults to ~/.ssh/known_hosts.
type SSH struct {
	Host           string
	User           string
	KeyPath        string
	KnownHostsPath string
	Timeout        time.Duration
	// Dir, when set, is the remote working directory.
	Dir string
}

func (r SSH) Run(ctx context.Context, name string, args ...string) (Result, error) {
	client, err := r.dial(ctx)
	if err != nil {
		return Result{ExitCode: 255}, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return Result{ExitCode: 255}, err
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	line := JoinCommand(name, args)
	if r.Dir != "" {
		line = "cd " + ShellEscape(r.Dir) + " && " + line
	}

	done := make(chan error, 1)
	go func() { done <- session.Run(line) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		return Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitCode: 130}, ctx.Err()
	case err = <-done:
	}

	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return res, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitStatus()
		return res, failure(name, args, res)
	}
	res.ExitCode = 255
	return res, err
}

func (r SSH) dial(ctx context.Context) (*ssh.Client, error) {
	addr, err := r.address()
	if err != nil {
		return nil, err
	}
	auth, release, err := r.auth()
	if err != nil {
		return nil, err
	}
	defer release()
	hostKeys, err := knownhosts.New(r.knownHosts())
	if err != nil {
		return nil, fmt.Errorf("ssh: known hosts: %w", err)
	}

	conn, err := (&net.Dialer{Timeout: r.Timeout}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            r.user(),
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         r.Timeout,
	})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh %s: %w", addr, err)
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// address appends the standard port unless Host names one.
func (r SSH) address() (string, error) {
	host := strings.TrimSpace(r.Host)
	if host == "" {
		return "", errors.New("ssh: no host configured")
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, nil
	}
	return net.JoinHostPort(host, "22"), nil
}

func (r SSH) user() string {
	if r.User != "" {
		return r.User
	}
	return os.Getenv("USER")
}

func (r SSH) knownHosts() string {
	if r.KnownHostsPath != "" {
		return r.KnownHostsPath
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ssh", "known_hosts")
}

// auth offers the agent's keys first, then the key file. A passphrase protected
// key file is left to the agent. release closes the agent connection.
func (r SSH) auth() (methods []ssh.AuthMethod, release func(), err error) {
	release = func() {}
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		conn, err := net.Dial("unix", sock)
		if err != nil {
			log.Debug().Err(err).Str("socket", sock).Msg("ssh agent unreachable")
		} else {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
			release = func() { _ = conn.Close() }
		}
	}

	if r.KeyPath != "" {
		pem, err := os.ReadFile(r.KeyPath)
		if err != nil {
			release()
			return nil, nil, fmt.Errorf("ssh: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		var protected *ssh.PassphraseMissingError
		switch {
		case err == nil:
			methods = append(methods, ssh.PublicKeys(signer))
		case errors.As(err, &protected) && len(methods) > 0:
			log.Debug().Str("key", r.KeyPath).Msg("key is passphrase protected, using the ssh agent")
		case errors.As(err, &protected):
			release()
			return nil, nil, fmt.Errorf("ssh: %s is passphrase protected; add it to an ssh agent", r.KeyPath)
		default:
			release()
			return nil, nil, fmt.Errorf("ssh: key %s: %w", r.KeyPath, err)
		}
	}

	if len(methods) == 0 {
		return nil, nil, errors.New("ssh: no credentials, set [ssh] key or start an ssh agent")
	}
	return methods, release, nil
}
