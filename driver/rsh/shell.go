package rsh

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Shell runs one non-interactive command on a host and returns its stdout.
type Shell interface {
	Run(ctx context.Context, host, cmd string) (string, error)
}

type SSHOptions struct {
	User       string
	KeyFile    string
	KnownHosts string
	// InsecureIgnoreHostKey skips host key verification.
	InsecureIgnoreHostKey bool
	DialTimeout           time.Duration
	DialRetries           uint64
	// CommandTimeout bounds each command, dial included.
	CommandTimeout time.Duration
}

const DefaultCommandTimeout = time.Minute

// NewSSHShell returns a Shell that opens an SSH session per command.
func NewSSHShell(opts SSHOptions) (Shell, error) {
	if opts.User == "" {
		u, err := user.Current()
		if err != nil {
			return nil, err
		}
		opts.User = u.Username
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.DialRetries == 0 {
		opts.DialRetries = 3
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}

	key, err := os.ReadFile(opts.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("reading ssh key: %v", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parsing ssh key %s: %v", opts.KeyFile, err)
	}

	var hostKey ssh.HostKeyCallback
	if opts.InsecureIgnoreHostKey {
		hostKey = ssh.InsecureIgnoreHostKey()
	} else {
		if hostKey, err = knownhosts.New(opts.KnownHosts); err != nil {
			return nil, fmt.Errorf("reading known hosts: %v", err)
		}
	}
	return &sshShell{
		cfg: &ssh.ClientConfig{
			User:            opts.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKey,
			Timeout:         opts.DialTimeout,
		},
		retries: opts.DialRetries,
		timeout: opts.CommandTimeout,
	}, nil
}

type sshShell struct {
	cfg     *ssh.ClientConfig
	retries uint64
	timeout time.Duration
}

func (s *sshShell) Run(ctx context.Context, host, cmd string) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	addr := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		addr = net.JoinHostPort(host, "22")
	}

	var client *ssh.Client
	err := backoff.Retry(func() error {
		if ctx.Err() != nil {
			return nil
		}
		var err error
		client, err = ssh.Dial("tcp", addr, s.cfg)
		if err != nil {
			log.WithFields(log.Fields{
				"host": addr,
				"err":  err,
			}).Info("ssh dial failed")
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.retries), ctx))
	if err != nil {
		return "", err
	}
	if client == nil {
		return "", ctx.Err()
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", err
	}
	defer session.Close()

	type result struct {
		out []byte
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		out, err := session.Output(cmd)
		resCh <- result{out, err}
	}()
	select {
	case r := <-resCh:
		return strings.TrimSpace(string(r.out)), r.err
	case <-ctx.Done():
		client.Close()
		return "", fmt.Errorf("ssh %s: %v", addr, ctx.Err())
	}
}
