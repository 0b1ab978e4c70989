package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/sentinel/console/internal/domain"
	"golang.org/x/crypto/ssh"
)

var (
	ErrSSHConnection     = errors.New("ssh: connection failed")
	ErrSSHAuthentication = errors.New("ssh: authentication failed")
	ErrSSHTimeout        = errors.New("ssh: connection timeout")
	ErrPoolClosed        = errors.New("ssh: pool closed")
	ErrUnknownPrincipal  = errors.New("ssh: unknown principal")
)

type SSHConfig struct {
	Host    string
	Port    int
	User    string
	Signer  ssh.Signer
	Timeout time.Duration
}

type SSHClient struct {
	config SSHConfig
}

func NewSSHClient(cfg SSHConfig) *SSHClient {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SSHClient{config: cfg}
}

// address accepts hosts given with or without an explicit port.
func (c *SSHClient) address() string {
	if _, _, err := net.SplitHostPort(c.config.Host); err == nil {
		return c.config.Host
	}
	return net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))
}

func (c *SSHClient) clientConfig() (*ssh.ClientConfig, error) {
	if c.config.Signer == nil {
		return nil, fmt.Errorf("%w: no private key configured", ErrSSHAuthentication)
	}
	return &ssh.ClientConfig{
		User: c.config.User,
		Auth: []ssh.AuthMethod{ssh.PublicKeys(c.config.Signer)},
		// Hosts are pre-provisioned infrastructure on a trusted network.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.config.Timeout,
	}, nil
}

// Connect opens one authenticated connection. The whole handshake is bounded
// by the configured timeout; there is no retry, callers reconnect lazily.
func (c *SSHClient) Connect(ctx context.Context) (*ssh.Client, error) {
	sshConfig, err := c.clientConfig()
	if err != nil {
		return nil, err
	}

	addr := c.address()
	dialCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	dialer := net.Dialer{KeepAlive: 60 * time.Second}
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, classifyConnectError(addr, err)
	}

	// Deadline covers the SSH handshake only
	_ = conn.SetDeadline(time.Now().Add(c.config.Timeout))
	sc, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
	if err != nil {
		_ = conn.Close()
		return nil, classifyConnectError(addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(sc, chans, reqs), nil
}

func classifyConnectError(addr string, err error) error {
	msg := err.Error()
	var netErr net.Error
	switch {
	case strings.Contains(msg, "unable to authenticate"):
		return fmt.Errorf("%w: %s: %v", ErrSSHAuthentication, addr, err)
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %s: %v", ErrSSHTimeout, addr, err)
	default:
		return fmt.Errorf("%w: %s: %v", ErrSSHConnection, addr, err)
	}
}

// errSessionStalled means the connection did not open a session before the
// context ended. The client has been closed and must be discarded.
var errSessionStalled = errors.New("ssh: session open stalled")

type openedSession struct {
	session *ssh.Session
	err     error
}

// runCommand executes cmd in a fresh session on client. A non-nil error means
// the context ended before the command did. If that happened while the
// session was still opening, client is closed and the error wraps
// errSessionStalled; otherwise the session is killed and the client stays
// usable.
func runCommand(ctx context.Context, client *ssh.Client, cmd string) (domain.CommandResult, error) {
	opened := make(chan openedSession, 1)
	go func() {
		session, err := client.NewSession()
		opened <- openedSession{session: session, err: err}
	}()

	var session *ssh.Session
	select {
	case <-ctx.Done():
		_ = client.Close()
		return domain.CommandResult{}, fmt.Errorf("%w: %w", errSessionStalled, ctx.Err())
	case o := <-opened:
		if o.err != nil {
			return domain.Failure("%v: failed to create session: %v", ErrSSHConnection, o.err), nil
		}
		session = o.session
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		return domain.CommandResult{}, ctx.Err()
	case runErr := <-done:
		res := domain.CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
		var exitErr *ssh.ExitError
		switch {
		case runErr == nil:
			res.Success = true
		case errors.As(runErr, &exitErr):
			res.ExitCode = exitErr.ExitStatus()
		default:
			res.ExitCode = -1
			if res.Stderr == "" {
				res.Stderr = runErr.Error()
			}
		}
		return res, nil
	}
}
