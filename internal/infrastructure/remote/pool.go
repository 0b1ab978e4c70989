package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sentinel/console/internal/config"
	"github.com/sentinel/console/internal/domain"
	"github.com/sentinel/console/internal/infrastructure/logger"
	"github.com/sentinel/console/internal/infrastructure/metrics"
	"golang.org/x/crypto/ssh"
)

const probeCommand = "echo ok"

type PoolConfig struct {
	Users          map[domain.Principal]string
	Signer         ssh.Signer
	Port           int
	ConnectTimeout time.Duration
	ProbeTimeout   time.Duration
	CommandTimeout time.Duration
}

// NewPoolConfig maps the standard and privileged principals to their login
// users and fills timeouts from cfg.
func NewPoolConfig(cfg config.SSHConfig, signer ssh.Signer) PoolConfig {
	return PoolConfig{
		Users: map[domain.Principal]string{
			domain.PrincipalStandard:   cfg.User,
			domain.PrincipalPrivileged: cfg.PrivilegedUser,
		},
		Signer:         signer,
		Port:           cfg.Port,
		ConnectTimeout: cfg.ConnectTimeout,
		ProbeTimeout:   cfg.ProbeTimeout,
		CommandTimeout: cfg.CommandTimeout,
	}
}

// entry is one pooled connection. mu serialises commands on it and guards
// client.
type entry struct {
	mu     sync.Mutex
	client *ssh.Client
}

// Pool keeps one authenticated connection per principal@host and reuses it
// across calls, probing liveness before each use.
type Pool struct {
	cfg     PoolConfig
	log     *logger.Logger
	metrics *metrics.Collector

	// mu guards entries, clients and closed. It is never held while waiting
	// on an entry lock, so Close cannot be blocked by a stuck command.
	mu      sync.Mutex
	entries map[string]*entry
	clients map[*ssh.Client]struct{}
	closed  bool
}

func NewPool(cfg PoolConfig, log *logger.Logger, m *metrics.Collector) *Pool {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = 60 * time.Second
	}
	return &Pool{
		cfg:     cfg,
		log:     log,
		metrics: m,
		entries: make(map[string]*entry),
		clients: make(map[*ssh.Client]struct{}),
	}
}

func (p *Pool) acquire(key string) (*entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	e, ok := p.entries[key]
	if !ok {
		e = &entry{}
		p.entries[key] = e
	}
	return e, nil
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// track registers a new client so Close can reach it. It refuses once the
// pool is closed.
func (p *Pool) track(client *ssh.Client) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.clients[client] = struct{}{}
	p.metrics.SetPooledSessions(int64(len(p.clients)))
	return true
}

func (p *Pool) untrack(client *ssh.Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.clients[client]; !ok {
		return
	}
	delete(p.clients, client)
	p.metrics.SetPooledSessions(int64(len(p.clients)))
}

func (p *Pool) user(principal domain.Principal) (string, error) {
	user, ok := p.cfg.Users[principal]
	if !ok || user == "" {
		return "", fmt.Errorf("%w: %q", ErrUnknownPrincipal, principal)
	}
	return user, nil
}

// ensure returns a live client for e, reconnecting when the cached one fails
// its probe. Caller holds e.mu.
func (p *Pool) ensure(ctx context.Context, e *entry, key, host, user string) (*ssh.Client, error) {
	if e.client != nil {
		probeCtx, cancel := context.WithTimeout(ctx, p.cfg.ProbeTimeout)
		res, err := runCommand(probeCtx, e.client, probeCommand)
		cancel()
		if err == nil && res.Success && strings.TrimSpace(res.Stdout) == "ok" {
			return e.client, nil
		}
		p.log.Infow("ssh_pool_reconnect", "key", key)
		p.drop(e)
	}
	if p.isClosed() {
		return nil, ErrPoolClosed
	}

	client, err := NewSSHClient(SSHConfig{
		Host:    host,
		Port:    p.cfg.Port,
		User:    user,
		Signer:  p.cfg.Signer,
		Timeout: p.cfg.ConnectTimeout,
	}).Connect(ctx)
	if err != nil {
		return nil, err
	}
	if !p.track(client) {
		_ = client.Close()
		return nil, ErrPoolClosed
	}
	e.client = client
	p.log.Debugw("ssh_pool_connect_ok", "key", key)
	return client, nil
}

func (p *Pool) drop(e *entry) {
	if e.client == nil {
		return
	}
	p.untrack(e.client)
	_ = e.client.Close()
	e.client = nil
}

// withClient runs fn with the pooled client for target while holding the
// entry lock. A client whose session open stalled is discarded.
func (p *Pool) withClient(ctx context.Context, target domain.RemoteTarget, fn func(*ssh.Client) error) error {
	user, err := p.user(target.Principal)
	if err != nil {
		return err
	}
	key := user + "@" + target.Host
	e, err := p.acquire(key)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	client, err := p.ensure(ctx, e, key, target.Host, user)
	if err != nil {
		p.log.Warnw("ssh_pool_connect_failed", "key", key, "error", err)
		return err
	}
	err = fn(client)
	if errors.Is(err, errSessionStalled) {
		p.log.Warnw("ssh_pool_session_stalled", "key", key)
		p.drop(e)
	}
	return err
}

// Execute runs command on target. It never returns an error: connection
// problems, timeouts and non-zero exits all come back as a result. A timed
// out command keeps its pooled connection.
func (p *Pool) Execute(ctx context.Context, target domain.RemoteTarget, command string, timeout time.Duration) domain.CommandResult {
	if timeout <= 0 {
		timeout = p.cfg.CommandTimeout
	}

	var res domain.CommandResult
	err := p.withClient(ctx, target, func(client *ssh.Client) error {
		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		var runErr error
		res, runErr = runCommand(runCtx, client, command)
		if runErr != nil {
			if errors.Is(runErr, context.DeadlineExceeded) {
				res = domain.Failure("Command timed out after %s", timeout)
			} else {
				res = domain.Failure("Command cancelled: %v", runErr)
			}
		}
		if errors.Is(runErr, errSessionStalled) {
			return runErr
		}
		return nil
	})
	if err != nil && !errors.Is(err, errSessionStalled) {
		res = domain.Failure("%v", err)
		p.metrics.RemoteCommand("connect_error")
		return res
	}

	switch {
	case res.Success:
		p.metrics.RemoteCommand("success")
	case res.ExitCode == -1:
		p.metrics.RemoteCommand("timeout")
		p.log.Warnw("ssh_command_incomplete", "host", target.Host, "principal", target.Principal, "stderr", res.Stderr)
	default:
		p.metrics.RemoteCommand("failed")
	}
	return res
}

// Size reports the number of live pooled connections.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

// Close closes every pooled connection without waiting for commands in
// flight; closing the connection aborts them. Later calls fail with
// ErrPoolClosed.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	clients := p.clients
	p.clients = make(map[*ssh.Client]struct{})
	p.entries = make(map[string]*entry)
	p.metrics.SetPooledSessions(0)
	p.mu.Unlock()

	for client := range clients {
		_ = client.Close()
	}
	p.log.Infow("ssh_pool_closed", "sessions", len(clients))
	return nil
}
