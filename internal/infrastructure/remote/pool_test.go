package remote

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sentinel/console/internal/config"
	"github.com/sentinel/console/internal/domain"
	"github.com/sentinel/console/internal/infrastructure/logger"
	"github.com/sentinel/console/internal/infrastructure/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func newTestPool(t *testing.T, signer ssh.Signer) *Pool {
	t.Helper()
	return newTestPoolWithTimeouts(t, signer, 2*time.Second, time.Second, 2*time.Second)
}

func newTestPoolWithTimeouts(t *testing.T, signer ssh.Signer, connect, liveness, command time.Duration) *Pool {
	t.Helper()
	cfg := NewPoolConfig(config.SSHConfig{
		User:           "hermes-admin",
		PrivilegedUser: "root",
		ConnectTimeout: connect,
		ProbeTimeout:   liveness,
		CommandTimeout: command,
	}, signer)
	pool := NewPool(cfg, logger.NewNop(), metrics.NewCollector())
	t.Cleanup(func() { _ = pool.Close() })
	return pool
}

func TestExecuteReusesSession(t *testing.T) {
	signer := newSigner(t)
	server := newTestServer(t, signer.PublicKey())
	pool := newTestPool(t, signer)
	ctx := context.Background()
	target := domain.Standard(server.addr())

	first := pool.Execute(ctx, target, "uptime", time.Second)
	require.True(t, first.Success, first.Stderr)
	assert.Equal(t, "ran: uptime", first.Output())
	assert.Equal(t, 0, first.ExitCode)

	second := pool.Execute(ctx, target, "hostname", time.Second)
	require.True(t, second.Success, second.Stderr)

	assert.Equal(t, int32(1), server.accepted.Load())
	assert.Equal(t, 1, pool.Size())
}

func TestExecuteReconnectsDeadSession(t *testing.T) {
	signer := newSigner(t)
	server := newTestServer(t, signer.PublicKey())
	pool := newTestPool(t, signer)
	ctx := context.Background()
	target := domain.Standard(server.addr())

	require.True(t, pool.Execute(ctx, target, "uptime", time.Second).Success)

	server.dropConnections()

	res := pool.Execute(ctx, target, "uptime", time.Second)
	assert.True(t, res.Success, "stale session must be replaced transparently: %s", res.Stderr)
	assert.Equal(t, "ran: uptime", res.Output())
	assert.Equal(t, int32(2), server.accepted.Load())
	assert.Equal(t, 1, pool.Size())
}

func TestExecuteUnresponsivePeerReturnsWithinTimeouts(t *testing.T) {
	signer := newSigner(t)
	server := newTestServer(t, signer.PublicKey())
	proxy := newStallingProxy(t, server.addr())
	pool := newTestPoolWithTimeouts(t, signer, 500*time.Millisecond, 200*time.Millisecond, time.Second)
	ctx := context.Background()
	target := domain.Standard(proxy.addr())

	require.True(t, pool.Execute(ctx, target, "uptime", time.Second).Success)
	proxy.stall()

	done := make(chan domain.CommandResult, 1)
	go func() { done <- pool.Execute(ctx, target, "uptime", time.Second) }()

	select {
	case res := <-done:
		assert.False(t, res.Success)
		assert.Equal(t, -1, res.ExitCode)
		assert.Equal(t, 0, pool.Size(), "the stalled connection must be discarded")
	case <-time.After(3 * time.Second):
		t.Fatal("Execute did not return after liveness and connect timeouts")
	}
}

func TestExecuteSessionOpenStallDiscardsConnection(t *testing.T) {
	signer := newSigner(t)
	server := newTestServer(t, signer.PublicKey())
	proxy := newStallingProxy(t, server.addr())
	pool := newTestPool(t, signer)

	require.True(t, pool.Execute(context.Background(), domain.Standard(proxy.addr()), "uptime", time.Second).Success)

	var client *ssh.Client
	for c := range pool.clients {
		client = c
	}
	require.NotNil(t, client)
	proxy.stall()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := runCommand(ctx, client, "uptime")
	assert.ErrorIs(t, err, errSessionStalled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)

	_, err = client.NewSession()
	assert.Error(t, err, "a stalled client is closed")
}

func TestCloseDoesNotWaitForStuckCommand(t *testing.T) {
	signer := newSigner(t)
	server := newTestServer(t, signer.PublicKey())
	proxy := newStallingProxy(t, server.addr())
	pool := newTestPoolWithTimeouts(t, signer, 10*time.Second, 10*time.Second, 10*time.Second)
	ctx := context.Background()
	target := domain.Standard(proxy.addr())

	require.True(t, pool.Execute(ctx, target, "uptime", 10*time.Second).Success)
	proxy.stall()

	executed := make(chan domain.CommandResult, 1)
	go func() { executed <- pool.Execute(ctx, target, "uptime", 10*time.Second) }()
	time.Sleep(200 * time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- pool.Close() }()

	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on a command in flight")
	}

	select {
	case res := <-executed:
		assert.False(t, res.Success)
		assert.Equal(t, -1, res.ExitCode)
	case <-time.After(2 * time.Second):
		t.Fatal("closing the pool did not release the stuck command")
	}
	assert.Equal(t, 0, pool.Size())
}

func TestExecuteNonZeroExitIsData(t *testing.T) {
	signer := newSigner(t)
	server := newTestServer(t, signer.PublicKey())
	pool := newTestPool(t, signer)

	res := pool.Execute(context.Background(), domain.Standard(server.addr()), "exit 3", time.Second)
	assert.False(t, res.Success)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "command failed", res.Output())
}

func TestExecuteTimeoutKeepsSession(t *testing.T) {
	signer := newSigner(t)
	server := newTestServer(t, signer.PublicKey())
	pool := newTestPool(t, signer)
	ctx := context.Background()
	target := domain.Standard(server.addr())

	res := pool.Execute(ctx, target, "sleep", 100*time.Millisecond)
	assert.False(t, res.Success)
	assert.Equal(t, -1, res.ExitCode)
	assert.Contains(t, res.Stderr, "timed out")

	after := pool.Execute(ctx, target, "uptime", time.Second)
	assert.True(t, after.Success, after.Stderr)
	assert.Equal(t, int32(1), server.accepted.Load(), "timeout must not discard the pooled connection")
}

func TestExecuteConnectFailureIsResult(t *testing.T) {
	signer := newSigner(t)
	pool := newTestPool(t, signer)

	l, err := newClosedAddr()
	require.NoError(t, err)

	res := pool.Execute(context.Background(), domain.Standard(l), "uptime", time.Second)
	assert.False(t, res.Success)
	assert.Equal(t, -1, res.ExitCode)
	assert.NotEmpty(t, res.Stderr)
	assert.Equal(t, 0, pool.Size())
}

func TestExecuteRejectedKey(t *testing.T) {
	server := newTestServer(t, newSigner(t).PublicKey())
	pool := newTestPool(t, newSigner(t))

	res := pool.Execute(context.Background(), domain.Standard(server.addr()), "uptime", time.Second)
	assert.False(t, res.Success)
	assert.Equal(t, -1, res.ExitCode)
	assert.Contains(t, res.Stderr, "authentication failed")
}

func TestPrincipalsArePooledSeparately(t *testing.T) {
	signer := newSigner(t)
	server := newTestServer(t, signer.PublicKey())
	pool := newTestPool(t, signer)
	ctx := context.Background()

	std := pool.Execute(ctx, domain.Standard(server.addr()), "whoami", time.Second)
	priv := pool.Execute(ctx, domain.Privileged(server.addr()), "whoami", time.Second)

	assert.Equal(t, "hermes-admin", std.Output())
	assert.Equal(t, "root", priv.Output())
	assert.Equal(t, int32(2), server.accepted.Load())
	assert.Equal(t, 2, pool.Size())
}

func TestUnknownPrincipal(t *testing.T) {
	pool := newTestPool(t, newSigner(t))
	res := pool.Execute(context.Background(), domain.RemoteTarget{Host: "10.0.0.1", Principal: "guest"}, "uptime", time.Second)
	assert.False(t, res.Success)
	assert.Contains(t, res.Stderr, "unknown principal")
}

func TestSameSessionSerialisesCommands(t *testing.T) {
	signer := newSigner(t)
	server := newTestServer(t, signer.PublicKey())
	pool := newTestPool(t, signer)
	ctx := context.Background()
	target := domain.Standard(server.addr())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := pool.Execute(ctx, target, "hold", 2*time.Second)
			assert.True(t, res.Success, res.Stderr)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), server.maxRun.Load())
	assert.Equal(t, int32(1), server.accepted.Load())
}

func TestClosedPool(t *testing.T) {
	signer := newSigner(t)
	server := newTestServer(t, signer.PublicKey())
	pool := newTestPool(t, signer)
	ctx := context.Background()
	target := domain.Standard(server.addr())

	require.True(t, pool.Execute(ctx, target, "uptime", time.Second).Success)
	require.NoError(t, pool.Close())
	require.NoError(t, pool.Close())
	assert.Equal(t, 0, pool.Size())

	res := pool.Execute(ctx, target, "uptime", time.Second)
	assert.False(t, res.Success)
	assert.Contains(t, res.Stderr, ErrPoolClosed.Error())
}

func TestReadFileOverSFTP(t *testing.T) {
	signer := newSigner(t)
	server := newTestServer(t, signer.PublicKey())
	pool := newTestPool(t, signer)
	ctx := context.Background()
	target := domain.Standard(server.addr())

	dir := t.TempDir()
	path := filepath.Join(dir, "reboot-required.pkgs")
	require.NoError(t, os.WriteFile(path, []byte("linux-image-generic\nlibc6\n"), 0o644))

	data, err := pool.ReadFile(ctx, target, path)
	require.NoError(t, err)
	assert.Equal(t, "linux-image-generic\nlibc6\n", string(data))

	_, err = pool.ReadFile(ctx, target, filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, fs.ErrNotExist)

	res := pool.Execute(ctx, target, "uptime", time.Second)
	assert.True(t, res.Success, "pooled connection survives sftp use")
	assert.Equal(t, int32(1), server.accepted.Load())
}
