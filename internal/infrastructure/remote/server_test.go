package remote

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// testServer is a minimal SSH server that understands a handful of fixed
// commands and the sftp subsystem.
type testServer struct {
	t        *testing.T
	listener net.Listener
	config   *ssh.ServerConfig

	mu    sync.Mutex
	conns []net.Conn

	accepted atomic.Int32
	running  atomic.Int32
	maxRun   atomic.Int32
}

func newSigner(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	return signer
}

func newTestServer(t *testing.T, authorized ssh.PublicKey) *testServer {
	t.Helper()
	s := &testServer{t: t}
	s.config = &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), authorized.Marshal()) {
				return nil, nil
			}
			return nil, errors.New("unknown key")
		},
	}
	s.config.AddHostKey(newSigner(t))

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s.listener = l
	t.Cleanup(s.close)

	go s.serve()
	return s
}

func (s *testServer) addr() string {
	return s.listener.Addr().String()
}

func (s *testServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		go s.handle(conn)
	}
}

// dropConnections kills every established connection from the server side.
func (s *testServer) dropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.conns = nil
}

func (s *testServer) close() {
	_ = s.listener.Close()
	s.dropConnections()
}

func (s *testServer) handle(conn net.Conn) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		_ = conn.Close()
		return
	}
	s.accepted.Add(1)
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		go s.session(ch, requests, sconn.User())
	}
}

func (s *testServer) session(ch ssh.Channel, requests <-chan *ssh.Request, user string) {
	closed := make(chan struct{})
	defer close(closed)

	for req := range requests {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			go s.exec(ch, payload.Command, user, closed)
		case "subsystem":
			var payload struct{ Name string }
			_ = ssh.Unmarshal(req.Payload, &payload)
			if payload.Name != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			go func() {
				server, err := sftp.NewServer(ch)
				if err == nil {
					_ = server.Serve()
				}
				_ = ch.Close()
			}()
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func (s *testServer) exec(ch ssh.Channel, cmd, user string, closed <-chan struct{}) {
	var stdout, stderr string
	status := 0

	switch {
	case cmd == "echo ok":
		stdout = "ok\n"
	case cmd == "whoami":
		stdout = user + "\n"
	case strings.HasPrefix(cmd, "exit "):
		status, _ = strconv.Atoi(strings.TrimPrefix(cmd, "exit "))
		stderr = "command failed\n"
	case cmd == "sleep":
		select {
		case <-closed:
			return
		case <-time.After(5 * time.Second):
		}
	case cmd == "hold":
		n := s.running.Add(1)
		for {
			peak := s.maxRun.Load()
			if n <= peak || s.maxRun.CompareAndSwap(peak, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		s.running.Add(-1)
		stdout = "held\n"
	default:
		stdout = "ran: " + cmd + "\n"
	}

	_, _ = ch.Write([]byte(stdout))
	_, _ = ch.Stderr().Write([]byte(stderr))
	_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(status)}))
	_ = ch.Close()
}

// newClosedAddr returns an address nothing listens on.
func newClosedAddr() (string, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	addr := l.Addr().String()
	return addr, l.Close()
}

// stallingProxy forwards TCP to an upstream address until stall is called,
// after which every byte in either direction is swallowed. Connections stay
// open, like a peer that vanished without a reset.
type stallingProxy struct {
	listener net.Listener
	upstream string
	stalled  atomic.Bool

	mu    sync.Mutex
	conns []net.Conn
}

func newStallingProxy(t *testing.T, upstream string) *stallingProxy {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	p := &stallingProxy{listener: l, upstream: upstream}
	t.Cleanup(p.close)
	go p.serve()
	return p
}

func (p *stallingProxy) addr() string {
	return p.listener.Addr().String()
}

func (p *stallingProxy) stall() {
	p.stalled.Store(true)
}

func (p *stallingProxy) serve() {
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			return
		}
		up, err := net.Dial("tcp", p.upstream)
		if err != nil {
			_ = conn.Close()
			continue
		}
		p.mu.Lock()
		p.conns = append(p.conns, conn, up)
		p.mu.Unlock()
		go p.pipe(up, conn)
		go p.pipe(conn, up)
	}
}

func (p *stallingProxy) pipe(dst, src net.Conn) {
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if err != nil {
			return
		}
		if p.stalled.Load() {
			continue
		}
		if _, err := dst.Write(buf[:n]); err != nil {
			return
		}
	}
}

func (p *stallingProxy) close() {
	_ = p.listener.Close()
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.conns {
		_ = c.Close()
	}
	p.conns = nil
}
