package remote

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/cuemby/burrow/pkg/errdefs"
)

// handler runs one exec request and returns its output and exit status
type handler func(command string, stdin []byte) (string, uint32)

// sessionHandler serves one exec request on the raw channel and returns the
// exit status
type sessionHandler func(ch ssh.Channel, command string) uint32

func (h handler) session(ch ssh.Channel, command string) uint32 {
	stdin, _ := io.ReadAll(ch)
	output, status := h(command, stdin)
	io.WriteString(ch, output)
	return status
}

type testServer struct {
	target    Target
	clientKey []byte
}

func generateKey(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	return key, pemBytes
}

func startServer(t *testing.T, h handler) *testServer {
	t.Helper()
	return startSessionServer(t, h.session)
}

func startSessionServer(t *testing.T, h sessionHandler) *testServer {
	t.Helper()

	hostKey, _ := generateKey(t)
	hostSigner, err := ssh.NewSignerFromKey(hostKey)
	require.NoError(t, err)

	clientKey, clientPEM := generateKey(t)
	authorized, err := ssh.NewPublicKey(&clientKey.PublicKey)
	require.NoError(t, err)

	config := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), authorized.Marshal()) {
				return nil, nil
			}
			return nil, assert.AnError
		},
		PasswordCallback: func(_ ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if string(password) == "secret" {
				return nil, nil
			}
			return nil, assert.AnError
		},
	}
	config.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go serveConn(conn, config, h)
		}
	}()

	addr := listener.Addr().(*net.TCPAddr)
	return &testServer{
		target:    Target{NodeID: "n1", Address: "127.0.0.1", Port: addr.Port},
		clientKey: clientPEM,
	}
}

func serveConn(conn net.Conn, config *ssh.ServerConfig, h sessionHandler) {
	_, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go serveSession(ch, requests, h)
	}
}

func serveSession(ch ssh.Channel, requests <-chan *ssh.Request, h sessionHandler) {
	defer ch.Close()
	for req := range requests {
		if req.Type != "exec" {
			req.Reply(false, nil)
			continue
		}
		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			req.Reply(false, nil)
			return
		}
		req.Reply(true, nil)

		status := h(ch, payload.Command)

		exit := make([]byte, 4)
		binary.BigEndian.PutUint32(exit, status)
		ch.SendRequest("exit-status", false, exit)
		return
	}
}

func newChannel(t *testing.T) *SSHChannel {
	t.Helper()
	ch, err := NewSSHChannel(SSHConfig{ConnectTimeout: 2 * time.Second})
	require.NoError(t, err)
	return ch
}

func TestExecuteWithKey(t *testing.T) {
	srv := startServer(t, func(command string, _ []byte) (string, uint32) {
		return strings.TrimPrefix(command, "echo ") + "\n", 0
	})

	out := newChannel(t).Execute(context.Background(), srv.target, "echo hi",
		Credentials{Username: "alice", PrivateKeyPEM: srv.clientKey}, ExecOptions{})

	require.NoError(t, out.Err)
	assert.Equal(t, "n1", out.NodeID)
	assert.Equal(t, "hi\n", out.Output)
	assert.Equal(t, 0, out.ExitStatus)
	assert.True(t, out.Succeeded())
}

func TestExecuteWithPassword(t *testing.T) {
	srv := startServer(t, func(string, []byte) (string, uint32) { return "ok", 0 })

	out := newChannel(t).Execute(context.Background(), srv.target, "true",
		Credentials{Username: "alice", Password: "secret"}, ExecOptions{})

	require.NoError(t, out.Err)
	assert.Equal(t, "ok", out.Output)
}

func TestExecuteNonZeroExitIsNotAnError(t *testing.T) {
	srv := startServer(t, func(string, []byte) (string, uint32) { return "boom", 3 })

	out := newChannel(t).Execute(context.Background(), srv.target, "false",
		Credentials{Username: "alice", PrivateKeyPEM: srv.clientKey}, ExecOptions{})

	assert.NoError(t, out.Err)
	assert.Equal(t, 3, out.ExitStatus)
	assert.Equal(t, "boom", out.Output)
	assert.False(t, out.Succeeded())
}

func TestExecuteKeepsStderrApart(t *testing.T) {
	stdout := bytes.Repeat([]byte("o"), 1<<20)
	stderr := bytes.Repeat([]byte("e"), 1<<20)
	srv := startSessionServer(t, func(ch ssh.Channel, _ string) uint32 {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			ch.Write(stdout)
		}()
		go func() {
			defer wg.Done()
			ch.Stderr().Write(stderr)
		}()
		wg.Wait()
		return 0
	})

	out := newChannel(t).Execute(context.Background(), srv.target, "noisy",
		Credentials{Username: "alice", PrivateKeyPEM: srv.clientKey}, ExecOptions{})

	require.NoError(t, out.Err)
	assert.Equal(t, string(stdout), out.Output)
	assert.Equal(t, string(stderr), out.Stderr)
}

func TestExecuteStreamsStdin(t *testing.T) {
	got := make(chan []byte, 1)
	srv := startServer(t, func(_ string, stdin []byte) (string, uint32) {
		got <- stdin
		return "", 0
	})

	out := newChannel(t).Execute(context.Background(), srv.target, "cat > /tmp/f",
		Credentials{Username: "alice", PrivateKeyPEM: srv.clientKey},
		ExecOptions{Stdin: strings.NewReader("payload")})

	require.NoError(t, out.Err)
	assert.Equal(t, []byte("payload"), <-got)
}

func TestExecuteAuthFailureIsConnectionError(t *testing.T) {
	srv := startServer(t, func(string, []byte) (string, uint32) { return "", 0 })

	out := newChannel(t).Execute(context.Background(), srv.target, "true",
		Credentials{Username: "alice", Password: "wrong"}, ExecOptions{})

	assert.True(t, errdefs.IsConnection(out.Err), "got %v", out.Err)
}

func TestExecuteUnreachableIsConnectionError(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	out := newChannel(t).Execute(context.Background(),
		Target{NodeID: "n2", Address: "127.0.0.1", Port: port}, "true",
		Credentials{Username: "alice", Password: "secret"}, ExecOptions{})

	assert.Equal(t, "n2", out.NodeID)
	assert.True(t, errdefs.IsConnection(out.Err), "got %v", out.Err)
}

func TestExecuteTimeout(t *testing.T) {
	srv := startServer(t, func(string, []byte) (string, uint32) {
		time.Sleep(2 * time.Second)
		return "", 0
	})

	start := time.Now()
	out := newChannel(t).Execute(context.Background(), srv.target, "sleep 2",
		Credentials{Username: "alice", PrivateKeyPEM: srv.clientKey},
		ExecOptions{Timeout: 200 * time.Millisecond})

	assert.True(t, errdefs.IsTimeout(out.Err), "got %v", out.Err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestExecuteMissingCredentials(t *testing.T) {
	out := newChannel(t).Execute(context.Background(),
		Target{NodeID: "n1", Address: "127.0.0.1", Port: 22}, "true",
		Credentials{Username: "alice"}, ExecOptions{})

	assert.True(t, errdefs.IsValidation(out.Err))
}

func TestContainerCommand(t *testing.T) {
	tests := []struct {
		name        string
		container   string
		interactive bool
		want        string
	}{
		{"host", "", false, "ls /"},
		{"container", "spark", false, "docker exec 'spark' sh -c 'ls /'"},
		{"interactive", "spark", true, "docker exec -i 'spark' sh -c 'ls /'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ContainerCommand("", tt.container, "ls /", tt.interactive))
		})
	}
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `'it'\''s'`, Quote("it's"))
	assert.Equal(t, "'a b'", Quote("a b"))
}
