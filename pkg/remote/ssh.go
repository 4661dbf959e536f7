package remote

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
)

const opExecute = "remote execute"

// SSHConfig configures an SSHChannel
type SSHConfig struct {
	ConnectTimeout time.Duration
	KnownHostsFile string
	ContainerCLI   string
}

// SSHChannel is a Channel over SSH. Every call opens its own connection, so
// a single SSHChannel is safe for concurrent use.
type SSHChannel struct {
	connectTimeout  time.Duration
	containerCLI    string
	hostKeyCallback ssh.HostKeyCallback
	logger          zerolog.Logger
}

// NewSSHChannel creates an SSH channel. Host keys are checked against
// KnownHostsFile when one is configured and accepted otherwise, since cluster
// nodes are ephemeral and their keys are not known ahead of time.
func NewSSHChannel(cfg SSHConfig) (*SSHChannel, error) {
	callback := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, errdefs.Validation("new ssh channel", "failed to load known hosts %s: %v", cfg.KnownHostsFile, err)
		}
		callback = cb
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	return &SSHChannel{
		connectTimeout:  cfg.ConnectTimeout,
		containerCLI:    cfg.ContainerCLI,
		hostKeyCallback: callback,
		logger:          log.WithComponent("remote"),
	}, nil
}

// Execute runs command on target and returns its output, with standard
// error kept apart. A command
// that runs and exits non-zero is not an error; its status is reported in
// ExitStatus.
func (c *SSHChannel) Execute(ctx context.Context, target Target, command string, creds Credentials, opts ExecOptions) types.NodeOutput {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RemoteExecDuration)

	out := types.NodeOutput{NodeID: target.NodeID}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	auth, err := authMethods(creds)
	if err != nil {
		out.Err = err
		return out
	}

	addr := net.JoinHostPort(target.Address, strconv.Itoa(target.Port))
	logger := c.logger.With().Str("node_id", target.NodeID).Str("addr", addr).Logger()
	logger.Debug().Str("user", creds.Username).Msg("Connecting")

	dialer := net.Dialer{Timeout: c.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		out.Err = classify(ctx, err, "failed to connect to %s", addr)
		return out
	}
	// Closing the connection is the only way to interrupt a blocked session
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            creds.Username,
		Auth:            auth,
		HostKeyCallback: c.hostKeyCallback,
		Timeout:         c.connectTimeout,
	})
	if err != nil {
		conn.Close()
		out.Err = classify(ctx, err, "ssh handshake with %s failed", addr)
		return out
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		out.Err = classify(ctx, err, "failed to open session on %s", addr)
		return out
	}
	defer session.Close()

	// The session copies each stream in its own goroutine
	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if opts.Stdin != nil {
		session.Stdin = opts.Stdin
	}

	err = session.Run(ContainerCommand(c.containerCLI, opts.Container, command, opts.Stdin != nil))
	out.Output = stdout.String()
	out.Stderr = stderr.String()
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			out.ExitStatus = exitErr.ExitStatus()
			logger.Debug().Int("exit_status", out.ExitStatus).Msg("Command exited non-zero")
			return out
		}
		out.Err = classify(ctx, err, "command failed on %s", addr)
		return out
	}

	return out
}

func authMethods(creds Credentials) ([]ssh.AuthMethod, error) {
	switch {
	case len(creds.PrivateKeyPEM) > 0:
		signer, err := ssh.ParsePrivateKey(creds.PrivateKeyPEM)
		if err != nil {
			return nil, errdefs.Validation(opExecute, "invalid private key: %v", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	case creds.Password != "":
		return []ssh.AuthMethod{ssh.Password(creds.Password)}, nil
	default:
		return nil, errdefs.Validation(opExecute, "no private key or password for user %q", creds.Username)
	}
}

// classify turns a transport failure into a Timeout when the deadline
// caused it and a Connection error otherwise.
func classify(ctx context.Context, err error, format string, args ...interface{}) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errdefs.Timeout(opExecute, err, format, args...)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errdefs.Timeout(opExecute, err, format, args...)
	}
	return errdefs.Connection(opExecute, err, format, args...)
}
