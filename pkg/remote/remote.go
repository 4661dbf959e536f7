package remote

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cuemby/burrow/pkg/types"
)

// Target is the resolved address of one node
type Target struct {
	NodeID  string
	Address string
	Port    int
}

// Credentials authenticate a remote execution. PrivateKeyPEM takes
// precedence over Password when both are set.
type Credentials struct {
	Username      string
	PrivateKeyPEM []byte
	Password      string
}

// ExecOptions tune a single execution
type ExecOptions struct {
	// Timeout bounds connection setup and command execution. Zero means the
	// caller's context is the only deadline.
	Timeout time.Duration

	// Container scopes the command inside a named container on the node
	Container string

	// Stdin is streamed to the command when set
	Stdin io.Reader
}

// Channel executes commands on remote nodes. Implementations never return
// failures out of band: connection, authentication and timeout failures are
// reported in NodeOutput.Err.
type Channel interface {
	Execute(ctx context.Context, target Target, command string, creds Credentials, opts ExecOptions) types.NodeOutput
}

// Quote single-quotes s for a POSIX shell
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ContainerCommand wraps command so that it runs inside container through
// the given container CLI. Stdin is attached when interactive is set.
func ContainerCommand(cli, container, command string, interactive bool) string {
	if container == "" {
		return command
	}
	if cli == "" {
		cli = "docker"
	}
	flags := ""
	if interactive {
		flags = "-i "
	}
	return fmt.Sprintf("%s exec %s%s sh -c %s", cli, flags, Quote(container), Quote(command))
}
