// Package client implements the cold/warm split `rush -c` makes at startup
// (§6.3): if the daemon's control socket exists, send one SessionInit and
// print its result; otherwise fall back to running the command in-process.
//
// Grounded on mvdan-sh/cmd/gosh/main.go's run/runPath shape for the
// in-process fallback, and internal/wire's framing for the warm path.
package client

import (
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/rushshell/rush/internal/wire"
)

// ErrNoDaemon means nothing exists at socketPath; the caller should fall
// back to running argv in-process. A path that exists but refuses the
// connection yields a wrapped dial error instead.
var ErrNoDaemon = errors.New("client: no daemon listening")

// Dial connects to the daemon's control socket at socketPath. It returns
// ErrNoDaemon rather than a transport error when the socket simply isn't
// there, since that is the expected cold-path case rather than a failure.
func Dial(socketPath string) (net.Conn, error) {
	if _, err := os.Stat(socketPath); err != nil {
		return nil, ErrNoDaemon
	}
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return nil, errors.Wrap(err, "client: dial")
	}
	return conn, nil
}

// RunOneShot sends a single SessionInit built from argv/env/cwd/stdinTTY
// over conn, streams the ExecutionResult's stdout/stderr to the given
// writers, and returns its exit code.
func RunOneShot(conn net.Conn, argv []string, env map[string]string, cwd string, stdinTTY bool, stdout, stderr io.Writer) (int, error) {
	req := &wire.Message{
		Kind:     wire.KindSessionInit,
		Env:      env,
		Cwd:      cwd,
		Argv:     argv,
		StdinTTY: stdinTTY,
	}
	if err := wire.WriteMessage(conn, 1, req); err != nil {
		return 0, errors.Wrap(err, "client: sending request")
	}
	reply, _, err := wire.ReadMessage(conn, 0)
	if err != nil {
		return 0, errors.Wrap(err, "client: reading response")
	}
	if reply.Kind != wire.KindExecutionResult {
		return 0, fmt.Errorf("client: unexpected reply kind %q", reply.Kind)
	}
	io.WriteString(stdout, reply.Stdout)
	io.WriteString(stderr, reply.Stderr)
	return reply.ExitCode, nil
}

// Environ converts os.Environ()'s KEY=VALUE slice into the map SessionInit
// carries.
func Environ() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				out[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return out
}
