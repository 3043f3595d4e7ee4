// Package worker implements the Worker component of SPEC_FULL.md §4.5: the
// long-lived child process a Daemon forks, hosting one Runtime and one
// Executor behind a dedicated socket end.
//
// Grounded on tjper-teleport/internal/jobworker/reexec.Exec's read-pipes-
// then-run shape, generalized from a one-shot re-exec'd child that runs a
// single exec.Cmd into a loop that reads repeated wire.Message frames and
// dispatches each to a persistent Executor instead.
package worker

import (
	"bytes"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/rushshell/rush/internal/interp"
	"github.com/rushshell/rush/internal/rtime"
	"github.com/rushshell/rush/internal/rushlog"
	"github.com/rushshell/rush/internal/wire"
)

var logger = rushlog.New(io.Discard, "worker")

// SetLogOutput redirects the package logger; RunChild calls this once at
// startup to point worker logging at the process's stderr.
func SetLogOutput(w io.Writer) { logger = rushlog.New(w, "worker") }

// ReadyByte is the single byte a freshly forked Worker writes to its socket
// once its startup handshake is done, per §4.5/§4.6.1: the Daemon holds the
// worker out of the idle queue until this byte arrives.
const ReadyByte = 0x01

// RunChild bootstraps a forked worker process: it resets inherited signal
// dispositions (undoing any SIG_IGN the Daemon had in effect, which POSIX
// exec otherwise carries across), writes ReadyByte on fd to release it from
// the Daemon's pending-spawn wait, then runs the Worker loop until Shutdown
// or the socket closes. cmd/rushd's entry point calls this when it detects
// it was exec'd in worker mode.
func RunChild(fd uintptr) error {
	signal.Reset()
	SetLogOutput(os.Stderr) // spawn.go wires the child's stderr to the daemon's own
	f := os.NewFile(fd, "rush-worker-socket")
	if f == nil {
		return errors.Errorf("worker: fd %d is not a valid file descriptor", fd)
	}
	if _, err := f.Write([]byte{ReadyByte}); err != nil {
		return errors.WithStack(err)
	}
	return New(f).Serve()
}

// Worker owns one end of a socket pair, a Runtime, and an Executor. Its
// loop is strictly: read a message, act on SessionInit or Shutdown, and
// otherwise log and continue — per §4.5's contract. It keeps exactly one
// request in flight at a time (I4): Serve never reads the next frame until
// the previous one's response (or shutdown) has been handled.
type Worker struct {
	ID   uuid.UUID
	conn io.ReadWriter

	rt  *rtime.Runtime
	exe *interp.Executor
}

// New creates a Worker that will read and write wire frames on conn,
// hosting a fresh Runtime and Executor.
func New(conn io.ReadWriter) *Worker {
	rt := rtime.New()
	return &Worker{
		ID:   uuid.New(),
		conn: conn,
		rt:   rt,
		exe:  interp.New(rt, io.Discard, io.Discard, strings.NewReader("")),
	}
}

// Serve runs the Worker's read/dispatch loop until Shutdown is received or
// the connection closes. It returns nil on a clean Shutdown or EOF, and an
// error for any transport failure — the caller (cmd/rushd's worker entry
// point) treats an error return as a fatal condition and exits non-zero,
// per §4.5's "Worker exits non-zero without writing a response" clause.
func (w *Worker) Serve() error {
	for {
		msg, id, err := wire.ReadMessage(w.conn, 0)
		if err == wire.ErrConnectionClosed {
			return nil
		}
		if err != nil {
			return errors.WithStack(err)
		}

		switch msg.Kind {
		case wire.KindSessionInit:
			if err := w.handleSessionInit(id, msg); err != nil {
				return errors.WithStack(err)
			}
		case wire.KindShutdown:
			w.exe.RunExitTrap()
			return nil
		default:
			logger.Warnf("worker %s: ignoring unexpected message kind %q", w.ID, msg.Kind)
		}
	}
}

// handleSessionInit applies the request's env/cwd, runs its command to
// completion with stdout/stderr captured, and writes back the
// ExecutionResult — §4.5's "apply env+cwd, execute command,
// write_message(ExecutionResult)" step. Variables, functions, and traps
// set by prior requests are left untouched (the Worker's learned state).
func (w *Worker) handleSessionInit(id uint64, msg *wire.Message) error {
	w.rt.ResetForSession(msg.Env, msg.Cwd)

	// The wire protocol carries only the stdin_tty flag, not a stdin byte
	// stream (§6.2) — there is no channel on this socket to forward actual
	// input on, so the executed command always sees an empty stdin.
	var stdout, stderr bytes.Buffer
	w.exe.SetStreams(&stdout, &stderr, strings.NewReader(""))

	exitCode := w.execute(msg.Argv)

	reply := &wire.Message{
		Kind:     wire.KindExecutionResult,
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}
	return wire.WriteMessage(w.conn, id, reply)
}

// execute runs argv as either `-c <command>` (a literal command string, the
// shape `rush -c "..."` forwards per §6.3) or a script path with arguments,
// mirroring RunFile/EvalString's split in cmd/rush's cold path so both
// entry points share identical command-resolution semantics. argv carries
// the conventional leading program name (e.g. `["rush", "-c", "echo hi"]`),
// which is skipped before inspecting the remaining flag/operand shape.
func (w *Worker) execute(argv []string) int {
	if len(argv) > 0 {
		argv = argv[1:]
	}
	if len(argv) == 0 {
		return 0
	}
	if argv[0] == "-c" {
		if len(argv) < 2 {
			return 0
		}
		return w.exe.EvalString(argv[1]).ExitCode
	}
	return w.exe.RunFile(argv[0], argv[1:]).ExitCode
}
