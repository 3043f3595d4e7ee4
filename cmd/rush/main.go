// rush is the shell CLI: `rush -c "<command>"` or `rush <script.sh>`,
// following mvdan-sh/cmd/gosh/main.go's flag-based shape, extended with the
// daemon warm path §6.3 describes (connect and send one SessionInit when
// the control socket exists, fall back to an in-process cold-path Executor
// otherwise). SIGINT/SIGTERM delivery to the cold-path Executor is handled
// by rtime.TrapTable's own signal.Notify goroutine, not here.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"github.com/rushshell/rush/internal/builtin"
	"github.com/rushshell/rush/internal/client"
	"github.com/rushshell/rush/internal/interp"
	"github.com/rushshell/rush/internal/rtime"
)

var command = flag.String("c", "", "command to be executed")

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	argv := buildArgv(*command, flag.Args())
	if code, ok := tryDaemon(argv); ok {
		return code
	}
	return runCold(argv)
}

// buildArgv assembles the conventional ["rush", ...] argv the wire
// protocol and the in-process Executor both expect, matching what
// internal/worker.execute parses on the daemon side. cmdFlag/rest are
// passed in explicitly (rather than read from the flag package directly)
// so tests can exercise every branch without touching global flag state.
func buildArgv(cmdFlag string, rest []string) []string {
	if cmdFlag != "" {
		return []string{"rush", "-c", cmdFlag}
	}
	if len(rest) > 0 {
		return append([]string{"rush"}, rest...)
	}
	return []string{"rush"}
}

// tryDaemon attempts the warm path: dial the control socket and send one
// SessionInit, per §6.3's "if the daemon socket exists, connects and sends
// one SessionInit". It reports ok=false whenever the cold path should run
// instead (no daemon, or this is an interactive/stdin invocation the
// daemon's one-shot protocol cannot serve).
func tryDaemon(argv []string) (code int, ok bool) {
	if len(argv) < 2 || argv[1] != "-c" {
		return 0, false // scripts and interactive stdin always run cold
	}
	conn, err := client.Dial(socketPath())
	if err != nil {
		return 0, false
	}
	defer conn.Close()

	cwd, _ := os.Getwd()
	stdinTTY := term.IsTerminal(int(os.Stdin.Fd()))
	result, err := client.RunOneShot(conn, argv, client.Environ(), cwd, stdinTTY, os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rush: %v\n", err)
		return 0, false
	}
	return result, true
}

func socketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, ".rush", "daemon.sock")
	}
	return filepath.Join(os.Getenv("HOME"), ".rush", "daemon.sock")
}

// runCold executes argv in-process, without a daemon: `-c` evaluates a
// literal command string, a bare path runs that script, and no arguments
// at all either drops into an interactive REPL (a TTY stdin) or reads a
// script from stdin (a pipe), mirroring gosh's runAll split.
func runCold(argv []string) int {
	rt := rtime.New()
	exe := interp.New(rt, os.Stdout, os.Stderr, os.Stdin)

	rest := argv[1:]
	switch {
	case len(rest) >= 2 && rest[0] == "-c":
		return exe.EvalString(rest[1]).ExitCode
	case len(rest) > 0:
		return exe.RunFile(rest[0], rest[1:]).ExitCode
	case term.IsTerminal(int(os.Stdin.Fd())):
		return runInteractive(exe, os.Stdin, os.Stdout)
	default:
		return runStdin(exe)
	}
}

func runStdin(exe *interp.Executor) int {
	src, err := readAll(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rush: %v\n", err)
		return 1
	}
	return exe.EvalString(src).ExitCode
}

// runInteractive is a minimal REPL: read one line at a time, evaluating
// each as its own statement. cmd/gosh's InteractiveSeq-based multi-line
// continuation is out of scope for the dispatch-plane spec this CLI
// fronts; this loop is line-buffered rather than parser-driven. in/out
// are taken as parameters (rather than os.Stdin/os.Stdout directly), the
// same way gosh's runInteractive does, so tests can drive it over pipes.
func runInteractive(exe *interp.Executor, in io.Reader, out io.Writer) int {
	fmt.Fprint(out, "$ ")
	var b strings.Builder
	buf := make([]byte, 1)
	last := 0
	for {
		n, err := in.Read(buf)
		if n > 0 {
			if buf[0] == '\n' {
				res := exe.EvalString(b.String())
				last = res.ExitCode
				if res.Control == builtin.ControlExit {
					return last
				}
				b.Reset()
				fmt.Fprint(out, "$ ")
				continue
			}
			b.WriteByte(buf[0])
		}
		if err != nil {
			break
		}
	}
	if b.Len() > 0 {
		last = exe.EvalString(b.String()).ExitCode
	}
	return last
}

func readAll(f *os.File) (string, error) {
	data, err := io.ReadAll(f)
	return string(data), err
}
