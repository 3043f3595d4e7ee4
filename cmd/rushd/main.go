// rushd is the daemon control entry point: `rushd start|stop|status|reload`
// per §6.3, following mvdan-sh/cmd/gosh/main.go's flag-based bootstrapping.
// The same binary doubles as the forked worker entry point — when
// RUSH_WORKER_MODE=1 is set (the convention internal/daemon's processSpawner
// uses), it skips argument parsing entirely and runs the Worker loop on fd 3.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/rushshell/rush/internal/daemon"
	"github.com/rushshell/rush/internal/worker"
)

func main() {
	if os.Getenv("RUSH_WORKER_MODE") == "1" {
		if err := worker.RunChild(3); err != nil {
			fmt.Fprintf(os.Stderr, "rushd: worker: %v\n", err)
			os.Exit(1)
		}
		return
	}
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: rushd start|stop|status|reload")
		return 2
	}
	switch args[0] {
	case "start":
		return cmdStart()
	case "stop":
		return cmdStop()
	case "status":
		return cmdStatus()
	case "reload":
		return cmdReload()
	default:
		fmt.Fprintf(os.Stderr, "rushd: unknown command %q\n", args[0])
		return 2
	}
}

// rushDir is ${HOME}/.rush, the directory §6.1 anchors the pid file and
// undo directory under; the control socket prefers XDG_RUNTIME_DIR when set.
func rushDir() string {
	return filepath.Join(os.Getenv("HOME"), ".rush")
}

func socketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, ".rush", "daemon.sock")
	}
	return filepath.Join(rushDir(), "daemon.sock")
}

func pidPath() string {
	return filepath.Join(rushDir(), "daemon.pid")
}

func cmdStart() int {
	if err := os.MkdirAll(filepath.Dir(socketPath()), 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "rushd: %v\n", err)
		return 1
	}
	if err := os.MkdirAll(rushDir(), 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "rushd: %v\n", err)
		return 1
	}
	if pid, ok := readPID(); ok && processAlive(pid) {
		fmt.Fprintf(os.Stderr, "rushd: already running (pid %d)\n", pid)
		return 1
	}

	exePath, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "rushd: %v\n", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	d := daemon.New(daemon.LoadConfigFromEnv(), socketPath(), pidPath(), exePath)
	if err := d.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "rushd: %v\n", err)
		return 1
	}
	return 0
}

func cmdStop() int {
	pid, ok := readPID()
	if !ok {
		fmt.Fprintln(os.Stderr, "rushd: not running")
		return 1
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rushd: %v\n", err)
		return 1
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		fmt.Fprintf(os.Stderr, "rushd: %v\n", err)
		return 1
	}
	return 0
}

func cmdStatus() int {
	pid, ok := readPID()
	if !ok || !processAlive(pid) {
		fmt.Println("rushd: not running")
		return 1
	}
	fmt.Printf("rushd: running (pid %d, socket %s)\n", pid, socketPath())
	return 0
}

// cmdReload re-reads ~/.rushrc, a collaborator concern (§6.3/§10's
// Non-goals) the dispatch plane itself does not interpret; rushd's part is
// just confirming a live daemon to signal.
func cmdReload() int {
	pid, ok := readPID()
	if !ok || !processAlive(pid) {
		fmt.Fprintln(os.Stderr, "rushd: not running")
		return 1
	}
	fmt.Println("rushd: reload is a collaborator concern (~/.rushrc); no dispatch-plane state to reload")
	return 0
}

func readPID() (int, bool) {
	data, err := os.ReadFile(pidPath())
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	return pid, true
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
