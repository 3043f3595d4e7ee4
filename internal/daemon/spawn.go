package daemon

import (
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/rushshell/rush/internal/worker"
)

// workerConn is the socket end the Daemon holds for one worker: a real
// fork/exec gives it an *os.File, while tests substitute a net.Pipe end so
// dispatch/health/crash-recovery can be exercised without a real process.
type workerConn interface {
	io.Reader
	io.Writer
	io.Closer
}

// workerHandle is the Daemon's record of one spawned Worker: its socket
// end, its OS process (nil for an in-process test double), and the
// bookkeeping §4.6.1's "Worker{id, pid, socket, Idle, stats}" names.
type workerHandle struct {
	id              uuid.UUID
	conn            workerConn
	proc            *os.Process
	requestsHandled int
	idleSince       time.Time
}

// spawner creates one new worker and blocks until its ready handshake
// completes, per §4.6.1. It is an interface so tests can substitute an
// in-process Worker (net.Pipe + a goroutine) for a real fork+exec, the way
// nayrosk-claude-cowork-service/pipe.Server takes its VMBackend as an
// injected interface rather than hardcoding process management.
type spawner interface {
	spawn() (*workerHandle, error)
}

// processSpawner forks a worker by re-executing the current binary with
// RUSH_WORKER_MODE=1 and a socketpair fd passed as an ExtraFile, grounded on
// tjper-teleport/internal/jobworker/reexec.Exec's fd-3/fd-4 pipe-handoff
// convention (generalized here to a single duplex socket rather than reexec's
// one-way command+continue pipes).
type processSpawner struct {
	execPath     string
	handshakeTimeout time.Duration
}

func newProcessSpawner(execPath string) *processSpawner {
	return &processSpawner{execPath: execPath, handshakeTimeout: 5 * time.Second}
}

func (s *processSpawner) spawn() (*workerHandle, error) {
	pair, err := socketpair()
	if err != nil {
		return nil, errors.Wrap(err, "daemon: socketpair")
	}
	daemonEnd, workerEnd := pair[0], pair[1]

	cmd := exec.Command(s.execPath)
	cmd.Env = append(os.Environ(), "RUSH_WORKER_MODE=1")
	cmd.ExtraFiles = []*os.File{workerEnd}
	cmd.Stdin = nil
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		daemonEnd.Close()
		workerEnd.Close()
		return nil, errors.Wrap(err, "daemon: starting worker process")
	}
	workerEnd.Close() // the child owns its copy of the fd now

	if err := waitForReadyByte(daemonEnd, s.handshakeTimeout); err != nil {
		cmd.Process.Kill()
		daemonEnd.Close()
		return nil, errors.Wrap(err, "daemon: worker ready handshake")
	}

	return &workerHandle{
		id:        uuid.New(),
		conn:      daemonEnd,
		proc:      cmd.Process,
		idleSince: time.Now(),
	}, nil
}

func waitForReadyByte(f *os.File, timeout time.Duration) error {
	f.SetReadDeadline(time.Now().Add(timeout))
	defer f.SetReadDeadline(time.Time{})
	buf := make([]byte, 1)
	n, err := f.Read(buf)
	if err != nil {
		return err
	}
	if n != 1 || buf[0] != worker.ReadyByte {
		return errors.Errorf("unexpected ready handshake byte %v", buf[:n])
	}
	return nil
}

func socketpair() ([2]*os.File, error) {
	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	if err != nil {
		return [2]*os.File{}, err
	}
	return [2]*os.File{
		os.NewFile(uintptr(fds[0]), "daemon-worker-socket"),
		os.NewFile(uintptr(fds[1]), "worker-daemon-socket"),
	}, nil
}
