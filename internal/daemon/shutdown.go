package daemon

import (
	"os"
	"syscall"
	"time"

	"github.com/rushshell/rush/internal/wire"
)

// signalTerm is split out so it reads as a name at call sites in
// health.go/shutdown.go rather than a bare syscall constant.
var signalTerm = syscall.SIGTERM

// shutdown implements §4.6.6: stop accepting new connections, ask every
// worker to exit gracefully, give them GracePeriod to do so, then SIGKILL
// any stragglers. Called once from run when ctx is canceled.
func (d *Daemon) shutdown() {
	d.listener.Close()

	for id, h := range d.workers {
		if err := wire.WriteMessage(h.conn, 0, &wire.Message{Kind: wire.KindShutdown, Force: false}); err != nil {
			logger.Warnf("sending shutdown to worker %s: %v", id, err)
		}
	}

	deadline := time.Now().Add(d.cfg.GracePeriod)
	for _, h := range d.workers {
		waitForExit(h.proc, time.Until(deadline))
	}

	for id := range d.workers {
		d.forgetWorker(id)
	}
}

// waitForExit blocks until proc exits or timeout elapses, escalating to
// SIGKILL if it hasn't exited on its own by then.
func waitForExit(proc *os.Process, timeout time.Duration) {
	if proc == nil {
		return
	}
	if timeout <= 0 {
		proc.Kill()
		return
	}
	done := make(chan struct{})
	go func(p *os.Process) {
		p.Wait()
		close(done)
	}(proc)
	select {
	case <-done:
	case <-time.After(timeout):
		proc.Kill()
	}
}
