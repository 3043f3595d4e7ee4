package daemon

import (
	"time"

	"github.com/google/uuid"
)

// healthCheck implements §4.6.4, run once per HealthCheckInterval tick from
// inside run (so it needs no lock): hung-worker detection, idle retirement,
// and floor maintenance. Liveness (EOF while idle) is handled as it happens,
// via evWorkerDead, not on this tick.
func (d *Daemon) healthCheck() {
	d.checkHungWorkers()
	d.checkIdleRetirement()
	d.maintainFloor()
}

// checkHungWorkers kills (SIGTERM, then SIGKILL after GracePeriod) any
// worker that has been Busy longer than RequestTimeout, answers its waiting
// client with an error, and lets handleWorkerDeath's respawn-on-EOF path
// backfill the pool once the kill takes effect.
func (d *Daemon) checkHungWorkers() {
	now := time.Now()
	for id, entry := range d.busy {
		if now.Sub(entry.dispatchedAt) < d.cfg.RequestTimeout {
			continue
		}
		h, ok := d.workers[id]
		if !ok {
			continue
		}
		d.metrics.TimeoutKills++
		logger.Warnf("worker %s exceeded request timeout, terminating", id)
		delete(d.busy, id)
		d.respondError(entry.clientConn, entry.clientMsgID, "request timed out")
		d.killWithGrace(h)
		d.forgetWorker(id)
	}
}

// checkIdleRetirement implements the idle_timeout half of §4.6.4: a worker
// idle longer than IdleTimeout is retired, but only while the pool has more
// than MinWorkers total, so retirement never dips the pool below its floor.
func (d *Daemon) checkIdleRetirement() {
	now := time.Now()
	var keep []uuid.UUID
	for _, id := range d.idle {
		h, ok := d.workers[id]
		if !ok {
			continue
		}
		if len(d.workers) > d.cfg.MinWorkers && now.Sub(h.idleSince) >= d.cfg.IdleTimeout {
			d.metrics.IdleRetirements++
			d.retireWorker(id)
			continue
		}
		keep = append(keep, id)
	}
	d.idle = keep
}

// maintainFloor implements §4.6.4's floor maintenance: spawn replacements
// whenever idle+busy workers fall under MinWorkers (e.g. after a crash or a
// retirement that raced this tick).
func (d *Daemon) maintainFloor() {
	for len(d.workers) < d.cfg.MinWorkers {
		h, err := d.spawner.spawn()
		if err != nil {
			logger.Errorf("maintaining worker floor: %v", err)
			return
		}
		d.registerWorker(h)
	}
}

// killWithGrace sends SIGTERM and schedules a SIGKILL after GracePeriod if
// the process hasn't exited on its own by then, per §4.6.4/§4.6.6's
// "terminate gracefully, escalate after a grace period" shape.
func (d *Daemon) killWithGrace(h *workerHandle) {
	if h.proc == nil {
		return
	}
	h.proc.Signal(signalTerm)
	proc := h.proc
	time.AfterFunc(d.cfg.GracePeriod, func() {
		proc.Kill()
	})
}
