package daemon

import (
	"context"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/rushshell/rush/internal/wire"
)

// eventKind tags the variants daemonEvent carries over d.events, the single
// channel every blocking-read goroutine funnels into the one goroutine
// (run) that is allowed to touch pool state.
type eventKind int

const (
	evSessionInit eventKind = iota
	evStatsRequest
	evWorkerResponse
	evWorkerDead
)

// daemonEvent is the only thing that crosses from a reader goroutine
// (acceptLoop/readClientFirstMessage/workerReader) into run. Only the
// fields relevant to kind are populated.
type daemonEvent struct {
	kind eventKind

	// evSessionInit / evStatsRequest
	conn  net.Conn
	msg   *wire.Message
	msgID uint64

	// evWorkerResponse / evWorkerDead
	workerID uuid.UUID
	err      error
}

// registerWorker adds a freshly spawned worker to the pool and starts its
// reader goroutine. Called either serially before the event loop starts
// (the initial pool) or from inside run (replacing a retired/dead worker);
// both callers only ever touch d.workers/d.idle from a single goroutine at
// a time, so no lock is needed.
func (d *Daemon) registerWorker(h *workerHandle) {
	h.idleSince = time.Now()
	d.workers[h.id] = h
	d.idle = append(d.idle, h.id)
	d.metrics.WorkersSpawned++
	d.wg.Add(1)
	go d.workerReader(h.id, h.conn)
}

// run is the single event-loop goroutine: it owns d.workers/d.idle/d.busy/
// d.metrics exclusively and is the only place they are mutated, per the
// package doc's no-locks design. It returns when ctx is canceled, after
// completing shutdown (§4.6.6).
func (d *Daemon) run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.shutdown()
			return nil
		case ev := <-d.events:
			d.handleEvent(ev)
		case <-ticker.C:
			d.healthCheck()
		}
	}
}

func (d *Daemon) handleEvent(ev daemonEvent) {
	switch ev.kind {
	case evSessionInit:
		d.dispatch(ev.conn, ev.msgID, ev.msg)
	case evStatsRequest:
		d.respondStats(ev.conn, ev.msgID)
	case evWorkerResponse:
		d.completeRequest(ev.workerID, ev.msg)
	case evWorkerDead:
		d.handleWorkerDeath(ev.workerID, ev.err)
	}
}

// dispatch implements §4.6.2: hand the request to an idle worker if one
// exists, spawn a fresh one if the pool has room, or tell the client the
// pool is saturated.
func (d *Daemon) dispatch(conn net.Conn, msgID uint64, msg *wire.Message) {
	if len(d.idle) == 0 && len(d.workers) < d.cfg.MaxWorkers {
		h, err := d.spawner.spawn()
		if err != nil {
			logger.Errorf("spawning worker on demand: %v", err)
		} else {
			d.registerWorker(h)
		}
	}

	if len(d.idle) == 0 {
		d.respondSaturated(conn, msgID)
		return
	}

	id := d.idle[len(d.idle)-1]
	d.idle = d.idle[:len(d.idle)-1]
	h := d.workers[id]

	d.busy[id] = &busyEntry{clientConn: conn, clientMsgID: msgID, dispatchedAt: time.Now()}

	if err := wire.WriteMessage(h.conn, msgID, msg); err != nil {
		logger.Errorf("forwarding request to worker %s: %v", id, err)
		delete(d.busy, id)
		d.respondError(conn, msgID, "worker unavailable")
		d.removeWorker(id, true)
	}
}

func (d *Daemon) respondSaturated(conn net.Conn, msgID uint64) {
	d.respondError(conn, msgID, "worker pool saturated")
}

func (d *Daemon) respondError(conn net.Conn, msgID uint64, reason string) {
	reply := &wire.Message{Kind: wire.KindExecutionResult, ExitCode: 1, Stderr: "rush: " + reason + "\n"}
	if err := wire.WriteMessage(conn, msgID, reply); err != nil {
		logger.Warnf("writing error response: %v", err)
	}
	conn.Close()
}

// completeRequest implements §4.6.3: forward the worker's ExecutionResult to
// the waiting client, mark the worker idle again, and retire it if it has
// now served MaxRequestsPerWorker requests (§4.6.4's request-cap
// retirement, applied "at its next Idle transition").
func (d *Daemon) completeRequest(id uuid.UUID, msg *wire.Message) {
	entry, ok := d.busy[id]
	if !ok {
		logger.Warnf("response from worker %s with no matching request", id)
		return
	}
	delete(d.busy, id)

	if err := wire.WriteMessage(entry.clientConn, entry.clientMsgID, msg); err != nil {
		logger.Warnf("writing response to client: %v", err)
	}
	entry.clientConn.Close()
	d.metrics.RequestsHandled++

	h, ok := d.workers[id]
	if !ok {
		return // retired/dead in the meantime
	}
	h.requestsHandled++
	if h.requestsHandled >= d.cfg.MaxRequestsPerWorker {
		d.metrics.CapRetirements++
		d.retireWorker(id)
		return
	}
	h.idleSince = time.Now()
	d.idle = append(d.idle, id)
}

// handleWorkerDeath implements §4.6.5 (busy) and §4.6.4's Liveness check
// (idle): an unexpected EOF/read error on a worker's socket.
func (d *Daemon) handleWorkerDeath(id uuid.UUID, err error) {
	if entry, ok := d.busy[id]; ok {
		delete(d.busy, id)
		d.metrics.Crashes++
		d.respondError(entry.clientConn, entry.clientMsgID, "worker crashed during execution")
	} else {
		d.removeIdle(id)
	}
	d.forgetWorker(id)

	if len(d.workers) < d.cfg.MinWorkers {
		h, spawnErr := d.spawner.spawn()
		if spawnErr != nil {
			logger.Errorf("respawning after worker %s death: %v", id, spawnErr)
			return
		}
		d.registerWorker(h)
	}
}

// retireWorker sends a graceful Shutdown to a worker that is currently idle
// and removes it from the pool's bookkeeping; its process is left to exit on
// its own (workerReader will report the resulting EOF, which forgetWorker's
// caller has already accounted for).
func (d *Daemon) retireWorker(id uuid.UUID) {
	h, ok := d.workers[id]
	if !ok {
		return
	}
	if err := wire.WriteMessage(h.conn, 0, &wire.Message{Kind: wire.KindShutdown, Force: false}); err != nil {
		logger.Warnf("sending retirement shutdown to worker %s: %v", id, err)
	}
	d.forgetWorker(id)
}

// removeWorker forcibly terminates and forgets a worker, used when a write
// to it fails outright (it is presumed dead already).
func (d *Daemon) removeWorker(id uuid.UUID, kill bool) {
	h, ok := d.workers[id]
	if ok && kill && h.proc != nil {
		h.proc.Kill()
	}
	d.removeIdle(id)
	d.forgetWorker(id)
}

func (d *Daemon) removeIdle(id uuid.UUID) {
	for i, wid := range d.idle {
		if wid == id {
			d.idle = append(d.idle[:i], d.idle[i+1:]...)
			return
		}
	}
}

func (d *Daemon) forgetWorker(id uuid.UUID) {
	if h, ok := d.workers[id]; ok {
		h.conn.Close()
	}
	delete(d.workers, id)
}

// respondStats answers §6.5's StatsRequest using the installed
// StatsProvider.
func (d *Daemon) respondStats(conn net.Conn, msgID uint64) {
	static, dynamic := d.stats.Stats()
	reply := &wire.Message{
		Kind:         wire.KindStatsResponse,
		StaticStats:  static,
		DynamicStats: dynamic,
		UpdatedAt:    time.Now().Unix(),
	}
	if err := wire.WriteMessage(conn, msgID, reply); err != nil {
		logger.Warnf("writing stats response: %v", err)
	}
	conn.Close()
}

