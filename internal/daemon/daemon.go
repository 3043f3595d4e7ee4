// Package daemon implements the Daemon (Worker Pool) component of
// SPEC_FULL.md §4.6: accepts client connections, dispatches each to an idle
// Worker, forwards responses, and maintains pool health.
//
// The spec models the Daemon as a single-threaded event loop (accept + poll
// + health tick) with no per-connection concurrency and therefore no locks.
// Go has no portable single-call multiplexing over an arbitrary set of
// sockets the way select(2)/epoll do, so this package gets the same
// no-locks-on-shared-state property a different way: every blocking read
// (accept, client request, worker response) happens on its own goroutine
// that does nothing but read and hand the result to one central goroutine
// over a channel. All pool state — the idle queue, the busy map, the
// worker registry, the metrics — is only ever touched from that one
// goroutine (run, in loop.go), which is the Go idiom for "one thread owns
// this state" in place of a literal OS-thread-single event loop.
//
// Grounded on tjper-teleport/internal/jobworker (reexec's fork/handshake
// shape, watch.ModWatcher's ticker-driven polling loop for the health
// monitor) and nayrosk-claude-cowork-service/pipe.Server (accept-loop/
// per-connection-goroutine shape, adapted here to fan into one event
// channel instead of handling each connection independently).
package daemon

import (
	"context"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/rushshell/rush/internal/rushlog"
	"github.com/rushshell/rush/internal/wire"
)

var logger = rushlog.New(os.Stderr, "daemon")

// SetLogOutput redirects the package logger, e.g. to a log file opened by
// cmd/rushd.
func SetLogOutput(w interface{ Write([]byte) (int, error) }) {
	logger = rushlog.New(w, "daemon")
}

// StatsProvider answers the §6.5 stats sub-protocol. The refresh policy and
// the interpretation of user-defined stat commands are a collaborator's
// concern; Daemon only needs something that can produce the two maps.
type StatsProvider interface {
	Stats() (static, dynamic map[string]string)
}

// PoolStats answers StatsProvider with the Daemon's own Metrics counters
// and pool sizing, the dynamic half of §6.5's StatsResponse that needs no
// collaborator at all. New installs this by default; SetStatsProvider
// can still override it with a collaborator's richer provider.
type PoolStats struct{ d *Daemon }

// Stats is only ever called from the event-loop goroutine (via
// respondStats), so reading d.metrics/d.workers/d.idle/d.busy here needs no
// lock, same as every other Daemon-state read in this package.
func (p PoolStats) Stats() (static, dynamic map[string]string) {
	d := p.d
	dynamic = map[string]string{
		"requests_handled": strconv.FormatUint(d.metrics.RequestsHandled, 10),
		"workers_spawned":   strconv.FormatUint(d.metrics.WorkersSpawned, 10),
		"crashes":           strconv.FormatUint(d.metrics.Crashes, 10),
		"timeout_kills":     strconv.FormatUint(d.metrics.TimeoutKills, 10),
		"idle_retirements":  strconv.FormatUint(d.metrics.IdleRetirements, 10),
		"cap_retirements":   strconv.FormatUint(d.metrics.CapRetirements, 10),
		"workers_idle":      strconv.Itoa(len(d.idle)),
		"workers_busy":      strconv.Itoa(len(d.busy)),
		"workers_total":     strconv.Itoa(len(d.workers)),
	}
	return nil, dynamic
}

// busyEntry records which client is waiting on which worker, per §4.6.2's
// "mark worker Busy{since, message_id, client_stream}".
type busyEntry struct {
	clientConn  net.Conn
	clientMsgID uint64
	dispatchedAt time.Time
}

// Metrics are the counters the stats sub-protocol and operators read;
// Daemon only ever mutates these from its single event-loop goroutine.
type Metrics struct {
	RequestsHandled   uint64
	WorkersSpawned    uint64
	Crashes           uint64
	TimeoutKills      uint64
	IdleRetirements   uint64
	CapRetirements    uint64
}

// Daemon owns the listener, the worker registry, the idle queue, the busy
// map, and the metrics counters (§5's "Shared resources").
type Daemon struct {
	cfg        Config
	socketPath string
	pidPath    string
	spawner    spawner
	stats      StatsProvider

	listener net.Listener

	workers map[uuid.UUID]*workerHandle
	idle    []uuid.UUID
	busy    map[uuid.UUID]*busyEntry
	metrics Metrics

	events chan daemonEvent
	wg     sync.WaitGroup
}

// New creates a Daemon that will listen on socketPath and fork workers by
// re-executing execPath (see processSpawner). pidPath, if non-empty, is
// written with the process's PID on Start (§6.1).
func New(cfg Config, socketPath, pidPath, execPath string) *Daemon {
	d := &Daemon{
		cfg:        cfg,
		socketPath: socketPath,
		pidPath:    pidPath,
		spawner:    newProcessSpawner(execPath),
		workers:    make(map[uuid.UUID]*workerHandle),
		busy:       make(map[uuid.UUID]*busyEntry),
		events:     make(chan daemonEvent, 64),
	}
	d.stats = PoolStats{d: d}
	return d
}

// SetStatsProvider installs a collaborator-supplied stats source in place
// of the PoolStats default that New installs.
func (d *Daemon) SetStatsProvider(p StatsProvider) { d.stats = p }

// Start opens the control socket, writes the pid file, fills the pool to
// MinWorkers, and runs the event loop until ctx is canceled (normally by
// SIGTERM/SIGINT via signal.NotifyContext in cmd/rushd). It returns after a
// full Shutdown (§4.6.6).
func (d *Daemon) Start(ctx context.Context) error {
	if err := os.Remove(d.socketPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "daemon: removing stale socket")
	}
	ln, err := net.Listen("unix", d.socketPath)
	if err != nil {
		return errors.Wrap(err, "daemon: listen")
	}
	d.listener = ln
	if err := os.Chmod(d.socketPath, 0o700); err != nil {
		ln.Close()
		return errors.Wrap(err, "daemon: chmod socket")
	}

	if d.pidPath != "" {
		pid := strconv.Itoa(os.Getpid()) + "\n"
		if err := os.WriteFile(d.pidPath, []byte(pid), 0o644); err != nil {
			logger.Warnf("writing pid file %s: %v", d.pidPath, err)
		}
	}

	// Fork the initial pool concurrently — each spawn blocks on its own
	// ready-handshake read, so doing them one at a time would serialize
	// MinWorkers fork/exec+handshake round trips at startup for no reason.
	// spawn() itself touches no Daemon state; only registerWorker (called
	// below, serially, before the event loop starts) does.
	handles := make([]*workerHandle, d.cfg.MinWorkers)
	var eg errgroup.Group
	for i := 0; i < d.cfg.MinWorkers; i++ {
		i := i
		eg.Go(func() error {
			h, err := d.spawner.spawn()
			if err != nil {
				return errors.Wrapf(err, "spawning initial worker %d/%d", i+1, d.cfg.MinWorkers)
			}
			handles[i] = h
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		logger.Errorf("starting initial pool: %v", err)
	}
	for _, h := range handles {
		if h != nil {
			d.registerWorker(h)
		}
	}

	d.wg.Add(1)
	go d.acceptLoop()

	err = d.run(ctx)

	d.wg.Wait()
	os.Remove(d.socketPath)
	if d.pidPath != "" {
		os.Remove(d.pidPath)
	}
	return err
}

// acceptLoop is the one goroutine that calls Accept; every connection it
// gets is handed to its own short-lived reader goroutine (readClientFirst
// Message), never touching Daemon state directly, per the package doc's
// no-locks design.
func (d *Daemon) acceptLoop() {
	defer d.wg.Done()
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			if isClosedErr(err) {
				return
			}
			logger.Warnf("accept: %v", err)
			continue
		}
		d.wg.Add(1)
		go d.readClientFirstMessage(conn)
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

// readClientFirstMessage reads exactly one frame from a new client
// connection — §6.2's request/response protocol is strict request→response
// per connection, so the Daemon never reads a second frame from a client.
func (d *Daemon) readClientFirstMessage(conn net.Conn) {
	defer d.wg.Done()
	msg, id, err := wire.ReadMessage(conn, 0)
	if err != nil {
		logger.Warnf("reading client request: %v", err)
		conn.Close()
		return
	}
	switch msg.Kind {
	case wire.KindSessionInit:
		d.events <- daemonEvent{kind: evSessionInit, conn: conn, msg: msg, msgID: id}
	case wire.KindStatsRequest:
		d.events <- daemonEvent{kind: evStatsRequest, conn: conn, msgID: id}
	default:
		logger.Warnf("client sent unexpected first message kind %q", msg.Kind)
		conn.Close()
	}
}

// workerReader is the one long-lived goroutine per worker that calls
// wire.ReadMessage on that worker's socket, for its entire lifetime — this
// is how the Daemon notices both an ExecutionResult and an unexpected EOF
// while idle (§4.6.4's Liveness check), without polling.
func (d *Daemon) workerReader(id uuid.UUID, conn workerConn) {
	defer d.wg.Done()
	for {
		msg, msgID, err := wire.ReadMessage(conn, 0)
		if err != nil {
			d.events <- daemonEvent{kind: evWorkerDead, workerID: id, err: err}
			return
		}
		d.events <- daemonEvent{kind: evWorkerResponse, workerID: id, msg: msg, msgID: msgID}
	}
}
