package daemon

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rushshell/rush/internal/wire"
	"github.com/rushshell/rush/internal/worker"
)

// fakeSpawner hands out net.Pipe-backed workers run by a real
// worker.Worker in a goroutine, the way nayrosk-claude-cowork-service/
// pipe.Server's VMBackend lets tests substitute process management with an
// injected interface.
type fakeSpawner struct {
	spawned int
	fail    bool
}

func (s *fakeSpawner) spawn() (*workerHandle, error) {
	if s.fail {
		return nil, errTestSpawnFailure
	}
	s.spawned++
	daemonEnd, workerEnd := net.Pipe()
	w := worker.New(workerEnd)
	go w.Serve()
	return &workerHandle{id: uuid.New(), conn: daemonEnd, idleSince: time.Now()}, nil
}

var errTestSpawnFailure = &spawnError{}

type spawnError struct{}

func (*spawnError) Error() string { return "fake spawn failure" }

func newTestDaemon(t *testing.T, cfg Config) *Daemon {
	t.Helper()
	dir := t.TempDir()
	d := New(cfg, filepath.Join(dir, "rush.sock"), "", "unused")
	d.spawner = &fakeSpawner{}
	return d
}

func startTestDaemon(t *testing.T, d *Daemon) (string, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(d.socketPath); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	return d.socketPath, func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("daemon did not shut down in time")
		}
	}
}

func sendRequest(t *testing.T, socketPath string, msg *wire.Message) *wire.Message {
	t.Helper()
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	if err := wire.WriteMessage(conn, 1, msg); err != nil {
		t.Fatalf("write request: %v", err)
	}
	reply, _, err := wire.ReadMessage(conn, 0)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	return reply
}

func TestDaemonDispatchesSessionInitToWorker(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinWorkers, cfg.MaxWorkers = 1, 2
	cfg.HealthCheckInterval = time.Hour
	d := newTestDaemon(t, cfg)
	sock, stop := startTestDaemon(t, d)
	defer stop()

	reply := sendRequest(t, sock, &wire.Message{
		Kind: wire.KindSessionInit,
		Argv: []string{"rush", "-c", "echo hi"},
	})
	if reply.Kind != wire.KindExecutionResult || reply.ExitCode != 0 || reply.Stdout != "hi\n" {
		t.Errorf("got %+v", reply)
	}
}

func TestDaemonRespondsErrorWhenSpawnFails(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinWorkers, cfg.MaxWorkers = 0, 1
	cfg.HealthCheckInterval = time.Hour
	d := newTestDaemon(t, cfg)
	d.spawner = &fakeSpawner{fail: true}
	sock, stop := startTestDaemon(t, d)
	defer stop()

	reply := sendRequest(t, sock, &wire.Message{
		Kind: wire.KindSessionInit,
		Argv: []string{"rush", "-c", "echo hi"},
	})
	if reply.ExitCode == 0 {
		t.Errorf("expected an error response when spawn fails, got %+v", reply)
	}
}

func TestDaemonSaturatesWhenPoolIsFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinWorkers, cfg.MaxWorkers = 0, 0
	cfg.HealthCheckInterval = time.Hour
	d := newTestDaemon(t, cfg)
	sock, stop := startTestDaemon(t, d)
	defer stop()

	reply := sendRequest(t, sock, &wire.Message{
		Kind: wire.KindSessionInit,
		Argv: []string{"rush", "-c", "echo hi"},
	})
	if reply.ExitCode == 0 {
		t.Errorf("expected a saturated-pool error, got %+v", reply)
	}
}

func TestDaemonRespondsToStatsRequest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinWorkers, cfg.MaxWorkers = 1, 1
	cfg.HealthCheckInterval = time.Hour
	d := newTestDaemon(t, cfg)
	d.SetStatsProvider(fixedStats{static: map[string]string{"version": "1"}})
	sock, stop := startTestDaemon(t, d)
	defer stop()

	reply := sendRequest(t, sock, &wire.Message{Kind: wire.KindStatsRequest})
	if reply.Kind != wire.KindStatsResponse || reply.StaticStats["version"] != "1" {
		t.Errorf("got %+v", reply)
	}
}

type fixedStats struct {
	static, dynamic map[string]string
}

func (f fixedStats) Stats() (map[string]string, map[string]string) { return f.static, f.dynamic }

func TestDaemonReusesWorkerAcrossSequentialRequests(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinWorkers, cfg.MaxWorkers = 1, 1
	cfg.HealthCheckInterval = time.Hour
	d := newTestDaemon(t, cfg)
	sock, stop := startTestDaemon(t, d)
	defer stop()

	// With MaxWorkers=1, the sole worker must return to idle after each
	// request for the next request to succeed at all.
	for i, want := range []string{"one\n", "two\n"} {
		reply := sendRequest(t, sock, &wire.Message{
			Kind: wire.KindSessionInit,
			Argv: []string{"rush", "-c", "echo " + want[:len(want)-1]},
		})
		if reply.ExitCode != 0 || reply.Stdout != want {
			t.Errorf("request %d: got %+v, want stdout %q", i, reply, want)
		}
	}
}
