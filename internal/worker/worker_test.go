package worker

import (
	"net"
	"testing"
	"time"

	"github.com/rushshell/rush/internal/wire"
)

func newTestPair(t *testing.T) (*Worker, net.Conn) {
	t.Helper()
	daemonEnd, workerEnd := net.Pipe()
	w := New(workerEnd)
	go func() {
		if err := w.Serve(); err != nil {
			t.Errorf("Serve: %v", err)
		}
	}()
	return w, daemonEnd
}

func sendAndRecv(t *testing.T, conn net.Conn, id uint64, msg *wire.Message) *wire.Message {
	t.Helper()
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	if err := wire.WriteMessage(conn, id, msg); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	got, gotID, err := wire.ReadMessage(conn, 0)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if gotID != id {
		t.Errorf("id = %d, want %d", gotID, id)
	}
	return got
}

func TestSessionInitRunsCommandAndCapturesOutput(t *testing.T) {
	_, conn := newTestPair(t)
	defer conn.Close()

	reply := sendAndRecv(t, conn, 1, &wire.Message{
		Kind: wire.KindSessionInit,
		Env:  map[string]string{"HOME": "/home/rush"},
		Cwd:  "/tmp",
		Argv: []string{"rush", "-c", "echo hello"},
	})
	if reply.Kind != wire.KindExecutionResult {
		t.Fatalf("kind = %s, want ExecutionResult", reply.Kind)
	}
	if reply.ExitCode != 0 || reply.Stdout != "hello\n" {
		t.Errorf("got exit=%d stdout=%q", reply.ExitCode, reply.Stdout)
	}
}

func TestSessionInitReportsNonZeroExit(t *testing.T) {
	_, conn := newTestPair(t)
	defer conn.Close()

	reply := sendAndRecv(t, conn, 2, &wire.Message{
		Kind: wire.KindSessionInit,
		Argv: []string{"rush", "-c", "exit 7"},
	})
	if reply.ExitCode != 7 {
		t.Errorf("exit = %d, want 7", reply.ExitCode)
	}
}

func TestVariablesPersistAcrossRequests(t *testing.T) {
	_, conn := newTestPair(t)
	defer conn.Close()

	sendAndRecv(t, conn, 1, &wire.Message{
		Kind: wire.KindSessionInit,
		Argv: []string{"rush", "-c", "FOO=bar"},
	})
	reply := sendAndRecv(t, conn, 2, &wire.Message{
		Kind: wire.KindSessionInit,
		Argv: []string{"rush", "-c", "echo $FOO"},
	})
	if reply.Stdout != "bar\n" {
		t.Errorf("stdout = %q, want %q (variables should persist across requests)", reply.Stdout, "bar\n")
	}
}

func TestShutdownClosesLoopWithoutResponse(t *testing.T) {
	daemonEnd, workerEnd := net.Pipe()
	w := New(workerEnd)
	done := make(chan error, 1)
	go func() { done <- w.Serve() }()

	daemonEnd.SetDeadline(time.Now().Add(2 * time.Second))
	if err := wire.WriteMessage(daemonEnd, 1, &wire.Message{Kind: wire.KindShutdown}); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	daemonEnd.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned error after Shutdown: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}
