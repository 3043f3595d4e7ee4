package client

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/rushshell/rush/internal/wire"
)

func TestDialReturnsErrNoDaemonWhenSocketMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.sock")
	_, err := Dial(path)
	if err != ErrNoDaemon {
		t.Errorf("Dial(%q) = %v, want ErrNoDaemon", path, err)
	}
}

func TestEnvironConvertsKeyValueSlice(t *testing.T) {
	t.Setenv("RUSH_CLIENT_TEST_VAR", "hello=world")
	env := Environ()
	if env["RUSH_CLIENT_TEST_VAR"] != "hello=world" {
		t.Errorf("Environ()[RUSH_CLIENT_TEST_VAR] = %q, want %q (only the first = should split)", env["RUSH_CLIENT_TEST_VAR"], "hello=world")
	}
	if len(env) != len(os.Environ()) {
		t.Errorf("Environ() produced %d entries, want one per os.Environ() entry (%d)", len(env), len(os.Environ()))
	}
}

func TestRunOneShotSendsSessionInitAndReadsResult(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		req, id, err := wire.ReadMessage(serverConn, 0)
		if err != nil {
			t.Errorf("server ReadMessage: %v", err)
			return
		}
		if req.Kind != wire.KindSessionInit || req.Argv[0] != "rush" {
			t.Errorf("got request %+v, want a SessionInit for argv starting with rush", req)
		}
		reply := &wire.Message{
			Kind:     wire.KindExecutionResult,
			ExitCode: 3,
			Stdout:   "out\n",
			Stderr:   "err\n",
		}
		if err := wire.WriteMessage(serverConn, id, reply); err != nil {
			t.Errorf("server WriteMessage: %v", err)
		}
	}()

	var stdout, stderr bytes.Buffer
	code, err := RunOneShot(clientConn, []string{"rush", "-c", "exit 3"}, nil, "/tmp", false, &stdout, &stderr)
	<-done
	if err != nil {
		t.Fatalf("RunOneShot: %v", err)
	}
	if code != 3 {
		t.Errorf("got exit %d, want 3", code)
	}
	if stdout.String() != "out\n" || stderr.String() != "err\n" {
		t.Errorf("got stdout=%q stderr=%q, want out/err streamed from the reply", stdout.String(), stderr.String())
	}
}

func TestRunOneShotRejectsUnexpectedReplyKind(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go func() {
		_, id, err := wire.ReadMessage(serverConn, 0)
		if err != nil {
			return
		}
		wire.WriteMessage(serverConn, id, &wire.Message{Kind: wire.KindStatsResponse})
	}()

	var stdout, stderr bytes.Buffer
	if _, err := RunOneShot(clientConn, []string{"rush"}, nil, "/tmp", false, &stdout, &stderr); err == nil {
		t.Error("RunOneShot with a non-ExecutionResult reply should return an error")
	}
}
