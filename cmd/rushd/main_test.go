package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRunDispatchesKnownSubcommands(t *testing.T) {
	if code := run(nil); code != 2 {
		t.Errorf("run(nil) = %d, want 2 (usage)", code)
	}
	if code := run([]string{"bogus"}); code != 2 {
		t.Errorf("run([bogus]) = %d, want 2 (unknown command)", code)
	}
}

func TestReadPIDRoundTrips(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	if _, ok := readPID(); ok {
		t.Fatal("readPID() on a fresh HOME reported a pid, want none")
	}

	if err := os.MkdirAll(rushDir(), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(pidPath(), []byte("  4242  \n"), 0o600); err != nil {
		t.Fatal(err)
	}
	pid, ok := readPID()
	if !ok || pid != 4242 {
		t.Errorf("readPID() = (%d, %v), want (4242, true)", pid, ok)
	}
}

func TestReadPIDRejectsGarbage(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	if err := os.MkdirAll(rushDir(), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(pidPath(), []byte("not-a-pid"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, ok := readPID(); ok {
		t.Error("readPID() accepted a non-numeric pid file")
	}
}

func TestProcessAliveReportsCurrentProcess(t *testing.T) {
	if !processAlive(os.Getpid()) {
		t.Error("processAlive(os.Getpid()) = false, want true")
	}
}

func TestCmdStatusNotRunningWithoutPIDFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_RUNTIME_DIR", "")
	if code := cmdStatus(); code != 1 {
		t.Errorf("cmdStatus() = %d, want 1 when no pid file exists", code)
	}
}

func TestSocketPathPrefersXDGRuntimeDir(t *testing.T) {
	home := t.TempDir()
	xdg := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_RUNTIME_DIR", xdg)
	want := filepath.Join(xdg, ".rush", "daemon.sock")
	if got := socketPath(); got != want {
		t.Errorf("socketPath() = %q, want %q", got, want)
	}

	t.Setenv("XDG_RUNTIME_DIR", "")
	want = filepath.Join(home, ".rush", "daemon.sock")
	if got := socketPath(); got != want {
		t.Errorf("socketPath() (no XDG) = %q, want %q", got, want)
	}
}

func TestPidPathUsesHomeRushDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	want := filepath.Join(home, ".rush", "daemon.pid")
	if got := pidPath(); got != want {
		t.Errorf("pidPath() = %q, want %q", got, want)
	}
}
