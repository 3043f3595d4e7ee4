package main

import (
	"bytes"
	"io"
	"reflect"
	"testing"

	"github.com/rushshell/rush/internal/interp"
	"github.com/rushshell/rush/internal/rtime"
)

func TestBuildArgv(t *testing.T) {
	cases := []struct {
		name    string
		cmdFlag string
		rest    []string
		want    []string
	}{
		{"command flag wins", "echo hi", []string{"ignored.sh"}, []string{"rush", "-c", "echo hi"}},
		{"script path", "", []string{"script.sh", "arg1"}, []string{"rush", "script.sh", "arg1"}},
		{"bare invocation", "", nil, []string{"rush"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := buildArgv(tc.cmdFlag, tc.rest)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("buildArgv(%q, %v) = %v, want %v", tc.cmdFlag, tc.rest, got, tc.want)
			}
		})
	}
}

func TestTryDaemonSkipsNonDashCInvocations(t *testing.T) {
	cases := [][]string{
		{"rush"},
		{"rush", "script.sh"},
	}
	for _, argv := range cases {
		if _, ok := tryDaemon(argv); ok {
			t.Errorf("tryDaemon(%v) = ok, want the cold path for anything but -c", argv)
		}
	}
}

func TestRunInteractiveEchoesPromptAndOutput(t *testing.T) {
	rt := rtime.New()
	var stdout bytes.Buffer
	exe := interp.New(rt, &stdout, io.Discard, bytes.NewReader(nil))

	in := bytes.NewBufferString("echo foo\n")
	code := runInteractive(exe, in, &stdout)
	if code != 0 {
		t.Errorf("got exit %d, want 0", code)
	}
	want := "$ foo\n$ "
	if stdout.String() != want {
		t.Errorf("got %q, want %q", stdout.String(), want)
	}
}

func TestRunInteractiveExitStopsAtExitCode(t *testing.T) {
	rt := rtime.New()
	var stdout bytes.Buffer
	exe := interp.New(rt, &stdout, io.Discard, bytes.NewReader(nil))

	in := bytes.NewBufferString("exit 7\n")
	code := runInteractive(exe, in, &stdout)
	if code != 7 {
		t.Errorf("got exit %d, want 7", code)
	}
}
