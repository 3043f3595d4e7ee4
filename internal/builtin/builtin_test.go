package builtin

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/rushshell/rush/internal/rtime"
)

type fakeHost struct {
	rt        *rtime.Runtime
	stdout    bytes.Buffer
	stderr    bytes.Buffer
	stdin     *strings.Reader
	aliases   map[string]string
	execCalls [][]string
	evalCalls []string
}

func newFakeHost() *fakeHost {
	return &fakeHost{rt: rtime.New(), aliases: make(map[string]string), stdin: strings.NewReader("")}
}

func (h *fakeHost) Runtime() *rtime.Runtime { return h.rt }
func (h *fakeHost) Stdout() io.Writer       { return &h.stdout }
func (h *fakeHost) Stderr() io.Writer       { return &h.stderr }
func (h *fakeHost) Stdin() io.Reader        { return h.stdin }

func (h *fakeHost) Exec(argv []string) Result {
	h.execCalls = append(h.execCalls, argv)
	return ok(0)
}
func (h *fakeHost) EvalString(src string) Result {
	h.evalCalls = append(h.evalCalls, src)
	return ok(0)
}
func (h *fakeHost) RunFile(path string, args []string) Result { return ok(0) }
func (h *fakeHost) LookupAlias(name string) (string, bool) {
	v, ok := h.aliases[name]
	return v, ok
}
func (h *fakeHost) SetAlias(name, value string) { h.aliases[name] = value }
func (h *fakeHost) UnsetAlias(name string)       { delete(h.aliases, name) }
func (h *fakeHost) Aliases() map[string]string   { return h.aliases }
func (h *fakeHost) WaitAll() int                 { return 0 }
func (h *fakeHost) WaitJob(id int) (int, error)  { return 0, nil }
func (h *fakeHost) ResumeJob(id int, fg bool) error { return nil }

func TestEchoPlain(t *testing.T) {
	h := newFakeHost()
	biEcho(h, []string{"echo", "hello", "world"})
	if got := h.stdout.String(); got != "hello world\n" {
		t.Errorf("got %q", got)
	}
}

func TestEchoNoNewline(t *testing.T) {
	h := newFakeHost()
	biEcho(h, []string{"echo", "-n", "hi"})
	if got := h.stdout.String(); got != "hi" {
		t.Errorf("got %q", got)
	}
}

func TestExportSetsAndMarks(t *testing.T) {
	h := newFakeHost()
	res := biExport(h, []string{"export", "FOO=bar"})
	if res.ExitCode != 0 {
		t.Fatalf("exit code %d", res.ExitCode)
	}
	v, ok := h.rt.Get("FOO")
	if !ok || v != "bar" {
		t.Errorf("FOO = %q, %v", v, ok)
	}
}

func TestUnset(t *testing.T) {
	h := newFakeHost()
	h.rt.Set("FOO", "bar")
	biUnset(h, []string{"unset", "FOO"})
	if _, ok := h.rt.Get("FOO"); ok {
		t.Errorf("FOO should be unset")
	}
}

func TestReturnSignalsControl(t *testing.T) {
	h := newFakeHost()
	res := biReturn(h, []string{"return", "7"})
	if res.Control != ControlReturn || res.ExitCode != 7 {
		t.Errorf("got %#v", res)
	}
}

func TestExitSignalsControlWithExplicitCode(t *testing.T) {
	h := newFakeHost()
	res := biExit(h, []string{"exit", "9"})
	if res.Control != ControlExit || res.ExitCode != 9 {
		t.Errorf("got %#v", res)
	}
}

func TestExitDefaultsToLastExitStatus(t *testing.T) {
	h := newFakeHost()
	h.Runtime().SetLastExit(5)
	res := biExit(h, []string{"exit"})
	if res.Control != ControlExit || res.ExitCode != 5 {
		t.Errorf("got %#v", res)
	}
}

func TestBreakWithLevel(t *testing.T) {
	h := newFakeHost()
	res := biBreak(h, []string{"break", "2"})
	if res.Control != ControlBreak || res.N != 2 {
		t.Errorf("got %#v", res)
	}
}

func TestTestStringEquality(t *testing.T) {
	h := newFakeHost()
	if res := biTest(h, []string{"test", "abc", "=", "abc"}); res.ExitCode != 0 {
		t.Errorf("want 0, got %d", res.ExitCode)
	}
	if res := biTest(h, []string{"test", "abc", "=", "xyz"}); res.ExitCode != 1 {
		t.Errorf("want 1, got %d", res.ExitCode)
	}
}

func TestTestIntegerComparison(t *testing.T) {
	h := newFakeHost()
	if res := biTest(h, []string{"[", "3", "-lt", "5", "]"}); res.ExitCode != 0 {
		t.Errorf("want 0, got %d", res.ExitCode)
	}
}

func TestTestNegation(t *testing.T) {
	h := newFakeHost()
	if res := biTest(h, []string{"test", "!", "-z", "x"}); res.ExitCode != 0 {
		t.Errorf("want 0, got %d", res.ExitCode)
	}
}

func TestAliasSetAndList(t *testing.T) {
	h := newFakeHost()
	biAlias(h, []string{"alias", "ll=ls -l"})
	v, ok := h.LookupAlias("ll")
	if !ok || v != "ls -l" {
		t.Errorf("got %q, %v", v, ok)
	}
}

func TestIsBuiltinKnownAndUnknown(t *testing.T) {
	if !IsBuiltin("cd") {
		t.Error("cd should be a builtin")
	}
	if IsBuiltin("frobnicate") {
		t.Error("frobnicate should not be a builtin")
	}
}

func TestPrintfBasic(t *testing.T) {
	h := newFakeHost()
	biPrintf(h, []string{"printf", "%s=%d\n", "x", "42"})
	if got := h.stdout.String(); got != "x=42\n" {
		t.Errorf("got %q", got)
	}
}
