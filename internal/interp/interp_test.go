package interp

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/rushshell/rush/internal/rtime"
	"github.com/rushshell/rush/internal/syntax"
)

func run(t *testing.T, src string) (stdout, stderr string, exit int) {
	t.Helper()
	file, err := syntax.NewParser().Parse(src, "test")
	if err != nil {
		t.Fatalf("Parse(%q): %v", src, err)
	}
	var out, errBuf bytes.Buffer
	rt := rtime.New()
	e := New(rt, &out, &errBuf, strings.NewReader(""))
	exit = e.Run(file)
	return out.String(), errBuf.String(), exit
}

func TestEchoCommand(t *testing.T) {
	out, _, exit := run(t, "echo hello\n")
	if out != "hello\n" || exit != 0 {
		t.Errorf("got %q, exit %d", out, exit)
	}
}

func TestVariableAssignmentAndExpansion(t *testing.T) {
	out, _, _ := run(t, "FOO=bar\necho $FOO\n")
	if out != "bar\n" {
		t.Errorf("got %q", out)
	}
}

func TestIfElse(t *testing.T) {
	out, _, _ := run(t, "if true; then echo yes; else echo no; fi\n")
	if out != "yes\n" {
		t.Errorf("got %q", out)
	}
	out, _, _ = run(t, "if false; then echo yes; else echo no; fi\n")
	if out != "no\n" {
		t.Errorf("got %q", out)
	}
}

func TestWhileLoopWithBreak(t *testing.T) {
	src := `i=0
while true; do
  i=$((i + 1))
  if [ $i -eq 3 ]; then
    break
  fi
done
echo $i
`
	out, _, _ := run(t, src)
	if out != "3\n" {
		t.Errorf("got %q", out)
	}
}

func TestForLoopOverWords(t *testing.T) {
	out, _, _ := run(t, "for x in a b c; do echo $x; done\n")
	if out != "a\nb\nc\n" {
		t.Errorf("got %q", out)
	}
}

func TestCaseMatching(t *testing.T) {
	src := `case hello in
  h*) echo matched ;;
  *) echo nope ;;
esac
`
	out, _, _ := run(t, src)
	if out != "matched\n" {
		t.Errorf("got %q", out)
	}
}

func TestFunctionCallAndReturn(t *testing.T) {
	src := `greet() {
  echo "hi $1"
  return 3
}
greet world
echo $?
`
	out, _, _ := run(t, src)
	if out != "hi world\n3\n" {
		t.Errorf("got %q", out)
	}
}

func TestPipeline(t *testing.T) {
	out, _, _ := run(t, "echo hello | cat\n")
	if out != "hello\n" {
		t.Errorf("got %q", out)
	}
}

func TestAndOrShortCircuit(t *testing.T) {
	out, _, _ := run(t, "false && echo unreachable\ntrue || echo unreachable\necho done\n")
	if out != "done\n" {
		t.Errorf("got %q", out)
	}
}

func TestCommandSubstitution(t *testing.T) {
	out, _, _ := run(t, "echo $(echo inner)\n")
	if out != "inner\n" {
		t.Errorf("got %q", out)
	}
}

func TestErrexitStopsOnFailure(t *testing.T) {
	out, _, exit := run(t, "set -e\nfalse\necho unreachable\n")
	if out != "" || exit == 0 {
		t.Errorf("got out=%q exit=%d", out, exit)
	}
}

func TestBackgroundExternalCommandSetsLastPID(t *testing.T) {
	src := "sleep 0 &\n" +
		"if [ $! -gt 0 ]; then echo got-pid; else echo no-pid; fi\n"
	out, _, _ := run(t, src)
	if out != "got-pid\n" {
		t.Errorf("got %q, want $! set to a positive real pid for a backgrounded external command", out)
	}
}

func TestBackgroundBuiltinGetsSyntheticNegativePID(t *testing.T) {
	src := "true &\n" +
		"if [ $! -lt 0 ]; then echo synthetic; else echo real; fi\n"
	out, _, _ := run(t, src)
	if out != "synthetic\n" {
		t.Errorf("got %q, want a synthetic (negative) pid for a backgrounded builtin", out)
	}
}

func TestLinenoTracksSourceLine(t *testing.T) {
	src := "echo $LINENO\necho $LINENO\n"
	out, _, _ := run(t, src)
	if out != "1\n2\n" {
		t.Errorf("got %q, want LINENO to track each statement's source line", out)
	}
}

func TestRandomAndSecondsAreComputed(t *testing.T) {
	out, _, _ := run(t, "echo $SECONDS\n[ -n \"$RANDOM\" ] && echo ok\n")
	lines := strings.Split(out, "\n")
	if len(lines) < 2 || lines[0] == "" || lines[1] != "ok" {
		t.Errorf("got %q, want a numeric $SECONDS and a non-empty $RANDOM", out)
	}
}

func TestExecWithRedirectIsPermanentForRestOfScript(t *testing.T) {
	dir := t.TempDir()
	target := dir + "/out.txt"
	src := "exec > " + target + "\n" +
		"echo one\n" +
		"echo two\n"
	out, _, exit := run(t, src)
	if out != "" || exit != 0 {
		t.Errorf("got out=%q exit=%d, want stdout left empty once exec redirected it away", out, exit)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "one\ntwo\n" {
		t.Errorf("got file contents %q, want both echoes to land in the redirected file", string(data))
	}
}

func TestErrexitDoesNotTriggerOnNegatedCommand(t *testing.T) {
	out, _, exit := run(t, "set -e\n! true\necho reached\n")
	if out != "reached\n" || exit != 0 {
		t.Errorf("got out=%q exit=%d, want negated command to be a guarded context", out, exit)
	}
}

func TestExitStopsScriptFromInsideFunction(t *testing.T) {
	src := `f() {
  echo before
  exit 4
  echo unreachable
}
f
echo also-unreachable
`
	out, _, exit := run(t, src)
	if out != "before\n" || exit != 4 {
		t.Errorf("got out=%q exit=%d", out, exit)
	}
}

func TestBreakInsideFunctionPropagatesToCallersLoop(t *testing.T) {
	src := `f() {
  break
}
for i in 1 2 3; do
  f
  echo $i
done
echo after
`
	out, _, _ := run(t, src)
	if out != "after\n" {
		t.Errorf("got %q, want break in f to terminate the caller's loop before any echo $i", out)
	}
}

func TestContinueInsideFunctionPropagatesToCallersLoop(t *testing.T) {
	src := `f() {
  continue
}
for i in 1 2 3; do
  f
  echo $i
done
`
	out, _, _ := run(t, src)
	if out != "" {
		t.Errorf("got %q, want continue in f to skip echo $i on every iteration", out)
	}
}

func TestSubshellIsolatesVariables(t *testing.T) {
	out, _, _ := run(t, "FOO=outer\n(FOO=inner; echo $FOO)\necho $FOO\n")
	if out != "inner\nouter\n" {
		t.Errorf("got %q", out)
	}
}
