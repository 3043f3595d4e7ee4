package interp

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/xerrors"

	"github.com/rushshell/rush/internal/builtin"
	"github.com/rushshell/rush/internal/expand"
	"github.com/rushshell/rush/internal/rtime"
	"github.com/rushshell/rush/internal/syntax"
)

// execCommand expands a simple command's words and dispatches it to a
// function, builtin, or external program, per §4.4.2/§4.4.3. A command
// with no words after expansion (only assignments, e.g. `FOO=bar`) applies
// those assignments to the current scope and exits 0 — mirrored from
// mvdan-sh's Runner.cmd *syntax.CallExpr branch.
func (e *Executor) execCommand(cmd *syntax.Command) builtin.Result {
	args, err := e.expandCommandWords(cmd)
	if err != nil {
		fmt.Fprintf(e.stderr, "%v\n", err)
		return builtin.Result{ExitCode: 1}
	}
	if len(args) == 0 {
		return builtin.Result{}
	}
	if alias, ok := e.aliases[args[0]]; ok {
		expanded := append(strings.Fields(alias), args[1:]...)
		args = expanded
	}
	return e.dispatch(args)
}

func (e *Executor) expandCommandWords(cmd *syntax.Command) ([]string, error) {
	words := make([]*syntax.Word, 0, len(cmd.Args)+1)
	if cmd.Name != nil {
		words = append(words, cmd.Name)
	}
	words = append(words, cmd.Args...)
	return e.expandCtx.Fields(words)
}

// dispatch runs args[0] as a function, then a builtin, then falls back to
// an external program lookup — the same three-tier order mvdan-sh's
// Runner.call uses.
func (e *Executor) dispatch(args []string) builtin.Result {
	name := args[0]

	if fn, ok := e.Runtime.LookupFunction(name); ok {
		return e.callFunction(fn, args[1:])
	}
	if bf, ok := builtin.Lookup(name); ok {
		return bf(e, args)
	}
	return e.execExternal(args)
}

// callFunction invokes a user-defined shell function per §4.2's
// push_scope/enter_function_context contract (I7): a fresh variable scope
// and positional-parameter frame. A function is a boundary for `return`
// (unwound into a plain Result here, never propagated further) but NOT for
// `break`/`continue`: real POSIX shells resolve those dynamically against
// whatever loop is running on the call stack, so `break` inside a function
// called from a caller's loop terminates that loop. execLoop/execFor already
// know how to consume a ControlBreak/ControlContinue that's aimed at them,
// so it's enough to let both pass through here alongside ControlExit.
func (e *Executor) callFunction(fn *rtime.Function, args []string) builtin.Result {
	body, ok := fn.Body.([]*syntax.Stmt)
	if !ok {
		fmt.Fprintf(e.stderr, "%s: malformed function body\n", fn.Name)
		return builtin.Result{ExitCode: 1}
	}
	e.Runtime.PushScope()
	e.Runtime.EnterFunctionContext()
	e.Runtime.SetPositionalParams(args)

	res := e.execStmts(body)

	e.Runtime.ExitFunctionContext()
	e.Runtime.PopScope()

	switch res.Control {
	case builtin.ControlExit, builtin.ControlBreak, builtin.ControlContinue:
		return res
	default:
		return builtin.Result{ExitCode: res.ExitCode}
	}
}

// execExternal launches args as a child process, inheriting the Runtime's
// exported environment and cwd, grounded on mvdan-sh/interp/handler.go's
// DefaultExecHandler.
func (e *Executor) execExternal(args []string) builtin.Result {
	cmd, res, started := e.startExternal(args)
	if !started {
		return res
	}
	return finishExternal(e, args[0], cmd)
}

// startExternal begins launching args as a child process without waiting
// for it to finish, so a caller (execBackground) can capture its real OS
// pid for $! before the process completes. started is false when lookPath
// or Start failed, in which case res is already the Result to report (no
// *exec.Cmd exists to wait on).
func (e *Executor) startExternal(args []string) (cmd *exec.Cmd, res builtin.Result, started bool) {
	path, err := lookPath(e.Runtime.Cwd(), args[0])
	if err != nil {
		fmt.Fprintf(e.stderr, "%s: command not found\n", args[0])
		return nil, builtin.Result{ExitCode: 127}, false
	}
	cmd = &exec.Cmd{
		Path:   path,
		Args:   args,
		Env:    e.Runtime.ChildEnv(),
		Dir:    e.Runtime.Cwd(),
		Stdin:  e.stdin,
		Stdout: e.stdout,
		Stderr: e.stderr,
	}
	if err := cmd.Start(); err != nil {
		fmt.Fprintf(e.stderr, "%s: %v\n", args[0], xerrors.Errorf("launching %s: %w", args[0], err))
		return nil, builtin.Result{ExitCode: 126}, false
	}
	return cmd, builtin.Result{}, true
}

// finishExternal waits for a command startExternal launched and converts
// its result the same way execExternal always has.
func finishExternal(e *Executor, name string, cmd *exec.Cmd) builtin.Result {
	err := cmd.Wait()
	if err == nil {
		return builtin.Result{ExitCode: 0}
	}
	var exitErr *exec.ExitError
	if xerrors.As(err, &exitErr) {
		return builtin.Result{ExitCode: exitErr.ExitCode()}
	}
	fmt.Fprintf(e.stderr, "%s: %v\n", name, xerrors.Errorf("waiting for %s: %w", name, err))
	return builtin.Result{ExitCode: 126}
}

// simpleExternalArgs reports whether st is a bare simple command with no
// redirects or assignments that will resolve to neither a function, an
// alias, nor a builtin — the shape execBackground can start directly and
// capture a real OS pid for, rather than falling back to the generic
// in-process goroutine path (which has no real pid to report for $!).
func (e *Executor) simpleExternalArgs(st *syntax.Stmt) ([]string, bool) {
	if st.StmtKind != syntax.StmtCommand || len(st.Redirects) > 0 || len(st.Assigns) > 0 {
		return nil, false
	}
	args, err := e.expandCommandWords(st.Command)
	if err != nil || len(args) == 0 {
		return nil, false
	}
	if _, ok := e.Runtime.LookupFunction(args[0]); ok {
		return nil, false
	}
	if _, ok := builtin.Lookup(args[0]); ok {
		return nil, false
	}
	if _, ok := e.aliases[args[0]]; ok {
		return nil, false
	}
	return args, true
}

func lookPath(dir, name string) (string, error) {
	if strings.Contains(name, "/") {
		path := name
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, name)
		}
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
		return "", xerrors.Errorf("%s: not found", name)
	}
	return exec.LookPath(name)
}

// execPipeline connects each command's stdout to the next command's stdin
// via io.Pipe, grounded on mvdan-sh/interp/interp.go's BinaryCmd Pipe/
// PipeAll case. Exit status is the last command's, unless pipefail is set
// and an earlier stage failed.
func (e *Executor) execPipeline(p *syntax.Pipeline) builtin.Result {
	n := len(p.Commands)
	if n == 0 {
		return builtin.Result{}
	}
	if n == 1 {
		res := e.execCommand(p.Commands[0])
		return negateIfNeeded(res, p.Negated)
	}

	stages := make([]*Executor, n)
	results := make([]builtin.Result, n)
	pipeWriters := make([]*io.PipeWriter, n-1)

	nextStdin := e.stdin
	for i := 0; i < n; i++ {
		if i < n-1 {
			pr, pw := io.Pipe()
			pipeWriters[i] = pw
			stages[i] = e.forkExecutor(pw, e.stderr, nextStdin)
			nextStdin = pr
			continue
		}
		stages[i] = e.forkExecutor(e.stdout, e.stderr, nextStdin)
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		idx := i
		go func() {
			defer wg.Done()
			results[idx] = stages[idx].execCommand(p.Commands[idx])
			if idx < len(pipeWriters) {
				pipeWriters[idx].Close()
			}
		}()
	}
	wg.Wait()

	last := results[n-1]
	if e.Runtime.Options.Pipefail {
		for _, r := range results {
			if r.ExitCode != 0 {
				last = r
			}
		}
	}
	return negateIfNeeded(last, p.Negated)
}

// negateIfNeeded applies `!`, and marks the result Guarded: per I8/the
// Glossary's "Guarded context", the operand of `!` must never trigger
// errexit, regardless of which exit code `!` produces.
func negateIfNeeded(res builtin.Result, negated bool) builtin.Result {
	if !negated {
		return res
	}
	if res.ExitCode == 0 {
		return builtin.Result{ExitCode: 1, Control: res.Control, N: res.N, Guarded: true}
	}
	return builtin.Result{ExitCode: 0, Control: res.Control, N: res.N, Guarded: true}
}

// forkExecutor creates a new Executor sharing this Runtime (and therefore
// its variables/functions/jobs) but with independent I/O streams, used for
// pipeline stages and background jobs. Subshells call
// forkExecutorWithRuntime with a Clone instead.
func (e *Executor) forkExecutor(stdout, stderr io.Writer, stdin io.Reader) *Executor {
	return e.forkExecutorWithRuntime(e.Runtime, stdout, stderr, stdin)
}

// forkExecutorWithRuntime creates a new Executor bound to rt (either e's
// own Runtime, for pipeline stages and background jobs that must share
// variable state, or a Clone, for subshells that must not).
func (e *Executor) forkExecutorWithRuntime(rt *rtime.Runtime, stdout, stderr io.Writer, stdin io.Reader) *Executor {
	sub := &Executor{
		Runtime:  rt,
		stdout:   stdout,
		stderr:   stderr,
		stdin:    stdin,
		aliases:  e.aliases,
		file:     e.file,
		filename: e.filename,
	}
	sub.expandCtx = &expand.Context{
		Runtime: rt,
		NoGlob:  rt.Options.Noglob,
	}
	sub.expandCtx.Subshell = sub.runSubshellCapture
	return sub
}

// runSubshellCapture implements expand.Subshell: run stmts to completion
// with stdout captured into a string, for command substitution. Command
// substitution runs in a subshell per §4.4.1, so it gets a cloned Runtime
// just like `( ... )` does.
func (e *Executor) runSubshellCapture(stmts []*syntax.Stmt) (string, error) {
	var buf strings.Builder
	sub := e.forkExecutorWithRuntime(e.Runtime.Clone(), &buf, e.stderr, strings.NewReader(""))
	sub.execStmts(stmts)
	return buf.String(), nil
}
