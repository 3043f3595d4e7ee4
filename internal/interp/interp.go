// Package interp implements the Executor component of SPEC_FULL.md §4.4:
// the AST walker that drives one shell invocation against a *rtime.Runtime.
//
// Grounded on mvdan-sh/interp/interp.go's Runner.stmt/Runner.cmd dispatch
// and its Pipe/PipeAll handling via io.Pipe plus a goroutine, generalized
// to the spec's single tagged syntax.Stmt (rather than mvdan-sh's
// interface-typed syntax.Command) and to I5's requirement that
// break/continue/return propagate as builtin.Result sentinel values
// instead of Go errors (mvdan-sh's own returnStatus/exitStatus pair is an
// error-based sentinel; this is a deliberate divergence).
package interp

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rushshell/rush/internal/builtin"
	"github.com/rushshell/rush/internal/expand"
	"github.com/rushshell/rush/internal/pattern"
	"github.com/rushshell/rush/internal/rtime"
	"github.com/rushshell/rush/internal/syntax"
)

// Executor runs parsed shell programs against one Runtime. It is not safe
// for concurrent use — a Worker (§4.5) owns exactly one Executor and
// drives it from a single goroutine per ExecutionRequest.
type Executor struct {
	Runtime *rtime.Runtime

	stdout io.Writer
	stderr io.Writer
	stdin  io.Reader

	expandCtx *expand.Context
	aliases   map[string]string
	filename  string
	file      *syntax.File // backs $LINENO via file.LineAt(st.Position); nil for Exec(argv)
}

// New creates an Executor bound to rt, reading/writing the given streams.
func New(rt *rtime.Runtime, stdout, stderr io.Writer, stdin io.Reader) *Executor {
	e := &Executor{
		Runtime: rt,
		stdout:  stdout,
		stderr:  stderr,
		stdin:   stdin,
		aliases: make(map[string]string),
	}
	e.expandCtx = &expand.Context{Runtime: rt, NoGlob: rt.Options.Noglob}
	e.expandCtx.Subshell = e.runSubshellCapture
	return e
}

// --- builtin.Host ---

func (e *Executor) Stdout() io.Writer { return e.stdout }
func (e *Executor) Stderr() io.Writer { return e.stderr }
func (e *Executor) Stdin() io.Reader  { return e.stdin }

// SetStreams rebinds e's I/O streams in place, keeping its Runtime,
// aliases, and expansion context untouched. A Worker (§4.5) calls this
// between requests to capture each SessionInit's output separately while
// reusing the same Executor (and therefore its aliases) across the
// Worker's lifetime.
func (e *Executor) SetStreams(stdout, stderr io.Writer, stdin io.Reader) {
	e.stdout, e.stderr, e.stdin = stdout, stderr, stdin
}

func (e *Executor) Exec(argv []string) builtin.Result {
	return e.dispatch(argv)
}

func (e *Executor) EvalString(src string) builtin.Result {
	file, err := syntax.NewParser().Parse(src, "eval")
	if err != nil {
		fmt.Fprintf(e.stderr, "eval: %v\n", err)
		return builtin.Result{ExitCode: 2}
	}
	old := e.file
	e.file = file
	defer func() { e.file = old }()
	return e.execStmts(file.Stmts)
}

func (e *Executor) RunFile(path string, args []string) builtin.Result {
	src, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(e.stderr, "source: %v\n", err)
		return builtin.Result{ExitCode: 1}
	}
	file, err := syntax.NewParser().Parse(string(src), path)
	if err != nil {
		fmt.Fprintf(e.stderr, "source: %v\n", err)
		return builtin.Result{ExitCode: 2}
	}
	oldParams := e.Runtime.PositionalParams()
	if len(args) > 0 {
		e.Runtime.SetPositionalParams(args)
	}
	oldFile := e.file
	e.file = file
	res := e.execStmts(file.Stmts)
	e.file = oldFile
	e.Runtime.SetPositionalParams(oldParams)
	return res
}

func (e *Executor) LookupAlias(name string) (string, bool) {
	v, ok := e.aliases[name]
	return v, ok
}
func (e *Executor) SetAlias(name, value string) { e.aliases[name] = value }
func (e *Executor) UnsetAlias(name string)      { delete(e.aliases, name) }
func (e *Executor) Aliases() map[string]string  { return e.aliases }

func (e *Executor) WaitAll() int {
	code := 0
	for _, j := range e.Runtime.Jobs.All() {
		if j.Status == rtime.StatusDone {
			code = j.ExitCode
		}
	}
	return code
}

func (e *Executor) WaitJob(id int) (int, error) {
	j, ok := e.Runtime.Jobs.Get(id)
	if !ok {
		return 0, fmt.Errorf("%d: no such job", id)
	}
	return j.ExitCode, nil
}

func (e *Executor) ResumeJob(id int, foreground bool) error {
	_, ok := e.Runtime.Jobs.Get(id)
	if !ok {
		return fmt.Errorf("%d: no such job", id)
	}
	return fmt.Errorf("job control resume is not supported in this build")
}

// --- top-level entry points ---

// Run executes every statement in file and returns the final exit status,
// running the EXIT trap (if any) before returning, per §4.4.6.
func (e *Executor) Run(file *syntax.File) int {
	e.filename = file.Name
	e.file = file
	e.Runtime.SetScriptName(file.Name)
	res := e.execStmts(file.Stmts)
	e.runExitTrap()
	return res.ExitCode
}

func (e *Executor) runExitTrap() {
	action := e.Runtime.Traps.Get(rtime.SigEXIT)
	if action.Kind != rtime.ActionRun {
		return
	}
	e.EvalString(action.Script)
}

// RunExitTrap runs the EXIT trap, if one is set, without otherwise touching
// Runtime state. A Worker (§4.5) calls this once on Shutdown rather than
// after every request, since SessionInit execution alone must not fire it.
func (e *Executor) RunExitTrap() { e.runExitTrap() }

// --- statement sequencing ---

// execStmts runs stmts in order, stopping early on a control-flow signal
// (break/continue/return) or, under errexit, on the first nonzero exit not
// guarded by && || ! or a conditional construct's test position.
func (e *Executor) execStmts(stmts []*syntax.Stmt) builtin.Result {
	var last builtin.Result
	for _, st := range stmts {
		e.checkTraps()
		last = e.execStmt(st)
		e.Runtime.SetLastExit(last.ExitCode)
		if last.Control != builtin.ControlNone {
			return last
		}
		if e.Runtime.Options.Errexit && last.ExitCode != 0 && !last.Guarded {
			return last
		}
	}
	return last
}

// checkTraps runs any signal traps that fired since the last safe point,
// per §4.4.6 ("between statements" is the only safe point the Executor
// guarantees).
func (e *Executor) checkTraps() {
	for _, sig := range e.Runtime.Traps.Pending() {
		action := e.Runtime.Traps.Get(sig)
		if action.Kind == rtime.ActionRun {
			e.EvalString(action.Script)
		}
	}
}

func (e *Executor) execStmtsNoErrexit(stmts []*syntax.Stmt) builtin.Result {
	old := e.Runtime.Options.Errexit
	e.Runtime.Options.Errexit = false
	res := e.execStmts(stmts)
	e.Runtime.Options.Errexit = old
	return res
}

// --- statement dispatch ---

func (e *Executor) execStmt(st *syntax.Stmt) builtin.Result {
	res := e.execStmtBare(st)
	if err := e.runErrTrapIfFailed(res); err != nil {
		fmt.Fprintf(e.stderr, "trap: %v\n", err)
	}
	return res
}

func (e *Executor) runErrTrapIfFailed(res builtin.Result) error {
	if res.ExitCode == 0 || res.Control != builtin.ControlNone {
		return nil
	}
	action := e.Runtime.Traps.Get(rtime.SigERR)
	if action.Kind != rtime.ActionRun {
		return nil
	}
	e.EvalString(action.Script)
	return nil
}

func (e *Executor) execStmtBare(st *syntax.Stmt) builtin.Result {
	if e.file != nil {
		e.Runtime.SetCurrentLine(e.file.LineAt(st.Position))
	}

	for _, as := range st.Assigns {
		if err := e.applyAssignment(as); err != nil {
			fmt.Fprintf(e.stderr, "%v\n", err)
			return builtin.Result{ExitCode: 1}
		}
	}

	if isPermanentRedirectExec(st) {
		return e.execPermanentRedirectExec(st.Redirects)
	}

	restore, err := e.applyRedirects(st.Redirects)
	if err != nil {
		fmt.Fprintf(e.stderr, "%v\n", err)
		return builtin.Result{ExitCode: 1}
	}
	defer restore()

	switch st.StmtKind {
	case syntax.StmtCommand:
		return e.execCommand(st.Command)
	case syntax.StmtPipeline:
		return e.execPipeline(st.Pipeline)
	case syntax.StmtIf:
		return e.execIf(st)
	case syntax.StmtWhile:
		return e.execLoop(st.LoopCond, st.LoopBody, false)
	case syntax.StmtUntil:
		return e.execLoop(st.LoopCond, st.LoopBody, true)
	case syntax.StmtFor:
		return e.execFor(st)
	case syntax.StmtCase:
		return e.execCase(st)
	case syntax.StmtFunctionDef:
		e.Runtime.DefineFunction(&rtime.Function{
			Name:   st.FunctionDef.Name,
			Params: st.FunctionDef.Params,
			Body:   st.FunctionDef.Body,
		})
		return builtin.Result{}
	case syntax.StmtSubshell:
		return e.execSubshell(st.Subshell)
	case syntax.StmtGroup:
		return e.execStmts(st.Group)
	case syntax.StmtAssignment:
		if err := e.applyWordAssignment(st.Assignment); err != nil {
			fmt.Fprintf(e.stderr, "%v\n", err)
			return builtin.Result{ExitCode: 1}
		}
		return builtin.Result{}
	case syntax.StmtAndOr:
		return e.execAndOr(st)
	case syntax.StmtBackground:
		return e.execBackground(st.Background)
	default:
		panic(fmt.Sprintf("interp: unhandled statement kind %v", st.StmtKind))
	}
}

// isPermanentRedirectExec reports whether st is `exec` with redirects and
// no trailing command — spec.md §4.2's "Permanent redirection slots...
// set by exec > file" form, as opposed to ordinary `exec <cmd>` (which
// replaces the current command) or a plain `exec` with nothing to do.
func isPermanentRedirectExec(st *syntax.Stmt) bool {
	if st.StmtKind != syntax.StmtCommand || len(st.Redirects) == 0 {
		return false
	}
	cmd := st.Command
	if cmd == nil || cmd.Name == nil || len(cmd.Args) != 0 {
		return false
	}
	return wordRough(cmd.Name) == "exec"
}

// execPermanentRedirectExec installs st's redirects without restoring them
// afterward: they become the Runtime's PermStdout/PermStderr/PermStdin,
// persisting for the rest of this request until ResetForSession clears
// them at the next SessionInit (§9's Open Question, resolved: permanent
// redirections ARE reset at SessionInit).
func (e *Executor) execPermanentRedirectExec(redirects []*syntax.Redirect) builtin.Result {
	if _, err := e.applyRedirects(redirects); err != nil {
		fmt.Fprintf(e.stderr, "%v\n", err)
		return builtin.Result{ExitCode: 1}
	}
	e.Runtime.PermStdout, e.Runtime.PermStderr, e.Runtime.PermStdin = e.stdout, e.stderr, e.stdin
	return builtin.Result{}
}

func (e *Executor) applyAssignment(as *syntax.Assignment) error {
	return e.applyWordAssignment(as)
}

func (e *Executor) applyWordAssignment(as *syntax.Assignment) error {
	value, err := e.expandCtx.Literal(as.Value)
	if err != nil {
		return err
	}
	return e.Runtime.Set(as.Name, value)
}

func (e *Executor) execIf(st *syntax.Stmt) builtin.Result {
	cond := e.execStmtsNoErrexit(st.IfCond)
	if cond.Control != builtin.ControlNone {
		return cond
	}
	if cond.ExitCode == 0 {
		return e.execStmts(st.IfThen)
	}
	for _, elif := range st.Elifs {
		c := e.execStmtsNoErrexit(elif.Cond)
		if c.Control != builtin.ControlNone {
			return c
		}
		if c.ExitCode == 0 {
			return e.execStmts(elif.Then)
		}
	}
	if st.Else != nil {
		return e.execStmts(st.Else)
	}
	return builtin.Result{}
}

func (e *Executor) execLoop(cond, body []*syntax.Stmt, until bool) builtin.Result {
	e.Runtime.EnterLoop()
	defer e.Runtime.ExitLoop()
	var last builtin.Result
	for {
		e.checkTraps()
		c := e.execStmtsNoErrexit(cond)
		if c.Control != builtin.ControlNone {
			return c
		}
		stop := (c.ExitCode == 0) == until
		if stop {
			return last
		}
		res := e.execStmts(body)
		last = builtin.Result{ExitCode: res.ExitCode}
		switch res.Control {
		case builtin.ControlBreak:
			if res.N > 1 {
				return builtin.Result{ExitCode: res.ExitCode, Control: builtin.ControlBreak, N: res.N - 1}
			}
			return last
		case builtin.ControlContinue:
			if res.N > 1 {
				return builtin.Result{ExitCode: res.ExitCode, Control: builtin.ControlContinue, N: res.N - 1}
			}
		case builtin.ControlReturn, builtin.ControlExit:
			return res
		}
	}
}

func (e *Executor) execFor(st *syntax.Stmt) builtin.Result {
	var items []string
	if st.ForIter == nil {
		items = e.Runtime.PositionalParams()
	} else {
		fields, err := e.expandCtx.Fields(st.ForIter.Words)
		if err != nil {
			fmt.Fprintf(e.stderr, "%v\n", err)
			return builtin.Result{ExitCode: 1}
		}
		items = fields
	}
	e.Runtime.EnterLoop()
	defer e.Runtime.ExitLoop()
	var last builtin.Result
	for _, item := range items {
		e.checkTraps()
		e.Runtime.Set(st.ForVar, item)
		res := e.execStmts(st.LoopBody)
		last = builtin.Result{ExitCode: res.ExitCode}
		switch res.Control {
		case builtin.ControlBreak:
			if res.N > 1 {
				return builtin.Result{ExitCode: res.ExitCode, Control: builtin.ControlBreak, N: res.N - 1}
			}
			return last
		case builtin.ControlContinue:
			if res.N > 1 {
				return builtin.Result{ExitCode: res.ExitCode, Control: builtin.ControlContinue, N: res.N - 1}
			}
		case builtin.ControlReturn, builtin.ControlExit:
			return res
		}
	}
	return last
}

func (e *Executor) execCase(st *syntax.Stmt) builtin.Result {
	word, err := e.expandCtx.Literal(st.CaseWord)
	if err != nil {
		fmt.Fprintf(e.stderr, "%v\n", err)
		return builtin.Result{ExitCode: 1}
	}
	for _, arm := range st.CaseArms {
		for _, pw := range arm.Patterns {
			pat, err := e.expandCtx.Literal(pw)
			if err != nil {
				continue
			}
			matched, err := caseMatch(pat, word)
			if err != nil {
				continue
			}
			if matched {
				return e.execStmts(arm.Body)
			}
		}
	}
	return builtin.Result{}
}

// execSubshell runs stmts against a cloned Runtime (§4.4.5): variable and
// cwd changes inside `( ... )` never escape to the parent, matching the
// fork-based isolation a real subshell gets from the OS.
func (e *Executor) execSubshell(stmts []*syntax.Stmt) builtin.Result {
	sub := e.forkExecutorWithRuntime(e.Runtime.Clone(), e.stdout, e.stderr, e.stdin)
	return sub.execStmts(stmts)
}

func (e *Executor) execAndOr(st *syntax.Stmt) builtin.Result {
	left := e.execStmtNoErrexit(st.AndOrLHS)
	if left.Control != builtin.ControlNone {
		return left
	}
	ok := left.ExitCode == 0
	runRight := (st.AndOrOp == syntax.AndOrAnd && ok) || (st.AndOrOp == syntax.AndOrOr && !ok)
	if !runRight {
		left.Guarded = true
		return left
	}
	return e.execStmt(st.AndOrRHS)
}

func (e *Executor) execStmtNoErrexit(st *syntax.Stmt) builtin.Result {
	old := e.Runtime.Options.Errexit
	e.Runtime.Options.Errexit = false
	res := e.execStmt(st)
	e.Runtime.Options.Errexit = old
	return res
}

// execBackground spawns st without waiting, registers a Job, sets $! to its
// pid, and returns immediately with exit 0 (spec.md §4.4.4). A bare
// external command (the common `cmd &` shape) gets a real OS pid, captured
// synchronously before this returns so $! is never read before it is set;
// anything else (a pipeline, builtin, or function) runs in-process on a
// goroutine instead, which has no real OS pid to report, so it gets a
// synthetic placeholder — see simpleExternalArgs in exec.go.
func (e *Executor) execBackground(st *syntax.Stmt) builtin.Result {
	sub := e.forkExecutor(e.stdout, e.stderr, strings.NewReader(""))

	if args, ok := sub.simpleExternalArgs(st); ok {
		cmd, failed, started := sub.startExternal(args)
		if started {
			pid := cmd.Process.Pid
			job := e.Runtime.Jobs.Add(pid, strings.Join(args, " "), true)
			e.Runtime.SetLastBackgroundPID(pid)
			go func() {
				res := finishExternal(sub, args[0], cmd)
				e.Runtime.Jobs.MarkDone(job.ID, res.ExitCode)
			}()
			return builtin.Result{ExitCode: 0}
		}
		// lookPath/Start failed before any process existed: no real pid,
		// but the job still completes (failed) without further waiting.
		pid := e.Runtime.NextSyntheticPID()
		job := e.Runtime.Jobs.Add(pid, strings.Join(args, " "), true)
		e.Runtime.SetLastBackgroundPID(pid)
		e.Runtime.Jobs.MarkDone(job.ID, failed.ExitCode)
		return builtin.Result{ExitCode: 0}
	}

	pid := e.Runtime.NextSyntheticPID()
	job := e.Runtime.Jobs.Add(pid, describeStmt(st), true)
	e.Runtime.SetLastBackgroundPID(pid)
	go func() {
		res := sub.execStmt(st)
		e.Runtime.Jobs.MarkDone(job.ID, res.ExitCode)
	}()
	return builtin.Result{ExitCode: 0}
}

func describeStmt(st *syntax.Stmt) string {
	if st.Command != nil && st.Command.Name != nil {
		return wordRough(st.Command.Name)
	}
	return "background job"
}

func wordRough(w *syntax.Word) string {
	var b strings.Builder
	for _, p := range w.Parts {
		if lit, ok := p.(*syntax.Literal); ok {
			b.WriteString(lit.Value)
		}
	}
	return b.String()
}

// caseMatch matches one case-arm pattern against word; each '|'-separated
// alternative is already its own CaseArm.Patterns entry from the parser, so
// this is a single glob match.
func caseMatch(pat, word string) (bool, error) {
	return pattern.Match(pat, word)
}
