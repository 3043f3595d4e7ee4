package interp

import (
	"fmt"
	"os"
	"strings"

	"github.com/rushshell/rush/internal/syntax"
)

// applyRedirects opens and installs each redirect on e's current streams,
// returning a restore func that undoes them in reverse order. Grounded on
// mvdan-sh/interp/interp.go's Runner.redir, adapted to this repo's
// RedirKind/RedirTarget data model (a closed tagged struct rather than
// mvdan-sh's syntax.RedirOperator-keyed switch).
func (e *Executor) applyRedirects(redirects []*syntax.Redirect) (restore func(), err error) {
	if len(redirects) == 0 {
		return func() {}, nil
	}

	savedStdout, savedStderr, savedStdin := e.stdout, e.stderr, e.stdin
	var opened []*os.File

	restore = func() {
		e.stdout, e.stderr, e.stdin = savedStdout, savedStderr, savedStdin
		for _, f := range opened {
			f.Close()
		}
	}

	for _, rd := range redirects {
		if err := e.applyOneRedirect(rd, &opened); err != nil {
			restore()
			return func() {}, err
		}
	}
	return restore, nil
}

func (e *Executor) applyOneRedirect(rd *syntax.Redirect, opened *[]*os.File) error {
	switch rd.Kind {
	case syntax.HereDocRdr:
		body := rd.HereDocBody
		if rd.HereDocExpand {
			if expanded, err := e.expandString(body); err == nil {
				body = expanded
			}
		}
		e.stdin = strings.NewReader(body)
		return nil

	case syntax.HereStringRdr:
		arg, err := e.expandCtx.Literal(rd.HereString)
		if err != nil {
			return err
		}
		e.stdin = strings.NewReader(arg + "\n")
		return nil

	case syntax.FdDup:
		return e.applyFdDup(rd)
	}

	path, err := e.redirectTargetPath(rd)
	if err != nil {
		return err
	}

	switch rd.Kind {
	case syntax.Stdin:
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		*opened = append(*opened, f)
		e.stdin = f
		return nil

	case syntax.StdoutOverwrite, syntax.StdoutAppend:
		f, err := e.openForWrite(path, rd.Kind == syntax.StdoutAppend)
		if err != nil {
			return err
		}
		*opened = append(*opened, f)
		e.stdout = f
		return nil

	case syntax.StderrOverwrite, syntax.StderrAppend:
		f, err := e.openForWrite(path, rd.Kind == syntax.StderrAppend)
		if err != nil {
			return err
		}
		*opened = append(*opened, f)
		e.stderr = f
		return nil

	case syntax.MergeStderrToStdout:
		e.stderr = e.stdout
		return nil

	default:
		return fmt.Errorf("interp: unhandled redirect kind %v", rd.Kind)
	}
}

// openForWrite applies noclobber (§4.4's -C/"set -o noclobber" rule): a
// plain `>` onto an existing regular file fails unless append or the file
// doesn't exist yet.
func (e *Executor) openForWrite(path string, appendMode bool) (*os.File, error) {
	flag := os.O_WRONLY | os.O_CREATE
	if appendMode {
		flag |= os.O_APPEND
	} else {
		if e.Runtime.Options.Noclobber {
			if _, err := os.Stat(path); err == nil {
				return nil, fmt.Errorf("%s: cannot overwrite existing file (noclobber)", path)
			}
		}
		flag |= os.O_TRUNC
	}
	return os.OpenFile(path, flag, 0o644)
}

func (e *Executor) redirectTargetPath(rd *syntax.Redirect) (string, error) {
	if rd.TargetWord != nil {
		return e.expandCtx.Literal(rd.TargetWord)
	}
	return rd.Target.Path, nil
}

// applyFdDup implements `n>&m` / `n<&m` descriptor duplication, restricted
// to the well-known 0/1/2 triad the Executor models as separate streams
// rather than an arbitrary fd table.
func (e *Executor) applyFdDup(rd *syntax.Redirect) error {
	if !rd.Target.IsFd {
		return fmt.Errorf("interp: fd duplication requires a numeric target")
	}
	src, dst := rd.Fd, rd.Target.Fd
	switch {
	case src == 1 && dst == 2:
		e.stdout = e.stderr
	case src == 2 && dst == 1:
		e.stderr = e.stdout
	case src == dst:
		// n>&n is a no-op.
	default:
		return fmt.Errorf("interp: unsupported file descriptor duplication %d>&%d", src, dst)
	}
	return nil
}

// expandString expands an already-literal here-doc body: variable and
// command substitution but no word splitting or globbing, per §4.3's
// unquoted-tag heredoc rule.
func (e *Executor) expandString(body string) (string, error) {
	word, err := syntax.ParseHereDocBody(body)
	if err != nil {
		return body, nil
	}
	return e.expandCtx.Literal(word)
}
