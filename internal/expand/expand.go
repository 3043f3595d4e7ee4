// Package expand implements the expansion pipeline of SPEC_FULL.md
// §4.4.1: brace expansion, tilde expansion, parameter/command/arithmetic
// expansion, word splitting on $IFS, and pathname (glob) expansion.
// Grounded on mvdan-sh/expand's Context/Fields/Literal split, adapted to
// drive the rtime.Runtime variable store and an injected command
// substitution callback rather than mvdan-sh's own Environ/Runner types.
package expand

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/rushshell/rush/internal/pattern"
	"github.com/rushshell/rush/internal/rtime"
	"github.com/rushshell/rush/internal/syntax"
)

// Subshell runs stmts to completion with stdout captured, implementing
// command substitution. The Executor (internal/interp) supplies this so
// expand need not import interp (which itself imports expand to expand
// command words — Subshell is the callback that breaks the cycle).
type Subshell func(stmts []*syntax.Stmt) (stdout string, err error)

// Context carries everything the expansion pipeline needs beyond the AST
// node being expanded.
type Context struct {
	Runtime  *rtime.Runtime
	Subshell Subshell
	NoGlob   bool
}

func (c *Context) ifs() string {
	if v, ok := c.Runtime.Get("IFS"); ok {
		return v
	}
	return " \t\n"
}

// Literal expands w into a single field with no word-splitting or
// pathname expansion applied — used for assignment right-hand sides,
// here-strings, redirection targets, and case patterns.
func (c *Context) Literal(w *syntax.Word) (string, error) {
	if w == nil {
		return "", nil
	}
	var b strings.Builder
	for _, part := range w.Parts {
		val, _, err := c.partValue(part, false)
		if err != nil {
			return "", err
		}
		b.WriteString(val)
	}
	return expandTilde(b.String()), nil
}

// Fields runs the full pipeline over a list of command words: brace
// expansion, per-word value expansion, IFS splitting, and (unless NoGlob)
// pathname expansion — producing the final argv for a Command.
func (c *Context) Fields(words []*syntax.Word) ([]string, error) {
	var out []string
	for _, w := range words {
		fields, err := c.wordFields(w)
		if err != nil {
			return nil, err
		}
		out = append(out, fields...)
	}
	return out, nil
}

func (c *Context) wordFields(w *syntax.Word) ([]string, error) {
	if len(w.Parts) == 1 {
		if be, ok := w.Parts[0].(*syntax.BraceExpansion); ok {
			var out []string
			for _, alt := range expandBraces(be.Pattern) {
				out = append(out, c.globField(expandTilde(alt))...)
			}
			return out, nil
		}
	}

	var b strings.Builder
	splittable := false
	for i, part := range w.Parts {
		val, unquoted, err := c.partValue(part, false)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			val = expandTilde(val)
		}
		if unquoted {
			splittable = true
		}
		b.WriteString(val)
	}
	joined := b.String()

	if !splittable {
		if joined == "" && len(w.Parts) == 0 {
			return nil, nil
		}
		return c.globField(joined), nil
	}

	var out []string
	for _, f := range splitIFS(joined, c.ifs()) {
		out = append(out, c.globField(f)...)
	}
	return out, nil
}

func (c *Context) globField(field string) []string {
	if c.NoGlob || !strings.ContainsAny(field, "*?[") {
		return []string{field}
	}
	matches, err := globMatch(field)
	if err != nil || len(matches) == 0 {
		return []string{field}
	}
	return matches
}

// globMatch expands a pathname pattern against the filesystem, per
// §4.4.1's pathname-expansion step. Unlike filepath.Glob, it walks via
// pattern.Match so the character-class and negation syntax matches the
// rest of the shell's glob dialect exactly.
func globMatch(field string) ([]string, error) {
	dir, base := filepath.Split(field)
	if dir == "" {
		dir = "."
	}
	if !strings.ContainsAny(base, "*?[") {
		return filepath.Glob(field)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var matches []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") && !strings.HasPrefix(base, ".") {
			continue
		}
		ok, err := pattern.Match(base, e.Name())
		if err != nil {
			return nil, err
		}
		if ok {
			name := e.Name()
			if filepath.Dir(field) != "." || strings.HasPrefix(field, "./") {
				name = filepath.Join(filepath.Dir(field), name)
			}
			matches = append(matches, name)
		}
	}
	sort.Strings(matches)
	return matches, nil
}

func splitIFS(s, ifs string) []string {
	if ifs == "" {
		if s == "" {
			return nil
		}
		return []string{s}
	}
	isIFS := func(r rune) bool { return strings.ContainsRune(ifs, r) }
	fields := strings.FieldsFunc(s, isIFS)
	if fields == nil {
		return nil
	}
	return fields
}

func expandTilde(s string) string {
	if !strings.HasPrefix(s, "~") {
		return s
	}
	rest := s[1:]
	name := rest
	var suffix string
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		name = rest[:idx]
		suffix = rest[idx:]
	}
	var home string
	if name == "" {
		home = os.Getenv("HOME")
		if home == "" {
			if u, err := user.Current(); err == nil {
				home = u.HomeDir
			}
		}
	} else {
		u, err := user.Lookup(name)
		if err != nil {
			return s
		}
		home = u.HomeDir
	}
	if home == "" {
		return s
	}
	return home + suffix
}

// expandBraces expands the first {a,b,c} or {start..end} group found in
// s, recursing into each alternative so multiple brace groups in one word
// all get expanded, per §4.4.1's supplemented brace-expansion step.
func expandBraces(s string) []string {
	open := strings.IndexByte(s, '{')
	if open < 0 {
		return []string{s}
	}
	depth := 0
	closeIdx := -1
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				closeIdx = i
			}
		}
		if closeIdx >= 0 {
			break
		}
	}
	if closeIdx < 0 {
		return []string{s}
	}
	prefix, body, suffix := s[:open], s[open+1:closeIdx], s[closeIdx+1:]

	var alts []string
	if from, to, ok := parseBraceRange(body); ok {
		if from <= to {
			for i := from; i <= to; i++ {
				alts = append(alts, strconv.Itoa(i))
			}
		} else {
			for i := from; i >= to; i-- {
				alts = append(alts, strconv.Itoa(i))
			}
		}
	} else if strings.Contains(body, ",") {
		alts = splitTopLevelComma(body)
	} else {
		return []string{s}
	}

	var out []string
	for _, alt := range alts {
		for _, combined := range expandBraces(prefix + alt + suffix) {
			out = append(out, combined)
		}
	}
	return out
}

func parseBraceRange(body string) (from, to int, ok bool) {
	idx := strings.Index(body, "..")
	if idx < 0 {
		return 0, 0, false
	}
	fromStr, toStr := body[:idx], body[idx+2:]
	if step := strings.Index(toStr, ".."); step >= 0 {
		toStr = toStr[:step] // ignore an explicit ..step increment
	}
	f, err1 := strconv.Atoi(fromStr)
	t, err2 := strconv.Atoi(toStr)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return f, t, true
}

func splitTopLevelComma(body string) []string {
	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(body); i++ {
		switch body[i] {
		case '{':
			depth++
		case '}':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, body[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, body[start:])
	return parts
}

// partValue expands a single Argument into text. The returned bool
// reports whether the value came from an unquoted expansion (parameter,
// command substitution, or arithmetic expansion) and so is eligible for
// field splitting and globbing; literal and quoted text never is.
func (c *Context) partValue(part syntax.Argument, insideDouble bool) (string, bool, error) {
	switch a := part.(type) {
	case *syntax.Literal:
		return a.Value, false, nil
	case *syntax.Flag:
		return a.Value, false, nil
	case *syntax.Path:
		return a.Value, false, nil
	case *syntax.SingleQuoted:
		return a.Value, false, nil
	case *syntax.DoubleQuoted:
		var b strings.Builder
		for _, inner := range a.Parts {
			val, _, err := c.partValue(inner, true)
			if err != nil {
				return "", false, err
			}
			b.WriteString(val)
		}
		return b.String(), false, nil
	case *syntax.Variable:
		val, err := c.paramValue(a)
		if err != nil {
			return "", false, err
		}
		return val, !insideDouble, nil
	case *syntax.CommandSubstitution:
		if c.Subshell == nil {
			return "", false, errors.New("expand: command substitution requires a Subshell callback")
		}
		out, err := c.Subshell(a.Stmts)
		if err != nil {
			return "", false, err
		}
		return strings.TrimRight(out, "\n"), !insideDouble, nil
	case *syntax.ArithmeticExpansion:
		n, err := c.Arith(a.Expr)
		if err != nil {
			return "", false, err
		}
		return strconv.FormatInt(n, 10), !insideDouble, nil
	case *syntax.BraceExpansion:
		// A brace group nested inside a larger word (not the word's sole
		// part) is left literal; only wordFields' single-part fast path
		// performs the multi-field expansion.
		return a.Pattern, false, nil
	default:
		return "", false, fmt.Errorf("expand: unknown argument type %T", part)
	}
}

// paramValue resolves one Variable node per its ParamOp, covering the
// operator table in §4.4.1 plus the substring/replace forms supplemented
// from original_source/.
func (c *Context) paramValue(v *syntax.Variable) (string, error) {
	raw, isSet := c.specialOrGet(v.Name)

	switch v.Op {
	case syntax.ParamPlain:
		if !isSet && c.Runtime.Options.Nounset {
			return "", rtime.ErrUnsetStrict{Name: v.Name}
		}
		return raw, nil
	case syntax.ParamLength:
		return strconv.Itoa(len(raw)), nil
	case syntax.ParamDefault:
		if isSet && raw != "" {
			return raw, nil
		}
		return c.Literal(v.Word)
	case syntax.ParamAssign:
		if isSet && raw != "" {
			return raw, nil
		}
		val, err := c.Literal(v.Word)
		if err != nil {
			return "", err
		}
		if err := c.Runtime.Set(v.Name, val); err != nil {
			return "", err
		}
		return val, nil
	case syntax.ParamError:
		if isSet && raw != "" {
			return raw, nil
		}
		msg, _ := c.Literal(v.Word)
		if msg == "" {
			msg = v.Name + ": parameter null or not set"
		}
		return "", errors.New(msg)
	case syntax.ParamAlt:
		if isSet && raw != "" {
			return c.Literal(v.Word)
		}
		return "", nil
	case syntax.ParamRemoveShortPrefix, syntax.ParamRemoveLongPrefix:
		pat, err := c.Literal(v.Word)
		if err != nil {
			return "", err
		}
		return removePrefix(raw, pat, v.Op == syntax.ParamRemoveLongPrefix)
	case syntax.ParamRemoveShortSuffix, syntax.ParamRemoveLongSuffix:
		pat, err := c.Literal(v.Word)
		if err != nil {
			return "", err
		}
		return removeSuffix(raw, pat, v.Op == syntax.ParamRemoveLongSuffix)
	case syntax.ParamSubstring:
		return substring(raw, v.Offset, v.Length, c)
	case syntax.ParamReplaceFirst, syntax.ParamReplaceAll:
		pat, err := c.Literal(v.Orig)
		if err != nil {
			return "", err
		}
		repl, err := c.Literal(v.With)
		if err != nil {
			return "", err
		}
		return replace(raw, pat, repl, v.Op == syntax.ParamReplaceAll)
	default:
		return raw, nil
	}
}

// specialOrGet resolves $@/$*/$#/$?/$$/positional params in addition to
// ordinary variables.
func (c *Context) specialOrGet(name string) (string, bool) {
	switch name {
	case "?":
		return strconv.Itoa(c.Runtime.LastExit()), true
	case "#":
		return strconv.Itoa(len(c.Runtime.PositionalParams())), true
	case "@", "*":
		return strings.Join(c.Runtime.PositionalParams(), " "), true
	case "$":
		return strconv.Itoa(os.Getpid()), true
	case "!":
		return strconv.Itoa(c.Runtime.LastBackgroundPID()), true
	}
	if name == "0" {
		return c.Runtime.ScriptName(), true
	}
	if len(name) == 1 && name[0] >= '1' && name[0] <= '9' {
		idx, _ := strconv.Atoi(name)
		params := c.Runtime.PositionalParams()
		if idx > len(params) {
			return "", false
		}
		return params[idx-1], true
	}
	return c.Runtime.Get(name)
}

func removePrefix(value, pat string, longest bool) (string, error) {
	if pat == "" {
		return value, nil
	}
	re, err := pattern.Regexp(pat, longest)
	if err != nil {
		return "", err
	}
	if longest {
		for j := len(value); j >= 0; j-- {
			if re.MatchString(value[:j]) {
				return value[j:], nil
			}
		}
	} else {
		for j := 0; j <= len(value); j++ {
			if re.MatchString(value[:j]) {
				return value[j:], nil
			}
		}
	}
	return value, nil
}

func removeSuffix(value, pat string, longest bool) (string, error) {
	if pat == "" {
		return value, nil
	}
	re, err := pattern.Regexp(pat, longest)
	if err != nil {
		return "", err
	}
	if longest {
		for i := 0; i <= len(value); i++ {
			if re.MatchString(value[i:]) {
				return value[:i], nil
			}
		}
	} else {
		for i := len(value); i >= 0; i-- {
			if re.MatchString(value[i:]) {
				return value[:i], nil
			}
		}
	}
	return value, nil
}

func replace(value, pat, repl string, all bool) (string, error) {
	if pat == "" {
		return value, nil
	}
	re, err := pattern.Find(pat, true)
	if err != nil {
		return "", err
	}
	if all {
		return re.ReplaceAllString(value, escapeDollar(repl)), nil
	}
	loc := re.FindStringIndex(value)
	if loc == nil {
		return value, nil
	}
	return value[:loc[0]] + repl + value[loc[1]:], nil
}

// escapeDollar guards a literal replacement string against regexp's
// ReplaceAllString treating "$name" as a capture-group reference.
func escapeDollar(s string) string {
	return strings.ReplaceAll(s, "$", "$$")
}

func substring(value, offsetExpr, lengthExpr string, c *Context) (string, error) {
	offset := int64(0)
	if offsetExpr != "" {
		expr, err := syntax.ParseArithString(offsetExpr)
		if err != nil {
			return "", err
		}
		offset, err = c.Arith(expr)
		if err != nil {
			return "", err
		}
	}
	start := int(offset)
	if start < 0 {
		start += len(value)
		if start < 0 {
			start = 0
		}
	}
	if start > len(value) {
		start = len(value)
	}
	if lengthExpr == "" {
		return value[start:], nil
	}
	expr, err := syntax.ParseArithString(lengthExpr)
	if err != nil {
		return "", err
	}
	length, err := c.Arith(expr)
	if err != nil {
		return "", err
	}
	end := start + int(length)
	if length < 0 {
		end = len(value) + int(length)
	}
	if end > len(value) {
		end = len(value)
	}
	if end < start {
		end = start
	}
	return value[start:end], nil
}

// Arith evaluates an arithmetic-expansion tree against the runtime's
// variables, per $(( )) semantics: unset/non-numeric variables read as 0,
// and ArithAssign writes back into the runtime.
func (c *Context) Arith(expr syntax.ArithExpr) (int64, error) {
	switch e := expr.(type) {
	case *syntax.ArithNum:
		return e.Value, nil
	case *syntax.ArithVar:
		v, _ := c.Runtime.Get(e.Name)
		n, _ := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, nil
	case *syntax.ArithParen:
		return c.Arith(e.X)
	case *syntax.ArithUnary:
		x, err := c.Arith(e.X)
		if err != nil {
			return 0, err
		}
		switch e.Op {
		case "+":
			return x, nil
		case "-":
			return -x, nil
		case "!":
			return boolInt(x == 0), nil
		}
		return 0, fmt.Errorf("expand: unknown unary operator %q", e.Op)
	case *syntax.ArithBinary:
		x, err := c.Arith(e.X)
		if err != nil {
			return 0, err
		}
		if e.Op == "&&" {
			if x == 0 {
				return 0, nil
			}
			y, err := c.Arith(e.Y)
			if err != nil {
				return 0, err
			}
			return boolInt(y != 0), nil
		}
		if e.Op == "||" {
			if x != 0 {
				return 1, nil
			}
			y, err := c.Arith(e.Y)
			if err != nil {
				return 0, err
			}
			return boolInt(y != 0), nil
		}
		y, err := c.Arith(e.Y)
		if err != nil {
			return 0, err
		}
		switch e.Op {
		case "+":
			return x + y, nil
		case "-":
			return x - y, nil
		case "*":
			return x * y, nil
		case "/":
			if y == 0 {
				return 0, errors.New("expand: division by zero")
			}
			return x / y, nil
		case "%":
			if y == 0 {
				return 0, errors.New("expand: division by zero")
			}
			return x % y, nil
		case "<":
			return boolInt(x < y), nil
		case "<=":
			return boolInt(x <= y), nil
		case ">":
			return boolInt(x > y), nil
		case ">=":
			return boolInt(x >= y), nil
		case "==":
			return boolInt(x == y), nil
		case "!=":
			return boolInt(x != y), nil
		}
		return 0, fmt.Errorf("expand: unknown binary operator %q", e.Op)
	case *syntax.ArithAssign:
		x, err := c.Arith(e.X)
		if err != nil {
			return 0, err
		}
		result := x
		if e.Op != "=" {
			cur, _ := c.Runtime.Get(e.Name)
			curN, _ := strconv.ParseInt(strings.TrimSpace(cur), 10, 64)
			switch e.Op {
			case "+=":
				result = curN + x
			case "-=":
				result = curN - x
			case "*=":
				result = curN * x
			case "/=":
				if x == 0 {
					return 0, errors.New("expand: division by zero")
				}
				result = curN / x
			case "%=":
				if x == 0 {
					return 0, errors.New("expand: division by zero")
				}
				result = curN % x
			}
		}
		if err := c.Runtime.Set(e.Name, strconv.FormatInt(result, 10)); err != nil {
			return 0, err
		}
		return result, nil
	default:
		return 0, fmt.Errorf("expand: unknown arithmetic node %T", expr)
	}
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
