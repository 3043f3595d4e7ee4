package syntax

import (
	"strconv"
	"strings"
)

// Parser turns shell source into a File. Grounded on mvdan-sh/syntax's
// recursive-descent parser.go, trimmed to the surface named in spec §4.3:
// no Bash arrays, no select, no process substitution, no [[ ]] beyond what
// the required test/[ builtins need (those are parsed as plain simple
// commands and evaluated by the builtin, not given dedicated grammar).
type Parser struct{}

// NewParser creates a Parser. Parsers hold no state between calls.
func NewParser() *Parser { return &Parser{} }

// Parse parses src into a File named name (used only in error messages).
func (p *Parser) Parse(src, name string) (*File, error) {
	pr := &parserState{lx: newLexer(src), name: name}
	stmts, err := pr.parseStmtList()
	if err != nil {
		return nil, err
	}
	pr.lx.skipBlankAndComments()
	if !pr.lx.eof() {
		return nil, &ParseError{Message: "unexpected input after program", Position: pr.lx.curPos()}
	}
	return &File{Name: name, Stmts: stmts, Src: src}, nil
}

type parserState struct {
	lx   *lexer
	name string
}

// ParseHereDocBody parses src (an entire here-document body) into a Word:
// $VAR/${...}/$(...)/`...`/$((...)) are recognized exactly as they are
// inside double quotes, but unlike a double-quoted word, '"' has no
// special meaning and the body runs to EOF rather than to a closing quote
// — the substitution rule §4.3 prescribes for an unquoted heredoc tag.
func ParseHereDocBody(src string) (*Word, error) {
	pr := &parserState{lx: newLexer(src)}
	var parts []Argument
	var buf strings.Builder
	start := pr.lx.curPos()
	flush := func() {
		if buf.Len() == 0 {
			return
		}
		parts = append(parts, &Literal{At: start, Value: buf.String()})
		buf.Reset()
	}
	for !pr.lx.eof() {
		b := pr.lx.peekByte()
		switch b {
		case '\\':
			switch pr.lx.peekAt(1) {
			case '\\', '$', '`':
				pr.lx.advance()
				buf.WriteByte(pr.lx.advance())
			case '\n':
				pr.lx.advance()
				pr.lx.advance()
			default:
				buf.WriteByte(pr.lx.advance())
			}
		case '`':
			flush()
			sub, err := pr.scanBacktickSubstitution()
			if err != nil {
				return nil, err
			}
			parts = append(parts, sub)
			start = pr.lx.curPos()
		case '$':
			if exp, ok, err := pr.tryScanDollar(); err != nil {
				return nil, err
			} else if ok {
				flush()
				parts = append(parts, exp)
				start = pr.lx.curPos()
			} else {
				buf.WriteByte(pr.lx.advance())
			}
		default:
			buf.WriteByte(pr.lx.advance())
		}
	}
	flush()
	return &Word{Parts: parts}, nil
}

func (p *parserState) errf(pos Pos, msg string) error {
	return &ParseError{Message: msg, Position: pos}
}

// --- statement lists -------------------------------------------------

var blockEnders = map[string]bool{
	"fi": true, "then": true, "elif": true, "else": true,
	"do": true, "done": true, "esac": true,
}

// parseStmtList parses statements until EOF or a reserved word that ends
// an enclosing block (fi/then/elif/else/do/done/esac), which it leaves
// unconsumed for the caller to check.
func (p *parserState) parseStmtList() ([]*Stmt, error) {
	var stmts []*Stmt
	for {
		p.lx.skipBlankAndComments()
		if p.lx.eof() {
			break
		}
		if word := p.peekReservedWord(); blockEnders[word] {
			break
		}
		if tok, _ := p.lx.peekOperator(); tok == RParen || tok == RBrace {
			break
		}
		stmt, err := p.parseAndOrBackground()
		if err != nil {
			return nil, err
		}
		if stmt == nil {
			break
		}
		stmts = append(stmts, stmt)
		p.lx.skipBlank()
		p.consumeSeparators()
	}
	return stmts, nil
}

// consumeSeparators eats any run of ; and newline separators (and blanks)
// between statements.
func (p *parserState) consumeSeparators() {
	for {
		p.lx.skipBlank()
		if p.lx.eof() {
			return
		}
		switch p.lx.peekByte() {
		case ';', '\n':
			if p.lx.peekByte() == ';' && p.lx.peekAt(1) == ';' {
				return // ";;" ends a case arm; parseCase consumes it
			}
			p.lx.advance()
		default:
			return
		}
	}
}

// peekReservedWord returns the keyword spelled at the current position
// without consuming it, or "" if the position isn't a bare word.
func (p *parserState) peekReservedWord() string {
	save := *p.lx
	p.lx.skipBlank()
	start := p.lx.pos
	word := p.lx.scanRawWordTextUpTo(func(b byte) bool { return isWordBreak(b) })
	*p.lx = save
	_ = start
	return word
}

// --- and/or/background -------------------------------------------------

func (p *parserState) parseAndOrBackground() (*Stmt, error) {
	stmt, err := p.parseAndOr()
	if err != nil || stmt == nil {
		return stmt, err
	}
	p.lx.skipBlank()
	if tok, n := p.lx.peekOperator(); tok == And {
		p.lx.pos += n
		stmt = &Stmt{StmtKind: StmtBackground, Background: stmt, Position: stmt.Position}
	}
	return stmt, nil
}

func (p *parserState) parseAndOr() (*Stmt, error) {
	left, err := p.parsePipeline()
	if err != nil || left == nil {
		return left, err
	}
	for {
		p.lx.skipBlank()
		tok, n := p.lx.peekOperator()
		if tok != AndAnd && tok != OrOr {
			return left, nil
		}
		p.lx.pos += n
		p.lx.skipBlankAndComments()
		right, err := p.parsePipeline()
		if err != nil {
			return nil, err
		}
		if right == nil {
			return nil, p.errf(p.lx.curPos(), "expected command after "+tok.String())
		}
		op := AndOrAnd
		if tok == OrOr {
			op = AndOrOr
		}
		left = &Stmt{StmtKind: StmtAndOr, AndOrOp: op, AndOrLHS: left, AndOrRHS: right, Position: left.Position}
	}
}

// --- pipelines -----------------------------------------------------------

func (p *parserState) parsePipeline() (*Stmt, error) {
	p.lx.skipBlank()
	negated := false
	if word := p.peekReservedWord(); word == "!" {
		p.consumeRawWord()
		negated = true
		p.lx.skipBlank()
	}
	pos := p.lx.curPos()
	first, err := p.parseCompoundOrSimpleCommand()
	if err != nil || first == nil {
		return nil, err
	}
	stages := []*parsedCommand{first}
	for {
		p.lx.skipBlank()
		tok, n := p.lx.peekOperator()
		if tok != Or {
			break
		}
		p.lx.pos += n
		p.lx.skipBlankAndComments()
		next, err := p.parseCompoundOrSimpleCommand()
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, p.errf(p.lx.curPos(), "expected command after |")
		}
		stages = append(stages, next)
	}
	if len(stages) == 1 && !negated {
		return stages[0].asStmt(), nil
	}
	cmds := make([]*Command, len(stages))
	for i, s := range stages {
		if s.Compound != nil {
			return nil, p.errf(pos, "compound commands as a non-final pipeline stage are not supported")
		}
		cmds[i] = &Command{Name: s.Name, Args: s.Args, Redirects: s.Redirects}
	}
	return &Stmt{
		StmtKind: StmtPipeline,
		Pipeline: &Pipeline{Commands: cmds, Negated: negated},
		Position: pos,
	}, nil
}

// parsedCommand is the internal carrier for one pipeline stage: either an
// in-progress simple command, or a compound Stmt (if/while/subshell/etc)
// standing alone as the pipeline's only stage.
type parsedCommand struct {
	Name      *Word
	Args      []*Word
	Redirects []*Redirect
	Compound  *Stmt
}

func (c *parsedCommand) asStmt() *Stmt {
	if c.Compound != nil {
		c.Compound.Redirects = append(c.Compound.Redirects, c.Redirects...)
		return c.Compound
	}
	return &Stmt{StmtKind: StmtCommand, Command: &Command{Name: c.Name, Args: c.Args, Redirects: c.Redirects}}
}

func (p *parserState) consumeRawWord() string {
	p.lx.skipBlank()
	return p.lx.scanRawWordTextUpTo(func(b byte) bool { return isWordBreak(b) })
}

// --- compound and simple commands -----------------------------------------

func (p *parserState) parseCompoundOrSimpleCommand() (*parsedCommand, error) {
	p.lx.skipBlank()
	if p.lx.eof() {
		return nil, nil
	}

	if tok, _ := p.lx.peekOperator(); tok == LParen {
		return p.parseSubshell()
	}
	if isStandaloneBrace(p.lx, '{') {
		return p.parseGroup()
	}

	word := p.peekReservedWord()
	switch word {
	case "if":
		return p.parseIf()
	case "while":
		return p.parseWhile(false)
	case "until":
		return p.parseWhile(true)
	case "for":
		return p.parseFor()
	case "case":
		return p.parseCase()
	case "function":
		return p.parseFunctionDef(true)
	case "":
	}
	if word != "" && strings.HasPrefix(strings.TrimLeft(p.lx.src[p.lx.pos+len(word):], " \t"), "()") {
		return p.parseFunctionDef(false)
	}

	return p.parseSimpleCommand()
}

func isStandaloneBrace(lx *lexer, b byte) bool {
	if lx.peekByte() != b {
		return false
	}
	return isWordBreak(lx.peekAt(1))
}

func (p *parserState) parseSubshell() (*parsedCommand, error) {
	pos := p.lx.curPos()
	p.lx.advance() // (
	stmts, err := p.parseStmtList()
	if err != nil {
		return nil, err
	}
	p.lx.skipBlankAndComments()
	if tok, n := p.lx.peekOperator(); tok == RParen {
		p.lx.pos += n
	} else {
		return nil, p.errf(p.lx.curPos(), "expected )")
	}
	return &parsedCommand{Compound: &Stmt{StmtKind: StmtSubshell, Subshell: stmts, Position: pos}}, nil
}

func (p *parserState) parseGroup() (*parsedCommand, error) {
	pos := p.lx.curPos()
	p.lx.advance() // {
	stmts, err := p.parseStmtList()
	if err != nil {
		return nil, err
	}
	p.lx.skipBlankAndComments()
	if !isStandaloneBrace(p.lx, '}') {
		return nil, p.errf(p.lx.curPos(), "expected }")
	}
	p.lx.advance()
	return &parsedCommand{Compound: &Stmt{StmtKind: StmtGroup, Group: stmts, Position: pos}}, nil
}

func (p *parserState) expectKeyword(word string) error {
	p.lx.skipBlankAndComments()
	got := p.consumeRawWord()
	if got != word {
		return p.errf(p.lx.curPos(), "expected '"+word+"', got '"+got+"'")
	}
	return nil
}

func (p *parserState) parseIf() (*parsedCommand, error) {
	pos := p.lx.curPos()
	if err := p.expectKeyword("if"); err != nil {
		return nil, err
	}
	cond, err := p.parseStmtList()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("then"); err != nil {
		return nil, err
	}
	then, err := p.parseStmtList()
	if err != nil {
		return nil, err
	}
	var elifs []*Elif
	var elseStmts []*Stmt
	for {
		p.lx.skipBlankAndComments()
		w := p.peekReservedWord()
		if w == "elif" {
			p.consumeRawWord()
			econd, err := p.parseStmtList()
			if err != nil {
				return nil, err
			}
			if err := p.expectKeyword("then"); err != nil {
				return nil, err
			}
			ethen, err := p.parseStmtList()
			if err != nil {
				return nil, err
			}
			elifs = append(elifs, &Elif{Cond: econd, Then: ethen})
			continue
		}
		if w == "else" {
			p.consumeRawWord()
			elseStmts, err = p.parseStmtList()
			if err != nil {
				return nil, err
			}
		}
		break
	}
	if err := p.expectKeyword("fi"); err != nil {
		return nil, err
	}
	return &parsedCommand{Compound: &Stmt{
		StmtKind: StmtIf, IfCond: cond, IfThen: then, Elifs: elifs, Else: elseStmts, Position: pos,
	}}, nil
}

func (p *parserState) parseWhile(until bool) (*parsedCommand, error) {
	pos := p.lx.curPos()
	kw := "while"
	if until {
		kw = "until"
	}
	if err := p.expectKeyword(kw); err != nil {
		return nil, err
	}
	cond, err := p.parseStmtList()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("do"); err != nil {
		return nil, err
	}
	body, err := p.parseStmtList()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("done"); err != nil {
		return nil, err
	}
	kind := StmtWhile
	if until {
		kind = StmtUntil
	}
	return &parsedCommand{Compound: &Stmt{StmtKind: kind, LoopCond: cond, LoopBody: body, Position: pos}}, nil
}

func (p *parserState) parseFor() (*parsedCommand, error) {
	pos := p.lx.curPos()
	if err := p.expectKeyword("for"); err != nil {
		return nil, err
	}
	p.lx.skipBlank()
	name := p.consumeRawWord()
	if name == "" || !isNameByte(name[0], true) {
		return nil, p.errf(p.lx.curPos(), "expected name after for")
	}
	p.lx.skipBlankAndComments()
	var iter ForIter
	if w := p.peekReservedWord(); w == "in" {
		p.consumeRawWord()
		for {
			p.lx.skipBlank()
			if tok, _ := p.lx.peekOperator(); tok == Semicolon || tok == Newline {
				break
			}
			word, err := p.scanWord()
			if err != nil {
				return nil, err
			}
			if word == nil {
				break
			}
			iter.Words = append(iter.Words, word)
		}
	}
	p.consumeSeparators()
	if err := p.expectKeyword("do"); err != nil {
		return nil, err
	}
	body, err := p.parseStmtList()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("done"); err != nil {
		return nil, err
	}
	return &parsedCommand{Compound: &Stmt{StmtKind: StmtFor, ForVar: name, ForIter: &iter, LoopBody: body, Position: pos}}, nil
}

func (p *parserState) parseCase() (*parsedCommand, error) {
	pos := p.lx.curPos()
	if err := p.expectKeyword("case"); err != nil {
		return nil, err
	}
	p.lx.skipBlank()
	word, err := p.scanWord()
	if err != nil {
		return nil, err
	}
	if word == nil {
		return nil, p.errf(p.lx.curPos(), "expected word after case")
	}
	if err := p.expectKeyword("in"); err != nil {
		return nil, err
	}
	var arms []*CaseArm
	for {
		p.lx.skipBlankAndComments()
		if w := p.peekReservedWord(); w == "esac" {
			break
		}
		arm := &CaseArm{}
		optParen := false
		p.lx.skipBlank()
		if p.lx.peekByte() == '(' {
			p.lx.advance()
			optParen = true
		}
		_ = optParen
		for {
			pat, err := p.scanWord()
			if err != nil {
				return nil, err
			}
			if pat == nil {
				return nil, p.errf(p.lx.curPos(), "expected case pattern")
			}
			arm.Patterns = append(arm.Patterns, pat)
			p.lx.skipBlank()
			if p.lx.peekByte() == '|' {
				p.lx.advance()
				continue
			}
			break
		}
		p.lx.skipBlank()
		if p.lx.peekByte() != ')' {
			return nil, p.errf(p.lx.curPos(), "expected ) in case pattern")
		}
		p.lx.advance()
		body, err := p.parseStmtList()
		if err != nil {
			return nil, err
		}
		arm.Body = body
		p.lx.skipBlankAndComments()
		if tok, n := p.lx.peekOperator(); tok == Or {
			// stray '|' shouldn't occur here; ignore defensively
			p.lx.pos += n
		}
		if p.lx.peekByte() == ';' && p.lx.peekAt(1) == ';' {
			p.lx.pos += 2
		}
		arms = append(arms, arm)
	}
	if err := p.expectKeyword("esac"); err != nil {
		return nil, err
	}
	return &parsedCommand{Compound: &Stmt{StmtKind: StmtCase, CaseWord: word, CaseArms: arms, Position: pos}}, nil
}

func (p *parserState) parseFunctionDef(bashStyle bool) (*parsedCommand, error) {
	pos := p.lx.curPos()
	if bashStyle {
		if err := p.expectKeyword("function"); err != nil {
			return nil, err
		}
	}
	p.lx.skipBlank()
	name := p.consumeRawWord()
	p.lx.skipBlank()
	if p.lx.peekByte() == '(' && p.lx.peekAt(1) == ')' {
		p.lx.pos += 2
	}
	p.lx.skipBlankAndComments()
	body, err := p.parseBraceOrSingleStmt()
	if err != nil {
		return nil, err
	}
	return &parsedCommand{Compound: &Stmt{StmtKind: StmtFunctionDef, FunctionDef: &FunctionDef{Name: name, Body: body}, Position: pos}}, nil
}

func (p *parserState) parseBraceOrSingleStmt() ([]*Stmt, error) {
	if isStandaloneBrace(p.lx, '{') {
		cmd, err := p.parseGroup()
		if err != nil {
			return nil, err
		}
		return cmd.Compound.Group, nil
	}
	stmt, err := p.parseAndOrBackground()
	if err != nil {
		return nil, err
	}
	if stmt == nil {
		return nil, nil
	}
	return []*Stmt{stmt}, nil
}

// parseSimpleCommand parses NAME=value* word* redirect* as one Command,
// or — if only assignments were present with no following word — a bare
// Assignment statement (possibly several, wrapped in a Group).
func (p *parserState) parseSimpleCommand() (*parsedCommand, error) {
	var assigns []*Assignment
	var redirs []*Redirect

	for {
		p.lx.skipBlank()
		if name, val, ok := p.tryParseAssignment(); ok {
			assigns = append(assigns, &Assignment{Name: name, Value: val})
			continue
		}
		break
	}

	var name *Word
	var args []*Word
	for {
		p.lx.skipBlank()
		if r, ok, err := p.tryParseRedirect(); err != nil {
			return nil, err
		} else if ok {
			redirs = append(redirs, r)
			continue
		}
		if p.atWordBoundary() {
			break
		}
		w, err := p.scanWord()
		if err != nil {
			return nil, err
		}
		if w == nil {
			break
		}
		if name == nil {
			name = w
		} else {
			args = append(args, w)
		}
	}

	if name == nil {
		if len(assigns) == 0 {
			if len(redirs) == 0 {
				return nil, nil
			}
			return &parsedCommand{Redirects: redirs}, nil
		}
		if len(assigns) == 1 {
			return &parsedCommand{Compound: &Stmt{StmtKind: StmtAssignment, Assignment: assigns[0], Redirects: redirs}}, nil
		}
		var stmts []*Stmt
		for _, a := range assigns {
			stmts = append(stmts, &Stmt{StmtKind: StmtAssignment, Assignment: a})
		}
		return &parsedCommand{Compound: &Stmt{StmtKind: StmtGroup, Group: stmts, Redirects: redirs}}, nil
	}

	cmd := &parsedCommand{Name: name, Args: args, Redirects: redirs}
	if len(assigns) > 0 {
		cmd.Compound = &Stmt{StmtKind: StmtCommand, Command: &Command{Name: name, Args: args}, Assigns: assigns}
	}
	return cmd, nil
}

func (p *parserState) atWordBoundary() bool {
	if p.lx.eof() {
		return true
	}
	b := p.lx.peekByte()
	if b == ';' || b == '&' || b == '|' || b == '\n' || b == '(' || b == ')' {
		return true
	}
	if b == '{' || b == '}' {
		return isWordBreak(p.lx.peekAt(1))
	}
	return false
}

// tryParseAssignment checks for NAME=value at the current position (no
// intervening blank) and consumes it if present.
func (p *parserState) tryParseAssignment() (string, *Word, bool) {
	save := *p.lx
	name := scanIdentifierText(p.lx.src[p.lx.pos:])
	if name == "" || p.lx.pos+len(name) >= len(p.lx.src) || p.lx.src[p.lx.pos+len(name)] != '=' {
		*p.lx = save
		return "", nil, false
	}
	p.lx.pos += len(name) + 1
	val, err := p.scanWord()
	if err != nil {
		*p.lx = save
		return "", nil, false
	}
	if val == nil {
		val = &Word{}
	}
	return name, val, true
}

// tryParseRedirect checks for an optional fd-number prefix followed by a
// redirection operator, per §4.3's token list.
func (p *parserState) tryParseRedirect() (*Redirect, bool, error) {
	save := *p.lx
	fd := -1
	start := p.lx.pos
	for p.lx.pos < len(p.lx.src) && p.lx.src[p.lx.pos] >= '0' && p.lx.src[p.lx.pos] <= '9' {
		p.lx.pos++
	}
	if p.lx.pos > start {
		n, _ := strconv.Atoi(p.lx.src[start:p.lx.pos])
		fd = n
	}
	tok, n := p.lx.peekOperator()
	isRedir := tok == RdrOut || tok == AppOut || tok == RdrIn || tok == RdrAll ||
		tok == AppAll || tok == DplOut || tok == DplIn || tok == HereDoc || tok == HereDocDash || tok == HereStr
	if !isRedir {
		*p.lx = save
		return nil, false, nil
	}
	p.lx.pos += n
	p.lx.skipBlank()

	r := &Redirect{Fd: fd}
	switch tok {
	case RdrOut:
		r.Kind = StdoutOverwrite
		if fd == -1 {
			r.Fd = 1
		}
	case AppOut:
		r.Kind = StdoutAppend
		if fd == -1 {
			r.Fd = 1
		}
	case RdrIn:
		r.Kind = Stdin
		if fd == -1 {
			r.Fd = 0
		}
	case RdrAll:
		r.Kind = MergeStderrToStdout
	case AppAll:
		r.Kind = MergeStderrToStdout
	case DplOut, DplIn:
		r.Kind = FdDup
		if fd == -1 {
			if tok == DplOut {
				r.Fd = 1
			} else {
				r.Fd = 0
			}
		}
	case HereDoc, HereDocDash:
		r.Kind = HereDocRdr
		tag := p.consumeRawWord()
		quoted := strings.ContainsAny(tag, "'\"")
		tag = strings.Trim(tag, "'\"")
		body, err := p.lx.scanHereDoc(tag, tok == HereDocDash)
		if err != nil {
			return nil, false, err
		}
		r.HereDocBody = body
		r.HereDocExpand = !quoted
		return r, true, nil
	case HereStr:
		r.Kind = HereStringRdr
		w, err := p.scanWord()
		if err != nil {
			return nil, false, err
		}
		r.HereString = w
		return r, true, nil
	}

	if r.Kind == FdDup {
		p.lx.skipBlank()
		if p.lx.peekByte() == '-' {
			p.lx.advance()
			r.Target = RedirTarget{Close: true}
			return r, true, nil
		}
		start := p.lx.pos
		for p.lx.pos < len(p.lx.src) && p.lx.src[p.lx.pos] >= '0' && p.lx.src[p.lx.pos] <= '9' {
			p.lx.pos++
		}
		if p.lx.pos > start {
			n, _ := strconv.Atoi(p.lx.src[start:p.lx.pos])
			r.Target = RedirTarget{IsFd: true, Fd: n}
			return r, true, nil
		}
	}

	w, err := p.scanWord()
	if err != nil {
		return nil, false, err
	}
	if w == nil {
		return nil, false, p.errf(p.lx.curPos(), "expected redirection target")
	}
	r.Target = RedirTarget{IsPath: true}
	r.TargetWord = w
	return r, true, nil
}
