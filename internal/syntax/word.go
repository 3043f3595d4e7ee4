package syntax

import "strings"

// scanWord scans one shell word at the current lexer position: a maximal
// run of contiguous (unseparated by blanks) quoted segments, expansions,
// and literal text, per §4.3/§4.4.1. Returns (nil, nil) if there is no
// word here (EOF, blank, or an operator).
func (p *parserState) scanWord() (*Word, error) {
	if p.lx.eof() {
		return nil, nil
	}
	if tok, _ := p.lx.peekOperator(); tok != ILLEGAL {
		return nil, nil
	}
	switch p.lx.peekByte() {
	case ' ', '\t', '\n', 0:
		return nil, nil
	}
	return p.scanWordCore(isWordBreak)
}

// scanWordCore is the shared word-building loop used both for ordinary
// words (stop = isWordBreak) and for the operand words inside a parameter
// expansion (stop = a single delimiter byte like '}' or '/'). Quotes and
// expansions are always honored regardless of stop, so a delimiter byte
// occurring inside a nested $(...) or ${...} never truncates early.
func (p *parserState) scanWordCore(stop func(byte) bool) (*Word, error) {
	var parts []Argument
	var buf strings.Builder
	bufStart := p.lx.curPos()

	flush := func() {
		if buf.Len() == 0 {
			return
		}
		parts = append(parts, classifyBareText(bufStart, buf.String()))
		buf.Reset()
	}

	for !p.lx.eof() {
		b := p.lx.peekByte()
		if stop(b) {
			break
		}
		switch b {
		case '\'':
			flush()
			at := p.lx.curPos()
			p.lx.advance()
			start := p.lx.pos
			for !p.lx.eof() && p.lx.peekByte() != '\'' {
				p.lx.advance()
			}
			if p.lx.eof() {
				return nil, p.errf(at, "unterminated single-quoted string")
			}
			val := p.lx.src[start:p.lx.pos]
			p.lx.advance()
			parts = append(parts, &SingleQuoted{At: at, Value: val})
			bufStart = p.lx.curPos()
		case '"':
			flush()
			at := p.lx.curPos()
			inner, err := p.scanDoubleQuoted()
			if err != nil {
				return nil, err
			}
			parts = append(parts, &DoubleQuoted{At: at, Parts: inner})
			bufStart = p.lx.curPos()
		case '`':
			flush()
			sub, err := p.scanBacktickSubstitution()
			if err != nil {
				return nil, err
			}
			parts = append(parts, sub)
			bufStart = p.lx.curPos()
		case '$':
			if exp, ok, err := p.tryScanDollar(); err != nil {
				return nil, err
			} else if ok {
				flush()
				parts = append(parts, exp)
				bufStart = p.lx.curPos()
			} else {
				buf.WriteByte(p.lx.advance())
			}
		case '\\':
			if p.lx.peekAt(1) == '\n' {
				p.lx.advance()
				p.lx.advance()
				continue
			}
			p.lx.advance()
			if !p.lx.eof() {
				buf.WriteByte(p.lx.advance())
			}
		default:
			buf.WriteByte(p.lx.advance())
		}
	}
	flush()
	if len(parts) == 0 {
		return nil, nil
	}
	return &Word{Parts: parts}, nil
}

// classifyBareText classifies a run of unquoted, unexpanded text into the
// Argument variant the Executor's fast path (§4.4.1 step 2) switches on:
// a leading '-' reads as a Flag, an embedded '/' as a Path, a brace
// pattern as a BraceExpansion, anything else as a plain Literal.
func classifyBareText(at Pos, text string) Argument {
	if looksLikeBraceExpansion(text) {
		return &BraceExpansion{At: at, Pattern: text}
	}
	if len(text) > 1 && text[0] == '-' {
		return &Flag{At: at, Value: text}
	}
	if strings.ContainsRune(text, '/') {
		return &Path{At: at, Value: text}
	}
	return &Literal{At: at, Value: text}
}

func looksLikeBraceExpansion(s string) bool {
	open := strings.IndexByte(s, '{')
	if open < 0 {
		return false
	}
	closeOff := strings.IndexByte(s[open:], '}')
	if closeOff < 0 {
		return false
	}
	inner := s[open+1 : open+closeOff]
	return strings.Contains(inner, ",") || strings.Contains(inner, "..")
}

// scanDoubleQuoted scans the body of a "..." word, honoring the escapes
// POSIX grants inside double quotes (\", \\, \$, \`, \<newline>) and still
// recognizing $ and ` expansions.
func (p *parserState) scanDoubleQuoted() ([]Argument, error) {
	at := p.lx.curPos()
	p.lx.advance() // opening "
	var parts []Argument
	var buf strings.Builder
	start := p.lx.curPos()
	flush := func() {
		if buf.Len() == 0 {
			return
		}
		parts = append(parts, &Literal{At: start, Value: buf.String()})
		buf.Reset()
	}
	for {
		if p.lx.eof() {
			return nil, p.errf(at, "unterminated double-quoted string")
		}
		b := p.lx.peekByte()
		switch b {
		case '"':
			p.lx.advance()
			flush()
			return parts, nil
		case '\\':
			switch p.lx.peekAt(1) {
			case '"', '\\', '$', '`':
				p.lx.advance()
				buf.WriteByte(p.lx.advance())
			case '\n':
				p.lx.advance()
				p.lx.advance()
			default:
				buf.WriteByte(p.lx.advance())
			}
		case '`':
			flush()
			sub, err := p.scanBacktickSubstitution()
			if err != nil {
				return nil, err
			}
			parts = append(parts, sub)
			start = p.lx.curPos()
		case '$':
			if exp, ok, err := p.tryScanDollar(); err != nil {
				return nil, err
			} else if ok {
				flush()
				parts = append(parts, exp)
				start = p.lx.curPos()
			} else {
				buf.WriteByte(p.lx.advance())
			}
		default:
			buf.WriteByte(p.lx.advance())
		}
	}
}

// tryScanDollar inspects a '$' at the current position and, if it starts
// a recognized expansion, consumes and returns it. Otherwise it leaves
// the lexer untouched and reports ok=false (a lone '$' is a literal byte).
func (p *parserState) tryScanDollar() (Argument, bool, error) {
	at := p.lx.curPos()
	if p.lx.peekAt(1) == '(' && p.lx.peekAt(2) == '(' {
		return p.scanArithmeticExpansion(at)
	}
	if p.lx.peekAt(1) == '(' {
		return p.scanDollarParenSubstitution(at)
	}
	if p.lx.peekAt(1) == '{' {
		return p.scanBraceParameter(at)
	}
	nb := p.lx.peekAt(1)
	if isNameByte(nb, true) {
		p.lx.advance() // $
		name := scanIdentifierText(p.lx.src[p.lx.pos:])
		p.lx.pos += len(name)
		return &Variable{At: at, Name: name, Op: ParamPlain}, true, nil
	}
	switch nb {
	case '@', '*', '#', '?', '$', '!', '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		p.lx.advance() // $
		name := string(p.lx.advance())
		return &Variable{At: at, Name: name, Op: ParamPlain}, true, nil
	}
	return nil, false, nil
}

// scanDollarParenSubstitution scans $(...) , tracking paren/quote nesting
// so an embedded pipeline like $(a | (b)) closes on the right paren, then
// recursively parses the interior as a nested program.
func (p *parserState) scanDollarParenSubstitution(at Pos) (Argument, bool, error) {
	p.lx.pos += 2 // "$("
	start := p.lx.pos
	depth := 1
	for !p.lx.eof() && depth > 0 {
		switch p.lx.peekByte() {
		case '(':
			depth++
			p.lx.advance()
		case ')':
			depth--
			p.lx.advance()
		case '\'':
			p.lx.advance()
			for !p.lx.eof() && p.lx.peekByte() != '\'' {
				p.lx.advance()
			}
			if !p.lx.eof() {
				p.lx.advance()
			}
		case '"':
			p.lx.advance()
			for !p.lx.eof() && p.lx.peekByte() != '"' {
				if p.lx.peekByte() == '\\' {
					p.lx.advance()
				}
				if !p.lx.eof() {
					p.lx.advance()
				}
			}
			if !p.lx.eof() {
				p.lx.advance()
			}
		default:
			p.lx.advance()
		}
	}
	if depth != 0 {
		return nil, false, p.errf(at, "unterminated command substitution")
	}
	src := p.lx.src[start : p.lx.pos-1]
	sub := NewParser()
	file, err := sub.Parse(src, "<command-substitution>")
	if err != nil {
		return nil, false, err
	}
	return &CommandSubstitution{At: at, Source: src, Stmts: file.Stmts}, true, nil
}

// scanBacktickSubstitution scans the legacy `...` command substitution
// form, honoring the backslash escapes POSIX grants inside it.
func (p *parserState) scanBacktickSubstitution() (Argument, error) {
	at := p.lx.curPos()
	p.lx.advance() // opening `
	start := p.lx.pos
	for !p.lx.eof() && p.lx.peekByte() != '`' {
		if p.lx.peekByte() == '\\' {
			switch p.lx.peekAt(1) {
			case '`', '\\', '$':
				p.lx.advance()
			}
		}
		p.lx.advance()
	}
	if p.lx.eof() {
		return nil, p.errf(at, "unterminated backtick command substitution")
	}
	src := p.lx.src[start:p.lx.pos]
	p.lx.advance() // closing `
	sub := NewParser()
	file, err := sub.Parse(src, "<command-substitution>")
	if err != nil {
		return nil, err
	}
	return &CommandSubstitution{At: at, Source: src, Stmts: file.Stmts}, nil
}

// scanArithmeticExpansion scans $((...)), tracking inner paren depth so a
// nested parenthesized subexpression doesn't close the expansion early.
func (p *parserState) scanArithmeticExpansion(at Pos) (Argument, bool, error) {
	p.lx.pos += 3 // "$(("
	start := p.lx.pos
	depth := 2
	for !p.lx.eof() && depth > 0 {
		switch p.lx.peekByte() {
		case '(':
			depth++
		case ')':
			depth--
		}
		p.lx.advance()
	}
	if depth != 0 {
		return nil, false, p.errf(at, "unterminated arithmetic expansion")
	}
	src := p.lx.src[start : p.lx.pos-2]
	expr, err := parseArithExpr(src)
	if err != nil {
		return nil, false, p.errf(at, "invalid arithmetic expression: "+err.Error())
	}
	return &ArithmeticExpansion{At: at, Expr: expr}, true, nil
}

// scanBraceParameter scans ${...}, covering the operator table in §4.4.1
// plus the substring/replace forms supplemented from original_source/.
func (p *parserState) scanBraceParameter(at Pos) (Argument, bool, error) {
	p.lx.pos += 2 // "${"
	v := &Variable{At: at}

	if p.lx.peekByte() == '#' {
		save := *p.lx
		p.lx.advance()
		name := scanIdentifierText(p.lx.src[p.lx.pos:])
		if name != "" {
			p.lx.pos += len(name)
			if p.lx.peekByte() == '}' {
				p.lx.advance()
				v.Name = name
				v.Op = ParamLength
				return v, true, nil
			}
		}
		*p.lx = save
	}

	name := scanIdentifierText(p.lx.src[p.lx.pos:])
	if name != "" {
		p.lx.pos += len(name)
	} else if !p.lx.eof() && p.lx.peekByte() != '}' {
		name = string(p.lx.advance())
	}
	v.Name = name
	v.Op = ParamPlain

	wordUntil := func(stop func(byte) bool) (*Word, error) {
		return p.scanWordCore(stop)
	}
	closeBrace := func() error {
		if p.lx.peekByte() != '}' {
			return p.errf(p.lx.curPos(), "expected } in parameter expansion")
		}
		p.lx.advance()
		return nil
	}

	switch p.lx.peekByte() {
	case '}':
		p.lx.advance()
		return v, true, nil
	case ':':
		p.lx.advance()
		switch p.lx.peekByte() {
		case '-':
			p.lx.advance()
			v.Op = ParamDefault
		case '=':
			p.lx.advance()
			v.Op = ParamAssign
		case '?':
			p.lx.advance()
			v.Op = ParamError
		case '+':
			p.lx.advance()
			v.Op = ParamAlt
		default:
			v.Op = ParamSubstring
			off, err := wordUntil(func(b byte) bool { return b == ':' || b == '}' })
			if err != nil {
				return nil, false, err
			}
			if off != nil {
				v.Offset = wordRawText(off)
			}
			if p.lx.peekByte() == ':' {
				p.lx.advance()
				ln, err := wordUntil(func(b byte) bool { return b == '}' })
				if err != nil {
					return nil, false, err
				}
				if ln != nil {
					v.Length = wordRawText(ln)
				}
			}
			if err := closeBrace(); err != nil {
				return nil, false, err
			}
			return v, true, nil
		}
		w, err := wordUntil(func(b byte) bool { return b == '}' })
		if err != nil {
			return nil, false, err
		}
		v.Word = w
		if err := closeBrace(); err != nil {
			return nil, false, err
		}
		return v, true, nil
	case '#':
		p.lx.advance()
		if p.lx.peekByte() == '#' {
			p.lx.advance()
			v.Op = ParamRemoveLongPrefix
		} else {
			v.Op = ParamRemoveShortPrefix
		}
		w, err := wordUntil(func(b byte) bool { return b == '}' })
		if err != nil {
			return nil, false, err
		}
		v.Word = w
		if err := closeBrace(); err != nil {
			return nil, false, err
		}
		return v, true, nil
	case '%':
		p.lx.advance()
		if p.lx.peekByte() == '%' {
			p.lx.advance()
			v.Op = ParamRemoveLongSuffix
		} else {
			v.Op = ParamRemoveShortSuffix
		}
		w, err := wordUntil(func(b byte) bool { return b == '}' })
		if err != nil {
			return nil, false, err
		}
		v.Word = w
		if err := closeBrace(); err != nil {
			return nil, false, err
		}
		return v, true, nil
	case '/':
		p.lx.advance()
		if p.lx.peekByte() == '/' {
			p.lx.advance()
			v.Op = ParamReplaceAll
		} else {
			v.Op = ParamReplaceFirst
		}
		orig, err := wordUntil(func(b byte) bool { return b == '/' || b == '}' })
		if err != nil {
			return nil, false, err
		}
		v.Orig = orig
		if p.lx.peekByte() == '/' {
			p.lx.advance()
			with, err := wordUntil(func(b byte) bool { return b == '}' })
			if err != nil {
				return nil, false, err
			}
			v.With = with
		}
		if err := closeBrace(); err != nil {
			return nil, false, err
		}
		return v, true, nil
	default:
		return nil, false, p.errf(p.lx.curPos(), "unexpected character in parameter expansion")
	}
}

// wordRawText flattens a Word's literal content back to a source string,
// used for the substring form's Offset/Length, which are themselves raw
// arithmetic-expression text evaluated at expand time rather than parsed
// here.
func wordRawText(w *Word) string {
	var b strings.Builder
	for _, part := range w.Parts {
		switch t := part.(type) {
		case *Literal:
			b.WriteString(t.Value)
		case *Flag:
			b.WriteString(t.Value)
		case *Path:
			b.WriteString(t.Value)
		case *Variable:
			b.WriteByte('$')
			b.WriteString(t.Name)
		}
	}
	return b.String()
}
