// Package pattern translates POSIX shell glob patterns (used by case arms,
// pathname expansion, and the parameter-removal/replace operators) into
// Go regular expressions. Grounded on mvdan-sh/syntax/pattern.go's
// TranslatePattern, generalized into a reusable Match/Regexp pair for the
// Executor and expand package to share.
package pattern

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
)

// Special reports whether r has special meaning in a glob pattern.
func Special(r rune) bool {
	return r == '*' || r == '?' || r == '[' || r == '\\'
}

func anySpecial(s string) bool {
	for _, r := range s {
		if Special(r) {
			return true
		}
	}
	return false
}

func charClass(s string) (string, error) {
	if !strings.HasPrefix(s, "[[:") {
		return "", nil
	}
	name := s[3:]
	end := strings.Index(name, ":]]")
	if end < 0 {
		return "", fmt.Errorf("[[: not matched with a closing :]]")
	}
	name = name[:end]
	switch name {
	case "alnum", "alpha", "ascii", "blank", "cntrl", "digit", "graph",
		"lower", "print", "punct", "space", "upper", "word", "xdigit":
	default:
		return "", fmt.Errorf("invalid character class %q", name)
	}
	return s[:len(name)+6], nil
}

// Translate turns a shell glob expression into a regexp source string.
// greedy controls whether '*' is translated to a greedy or lazy match;
// pathname expansion wants greedy, parameter removal (#/##/%/%%) wants the
// shortest/longest distinction made by the caller via this flag.
func Translate(pat string, greedy bool) (string, error) {
	if !anySpecial(pat) {
		return regexp.QuoteMeta(pat), nil
	}
	var buf bytes.Buffer
	for i := 0; i < len(pat); i++ {
		c := pat[i]
		switch c {
		case '*':
			buf.WriteString(".*")
			if !greedy {
				buf.WriteByte('?')
			}
		case '?':
			buf.WriteByte('.')
		case '\\':
			i++
			if i >= len(pat) {
				buf.WriteString(regexp.QuoteMeta(`\`))
				break
			}
			buf.WriteString(regexp.QuoteMeta(string(pat[i])))
		case '[':
			name, err := charClass(pat[i:])
			if err != nil {
				return "", err
			}
			if name != "" {
				buf.WriteString(name)
				i += len(name) - 1
				break
			}
			buf.WriteByte(c)
			i++
			if i >= len(pat) {
				return "", fmt.Errorf("[ not matched with a closing ]")
			}
			c = pat[i]
			if c == '!' {
				c = '^'
			}
			buf.WriteByte(c)
			for {
				i++
				if i >= len(pat) {
					return "", fmt.Errorf("[ not matched with a closing ]")
				}
				c = pat[i]
				buf.WriteByte(c)
				if c == ']' {
					break
				}
			}
		default:
			buf.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return buf.String(), nil
}

// Regexp compiles a shell glob pattern into an anchored *regexp.Regexp.
func Regexp(pat string, greedy bool) (*regexp.Regexp, error) {
	src, err := Translate(pat, greedy)
	if err != nil {
		return nil, err
	}
	return regexp.Compile("^" + src + "$")
}

// Find compiles pat as an unanchored regexp, for the parameter expansion
// replace operators (${v/pat/repl}), which match pat anywhere in the
// value rather than against the whole string.
func Find(pat string, greedy bool) (*regexp.Regexp, error) {
	src, err := Translate(pat, greedy)
	if err != nil {
		return nil, err
	}
	return regexp.Compile(src)
}

// Match reports whether name matches the shell glob pattern pat, per the
// case statement's and pathname expansion's matching rules.
func Match(pat, name string) (bool, error) {
	re, err := Regexp(pat, true)
	if err != nil {
		return false, err
	}
	return re.MatchString(name), nil
}

// QuoteMeta escapes any pattern metacharacters in s so it matches itself
// literally, used when building a compound pattern from a literal word.
func QuoteMeta(s string) string {
	var b strings.Builder
	for _, r := range s {
		if Special(r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
