package expand

import (
	"testing"

	"github.com/rushshell/rush/internal/rtime"
	"github.com/rushshell/rush/internal/syntax"
)

func mustWord(t *testing.T, src string) *syntax.Word {
	t.Helper()
	f, err := syntax.NewParser().Parse("echo "+src+"\n", "test")
	if err != nil {
		t.Fatalf("Parse(%q): %v", src, err)
	}
	return f.Stmts[0].Command.Args[0]
}

func newContext() *Context {
	rt := rtime.New()
	rt.Set("FOO", "bar")
	rt.Set("PATH_LIKE", "/a/b/c")
	return &Context{Runtime: rt}
}

func TestLiteralVariable(t *testing.T) {
	c := newContext()
	got, err := c.Literal(mustWord(t, "$FOO"))
	if err != nil {
		t.Fatal(err)
	}
	if got != "bar" {
		t.Errorf("got %q, want %q", got, "bar")
	}
}

func TestParamDefault(t *testing.T) {
	c := newContext()
	got, err := c.Literal(mustWord(t, "${UNSET:-fallback}"))
	if err != nil {
		t.Fatal(err)
	}
	if got != "fallback" {
		t.Errorf("got %q, want %q", got, "fallback")
	}
}

func TestParamLength(t *testing.T) {
	c := newContext()
	got, err := c.Literal(mustWord(t, "${#FOO}"))
	if err != nil {
		t.Fatal(err)
	}
	if got != "3" {
		t.Errorf("got %q, want %q", got, "3")
	}
}

func TestParamRemovePrefixSuffix(t *testing.T) {
	c := newContext()
	c.Runtime.Set("P", "/usr/local/bin")
	got, err := c.Literal(mustWord(t, "${P%/*}"))
	if err != nil {
		t.Fatal(err)
	}
	if got != "/usr/local" {
		t.Errorf("got %q, want %q", got, "/usr/local")
	}
	got2, err := c.Literal(mustWord(t, "${P##*/}"))
	if err != nil {
		t.Fatal(err)
	}
	if got2 != "bin" {
		t.Errorf("got %q, want %q", got2, "bin")
	}
}

func TestParamReplace(t *testing.T) {
	c := newContext()
	c.Runtime.Set("S", "banana")
	got, err := c.Literal(mustWord(t, "${S/a/o}"))
	if err != nil {
		t.Fatal(err)
	}
	if got != "bonana" {
		t.Errorf("got %q, want %q", got, "bonana")
	}
	got2, err := c.Literal(mustWord(t, "${S//a/o}"))
	if err != nil {
		t.Fatal(err)
	}
	if got2 != "bonono" {
		t.Errorf("got %q, want %q", got2, "bonono")
	}
}

func TestParamSubstring(t *testing.T) {
	c := newContext()
	c.Runtime.Set("S", "hello world")
	got, err := c.Literal(mustWord(t, "${S:6:5}"))
	if err != nil {
		t.Fatal(err)
	}
	if got != "world" {
		t.Errorf("got %q, want %q", got, "world")
	}
}

func TestArithExpansion(t *testing.T) {
	c := newContext()
	got, err := c.Literal(mustWord(t, "$((2 + 3 * 4))"))
	if err != nil {
		t.Fatal(err)
	}
	if got != "14" {
		t.Errorf("got %q, want %q", got, "14")
	}
}

func TestFieldsSplitsUnquotedExpansion(t *testing.T) {
	c := newContext()
	c.Runtime.Set("LIST", "a b c")
	words := []*syntax.Word{mustWord(t, "$LIST")}
	fields, err := c.Fields(words)
	if err != nil {
		t.Fatal(err)
	}
	if len(fields) != 3 {
		t.Fatalf("got %d fields, want 3: %#v", len(fields), fields)
	}
}

func TestFieldsDoesNotSplitQuoted(t *testing.T) {
	c := newContext()
	c.Runtime.Set("LIST", "a b c")
	words := []*syntax.Word{mustWord(t, `"$LIST"`)}
	fields, err := c.Fields(words)
	if err != nil {
		t.Fatal(err)
	}
	if len(fields) != 1 || fields[0] != "a b c" {
		t.Fatalf("got %#v, want 1 field \"a b c\"", fields)
	}
}

func TestBraceExpansion(t *testing.T) {
	got := expandBraces("file{1..3}.txt")
	want := []string{"file1.txt", "file2.txt", "file3.txt"}
	if len(got) != len(want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCommandSubstitution(t *testing.T) {
	c := newContext()
	c.Subshell = func(stmts []*syntax.Stmt) (string, error) {
		return "captured\n", nil
	}
	got, err := c.Literal(mustWord(t, "$(echo anything)"))
	if err != nil {
		t.Fatal(err)
	}
	if got != "captured" {
		t.Errorf("got %q, want %q", got, "captured")
	}
}

func TestNounsetError(t *testing.T) {
	c := newContext()
	c.Runtime.Options.Nounset = true
	_, err := c.Literal(mustWord(t, "$NEVERSET"))
	if err == nil {
		t.Fatal("want error under nounset for an unset variable")
	}
}
