package pattern

import "testing"

func TestMatch(t *testing.T) {
	cases := []struct {
		pat, name string
		want      bool
	}{
		{"*.go", "main.go", true},
		{"*.go", "main.py", false},
		{"file?.txt", "file1.txt", true},
		{"file?.txt", "file10.txt", false},
		{"[abc]*", "apple", true},
		{"[abc]*", "zebra", false},
		{"[!abc]*", "zebra", true},
		{"a\\*b", "a*b", true},
		{"a\\*b", "axb", false},
	}
	for _, c := range cases {
		got, err := Match(c.pat, c.name)
		if err != nil {
			t.Fatalf("Match(%q, %q): %v", c.pat, c.name, err)
		}
		if got != c.want {
			t.Errorf("Match(%q, %q) = %v, want %v", c.pat, c.name, got, c.want)
		}
	}
}

func TestTranslateCharacterClass(t *testing.T) {
	re, err := Regexp("[[:digit:]][[:digit:]][[:digit:]]", true)
	if err != nil {
		t.Fatalf("Regexp: %v", err)
	}
	if !re.MatchString("123") {
		t.Errorf("expected [[:digit:]][[:digit:]][[:digit:]] to match 123")
	}
}

func TestQuoteMeta(t *testing.T) {
	got, err := Match(QuoteMeta("a*b"), "a*b")
	if err != nil {
		t.Fatal(err)
	}
	if !got {
		t.Errorf("QuoteMeta pattern should match its literal source")
	}
	got2, err := Match(QuoteMeta("a*b"), "axb")
	if err != nil {
		t.Fatal(err)
	}
	if got2 {
		t.Errorf("QuoteMeta pattern should not match a wildcard expansion")
	}
}
