package rtime

// Options holds the mutable shell option flags toggled by `set -o`/`set +o`.
type Options struct {
	Errexit   bool // -e
	Nounset   bool // -u
	Xtrace    bool // -x
	Pipefail  bool // -o pipefail
	Noclobber bool // -C
	Noglob    bool // -f
}

// optionNames maps the long `-o name` form to a setter/getter pair, mirroring
// the table-driven option handling mvdan-sh's Runner.Params uses for `set`.
var optionNames = map[string]func(*Options) *bool{
	"errexit":   func(o *Options) *bool { return &o.Errexit },
	"nounset":   func(o *Options) *bool { return &o.Nounset },
	"xtrace":    func(o *Options) *bool { return &o.Xtrace },
	"pipefail":  func(o *Options) *bool { return &o.Pipefail },
	"noclobber": func(o *Options) *bool { return &o.Noclobber },
	"noglob":    func(o *Options) *bool { return &o.Noglob },
}

// shortFlags maps single-letter `set -e` style flags to the same fields.
var shortFlags = map[byte]func(*Options) *bool{
	'e': func(o *Options) *bool { return &o.Errexit },
	'u': func(o *Options) *bool { return &o.Nounset },
	'x': func(o *Options) *bool { return &o.Xtrace },
	'C': func(o *Options) *bool { return &o.Noclobber },
	'f': func(o *Options) *bool { return &o.Noglob },
}

// SetLong sets a `-o name`/`+o name` style option. ok is false for unknown
// names.
func (o *Options) SetLong(name string, enable bool) bool {
	get, ok := optionNames[name]
	if !ok {
		return false
	}
	*get(o) = enable
	return true
}

// SetShort sets a `-e`/`+e` style option. ok is false for unknown letters.
func (o *Options) SetShort(letter byte, enable bool) bool {
	get, ok := shortFlags[letter]
	if !ok {
		return false
	}
	*get(o) = enable
	return true
}

// Snapshot returns a copy, used when a subshell or command substitution
// needs an isolated-but-seeded option set.
func (o Options) Snapshot() Options { return o }
