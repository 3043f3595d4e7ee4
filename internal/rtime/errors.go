package rtime

import "fmt"

// ErrNotInFunction is returned by Local when function_depth == 0. The
// return builtin does not check function depth and never returns it.
type ErrNotInFunction struct{ Builtin string }

func (e ErrNotInFunction) Error() string { return fmt.Sprintf("%s: not in a function", e.Builtin) }

// ErrNotInLoop describes break/continue used with loop_depth == 0. Nothing
// in this module returns it: the break and continue builtins do not check
// loop depth.
type ErrNotInLoop struct{ Builtin string }

func (e ErrNotInLoop) Error() string { return fmt.Sprintf("%s: not in a loop", e.Builtin) }

// ErrReadOnly is returned writing a readonly-bound name.
type ErrReadOnly struct{ Name string }

func (e ErrReadOnly) Error() string { return fmt.Sprintf("%s: readonly variable", e.Name) }

// ErrUnsetStrict is returned reading an unset name under nounset.
type ErrUnsetStrict struct{ Name string }

func (e ErrUnsetStrict) Error() string { return fmt.Sprintf("%s: unbound variable", e.Name) }
