// Package debug provides invariant checks. They stay compiled in (unlike
// the teacher's build-tag-gated debug package) since this library has no
// hot per-packet path where the cost matters, and a violated invariant
// on a radio link is exactly the kind of bug worth a hard failure for.
package debug

import "fmt"

func Assert(cond bool, args ...any) {
	if !cond {
		panic(fmt.Sprint(args...))
	}
}

func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}

func AssertNoErr(err error) {
	if err != nil {
		panic(err)
	}
}
