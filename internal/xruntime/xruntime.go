// Package xruntime provides small caller-introspection helpers used by
// the package's logging wrapper.
package xruntime

import (
	"path/filepath"
	"runtime"
)

// CurFuncName returns the short name of the function skip frames above
// the caller (skip defaults to 1: the immediate caller of CurFuncName).
func CurFuncName(skip ...int) string {
	acSkip := 1
	if len(skip) == 1 {
		acSkip = skip[0]
	}

	if acSkip < 0 {
		acSkip = 1
	}

	pc, _, _, _ := runtime.Caller(acSkip)
	fn := runtime.FuncForPC(pc)

	return filepath.Base(fn.Name())
}
