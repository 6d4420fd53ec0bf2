// panic_recovery.go: Panic recovery for plugin-facing goroutines
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package microkernel

import (
	"runtime"
)

// withStackRecover returns a panic recovery function that logs panic details
// including the full stack trace. Managed tasks and supervised entry-point
// workers run plugin-authored code; a panic there must never take the kernel
// down with it.
//
// The returned function should be called with defer:
//
//	go func() {
//	    defer withStackRecover(logger)()
//	    // plugin code
//	}()
func withStackRecover(logger Logger) func() {
	return func() {
		if r := recover(); r != nil {
			buf := make([]byte, 64<<10)
			n := runtime.Stack(buf, false)

			logger.Error("Panic recovered in goroutine",
				"panic", r,
				"stack", string(buf[:n]))
		}
	}
}
