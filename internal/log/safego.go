package log

import (
	"runtime/debug"
)

// SafeGo runs fn in a goroutine and recovers panics, logging the stack
// under the given name. Background loops (SSE pollers, watcher fan-out,
// cleanup janitor) must not take the daemon down with them.
func SafeGo(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				Error(Category(name), "goroutine panic recovered",
					"panic", r,
					"stack", string(debug.Stack()))
			}
		}()
		fn()
	}()
}
