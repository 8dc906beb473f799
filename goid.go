package nio

import (
	"runtime"
	"strconv"
)

// currentGoroutineID extracts the running goroutine's id by parsing the
// header line of a stack trace. The Go runtime exposes no public API for
// this; it is the standard workaround used for thread-confinement checks
// like "is this call running on the event loop's own goroutine."
func currentGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]

	const prefix = "goroutine "
	if len(b) <= len(prefix) {
		return 0
	}
	b = b[len(prefix):]

	i := 0
	for i < len(b) && b[i] != ' ' {
		i++
	}
	id, _ := strconv.ParseUint(string(b[:i]), 10, 64)
	return id
}
