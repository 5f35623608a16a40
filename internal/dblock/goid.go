package dblock

import (
	"runtime"
	"strconv"
	"strings"
)

// GoroutineID returns the runtime id of the calling goroutine. It is parsed
// from the first line of the stack trace ("goroutine 123 [running]:").
func GoroutineID() uint64 {
	var buf [64]byte

	n := runtime.Stack(buf[:], false)
	idField := strings.Fields(string(buf[:n]))[1]
	id, _ := strconv.ParseUint(idField, 10, 64)

	return id
}
