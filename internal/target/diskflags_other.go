//go:build !linux

package target

// directIOFlag is 0 on platforms with no portable O_DIRECT equivalent; the
// direct-I/O realignment logic in internal/worker degrades gracefully when
// the flag never took effect.
const directIOFlag = 0
