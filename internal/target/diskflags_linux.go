//go:build linux

package target

import "golang.org/x/sys/unix"

// directIOFlag is the open(2) flag that requests direct I/O on Linux
// (spec.md §4.1 step 5, §6: "Direct I/O is an open-flag on platforms that
// support it").
const directIOFlag = unix.O_DIRECT
