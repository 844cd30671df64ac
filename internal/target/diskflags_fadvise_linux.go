//go:build linux

package target

import "golang.org/x/sys/unix"

// adviseSequential hints the kernel's readahead for a target expected to be
// accessed with a Sequential seek pattern (SPEC_FULL.md §2.2). Best-effort:
// a failure here is never fatal to bring-up.
func adviseSequential(f fdHolder) {
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
}
