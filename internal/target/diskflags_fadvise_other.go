//go:build !linux

package target

// adviseSequential is a no-op on platforms without posix_fadvise.
func adviseSequential(f fdHolder) {}
