//go:build unix

package secretbuf

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func allocate(size int) ([]byte, bool, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, false, fmt.Errorf("secretbuf: mmap failed: %w", err)
	}

	// RLIMIT_MEMLOCK is often small; an unlocked off-heap page is still
	// wiped deterministically, so a failed mlock is tolerated.
	locked := unix.Mlock(data) == nil

	// MADV_DONTDUMP is linux specific; madviseDontDump is a no-op elsewhere.
	madviseDontDump(data)

	return data, locked, nil
}

func release(data []byte, locked bool) error {
	if data == nil {
		return nil
	}
	if locked {
		_ = unix.Munlock(data)
	}
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("secretbuf: munmap failed: %w", err)
	}
	return nil
}
