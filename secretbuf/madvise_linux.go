//go:build linux

package secretbuf

import "golang.org/x/sys/unix"

func madviseDontDump(data []byte) {
	_ = unix.Madvise(data, unix.MADV_DONTDUMP)
}
