//go:build unix && !linux

package secretbuf

func madviseDontDump([]byte) {}
