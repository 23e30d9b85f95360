//go:build unix

package cog

import "golang.org/x/sys/unix"

// mmapFile maps a file read-only; the descriptor may be closed afterwards.
func mmapFile(fd uintptr, size int) ([]byte, error) {
	return unix.Mmap(int(fd), 0, size, unix.PROT_READ, unix.MAP_SHARED)
}

func munmapFile(data []byte) error {
	return unix.Munmap(data)
}
