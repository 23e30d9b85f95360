//go:build !unix

package cog

import "github.com/pkg/errors"

// mmapFile fails on non-Unix platforms; Open then reads the whole file.
func mmapFile(fd uintptr, size int) ([]byte, error) {
	return nil, errors.New("memory mapping is not supported on this platform")
}

func munmapFile(data []byte) error {
	return nil
}
