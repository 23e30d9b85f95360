//go:build !darwin && !linux

package tile

import "github.com/pkg/errors"

// totalSystemRAM is unsupported on this platform.
func totalSystemRAM() (uint64, error) {
	return 0, errors.New("unsupported platform for RAM detection")
}
