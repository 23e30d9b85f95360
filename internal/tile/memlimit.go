package tile

import (
	"runtime"

	"go.uber.org/zap"

	"github.com/pspoerri/sensorgeo/internal/logging"
)

// DefaultMemoryFraction is the share of total RAM a pyramid level may use
// while it waits to be downsampled.
const DefaultMemoryFraction = 0.5

// ComputeMemoryLimit returns a byte budget for Config.MemoryLimit: fraction
// of total system RAM minus the current Go runtime footprint and 1 GB of
// headroom for DEM caches and encoder buffers. It returns 0 (no limit) when
// RAM cannot be detected, and at least 256 MB otherwise.
func ComputeMemoryLimit(fraction float64, logger *zap.SugaredLogger) int64 {
	logger = logging.OrNop(logger)
	totalRAM, err := totalSystemRAM()
	if err != nil {
		logger.Debugw("cannot detect system RAM; pyramid memory is unlimited", "error", err)
		return 0
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	overhead := m.Sys + 1<<30

	limit := int64(float64(totalRAM)*fraction) - int64(overhead)
	limit = max(limit, 256<<20)
	logger.Debugw("pyramid memory limit",
		"ram_gb", float64(totalRAM)/(1<<30),
		"limit_gb", float64(limit)/(1<<30),
		"fraction", fraction)
	return limit
}
