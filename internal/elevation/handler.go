package elevation

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/pspoerri/sensorgeo/internal/logging"
)

// Config holds the Handler settings that apply to every DEM it opens.
type Config struct {
	// Interpolation is used by DEMs and the geoid.
	Interpolation Interpolation
	// DefaultHeightAboveEllipsoid is returned where no DEM has data.
	DefaultHeightAboveEllipsoid float64
}

// DefaultConfig returns bilinear sampling with a zero default height.
func DefaultConfig() Config {
	return Config{Interpolation: Bilinear}
}

// Handler combines a set of DEMs, an optional geoid and a default height.
// Queries are safe for concurrent use; opening and closing sources takes
// an exclusive lock.
type Handler struct {
	logger *zap.SugaredLogger

	mu            sync.RWMutex
	interp        Interpolation
	dems          []FileSource
	geoid         FileSource
	defaultHeight float64
	closed        bool
}

// NewHandler returns a Handler without any DEM or geoid.
func NewHandler(cfg Config, logger *zap.SugaredLogger) *Handler {
	return &Handler{
		logger:        logging.OrNop(logger),
		interp:        cfg.Interpolation,
		defaultHeight: cfg.DefaultHeightAboveEllipsoid,
	}
}

// OpenDEMDirectory opens every DEM file in dir, in name order. It fails if
// the directory holds none.
func (h *Handler) OpenDEMDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrap(err, "reading DEM directory")
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && isDEMFile(e.Name()) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return errors.Errorf("%s: no DEM files found", dir)
	}
	sort.Strings(paths)

	var opened []FileSource
	for _, p := range paths {
		src, err := OpenFile(p, h.interpolation(), h.logger)
		if err != nil {
			_ = closeAll(opened)
			return err
		}
		opened = append(opened, src)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		_ = closeAll(opened)
		return ErrClosed
	}
	h.dems = append(h.dems, opened...)
	h.logger.Infow("opened DEM directory", "dir", dir, "files", len(opened))
	return nil
}

// OpenDEM adds one DEM file after the ones already open.
func (h *Handler) OpenDEM(path string) error {
	src, err := OpenFile(path, h.interpolation(), h.logger)
	if err != nil {
		return err
	}
	return h.AddDEM(src)
}

// AddDEM adds an open source; the Handler takes ownership of it.
func (h *Handler) AddDEM(src FileSource) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		_ = src.Close()
		return ErrClosed
	}
	h.dems = append(h.dems, src)
	h.logger.Infow("opened DEM", "source", src)
	return nil
}

// OpenGeoid opens a geoid undulation grid, replacing any previous one.
func (h *Handler) OpenGeoid(path string) error {
	src, err := OpenFile(path, h.interpolation(), h.logger)
	if err != nil {
		return errors.Wrap(err, "opening geoid")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		_ = src.Close()
		return ErrClosed
	}
	var closeErr error
	if h.geoid != nil {
		closeErr = h.geoid.Close()
	}
	h.geoid = src
	h.logger.Infow("opened geoid", "path", path)
	return closeErr
}

// SetDefaultHeightAboveEllipsoid sets the height used where no DEM has data.
func (h *Handler) SetDefaultHeightAboveEllipsoid(height float64) {
	h.mu.Lock()
	h.defaultHeight = height
	h.mu.Unlock()
}

// DefaultHeightAboveEllipsoid returns the fallback height.
func (h *Handler) DefaultHeightAboveEllipsoid() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.defaultHeight
}

// ClearElevationParameters closes all DEMs and the geoid and resets the
// default height. The Handler stays usable.
func (h *Handler) ClearElevationParameters() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	err := h.releaseLocked()
	h.defaultHeight = 0
	return err
}

// NumDEMs returns the number of open DEM sources.
func (h *Handler) NumDEMs() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.dems)
}

// HasGeoid reports whether a geoid is open.
func (h *Handler) HasGeoid() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.geoid != nil
}

// HeightAboveMSL returns the DEM height at (lon, lat), or 0 without DEM data.
func (h *Handler) HeightAboveMSL(lon, lat float64) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if v, ok := h.demLocked(lon, lat); ok {
		return v
	}
	return 0
}

// HeightAboveEllipsoid returns DEM plus geoid where a DEM has data, geoid
// plus default height where only the geoid has data, and the default
// height otherwise. A closed Handler returns the default height.
func (h *Handler) HeightAboveEllipsoid(lon, lat float64) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	undulation, hasGeoid := h.geoidLocked(lon, lat)
	if v, ok := h.demLocked(lon, lat); ok {
		return v + undulation
	}
	if hasGeoid {
		return undulation + h.defaultHeight
	}
	return h.defaultHeight
}

// DEMSource returns a Source over the DEM stack with the geoid applied. It
// reports no data where no DEM covers the point and after Close, so RPC
// models fall back to their missing value there.
func (h *Handler) DEMSource() Source {
	return SourceFunc(func(lon, lat float64) (float64, bool) {
		h.mu.RLock()
		defer h.mu.RUnlock()
		v, ok := h.demLocked(lon, lat)
		if !ok {
			return 0, false
		}
		undulation, _ := h.geoidLocked(lon, lat)
		return v + undulation, true
	})
}

// Close releases every source. Later queries see no DEM and no geoid, and
// Open calls fail with ErrClosed.
func (h *Handler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.releaseLocked()
}

func (h *Handler) releaseLocked() error {
	err := closeAll(h.dems)
	if h.geoid != nil {
		err = multierr.Append(err, h.geoid.Close())
	}
	h.dems = nil
	h.geoid = nil
	return err
}

func (h *Handler) demLocked(lon, lat float64) (float64, bool) {
	for _, d := range h.dems {
		if v, ok := d.HeightAt(lon, lat); ok {
			return v, true
		}
	}
	return 0, false
}

func (h *Handler) geoidLocked(lon, lat float64) (float64, bool) {
	if h.geoid == nil {
		return 0, false
	}
	return h.geoid.HeightAt(lon, lat)
}

func (h *Handler) interpolation() Interpolation {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.interp
}

func closeAll(srcs []FileSource) error {
	var err error
	for _, s := range srcs {
		err = multierr.Append(err, s.Close())
	}
	return err
}
