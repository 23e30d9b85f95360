package elevation

import (
	"math"
	"strconv"
	"time"

	"github.com/karlseguin/ccache/v3"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pspoerri/sensorgeo/internal/coord"
	"github.com/pspoerri/sensorgeo/internal/encode"
	"github.com/pspoerri/sensorgeo/internal/logging"
	"github.com/pspoerri/sensorgeo/internal/pmtiles"
)

const (
	terrariumCacheTiles = 512
	terrariumTileTTL    = 10 * time.Minute
)

type terrariumTile struct {
	values []float32 // nil for tiles missing from the archive
	size   int
}

// TerrariumSource samples a PMTiles archive of terrarium-encoded PNG or
// WebP tiles at its maximum zoom.
type TerrariumSource struct {
	r        *pmtiles.Reader
	path     string
	format   string
	zoom     int
	tileSize int
	bounds   pmtiles.Bounds
	interp   Interpolation
	logger   *zap.SugaredLogger

	cache    *ccache.Cache[*terrariumTile]
	inflight singleflight.Group
}

// OpenTerrarium opens a terrarium PMTiles archive.
func OpenTerrarium(path string, interp Interpolation, logger *zap.SugaredLogger) (*TerrariumSource, error) {
	r, err := pmtiles.OpenReader(path)
	if err != nil {
		return nil, err
	}
	h := r.Header()
	format, err := encode.FormatForTileType(h.TileType)
	if err != nil {
		r.Close()
		return nil, errors.Wrap(err, path)
	}

	s := &TerrariumSource{
		r:      r,
		path:   path,
		format: format,
		zoom:   int(h.MaxZoom),
		bounds: h.Bounds,
		interp: interp,
		logger: logging.OrNop(logger),
		cache: ccache.New(ccache.Configure[*terrariumTile]().
			MaxSize(terrariumCacheTiles).ItemsToPrune(terrariumCacheTiles / 8)),
	}

	// The tile size comes from any stored tile at the sampling zoom.
	tiles := r.TilesAtZoom(s.zoom)
	if len(tiles) == 0 {
		s.Close()
		return nil, errors.Errorf("%s: no tiles at zoom %d", path, s.zoom)
	}
	first, err := s.tile(tiles[0][1], tiles[0][2])
	if err != nil {
		s.Close()
		return nil, err
	}
	s.tileSize = first.size
	return s, nil
}

// HeightAt implements Source.
func (s *TerrariumSource) HeightAt(lon, lat float64) (float64, bool) {
	if !s.bounds.Contains(lon, lat) || math.Abs(lat) >= coord.MaxMercatorLat {
		return 0, false
	}
	// Global pixel position at the sampling zoom; integers are pixel centres.
	px, py := coord.TilePixelCoords(lon, lat, s.zoom, 0, 0, s.tileSize)
	h, ok, err := Sample(terrariumGrid{s}, px-0.5, py-0.5, s.interp)
	if err != nil {
		s.logger.Debugw("terrarium tile read failed", "path", s.path, "lon", lon, "lat", lat, "error", err)
		return 0, false
	}
	return h, ok
}

// Zoom returns the zoom level the source samples.
func (s *TerrariumSource) Zoom() int { return s.zoom }

// Close stops the tile cache and closes the archive.
func (s *TerrariumSource) Close() error {
	s.cache.Stop()
	return s.r.Close()
}

func (s *TerrariumSource) String() string { return s.path }

// tile returns the decoded tile (x, y) at the sampling zoom.
func (s *TerrariumSource) tile(x, y int) (*terrariumTile, error) {
	key := strconv.Itoa(x) + "/" + strconv.Itoa(y)
	if item := s.cache.Get(key); item != nil && !item.Expired() {
		return item.Value(), nil
	}

	v, err, _ := s.inflight.Do(key, func() (interface{}, error) {
		data, err := s.r.ReadTile(s.zoom, x, y)
		if err != nil {
			return nil, err
		}
		t := &terrariumTile{size: s.tileSize}
		if data != nil {
			img, err := encode.DecodeImage(data, s.format)
			if err != nil {
				return nil, errors.Wrapf(err, "tile %d/%d/%d", s.zoom, x, y)
			}
			values, w, h := encode.DecodeTerrarium(img)
			if w != h {
				return nil, errors.Errorf("tile %d/%d/%d is %dx%d, want square", s.zoom, x, y, w, h)
			}
			if s.tileSize != 0 && w != s.tileSize {
				return nil, errors.Errorf("tile %d/%d/%d is %d px, want %d", s.zoom, x, y, w, s.tileSize)
			}
			t.values, t.size = values, w
		}
		s.cache.Set(key, t, terrariumTileTTL)
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*terrariumTile), nil
}

// terrariumGrid addresses the whole world at the sampling zoom.
type terrariumGrid struct{ s *TerrariumSource }

func (g terrariumGrid) Size() (int, int) {
	n := (1 << g.s.zoom) * g.s.tileSize
	return n, n
}

func (g terrariumGrid) Value(px, py int) (float64, bool, error) {
	ts := g.s.tileSize
	t, err := g.s.tile(px/ts, py/ts)
	if err != nil || t.values == nil {
		return 0, false, err
	}
	v := float64(t.values[(py%ts)*ts+px%ts])
	if math.IsNaN(v) {
		return 0, false, nil
	}
	return v, true, nil
}
