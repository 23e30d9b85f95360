// Package tile renders elevation sources into a terrarium tile pyramid.
package tile

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/pspoerri/sensorgeo/internal/coord"
	"github.com/pspoerri/sensorgeo/internal/elevation"
	"github.com/pspoerri/sensorgeo/internal/encode"
	"github.com/pspoerri/sensorgeo/internal/logging"
	"github.com/pspoerri/sensorgeo/internal/pmtiles"
)

// Config holds tile generation configuration.
type Config struct {
	MinZoom     int
	MaxZoom     int
	TileSize    int
	Concurrency int
	Progress    bool
	Encoder     encode.Encoder
	Bounds      pmtiles.Bounds
	// MemoryLimit caps the bytes of one zoom level kept for downsampling.
	// Levels over the limit are not kept and the next lower zoom samples
	// the source directly. Zero means no limit.
	MemoryLimit int64
	Logger      *zap.SugaredLogger
}

// Stats holds generation statistics.
type Stats struct {
	TileCount  int64
	EmptyTiles int64
	TotalBytes int64
}

// TileWriter is the interface for writing tiles (implemented by pmtiles.Writer).
type TileWriter interface {
	WriteTile(z, x, y int, data []byte) error
}

// tileJob represents a single tile to generate.
type tileJob struct {
	Z, X, Y int
}

// level holds the tiles of one zoom for building the next lower zoom.
type level struct {
	mu    sync.Mutex
	tiles map[[2]int]*TileData
}

func (l *level) put(x, y int, td *TileData) {
	l.mu.Lock()
	l.tiles[[2]int{x, y}] = td
	l.mu.Unlock()
}

// children returns the four child tiles of parent (x, y); missing ones are nil.
func (l *level) children(x, y int) [4]*TileData {
	return [4]*TileData{
		l.tiles[[2]int{2 * x, 2 * y}],
		l.tiles[[2]int{2*x + 1, 2 * y}],
		l.tiles[[2]int{2 * x, 2*y + 1}],
		l.tiles[[2]int{2*x + 1, 2*y + 1}],
	}
}

// Generate renders every zoom level from MaxZoom down to MinZoom and writes
// the non-empty tiles via writer. The highest zoom samples src at pixel
// centres; lower zooms are downsampled from their children while the
// previous level fits MemoryLimit.
func Generate(ctx context.Context, cfg Config, src elevation.Source, writer TileWriter) (Stats, error) {
	if src == nil {
		return Stats{}, errors.New("no elevation source")
	}
	if cfg.Encoder == nil {
		return Stats{}, errors.New("no tile encoder")
	}
	if cfg.MinZoom < 0 || cfg.MinZoom > cfg.MaxZoom {
		return Stats{}, errors.Errorf("invalid zoom range %d-%d", cfg.MinZoom, cfg.MaxZoom)
	}
	if cfg.TileSize <= 0 || cfg.TileSize%2 != 0 {
		return Stats{}, errors.Errorf("tile size %d must be positive and even", cfg.TileSize)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.GOMAXPROCS(0)
	}
	logger := logging.OrNop(cfg.Logger)

	var tileCount, emptyCount, totalBytes atomic.Int64
	var prev *level

	// Process zoom levels from highest to lowest.
	for z := cfg.MaxZoom; z >= cfg.MinZoom; z-- {
		tiles := coord.TilesInBounds(z,
			cfg.Bounds.MinLon, cfg.Bounds.MinLat,
			cfg.Bounds.MaxLon, cfg.Bounds.MaxLat)
		logger.Debugw("rendering zoom level", "zoom", z, "tiles", len(tiles), "downsampled", prev != nil)
		if len(tiles) == 0 {
			prev = nil
			continue
		}

		var cur *level
		if z > cfg.MinZoom {
			need := int64(len(tiles)) * int64(cfg.TileSize*cfg.TileSize) * 8
			if cfg.MemoryLimit > 0 && need > cfg.MemoryLimit {
				logger.Warnw("zoom level exceeds memory limit; next level samples the source",
					"zoom", z, "bytes", need, "limit", cfg.MemoryLimit)
			} else {
				cur = &level{tiles: make(map[[2]int]*TileData, len(tiles))}
			}
		}

		var bar *progressBar
		if cfg.Progress {
			bar = newProgressBar(fmt.Sprintf("Zoom %2d", z), int64(len(tiles)))
		}

		lctx, cancel := context.WithCancel(ctx)
		jobs := make(chan tileJob, cfg.Concurrency*2)
		errCh := make(chan error, 1)
		fail := func(err error) {
			select {
			case errCh <- err:
			default:
			}
			cancel()
		}

		var wg sync.WaitGroup
		for w := 0; w < cfg.Concurrency; w++ {
			wg.Add(1)
			go func(from *level) {
				defer wg.Done()
				for job := range jobs {
					if lctx.Err() != nil {
						continue
					}
					var td *TileData
					if from != nil {
						c := from.children(job.X, job.Y)
						td = downsampleTile(c[0], c[1], c[2], c[3], cfg.TileSize)
					} else {
						td = renderTile(job.Z, job.X, job.Y, cfg.TileSize, src)
					}
					if bar != nil {
						bar.Increment()
					}
					if td == nil || td.IsEmpty() {
						emptyCount.Add(1)
						continue
					}
					if cur != nil {
						cur.put(job.X, job.Y, td)
					}

					data, err := cfg.Encoder.Encode(td.Image())
					if err != nil {
						fail(errors.Wrapf(err, "encoding tile z%d/%d/%d", job.Z, job.X, job.Y))
						continue
					}
					if err := writer.WriteTile(job.Z, job.X, job.Y, data); err != nil {
						fail(errors.Wrapf(err, "writing tile z%d/%d/%d", job.Z, job.X, job.Y))
						continue
					}
					tileCount.Add(1)
					totalBytes.Add(int64(len(data)))
				}
			}(prev)
		}

	feed:
		for _, t := range tiles {
			select {
			case jobs <- tileJob{Z: t[0], X: t[1], Y: t[2]}:
			case <-lctx.Done():
				break feed
			}
		}
		close(jobs)
		wg.Wait()
		cancel()
		if bar != nil {
			bar.Finish()
		}

		select {
		case err := <-errCh:
			return Stats{}, err
		default:
		}
		if err := ctx.Err(); err != nil {
			return Stats{}, err
		}

		logger.Infow("zoom level completed", "zoom", z, "tiles_written", tileCount.Load())
		prev = cur
	}

	return Stats{
		TileCount:  tileCount.Load(),
		EmptyTiles: emptyCount.Load(),
		TotalBytes: totalBytes.Load(),
	}, nil
}

// renderTile samples src at the centre of every pixel of tile z/x/y. It
// returns nil when the source has no data anywhere in the tile.
func renderTile(z, x, y, tileSize int, src elevation.Source) *TileData {
	values := make([]float64, tileSize*tileSize)
	hasData := false
	for py := 0; py < tileSize; py++ {
		for px := 0; px < tileSize; px++ {
			lon, lat := coord.PixelToLonLat(z, x, y, tileSize, float64(px)+0.5, float64(py)+0.5)
			h, ok := src.HeightAt(lon, lat)
			if !ok || math.IsNaN(h) {
				values[py*tileSize+px] = math.NaN()
				continue
			}
			values[py*tileSize+px] = h
			hasData = true
		}
	}
	if !hasData {
		return nil
	}
	return newTileData(values, tileSize)
}
