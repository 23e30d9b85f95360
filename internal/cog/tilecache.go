package cog

import (
	"fmt"
	"time"

	"github.com/karlseguin/ccache/v3"
	"golang.org/x/sync/singleflight"
)

// DefaultTileCacheSize is the number of decoded tiles a reader keeps.
const DefaultTileCacheSize = 256

const tileTTL = 10 * time.Minute

// FloatTile is a decoded tile of the first band.
type FloatTile struct {
	Data   []float32
	Width  int
	Height int
}

// At returns the value at (x, y) within the tile.
func (t *FloatTile) At(x, y int) float32 {
	return t.Data[y*t.Width+x]
}

// TileCache is an LRU cache of decoded tiles shared by any number of
// readers. Concurrent misses on the same tile decode it once.
type TileCache struct {
	cache    *ccache.Cache[*FloatTile]
	inflight singleflight.Group
}

// NewTileCache creates a tile cache holding up to maxTiles tiles.
func NewTileCache(maxTiles int) *TileCache {
	if maxTiles <= 0 {
		maxTiles = DefaultTileCacheSize
	}
	prune := uint32(maxTiles / 8)
	if prune == 0 {
		prune = 1
	}
	return &TileCache{
		cache: ccache.New(ccache.Configure[*FloatTile]().MaxSize(int64(maxTiles)).ItemsToPrune(prune)),
	}
}

// Get returns the tile, decoding it through r on a miss.
func (tc *TileCache) Get(r *Reader, level, col, row int) (*FloatTile, error) {
	key := fmt.Sprintf("%s/%d/%d/%d", r.path, level, col, row)

	if item := tc.cache.Get(key); item != nil && !item.Expired() {
		return item.Value(), nil
	}

	v, err, _ := tc.inflight.Do(key, func() (interface{}, error) {
		data, w, h, err := r.ReadFloatTile(level, col, row)
		if err != nil {
			return nil, err
		}
		t := &FloatTile{Data: data, Width: w, Height: h}
		tc.cache.Set(key, t, tileTTL)
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*FloatTile), nil
}

// Stop stops the cache's background worker.
func (tc *TileCache) Stop() {
	tc.cache.Stop()
}
