package main

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/pspoerri/sensorgeo/internal/elevation"
	"github.com/pspoerri/sensorgeo/internal/encode"
	"github.com/pspoerri/sensorgeo/internal/pmtiles"
	"github.com/pspoerri/sensorgeo/internal/tile"
)

const (
	flagFormat      = "format"
	flagMinZoom     = "min-zoom"
	flagMaxZoom     = "max-zoom"
	flagTileSize    = "tile-size"
	flagConcurrency = "concurrency"
	flagProgress    = "progress"
	flagEllipsoidal = "ellipsoidal"
	flagName        = "name"
)

func demPackCommand() *cli.Command {
	return &cli.Command{
		Name:      "dem-pack",
		Usage:     "resample a GeoTIFF DEM into a terrarium PMTiles archive",
		ArgsUsage: "<dem.tif> <out.pmtiles>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: flagFormat, Value: "png", Usage: "tile encoding: png or webp"},
			&cli.IntFlag{Name: flagMinZoom, Value: -1, Usage: "minimum zoom level (default: auto)"},
			&cli.IntFlag{Name: flagMaxZoom, Value: -1, Usage: "maximum zoom level (default: auto from resolution)"},
			&cli.IntFlag{Name: flagTileSize, Value: 256, Usage: "tile size in pixels"},
			&cli.IntFlag{Name: flagConcurrency, Value: runtime.NumCPU(), Usage: "parallel workers"},
			&cli.BoolFlag{Name: flagProgress, Usage: "show a progress bar per zoom level"},
			&cli.BoolFlag{Name: flagEllipsoidal, Usage: "add the --geoid undulation to store heights above the ellipsoid"},
			&cli.StringFlag{Name: flagName, Usage: "archive name (default: DEM file name)"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return errors.New("usage: dem-pack <dem.tif> <out.pmtiles>")
			}
			e, err := getEnv(c)
			if err != nil {
				return err
			}
			return packDEM(c, e, c.Args().Get(0), c.Args().Get(1))
		},
	}
}

func packDEM(c *cli.Context, e *env, demPath, outPath string) error {
	start := time.Now()
	enc, err := encode.NewEncoder(c.String(flagFormat))
	if err != nil {
		return err
	}

	dem, err := elevation.OpenGeoTIFF(demPath, e.interp, e.logger)
	if err != nil {
		return err
	}
	h := elevation.NewHandler(elevation.Config{Interpolation: e.interp}, e.logger)
	defer h.Close()
	if err := h.AddDEM(dem); err != nil {
		return err
	}
	if c.Bool(flagEllipsoidal) {
		if e.geoidPath == "" {
			return errors.New("--ellipsoidal needs --geoid")
		}
		if err := h.OpenGeoid(e.geoidPath); err != nil {
			return err
		}
	}

	minLon, minLat, maxLon, maxLat, err := dem.Bounds()
	if err != nil {
		return errors.Wrap(err, "computing DEM bounds")
	}
	bounds := pmtiles.Bounds{MinLon: minLon, MinLat: minLat, MaxLon: maxLon, MaxLat: maxLat}

	tileSize := c.Int(flagTileSize)
	geo := dem.Reader().GeoInfo()
	minZoom, maxZoom := tile.DEMZoomRange(geo.PixelSizeX, geo.EPSG, bounds, tileSize)
	if z := c.Int(flagMaxZoom); z >= 0 {
		maxZoom = z
	}
	if z := c.Int(flagMinZoom); z >= 0 {
		minZoom = z
	}
	if minZoom > maxZoom {
		minZoom = maxZoom
	}

	name := c.String(flagName)
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(demPath), filepath.Ext(demPath))
	}
	w, err := pmtiles.NewWriter(outPath, pmtiles.WriterOptions{
		MinZoom:     minZoom,
		MaxZoom:     maxZoom,
		Bounds:      bounds,
		TileType:    enc.PMTileType(),
		TileSize:    tileSize,
		Name:        name,
		Description: "terrarium elevation from " + filepath.Base(demPath),
		Encoding:    "terrarium",
	})
	if err != nil {
		return err
	}

	e.logger.Infow("packing DEM",
		"dem", demPath,
		"zoom", fmt.Sprintf("%d-%d", minZoom, maxZoom),
		"format", enc.Format(),
		"bounds", fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", minLon, minLat, maxLon, maxLat))

	stats, err := tile.Generate(c.Context, tile.Config{
		MinZoom:     minZoom,
		MaxZoom:     maxZoom,
		TileSize:    tileSize,
		Concurrency: c.Int(flagConcurrency),
		Progress:    c.Bool(flagProgress),
		Encoder:     enc,
		Bounds:      bounds,
		MemoryLimit: tile.ComputeMemoryLimit(tile.DefaultMemoryFraction, e.logger),
		Logger:      e.logger,
	}, h.DEMSource(), w)
	if err != nil {
		w.Abort()
		return err
	}
	if err := w.Finalize(); err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "%s: %d tiles (%d empty), %.1f MB in %s\n",
		outPath, stats.TileCount, stats.EmptyTiles,
		float64(stats.TotalBytes)/(1024*1024), time.Since(start).Round(time.Millisecond))
	return nil
}
