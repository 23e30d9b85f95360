// Package main is the sensorgeo command line tool: it transforms points
// between image and ground coordinates of RPC and map-projected images,
// fits RPC models and packs DEMs into terrarium PMTiles archives.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/pspoerri/sensorgeo/internal/elevation"
	"github.com/pspoerri/sensorgeo/internal/logging"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

const (
	// Global flags.
	flagDebug            = "debug"
	flagDEM              = "dem"
	flagDEMDir           = "dem-dir"
	flagGeoid            = "geoid"
	flagHeight           = "height"
	flagDEMInterpolation = "dem-interpolation"
	flagDEMMissingValue  = "dem-missing-value"

	envKey = "env"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "sensorgeo: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "sensorgeo",
		Usage:   "transform points between sensor images, map projections and WGS84",
		Version: fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate),
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
				EnvVars: []string{"SENSORGEO_DEBUG"},
			},
			&cli.StringSliceFlag{
				Name:    flagDEM,
				Usage:   "DEM `FILE` (GeoTIFF or terrarium PMTiles); repeat to stack, first has priority",
				EnvVars: []string{"SENSORGEO_DEM"},
			},
			&cli.StringFlag{
				Name:    flagDEMDir,
				Usage:   "load every DEM in `DIR`, after the --dem files",
				EnvVars: []string{"SENSORGEO_DEM_DIR"},
			},
			&cli.StringFlag{
				Name:    flagGeoid,
				Usage:   "geoid undulation grid `FILE` added to DEM heights",
				EnvVars: []string{"SENSORGEO_GEOID"},
			},
			&cli.Float64Flag{
				Name:    flagHeight,
				Usage:   "default height above the ellipsoid where no DEM has data",
				EnvVars: []string{"SENSORGEO_HEIGHT"},
			},
			&cli.StringFlag{
				Name:    flagDEMInterpolation,
				Value:   elevation.Bilinear.String(),
				Usage:   "DEM interpolation: near, bilinear or cubic",
				EnvVars: []string{"SENSORGEO_DEM_INTERPOLATION"},
			},
			&cli.Float64Flag{
				Name:    flagDEMMissingValue,
				Usage:   "height used where no DEM has data; without it such points fail",
				EnvVars: []string{"SENSORGEO_DEM_MISSING_VALUE"},
			},
		},
		Before: func(c *cli.Context) error {
			e, err := newEnv(c)
			if err != nil {
				return err
			}
			c.App.Metadata = map[string]interface{}{envKey: e}
			return nil
		},
		After: func(c *cli.Context) error {
			if e, ok := c.App.Metadata[envKey].(*env); ok {
				return e.Close()
			}
			return nil
		},
		Commands: []*cli.Command{
			infoCommand(),
			img2geoCommand(),
			geo2imgCommand(),
			batchCommand(),
			fitRPCCommand(),
			demPackCommand(),
		},
	}
}

// env is the state shared by all commands.
type env struct {
	logger    *zap.SugaredLogger
	handler   *elevation.Handler
	interp    elevation.Interpolation
	geoidPath string
	height    float64

	missingValue    float64
	hasMissingValue bool
}

func newEnv(c *cli.Context) (*env, error) {
	logger := logging.NewLogger("sensorgeo", c.Bool(flagDebug))
	interp, err := elevation.ParseInterpolation(c.String(flagDEMInterpolation))
	if err != nil {
		return nil, err
	}

	cfg := elevation.DefaultConfig()
	cfg.Interpolation = interp
	cfg.DefaultHeightAboveEllipsoid = c.Float64(flagHeight)
	h := elevation.NewHandler(cfg, logger)

	e := &env{
		logger:          logger,
		handler:         h,
		interp:          interp,
		geoidPath:       c.String(flagGeoid),
		height:          c.Float64(flagHeight),
		missingValue:    c.Float64(flagDEMMissingValue),
		hasMissingValue: c.IsSet(flagDEMMissingValue),
	}
	for _, path := range c.StringSlice(flagDEM) {
		if err := h.OpenDEM(path); err != nil {
			return nil, multiClose(err, e)
		}
	}
	if dir := c.String(flagDEMDir); dir != "" {
		if err := h.OpenDEMDirectory(dir); err != nil {
			return nil, multiClose(err, e)
		}
	}
	if e.geoidPath != "" {
		if err := h.OpenGeoid(e.geoidPath); err != nil {
			return nil, multiClose(err, e)
		}
	}
	return e, nil
}

func multiClose(err error, e *env) error {
	if cerr := e.Close(); cerr != nil {
		e.logger.Debugw("closing elevation sources", "error", cerr)
	}
	return err
}

// elevationSource returns the heights RPC models solve against, or nil
// when neither a DEM nor a geoid is loaded so models run at constant
// height. With a missing value the DEM stack reports its gaps so the models
// substitute that value; otherwise gaps fall back to geoid plus default
// height.
func (e *env) elevationSource() elevation.Source {
	dems := e.handler.NumDEMs()
	switch {
	case dems == 0 && !e.handler.HasGeoid():
		return nil
	case e.hasMissingValue && dems > 0:
		return e.handler.DEMSource()
	default:
		return elevation.SourceFunc(func(lon, lat float64) (float64, bool) {
			return e.handler.HeightAboveEllipsoid(lon, lat), true
		})
	}
}

func (e *env) Close() error {
	return errors.Wrap(e.handler.Close(), "closing elevation sources")
}

func getEnv(c *cli.Context) (*env, error) {
	e, ok := c.App.Metadata[envKey].(*env)
	if !ok {
		return nil, errors.New("command run without initialization")
	}
	return e, nil
}
