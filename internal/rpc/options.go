package rpc

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/pspoerri/sensorgeo/internal/elevation"
)

const (
	// DefaultPixelErrorThreshold is the convergence threshold of the
	// image-to-ground solve, in pixels.
	DefaultPixelErrorThreshold = 0.1
	// DefaultMaxIterations caps the image-to-ground solve at constant height.
	DefaultMaxIterations = 10
	// DefaultMaxIterationsDEM caps the solve when heights come from a DEM.
	DefaultMaxIterationsDEM = 20
)

// Option keys accepted by ParseOptions and Model.SetOption.
const (
	OptHeight              = "RPC_HEIGHT"
	OptHeightScale         = "RPC_HEIGHT_SCALE"
	OptDEM                 = "RPC_DEM"
	OptDEMInterpolation    = "RPC_DEMINTERPOLATION"
	OptDEMMissingValue     = "RPC_DEM_MISSING_VALUE"
	OptPixelErrorThreshold = "RPC_PIXEL_ERROR_THRESHOLD"
	OptMaxIterations       = "RPC_MAX_ITERATIONS"
	OptFootprint           = "RPC_FOOTPRINT"
)

// Options tunes a Model. Start from DefaultOptions; the zero value asks for
// zero iterations.
type Options struct {
	// HeightOffset is added to every height after scaling.
	HeightOffset float64
	// HeightScale multiplies the input plus DEM height. Zero means 1.
	HeightScale float64

	// DEM supplies ground heights. It takes precedence over DEMPath.
	DEM elevation.Source
	// DEMPath is opened on first use when DEM is nil.
	DEMPath          string
	DEMInterpolation elevation.Interpolation
	// DEMMissingValue replaces DEM no-data. Without it such points fail.
	DEMMissingValue    float64
	HasDEMMissingValue bool

	// PixelErrorThreshold is the convergence threshold in pixels. Non-positive means the default.
	PixelErrorThreshold float64
	// MaxIterations caps the image-to-ground solve. Negative selects 10, or 20 with a DEM.
	MaxIterations int

	// Footprint is a WKT polygon in lon/lat outside of which results are invalid.
	Footprint string
}

// DefaultOptions returns constant-height options with automatic iteration limits.
func DefaultOptions() Options {
	return Options{
		HeightScale:         1,
		DEMInterpolation:    elevation.Bilinear,
		PixelErrorThreshold: DefaultPixelErrorThreshold,
		MaxIterations:       -1,
	}
}

// HasDEM reports whether heights are sampled from a DEM.
func (o Options) HasDEM() bool {
	return o.DEM != nil || o.DEMPath != ""
}

// ParseOptions applies GDAL-style RPC_* options on top of DefaultOptions.
func ParseOptions(kv map[string]string) (Options, error) {
	opts := DefaultOptions()
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := opts.Set(k, kv[k]); err != nil {
			return Options{}, err
		}
	}
	return opts, nil
}

// Set applies one RPC_* option. Keys are case-insensitive.
func (o *Options) Set(key, value string) error {
	value = strings.TrimSpace(value)
	switch strings.ToUpper(strings.TrimSpace(key)) {
	case OptHeight:
		v, err := parseFloat(key, value)
		if err != nil {
			return err
		}
		o.HeightOffset = v
	case OptHeightScale:
		v, err := parseFloat(key, value)
		if err != nil {
			return err
		}
		o.HeightScale = v
	case OptDEM:
		o.DEMPath = value
		o.DEM = nil
	case OptDEMInterpolation:
		interp, err := elevation.ParseInterpolation(value)
		if err != nil {
			return errors.Wrap(err, OptDEMInterpolation)
		}
		o.DEMInterpolation = interp
	case OptDEMMissingValue:
		if value == "" {
			o.HasDEMMissingValue = false
			return nil
		}
		v, err := parseFloat(key, value)
		if err != nil {
			return err
		}
		o.DEMMissingValue, o.HasDEMMissingValue = v, true
	case OptPixelErrorThreshold:
		v, err := parseFloat(key, value)
		if err != nil {
			return err
		}
		o.PixelErrorThreshold = v
	case OptMaxIterations:
		n, err := strconv.Atoi(value)
		if err != nil {
			return errors.Wrapf(err, "parsing %s", key)
		}
		o.MaxIterations = n
	case OptFootprint:
		if value != "" {
			if _, err := NewFootprint(value); err != nil {
				return err
			}
		}
		o.Footprint = value
	default:
		return errors.Errorf("unknown RPC option %q", key)
	}
	return nil
}

func parseFloat(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing %s", key)
	}
	return v, nil
}

func (o Options) heightScale() float64 {
	if o.HeightScale == 0 {
		return 1
	}
	return o.HeightScale
}

func (o Options) threshold() float64 {
	if o.PixelErrorThreshold <= 0 {
		return DefaultPixelErrorThreshold
	}
	return o.PixelErrorThreshold
}

func (o Options) maxIterations() int {
	switch {
	case o.MaxIterations >= 0:
		return o.MaxIterations
	case o.HasDEM():
		return DefaultMaxIterationsDEM
	default:
		return DefaultMaxIterations
	}
}
