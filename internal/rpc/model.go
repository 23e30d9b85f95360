package rpc

import (
	"io"
	"math"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/pspoerri/sensorgeo/internal/elevation"
	"github.com/pspoerri/sensorgeo/internal/logging"
)

var (
	// ErrNotConverged is returned when the image-to-ground solve exceeds its
	// iteration cap or never reaches the pixel error threshold.
	ErrNotConverged = errors.New("RPC solve did not converge")
	// ErrNoHeight is returned when the DEM has no data and no missing value is set.
	ErrNoHeight = errors.New("no height available")
)

// Model evaluates an RPC00B sensor model. Forward maps image (sample, line,
// height) to ground (lon, lat) by iterating; Inverse maps ground to image in
// closed form. Image coordinates are taken as given, with no half-pixel
// shift: (0.5, 0.5) is the centre of the first pixel. A Model is safe for concurrent evaluation; SetOption and
// SetOptions rebuild the evaluator lazily.
type Model struct {
	param  Param
	logger *zap.SugaredLogger

	mu   sync.Mutex
	opts Options
	eval *evaluator
}

// evaluator is the resolved, immutable form of Options.
type evaluator struct {
	dem          elevation.Source
	closer       io.Closer
	footprint    *Footprint
	heightOffset float64
	heightScale  float64
	missing      float64
	hasMissing   bool
	threshold    float64
	maxIter      int
}

// NewModel returns a model holding its own copy of p. Degenerate
// coefficients are accepted.
func NewModel(p Param, opts Options, logger *zap.SugaredLogger) *Model {
	return &Model{param: p, opts: opts, logger: logging.OrNop(logger)}
}

// IsValidSensorModel reports whether the model was constructed.
func (m *Model) IsValidSensorModel() bool { return m != nil }

// Param returns a copy of the coefficients.
func (m *Model) Param() Param { return m.param }

// Options returns the current options.
func (m *Model) Options() Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts
}

// SetOptions replaces all options and invalidates the evaluator.
func (m *Model) SetOptions(opts Options) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opts = opts
	m.invalidateLocked()
}

// SetOption applies one RPC_* option and invalidates the evaluator.
func (m *Model) SetOption(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.opts.Set(key, value); err != nil {
		return err
	}
	m.invalidateLocked()
	return nil
}

// Close releases a DEM opened from DEMPath.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invalidateLocked()
}

func (m *Model) invalidateLocked() error {
	if m.eval == nil {
		return nil
	}
	var err error
	if m.eval.closer != nil {
		err = m.eval.closer.Close()
	}
	m.eval = nil
	return err
}

func (m *Model) evaluator() (*evaluator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.eval != nil {
		return m.eval, nil
	}

	o := m.opts
	e := &evaluator{
		dem:          o.DEM,
		heightOffset: o.HeightOffset,
		heightScale:  o.heightScale(),
		missing:      o.DEMMissingValue,
		hasMissing:   o.HasDEMMissingValue,
		threshold:    o.threshold(),
		maxIter:      o.maxIterations(),
	}
	if e.dem == nil && o.DEMPath != "" {
		src, err := elevation.OpenFile(o.DEMPath, o.DEMInterpolation, m.logger)
		if err != nil {
			return nil, errors.Wrapf(err, "opening RPC DEM %s", o.DEMPath)
		}
		e.dem, e.closer = src, src
	}
	if o.Footprint != "" {
		fp, err := NewFootprint(o.Footprint)
		if err != nil {
			if e.closer != nil {
				_ = e.closer.Close()
			}
			return nil, err
		}
		e.footprint = fp
	}
	m.logger.Debugw("built RPC evaluator",
		"dem", e.dem != nil,
		"height_offset", e.heightOffset,
		"height_scale", e.heightScale,
		"threshold", e.threshold,
		"max_iterations", e.maxIter)
	m.eval = e
	return e, nil
}

// height applies the height rule at (lon, lat).
func (e *evaluator) height(lon, lat, h float64) (float64, error) {
	ground := 0.0
	if e.dem != nil {
		v, ok := e.dem.HeightAt(lon, lat)
		switch {
		case ok:
			ground = v
		case e.hasMissing:
			ground = e.missing
		default:
			return 0, errors.Wrapf(ErrNoHeight, "at (%.8f, %.8f)", lon, lat)
		}
	}
	return (h+ground)*e.heightScale + e.heightOffset, nil
}

// Forward converts image (sample, line, h) to ground (lon, lat). The height
// is passed through unchanged.
func (m *Model) Forward(sample, line, h float64) (lon, lat, hOut float64, err error) {
	e, err := m.evaluator()
	if err != nil {
		return 0, 0, 0, err
	}
	lon, lat, err = m.forward(e, sample, line, h)
	if err != nil {
		return 0, 0, 0, err
	}
	if e.footprint != nil && !e.footprint.Contains(lon, lat) {
		return 0, 0, 0, errors.Wrapf(ErrOutsideFootprint, "(%.8f, %.8f)", lon, lat)
	}
	return lon, lat, h, nil
}

// forwardUnbounded is Forward without the footprint test.
func (m *Model) forwardUnbounded(sample, line, h float64) (lon, lat, hOut float64, err error) {
	e, err := m.evaluator()
	if err != nil {
		return 0, 0, 0, err
	}
	lon, lat, err = m.forward(e, sample, line, h)
	return lon, lat, h, err
}

// forward runs a Newton solve for normalized (lat, lon) from the image position.
func (m *Model) forward(e *evaluator, sample, line, h float64) (lon, lat float64, err error) {
	p := &m.param
	U := (line - p.LineOffset) / p.LineScale
	V := (sample - p.SampleOffset) / p.SampleScale
	epsU := e.threshold / p.LineScale
	epsV := e.threshold / p.SampleScale
	if e.maxIter <= 0 {
		return 0, 0, errors.Wrapf(ErrNotConverged, "image point (%g, %g): no iterations allowed", sample, line)
	}

	var nlat, nlon float64
	for it := 0; ; it++ {
		lat = nlat*p.LatScale + p.LatOffset
		lon = nlon*p.LonScale + p.LonOffset
		hh, err := e.height(lon, lat, h)
		if err != nil {
			return 0, 0, err
		}
		H := (hh - p.HeightOffset) / p.HeightScale

		nu := polynomial(&p.LineNum, nlat, nlon, H)
		du := polynomial(&p.LineDen, nlat, nlon, H)
		nv := polynomial(&p.SampleNum, nlat, nlon, H)
		dv := polynomial(&p.SampleDen, nlat, nlon, H)
		dU := U - nu/du
		dV := V - nv/dv

		if math.Abs(dU) < epsU && math.Abs(dV) < epsV {
			return lon, lat, nil
		}
		if it >= e.maxIter {
			break
		}

		du2, dv2 := du*du, dv*dv
		dUdLat := (du*dLat(&p.LineNum, nlat, nlon, H) - nu*dLat(&p.LineDen, nlat, nlon, H)) / du2
		dUdLon := (du*dLon(&p.LineNum, nlat, nlon, H) - nu*dLon(&p.LineDen, nlat, nlon, H)) / du2
		dVdLat := (dv*dLat(&p.SampleNum, nlat, nlon, H) - nv*dLat(&p.SampleDen, nlat, nlon, H)) / dv2
		dVdLon := (dv*dLon(&p.SampleNum, nlat, nlon, H) - nv*dLon(&p.SampleDen, nlat, nlon, H)) / dv2

		w := dUdLon*dVdLat - dUdLat*dVdLon
		if w == 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			break
		}
		nlat += (dUdLon*dV - dVdLon*dU) / w
		nlon += (dVdLat*dU - dUdLat*dV) / w
	}
	m.logger.Debugw("RPC solve did not converge", "sample", sample, "line", line, "height", h, "max_iterations", e.maxIter)
	return 0, 0, errors.Wrapf(ErrNotConverged, "image point (%g, %g)", sample, line)
}

// Inverse converts ground (lon, lat, h) to image (sample, line).
func (m *Model) Inverse(lon, lat, h float64) (sample, line float64, err error) {
	e, err := m.evaluator()
	if err != nil {
		return 0, 0, err
	}
	return m.inverse(e, lon, lat, h)
}

func (m *Model) inverse(e *evaluator, lon, lat, h float64) (sample, line float64, err error) {
	if e.footprint != nil && !e.footprint.Contains(lon, lat) {
		return 0, 0, errors.Wrapf(ErrOutsideFootprint, "(%.8f, %.8f)", lon, lat)
	}
	hh, err := e.height(lon, lat, h)
	if err != nil {
		return 0, 0, err
	}
	sample, line = m.param.GroundToImage(lon, lat, hh)
	if math.IsNaN(sample) || math.IsNaN(line) || math.IsInf(sample, 0) || math.IsInf(line, 0) {
		return 0, 0, errors.Errorf("RPC polynomial is singular at (%.8f, %.8f)", lon, lat)
	}
	return sample, line, nil
}

// ForwardBatch converts x (sample), y (line) and z (height) in place to
// lon, lat and height. It returns per-point success; failed points are left
// unchanged. The error reports configuration problems only.
func (m *Model) ForwardBatch(x, y, z []float64) ([]bool, error) {
	if err := checkLengths(x, y, z); err != nil {
		return nil, err
	}
	e, err := m.evaluator()
	if err != nil {
		return nil, err
	}
	ok := make([]bool, len(x))
	for i := range x {
		lon, lat, err := m.forward(e, x[i], y[i], z[i])
		if err != nil || (e.footprint != nil && !e.footprint.Contains(lon, lat)) {
			continue
		}
		x[i], y[i] = lon, lat
		ok[i] = true
	}
	return ok, nil
}

// InverseBatch converts x (lon), y (lat) and z (height) in place to sample,
// line and height, with the same contract as ForwardBatch.
func (m *Model) InverseBatch(x, y, z []float64) ([]bool, error) {
	if err := checkLengths(x, y, z); err != nil {
		return nil, err
	}
	e, err := m.evaluator()
	if err != nil {
		return nil, err
	}
	ok := make([]bool, len(x))
	for i := range x {
		s, l, err := m.inverse(e, x[i], y[i], z[i])
		if err != nil {
			continue
		}
		x[i], y[i] = s, l
		ok[i] = true
	}
	return ok, nil
}

func checkLengths(x, y, z []float64) error {
	if len(x) != len(y) || len(x) != len(z) {
		return errors.Errorf("coordinate slices differ in length: %d, %d, %d", len(x), len(y), len(z))
	}
	return nil
}

// AllOK reports whether every point of a batch succeeded.
func AllOK(ok []bool) bool {
	for _, v := range ok {
		if !v {
			return false
		}
	}
	return true
}
