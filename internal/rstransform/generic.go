package rstransform

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/pspoerri/sensorgeo/internal/coord"
	"github.com/pspoerri/sensorgeo/internal/elevation"
	"github.com/pspoerri/sensorgeo/internal/logging"
	"github.com/pspoerri/sensorgeo/internal/metadata"
	"github.com/pspoerri/sensorgeo/internal/rpc"
)

// ErrNotInstantiated is returned when a handle is used after a setter call
// on its GenericRSTransform, or when the builder has no current handle.
var ErrNotInstantiated = errors.New("transform is not instantiated")

// space is the configuration of one side of the transform.
type space struct {
	ref     string
	md      *metadata.ImageMetadata
	spacing [2]float64
	origin  [2]float64
	rpcOpts rpc.Options
}

func defaultSpace() space {
	return space{spacing: [2]float64{1, 1}, rpcOpts: rpc.DefaultOptions()}
}

// GenericRSTransform builds a transform from an input space to an output
// space. Configure it with the setters, then call InstantiateTransform.
// Metadata is referenced, not copied.
type GenericRSTransform struct {
	logger *zap.SugaredLogger

	mu        sync.Mutex
	in, out   space
	elevation elevation.Source
	current   *Instantiated

	generation atomic.Uint64
}

// New returns an unconfigured transform: identity on both sides, spacing 1
// and origin 0.
func New(logger *zap.SugaredLogger) *GenericRSTransform {
	return &GenericRSTransform{
		logger: logging.OrNop(logger),
		in:     defaultSpace(),
		out:    defaultSpace(),
	}
}

// update applies a configuration change and invalidates every handle.
func (g *GenericRSTransform) update(f func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f()
	g.current = nil
	g.generation.Add(1)
}

// SetInputProjectionRef sets the WKT, PROJ string or "EPSG:n" of the input space.
func (g *GenericRSTransform) SetInputProjectionRef(ref string) {
	g.update(func() { g.in.ref = ref })
}

// SetOutputProjectionRef sets the reference of the output space.
func (g *GenericRSTransform) SetOutputProjectionRef(ref string) {
	g.update(func() { g.out.ref = ref })
}

// SetInputImageMetadata sets the metadata whose RPC model may serve the input side.
func (g *GenericRSTransform) SetInputImageMetadata(md *metadata.ImageMetadata) {
	g.update(func() { g.in.md = md })
}

// SetOutputImageMetadata sets the metadata whose RPC model may serve the output side.
func (g *GenericRSTransform) SetOutputImageMetadata(md *metadata.ImageMetadata) {
	g.update(func() { g.out.md = md })
}

// SetInputSpacing sets the per-axis scale applied to input points.
func (g *GenericRSTransform) SetInputSpacing(s [2]float64) {
	g.update(func() { g.in.spacing = s })
}

// SetInputOrigin sets the offset added to scaled input points.
func (g *GenericRSTransform) SetInputOrigin(o [2]float64) {
	g.update(func() { g.in.origin = o })
}

// SetOutputSpacing sets the per-axis scale divided out of output points.
func (g *GenericRSTransform) SetOutputSpacing(s [2]float64) {
	g.update(func() { g.out.spacing = s })
}

// SetOutputOrigin sets the offset subtracted from output points.
func (g *GenericRSTransform) SetOutputOrigin(o [2]float64) {
	g.update(func() { g.out.origin = o })
}

// SetInputRPCOptions sets the options of an input-side RPC model.
func (g *GenericRSTransform) SetInputRPCOptions(opts rpc.Options) {
	g.update(func() { g.in.rpcOpts = opts })
}

// SetOutputRPCOptions sets the options of an output-side RPC model.
func (g *GenericRSTransform) SetOutputRPCOptions(opts rpc.Options) {
	g.update(func() { g.out.rpcOpts = opts })
}

// SetElevationSource sets the DEM used by RPC models whose options name no
// DEM of their own. nil means constant heights.
func (g *GenericRSTransform) SetElevationSource(src elevation.Source) {
	g.update(func() { g.elevation = src })
}

// InputProjectionRef returns the configured input reference.
func (g *GenericRSTransform) InputProjectionRef() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.in.ref
}

// OutputProjectionRef returns the configured output reference.
func (g *GenericRSTransform) OutputProjectionRef() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.out.ref
}

// IsUpToDate reports whether the last InstantiateTransform reflects the
// current configuration.
func (g *GenericRSTransform) IsUpToDate() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current != nil && g.current.gen == g.generation.Load()
}

// GetAccuracy returns the accuracy of the current instantiation, or
// AccuracyUnknown when there is none.
func (g *GenericRSTransform) GetAccuracy() Accuracy {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		return AccuracyUnknown
	}
	return g.current.accuracy
}

// Current returns the handle of the last instantiation, or
// ErrNotInstantiated when a setter was called since.
func (g *GenericRSTransform) Current() (*Instantiated, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		return nil, ErrNotInstantiated
	}
	return g.current, nil
}

// TransformPoint evaluates p with the current handle.
func (g *GenericRSTransform) TransformPoint(p Point) (Point, error) {
	h, err := g.Current()
	if err != nil {
		return Point{}, err
	}
	return h.TransformPoint(p)
}

// InstantiateTransform resolves both sides and returns a handle that stays
// valid until the next setter call. Each side tries, in order, its
// projection reference, an RPC model from its metadata and the identity.
// When exactly one side resolves to identity it is set to WGS84.
func (g *GenericRSTransform) InstantiateTransform() (*Instantiated, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, s := range []struct {
		name string
		v    [2]float64
	}{{"input", g.in.spacing}, {"output", g.out.spacing}} {
		if s.v[0] == 0 || s.v[1] == 0 {
			return nil, errors.Errorf("%s spacing (%g, %g) has a zero component", s.name, s.v[0], s.v[1])
		}
	}

	in := g.resolve(g.in, true)
	out := g.resolve(g.out, false)
	accuracy := classify(in.Kind(), out.Kind())

	inRef, outRef := effectiveRef(in, g.in.ref), effectiveRef(out, g.out.ref)
	switch {
	case in.Kind() == KindIdentity && out.Kind() != KindIdentity:
		in, inRef = MapInverse(coord.NewMapProjection(coord.WGS84WKT)), coord.WGS84WKT
	case out.Kind() == KindIdentity && in.Kind() != KindIdentity:
		out, outRef = MapForward(coord.NewMapProjection(coord.WGS84WKT)), coord.WGS84WKT
	}

	composite, err := NewCompositeTransform(in, out)
	if err != nil {
		return nil, err
	}
	h := &Instantiated{
		owner:      g,
		gen:        g.generation.Load(),
		composite:  composite,
		accuracy:   accuracy,
		inSpacing:  g.in.spacing,
		inOrigin:   g.in.origin,
		outSpacing: g.out.spacing,
		outOrigin:  g.out.origin,
		inRef:      inRef,
		outRef:     outRef,
	}
	g.current = h
	g.logger.Infow("instantiated transform",
		"input", in.String(),
		"output", out.String(),
		"accuracy", accuracy.String())
	return h, nil
}

// resolve picks the transform of one side.
func (g *GenericRSTransform) resolve(s space, input bool) SensorTransform {
	side := "output"
	if input {
		side = "input"
	}

	if s.ref != "" {
		mp := &coord.MapProjection{}
		err := mp.SetDefinition(s.ref)
		if err == nil {
			if input {
				return MapInverse(mp)
			}
			return MapForward(mp)
		}
		g.logger.Warnw("projection reference does not define a projection", "side", side, "error", err)
	}

	if s.md.HasRPC() {
		if err := s.md.RPC.Validate(); err != nil {
			g.logger.Warnw("ignoring RPC model", "side", side, "error", err)
			return Identity()
		}
		opts := s.rpcOpts
		if opts.DEM == nil && opts.DEMPath == "" && g.elevation != nil {
			opts.DEM = g.elevation
		}
		m := rpc.NewModel(*s.md.RPC, opts, g.logger)
		if m.IsValidSensorModel() {
			if input {
				return RPCForward(m)
			}
			return RPCInverse(m)
		}
	} else if s.md != nil && s.ref == "" {
		g.logger.Debugw("image metadata carries no RPC model", "side", side)
	}
	return Identity()
}

func effectiveRef(t SensorTransform, configured string) string {
	switch {
	case t.Kind().IsMapProjection():
		return t.Projection().Definition()
	case t.Kind().IsSensorModel():
		return ""
	default:
		return configured
	}
}

// GetInverseTransform returns a new transform with the input and output
// configuration swapped, already instantiated.
func (g *GenericRSTransform) GetInverseTransform() (*GenericRSTransform, *Instantiated, error) {
	g.mu.Lock()
	inv := &GenericRSTransform{
		logger:    g.logger,
		in:        g.out,
		out:       g.in,
		elevation: g.elevation,
	}
	g.mu.Unlock()

	h, err := inv.InstantiateTransform()
	if err != nil {
		return nil, nil, errors.Wrap(err, "instantiating inverse transform")
	}
	return inv, h, nil
}

// Close releases DEMs opened by the RPC models of the current handle.
func (g *GenericRSTransform) Close() error {
	g.mu.Lock()
	h := g.current
	g.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.Close()
}

// Instantiated evaluates a resolved transform. It is safe for concurrent
// use and fails with ErrNotInstantiated once its GenericRSTransform has
// been reconfigured.
type Instantiated struct {
	owner *GenericRSTransform
	gen   uint64

	composite             *CompositeTransform
	accuracy              Accuracy
	inSpacing, inOrigin   [2]float64
	outSpacing, outOrigin [2]float64
	inRef, outRef         string
}

func (h *Instantiated) check() error {
	if h == nil || h.owner.generation.Load() != h.gen {
		return ErrNotInstantiated
	}
	return nil
}

// Valid reports whether the handle is still current.
func (h *Instantiated) Valid() bool { return h.check() == nil }

// Accuracy returns the accuracy classification.
func (h *Instantiated) Accuracy() Accuracy { return h.accuracy }

// InputProjectionRef returns the input reference after the WGS84 correction.
func (h *Instantiated) InputProjectionRef() string { return h.inRef }

// OutputProjectionRef returns the output reference after the WGS84 correction.
func (h *Instantiated) OutputProjectionRef() string { return h.outRef }

// Transform returns the composite transform between the normalized spaces.
func (h *Instantiated) Transform() (*CompositeTransform, error) {
	if err := h.check(); err != nil {
		return nil, err
	}
	return h.composite, nil
}

func (h *Instantiated) normalize(p Point) Point {
	p.X = p.X*h.inSpacing[0] + h.inOrigin[0]
	p.Y = p.Y*h.inSpacing[1] + h.inOrigin[1]
	return p
}

func (h *Instantiated) denormalize(p Point) Point {
	p.X = (p.X - h.outOrigin[0]) / h.outSpacing[0]
	p.Y = (p.Y - h.outOrigin[1]) / h.outSpacing[1]
	return p
}

// TransformPoint maps p from the input space to the output space.
func (h *Instantiated) TransformPoint(p Point) (Point, error) {
	if err := h.check(); err != nil {
		return Point{}, err
	}
	q, err := h.composite.TransformPoint(h.normalize(p))
	if err != nil {
		return Point{}, errors.Wrapf(err, "transforming (%g, %g)", p.X, p.Y)
	}
	return h.denormalize(q), nil
}

// TransformPoints maps a batch. Failed points are returned unchanged and
// flagged false; the error reports a stale handle only.
func (h *Instantiated) TransformPoints(pts []Point) ([]Point, []bool, error) {
	if err := h.check(); err != nil {
		return nil, nil, err
	}
	norm := make([]Point, len(pts))
	for i, p := range pts {
		norm[i] = h.normalize(p)
	}
	out, ok, err := h.composite.TransformPoints(norm)
	if err != nil {
		return nil, nil, err
	}
	for i := range out {
		if ok[i] {
			out[i] = h.denormalize(out[i])
		} else {
			out[i] = pts[i]
		}
	}
	return out, ok, nil
}

// Close releases DEMs opened by the RPC models of this handle.
func (h *Instantiated) Close() error {
	var err error
	for _, t := range []SensorTransform{h.composite.First, h.composite.Second} {
		if m := t.Model(); m != nil {
			err = multierr.Append(err, m.Close())
		}
	}
	return err
}
