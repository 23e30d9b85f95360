// Package rstransform chains sensor models and map projections into one
// transform between two image or map coordinate spaces.
//
// A GenericRSTransform is configured with projection references, image
// metadata and pixel spacing/origin for its input and output spaces.
// InstantiateTransform resolves each side to a SensorTransform (a map
// projection, an RPC model or the identity), composes them through WGS84
// and returns an Instantiated handle that evaluates points. Any setter call
// invalidates earlier handles.
package rstransform

import (
	"github.com/pkg/errors"

	"github.com/pspoerri/sensorgeo/internal/coord"
	"github.com/pspoerri/sensorgeo/internal/rpc"
)

// Point is a 2D or 3D coordinate. Z is the height in metres and passes
// through every transform unchanged; 2D points have HasZ false and are
// evaluated at height 0.
type Point struct {
	X, Y, Z float64
	HasZ    bool
}

// Pt returns a 2D point.
func Pt(x, y float64) Point { return Point{X: x, Y: y} }

// Pt3 returns a 3D point.
func Pt3(x, y, z float64) Point { return Point{X: x, Y: y, Z: z, HasZ: true} }

// Kind identifies the variant of a SensorTransform.
type Kind int

const (
	// KindIdentity returns its input. It is the zero Kind.
	KindIdentity Kind = iota
	// KindRPCForward maps image (x = sample, y = line) to WGS84 lon/lat.
	KindRPCForward
	// KindRPCInverse maps WGS84 lon/lat to image (sample, line).
	KindRPCInverse
	// KindMapForward maps WGS84 lon/lat to projected X/Y.
	KindMapForward
	// KindMapInverse maps projected X/Y to WGS84 lon/lat.
	KindMapInverse
)

func (k Kind) String() string {
	switch k {
	case KindIdentity:
		return "identity"
	case KindRPCForward:
		return "rpc-forward"
	case KindRPCInverse:
		return "rpc-inverse"
	case KindMapForward:
		return "map-forward"
	case KindMapInverse:
		return "map-inverse"
	default:
		return "unknown"
	}
}

// IsSensorModel reports whether k evaluates an RPC model.
func (k Kind) IsSensorModel() bool {
	return k == KindRPCForward || k == KindRPCInverse
}

// IsMapProjection reports whether k evaluates a map projection.
func (k Kind) IsMapProjection() bool {
	return k == KindMapForward || k == KindMapInverse
}

// SensorTransform is one directional transform. The zero value is the
// identity.
type SensorTransform struct {
	kind  Kind
	model *rpc.Model
	proj  *coord.MapProjection
}

// Identity returns the identity transform.
func Identity() SensorTransform { return SensorTransform{} }

// RPCForward maps image coordinates to WGS84 through m.
func RPCForward(m *rpc.Model) SensorTransform {
	return SensorTransform{kind: KindRPCForward, model: m}
}

// RPCInverse maps WGS84 to image coordinates through m.
func RPCInverse(m *rpc.Model) SensorTransform {
	return SensorTransform{kind: KindRPCInverse, model: m}
}

// MapForward maps WGS84 to the projected coordinates of p.
func MapForward(p *coord.MapProjection) SensorTransform {
	return SensorTransform{kind: KindMapForward, proj: p}
}

// MapInverse maps the projected coordinates of p to WGS84.
func MapInverse(p *coord.MapProjection) SensorTransform {
	return SensorTransform{kind: KindMapInverse, proj: p}
}

// Kind returns the variant.
func (t SensorTransform) Kind() Kind { return t.kind }

// Model returns the RPC model of RPC variants, nil otherwise.
func (t SensorTransform) Model() *rpc.Model { return t.model }

// Projection returns the map projection of map variants, nil otherwise.
func (t SensorTransform) Projection() *coord.MapProjection { return t.proj }

// IsValid reports whether t can be evaluated: RPC variants need a
// constructed model, map variants a defined projection.
func (t SensorTransform) IsValid() bool {
	switch t.kind {
	case KindIdentity:
		return true
	case KindRPCForward, KindRPCInverse:
		return t.model.IsValidSensorModel()
	case KindMapForward, KindMapInverse:
		return t.proj.IsProjectionDefined()
	default:
		return false
	}
}

// TransformPoint evaluates one point.
func (t SensorTransform) TransformPoint(p Point) (Point, error) {
	out := p
	var err error
	switch t.kind {
	case KindIdentity:
		return p, nil
	case KindRPCForward:
		out.X, out.Y, _, err = t.model.Forward(p.X, p.Y, p.Z)
	case KindRPCInverse:
		out.X, out.Y, err = t.model.Inverse(p.X, p.Y, p.Z)
	case KindMapForward:
		out.X, out.Y, err = t.proj.Forward(p.X, p.Y)
	case KindMapInverse:
		out.X, out.Y, err = t.proj.Inverse(p.X, p.Y)
	default:
		return Point{}, errors.Errorf("unknown transform kind %d", t.kind)
	}
	if err != nil {
		return Point{}, err
	}
	return out, nil
}

// TransformPoints evaluates a batch. Failed points are left unchanged and
// flagged false in ok. The error reports configuration problems only.
func (t SensorTransform) TransformPoints(pts []Point) (out []Point, ok []bool, err error) {
	out = make([]Point, len(pts))
	copy(out, pts)
	ok = make([]bool, len(pts))

	if t.kind.IsSensorModel() {
		x := make([]float64, len(pts))
		y := make([]float64, len(pts))
		z := make([]float64, len(pts))
		for i, p := range pts {
			x[i], y[i], z[i] = p.X, p.Y, p.Z
		}
		if t.kind == KindRPCForward {
			ok, err = t.model.ForwardBatch(x, y, z)
		} else {
			ok, err = t.model.InverseBatch(x, y, z)
		}
		if err != nil {
			return nil, nil, err
		}
		for i := range out {
			out[i].X, out[i].Y = x[i], y[i]
		}
		return out, ok, nil
	}

	for i, p := range pts {
		q, err := t.TransformPoint(p)
		if err != nil {
			continue
		}
		out[i], ok[i] = q, true
	}
	return out, ok, nil
}

func (t SensorTransform) String() string {
	if t.kind.IsMapProjection() && t.proj != nil {
		return t.kind.String() + "(" + t.proj.Definition() + ")"
	}
	return t.kind.String()
}
