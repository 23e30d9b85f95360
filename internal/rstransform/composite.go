package rstransform

import "github.com/pkg/errors"

// CompositeTransform applies First, then Second. An unset (zero) side is
// the identity.
type CompositeTransform struct {
	First  SensorTransform
	Second SensorTransform
}

// NewCompositeTransform chains first and second, rejecting invalid sides.
func NewCompositeTransform(first, second SensorTransform) (*CompositeTransform, error) {
	if !first.IsValid() {
		return nil, errors.Errorf("invalid input transform %s", first)
	}
	if !second.IsValid() {
		return nil, errors.Errorf("invalid output transform %s", second)
	}
	return &CompositeTransform{First: first, Second: second}, nil
}

// TransformPoint returns Second(First(p)).
func (c *CompositeTransform) TransformPoint(p Point) (Point, error) {
	q, err := c.First.TransformPoint(p)
	if err != nil {
		return Point{}, errors.Wrap(err, "input transform")
	}
	r, err := c.Second.TransformPoint(q)
	if err != nil {
		return Point{}, errors.Wrap(err, "output transform")
	}
	return r, nil
}

// TransformPoints evaluates a batch through both sides. A point fails when
// either side fails for it.
func (c *CompositeTransform) TransformPoints(pts []Point) ([]Point, []bool, error) {
	mid, ok1, err := c.First.TransformPoints(pts)
	if err != nil {
		return nil, nil, errors.Wrap(err, "input transform")
	}
	out, ok2, err := c.Second.TransformPoints(mid)
	if err != nil {
		return nil, nil, errors.Wrap(err, "output transform")
	}
	for i := range out {
		ok2[i] = ok2[i] && ok1[i]
		if !ok2[i] {
			out[i] = pts[i]
		}
	}
	return out, ok2, nil
}

// IsIdentity reports whether neither side changes points.
func (c *CompositeTransform) IsIdentity() bool {
	return c.First.Kind() == KindIdentity && c.Second.Kind() == KindIdentity
}

func (c *CompositeTransform) String() string {
	return c.First.String() + " -> " + c.Second.String()
}
