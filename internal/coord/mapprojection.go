package coord

import "github.com/pkg/errors"

// MapProjection wraps a cartographic projection definition.
// Forward maps geographic WGS84 lon/lat to projected X/Y, Inverse the reverse.
// The zero value is undefined.
type MapProjection struct {
	def  string
	proj Projection
}

// NewMapProjection returns a MapProjection for def. The result may be
// undefined; check IsProjectionDefined.
func NewMapProjection(def string) *MapProjection {
	m := &MapProjection{}
	_ = m.SetDefinition(def)
	return m
}

// SetDefinition replaces the definition. On failure the projection becomes
// undefined and the parse error is returned.
func (m *MapProjection) SetDefinition(def string) error {
	m.def = def
	p, err := ParseProjection(def)
	if err != nil {
		m.proj = nil
		return err
	}
	m.proj = p
	return nil
}

// IsProjectionDefined reports whether the last SetDefinition succeeded.
func (m *MapProjection) IsProjectionDefined() bool { return m != nil && m.proj != nil }

// Definition returns the definition string as given.
func (m *MapProjection) Definition() string { return m.def }

// Projection returns the underlying projection, or nil when undefined.
func (m *MapProjection) Projection() Projection { return m.proj }

// IsGeographic reports whether the projection is plain WGS84 lon/lat.
func (m *MapProjection) IsGeographic() bool {
	return m.IsProjectionDefined() && IsWGS84(m.proj)
}

// Forward converts WGS84 lon/lat to projected X/Y.
func (m *MapProjection) Forward(lon, lat float64) (x, y float64, err error) {
	if !m.IsProjectionDefined() {
		return 0, 0, ErrUndefinedProjection
	}
	x, y, err = m.proj.FromWGS84(lon, lat)
	return x, y, errors.Wrap(err, "map projection forward")
}

// Inverse converts projected X/Y to WGS84 lon/lat.
func (m *MapProjection) Inverse(x, y float64) (lon, lat float64, err error) {
	if !m.IsProjectionDefined() {
		return 0, 0, ErrUndefinedProjection
	}
	lon, lat, err = m.proj.ToWGS84(x, y)
	return lon, lat, errors.Wrap(err, "map projection inverse")
}
