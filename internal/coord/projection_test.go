package coord

import (
	"errors"
	"math"
	"testing"
)

func TestForEPSG(t *testing.T) {
	tests := []struct {
		epsg     int
		wantNil  bool
		wantEPSG int
	}{
		{2056, false, 2056},
		{4326, false, 4326},
		{3857, false, 3857},
		{32632, false, 32632}, // UTM 32N
		{32733, false, 32733}, // UTM 33S
		{32661, true, 0},
		{21781, true, 0}, // old Swiss LV03, unsupported
		{0, true, 0},
	}
	for _, tt := range tests {
		p := ForEPSG(tt.epsg)
		if tt.wantNil {
			if p != nil {
				t.Errorf("ForEPSG(%d) = %v, want nil", tt.epsg, p)
			}
			continue
		}
		if p == nil {
			t.Fatalf("ForEPSG(%d) = nil, want non-nil", tt.epsg)
		}
		if got := p.EPSG(); got != tt.wantEPSG {
			t.Errorf("ForEPSG(%d).EPSG() = %d, want %d", tt.epsg, got, tt.wantEPSG)
		}
	}
}

func TestWGS84Identity(t *testing.T) {
	w := &WGS84Identity{}

	lon, lat := 8.5417, 47.3769 // Zurich
	gotLon, gotLat, err := w.ToWGS84(lon, lat)
	if err != nil || gotLon != lon || gotLat != lat {
		t.Errorf("ToWGS84(%v, %v) = (%v, %v, %v), want (%v, %v, nil)", lon, lat, gotLon, gotLat, err, lon, lat)
	}
	gotLon, gotLat, err = w.FromWGS84(lon, lat)
	if err != nil || gotLon != lon || gotLat != lat {
		t.Errorf("FromWGS84(%v, %v) = (%v, %v, %v), want (%v, %v, nil)", lon, lat, gotLon, gotLat, err, lon, lat)
	}
}

// TestProjectionRoundTrip verifies that ToWGS84(FromWGS84(lon, lat)) ≈ (lon, lat) for all projections.
func TestProjectionRoundTrip(t *testing.T) {
	points := [][2]float64{
		{8.5417, 47.3769}, // Zurich
		{6.6323, 46.5197}, // Lausanne
		{7.4474, 46.9480}, // Bern
		{9.3767, 47.4245}, // St. Gallen
		{8.9511, 46.0037}, // Lugano
	}

	projections := []Projection{
		&WGS84Identity{},
		&WebMercatorProj{},
		&SwissLV95{},
		ForEPSG(32632),
	}

	for _, proj := range projections {
		for _, pt := range points {
			lon, lat := pt[0], pt[1]

			x, y, err := proj.FromWGS84(lon, lat)
			if err != nil {
				t.Fatalf("EPSG:%d FromWGS84(%v, %v): %v", proj.EPSG(), lon, lat, err)
			}
			gotLon, gotLat, err := proj.ToWGS84(x, y)
			if err != nil {
				t.Fatalf("EPSG:%d ToWGS84(%v, %v): %v", proj.EPSG(), x, y, err)
			}

			// SwissLV95 uses a polynomial approximation, so allow ~1m error.
			tol := 1e-4
			if dLon := math.Abs(gotLon - lon); dLon > tol {
				t.Errorf("EPSG:%d roundtrip lon for (%.4f, %.4f): got %.6f (delta=%.2e)",
					proj.EPSG(), lon, lat, gotLon, dLon)
			}
			if dLat := math.Abs(gotLat - lat); dLat > tol {
				t.Errorf("EPSG:%d roundtrip lat for (%.4f, %.4f): got %.6f (delta=%.2e)",
					proj.EPSG(), lon, lat, gotLat, dLat)
			}
		}
	}
}

func TestWebMercatorProj_KnownValues(t *testing.T) {
	wm := &WebMercatorProj{}

	lon, lat, _ := wm.ToWGS84(0, 0)
	if math.Abs(lon) > 1e-10 || math.Abs(lat) > 1e-10 {
		t.Errorf("ToWGS84(0, 0) = (%v, %v), want (0, 0)", lon, lat)
	}

	x, y, _ := wm.FromWGS84(0, 0)
	if math.Abs(x) > 1e-6 || math.Abs(y) > 1e-6 {
		t.Errorf("FromWGS84(0, 0) = (%v, %v), want (0, ~0)", x, y)
	}

	x, _, _ = wm.FromWGS84(180, 0)
	if math.Abs(x-OriginShift) > 1 {
		t.Errorf("FromWGS84(180, 0).x = %v, want ~%v", x, OriginShift)
	}

	_, y, _ = wm.FromWGS84(0, MaxMercatorLat)
	if math.Abs(y-OriginShift) > 1 {
		t.Errorf("FromWGS84(0, MaxMercatorLat).y = %v, want ~%v", y, OriginShift)
	}

	if _, _, err := wm.FromWGS84(0, 90); err == nil {
		t.Error("FromWGS84(0, 90) succeeded, want error at the pole")
	}
}

func TestUTMKnownValues(t *testing.T) {
	utm := ForEPSG(32632) // central meridian 9°E

	x, y, err := utm.FromWGS84(9, 0)
	if err != nil {
		t.Fatalf("FromWGS84: %v", err)
	}
	if math.Abs(x-500000) > 1e-3 || math.Abs(y) > 1e-3 {
		t.Errorf("FromWGS84(9, 0) = (%.3f, %.3f), want (500000, 0)", x, y)
	}

	// Meridian arc at 45° scaled by k0 = 0.9996.
	_, y, err = utm.FromWGS84(9, 45)
	if err != nil {
		t.Fatalf("FromWGS84: %v", err)
	}
	if math.Abs(y-4982950.4) > 1 {
		t.Errorf("FromWGS84(9, 45).y = %.1f, want ~4982950.4", y)
	}
}

func TestParseProjection(t *testing.T) {
	utm32WKT := `PROJCS["WGS 84 / UTM zone 32N",GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]],PROJECTION["Transverse_Mercator"],PARAMETER["latitude_of_origin",0],PARAMETER["central_meridian",9],PARAMETER["scale_factor",0.9996],PARAMETER["false_easting",500000],PARAMETER["false_northing",0],UNIT["metre",1],AUTHORITY["EPSG","32632"]]`

	tests := []struct {
		name     string
		ref      string
		wantErr  bool
		wantEPSG int
		wantWGS  bool
	}{
		{"epsg 4326", "EPSG:4326", false, 4326, true},
		{"epsg lowercase", "epsg:3857", false, 3857, false},
		{"wgs84 wkt", WGS84WKT, false, 4326, true},
		{"utm wkt", utm32WKT, false, 32632, false},
		{"proj string", "+proj=utm +zone=32 +datum=WGS84 +units=m +no_defs", false, 0, false},
		{"empty", "", true, 0, false},
		{"garbage", "not a projection", true, 0, false},
		{"unsupported epsg", "EPSG:99999", true, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParseProjection(tt.ref)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseProjection(%q) succeeded, want error", tt.ref)
				}
				if !errors.Is(err, ErrUndefinedProjection) {
					t.Errorf("ParseProjection(%q) error = %v, want ErrUndefinedProjection", tt.ref, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseProjection(%q): %v", tt.ref, err)
			}
			if p.EPSG() != tt.wantEPSG {
				t.Errorf("EPSG() = %d, want %d", p.EPSG(), tt.wantEPSG)
			}
			if IsWGS84(p) != tt.wantWGS {
				t.Errorf("IsWGS84 = %v, want %v", IsWGS84(p), tt.wantWGS)
			}
		})
	}
}

func TestProjStringMatchesBuiltinUTM(t *testing.T) {
	p, err := ParseProjection("+proj=utm +zone=32 +datum=WGS84 +units=m +no_defs")
	if err != nil {
		t.Fatalf("ParseProjection: %v", err)
	}
	builtin := ForEPSG(32632)

	x1, y1, err := p.FromWGS84(8.5417, 47.3769)
	if err != nil {
		t.Fatal(err)
	}
	x2, y2, err := builtin.FromWGS84(8.5417, 47.3769)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(x1-x2) > 1e-6 || math.Abs(y1-y2) > 1e-6 {
		t.Errorf("proj string (%.3f, %.3f) != EPSG:32632 (%.3f, %.3f)", x1, y1, x2, y2)
	}
}

func TestProjStringEquivalentToWGS84(t *testing.T) {
	p, err := ParseProjection("+proj=longlat +datum=WGS84 +no_defs")
	if err != nil {
		t.Fatalf("ParseProjection: %v", err)
	}
	for _, pt := range [][2]float64{{125.75, 39.78}, {-74.006, 40.7128}} {
		lon, lat, err := p.ToWGS84(pt[0], pt[1])
		if err != nil || lon != pt[0] || lat != pt[1] {
			t.Errorf("ToWGS84(%v) = (%v, %v, %v), want unchanged", pt, lon, lat, err)
		}
		x, y, err := p.FromWGS84(pt[0], pt[1])
		if err != nil || x != pt[0] || y != pt[1] {
			t.Errorf("FromWGS84(%v) = (%v, %v, %v), want unchanged", pt, x, y, err)
		}
	}
}

func TestMapProjection(t *testing.T) {
	var zero MapProjection
	if zero.IsProjectionDefined() {
		t.Error("zero MapProjection reports defined")
	}
	if _, _, err := zero.Forward(0, 0); !errors.Is(err, ErrUndefinedProjection) {
		t.Errorf("zero Forward error = %v, want ErrUndefinedProjection", err)
	}

	m := NewMapProjection("EPSG:2056")
	if !m.IsProjectionDefined() {
		t.Fatal("EPSG:2056 not defined")
	}
	if m.IsGeographic() {
		t.Error("EPSG:2056 reported as geographic")
	}
	e, n, err := m.Forward(7.438632, 46.951083)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if math.Abs(e-2_600_000) > 100 || math.Abs(n-1_200_000) > 100 {
		t.Errorf("Forward(Bern) = (%.1f, %.1f), want ~(2600000, 1200000)", e, n)
	}
	lon, lat, err := m.Inverse(e, n)
	if err != nil {
		t.Fatalf("Inverse: %v", err)
	}
	if math.Abs(lon-7.438632) > 1e-4 || math.Abs(lat-46.951083) > 1e-4 {
		t.Errorf("Inverse = (%.6f, %.6f), want Bern", lon, lat)
	}

	// A failed redefinition leaves the projection undefined.
	if err := m.SetDefinition("bogus"); err == nil {
		t.Error("SetDefinition(bogus) succeeded")
	}
	if m.IsProjectionDefined() {
		t.Error("projection still defined after failed SetDefinition")
	}
	if m.Definition() != "bogus" {
		t.Errorf("Definition() = %q, want bogus", m.Definition())
	}
}
