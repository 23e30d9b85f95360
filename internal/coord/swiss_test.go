package coord

import (
	"math"
	"testing"
)

// Control points published by swisstopo for CH1903+/LV95.
var lv95ControlPoints = []struct {
	name         string
	e, n         float64
	lon, lat     float64
	tolDeg, tolM float64
}{
	{"Bern", 2_600_000, 1_200_000, 7.438632, 46.951083, 1e-5, 5},
	{"Zurich", 2_683_474, 1_247_862, 8.5417, 47.3769, 0.005, 600},
	{"Geneva", 2_500_560, 1_118_017, 6.1432, 46.2075, 0.01, 600},
}

func TestSwissLV95ControlPoints(t *testing.T) {
	p := ForEPSG(2056)
	if p == nil {
		t.Fatal("ForEPSG(2056) = nil")
	}
	for _, cp := range lv95ControlPoints {
		t.Run(cp.name, func(t *testing.T) {
			lon, lat, err := p.ToWGS84(cp.e, cp.n)
			if err != nil {
				t.Fatalf("ToWGS84: %v", err)
			}
			if math.Abs(lon-cp.lon) > cp.tolDeg || math.Abs(lat-cp.lat) > cp.tolDeg {
				t.Errorf("ToWGS84(%v, %v) = (%.6f, %.6f), want (%.6f, %.6f)", cp.e, cp.n, lon, lat, cp.lon, cp.lat)
			}

			e, n, err := p.FromWGS84(cp.lon, cp.lat)
			if err != nil {
				t.Fatalf("FromWGS84: %v", err)
			}
			if math.Abs(e-cp.e) > cp.tolM || math.Abs(n-cp.n) > cp.tolM {
				t.Errorf("FromWGS84(%v, %v) = (%.1f, %.1f), want (%.1f, %.1f)", cp.lon, cp.lat, e, n, cp.e, cp.n)
			}
		})
	}
}

func TestSwissLV95SelfConsistency(t *testing.T) {
	s := &SwissLV95{}
	// Grid over the national territory, corners included.
	for lon := 5.96; lon <= 10.5; lon += 0.75 {
		for lat := 45.82; lat <= 47.81; lat += 0.5 {
			e, n, err := s.FromWGS84(lon, lat)
			if err != nil {
				t.Fatalf("FromWGS84(%.2f, %.2f): %v", lon, lat, err)
			}
			gotLon, gotLat, err := s.ToWGS84(e, n)
			if err != nil {
				t.Fatalf("ToWGS84(%.1f, %.1f): %v", e, n, err)
			}
			if math.Abs(gotLon-lon) > 1e-3 || math.Abs(gotLat-lat) > 1e-3 {
				t.Errorf("(%.2f, %.2f) came back as (%.6f, %.6f)", lon, lat, gotLon, gotLat)
			}
		}
	}

	e, n, err := s.FromWGS84(8.2, 46.8)
	if err != nil {
		t.Fatal(err)
	}
	lon, lat, _ := s.ToWGS84(e, n)
	e2, n2, _ := s.FromWGS84(lon, lat)
	if math.Abs(e2-e) > 2 || math.Abs(n2-n) > 2 {
		t.Errorf("LV95 round trip drifted to (%.2f, %.2f) from (%.2f, %.2f)", e2, n2, e, n)
	}
}

func TestSwissLV95Envelope(t *testing.T) {
	s := &SwissLV95{}
	if _, _, err := s.FromWGS84(125.75, 39.78); err == nil {
		t.Error("FromWGS84 in Korea succeeded, want error")
	}
	if _, _, err := s.FromWGS84(7.4, 52); err == nil {
		t.Error("FromWGS84 north of the envelope succeeded, want error")
	}
	if _, _, err := s.ToWGS84(9_000_000, 1_200_000); err == nil {
		t.Error("ToWGS84 far east of Switzerland succeeded, want error")
	}
}
